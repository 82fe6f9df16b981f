package utrunner

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/ut-runner/engine"
	"github.com/ethereum-optimism/infra/ut-runner/flags"
	"github.com/ethereum-optimism/infra/ut-runner/runner"
	"github.com/ethereum-optimism/infra/ut-runner/types"
)

// Config holds the application configuration
type Config struct {
	EngineConfigPath string
	Engine           *EngineConfig
	Runs             []runner.Request // Executed in order on every scheduler tick
	EventTimeout     time.Duration    // Silence after which a run is interrupted, 0 disables
	RunInterval      time.Duration    // Interval between plan runs
	RunOnce          bool             // Exit after one plan run
	ShowProgress     bool
	ProgressInterval time.Duration
	HistorySize      int    // Finished runs kept for the observer API
	ObserverAddr     string // Empty disables the observer API
	CoverageDir      string
	Log              log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	enginePath, err := filepath.Abs(ctx.String(flags.EngineConfig.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for engine config: %w", err)
	}
	engineCfg, err := LoadEngineConfig(enginePath)
	if err != nil {
		return nil, err
	}

	runs, err := runsFromContext(ctx)
	if err != nil {
		return nil, err
	}

	eventTimeout := ctx.Duration(flags.EventTimeout.Name)
	if eventTimeout < 0 {
		return nil, errors.New("event timeout must not be negative")
	}
	runInterval := ctx.Duration(flags.RunInterval.Name)
	if runInterval < 0 {
		return nil, errors.New("run interval must not be negative")
	}

	coverageDir := ctx.String(flags.CoverageDir.Name)
	if coverageDir == "" {
		coverageDir = os.TempDir()
	}
	coverageDir, err = filepath.Abs(coverageDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for coverage directory '%s': %w", coverageDir, err)
	}

	return &Config{
		EngineConfigPath: enginePath,
		Engine:           engineCfg,
		Runs:             runs,
		EventTimeout:     eventTimeout,
		RunInterval:      runInterval,
		RunOnce:          runInterval == 0,
		ShowProgress:     ctx.Bool(flags.ShowProgress.Name),
		ProgressInterval: ctx.Duration(flags.ProgressInterval.Name),
		HistorySize:      ctx.Int(flags.HistorySize.Name),
		ObserverAddr:     ctx.String(flags.ObserverAddr.Name),
		CoverageDir:      coverageDir,
		Log:              log,
	}, nil
}

// runsFromContext reads the plan file or, without one, builds a single run
// from the scope flags.
func runsFromContext(ctx *cli.Context) ([]runner.Request, error) {
	if path := ctx.String(flags.Plan.Name); path != "" {
		plan, err := LoadPlan(path)
		if err != nil {
			return nil, err
		}
		return plan.Runs, nil
	}

	req := runner.Request{
		Scope: types.Scope{
			Kind:      types.ParseScopeKind(ctx.String(flags.ScopeType.Name)),
			Owner:     ctx.String(flags.Owner.Name),
			Name:      ctx.String(flags.Name.Name),
			Procedure: ctx.String(flags.Procedure.Name),
		},
		Paths:    ctx.StringSlice(flags.Paths.Name),
		Coverage: ctx.Bool(flags.Coverage.Name),
		CoverageOptions: engine.CoverageOptions{
			Schemas:  types.SplitList(ctx.String(flags.CoverageSchemas.Name)),
			Includes: types.SplitList(ctx.String(flags.CoverageIncludes.Name)),
			Excludes: types.SplitList(ctx.String(flags.CoverageExcludes.Name)),
		},
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scope: %w", err)
	}
	return []runner.Request{req}, nil
}
