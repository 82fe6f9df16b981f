package flags

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	opflags "github.com/ethereum-optimism/optimism/op-service/flags"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const EnvVarPrefix = "UT_RUNNER"

var (
	EngineConfig = &cli.StringFlag{
		Name:     "engine-config",
		Value:    "",
		Required: true,
		EnvVars:  opservice.PrefixEnvVar(EnvVarPrefix, "ENGINE_CONFIG"),
		Usage:    "Path to the engine config file (eg. 'engine.toml')",
	}
	Plan = &cli.StringFlag{
		Name:    "plan",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PLAN"),
		Usage:   "Path to a run plan listing the scopes to run (eg. 'plan.yaml'). Overrides the scope flags.",
	}
	ScopeType = &cli.StringFlag{
		Name:    "scope-type",
		Value:   "PACKAGE",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SCOPE_TYPE"),
		Usage:   "Kind of objects to run: USER, PACKAGE, PROCEDURE or anything else for all tests of the owner",
	}
	Owner = &cli.StringFlag{
		Name:    "owner",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "OWNER"),
		Usage:   "Schema owning the tests",
	}
	Name = &cli.StringFlag{
		Name:    "name",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "NAME"),
		Usage:   "User or package name of the scope",
	}
	Procedure = &cli.StringFlag{
		Name:    "procedure",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PROCEDURE"),
		Usage:   "Test procedure, for PROCEDURE scopes",
	}
	Paths = &cli.StringSliceFlag{
		Name:    "path",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PATH"),
		Usage:   "Explicit suite paths to run instead of the scope path. Can be repeated.",
	}
	Coverage = &cli.BoolFlag{
		Name:    "coverage",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "COVERAGE"),
		Usage:   "Collect code coverage and write the HTML report",
	}
	CoverageSchemas = &cli.StringFlag{
		Name:    "coverage-schemas",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "COVERAGE_SCHEMAS"),
		Usage:   "Schemas to instrument, separated by spaces, commas or newlines",
	}
	CoverageIncludes = &cli.StringFlag{
		Name:    "coverage-include",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "COVERAGE_INCLUDE"),
		Usage:   "Objects to include in coverage, separated by spaces, commas or newlines",
	}
	CoverageExcludes = &cli.StringFlag{
		Name:    "coverage-exclude",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "COVERAGE_EXCLUDE"),
		Usage:   "Objects to exclude from coverage, separated by spaces, commas or newlines",
	}
	CoverageDir = &cli.StringFlag{
		Name:    "coverage-dir",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "COVERAGE_DIR"),
		Usage:   "Directory receiving coverage reports. Defaults to the system temp directory.",
	}
	EventTimeout = &cli.DurationFlag{
		Name:    "event-timeout",
		Value:   10 * time.Minute,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "EVENT_TIMEOUT"),
		Usage:   "Interrupt a run when the engine sends no event for this long. 0 disables the timeout.",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_INTERVAL"),
		Usage:   "Interval between plan runs (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	ShowProgress = &cli.BoolFlag{
		Name:    "show-progress",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SHOW_PROGRESS"),
		Usage:   "Log periodic progress updates while runs are in flight",
	}
	ProgressInterval = &cli.DurationFlag{
		Name:    "progress-interval",
		Value:   30 * time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PROGRESS_INTERVAL"),
		Usage:   "Interval between progress updates when --show-progress is set",
	}
	HistorySize = &cli.IntFlag{
		Name:    "history-size",
		Value:   64,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HISTORY_SIZE"),
		Usage:   "Number of finished runs kept for the observer API",
	}
	ObserverAddr = &cli.StringFlag{
		Name:    "observer-addr",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "OBSERVER_ADDR"),
		Usage:   "Listen address of the run observer API (eg. '0.0.0.0:8090'). Empty disables it.",
	}
)

var requiredFlags = []cli.Flag{
	EngineConfig,
}

var optionalFlags = []cli.Flag{
	Plan,
	ScopeType,
	Owner,
	Name,
	Procedure,
	Paths,
	Coverage,
	CoverageSchemas,
	CoverageIncludes,
	CoverageExcludes,
	CoverageDir,
	EventTimeout,
	RunInterval,
	ShowProgress,
	ProgressInterval,
	HistorySize,
	ObserverAddr,
}
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return opflags.CheckRequiredXor(ctx)
}
