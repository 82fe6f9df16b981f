// Package utrunner is the ut-runner service: it executes a plan of test runs
// against a database test engine, once or periodically, reports the results
// and optionally serves the run observer API.
package utrunner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum-optimism/optimism/op-service/cliapp"

	"github.com/ethereum-optimism/infra/ut-runner/engine"
	"github.com/ethereum-optimism/infra/ut-runner/metrics"
	"github.com/ethereum-optimism/infra/ut-runner/runner"
	"github.com/ethereum-optimism/infra/ut-runner/service"
)

var _ cliapp.Lifecycle = &utRunner{}

type utRunner struct {
	config      *Config
	version     string
	closeEngine func()
	session     *runner.Session
	progress    *runner.ConsoleProgressIndicator
	scheduler   *PlanScheduler
	reporter    Reporter
	api         *service.APIServer

	mu     sync.Mutex
	result *PlanResult

	running atomic.Bool

	shutdownCallback func(error)
}

// New connects the configured engine and prepares the service
func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*utRunner, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.Engine == nil {
		return nil, errors.New("engine config is required")
	}
	eng, closeEngine, err := BuildEngine(ctx, config.Engine, config.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	u, err := newWithEngine(config, version, eng, os.Stdout, shutdownCallback)
	if err != nil {
		closeEngine()
		return nil, err
	}
	u.closeEngine = closeEngine
	return u, nil
}

func newWithEngine(config *Config, version string, eng engine.Engine, out io.Writer, shutdownCallback func(error)) (*utRunner, error) {
	config.Log.Debug("Creating ut-runner with config",
		"engine", config.Engine.Kind,
		"runs", len(config.Runs),
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce,
		"eventTimeout", config.EventTimeout)

	if len(config.Runs) == 0 {
		return nil, errors.New("no runs configured")
	}

	u := &utRunner{
		config:           config,
		version:          version,
		closeEngine:      func() {},
		scheduler:        NewPlanScheduler(config.RunInterval, config.RunOnce, config.Log),
		reporter:         NewConsoleReporter(out, config.Log),
		shutdownCallback: shutdownCallback,
	}

	var progress runner.ProgressIndicator = runner.NewNoOpProgressIndicator()
	if config.ShowProgress {
		u.progress = runner.NewConsoleProgressIndicator(config.Log, config.ProgressInterval)
		progress = u.progress
	}

	session, err := runner.NewSession(runner.SessionConfig{
		Engine:       eng,
		Log:          config.Log,
		EventTimeout: config.EventTimeout,
		Progress:     progress,
		Coverage:     NewFileCoverageHandler(config.CoverageDir, config.Log),
		HistorySize:  config.HistorySize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	u.session = session

	if config.ObserverAddr != "" {
		u.api = service.NewAPIServer(session, config.Log.New("component", "observer"))
	}
	return u, nil
}

// Start runs the plan immediately and, in continuous mode, schedules later passes.
// Start implements the cliapp.Lifecycle interface.
func (u *utRunner) Start(ctx context.Context) error {
	u.running.Store(true)

	if u.config.RunOnce {
		u.config.Log.Info("Starting ut-runner in run-once mode", "version", u.version)
	} else {
		u.config.Log.Info("Starting ut-runner in continuous mode", "version", u.version, "interval", u.config.RunInterval)
	}

	if u.api != nil {
		go func() {
			if err := u.api.Start(u.config.ObserverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				u.config.Log.Error("error starting observer api", "err", err)
				metrics.RecordErrorDetails("observer_api", err)
			}
		}()
	}

	u.scheduler.RegisterCallback(u.runPlan)
	if err := u.scheduler.Start(ctx); err != nil {
		u.config.Log.Error("Runtime error running plan", "error", err)
		if !IsRuntimeError(err) {
			err = NewRuntimeError(err)
		}
		return err
	}

	if u.config.RunOnce {
		if res := u.Result(); res != nil && len(res.FailingRuns()) > 0 {
			u.config.Log.Warn("Run-once plan completed with failures, returning exit code 1")
			return NewTestFailureError(res.String())
		}
		go func() {
			u.shutdownCallback(nil)
		}()
	}
	return nil
}

// runPlan executes every configured run in order and reports it
func (u *utRunner) runPlan(ctx context.Context) error {
	u.config.Log.Info("Running plan", "runs", len(u.config.Runs))
	started := time.Now()
	result := &PlanResult{}

	var runErr error
runs:
	for _, req := range u.config.Runs {
		ctrl, err := u.session.Start(req)
		if err != nil && !errors.Is(err, runner.ErrEngineUnavailable) {
			runErr = NewRuntimeError(fmt.Errorf("starting run: %w", err))
			break
		}

		select {
		case <-ctrl.Ready():
		case <-ctx.Done():
			ctrl.Cancel()
			runErr = NewRuntimeError(fmt.Errorf("plan aborted: %w", ctx.Err()))
			break runs
		}

		snap := ctrl.Snapshot()
		u.reporter.ReportRun(snap)
		result.Runs = append(result.Runs, snap)
		u.config.Log.Info("Run completed", "run", snap.RunID, "title", snap.Title, "state", snap.State, "failing", snap.Failing)

		if snap.State == runner.StateUnavailable {
			// later runs would fail the same version check
			break
		}
	}
	result.Duration = time.Since(started)

	u.mu.Lock()
	u.result = result
	u.mu.Unlock()

	u.reporter.ReportPlan(result)
	if runErr != nil {
		return runErr
	}
	return result.Err()
}

// Result returns the outcome of the latest plan pass
func (u *utRunner) Result() *PlanResult {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.result
}

// Stop stops scheduling, waits for in-flight runs until ctx expires and then
// interrupts whatever is left.
// Stop implements the cliapp.Lifecycle interface.
func (u *utRunner) Stop(ctx context.Context) error {
	if !u.running.CompareAndSwap(true, false) {
		u.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}
	u.config.Log.Info("Stopping ut-runner")

	_ = u.scheduler.Stop()
	if u.session.Running() {
		u.config.Log.Info("Waiting for in-flight runs to finish")
	}
	if err := u.session.Wait(ctx); err != nil {
		u.config.Log.Warn("Stopping with runs still in progress", "err", err)
	}
	u.session.Close()
	_ = u.scheduler.WaitForShutdown(ctx)

	if u.progress != nil {
		u.progress.Stop()
	}
	if u.api != nil {
		if err := u.api.Shutdown(ctx); err != nil {
			u.config.Log.Warn("Observer api shutdown failed", "err", err)
		}
	}
	u.closeEngine()

	u.config.Log.Info("ut-runner stopped successfully")
	return nil
}

// Health reports the state of the run session
func (u *utRunner) Health() runner.Health {
	return u.session.Health()
}

// Stopped implements the cliapp.Lifecycle interface.
func (u *utRunner) Stopped() bool {
	return !u.running.Load()
}
