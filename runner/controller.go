package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ethereum-optimism/infra/ut-runner/engine"
	"github.com/ethereum-optimism/infra/ut-runner/metrics"
	"github.com/ethereum-optimism/infra/ut-runner/types"
)

var (
	// ErrEventTimeout is the cause of an interruption by the idle watchdog
	ErrEventTimeout = errors.New("no engine event within timeout")
	// ErrRunCancelled is the cause of an interruption by Cancel
	ErrRunCancelled = errors.New("run cancelled")
)

// CoverageHandler receives the coverage report of a finished coverage run
type CoverageHandler interface {
	HandleCoverage(ctx context.Context, runID string, report string) error
}

// CoverageHandlerFunc adapts a function to the CoverageHandler interface
type CoverageHandlerFunc func(ctx context.Context, runID string, report string) error

func (f CoverageHandlerFunc) HandleCoverage(ctx context.Context, runID string, report string) error {
	return f(ctx, runID, report)
}

// Request describes what a run executes
type Request struct {
	Scope           types.Scope            `yaml:"scope" json:"scope"`
	Paths           []string               `yaml:"paths,omitempty" json:"paths,omitempty"` // defaults to the scope path
	Coverage        bool                   `yaml:"coverage,omitempty" json:"coverage,omitempty"`
	CoverageOptions engine.CoverageOptions `yaml:"coverageOptions,omitempty" json:"coverageOptions,omitempty"`
}

// ResolvedPaths returns the explicit paths or the path of the scope
func (r Request) ResolvedPaths() []string {
	if len(r.Paths) > 0 {
		return r.Paths
	}
	if path := r.Scope.Path(); path != "" {
		return []string{path}
	}
	return nil
}

// Title returns the display title of a run of this request started at start
func (r Request) Title(start time.Time) string {
	if len(r.Paths) > 0 && r.Scope.Path() == "" {
		return fmt.Sprintf("%s %s", strings.Join(r.Paths, ","), start.Format(time.DateTime))
	}
	return r.Scope.Title(start)
}

// Validate checks that the request names something to run
func (r Request) Validate() error {
	if len(r.Paths) > 0 {
		return nil
	}
	return r.Scope.Validate()
}

// Config holds configuration for creating a new controller
type Config struct {
	Engine engine.Engine
	Log    log.Logger
	// RunID identifies the run; a random id is generated if empty
	RunID string
	// EventTimeout interrupts a run after this much silence from the engine; 0 disables it
	EventTimeout time.Duration
	Progress     ProgressIndicator
	Coverage     CoverageHandler
	// PublishInterval is the minimum time between snapshots sent to subscribers
	PublishInterval time.Duration
}

// Controller drives a single run: version check, reset, execute, drain and publish.
type Controller struct {
	engine       engine.Engine
	log          log.Logger
	runID        string
	reporterID   string
	eventTimeout time.Duration
	progress     ProgressIndicator
	coverage     CoverageHandler
	tracer       trace.Tracer
	bc           *broadcaster

	started atomic.Bool
	running atomic.Bool
	ready   chan struct{}
	cancel  context.CancelCauseFunc

	mu            sync.RWMutex
	req           Request
	state         State
	store         *ResultStore
	tracker       *Tracker
	preRun        bool
	overflowNoted bool
	finished      bool
	title         string
	engineVersion string
	startedAt     time.Time
	version       uint64
	err           error
}

// NewController creates a controller in the idle state
func NewController(cfg Config) (*Controller, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.New().String()
	}
	if cfg.Progress == nil {
		cfg.Progress = NewNoOpProgressIndicator()
	}
	if cfg.EventTimeout < 0 {
		return nil, fmt.Errorf("event timeout must not be negative")
	}
	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = DefaultPublishInterval
	}

	c := &Controller{
		engine:       cfg.Engine,
		log:          cfg.Log.New("run", cfg.RunID),
		runID:        cfg.RunID,
		reporterID:   newReporterID(),
		eventTimeout: cfg.EventTimeout,
		progress:     cfg.Progress,
		coverage:     cfg.Coverage,
		tracer:       otel.Tracer("run controller"),
		ready:        make(chan struct{}),
		state:        StateIdle,
		store:        NewResultStore(nil),
		tracker:      NewTracker(0),
	}
	c.bc = newBroadcaster(c.Snapshot, cfg.PublishInterval)
	return c, nil
}

// newReporterID returns an id in the engine's GUID format: 32 upper-case hex digits
func newReporterID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))
}

func (c *Controller) ID() string {
	return c.runID
}

// ReporterID is the id under which the engine publishes the events of this run
func (c *Controller) ReporterID() string {
	return c.reporterID
}

func (c *Controller) Request() Request {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.req
}

// EngineVersion returns the version the engine reported when the run started
func (c *Controller) EngineVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.engineVersion
}

func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Running reports whether a run has been started and is not ready yet
func (c *Controller) Running() bool {
	return c.running.Load()
}

// Ready is closed once the run reached a terminal state and any coverage
// report has been handed off.
func (c *Controller) Ready() <-chan struct{} {
	return c.ready
}

// Err returns the error that ended the run, if any
func (c *Controller) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Wait blocks until the run is ready or ctx is done
func (c *Controller) Wait(ctx context.Context) error {
	select {
	case <-c.ready:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel interrupts a started run. It is a no-op before Start and after the run ended.
func (c *Controller) Cancel() {
	c.mu.RLock()
	cancel := c.cancel
	c.mu.RUnlock()
	if cancel != nil {
		cancel(ErrRunCancelled)
	}
}

// Subscribe returns a subscription that immediately holds the current snapshot
func (c *Controller) Subscribe() *Subscription {
	return c.bc.subscribe()
}

// Snapshot returns a consistent copy of the run state
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		RunID:           c.runID,
		Title:           c.title,
		Paths:           append([]string(nil), c.req.ResolvedPaths()...),
		Coverage:        c.req.Coverage,
		CoverageOptions: c.req.CoverageOptions.Clone(),
		State:           c.state,
		StatusText:      c.state.StatusText(c.req.Coverage),
		Total:           c.tracker.Total(),
		Completed:       c.tracker.DisplayCompleted(),
		Ratio:           c.tracker.Ratio(),
		Failing:         c.tracker.Failing(),
		Records:         c.store.Records(),
		Version:         c.version,
		StartedAt:       c.startedAt,
	}
	if summary, ok := c.tracker.Summary(); ok {
		snap.Summary = &summary
	}
	if c.err != nil {
		snap.Error = c.err.Error()
	}
	snap.Ready = c.finished
	return snap
}

func (c *Controller) publish() {
	c.bc.notify()
}

// Start checks the engine version and, if it answers, launches the run.
// It returns once the run has been dispatched; use Wait or Ready to follow it.
// ctx bounds the version check and the whole run.
func (c *Controller) Start(ctx context.Context, req Request) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid run request: %w", err)
	}
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	c.running.Store(true)
	metrics.RecordRunStarted()

	ctx, span := c.tracer.Start(ctx, fmt.Sprintf("run %s", c.runID))
	span.SetAttributes(
		attribute.String("run.id", c.runID),
		attribute.StringSlice("run.paths", req.ResolvedPaths()),
		attribute.Bool("run.coverage", req.Coverage),
	)

	c.mu.Lock()
	c.req = req
	c.mu.Unlock()

	version, err := c.engine.Version(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrEngineUnavailable, err)
		c.log.Error("Engine version check failed", "err", err)
		metrics.RecordErrorDetails("version_check", err)
		c.mu.Lock()
		c.state = StateUnavailable
		c.err = err
		c.version++
		c.mu.Unlock()
		c.end(span, StateUnavailable, err)
		return err
	}
	c.log.Info("Starting run", "engineVersion", version, "paths", req.ResolvedPaths(), "coverage", req.Coverage)

	// reset before any task can deliver an event
	startedAt := time.Now()
	c.mu.Lock()
	c.state = StateStarting
	c.store = NewResultStore(nil)
	c.tracker = NewTracker(0)
	c.preRun = false
	c.overflowNoted = false
	c.startedAt = startedAt
	c.title = req.Title(startedAt)
	c.engineVersion = version
	c.err = nil
	c.version++
	c.mu.Unlock()

	runCtx, cancel := context.WithCancelCause(ctx)
	g, gctx := errgroup.WithContext(runCtx)

	c.mu.Lock()
	c.cancel = cancel
	c.state = StateRunning
	c.version++
	c.mu.Unlock()
	c.publish()

	g.Go(func() error {
		return c.produce(gctx)
	})
	g.Go(func() error {
		return c.drain(gctx)
	})
	go func() {
		err := g.Wait()
		c.finish(runCtx, span, err)
		cancel(nil)
	}()

	return nil
}

// produce dispatches the blocking execution call
func (c *Controller) produce(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "execute")
	defer span.End()

	req := c.Request()
	var err error
	if req.Coverage {
		err = c.engine.RunTestsWithCoverage(ctx, c.reporterID, req.ResolvedPaths(), req.CoverageOptions)
	} else {
		err = c.engine.RunTests(ctx, c.reporterID, req.ResolvedPaths())
	}
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("executing tests: %w", err)
	}
	c.log.Debug("Engine finished executing tests")
	return nil
}

// drain consumes the event source until post-run, an error, or cancellation
func (c *Controller) drain(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "drain")
	defer span.End()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var watchdog *time.Timer
	if c.eventTimeout > 0 {
		watchdog = time.AfterFunc(c.eventTimeout, func() {
			cancel(ErrEventTimeout)
		})
		defer watchdog.Stop()
	}

	src := c.engine.Events(c.reporterID)
	err := src.Consume(ctx, func(ev types.Event) {
		if watchdog != nil {
			watchdog.Reset(c.eventTimeout)
		}
		c.handleEvent(ev)
	})

	c.mu.RLock()
	done := c.tracker.Done()
	c.mu.RUnlock()
	if done {
		if err != nil {
			c.log.Debug("Event source returned after post-run", "err", err)
		}
		return nil
	}

	if err == nil {
		err = engine.ErrStreamClosed
	} else if ctx.Err() != nil {
		if cause := context.Cause(ctx); cause != nil {
			err = cause
		}
	}
	span.RecordError(err)
	return &StreamInterruptedError{Cause: err}
}

// handleEvent applies one event. Only the drain goroutine calls it.
func (c *Controller) handleEvent(ev types.Event) {
	metrics.RecordEvent(ev.Type)

	c.mu.Lock()
	changed := c.applyLocked(ev)
	if changed {
		c.version++
	}
	c.mu.Unlock()

	if changed {
		c.publish()
	}
}

func (c *Controller) applyLocked(ev types.Event) bool {
	if c.tracker.Done() {
		c.log.Warn("Ignoring event after post-run", "type", ev.Type)
		return false
	}

	switch ev.Type {
	case types.EventPreRun:
		if c.preRun {
			c.log.Warn("Ignoring repeated pre-run event")
			return false
		}
		records := BuildRecords(ev.Items)
		c.store = NewResultStore(records)
		if dups := c.store.Duplicates(); len(dups) > 0 {
			c.log.Warn("Duplicate test ids announced", "ids", dups)
		}
		c.tracker = NewTracker(ev.TotalNumberOfTests)
		c.preRun = true
		c.state = StateDraining
		if ev.TotalNumberOfTests != len(records) {
			c.log.Debug("Announced total differs from test tree", "total", ev.TotalNumberOfTests, "records", len(records))
		}
		c.progress.StartRun(c.runID, c.title, ev.TotalNumberOfTests)
		return true

	case types.EventPostTest:
		if ev.Test == nil {
			c.log.Warn("Ignoring post-test event without outcome")
			return false
		}
		c.tracker.ObservePostTest()
		rec, err := c.store.Apply(ev.Test)
		if err != nil {
			c.log.Warn("Failed to apply test outcome", "err", err)
			metrics.RecordMissingRecord()
		} else {
			metrics.RecordTest(rec.Status)
			c.progress.CompleteTest(c.runID, rec)
		}
		if c.tracker.Overflow() && !c.overflowNoted {
			c.overflowNoted = true
			c.log.Warn("More tests completed than announced", "completed", c.tracker.Completed(), "total", c.tracker.Total())
		}
		metrics.RecordProgress(c.runID, c.tracker.Ratio())
		return true

	case types.EventPostRun:
		var summary types.RunSummary
		if ev.Run != nil {
			summary = *ev.Run
		}
		c.tracker.ObservePostRun(summary)
		state, _ := c.tracker.Terminal()
		c.state = state
		metrics.RecordRunSummary(strings.Join(c.req.ResolvedPaths(), ","), summary)
		c.progress.CompleteRun(c.runID, state, summary)
		return true

	default:
		c.log.Warn("Ignoring event of unknown type", "type", ev.Type)
		return false
	}
}

// finish settles the terminal state, hands off coverage and signals readiness
func (c *Controller) finish(ctx context.Context, span trace.Span, runErr error) {
	c.mu.Lock()
	if !c.state.Terminal() {
		c.state = StateInterrupted
		if ctx.Err() != nil {
			// cancelled from outside the task group
			runErr = context.Cause(ctx)
		}
		if runErr == nil {
			runErr = &StreamInterruptedError{}
		}
		var interrupted *StreamInterruptedError
		if !errors.As(runErr, &interrupted) {
			runErr = &StreamInterruptedError{Cause: runErr}
		}
		c.err = runErr
	} else if runErr != nil {
		c.log.Warn("Run reached terminal state but a task failed", "err", runErr)
	}
	state := c.state
	c.version++
	c.mu.Unlock()

	if state == StateInterrupted {
		c.log.Error("Run interrupted", "err", runErr)
		metrics.RecordErrorDetails("run", runErr)
	}

	c.mu.RLock()
	coverage := c.req.Coverage && c.tracker.Done()
	c.mu.RUnlock()
	if coverage {
		c.publish()
		if err := c.collectCoverage(ctx); err != nil {
			c.log.Error("Failed to collect coverage report", "err", err)
			metrics.RecordErrorDetails("coverage", err)
			c.mu.Lock()
			c.err = err
			c.version++
			c.mu.Unlock()
		}
	}

	c.end(span, state, c.Err())
}

func (c *Controller) collectCoverage(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "coverage report")
	defer span.End()

	report, err := c.engine.CoverageReport(ctx, c.reporterID)
	if err != nil {
		return fmt.Errorf("coverage report: %w", err)
	}
	if c.coverage == nil {
		c.log.Debug("No coverage handler configured, discarding report", "bytes", len(report))
		return nil
	}
	if err := c.coverage.HandleCoverage(ctx, c.runID, report); err != nil {
		return fmt.Errorf("coverage report: %w", err)
	}
	return nil
}

// end closes Ready, publishes the final snapshot and releases subscribers
func (c *Controller) end(span trace.Span, state State, err error) {
	c.mu.Lock()
	c.finished = true
	c.version++
	c.mu.Unlock()

	metrics.RecordRunFinished(c.runID, string(state))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("run.state", string(state)))
	span.End()

	// subscribers hold the final snapshot before Ready closes
	c.bc.close()
	c.running.Store(false)
	close(c.ready)
	c.log.Info("Run ready", "state", state)
}
