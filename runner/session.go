package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ethereum-optimism/infra/ut-runner/engine"
	"github.com/ethereum-optimism/infra/ut-runner/types"
)

const DefaultHistorySize = 64

var (
	ErrRunNotFound       = errors.New("run not found")
	ErrRecordNotFound    = errors.New("record not found")
	ErrNoSourceOpener    = errors.New("no source opener configured")
	ErrSessionClosed     = errors.New("session closed")
	ErrRecordNotRunnable = errors.New("record has no procedure to run")
)

// SourceOpener navigates to the source of the package that defines a test
type SourceOpener interface {
	OpenSource(ctx context.Context, owner string, objectName string) error
}

// EngineCheck is the outcome of the latest engine version check
type EngineCheck struct {
	CheckedAt time.Time `json:"checkedAt"`
	Version   string    `json:"version,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Health summarises a session for health reporting
type Health struct {
	Closed     bool         `json:"closed"`
	ActiveRuns int          `json:"activeRuns"`
	Running    bool         `json:"running"`
	Remembered int          `json:"remembered"`
	Engine     *EngineCheck `json:"engine,omitempty"`
}

// SessionConfig holds configuration for creating a new session
type SessionConfig struct {
	Engine       engine.Engine
	Log          log.Logger
	EventTimeout time.Duration
	Progress     ProgressIndicator
	Coverage     CoverageHandler
	Opener       SourceOpener
	// HistorySize bounds how many finished runs are remembered
	HistorySize int
}

// Session starts independent runs against one engine and remembers the
// snapshots of finished ones.
type Session struct {
	cfg     SessionConfig
	log     log.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	history *lru.Cache[string, Snapshot]

	mu     sync.RWMutex
	active map[string]*Controller
	// idle is closed whenever active becomes empty
	idle   chan struct{}
	closed bool
	engine *EngineCheck
}

func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	history, err := lru.New[string, Snapshot](cfg.HistorySize)
	if err != nil {
		return nil, fmt.Errorf("creating run history: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	return &Session{
		cfg:     cfg,
		log:     cfg.Log,
		ctx:     ctx,
		cancel:  cancel,
		history: history,
		active:  make(map[string]*Controller),
		idle:    idle,
	}, nil
}

// Start launches a new run on its own controller. The run outlives the caller's
// request; it ends on its own, through Cancel, or when the session is closed.
// A run whose engine version check failed is returned together with the error and kept
// in the history.
func (s *Session) Start(req Request) (*Controller, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run request: %w", err)
	}
	ctrl, err := NewController(Config{
		Engine:       s.cfg.Engine,
		Log:          s.log,
		EventTimeout: s.cfg.EventTimeout,
		Progress:     s.cfg.Progress,
		Coverage:     s.cfg.Coverage,
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if len(s.active) == 0 {
		s.idle = make(chan struct{})
	}
	s.active[ctrl.ID()] = ctrl
	s.mu.Unlock()

	err = ctrl.Start(s.ctx, req)
	s.recordEngineCheck(ctrl, err)
	go s.retire(ctrl)
	return ctrl, err
}

func (s *Session) recordEngineCheck(ctrl *Controller, err error) {
	check := &EngineCheck{CheckedAt: time.Now()}
	switch {
	case err == nil:
		check.Version = ctrl.EngineVersion()
	case errors.Is(err, ErrEngineUnavailable):
		check.Error = err.Error()
	default:
		return
	}
	s.mu.Lock()
	s.engine = check
	s.mu.Unlock()
}

// retire moves a controller into the history once it is ready
func (s *Session) retire(ctrl *Controller) {
	<-ctrl.Ready()
	s.mu.Lock()
	delete(s.active, ctrl.ID())
	s.history.Add(ctrl.ID(), ctrl.Snapshot())
	if len(s.active) == 0 {
		close(s.idle)
	}
	s.mu.Unlock()
}

// RerunRecord starts a new run of the single procedure behind a record
func (s *Session) RerunRecord(runID string, recordID string, coverage bool) (*Controller, error) {
	snap, ok := s.Lookup(runID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	rec, ok := snap.Record(recordID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, recordID)
	}
	if rec.Owner == "" || rec.Package == "" || rec.Procedure == "" {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotRunnable, recordID)
	}

	req := Request{
		Scope: types.Scope{
			Kind:      types.ScopeProcedure,
			Owner:     rec.Owner,
			Name:      rec.Package,
			Procedure: rec.Procedure,
		},
		Coverage:        coverage,
		CoverageOptions: snap.CoverageOptions,
	}
	s.log.Info("Rerunning test", "run", runID, "record", recordID, "path", req.Scope.Path())
	return s.Start(req)
}

// OpenSource asks the configured opener to show the package of a record
func (s *Session) OpenSource(ctx context.Context, runID string, recordID string) error {
	if s.cfg.Opener == nil {
		return ErrNoSourceOpener
	}
	snap, ok := s.Lookup(runID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	rec, ok := snap.Record(recordID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, recordID)
	}
	if err := s.cfg.Opener.OpenSource(ctx, rec.Owner, rec.Package); err != nil {
		return fmt.Errorf("opening source of %s.%s: %w", rec.Owner, rec.Package, err)
	}
	return nil
}

// Get returns an active controller
func (s *Session) Get(runID string) (*Controller, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ctrl, ok := s.active[runID]
	return ctrl, ok
}

// Lookup returns the current snapshot of an active or remembered run
func (s *Session) Lookup(runID string) (Snapshot, bool) {
	s.mu.RLock()
	ctrl, ok := s.active[runID]
	s.mu.RUnlock()
	if ok {
		return ctrl.Snapshot(), true
	}
	return s.history.Get(runID)
}

// Runs returns the snapshots of all active and remembered runs, newest first
func (s *Session) Runs() []Snapshot {
	s.mu.RLock()
	snaps := make([]Snapshot, 0, len(s.active)+s.history.Len())
	for _, ctrl := range s.active {
		snaps = append(snaps, ctrl.Snapshot())
	}
	s.mu.RUnlock()
	for _, id := range s.history.Keys() {
		if snap, ok := s.history.Peek(id); ok {
			snaps = append(snaps, snap)
		}
	}
	sort.SliceStable(snaps, func(i, j int) bool {
		return snaps[i].StartedAt.After(snaps[j].StartedAt)
	})
	return snaps
}

// Running reports whether any run of the session is in progress
func (s *Session) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ctrl := range s.active {
		if ctrl.Running() {
			return true
		}
	}
	return false
}

// Health reports whether the session accepts runs, what is in flight and how the
// engine answered last time
func (s *Session) Health() Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := Health{
		Closed:     s.closed,
		ActiveRuns: len(s.active),
		Remembered: s.history.Len(),
	}
	for _, ctrl := range s.active {
		if ctrl.Running() {
			h.Running = true
		}
	}
	if s.engine != nil {
		check := *s.engine
		h.Engine = &check
	}
	return h
}

// Wait blocks until no run is active or ctx is done. Runs started while waiting
// are waited for as well.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.RLock()
	idle := s.idle
	s.mu.RUnlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close interrupts all active runs and refuses new ones
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
}
