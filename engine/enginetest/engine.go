// Package enginetest provides a scripted in-memory engine for tests.
package enginetest

import (
	"context"
	"sync"

	"github.com/ethereum-optimism/infra/ut-runner/engine"
	"github.com/ethereum-optimism/infra/ut-runner/types"
)

// RunCall records one invocation of RunTests or RunTestsWithCoverage
type RunCall struct {
	ReporterID string
	Paths      []string
	Coverage   bool
	Options    engine.CoverageOptions
}

// Engine replays a fixed event script to every event source it hands out.
type Engine struct {
	VersionString string
	VersionErr    error
	RunErr        error
	CoverageHTML  string
	CoverageErr   error

	// Script is delivered in order by every source
	Script []types.Event
	// Step, if set, gates every event on a receive
	Step chan struct{}
	// Hang keeps a source open after an incomplete script until its context ends
	Hang bool
	// BlockRun keeps the run call open until its context ends
	BlockRun bool
	// VersionGate, if set, holds Version until it is closed
	VersionGate chan struct{}

	mu            sync.Mutex
	versionCalls  int
	runs          []RunCall
	sources       []string
	coverageCalls []string
}

var _ engine.Engine = (*Engine)(nil)

// New returns an engine that answers Version and replays script
func New(script ...types.Event) *Engine {
	return &Engine{VersionString: "v3.1.13", Script: script}
}

func (e *Engine) Version(ctx context.Context) (string, error) {
	e.mu.Lock()
	e.versionCalls++
	e.mu.Unlock()
	if e.VersionGate != nil {
		select {
		case <-e.VersionGate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if e.VersionErr != nil {
		return "", e.VersionErr
	}
	return e.VersionString, nil
}

func (e *Engine) RunTests(ctx context.Context, reporterID string, paths []string) error {
	return e.run(ctx, RunCall{ReporterID: reporterID, Paths: paths})
}

func (e *Engine) RunTestsWithCoverage(ctx context.Context, reporterID string, paths []string, opts engine.CoverageOptions) error {
	return e.run(ctx, RunCall{ReporterID: reporterID, Paths: paths, Coverage: true, Options: opts})
}

func (e *Engine) run(ctx context.Context, call RunCall) error {
	e.mu.Lock()
	e.runs = append(e.runs, call)
	e.mu.Unlock()
	if e.BlockRun {
		<-ctx.Done()
		return ctx.Err()
	}
	return e.RunErr
}

func (e *Engine) CoverageReport(ctx context.Context, reporterID string) (string, error) {
	e.mu.Lock()
	e.coverageCalls = append(e.coverageCalls, reporterID)
	e.mu.Unlock()
	if e.CoverageErr != nil {
		return "", e.CoverageErr
	}
	return e.CoverageHTML, nil
}

func (e *Engine) Events(reporterID string) engine.EventSource {
	e.mu.Lock()
	e.sources = append(e.sources, reporterID)
	e.mu.Unlock()
	return engine.EventSourceFunc(e.consume)
}

func (e *Engine) consume(ctx context.Context, onEvent func(types.Event)) error {
	for _, ev := range e.Script {
		if e.Step != nil {
			select {
			case <-e.Step:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		onEvent(ev)
		if ev.Type == types.EventPostRun {
			return nil
		}
	}
	if e.Hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return engine.ErrStreamClosed
}

func (e *Engine) VersionCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.versionCalls
}

func (e *Engine) Runs() []RunCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]RunCall(nil), e.runs...)
}

// Sources returns the reporter ids of all event sources handed out
func (e *Engine) Sources() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.sources...)
}

func (e *Engine) CoverageCalls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.coverageCalls...)
}

// Test returns a descriptor for a test of package APP.<pkg>
func Test(id string, pkg string, procedure string) *types.TestDescriptor {
	return &types.TestDescriptor{
		ID:            id,
		Owner:         "APP",
		ObjectName:    pkg,
		ProcedureName: procedure,
		Name:          procedure,
	}
}

// Passed returns an outcome with a single success
func Passed(id string) types.TestOutcome {
	return types.TestOutcome{ID: id, Counter: types.Counter{Success: 1}}
}

// Failed returns an outcome with a single failure and its expectation
func Failed(id string, message string) types.TestOutcome {
	return types.TestOutcome{
		ID:                 id,
		Counter:            types.Counter{Failure: 1},
		FailedExpectations: []types.Expectation{{Message: message, Caller: id}},
	}
}
