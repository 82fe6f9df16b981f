// Package engine defines the contract between the run controller and a remote
// test execution engine, and hosts the concrete engine backends in its sub-packages.
package engine

import (
	"context"
	"errors"
	"slices"

	"github.com/ethereum-optimism/infra/ut-runner/types"
)

// ErrStreamClosed is returned by an EventSource whose stream ended before a
// post-run event was delivered.
var ErrStreamClosed = errors.New("event stream closed before post-run")

// CoverageOptions restricts which objects are instrumented during a coverage run
type CoverageOptions struct {
	Schemas  []string `yaml:"schemas,omitempty" json:"schemas,omitempty"`
	Includes []string `yaml:"includes,omitempty" json:"includes,omitempty"`
	Excludes []string `yaml:"excludes,omitempty" json:"excludes,omitempty"`
}

// Clone returns a copy that shares no slices with o
func (o CoverageOptions) Clone() CoverageOptions {
	return CoverageOptions{
		Schemas:  slices.Clone(o.Schemas),
		Includes: slices.Clone(o.Includes),
		Excludes: slices.Clone(o.Excludes),
	}
}

// Engine invokes test runs on a remote engine.
// RunTests and RunTestsWithCoverage block until the engine finished executing;
// progress is only reported through the EventSource returned by Events.
type Engine interface {
	// Version checks that the engine answers and returns its version string
	Version(ctx context.Context) (string, error)
	RunTests(ctx context.Context, reporterID string, paths []string) error
	RunTestsWithCoverage(ctx context.Context, reporterID string, paths []string, opts CoverageOptions) error
	// CoverageReport returns the HTML coverage report of a finished coverage run
	CoverageReport(ctx context.Context, reporterID string) (string, error)
	// Events returns the event stream of the run identified by reporterID
	Events(reporterID string) EventSource
}

// EventSource delivers the events of a single run.
// Consume blocks, calls onEvent once per event in emission order and returns nil
// once the post-run event has been delivered. It returns an error if the stream
// fails or ends early, or ctx is cancelled.
type EventSource interface {
	Consume(ctx context.Context, onEvent func(types.Event)) error
}

// EventSourceFunc adapts a function to the EventSource interface
type EventSourceFunc func(ctx context.Context, onEvent func(types.Event)) error

func (f EventSourceFunc) Consume(ctx context.Context, onEvent func(types.Event)) error {
	return f(ctx, onEvent)
}

// SourceFactory opens the event source of a run
type SourceFactory func(reporterID string) EventSource

// withEventSource overrides how an engine's events are delivered
type withEventSource struct {
	Engine
	factory SourceFactory
}

// WithEventSource returns an engine that invokes runs through e but reads events
// from the sources produced by factory.
func WithEventSource(e Engine, factory SourceFactory) Engine {
	return &withEventSource{Engine: e, factory: factory}
}

func (w *withEventSource) Events(reporterID string) EventSource {
	return w.factory(reporterID)
}
