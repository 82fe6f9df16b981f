package runner

import (
	"errors"
	"fmt"
)

var (
	// ErrEngineUnavailable is returned when the engine version check fails
	ErrEngineUnavailable = errors.New("engine unavailable")
	// ErrMissingRecord marks a post-test event for a test that was not announced
	ErrMissingRecord = errors.New("missing result record")
	// ErrStreamInterrupted marks a run whose event stream ended before post-run
	ErrStreamInterrupted = errors.New("event stream interrupted")
	// ErrAlreadyStarted is returned when Start is called twice on a controller
	ErrAlreadyStarted = errors.New("run already started")
)

// MissingRecordError reports a post-test event whose id matches no record
type MissingRecordError struct {
	ID string
}

func (e *MissingRecordError) Error() string {
	return fmt.Sprintf("%s: test %q", ErrMissingRecord, e.ID)
}

func (e *MissingRecordError) Unwrap() error {
	return ErrMissingRecord
}

// StreamInterruptedError reports why a run stopped before its post-run event
type StreamInterruptedError struct {
	Cause error
}

func (e *StreamInterruptedError) Error() string {
	if e.Cause == nil {
		return ErrStreamInterrupted.Error()
	}
	return fmt.Sprintf("%s: %v", ErrStreamInterrupted, e.Cause)
}

func (e *StreamInterruptedError) Unwrap() error {
	return e.Cause
}

func (e *StreamInterruptedError) Is(target error) bool {
	return target == ErrStreamInterrupted
}
