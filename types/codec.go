package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrMissingPayload   = errors.New("missing event payload")
)

// timeLayouts are tried in order when parsing engine timestamps.
// The engine reports local timestamps without a zone.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

type wireEvent struct {
	Type               string       `json:"type"`
	TotalNumberOfTests int          `json:"totalNumberOfTests,omitempty"`
	Items              *Items       `json:"items,omitempty"`
	Test               *wireOutcome `json:"test,omitempty"`
	Run                *wireRun     `json:"run,omitempty"`
}

type wireOutcome struct {
	ID                 string        `json:"id"`
	StartTime          string        `json:"startTime,omitempty"`
	EndTime            string        `json:"endTime,omitempty"`
	ExecutionTime      float64       `json:"executionTime,omitempty"`
	Counter            Counter       `json:"counter"`
	ErrorStack         string        `json:"errorStack,omitempty"`
	FailedExpectations []Expectation `json:"failedExpectations,omitempty"`
}

type wireRun struct {
	StartTime     string  `json:"startTime,omitempty"`
	EndTime       string  `json:"endTime,omitempty"`
	ExecutionTime float64 `json:"executionTime,omitempty"`
	Counter       Counter `json:"counter"`
}

// The decode side keeps optional fields raw so that a malformed one costs only
// that field, not the whole event.
type rawEvent struct {
	Type               string      `json:"type"`
	TotalNumberOfTests int         `json:"totalNumberOfTests"`
	Items              *Items      `json:"items"`
	Test               *rawOutcome `json:"test"`
	Run                *rawRun     `json:"run"`
}

type rawOutcome struct {
	ID                 string          `json:"id"`
	StartTime          json.RawMessage `json:"startTime"`
	EndTime            json.RawMessage `json:"endTime"`
	ExecutionTime      json.RawMessage `json:"executionTime"`
	Counter            Counter         `json:"counter"`
	ErrorStack         json.RawMessage `json:"errorStack"`
	FailedExpectations json.RawMessage `json:"failedExpectations"`
}

type rawRun struct {
	StartTime     json.RawMessage `json:"startTime"`
	EndTime       json.RawMessage `json:"endTime"`
	ExecutionTime json.RawMessage `json:"executionTime"`
	Counter       Counter         `json:"counter"`
}

// DecodeEvent parses a single JSON encoded engine event.
// The type and the test id are required, and counters must be well formed when
// present. Every other field that is absent, null or malformed is left at its
// zero value.
func DecodeEvent(data []byte) (Event, error) {
	var w rawEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}

	switch EventType(w.Type) {
	case EventPreRun:
		if w.TotalNumberOfTests < 0 {
			return Event{}, fmt.Errorf("decode pre-run event: negative totalNumberOfTests %d", w.TotalNumberOfTests)
		}
		items := w.Items
		if items == nil {
			items = &Items{}
		}
		return NewPreRunEvent(w.TotalNumberOfTests, items), nil

	case EventPostTest:
		if w.Test == nil {
			return Event{}, fmt.Errorf("decode post-test event: %w", ErrMissingPayload)
		}
		if w.Test.ID == "" {
			return Event{}, errors.New("decode post-test event: test id is empty")
		}
		return NewPostTestEvent(TestOutcome{
			ID:                 w.Test.ID,
			StartTime:          optTime(w.Test.StartTime),
			EndTime:            optTime(w.Test.EndTime),
			ExecutionTime:      optSeconds(w.Test.ExecutionTime),
			Counter:            w.Test.Counter,
			ErrorStack:         optString(w.Test.ErrorStack),
			FailedExpectations: optExpectations(w.Test.FailedExpectations),
		}), nil

	case EventPostRun:
		// A post-run without a summary still terminates the run.
		var summary RunSummary
		if w.Run != nil {
			summary = RunSummary{
				StartTime:     optTime(w.Run.StartTime),
				EndTime:       optTime(w.Run.EndTime),
				ExecutionTime: optSeconds(w.Run.ExecutionTime),
				Counter:       w.Run.Counter,
			}
		}
		return NewPostRunEvent(summary), nil

	default:
		return Event{}, fmt.Errorf("decode event %q: %w", w.Type, ErrUnknownEventType)
	}
}

// EncodeEvent renders an event in the engine wire format
func EncodeEvent(e Event) ([]byte, error) {
	w := wireEvent{Type: string(e.Type)}
	switch e.Type {
	case EventPreRun:
		w.TotalNumberOfTests = e.TotalNumberOfTests
		w.Items = e.Items
	case EventPostTest:
		if e.Test == nil {
			return nil, fmt.Errorf("encode post-test event: %w", ErrMissingPayload)
		}
		w.Test = &wireOutcome{
			ID:                 e.Test.ID,
			StartTime:          formatTime(e.Test.StartTime),
			EndTime:            formatTime(e.Test.EndTime),
			ExecutionTime:      e.Test.ExecutionTime.Seconds(),
			Counter:            e.Test.Counter,
			ErrorStack:         e.Test.ErrorStack,
			FailedExpectations: e.Test.FailedExpectations,
		}
	case EventPostRun:
		if e.Run != nil {
			w.Run = &wireRun{
				StartTime:     formatTime(e.Run.StartTime),
				EndTime:       formatTime(e.Run.EndTime),
				ExecutionTime: e.Run.ExecutionTime.Seconds(),
				Counter:       e.Run.Counter,
			}
		}
	default:
		return nil, fmt.Errorf("encode event %q: %w", e.Type, ErrUnknownEventType)
	}
	return json.Marshal(w)
}

func optString(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

func optTime(raw json.RawMessage) time.Time {
	return parseTime(optString(raw))
}

// optSeconds accepts a number or a numeric string
func optSeconds(raw json.RawMessage) time.Duration {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return secondsToDuration(f)
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(optString(raw)), 64); err == nil {
		return secondsToDuration(f)
	}
	return 0
}

// optExpectations keeps the well formed entries of an expectation list
func optExpectations(raw json.RawMessage) []Expectation {
	if len(raw) == 0 {
		return nil
	}
	var list []Expectation
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}
	for _, entry := range entries {
		var e Expectation
		if err := json.Unmarshal(entry, &e); err == nil {
			list = append(list, e)
		}
	}
	return list
}

func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func secondsToDuration(s float64) time.Duration {
	if s <= 0 || math.IsNaN(s) || math.IsInf(s, 0) {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
