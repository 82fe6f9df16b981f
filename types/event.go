package types

import (
	"time"
)

// EventType identifies the kind of lifecycle notification emitted by the test engine
type EventType string

const (
	EventPreRun   EventType = "pre-run"
	EventPostTest EventType = "post-test"
	EventPostRun  EventType = "post-run"
)

// Event is one lifecycle notification from the engine.
// Exactly one payload is set, matching Type:
// pre-run carries TotalNumberOfTests and Items, post-test carries Test and
// post-run carries Run.
type Event struct {
	Type               EventType
	TotalNumberOfTests int
	Items              *Items
	Test               *TestOutcome
	Run                *RunSummary
}

// Items is a node of the suite tree announced at the start of a run
type Items struct {
	Suites []*Suite          `json:"suite,omitempty"`
	Tests  []*TestDescriptor `json:"test,omitempty"`
}

// Suite groups nested suites and tests
type Suite struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Items       *Items `json:"items,omitempty"`
}

// TestDescriptor describes a test that is going to be executed
type TestDescriptor struct {
	ID            string `json:"id"`
	Owner         string `json:"ownerName,omitempty"`
	ObjectName    string `json:"objectName,omitempty"`
	ProcedureName string `json:"procedureName,omitempty"`
	Name          string `json:"name,omitempty"`
	Description   string `json:"description,omitempty"`
}

// Expectation is a single failed assertion reported for a test
type Expectation struct {
	Message string `json:"message"`
	Caller  string `json:"caller"`
}

// TestOutcome is the result of a single executed test
type TestOutcome struct {
	ID                 string
	StartTime          time.Time
	EndTime            time.Time
	ExecutionTime      time.Duration
	Counter            Counter
	ErrorStack         string
	FailedExpectations []Expectation
}

// RunSummary aggregates the outcome of a whole run
type RunSummary struct {
	StartTime     time.Time     `json:"startTime"`
	EndTime       time.Time     `json:"endTime"`
	ExecutionTime time.Duration `json:"executionTime"`
	Counter       Counter       `json:"counter"`
}

// NewPreRunEvent creates a pre-run event
func NewPreRunEvent(total int, items *Items) Event {
	return Event{
		Type:               EventPreRun,
		TotalNumberOfTests: total,
		Items:              items,
	}
}

// NewPostTestEvent creates a post-test event
func NewPostTestEvent(outcome TestOutcome) Event {
	return Event{
		Type: EventPostTest,
		Test: &outcome,
	}
}

// NewPostRunEvent creates a post-run event
func NewPostRunEvent(summary RunSummary) Event {
	return Event{
		Type: EventPostRun,
		Run:  &summary,
	}
}

// CountTests returns the number of leaf tests found anywhere below this node
func (it *Items) CountTests() int {
	if it == nil {
		return 0
	}
	n := 0
	for _, t := range it.Tests {
		if t != nil {
			n++
		}
	}
	for _, s := range it.Suites {
		if s != nil {
			n += s.Items.CountTests()
		}
	}
	return n
}
