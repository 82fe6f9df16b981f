package types

import (
	"strings"
	"time"
)

// ResultRecord is the mutable result of one test within a run.
// Identity fields are fixed when the record is created from a TestDescriptor;
// only the outcome fields change afterwards.
type ResultRecord struct {
	ID          string   `json:"id"`
	Owner       string   `json:"owner"`
	Package     string   `json:"package"`
	Procedure   string   `json:"procedure"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	SuitePath   []string `json:"suitePath,omitempty"` // Names of the enclosing suites, outermost first

	Status             TestStatus    `json:"status"`
	Start              time.Time     `json:"start"`
	End                time.Time     `json:"end"`
	Time               time.Duration `json:"time"`
	Error              string        `json:"error,omitempty"`
	FailedExpectations []Expectation `json:"failedExpectations"`
}

// NewResultRecord creates an unexecuted record for a test descriptor
func NewResultRecord(test *TestDescriptor, suitePath []string) *ResultRecord {
	path := make([]string, len(suitePath))
	copy(path, suitePath)
	return &ResultRecord{
		ID:                 test.ID,
		Owner:              test.Owner,
		Package:            test.ObjectName,
		Procedure:          test.ProcedureName,
		Name:               test.Name,
		Description:        test.Description,
		SuitePath:          path,
		Status:             TestStatusUnknown,
		FailedExpectations: []Expectation{},
	}
}

// Merge applies an outcome to the record. Failed expectations are appended in
// arrival order, never replaced.
func (r *ResultRecord) Merge(outcome *TestOutcome) {
	r.Start = outcome.StartTime
	r.End = outcome.EndTime
	r.Time = outcome.ExecutionTime
	// an outcome that counts nothing does not erase an earlier status
	if status := outcome.Counter.Status(); status != TestStatusUnknown {
		r.Status = status
	}
	if outcome.ErrorStack != "" {
		r.Error = outcome.ErrorStack
	}
	r.FailedExpectations = append(r.FailedExpectations, outcome.FailedExpectations...)
}

// Clone returns a deep copy of the record
func (r *ResultRecord) Clone() ResultRecord {
	c := *r
	c.SuitePath = make([]string, len(r.SuitePath))
	copy(c.SuitePath, r.SuitePath)
	c.FailedExpectations = make([]Expectation, len(r.FailedExpectations))
	copy(c.FailedExpectations, r.FailedExpectations)
	return c
}

// Executed reports whether an outcome has been merged into the record
func (r *ResultRecord) Executed() bool {
	return r.Status != TestStatusUnknown || !r.End.IsZero()
}

// DisplayName returns the test name, falling back to the procedure name
func (r *ResultRecord) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	if r.Procedure != "" {
		return r.Procedure
	}
	return r.ID
}

// Depth returns the suite nesting depth of the record (0 for top-level tests)
func (r *ResultRecord) Depth() int {
	return len(r.SuitePath)
}

// SuiteName returns the dotted name of the enclosing suites
func (r *ResultRecord) SuiteName() string {
	return strings.Join(r.SuitePath, ".")
}
