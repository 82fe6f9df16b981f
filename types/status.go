package types

// TestStatus represents the display status of a single test result
type TestStatus string

const (
	TestStatusUnknown  TestStatus = "unknown"
	TestStatusDisabled TestStatus = "disabled"
	TestStatusSuccess  TestStatus = "success"
	TestStatusFailure  TestStatus = "failure"
	TestStatusError    TestStatus = "error"
	TestStatusWarning  TestStatus = "warning"
)

// Counter holds the per-outcome counts reported by the engine, either for one
// test or aggregated over a whole run.
type Counter struct {
	Success  int `json:"success"`
	Failure  int `json:"failure"`
	Error    int `json:"error"`
	Warning  int `json:"warning"`
	Disabled int `json:"disabled"`
}

// Status classifies a counter into a single display status.
// The first non-zero count wins, in the order
// disabled, success, failure, error, warning. An all-zero counter is unknown.
func (c Counter) Status() TestStatus {
	switch {
	case c.Disabled > 0:
		return TestStatusDisabled
	case c.Success > 0:
		return TestStatusSuccess
	case c.Failure > 0:
		return TestStatusFailure
	case c.Error > 0:
		return TestStatusError
	case c.Warning > 0:
		return TestStatusWarning
	default:
		return TestStatusUnknown
	}
}

// Total returns the sum of all counts
func (c Counter) Total() int {
	return c.Success + c.Failure + c.Error + c.Warning + c.Disabled
}

// Failing reports whether the counter contains failures or errors
func (c Counter) Failing() bool {
	return c.Failure > 0 || c.Error > 0
}

// Symbol returns a short marker used when printing results to a terminal
func (s TestStatus) Symbol() string {
	switch s {
	case TestStatusSuccess:
		return "✓"
	case TestStatusFailure:
		return "✗"
	case TestStatusError:
		return "!"
	case TestStatusWarning:
		return "⚠"
	case TestStatusDisabled:
		return "-"
	default:
		return " "
	}
}
