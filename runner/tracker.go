package runner

import (
	"github.com/ethereum-optimism/infra/ut-runner/types"
)

// Tracker counts the progress of a run against the total announced by pre-run.
// It is not safe for concurrent use; the Controller serializes access.
type Tracker struct {
	total     int
	completed int
	summary   *types.RunSummary
}

func NewTracker(total int) *Tracker {
	if total < 0 {
		total = 0
	}
	return &Tracker{total: total}
}

// ObservePostTest counts a finished test, whether or not it matched a record
func (t *Tracker) ObservePostTest() {
	t.completed++
}

// ObservePostRun stores the authoritative summary of the run
func (t *Tracker) ObservePostRun(summary types.RunSummary) {
	t.summary = &summary
}

func (t *Tracker) Total() int {
	return t.total
}

// Completed returns the raw number of post-test events seen, which may exceed Total
func (t *Tracker) Completed() int {
	return t.completed
}

// DisplayCompleted returns Completed clamped to Total
func (t *Tracker) DisplayCompleted() int {
	return min(t.completed, t.total)
}

// Ratio returns the completed fraction in [0, 1]; 0 when no tests were announced
func (t *Tracker) Ratio() float64 {
	if t.total == 0 {
		return 0
	}
	return float64(t.DisplayCompleted()) / float64(t.total)
}

// Overflow reports whether more tests completed than were announced
func (t *Tracker) Overflow() bool {
	return t.completed > t.total
}

// Done reports whether the post-run summary has been observed
func (t *Tracker) Done() bool {
	return t.summary != nil
}

// Summary returns the post-run summary, if observed
func (t *Tracker) Summary() (types.RunSummary, bool) {
	if t.summary == nil {
		return types.RunSummary{}, false
	}
	return *t.summary, true
}

// Failing reports whether the post-run summary contains failures or errors
func (t *Tracker) Failing() bool {
	return t.summary != nil && t.summary.Counter.Failing()
}

// Terminal classifies a finished run. ok is false until post-run was observed.
func (t *Tracker) Terminal() (state State, ok bool) {
	if t.summary == nil {
		return "", false
	}
	if t.total == 0 {
		return StateNoTestsFound, true
	}
	return StateFinished, true
}
