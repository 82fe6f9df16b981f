package utrunner

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/ut-runner/reporting"
	"github.com/ethereum-optimism/infra/ut-runner/runner"
	"github.com/ethereum-optimism/infra/ut-runner/types"
)

// PlanResult collects the final snapshots of one pass over the plan
type PlanResult struct {
	Runs     []runner.Snapshot
	Duration time.Duration
}

// Counter sums the post-run counters of all runs
func (r *PlanResult) Counter() types.Counter {
	var c types.Counter
	for _, snap := range r.Runs {
		if snap.Summary == nil {
			continue
		}
		c.Success += snap.Summary.Counter.Success
		c.Failure += snap.Summary.Counter.Failure
		c.Error += snap.Summary.Counter.Error
		c.Warning += snap.Summary.Counter.Warning
		c.Disabled += snap.Summary.Counter.Disabled
	}
	return c
}

// FailingRuns returns the runs whose summary reports failures or errors
func (r *PlanResult) FailingRuns() []runner.Snapshot {
	var out []runner.Snapshot
	for _, snap := range r.Runs {
		if snap.Failing {
			out = append(out, snap)
		}
	}
	return out
}

// Err returns a RuntimeError for the first run that could not complete
func (r *PlanResult) Err() error {
	for _, snap := range r.Runs {
		switch snap.State {
		case runner.StateUnavailable, runner.StateInterrupted:
			return NewRuntimeError(fmt.Errorf("run %q %s: %s", snap.Title, snap.State, snap.Error))
		}
	}
	return nil
}

func (r *PlanResult) String() string {
	c := r.Counter()
	var b strings.Builder
	fmt.Fprintf(&b, "Plan finished in %s: %d run(s), %d test(s) (%d success, %d failure, %d error, %d disabled, %d warning)",
		reporting.FormatDuration(r.Duration), len(r.Runs), c.Total(),
		c.Success, c.Failure, c.Error, c.Disabled, c.Warning)
	if failing := r.FailingRuns(); len(failing) > 0 {
		titles := make([]string, len(failing))
		for i, snap := range failing {
			titles[i] = snap.Title
		}
		fmt.Fprintf(&b, "; failing: %s", strings.Join(titles, ", "))
	}
	return b.String()
}
