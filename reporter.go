package utrunner

import (
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/ut-runner/reporting"
	"github.com/ethereum-optimism/infra/ut-runner/runner"
)

const failureBoxWidth = 100

// Reporter presents finished runs and plans.
type Reporter interface {
	ReportRun(snap runner.Snapshot)
	ReportPlan(result *PlanResult)
}

// ConsoleReporter prints result tables to a writer
type ConsoleReporter struct {
	out io.Writer
	log log.Logger
}

func NewConsoleReporter(out io.Writer, lgr log.Logger) *ConsoleReporter {
	return &ConsoleReporter{out: out, log: lgr}
}

func (r *ConsoleReporter) ReportRun(snap runner.Snapshot) {
	fmt.Fprint(r.out, reporting.RenderRun(snap))
	if failures := reporting.RenderFailures(snap, failureBoxWidth); failures != "" {
		fmt.Fprint(r.out, failures)
	}
	if snap.Error != "" {
		r.log.Warn("Run ended with an error", "run", snap.RunID, "state", snap.State, "err", snap.Error)
	}
}

func (r *ConsoleReporter) ReportPlan(result *PlanResult) {
	if len(result.Runs) > 1 {
		fmt.Fprint(r.out, reporting.RenderSummary(result.Runs))
	}
	fmt.Fprintln(r.out, result.String())
}
