package runner

import (
	"fmt"
	"time"

	"github.com/ethereum-optimism/infra/ut-runner/engine"
	"github.com/ethereum-optimism/infra/ut-runner/types"
)

// Snapshot is a consistent view of a run.
// Records may share their SuitePath and FailedExpectations with other snapshots
// and must be treated as read-only.
type Snapshot struct {
	RunID           string                 `json:"runId"`
	Title           string                 `json:"title"`
	Paths           []string               `json:"paths"`
	Coverage        bool                   `json:"coverage"`
	// CoverageOptions are kept so that finished runs can be rerun the same way
	CoverageOptions engine.CoverageOptions `json:"coverageOptions"`
	State           State                  `json:"state"`
	StatusText      string                 `json:"statusText"`
	Total           int                    `json:"total"`
	Completed       int                    `json:"completed"` // clamped to Total
	Ratio           float64                `json:"ratio"`
	Failing         bool                   `json:"failing"`
	Ready           bool                   `json:"ready"`
	Summary         *types.RunSummary      `json:"summary,omitempty"`
	Records         []types.ResultRecord   `json:"records"`
	Version         uint64                 `json:"version"`
	Error           string                 `json:"error,omitempty"`
	StartedAt       time.Time              `json:"startedAt"`
}

// Progress renders the completed count the way the status bar shows it
func (s Snapshot) Progress() string {
	return fmt.Sprintf("Tests: %d/%d", s.Completed, s.Total)
}

// Record looks up a record by test id
func (s Snapshot) Record(id string) (types.ResultRecord, bool) {
	for _, r := range s.Records {
		if r.ID == id {
			return r, true
		}
	}
	return types.ResultRecord{}, false
}

// Failed returns the records that ended in failure or error
func (s Snapshot) Failed() []types.ResultRecord {
	var out []types.ResultRecord
	for _, r := range s.Records {
		if r.Status == types.TestStatusFailure || r.Status == types.TestStatusError {
			out = append(out, r)
		}
	}
	return out
}
