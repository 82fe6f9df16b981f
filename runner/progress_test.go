package runner

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"

	"github.com/ethereum-optimism/infra/ut-runner/types"
)

func TestFormatSlowestTests(t *testing.T) {
	tests := []struct {
		name      string
		durations map[string]time.Duration
		maxShow   int
		expected  string
	}{
		{
			name:      "empty",
			durations: map[string]time.Duration{},
			maxShow:   3,
			expected:  "",
		},
		{
			name: "slowest first",
			durations: map[string]time.Duration{
				"fast": 10 * time.Millisecond,
				"slow": 2 * time.Second,
			},
			maxShow:  3,
			expected: "slow (2s), fast (10ms)",
		},
		{
			name: "truncated",
			durations: map[string]time.Duration{
				"a": 3 * time.Second,
				"b": 2 * time.Second,
				"c": time.Second,
			},
			maxShow:  1,
			expected: "a (3s), +2 more",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatSlowestTests(tt.durations, tt.maxShow))
		})
	}
}

func TestConsoleProgressIndicator(t *testing.T) {
	indicator := NewConsoleProgressIndicator(log.NewLogger(log.DiscardHandler()), time.Millisecond)
	defer indicator.Stop()

	indicator.StartRun("run-1", "APP.PKG 2024-05-01 10:00:00", 2)
	indicator.CompleteTest("run-1", types.ResultRecord{ID: "t1", Name: "t1", Status: types.TestStatusSuccess, Time: time.Second})
	indicator.CompleteTest("run-1", types.ResultRecord{ID: "t2", Name: "t2", Status: types.TestStatusFailure})
	indicator.CompleteTest("unknown", types.ResultRecord{ID: "x"})

	indicator.mu.RLock()
	run := indicator.runs["run-1"]
	assert.Equal(t, 2, run.completed)
	assert.Equal(t, 1, run.failing)
	indicator.mu.RUnlock()

	// let the reporter tick at least once
	time.Sleep(5 * time.Millisecond)

	indicator.CompleteRun("run-1", StateFinished, types.RunSummary{Counter: types.Counter{Success: 1, Failure: 1}})
	indicator.mu.RLock()
	assert.Empty(t, indicator.runs)
	indicator.mu.RUnlock()

	indicator.Stop()
}

func TestNoOpProgressIndicator(t *testing.T) {
	indicator := NewNoOpProgressIndicator()
	indicator.StartRun("run", "title", 1)
	indicator.CompleteTest("run", types.ResultRecord{})
	indicator.CompleteRun("run", StateFinished, types.RunSummary{})
}
