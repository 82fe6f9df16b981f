package runner

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/ut-runner/types"
)

// ProgressIndicator interface for UI updates
type ProgressIndicator interface {
	StartRun(runID string, title string, totalTests int)
	CompleteTest(runID string, rec types.ResultRecord)
	CompleteRun(runID string, state State, summary types.RunSummary)
}

// noOpProgressIndicator provides a no-op implementation of ProgressIndicator
type noOpProgressIndicator struct{}

// NewNoOpProgressIndicator creates a progress indicator that does nothing
func NewNoOpProgressIndicator() ProgressIndicator {
	return &noOpProgressIndicator{}
}

func (n *noOpProgressIndicator) StartRun(runID string, title string, totalTests int)              {}
func (n *noOpProgressIndicator) CompleteTest(runID string, rec types.ResultRecord)                {}
func (n *noOpProgressIndicator) CompleteRun(runID string, state State, summary types.RunSummary) {}

type runProgress struct {
	title     string
	total     int
	completed int
	failing   int
	started   time.Time
	durations map[string]time.Duration // test name -> execution time
}

// ConsoleProgressIndicator logs periodic progress of all active runs
type ConsoleProgressIndicator struct {
	logger log.Logger
	ticker *time.Ticker
	stopCh chan struct{}
	once   sync.Once
	mu     sync.RWMutex

	runs map[string]*runProgress
}

// NewConsoleProgressIndicator creates a progress indicator that shows updates in the console
func NewConsoleProgressIndicator(logger log.Logger, updateInterval time.Duration) *ConsoleProgressIndicator {
	if updateInterval == 0 {
		updateInterval = DefaultProgressInterval
	}

	indicator := &ConsoleProgressIndicator{
		logger: logger,
		ticker: time.NewTicker(updateInterval),
		stopCh: make(chan struct{}),
		runs:   make(map[string]*runProgress),
	}

	go indicator.progressReporter()

	return indicator
}

func (c *ConsoleProgressIndicator) StartRun(runID string, title string, totalTests int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.runs[runID] = &runProgress{
		title:     title,
		total:     totalTests,
		started:   time.Now(),
		durations: make(map[string]time.Duration),
	}

	c.logger.Info("Starting run", "run", runID, "title", title, "totalTests", totalTests)
}

func (c *ConsoleProgressIndicator) CompleteTest(runID string, rec types.ResultRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	run, ok := c.runs[runID]
	if !ok {
		return
	}
	run.completed++
	if rec.Status == types.TestStatusFailure || rec.Status == types.TestStatusError {
		run.failing++
	}
	run.durations[rec.DisplayName()] = rec.Time

	// Log individual test completion at debug level to avoid spam
	c.logger.Debug("Test completed", "run", runID, "test", rec.DisplayName(), "status", rec.Status,
		"completed", run.completed, "total", run.total)
}

func (c *ConsoleProgressIndicator) CompleteRun(runID string, state State, summary types.RunSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()

	run, ok := c.runs[runID]
	if !ok {
		return
	}
	delete(c.runs, runID)

	duration := time.Since(run.started).Truncate(time.Second)
	c.logger.Info("Completed run", "run", runID, "title", run.title, "state", state,
		"completed", run.completed, "total", run.total,
		"success", summary.Counter.Success, "failure", summary.Counter.Failure, "error", summary.Counter.Error,
		"duration", duration)
}

// progressReporter runs in a goroutine and periodically reports progress
func (c *ConsoleProgressIndicator) progressReporter() {
	for {
		select {
		case <-c.ticker.C:
			c.reportProgress()
		case <-c.stopCh:
			return
		}
	}
}

func (c *ConsoleProgressIndicator) reportProgress() {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for runID, run := range c.runs {
		var percentComplete float64
		if run.total > 0 {
			percentComplete = float64(min(run.completed, run.total)) * 100.0 / float64(run.total)
		}

		c.logger.Info("Progress update",
			"run", runID,
			"title", run.title,
			"completed", run.completed,
			"total", run.total,
			"percent", fmt.Sprintf("%.1f%%", percentComplete),
			"failing", run.failing,
			"slowest", formatSlowestTests(run.durations, 3),
		)
	}
}

// Stop stops the progress indicator
func (c *ConsoleProgressIndicator) Stop() {
	c.once.Do(func() {
		c.ticker.Stop()
		close(c.stopCh)
	})
}

// formatSlowestTests lists the longest running tests, slowest first
func formatSlowestTests(durations map[string]time.Duration, maxShow int) string {
	if len(durations) == 0 {
		return ""
	}

	type finishedTest struct {
		name     string
		duration time.Duration
	}

	tests := make([]finishedTest, 0, len(durations))
	for name, d := range durations {
		tests = append(tests, finishedTest{name: name, duration: d})
	}

	sort.Slice(tests, func(i, j int) bool {
		if tests[i].duration == tests[j].duration {
			return tests[i].name < tests[j].name
		}
		return tests[i].duration > tests[j].duration
	})

	var strs []string
	for i, test := range tests {
		if i >= maxShow {
			break
		}
		strs = append(strs, fmt.Sprintf("%s (%v)", test.name, test.duration.Round(time.Millisecond)))
	}

	if len(tests) > maxShow {
		strs = append(strs, fmt.Sprintf("+%d more", len(tests)-maxShow))
	}

	return strings.Join(strs, ", ")
}
