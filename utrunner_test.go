package utrunner

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/ut-runner/engine/enginetest"
	"github.com/ethereum-optimism/infra/ut-runner/runner"
	"github.com/ethereum-optimism/infra/ut-runner/types"
)

const waitTimeout = 5 * time.Second

// mockReporter records reported runs and signals every finished plan
type mockReporter struct {
	mock.Mock
	mu    sync.Mutex
	runs  []runner.Snapshot
	plans chan *PlanResult
}

func newMockReporter() *mockReporter {
	r := &mockReporter{plans: make(chan *PlanResult, 100)}
	r.On("ReportRun", mock.Anything).Return()
	r.On("ReportPlan", mock.Anything).Return()
	return r
}

func (r *mockReporter) ReportRun(snap runner.Snapshot) {
	r.Called(snap)
	r.mu.Lock()
	r.runs = append(r.runs, snap)
	r.mu.Unlock()
}

func (r *mockReporter) ReportPlan(result *PlanResult) {
	r.Called(result)
	r.plans <- result
}

func (r *mockReporter) waitPlan(t *testing.T) *PlanResult {
	t.Helper()
	select {
	case res := <-r.plans:
		return res
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for plan")
		return nil
	}
}

func plan(failing bool) []types.Event {
	t2 := enginetest.Passed("t2")
	counter := types.Counter{Success: 2}
	if failing {
		t2 = enginetest.Failed("t2", "expected 'ab'")
		counter = types.Counter{Success: 1, Failure: 1}
	}
	return []types.Event{
		types.NewPreRunEvent(2, &types.Items{Tests: []*types.TestDescriptor{
			enginetest.Test("t1", "TEST_BETWNSTR", "NORMAL_CASE"),
			enginetest.Test("t2", "TEST_BETWNSTR", "ZERO_START"),
		}}),
		types.NewPostTestEvent(enginetest.Passed("t1")),
		types.NewPostTestEvent(t2),
		types.NewPostRunEvent(types.RunSummary{Counter: counter, ExecutionTime: time.Second}),
	}
}

func testConfig(t *testing.T, interval time.Duration) *Config {
	return &Config{
		Engine: &EngineConfig{Kind: EngineKindAgent},
		Runs: []runner.Request{
			{Scope: types.Scope{Kind: types.ScopePackage, Owner: "APP", Name: "TEST_BETWNSTR"}},
			{Scope: types.Scope{Kind: types.ScopeUser, Name: "APP"}, Coverage: true},
		},
		EventTimeout: time.Minute,
		RunInterval:  interval,
		RunOnce:      interval == 0,
		CoverageDir:  t.TempDir(),
		HistorySize:  8,
		Log:          log.NewLogger(log.DiscardHandler()),
	}
}

func newTestRunner(t *testing.T, cfg *Config, eng *enginetest.Engine, shutdown func(error)) (*utRunner, *mockReporter) {
	t.Helper()
	if shutdown == nil {
		shutdown = func(error) {}
	}
	u, err := newWithEngine(cfg, "test", eng, &bytes.Buffer{}, shutdown)
	require.NoError(t, err)
	rep := newMockReporter()
	u.reporter = rep
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = u.Stop(ctx)
	})
	return u, rep
}

func TestNewRequiresRuns(t *testing.T) {
	cfg := testConfig(t, 0)
	cfg.Runs = nil
	_, err := newWithEngine(cfg, "test", enginetest.New(), &bytes.Buffer{}, func(error) {})
	require.Error(t, err)

	_, err = New(context.Background(), nil, "test", func(error) {})
	require.Error(t, err)
}

func TestRunOncePassing(t *testing.T) {
	eng := enginetest.New(plan(false)...)
	eng.CoverageHTML = "<html>coverage</html>"
	shutdown := make(chan error, 1)
	u, rep := newTestRunner(t, testConfig(t, 0), eng, func(err error) { shutdown <- err })

	require.NoError(t, u.Start(context.Background()))

	select {
	case err := <-shutdown:
		assert.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("shutdown callback not called")
	}

	res := rep.waitPlan(t)
	require.Len(t, res.Runs, 2)
	for _, snap := range res.Runs {
		assert.Equal(t, runner.StateFinished, snap.State)
		assert.True(t, snap.Ready)
	}
	assert.Equal(t, types.Counter{Success: 4}, res.Counter())
	assert.NoError(t, res.Err())
	rep.AssertNumberOfCalls(t, "ReportRun", 2)

	runs := eng.Runs()
	require.Len(t, runs, 2)
	assert.Equal(t, []string{"APP.TEST_BETWNSTR"}, runs[0].Paths)
	assert.False(t, runs[0].Coverage)
	assert.Equal(t, []string{"APP"}, runs[1].Paths)
	assert.True(t, runs[1].Coverage)
	assert.Len(t, eng.CoverageCalls(), 1)
}

func TestRunOnceFailing(t *testing.T) {
	shutdownCalled := make(chan struct{}, 1)
	u, _ := newTestRunner(t, testConfig(t, 0), enginetest.New(plan(true)...), func(error) { shutdownCalled <- struct{}{} })

	err := u.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsTestFailureError(err))
	assert.Contains(t, err.Error(), "failing")

	res := u.Result()
	require.NotNil(t, res)
	assert.Len(t, res.FailingRuns(), 2)
	assert.Empty(t, shutdownCalled)
}

func TestRunOnceEngineUnavailable(t *testing.T) {
	eng := enginetest.New()
	eng.VersionErr = errors.New("connection refused")
	u, rep := newTestRunner(t, testConfig(t, 0), eng, nil)

	err := u.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))
	assert.ErrorContains(t, err, "unavailable")

	res := rep.waitPlan(t)
	require.Len(t, res.Runs, 1, "the plan stops after the first failed version check")
	assert.Equal(t, runner.StateUnavailable, res.Runs[0].State)
	assert.Empty(t, eng.Runs())
}

func TestRunOnceInterrupted(t *testing.T) {
	eng := enginetest.New(plan(false)[:2]...)
	u, _ := newTestRunner(t, testConfig(t, 0), eng, nil)

	err := u.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))
	assert.ErrorContains(t, err, "interrupted")
}

func TestContinuousMode(t *testing.T) {
	eng := enginetest.New(plan(true)...)
	u, rep := newTestRunner(t, testConfig(t, 20*time.Millisecond), eng, nil)

	// failing tests are not an error outside of run-once mode
	require.NoError(t, u.Start(context.Background()))
	rep.waitPlan(t)
	rep.waitPlan(t)
	assert.False(t, u.Stopped())

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, u.Stop(ctx))
	assert.True(t, u.Stopped())
	assert.GreaterOrEqual(t, len(eng.Runs()), 4)

	// a second stop is a no-op
	require.NoError(t, u.Stop(ctx))
}

func TestStopInterruptsRunsAfterDeadline(t *testing.T) {
	eng := enginetest.New(plan(false)[:1]...)
	eng.Hang = true
	eng.BlockRun = true
	cfg := testConfig(t, 0)
	u, rep := newTestRunner(t, cfg, eng, nil)

	startErr := make(chan error, 1)
	go func() { startErr <- u.Start(context.Background()) }()

	require.Eventually(t, func() bool { return u.session.Running() }, waitTimeout, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, u.Stop(ctx))

	select {
	case err := <-startErr:
		require.Error(t, err)
		assert.True(t, IsRuntimeError(err))
		assert.ErrorIs(t, err, runner.ErrSessionClosed)
	case <-time.After(waitTimeout):
		t.Fatal("start did not return after stop")
	}
	res := rep.waitPlan(t)
	require.Len(t, res.Runs, 1)
	assert.Equal(t, runner.StateInterrupted, res.Runs[0].State)
}

func TestStartAbortsOnContextCancel(t *testing.T) {
	eng := enginetest.New(plan(false)[:1]...)
	eng.Hang = true
	u, _ := newTestRunner(t, testConfig(t, 0), eng, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		assert.Eventually(t, func() bool { return u.session.Running() }, waitTimeout, 5*time.Millisecond)
		cancel()
	}()

	err := u.Start(ctx)
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))
	assert.ErrorIs(t, err, context.Canceled)
}
