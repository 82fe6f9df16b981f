package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultRecordMerge(t *testing.T) {
	rec := NewResultRecord(&TestDescriptor{
		ID:            "app.test_pkg.test_proc",
		Owner:         "APP",
		ObjectName:    "TEST_PKG",
		ProcedureName: "TEST_PROC",
	}, []string{"app", "test_pkg"})

	assert.Equal(t, TestStatusUnknown, rec.Status)
	assert.False(t, rec.Executed())
	assert.Equal(t, "TEST_PROC", rec.DisplayName())
	assert.Equal(t, 2, rec.Depth())
	assert.Equal(t, "app.test_pkg", rec.SuiteName())

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rec.Merge(&TestOutcome{
		ID:                 rec.ID,
		StartTime:          start,
		EndTime:            start.Add(time.Second),
		ExecutionTime:      time.Second,
		Counter:            Counter{Failure: 1},
		FailedExpectations: []Expectation{{Message: "first"}},
	})
	assert.Equal(t, TestStatusFailure, rec.Status)
	assert.Equal(t, time.Second, rec.Time)
	assert.Empty(t, rec.Error)
	assert.True(t, rec.Executed())

	// A second outcome appends expectations and keeps an existing error when none is reported
	rec.Error = "previous"
	rec.Merge(&TestOutcome{
		ID:                 rec.ID,
		Counter:            Counter{Error: 1},
		FailedExpectations: []Expectation{{Message: "second"}, {Message: "third"}},
	})
	assert.Equal(t, TestStatusError, rec.Status)
	assert.Equal(t, "previous", rec.Error)
	require.Len(t, rec.FailedExpectations, 3)
	assert.Equal(t, "first", rec.FailedExpectations[0].Message)
	assert.Equal(t, "third", rec.FailedExpectations[2].Message)
}

func TestResultRecordMergeEmptyCounterKeepsStatus(t *testing.T) {
	rec := NewResultRecord(&TestDescriptor{ID: "t1"}, nil)
	rec.Merge(&TestOutcome{ID: "t1", Counter: Counter{Success: 1}})
	require.Equal(t, TestStatusSuccess, rec.Status)

	end := time.Date(2024, 1, 1, 0, 0, 2, 0, time.UTC)
	rec.Merge(&TestOutcome{ID: "t1", EndTime: end, ErrorStack: "late"})
	assert.Equal(t, TestStatusSuccess, rec.Status)
	assert.Equal(t, end, rec.End)
	assert.Equal(t, "late", rec.Error)

	fresh := NewResultRecord(&TestDescriptor{ID: "t2"}, nil)
	fresh.Merge(&TestOutcome{ID: "t2"})
	assert.Equal(t, TestStatusUnknown, fresh.Status)
}

func TestResultRecordClone(t *testing.T) {
	rec := NewResultRecord(&TestDescriptor{ID: "t1"}, []string{"suite"})
	rec.FailedExpectations = append(rec.FailedExpectations, Expectation{Message: "m"})

	c := rec.Clone()
	c.SuitePath[0] = "changed"
	c.FailedExpectations[0].Message = "changed"

	assert.Equal(t, "suite", rec.SuitePath[0])
	assert.Equal(t, "m", rec.FailedExpectations[0].Message)
}
