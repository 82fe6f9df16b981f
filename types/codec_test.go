package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent_PreRun(t *testing.T) {
	data := []byte(`{
		"type": "pre-run",
		"totalNumberOfTests": 3,
		"items": {
			"suite": [{
				"id": "app.test_betwnstr",
				"name": "test_betwnstr",
				"items": {
					"test": [
						{"id": "t1", "ownerName": "APP", "objectName": "TEST_BETWNSTR", "procedureName": "NORMAL_CASE", "name": "Normal case"},
						{"id": "t2", "ownerName": "APP", "objectName": "TEST_BETWNSTR", "procedureName": "ZERO_START"}
					]
				}
			}],
			"test": [{"id": "t3", "ownerName": "APP"}]
		}
	}`)

	event, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, EventPreRun, event.Type)
	assert.Equal(t, 3, event.TotalNumberOfTests)
	require.NotNil(t, event.Items)
	require.Len(t, event.Items.Suites, 1)
	assert.Equal(t, "test_betwnstr", event.Items.Suites[0].Name)
	require.Len(t, event.Items.Suites[0].Items.Tests, 2)
	assert.Equal(t, "NORMAL_CASE", event.Items.Suites[0].Items.Tests[0].ProcedureName)
	assert.Equal(t, "APP", event.Items.Suites[0].Items.Tests[0].Owner)
	assert.Equal(t, 3, event.Items.CountTests())
}

func TestDecodeEvent_PreRunWithoutItems(t *testing.T) {
	event, err := DecodeEvent([]byte(`{"type":"pre-run","totalNumberOfTests":0}`))
	require.NoError(t, err)
	require.NotNil(t, event.Items)
	assert.Equal(t, 0, event.Items.CountTests())
}

func TestDecodeEvent_PostTest(t *testing.T) {
	data := []byte(`{
		"type": "post-test",
		"test": {
			"id": "t2",
			"startTime": "2024-03-01T10:00:00.5",
			"endTime": "2024-03-01T10:00:01Z",
			"executionTime": 0.25,
			"counter": {"failure": 1},
			"errorStack": "ORA-06512: at line 5",
			"failedExpectations": [{"message": "Actual: 1 was expected to equal: 2", "caller": "at APP.TEST_BETWNSTR, line 12"}]
		}
	}`)

	event, err := DecodeEvent(data)
	require.NoError(t, err)
	require.NotNil(t, event.Test)
	assert.Equal(t, "t2", event.Test.ID)
	assert.Equal(t, 250*time.Millisecond, event.Test.ExecutionTime)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 500000000, time.UTC), event.Test.StartTime)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 1, 0, time.UTC), event.Test.EndTime)
	assert.Equal(t, 1, event.Test.Counter.Failure)
	assert.Equal(t, "ORA-06512: at line 5", event.Test.ErrorStack)
	require.Len(t, event.Test.FailedExpectations, 1)
	assert.Equal(t, "at APP.TEST_BETWNSTR, line 12", event.Test.FailedExpectations[0].Caller)
}

func TestDecodeEvent_PostTestOptionalFieldsMissing(t *testing.T) {
	event, err := DecodeEvent([]byte(`{"type":"post-test","test":{"id":"t1","startTime":"not a time"}}`))
	require.NoError(t, err)
	assert.True(t, event.Test.StartTime.IsZero())
	assert.True(t, event.Test.EndTime.IsZero())
	assert.Zero(t, event.Test.ExecutionTime)
	assert.Empty(t, event.Test.ErrorStack)
	assert.Empty(t, event.Test.FailedExpectations)
	assert.Equal(t, TestStatusUnknown, event.Test.Counter.Status())
}

func TestDecodeEvent_PostTestMalformedOptionalFields(t *testing.T) {
	tests := []struct {
		name  string
		field string
		check func(t *testing.T, outcome *TestOutcome)
	}{
		{
			name:  "execution time as text",
			field: `"executionTime":"fast"`,
			check: func(t *testing.T, o *TestOutcome) { assert.Zero(t, o.ExecutionTime) },
		},
		{
			name:  "execution time as numeric text",
			field: `"executionTime":"0.5"`,
			check: func(t *testing.T, o *TestOutcome) { assert.Equal(t, 500*time.Millisecond, o.ExecutionTime) },
		},
		{
			name:  "error stack as number",
			field: `"errorStack":42`,
			check: func(t *testing.T, o *TestOutcome) { assert.Empty(t, o.ErrorStack) },
		},
		{
			name:  "error stack as null",
			field: `"errorStack":null`,
			check: func(t *testing.T, o *TestOutcome) { assert.Empty(t, o.ErrorStack) },
		},
		{
			name:  "expectations as text",
			field: `"failedExpectations":"oops"`,
			check: func(t *testing.T, o *TestOutcome) { assert.Empty(t, o.FailedExpectations) },
		},
		{
			name:  "expectations with one bad entry",
			field: `"failedExpectations":[{"message":"kept","caller":"line 3"},{"message":7}]`,
			check: func(t *testing.T, o *TestOutcome) {
				assert.Equal(t, []Expectation{{Message: "kept", Caller: "line 3"}}, o.FailedExpectations)
			},
		},
		{
			name:  "start time as number",
			field: `"startTime":1700000000`,
			check: func(t *testing.T, o *TestOutcome) { assert.True(t, o.StartTime.IsZero()) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := `{"type":"post-test","test":{"id":"t1","counter":{"failure":1},` + tt.field + `}}`
			event, err := DecodeEvent([]byte(data))
			require.NoError(t, err)
			require.NotNil(t, event.Test)
			assert.Equal(t, "t1", event.Test.ID)
			assert.Equal(t, 1, event.Test.Counter.Failure)
			tt.check(t, event.Test)
		})
	}
}

func TestDecodeEvent_PostRunMalformedExecutionTime(t *testing.T) {
	event, err := DecodeEvent([]byte(`{"type":"post-run","run":{"executionTime":{"s":1},"endTime":false,"counter":{"success":3}}}`))
	require.NoError(t, err)
	require.NotNil(t, event.Run)
	assert.Zero(t, event.Run.ExecutionTime)
	assert.True(t, event.Run.EndTime.IsZero())
	assert.Equal(t, 3, event.Run.Counter.Success)
}

func TestDecodeEvent_PostRun(t *testing.T) {
	event, err := DecodeEvent([]byte(`{"type":"post-run","run":{"executionTime":1.5,"counter":{"success":2,"failure":1}}}`))
	require.NoError(t, err)
	require.NotNil(t, event.Run)
	assert.Equal(t, 1500*time.Millisecond, event.Run.ExecutionTime)
	assert.Equal(t, Counter{Success: 2, Failure: 1}, event.Run.Counter)

	event, err = DecodeEvent([]byte(`{"type":"post-run"}`))
	require.NoError(t, err)
	require.NotNil(t, event.Run)
	assert.Equal(t, Counter{}, event.Run.Counter)
}

func TestDecodeEvent_Errors(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		target error
	}{
		{name: "malformed json", data: `{"type":`},
		{name: "unknown type", data: `{"type":"pre-suite"}`, target: ErrUnknownEventType},
		{name: "post-test without test", data: `{"type":"post-test"}`, target: ErrMissingPayload},
		{name: "post-test without id", data: `{"type":"post-test","test":{"counter":{"success":1}}}`},
		{name: "post-test with malformed id", data: `{"type":"post-test","test":{"id":12,"counter":{"success":1}}}`},
		{name: "post-test with malformed counter", data: `{"type":"post-test","test":{"id":"t1","counter":"passed"}}`},
		{name: "negative total", data: `{"type":"pre-run","totalNumberOfTests":-1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEvent([]byte(tt.data))
			require.Error(t, err)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}
}

func TestEncodeEvent_RoundTripsThroughDecoder(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	original := NewPostTestEvent(TestOutcome{
		ID:            "t1",
		StartTime:     start,
		EndTime:       start.Add(time.Second),
		ExecutionTime: time.Second,
		Counter:       Counter{Error: 1},
		ErrorStack:    "boom",
	})

	data, err := EncodeEvent(original)
	require.NoError(t, err)

	decoded, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, original.Test.ID, decoded.Test.ID)
	assert.True(t, original.Test.StartTime.Equal(decoded.Test.StartTime))
	assert.Equal(t, original.Test.ExecutionTime, decoded.Test.ExecutionTime)
	assert.Equal(t, TestStatusError, decoded.Test.Counter.Status())

	_, err = EncodeEvent(Event{Type: "bogus"})
	assert.ErrorIs(t, err, ErrUnknownEventType)
}
