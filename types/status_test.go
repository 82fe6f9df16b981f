package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounterStatus(t *testing.T) {
	tests := []struct {
		name     string
		counter  Counter
		expected TestStatus
	}{
		{
			name:     "all zero is unknown",
			counter:  Counter{},
			expected: TestStatusUnknown,
		},
		{
			name:     "success",
			counter:  Counter{Success: 1},
			expected: TestStatusSuccess,
		},
		{
			name:     "failure",
			counter:  Counter{Failure: 1},
			expected: TestStatusFailure,
		},
		{
			name:     "error",
			counter:  Counter{Error: 1},
			expected: TestStatusError,
		},
		{
			name:     "warning",
			counter:  Counter{Warning: 2},
			expected: TestStatusWarning,
		},
		{
			name:     "disabled wins over everything",
			counter:  Counter{Success: 1, Failure: 1, Error: 1, Warning: 1, Disabled: 1},
			expected: TestStatusDisabled,
		},
		{
			name:     "success wins over failure",
			counter:  Counter{Success: 1, Failure: 1},
			expected: TestStatusSuccess,
		},
		{
			name:     "failure wins over error",
			counter:  Counter{Failure: 1, Error: 3},
			expected: TestStatusFailure,
		},
		{
			name:     "error wins over warning",
			counter:  Counter{Error: 1, Warning: 1},
			expected: TestStatusError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.counter.Status())
		})
	}
}

func TestCounterFailing(t *testing.T) {
	assert.False(t, Counter{Success: 3, Warning: 1, Disabled: 2}.Failing())
	assert.True(t, Counter{Failure: 1}.Failing())
	assert.True(t, Counter{Error: 1}.Failing())
	assert.Equal(t, 6, Counter{Success: 1, Failure: 2, Error: 1, Warning: 1, Disabled: 1}.Total())
}
