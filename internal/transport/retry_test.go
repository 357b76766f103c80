package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryPolicyStatusClassification(t *testing.T) {
	t.Parallel()

	policy := NewRetryPolicy()

	tests := []struct {
		status    int
		retryable bool
	}{
		{status: 429, retryable: true},
		{status: 503, retryable: true},
		{status: 500, retryable: true},
		{status: 502, retryable: true},
		{status: 400, retryable: false},
		{status: 404, retryable: false},
		{status: 410, retryable: false},
	}
	for _, tc := range tests {
		require.Equal(t, tc.retryable, policy.RetryableStatus(tc.status), "status %d", tc.status)
	}
}

func TestRetryPolicyErrorClassification(t *testing.T) {
	t.Parallel()

	policy := NewRetryPolicy()

	require.True(t, policy.RetryableError(errors.New("dial tcp: i/o timeout")))
	require.False(t, policy.RetryableError(nil))
	require.False(t, policy.RetryableError(context.Canceled))
	require.False(t, policy.RetryableError(context.DeadlineExceeded))
}

func TestRetryPolicyBackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()

	policy := RetryPolicy{
		MaxRetries: 5,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   time.Second,
	}

	for attempt := 0; attempt < 6; attempt++ {
		delay := policy.Backoff(attempt)
		expected := float64(policy.BaseDelay) * float64(int(1)<<attempt)
		if expected > float64(policy.MaxDelay) {
			expected = float64(policy.MaxDelay)
		}
		capped := time.Duration(expected)
		// Backoff returns the capped delay plus jitter in [0, capped/2).
		require.GreaterOrEqual(t, delay, capped, "attempt %d", attempt)
		require.Less(t, delay, capped+capped/2, "attempt %d", attempt)
	}
}
