package transport

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"time"
)

// StatusError reports a non-retryable HTTP status or one that exhausted the
// retry budget.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d fetching %s", e.Code, e.URL)
}

// RetryPolicy classifies fetch outcomes and computes jittered backoff.
//
// 429, 503, and network timeouts are retryable. Other 5xx are retried within
// the same budget. Any other 4xx is fatal immediately.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// NewRetryPolicy builds a policy with sane defaults.
func NewRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  250 * time.Millisecond,
		MaxDelay:   5 * time.Second,
	}
}

// RetryableStatus reports whether the HTTP status warrants another attempt.
func (p RetryPolicy) RetryableStatus(status int) bool {
	if status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable {
		return true
	}
	return status >= 500
}

// RetryableError reports whether a transport-level error warrants another
// attempt. Context cancellation is never retried; network and timeout errors
// are treated alike.
func (p RetryPolicy) RetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// Connection resets, DNS failures, and timeouts all classify the same.
	return true
}

// Backoff returns the wait duration before the attempt-th retry:
// base x 2^attempt capped at the max, plus random jitter of up to half the
// capped delay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	capped := time.Duration(delay)
	return capped + randomJitter(capped/2)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
