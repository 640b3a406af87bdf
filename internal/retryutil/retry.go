// Package retryutil provides generic retry-with-backoff for transient
// failures, context-aware so cancellation propagates between
// suspension points.
package retryutil

import (
	"context"
	"fmt"
	"time"
)

// IsRetryable reports whether err should trigger another attempt.
type IsRetryable func(error) bool

// Delays is the fixed backoff schedule applied between attempts: the
// facilitator's on-chain submit retries use exactly this schedule.
var Delays = []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}

// WithBackoff runs fn up to len(Delays)+1 times, sleeping Delays[attempt]
// between attempts while the error is retryable and ctx is not done.
func WithBackoff[T any](ctx context.Context, isRetryable IsRetryable, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	maxAttempts := len(Delays) + 1
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("retryutil: context cancelled: %w", err)
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return zero, err
		}

		if attempt < len(Delays) {
			select {
			case <-time.After(Delays[attempt]):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}
	}

	return zero, fmt.Errorf("retryutil: exhausted %d attempts: %w", maxAttempts, lastErr)
}
