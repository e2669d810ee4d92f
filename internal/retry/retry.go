// Package retry wraps a single upstream call in bounded exponential
// backoff. Factored out so business code never hand-rolls retry loops.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Predicate reports whether an error is worth another attempt.
type Predicate func(error) bool

// Do calls fn up to attempts times, sleeping base<<i after failed
// attempt i. It never exceeds the attempt ceiling, stops early on a
// non-retryable error or cancelled context, and wraps the last error
// with the attempt count on exhaustion.
func Do(ctx context.Context, attempts int, base time.Duration, retryable Predicate, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}
		if i == attempts-1 {
			break
		}

		delay := base << uint(i)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}
