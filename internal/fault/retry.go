package fault

import (
	"context"
	"fmt"
	"time"
)

// RetryWithBackoff runs op up to maxAttempts times, sleeping
// baseDelay * 2^(attempt-1) between attempts. It returns nil on the first
// success and the last error once attempts are exhausted. Cancellation of
// ctx aborts the wait and returns the context error wrapped around the last
// failure.
func RetryWithBackoff(ctx context.Context, maxAttempts int, baseDelay time.Duration, op func(ctx context.Context) error) error {
	if maxAttempts < 1 {
		return fmt.Errorf("maxAttempts must be at least 1, got %d", maxAttempts)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			backoff := baseDelay << uint(attempt-2)
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				if lastErr != nil {
					return fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
				}
				return ctx.Err()
			case <-timer.C:
			}
		}

		if err := op(ctx); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}
