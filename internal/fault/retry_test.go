package fault

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryWithBackoffSucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), 3, time.Millisecond, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected exactly 3 calls, got %d", calls)
	}
}

func TestRetryWithBackoffExhaustsAttempts(t *testing.T) {
	calls := 0
	wantErr := errors.New("still failing")
	err := RetryWithBackoff(context.Background(), 3, time.Millisecond, func(ctx context.Context) error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected last error returned, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected exactly maxAttempts calls, got %d", calls)
	}
}

func TestRetryWithBackoffFirstAttemptImmediate(t *testing.T) {
	start := time.Now()
	err := RetryWithBackoff(context.Background(), 1, time.Hour, func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("first attempt must not wait, took %v", elapsed)
	}
}

func TestRetryWithBackoffHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		// Cancel while the retry loop is sleeping between attempts.
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := RetryWithBackoff(ctx, 5, time.Hour, func(ctx context.Context) error {
		calls++
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single call before the long backoff, got %d", calls)
	}
}

func TestRetryWithBackoffRejectsZeroAttempts(t *testing.T) {
	err := RetryWithBackoff(context.Background(), 0, time.Millisecond, func(ctx context.Context) error {
		t.Fatalf("operation must not run with zero attempts")
		return nil
	})
	if err == nil {
		t.Fatalf("expected error for zero attempts")
	}
}
