package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:       attempts,
		InitialDelay:      time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxDelay:          5 * time.Millisecond,
	}
}

func TestRetryEventualSuccess(t *testing.T) {
	calls := 0
	result, err := Retry(context.Background(), fastRetry(3), nil, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if result.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", result.Attempts)
	}
	if len(result.AttemptErrors) != 2 {
		t.Errorf("attempt errors = %d, want 2", len(result.AttemptErrors))
	}
}

func TestRetryExhausted(t *testing.T) {
	boom := errors.New("boom")
	result, err := Retry(context.Background(), fastRetry(3), nil, func(ctx context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if result.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", result.Attempts)
	}
	if len(result.AttemptErrors) != 3 {
		t.Errorf("attempt errors = %d, want all 3 collected", len(result.AttemptErrors))
	}
}

func TestRetryNonRetryable(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	result, err := Retry(context.Background(), fastRetry(5), func(err error) bool {
		return !errors.Is(err, fatal)
	}, func(ctx context.Context) error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("err = %v, want fatal", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (non-retryable short-circuit)", calls)
	}
	if result.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", result.Attempts)
	}
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Retry(ctx, fastRetry(3), nil, func(ctx context.Context) error {
		calls++
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0 on pre-cancelled context", calls)
	}
}

func TestRetryCancelBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	cfg := RetryConfig{
		MaxAttempts:       5,
		InitialDelay:      time.Hour, // would hang without cancellation
		BackoffMultiplier: 2.0,
		MaxDelay:          time.Hour,
	}

	done := make(chan error, 1)
	go func() {
		_, err := Retry(ctx, cfg, nil, func(ctx context.Context) error {
			return errors.New("transient")
		})
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("retry did not observe cancellation during backoff")
	}
}
