package resilience

import (
	"context"
	"time"
)

// RetryConfig controls bounded exponential-backoff retries.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Default: 3
	MaxAttempts int

	// InitialDelay is the wait before the first retry. Default: 100ms
	InitialDelay time.Duration

	// BackoffMultiplier scales the delay each attempt. Default: 2.0
	BackoffMultiplier float64

	// MaxDelay caps the wait between attempts. Default: 5s
	MaxDelay time.Duration
}

// DefaultRetryConfig returns the standard retry settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      100 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxDelay:          5 * time.Second,
	}
}

// Operation is a guarded unit of work.
type Operation func(ctx context.Context) error

// RetryResult reports how a retried operation went. AttemptErrors holds
// every attempt's error in order, for observability; it's populated even
// when the final attempt succeeds.
type RetryResult struct {
	Attempts      int
	AttemptErrors []error
}

// Retry runs fn up to cfg.MaxAttempts times with exponential backoff.
// retryable, if non-nil, can mark an error as final, short-circuiting the
// remaining attempts. Returns the last error if all attempts failed.
func Retry(ctx context.Context, cfg RetryConfig, retryable func(error) bool, fn Operation) (RetryResult, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = 2.0
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}

	var result RetryResult
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result.Attempts = attempt

		if err := ctx.Err(); err != nil {
			result.AttemptErrors = append(result.AttemptErrors, err)
			return result, err
		}

		err := fn(ctx)
		if err == nil {
			return result, nil
		}
		result.AttemptErrors = append(result.AttemptErrors, err)

		if retryable != nil && !retryable(err) {
			return result, err
		}
		if attempt == cfg.MaxAttempts {
			return result, err
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			result.AttemptErrors = append(result.AttemptErrors, ctx.Err())
			return result, ctx.Err()
		}

		delay = time.Duration(float64(delay) * cfg.BackoffMultiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	// Unreachable: the loop always returns.
	return result, nil
}
