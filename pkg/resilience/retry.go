package resilience

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryConfig configures retry behavior for one logical call.
type RetryConfig struct {
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int

	// BaseDelay is the backoff before the second attempt. The delay
	// before attempt n (n >= 2) is BaseDelay * 2^(n-2).
	BaseDelay time.Duration

	// MaxDelay caps the backoff duration. Zero means no cap.
	MaxDelay time.Duration

	// Jitter is the random jitter factor (0.0-1.0) applied to each delay.
	// Optional; the backoff contract holds with or without it.
	Jitter float64

	// RetryableFunc optionally overrides the default retryability check.
	RetryableFunc func(error) bool
}

// DefaultRetry is the standard retry configuration.
var DefaultRetry = RetryConfig{
	MaxRetries: 3,
	BaseDelay:  500 * time.Millisecond,
	MaxDelay:   30 * time.Second,
	Jitter:     0.1,
}

// NoRetry disables retries.
var NoRetry = RetryConfig{MaxRetries: 0}

// RetryResult contains the result of a retried operation.
type RetryResult[T any] struct {
	// Value is the result if successful.
	Value T

	// Err is the final error if all attempts failed.
	Err error

	// Attempts is the number of attempts made.
	Attempts int

	// Duration is the total time spent.
	Duration time.Duration
}

// WithRetry executes fn with retries, respecting context cancellation.
// Only failures classified retryable (see Retryable, or cfg.RetryableFunc)
// are retried; others fail immediately.
func WithRetry[T any](
	ctx context.Context,
	cfg RetryConfig,
	fn func(context.Context) (T, error),
) RetryResult[T] {
	start := time.Now()
	var lastErr error

	isRetryable := cfg.RetryableFunc
	if isRetryable == nil {
		isRetryable = Retryable
	}

	maxAttempts := cfg.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return RetryResult[T]{
				Err:      err,
				Attempts: attempt - 1,
				Duration: time.Since(start),
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return RetryResult[T]{
				Value:    result,
				Attempts: attempt,
				Duration: time.Since(start),
			}
		}

		lastErr = err

		if !isRetryable(err) || attempt == maxAttempts {
			return RetryResult[T]{
				Err:      err,
				Attempts: attempt,
				Duration: time.Since(start),
			}
		}

		// Exponential schedule: BaseDelay before the 2nd attempt,
		// doubling each attempt after that.
		delay := backoffDelay(cfg.BaseDelay, attempt, cfg.MaxDelay, cfg.Jitter)
		select {
		case <-ctx.Done():
			return RetryResult[T]{
				Err:      ctx.Err(),
				Attempts: attempt,
				Duration: time.Since(start),
			}
		case <-time.After(delay):
		}
	}

	return RetryResult[T]{
		Err:      lastErr,
		Attempts: maxAttempts,
		Duration: time.Since(start),
	}
}

// backoffDelay returns the delay after the given (1-based) failed attempt.
func backoffDelay(base time.Duration, attempt int, max time.Duration, jitter float64) time.Duration {
	delay := base << (attempt - 1) // base * 2^(attempt-1); attempt 1 failure -> base before attempt 2
	if max > 0 && delay > max {
		delay = max
	}
	if jitter > 0 {
		// delay +/- (delay * jitter * random)
		amount := float64(delay) * jitter * (rand.Float64()*2 - 1)
		delay = time.Duration(float64(delay) + amount)
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}
