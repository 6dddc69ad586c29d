package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transient() error {
	return &HTTPError{StatusCode: 503, Message: "unavailable"}
}

func TestWithRetrySucceedsFirstAttempt(t *testing.T) {
	calls := 0
	res := WithRetry(context.Background(), DefaultRetry, func(context.Context) (string, error) {
		calls++
		return "ok", nil
	})

	require.NoError(t, res.Err)
	assert.Equal(t, "ok", res.Value)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, calls)
}

func TestWithRetryRecoversAfterTransientFailures(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond}
	calls := 0
	res := WithRetry(context.Background(), cfg, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, transient()
		}
		return 42, nil
	})

	require.NoError(t, res.Err)
	assert.Equal(t, 42, res.Value)
	assert.Equal(t, 3, res.Attempts)
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond}
	calls := 0
	res := WithRetry(context.Background(), cfg, func(context.Context) (int, error) {
		calls++
		return 0, transient()
	})

	require.Error(t, res.Err)
	assert.Equal(t, 3, calls, "initial attempt plus MaxRetries retries")
	assert.Equal(t, 3, res.Attempts)

	var httpErr *HTTPError
	require.ErrorAs(t, res.Err, &httpErr)
	assert.Equal(t, 503, httpErr.StatusCode)
}

func TestWithRetryStopsOnNonRetryable(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 5, BaseDelay: time.Millisecond}
	calls := 0
	res := WithRetry(context.Background(), cfg, func(context.Context) (int, error) {
		calls++
		return 0, &HTTPError{StatusCode: 404, Message: "not found"}
	})

	require.Error(t, res.Err)
	assert.Equal(t, 1, calls, "client errors must not be retried")
}

func TestWithRetryBackoffSchedule(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, BaseDelay: 20 * time.Millisecond}

	start := time.Now()
	res := WithRetry(context.Background(), cfg, func(context.Context) (int, error) {
		return 0, transient()
	})
	elapsed := time.Since(start)

	require.Error(t, res.Err)
	// Delays: 20ms + 40ms + 80ms = 140ms between the four attempts.
	assert.GreaterOrEqual(t, elapsed, 140*time.Millisecond)
	assert.Less(t, elapsed, 400*time.Millisecond)
}

func TestWithRetryRespectsMaxDelay(t *testing.T) {
	got := backoffDelay(100*time.Millisecond, 5, 200*time.Millisecond, 0)
	assert.Equal(t, 200*time.Millisecond, got)
}

func TestWithRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxRetries: 10, BaseDelay: 50 * time.Millisecond}

	calls := 0
	res := WithRetry(ctx, cfg, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, transient()
	})

	require.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, 1, calls, "cancellation during backoff stops the sequence")
}

func TestWithRetryCustomClassifier(t *testing.T) {
	sentinel := errors.New("flaky")
	cfg := RetryConfig{
		MaxRetries:    2,
		BaseDelay:     time.Millisecond,
		RetryableFunc: func(err error) bool { return errors.Is(err, sentinel) },
	}

	calls := 0
	res := WithRetry(context.Background(), cfg, func(context.Context) (int, error) {
		calls++
		return 0, sentinel
	})

	require.ErrorIs(t, res.Err, sentinel)
	assert.Equal(t, 3, calls)
}

func TestRetryableClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout status", &HTTPError{StatusCode: 408}, true},
		{"rate limited", &HTTPError{StatusCode: 429}, true},
		{"server error", &HTTPError{StatusCode: 500}, true},
		{"bad gateway", &HTTPError{StatusCode: 502}, true},
		{"bad request", &HTTPError{StatusCode: 400}, false},
		{"not found", &HTTPError{StatusCode: 404}, false},
		{"conflict", &HTTPError{StatusCode: 409}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"breaker open", &BreakerOpenError{Dependency: "accounts"}, false},
		{"plain error", errors.New("nope"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}
