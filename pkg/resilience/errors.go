// Package resilience provides the resilient inter-service call layer:
// a retrying HTTP client with exponential backoff, per-dependency circuit
// breaking, and end-to-end correlation ID propagation.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// HTTPError represents a non-2xx response from a downstream service.
type HTTPError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("HTTP %d at %s: %s", e.StatusCode, e.Endpoint, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// BreakerOpenError is returned when a call is rejected without invoking
// the operation because the dependency's circuit is open.
type BreakerOpenError struct {
	Dependency string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *BreakerOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s", e.Dependency)
}

// DownstreamError is the terminal failure of one logical call: the
// dependency name, the last HTTP status (0 when no response was
// received), and the correlation ID, sufficient for the caller to decide
// to surface or swallow.
type DownstreamError struct {
	Dependency    string
	Status        int
	Message       string
	CorrelationID string
	Attempts      int
	Err           error
}

// Error implements the error interface.
func (e *DownstreamError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s unavailable (HTTP %d, %d attempts, correlation %s): %s",
			e.Dependency, e.Status, e.Attempts, e.CorrelationID, e.Message)
	}
	return fmt.Sprintf("%s unavailable (%d attempts, correlation %s): %s",
		e.Dependency, e.Attempts, e.CorrelationID, e.Message)
}

// Unwrap returns the underlying error.
func (e *DownstreamError) Unwrap() error {
	return e.Err
}

// IsDownstreamUnavailable reports whether err is a terminal downstream
// failure (retries exhausted or circuit open).
func IsDownstreamUnavailable(err error) bool {
	var de *DownstreamError
	if errors.As(err, &de) {
		return true
	}
	var be *BreakerOpenError
	return errors.As(err, &be)
}

// Retryable classifies a call failure.
//
// Retryable failures: no response received (network error, timeout,
// context deadline) or a response with status 408, 429, or >= 500.
// Any other 4xx fails immediately.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case 408, 429:
			return true
		default:
			return httpErr.StatusCode >= 500
		}
	}

	// A rejected call never reached the dependency; retrying inside the
	// same breaker execution would always fail again.
	var be *BreakerOpenError
	if errors.As(err, &be) {
		return false
	}

	// Per-call timeouts count as retryable.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	// No response received (connection refused, reset, DNS failure, timeout).
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return false
}
