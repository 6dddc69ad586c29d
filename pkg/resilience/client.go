package resilience

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Client is a resilient HTTP client for one downstream dependency.
//
// Each Call is one logical call: it runs the full retry sequence inside a
// single breaker execution, so the breaker counts one failure per
// exhausted call rather than one per attempt. Correlation IDs are taken
// from the context (generated when absent) and sent on every request.
type Client struct {
	name       string
	baseURL    string
	httpClient *http.Client
	breaker    *Breaker
	retry      RetryConfig
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the underlying HTTP client. Useful for wrapping the
// transport (instrumentation) or tightening timeouts.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryConfig sets the retry policy.
func WithRetryConfig(cfg RetryConfig) ClientOption {
	return func(c *Client) { c.retry = cfg }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a client for the named dependency rooted at baseURL,
// guarded by the given breaker.
func NewClient(name, baseURL string, breaker *Breaker, opts ...ClientOption) *Client {
	c := &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		breaker: breaker,
		retry:   DefaultRetry,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the dependency name.
func (c *Client) Name() string {
	return c.name
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	return c.Call(ctx, http.MethodGet, path, nil, nil)
}

// Post issues a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) ([]byte, error) {
	return c.Call(ctx, http.MethodPost, path, body, nil)
}

// Call issues a request and returns the response body.
//
// A non-nil body is JSON-encoded. Failures that may be transient (no
// response, timeout, HTTP 408/429/5xx) are retried with exponential
// backoff; other statuses fail immediately. When the call cannot be
// completed the returned error is a *DownstreamError (or a
// *BreakerOpenError when rejected without being attempted).
func (c *Client) Call(ctx context.Context, method, path string, body any, headers map[string]string) ([]byte, error) {
	ctx, correlationID := EnsureCorrelationID(ctx)

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	var result RetryResult[[]byte]
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		result = WithRetry(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
			return c.do(ctx, method, path, payload, headers, correlationID)
		})
		return result.Err
	})

	if err != nil {
		var be *BreakerOpenError
		if errors.As(err, &be) {
			c.logger.WarnContext(ctx, "call rejected, circuit open",
				"dependency", c.name,
				"path", path,
				"correlation_id", correlationID)
			return nil, err
		}

		status := 0
		msg := err.Error()
		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			status = httpErr.StatusCode
			msg = httpErr.Message
		}

		c.logger.ErrorContext(ctx, "downstream call failed",
			"dependency", c.name,
			"method", method,
			"path", path,
			"status", status,
			"attempts", result.Attempts,
			"correlation_id", correlationID,
			"error", err)

		return nil, &DownstreamError{
			Dependency:    c.name,
			Status:        status,
			Message:       msg,
			CorrelationID: correlationID,
			Attempts:      result.Attempts,
			Err:           err,
		}
	}

	if result.Attempts > 1 {
		c.logger.InfoContext(ctx, "downstream call recovered after retry",
			"dependency", c.name,
			"path", path,
			"attempts", result.Attempts,
			"correlation_id", correlationID)
	}
	return result.Value, nil
}

// do performs a single HTTP attempt.
func (c *Client) do(ctx context.Context, method, path string, payload []byte, headers map[string]string, correlationID string) ([]byte, error) {
	url := c.baseURL + "/" + strings.TrimLeft(path, "/")

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(HeaderCorrelationID, correlationID)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    truncate(string(respBody), 256),
			Endpoint:   url,
		}
	}

	return respBody, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
