package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mapalinear/mapalinear/pkg/resilience"
)

// Client wraps http.Client with convenience methods, retry support, and an
// optional circuit breaker
type Client struct {
	httpClient  *http.Client
	baseURL     string
	userAgent   string
	retryConfig *resilience.RetryConfig
	breaker     *resilience.CircuitBreaker
}

// Option configures the HTTP client
type Option func(*Client)

// WithRetry enables retry logic with the given configuration
func WithRetry(config resilience.RetryConfig) Option {
	return func(c *Client) {
		c.retryConfig = &config
	}
}

// WithDefaultRetry enables default retry configuration
func WithDefaultRetry() Option {
	config := resilience.DefaultRetryConfig()
	config.RetryableChecker = isHTTPRetryable
	return func(c *Client) {
		c.retryConfig = &config
	}
}

// WithCircuitBreaker routes every request through the breaker. The breaker
// wraps the retry loop, so it only counts failures that exhausted retries.
func WithCircuitBreaker(breaker *resilience.CircuitBreaker) Option {
	return func(c *Client) {
		c.breaker = breaker
	}
}

// WithUserAgent sets the User-Agent header on all requests. Nominatim and
// Overpass usage policies require an identifying agent.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// NewClient creates a new HTTP client
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: baseURL,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Get makes a GET request
func (c *Client) Get(ctx context.Context, path string, headers map[string]string) ([]byte, error) {
	return c.execute(ctx, http.MethodGet, path, nil, headers)
}

// Post makes a POST request with a raw body (form or JSON, per headers)
func (c *Client) Post(ctx context.Context, path string, body []byte, headers map[string]string) ([]byte, error) {
	return c.execute(ctx, http.MethodPost, path, body, headers)
}

// execute layers the configured breaker around the configured retry loop
// around the raw request
func (c *Client) execute(ctx context.Context, method, path string, body []byte, headers map[string]string) ([]byte, error) {
	call := func(ctx context.Context) (interface{}, error) {
		return c.do(ctx, method, path, body, headers)
	}
	if c.retryConfig != nil {
		attempt := call
		call = func(ctx context.Context) (interface{}, error) {
			return resilience.Retry(ctx, *c.retryConfig, attempt)
		}
	}

	var result interface{}
	var err error
	if c.breaker != nil {
		result, err = c.breaker.Execute(ctx, resilience.Operation(call))
	} else {
		result, err = call(ctx)
	}
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// PostJSON makes a POST request with a JSON-marshalled body
func (c *Client) PostJSON(ctx context.Context, path string, body interface{}, headers map[string]string) ([]byte, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	if headers == nil {
		headers = make(map[string]string)
	}
	headers["Content-Type"] = "application/json"
	return c.Post(ctx, path, jsonData, headers)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, headers map[string]string) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
		}
	}

	return respBody, nil
}

// HTTPError represents an HTTP error response
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// isHTTPRetryable determines if an HTTP error is retryable
func isHTTPRetryable(err error) bool {
	if err == nil {
		return false
	}

	if httpErr, ok := err.(*HTTPError); ok {
		return resilience.IsRetryableHTTPStatus(httpErr.StatusCode)
	}

	// For other errors (network issues, timeouts), retry by default
	return true
}
