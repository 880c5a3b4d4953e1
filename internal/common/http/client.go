package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"membership-manager/internal/circuitbreaker"
	"membership-manager/internal/common/errors"
	"membership-manager/internal/common/logging"
	"membership-manager/internal/common/utils"
)

// ClientConfig holds HTTP client configuration
type ClientConfig struct {
	Timeout             time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	Transport           http.RoundTripper
}

// DefaultClientConfig returns default HTTP client configuration
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
}

// ClientOption is a function that modifies ClientConfig
type ClientOption func(*ClientConfig)

// WithTimeout sets the client timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.Timeout = timeout
	}
}

// WithTransport sets a custom transport
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *ClientConfig) {
		c.Transport = transport
	}
}

// NewHTTPClient creates a new HTTP client with the given options
func NewHTTPClient(opts ...ClientOption) *http.Client {
	cfg := DefaultClientConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        cfg.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
			IdleConnTimeout:     cfg.IdleConnTimeout,
		}
	}

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}
}

// RequestOptions describes one outbound request
type RequestOptions struct {
	Method  string
	URL     string
	Body    []byte
	Headers map[string]string
	// BasicAuth is sent when User is non-empty
	User     string
	Password string
}

// Response is an HTTP response with its body read
type Response struct {
	StatusCode int
	Header     http.Header
	RawBody    []byte
	Duration   time.Duration
}

// Wrapper adds retries and a circuit breaker to an http.Client
type Wrapper struct {
	client  *http.Client
	breaker *circuitbreaker.Breaker
	retry   utils.RetryConfig
}

// NewWrapper wraps client. A nil breaker disables breaking.
func NewWrapper(client *http.Client, breaker *circuitbreaker.Breaker) *Wrapper {
	if client == nil {
		client = NewHTTPClient()
	}
	return &Wrapper{
		client:  client,
		breaker: breaker,
		retry:   utils.DefaultRetryConfig(),
	}
}

// WithRetryConfig sets custom retry configuration
func (w *Wrapper) WithRetryConfig(config utils.RetryConfig) *Wrapper {
	w.retry = config
	return w
}

// Do sends the request, retrying 429 and 5xx responses and transport
// errors. Other non-2xx responses are returned along with a
// validation or not-found error.
func (w *Wrapper) Do(ctx context.Context, opts RequestOptions) (*Response, error) {
	var response *Response
	err := utils.RetryWithBackoff(ctx, w.retry, func() error {
		var reqErr error
		if w.breaker == nil {
			response, reqErr = w.execute(ctx, opts)
			return reqErr
		}
		return w.breaker.Execute(ctx, func() error {
			response, reqErr = w.execute(ctx, opts)
			return reqErr
		})
	})
	return response, err
}

func (w *Wrapper) execute(ctx context.Context, opts RequestOptions) (*Response, error) {
	start := time.Now()

	var body io.Reader
	if opts.Body != nil {
		body = bytes.NewReader(opts.Body)
	}
	req, err := http.NewRequestWithContext(ctx, opts.Method, opts.URL, body)
	if err != nil {
		return nil, errors.InternalError("failed to create request", err)
	}
	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}
	if opts.User != "" {
		req.SetBasicAuth(opts.User, opts.Password)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, errors.ConnectionError("request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.ConnectionError("failed to read response body", err)
	}

	response := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		RawBody:    raw,
		Duration:   time.Since(start),
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return response, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		logging.Warn("Retryable HTTP status",
			logging.Field{"url", opts.URL},
			logging.Field{"status", resp.StatusCode},
		)
		return response, errors.ConnectionError(fmt.Sprintf("HTTP %d from %s", resp.StatusCode, req.URL.Host), nil)
	case resp.StatusCode == http.StatusNotFound:
		return response, errors.NotFoundError(req.URL.Path)
	default:
		return response, errors.ValidationError(fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(raw, 512)))
	}
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
