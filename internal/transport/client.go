// Package transport provides the HTTP client used to talk to job servers.
//
// This package is internal to jobwatch. It wraps a pooled [http.Client]
// with per-request timeouts and response size limits, and reports every
// request outcome as a single [Response] value so the poller can classify
// transport failures and HTTP statuses in one place.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultMaxBodySize is the response body limit used when
// [Request.MaxBodySize] is zero.
const DefaultMaxBodySize = 1 << 20 // 1MB

// ErrBodyTooLarge is wrapped by [Response.Error] when a response body
// exceeds the request's size limit. The body is discarded.
var ErrBodyTooLarge = errors.New("response body too large")

// connection pooling limits; many concurrent watches usually target one host
const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 10
	defaultIdleConnTimeout     = 60 * time.Second
)

// Request describes one HTTP call made by [Client].
type Request struct {
	// Method is the HTTP method. Empty defaults to GET.
	Method string

	// URL is the absolute target URL.
	URL string

	// Headers are set on the request in addition to Content-Type for bodies.
	Headers map[string]string

	// Body is sent as application/json when non-nil.
	Body []byte

	// Timeout bounds the whole request including reading the body.
	Timeout time.Duration

	// MaxBodySize limits the response body. Zero means [DefaultMaxBodySize].
	MaxBodySize int64
}

// Response holds the result of an HTTP request made by [Client].
//
// Response captures all relevant information from an HTTP request including
// the body, status code, latency, and any error that occurred.
type Response struct {
	// Body contains the HTTP response body. It is nil when the body
	// exceeded the size limit.
	Body []byte

	// StatusCode is the HTTP status code (e.g., 200, 404, 500).
	// Zero if the request failed before receiving a response.
	StatusCode int

	// Latency is the total time taken for the request.
	Latency time.Duration

	// Error contains any error that occurred during the request.
	// nil indicates the request completed (though status may indicate an error).
	Error error
}

// Client is an HTTP client wrapper for job start and status calls.
//
// Client uses per-request timeouts via context rather than a global timeout.
// Response bodies are size limited; oversized bodies are reported as
// [ErrBodyTooLarge] rather than truncated.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a new [Client] with connection pooling enabled.
//
// Timeouts are applied per request via [Request.Timeout], not as a global
// client timeout.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        defaultMaxIdleConns,
				MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
				MaxConnsPerHost:     defaultMaxConnsPerHost,
				IdleConnTimeout:     defaultIdleConnTimeout,
			},
		},
	}
}

// Do performs an HTTP request and returns a structured [Response].
//
// Do always returns a Response; errors are captured in the Error field
// rather than returned separately. Cancelling ctx aborts the request.
func (c *Client) Do(ctx context.Context, r Request) Response {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	start := time.Now()

	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return Response{
			Latency: time.Since(start),
			Error:   fmt.Errorf("failed to create request: %w", err),
		}
	}

	req.Header.Set("Accept", "application/json")
	if r.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range r.Headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{
			Latency: time.Since(start),
			Error:   fmt.Errorf("request failed: %w", err),
		}
	}
	defer func() { _ = resp.Body.Close() }()

	limit := r.MaxBodySize
	if limit <= 0 {
		limit = DefaultMaxBodySize
	}

	// read one byte past the limit so an oversized body is detected, not truncated
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return Response{
			StatusCode: resp.StatusCode,
			Latency:    time.Since(start),
			Error:      fmt.Errorf("failed to read response body: %w", err),
		}
	}
	if int64(len(data)) > limit {
		return Response{
			StatusCode: resp.StatusCode,
			Latency:    time.Since(start),
			Error:      fmt.Errorf("%w: exceeds %d bytes", ErrBodyTooLarge, limit),
		}
	}

	return Response{
		Body:       data,
		StatusCode: resp.StatusCode,
		Latency:    time.Since(start),
	}
}

// Close closes all idle connections in the client's connection pool.
//
// Safe to call multiple times and on a nil receiver. After Close the client
// remains usable; new connections are established as needed.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil {
		return
	}
	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}
