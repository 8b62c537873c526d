// Package httpclient provides the HTTP transport shared by the directory downloader
// and the disclosure API client.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	neturl "net/url"
	"time"
)

const (
	// DefaultTimeout is the default overall timeout for HTTP requests
	DefaultTimeout = 60 * time.Second

	// DefaultConnectTimeout is the default timeout for establishing a connection
	DefaultConnectTimeout = 10 * time.Second

	// DefaultResponseTimeout is the default time to wait for response headers
	DefaultResponseTimeout = 40 * time.Second

	// MaxResponseSize is the default maximum allowed response size (100MB)
	MaxResponseSize = 100 * 1024 * 1024

	// UserAgent is the user agent string for HTTP requests
	UserAgent = "impact-ingest/1.0"
)

// Client is an interface for HTTP operations
type Client interface {
	// Get performs an HTTP GET request and returns the response body
	Get(ctx context.Context, url string) ([]byte, error)
}

// DefaultClient is the default HTTP client implementation
type DefaultClient struct {
	client          *http.Client
	connectTimeout  time.Duration
	responseTimeout time.Duration
	userAgent       string
	maxResponseSize int64
}

// Option configures a DefaultClient
type Option func(*DefaultClient)

// WithConnectTimeout sets the dial timeout
func WithConnectTimeout(d time.Duration) Option {
	return func(c *DefaultClient) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// WithResponseTimeout sets the maximum wait for response headers once the request is written
func WithResponseTimeout(d time.Duration) Option {
	return func(c *DefaultClient) {
		if d > 0 {
			c.responseTimeout = d
		}
	}
}

// WithUserAgent overrides the User-Agent header
func WithUserAgent(ua string) Option {
	return func(c *DefaultClient) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithMaxResponseSize overrides the response size cap
func WithMaxResponseSize(n int64) Option {
	return func(c *DefaultClient) {
		if n > 0 {
			c.maxResponseSize = n
		}
	}
}

// NewDefaultClient creates a new default HTTP client with the specified overall timeout.
// If timeout is 0, uses DefaultTimeout
func NewDefaultClient(timeout time.Duration, opts ...Option) *DefaultClient {
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	c := &DefaultClient{
		connectTimeout:  DefaultConnectTimeout,
		responseTimeout: DefaultResponseTimeout,
		userAgent:       UserAgent,
		maxResponseSize: MaxResponseSize,
	}
	for _, opt := range opts {
		opt(c)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   c.connectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = c.connectTimeout
	transport.ResponseHeaderTimeout = c.responseTimeout

	c.client = &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
	return c
}

// Get performs an HTTP GET request
func (c *DefaultClient) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := c.client.Do(req)
	if err != nil {
		var urlErr *neturl.Error
		if errors.As(err, &urlErr) {
			urlErr.URL = redactQuery(urlErr.URL)
		}
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, NewHTTPError(resp.StatusCode, url, resp.Status)
	}

	if resp.ContentLength > c.maxResponseSize {
		return nil, fmt.Errorf("response size %d bytes exceeds maximum allowed size of %d bytes (%.2f MB)",
			resp.ContentLength, c.maxResponseSize, float64(c.maxResponseSize)/(1024*1024))
	}

	// +1 to detect if limit exceeded
	limitedReader := io.LimitReader(resp.Body, c.maxResponseSize+1)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if int64(len(body)) > c.maxResponseSize {
		return nil, fmt.Errorf("response size exceeds maximum allowed size of %d bytes (%.2f MB)",
			c.maxResponseSize, float64(c.maxResponseSize)/(1024*1024))
	}

	return body, nil
}
