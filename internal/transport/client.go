// Package transport provides the HTTP client shared by every remote call:
// a pooled connection transport, an idempotent-method retry policy, and a
// per-URL ETag cache for conditional requests.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/http2"
)

const (
	maxAttempts  = 3
	initialDelay = 1 * time.Second

	maxIdleConns     = 20
	maxConnsPerHost  = 20
	maxIdleHostConns = 10
)

// Error is returned when the retry budget is exhausted or a request fails
// with a non-retryable status. StatusCode is zero for connection failures.
type Error struct {
	StatusCode int
	Body       string
	Attempts   int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("request failed with status %d after %d attempt(s): %s", e.StatusCode, e.Attempts, e.Body)
	}
	return fmt.Sprintf("request failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Stats counts transport activity. Purely observational.
type Stats struct {
	Requests int64
	Retries  int64
}

// Options customizes a single request.
type Options struct {
	Header http.Header
	Body   []byte
	Params url.Values
}

// Response is the outcome of a completed exchange. NotModified is set when
// the server answered 304 to a conditional request; callers must branch on
// it rather than inspecting the (empty) body.
type Response struct {
	StatusCode  int
	Header      http.Header
	Body        []byte
	NotModified bool
}

// Client wraps http.Client with bounded pooling, default headers, and an
// automatic retry policy for idempotent methods. A single Client is shared
// by all components of one anydown instance; it is not a process global.
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	logger     *slog.Logger
	baseDelay  time.Duration // retry backoff unit, shortened in tests

	mu    sync.Mutex
	stats Stats
}

// NewClient builds a Client with the pooled transport. Default headers are
// sent on every request; per-call headers override them.
func NewClient(defaultHeaders map[string]string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	tr := &http.Transport{
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxIdleHostConns,
		MaxConnsPerHost:     maxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
	}
	// Enable HTTP/2 on the pooled transport. Failure here only means the
	// client stays on HTTP/1.1, which the service also speaks.
	if err := http2.ConfigureTransport(tr); err != nil {
		logger.Warn("http2 configuration failed, continuing with http/1.1", "error", err)
	}

	headers := make(map[string]string, len(defaultHeaders))
	for k, v := range defaultHeaders {
		headers[k] = v
	}

	return &Client{
		httpClient: &http.Client{
			Transport: tr,
			Timeout:   30 * time.Second,
		},
		headers:   headers,
		logger:    logger,
		baseDelay: initialDelay,
	}
}

// SetHeader installs or replaces a default header for all future requests.
// Used to attach the auth token once login succeeds.
func (c *Client) SetHeader(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers[key] = value
}

// RemoveHeader drops a default header.
func (c *Client) RemoveHeader(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.headers, key)
}

// Stats returns a copy of the accumulated counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Jar exposes the underlying cookie jar, if one has been installed.
func (c *Client) Jar() http.CookieJar {
	return c.httpClient.Jar
}

// SetJar installs a cookie jar on the underlying client.
func (c *Client) SetJar(jar http.CookieJar) {
	c.httpClient.Jar = jar
}

func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Do issues one request. Idempotent methods are retried up to 3 attempts
// with 1s/2s/4s backoff on 429/5xx or connection failure; writes are sent
// exactly once. A 304 response is a success with NotModified set.
func (c *Client) Do(ctx context.Context, method, rawURL string, opts *Options) (*Response, error) {
	if opts == nil {
		opts = &Options{}
	}

	reqURL := rawURL
	if len(opts.Params) > 0 {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("parsing url %q: %w", rawURL, err)
		}
		q := u.Query()
		for k, vs := range opts.Params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
		reqURL = u.String()
	}

	attempts := maxAttempts
	if !isIdempotent(method) {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := c.baseDelay << (attempt - 1) // 1s, 2s, 4s
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			c.mu.Lock()
			c.stats.Retries++
			c.mu.Unlock()
			c.logger.Debug("retrying request", "method", method, "url", rawURL, "attempt", attempt+1)
		}

		resp, err := c.send(ctx, method, reqURL, opts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = &Error{Attempts: attempt + 1, Err: err}
			continue
		}

		if isRetryableStatus(resp.StatusCode) {
			lastErr = &Error{StatusCode: resp.StatusCode, Body: string(resp.Body), Attempts: attempt + 1}
			continue
		}

		return resp, nil
	}

	return nil, lastErr
}

func (c *Client) send(ctx context.Context, method, reqURL string, opts *Options) (*Response, error) {
	var body io.Reader
	if len(opts.Body) > 0 {
		body = bytes.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	c.mu.Lock()
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	c.stats.Requests++
	c.mu.Unlock()

	for k, vs := range opts.Header {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	return &Response{
		StatusCode:  resp.StatusCode,
		Header:      resp.Header,
		Body:        respBody,
		NotModified: resp.StatusCode == http.StatusNotModified,
	}, nil
}
