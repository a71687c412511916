// Package webfetch performs bounded, retrying HTTP GETs against public pages and feeds.
package webfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/bryan-buckman/tubevore/internal/retry"
)

const (
	defaultUserAgent = "Mozilla/5.0 (compatible; tubevore/1.0)"
	// defaultMaxBody guards against excessive payloads; watch pages run ~1MB.
	defaultMaxBody = 4 << 20
)

// Policy bounds a single logical fetch: per-attempt timeout plus retry schedule.
type Policy struct {
	Timeout time.Duration
	Retry   retry.Config
}

// Response is a fully read 2xx response.
type Response struct {
	// URL is the final URL after redirects.
	URL        string
	StatusCode int
	Body       []byte
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// StatusError indicates a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.StatusCode)
}

// Retryable reports whether the status is worth another attempt (5xx or 429).
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithRateLimit limits requests per host. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		limit := rate.Inf
		if rps > 0 {
			limit = rate.Limit(rps)
		}
		c.limiter = newHostLimiter(limit, burst)
	}
}

// WithMaxBody caps how many body bytes are read per response.
func WithMaxBody(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// Client fetches URLs with timeouts, retries and per-host rate limiting.
// It is safe for concurrent use.
type Client struct {
	http      *http.Client
	userAgent string
	limiter   *hostLimiter
	maxBody   int64
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{
		http:      &http.Client{},
		userAgent: defaultUserAgent,
		maxBody:   defaultMaxBody,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get fetches rawURL under the given policy. Network errors, 5xx and 429 are
// retried; other 4xx responses fail immediately with a *StatusError.
func (c *Client) Get(ctx context.Context, rawURL string, p Policy) (*Response, error) {
	var resp *Response
	classify := func(err error) bool {
		if ctx.Err() != nil {
			return false
		}
		var se *StatusError
		if errors.As(err, &se) {
			return se.Retryable()
		}
		return true
	}
	err := retry.Do(ctx, p.Retry, classify, func(ctx context.Context) error {
		r, err := c.get(ctx, rawURL, p.Timeout)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) get(ctx context.Context, rawURL string, timeout time.Duration) (*Response, error) {
	if err := c.limiter.wait(ctx, extractHost(rawURL)); err != nil {
		return nil, fmt.Errorf("rate limit wait for %s: %w", rawURL, err)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept-Language", "en")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 64<<10))
		return nil, &StatusError{URL: rawURL, StatusCode: res.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, c.maxBody))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	return &Response{
		URL:        res.Request.URL.String(),
		StatusCode: res.StatusCode,
		Body:       body,
	}, nil
}
