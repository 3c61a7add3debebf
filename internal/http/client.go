package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Options configures NewClient.
type Options struct {
	// Timeout bounds a whole request including the body. Defaults to 60s.
	Timeout time.Duration

	// UserAgent defaults to "multipartus-downloader".
	UserAgent string

	// RequestsPerSecond paces requests per host. 0 disables pacing.
	RequestsPerSecond float64

	// Transport overrides the underlying round tripper (tests).
	Transport http.RoundTripper
}

// Client wraps HTTP operations with lecture-capture specific configuration.
//
// Client provides:
//   - Authorization: Bearer header when a token is bound
//   - Per-host rate limiting shared by every copy made with WithToken
//   - Streaming downloads with progress tracking
//   - HEAD probes with their own timeout
type Client struct {
	httpClient *http.Client
	userAgent  string
	token      string
	limits     *hostLimits
}

// NewClient creates a new HTTP client.
func NewClient(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "multipartus-downloader"
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: opts.Transport,
		},
		userAgent: opts.UserAgent,
		limits:    newHostLimits(opts.RequestsPerSecond),
	}
}

// WithToken returns a copy of c that authenticates every request with the
// bearer token. The copy shares connection pool and rate limits with c.
func (c *Client) WithToken(token string) *Client {
	clone := *c
	clone.token = token
	return &clone
}

// ProgressWriter wraps a writer to track download progress.
//
// Example:
//
//	pw := &ProgressWriter{
//	    Writer: file,
//	    Total:  contentLength,
//	    OnUpdate: func(written, total int64) {
//	        fmt.Printf("%d / %d bytes\n", written, total)
//	    },
//	}
//	io.Copy(pw, response.Body)
type ProgressWriter struct {
	// Writer is the underlying writer to write data to.
	Writer io.Writer

	// Total is the expected total bytes (from Content-Length header).
	// -1 when unknown.
	Total int64

	// Written is the current number of bytes written.
	Written int64

	// OnUpdate is called after each Write with current progress.
	OnUpdate func(written, total int64)
}

// Write implements io.Writer, tracking progress and calling OnUpdate.
func (pw *ProgressWriter) Write(p []byte) (int, error) {
	n, err := pw.Writer.Write(p)
	pw.Written += int64(n)
	if pw.OnUpdate != nil {
		pw.OnUpdate(pw.Written, pw.Total)
	}
	return n, err
}

// Get performs a GET request and returns the response body as bytes.
//
// Returns *StatusError if the response status is not 2xx.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

// GetJSON performs a GET request and decodes the JSON body into v.
func (c *Client) GetJSON(ctx context.Context, rawURL string, v any) error {
	resp, err := c.do(ctx, http.MethodGet, rawURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding %s: %w", rawURL, err)
	}
	return nil
}

// DownloadTo streams the body of rawURL into w and returns the number of
// bytes copied. onProgress may be nil.
//
// A body shorter than its Content-Length is reported as
// io.ErrUnexpectedEOF, which IsTransient treats as retryable.
func (c *Client) DownloadTo(ctx context.Context, rawURL string, w io.Writer, onProgress func(written, total int64)) (int64, error) {
	resp, err := c.do(ctx, http.MethodGet, rawURL)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if onProgress != nil {
		w = &ProgressWriter{
			Writer:   w,
			Total:    resp.ContentLength,
			OnUpdate: onProgress,
		}
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, err
	}
	if resp.ContentLength >= 0 && n < resp.ContentLength {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}

// Probe sends a HEAD request to rawURL bounded by timeout and returns the
// round-trip latency. Any non-2xx status is an error.
func (c *Client) Probe(ctx context.Context, rawURL string, timeout time.Duration) (time.Duration, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.do(ctx, http.MethodHead, rawURL)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return time.Since(start), nil
}

// do sends a request and turns non-2xx responses into *StatusError. The
// caller owns the body of a successful response.
func (c *Client) do(ctx context.Context, method, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	if err := c.limits.wait(ctx, req.URL); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Keep a short excerpt; the API explains failures in the body.
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, &StatusError{
			URL:    rawURL,
			Code:   resp.StatusCode,
			Status: resp.Status,
			Body:   string(excerpt),
		}
	}

	return resp, nil
}

// hostLimits hands out one token bucket per host. Buckets hold a single
// token so requests are evenly spaced rather than bursty.
type hostLimits struct {
	rps      float64
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newHostLimits(rps float64) *hostLimits {
	return &hostLimits{rps: rps, limiters: make(map[string]*rate.Limiter)}
}

func (h *hostLimits) wait(ctx context.Context, u *url.URL) error {
	if h.rps <= 0 {
		return nil
	}

	h.mu.Lock()
	limiter, ok := h.limiters[u.Host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(h.rps), 1)
		h.limiters[u.Host] = limiter
	}
	h.mu.Unlock()

	return limiter.Wait(ctx)
}
