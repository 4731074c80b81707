package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/kjstillabower/ndw-feed-service/internal/circuitbreaker"
	"github.com/kjstillabower/ndw-feed-service/internal/observability"
)

// DefaultBaseURL is the NDW open data file server.
const DefaultBaseURL = "https://opendata.ndw.nu/"

// FeedClient fetches raw upstream feed files.
type FeedClient interface {
	Fetch(ctx context.Context, file string) ([]byte, error)
}

var (
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrNotFound        = errors.New("upstream file not found")
	ErrRateLimited     = errors.New("rate limited")
	ErrDecompress      = errors.New("decompress failed")
	ErrInvalidBaseURL  = errors.New("invalid base URL")
	// ErrCircuitOpen is returned without contacting upstream while the breaker is open.
	ErrCircuitOpen = circuitbreaker.ErrOpen
)

// StatusError is a non-2xx upstream response.
type StatusError struct {
	File       string
	StatusCode int
	err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: %s: HTTP %d", e.err, e.File, e.StatusCode)
}

func (e *StatusError) Unwrap() error { return e.err }

// NDWClient downloads files from the NDW open data server. Failed calls are
// not retried; the caller decides whether to ask again.
type NDWClient struct {
	baseURL *url.URL
	timeout time.Duration
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

// NewNDWClient returns a client for baseURL with a per-fetch timeout.
func NewNDWClient(baseURL string, timeout time.Duration) (*NDWClient, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q", ErrInvalidBaseURL, u.Scheme)
	}
	return &NDWClient{
		baseURL: u,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// SetCircuitBreaker routes every fetch through cb.
func (c *NDWClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// CircuitOpen reports whether fetches are currently short-circuited.
func (c *NDWClient) CircuitOpen() bool {
	return c.breaker != nil && c.breaker.IsOpen()
}

// Fetch downloads file (relative to the base URL) and returns its body,
// gunzipped when the payload is gzip.
func (c *NDWClient) Fetch(ctx context.Context, file string) ([]byte, error) {
	var body []byte
	call := func() error {
		var err error
		body, err = c.fetch(ctx, file)
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Call(ctx, call)
	} else {
		err = call()
	}
	if err != nil {
		observability.UpstreamErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
		return nil, err
	}
	return body, nil
}

func (c *NDWClient) fetch(ctx context.Context, file string) ([]byte, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, file)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(file, "error").Inc()
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(file, "error").Inc()
		observability.UpstreamDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("fetch %s: request timeout: %w", file, err)
		}
		return nil, fmt.Errorf("fetch %s: http request failed: %w", file, err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	if err := handleErrorResponse(resp, file); err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(file, status).Inc()
		observability.UpstreamDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
		return nil, err
	}

	raw, err := io.ReadAll(resp.Body)
	if err == nil {
		raw, err = decompress(raw)
	}
	observability.UpstreamCallsTotal.WithLabelValues(file, status).Inc()
	observability.UpstreamDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("fetch %s: read response body: %w", file, err)
	}
	return raw, nil
}

func (c *NDWClient) buildRequest(ctx context.Context, file string) (*http.Request, error) {
	ref, err := url.Parse(strings.TrimPrefix(file, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid file name %q: %w", file, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL.ResolveReference(ref).String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/xml, application/gzip, */*")
	if corrID := observability.CorrelationIDFromContext(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	return req, nil
}

// decompress gunzips data that starts with the gzip magic bytes and returns
// anything else unchanged.
func decompress(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != 0x1f || data[1] != 0x8b {
		return data, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompress, err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompress, err)
	}
	return out, nil
}

func handleErrorResponse(resp *http.Response, file string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	switch resp.StatusCode {
	case http.StatusNotFound:
		return &StatusError{File: file, StatusCode: resp.StatusCode, err: ErrNotFound}
	case http.StatusTooManyRequests:
		return &StatusError{File: file, StatusCode: resp.StatusCode, err: ErrRateLimited}
	}
	return &StatusError{File: file, StatusCode: resp.StatusCode, err: ErrUpstreamFailure}
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
