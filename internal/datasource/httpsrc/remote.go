// Package httpsrc implements a data source that downloads the retail export
// over HTTP. Transient failures (transport errors, 5xx, 429) are retried with
// exponential backoff; every other status is final.
package httpsrc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"salesagg/internal/datasource"
)

// Config configures a Remote source.
//
// Zero values are given defaults:
//   - Timeout:        5m (whole download, body included)
//   - InitialBackoff: 200ms
//   - MaxBackoff:     5s
type Config struct {
	URL        string
	Headers    map[string]string
	Timeout    time.Duration
	MaxRetries int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Transport is an optional RoundTripper; nil uses http.DefaultTransport.
	Transport http.RoundTripper
}

// Remote is a restartable source: each Open issues a fresh GET.
type Remote struct {
	url            string
	headers        map[string]string
	client         *http.Client
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration

	// wait blocks for d or until ctx is done; replaced in tests.
	wait func(ctx context.Context, d time.Duration) error
}

// New returns a Remote for cfg, applying defaults for zero values.
func New(cfg Config) *Remote {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Remote{
		url:            cfg.URL,
		headers:        cfg.Headers,
		client:         &http.Client{Timeout: cfg.Timeout, Transport: transport},
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		wait:           waitContext,
	}
}

var _ datasource.Source = (*Remote)(nil)

// Open downloads the export and returns the response body. The caller must
// close it.
func (r *Remote) Open(ctx context.Context) (io.ReadCloser, error) {
	if r.url == "" {
		return nil, fmt.Errorf("httpsrc: url must not be empty")
	}

	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if attempt > 0 {
			if err := r.wait(ctx, backoff(r.initialBackoff, attempt-1, r.maxBackoff)); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
		if err != nil {
			return nil, fmt.Errorf("httpsrc: build request: %w", err)
		}
		for k, v := range r.headers {
			req.Header.Set(k, v)
		}

		resp, err := r.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("httpsrc: get %s: %w", r.url, err)
			continue
		}
		switch {
		case resp.StatusCode >= 200 && resp.StatusCode <= 299:
			return resp.Body, nil
		case retryable(resp.StatusCode):
			resp.Body.Close()
			lastErr = fmt.Errorf("httpsrc: get %s: retryable status %d", r.url, resp.StatusCode)
		default:
			resp.Body.Close()
			return nil, fmt.Errorf("httpsrc: get %s: status %d", r.url, resp.StatusCode)
		}
	}
	return nil, lastErr
}

func retryable(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code <= 599)
}

// backoff returns initial * 2^retry, clamped to max.
func backoff(initial time.Duration, retry int, max time.Duration) time.Duration {
	if retry > 30 {
		return max
	}
	d := initial << retry
	if d <= 0 || d > max {
		return max
	}
	return d
}

func waitContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
