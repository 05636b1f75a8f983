// Package fetcher is the single chokepoint for outbound archive requests.
// It enforces global request spacing, bounded concurrency, per-request
// timeouts, and retry with exponential backoff, and short-circuits
// fetch-to-file calls when the destination already exists.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/openfilings/edgarfetch/internal/edgar"
	"github.com/openfilings/edgarfetch/internal/metrics"
	"github.com/openfilings/edgarfetch/internal/policy/ratelimit"
)

// Config controls Client behavior.
type Config struct {
	// UserAgent identifies this client to the archive. The host policy
	// requires a descriptive value; absence is a configuration error.
	UserAgent string
	// Timeout bounds each request (connect + total).
	Timeout time.Duration
	// MaxConcurrent bounds in-flight requests.
	MaxConcurrent int
	// MinInterval is the global spacing between request starts.
	MinInterval time.Duration
	// MaxRetries, BackoffBase, BackoffMax tune the retry policy.
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// Client implements edgar.Fetcher over net/http.
type Client struct {
	cfg    Config
	http   *http.Client
	pacer  *ratelimit.Pacer
	retry  *ExponentialRetryPolicy
	sem    chan struct{}
	logger *zap.Logger
}

// New builds a Client. A missing user agent fails fast: the archive
// rejects anonymous clients and retrying would never help.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, &edgar.ConfigurationError{
			Field:       "fetcher.user_agent",
			Remediation: "set fetcher.user_agent to \"app-name contact@example.com\" in the config file or EDGAR_FETCHER_USER_AGENT",
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        cfg.MaxConcurrent * 2,
				MaxIdleConnsPerHost: cfg.MaxConcurrent,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		pacer:  ratelimit.New(ratelimit.Config{MinInterval: cfg.MinInterval}),
		retry:  NewExponentialRetryPolicy(cfg.MaxRetries, cfg.BackoffBase, cfg.BackoffMax),
		sem:    make(chan struct{}, cfg.MaxConcurrent),
		logger: logger,
	}, nil
}

// LastRequest exposes the pacer's last granted slot time.
func (c *Client) LastRequest() time.Time {
	return c.pacer.LastRequest()
}

// Fetch downloads url and returns the response body.
func (c *Client) Fetch(ctx context.Context, url string, opts edgar.FetchOptions) ([]byte, error) {
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return nil, edgar.AsCancelled(ctx.Err())
	}

	var (
		lastErr  error
		attempts int
	)
	for attempt := 0; ; attempt++ {
		body, retryAfter, err := c.doOnce(ctx, url, opts)
		attempts = attempt + 1
		if err == nil {
			return body, nil
		}
		lastErr = err

		// Caller cancellation ends the loop; a per-request timeout with
		// a live caller context stays a transient failure and retries.
		if cerr := ctx.Err(); cerr != nil {
			return nil, edgar.AsCancelled(cerr)
		}
		if !c.retry.ShouldRetry(err, attempt) {
			break
		}

		wait := c.retry.Backoff(attempt)
		if retryAfter > wait {
			wait = retryAfter
		}
		c.logger.Warn("fetch attempt failed, backing off",
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		metrics.ObserveRetry()
		if err := pause(ctx, wait); err != nil {
			return nil, edgar.AsCancelled(err)
		}
	}

	// A non-rate-limit 4xx is the caller's mistake, not a transient
	// condition; surface it as-is.
	var clientErr *edgar.ClientRequestError
	if errors.As(lastErr, &clientErr) && !retryableStatus(clientErr.StatusCode) {
		return nil, lastErr
	}
	return nil, &edgar.TransientNetworkError{
		URL:      url,
		Attempts: attempts,
		Cause:    lastErr,
	}
}

// FetchToFile downloads url into dest. When dest already exists and
// overwrite is not requested, it returns without any network call; this is
// the primary dedup mechanism for filing payloads.
func (c *Client) FetchToFile(ctx context.Context, url, dest string, opts edgar.FetchOptions) (edgar.FileResult, error) {
	if !opts.Overwrite {
		if info, err := os.Stat(dest); err == nil && !info.IsDir() {
			metrics.ObserveCacheHit()
			return edgar.FileResult{Path: dest, Size: info.Size(), Cached: true}, nil
		}
	}

	body, err := c.Fetch(ctx, url, opts)
	if err != nil {
		return edgar.FileResult{}, err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return edgar.FileResult{}, fmt.Errorf("create destination directory: %w", err)
	}
	// Write via a temp file so a crashed download never leaves a partial
	// file to be mistaken for a cache hit.
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return edgar.FileResult{}, fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return edgar.FileResult{}, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return edgar.FileResult{}, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return edgar.FileResult{}, fmt.Errorf("finalize download: %w", err)
	}
	return edgar.FileResult{Path: dest, Size: int64(len(body))}, nil
}

// doOnce performs one paced request. The returned retryAfter carries any
// Retry-After hint from the server.
func (c *Client) doOnce(ctx context.Context, url string, opts edgar.FetchOptions) ([]byte, time.Duration, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, 0, edgar.AsCancelled(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, edgar.AsCancelled(ctx.Err())
		}
		return nil, 0, &transportError{cause: err}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	duration := time.Since(start)
	metrics.ObserveFetch(resp.StatusCode, len(body), duration)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if readErr != nil {
			if ctx.Err() != nil {
				return nil, 0, edgar.AsCancelled(ctx.Err())
			}
			return nil, 0, &transportError{cause: fmt.Errorf("read body: %w", readErr)}
		}
		return body, 0, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		return nil, retryAfter, &edgar.ClientRequestError{URL: url, StatusCode: resp.StatusCode}
	default:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		return nil, retryAfter, &statusError{code: resp.StatusCode}
	}
}

// pause waits for delay or until the context ends.
func pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
