package fetcher

import (
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/openfilings/edgarfetch/internal/edgar"
)

// transportError carries a transport-level failure through the retry
// decision. It deliberately has no Unwrap: an http.Client timeout
// satisfies errors.Is(err, context.DeadlineExceeded), and exposing that
// chain would make a per-request timeout look like caller cancellation.
type transportError struct {
	cause error
}

func (e *transportError) Error() string { return e.cause.Error() }

func (e *transportError) Timeout() bool {
	var netErr net.Error
	return errors.As(e.cause, &netErr) && netErr.Timeout()
}

func (e *transportError) Temporary() bool { return true }

// statusError carries a non-2xx, non-4xx response status through the
// retry decision.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return "server responded with status " + strconv.Itoa(e.code)
}

// retryableStatus reports whether an HTTP status code signals a transient
// condition worth retrying.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// ExponentialRetryPolicy implements retry decisions with jittered backoff.
type ExponentialRetryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewExponentialRetryPolicy builds a policy. Zero values fall back to
// defaults compatible with archive politeness limits.
func NewExponentialRetryPolicy(maxRetries int, baseDelay, maxDelay time.Duration) *ExponentialRetryPolicy {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if baseDelay <= 0 {
		baseDelay = 250 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 10 * time.Second
	}
	return &ExponentialRetryPolicy{
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
	}
}

// MaxRetries returns the retry budget.
func (p *ExponentialRetryPolicy) MaxRetries() int { return p.maxRetries }

// ShouldRetry decides whether the error is retryable at the given attempt.
// Cancellation and client request errors are never retried.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxRetries {
		return false
	}
	if edgar.IsCancelled(err) {
		return false
	}
	var clientErr *edgar.ClientRequestError
	if errors.As(err, &clientErr) {
		return retryableStatus(clientErr.StatusCode)
	}
	var srvErr *statusError
	if errors.As(err, &srvErr) {
		return retryableStatus(srvErr.code)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return true
}

// Backoff returns the wait duration before the next attempt.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := p.randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func (p *ExponentialRetryPolicy) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// parseRetryAfter interprets a Retry-After header as either delta seconds
// or an HTTP date. Returns zero when absent or unparseable.
func parseRetryAfter(header string, now time.Time) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
