// Package ratelimit implements the global request pacer shared by every
// outbound archive request.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/openfilings/edgarfetch/internal/metrics"
)

// Pacer enforces a minimum interval between outbound requests, regardless
// of caller concurrency. The archive's politeness policy is expressed as
// spacing rather than a raw requests-per-second budget, so the limiter is
// configured with burst 1.
type Pacer struct {
	limiter *rate.Limiter

	mu   sync.Mutex
	last time.Time
}

// Config holds pacer configuration.
type Config struct {
	// MinInterval is the minimum gap between request starts.
	MinInterval time.Duration
}

// DefaultMinInterval matches common archive politeness limits.
const DefaultMinInterval = 100 * time.Millisecond

// New creates a Pacer.
func New(cfg Config) *Pacer {
	interval := cfg.MinInterval
	if interval <= 0 {
		interval = DefaultMinInterval
	}
	return &Pacer{
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Wait blocks until the next request slot opens, respecting the context.
// On success it records the slot time; LastRequest is monotonically
// non-decreasing across all concurrent callers.
func (p *Pacer) Wait(ctx context.Context) error {
	start := time.Now()
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(waited)
	}

	now := time.Now()
	p.mu.Lock()
	if now.After(p.last) {
		p.last = now
	}
	p.mu.Unlock()
	return nil
}

// LastRequest returns the start time of the most recent granted slot.
func (p *Pacer) LastRequest() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}
