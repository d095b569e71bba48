// Package ratelimit implements per-API-server token buckets so one platform
// worker never exceeds the request rate its API allows.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds rate limiter configuration. A non-positive DefaultRPS means
// unlimited; PerServerRPS overrides the default for named servers.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	PerServerRPS map[string]float64
}

// DelayObserver is told how long a caller waited for a token.
type DelayObserver func(server string, delay time.Duration)

// Limiter manages per-server rate limits.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	cfg      Config
	observe  DelayObserver
}

// New creates a new Limiter.
func New(cfg Config, observe DelayObserver) *Limiter {
	if cfg.DefaultBurst <= 0 {
		cfg.DefaultBurst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		cfg:      cfg,
		observe:  observe,
	}
}

// Wait blocks until a token is available for the given server, respecting the context.
func (l *Limiter) Wait(ctx context.Context, server string) error {
	limiter := l.limiterFor(server)
	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if d := time.Since(start); d > time.Millisecond && l.observe != nil {
		l.observe(server, d)
	}
	return nil
}

func (l *Limiter) limiterFor(server string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, ok := l.limiters[server]; ok {
		return limiter
	}
	rps := l.cfg.DefaultRPS
	if v, ok := l.cfg.PerServerRPS[server]; ok {
		rps = v
	}
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	limiter := rate.NewLimiter(limit, l.cfg.DefaultBurst)
	l.limiters[server] = limiter
	return limiter
}
