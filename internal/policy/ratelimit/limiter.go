// Package ratelimit throttles article fetches per domain with token buckets
// and slows a domain down after it answers with rate-limit failures.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/newshub-crawler/internal/crawler"
	"github.com/JakeFAU/newshub-crawler/internal/metrics"
)

// Config holds limiter configuration. A non-positive RPS means unlimited.
type Config struct {
	RPS   float64
	Burst int
	// MinRPS is the floor a domain can be slowed to. Defaults to RPS/8.
	MinRPS float64
}

// Limiter manages per-domain token buckets.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	floor    rate.Limit
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	floor := rate.Limit(cfg.MinRPS)
	if floor <= 0 && r != rate.Inf {
		floor = r / 8
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
		floor:    floor,
	}
}

// ForJob builds the limiter for one job: RateLimit requests per second per
// domain with a matching burst.
func ForJob(cfg crawler.JobConfig) *Limiter {
	return New(Config{RPS: float64(cfg.RateLimit), Burst: cfg.RateLimit})
}

// Wait blocks until a token is available for rawURL's domain.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	domain := domainOf(rawURL)
	limiter := l.limiterFor(domain)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(domain, waited)
	}
	return nil
}

// ReportResult halves a domain's rate, down to the floor, when it answered
// with a rate-limit failure.
func (l *Limiter) ReportResult(rawURL string, kind crawler.ErrorKind) {
	if kind != crawler.ErrorKindRateLimit || l.rate == rate.Inf {
		return
	}
	limiter := l.limiterFor(domainOf(rawURL))
	next := limiter.Limit() / 2
	if next < l.floor {
		next = l.floor
	}
	limiter.SetLimit(next)
}

// Limit reports the current rate for rawURL's domain.
func (l *Limiter) Limit(rawURL string) rate.Limit {
	return l.limiterFor(domainOf(rawURL)).Limit()
}

func (l *Limiter) limiterFor(domain string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[domain]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[domain] = limiter
	}
	return limiter
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
