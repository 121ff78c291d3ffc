// Package ratelimit implements a token bucket rate limiter shared by every
// host of one registrable domain.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/crawlfrontier/internal/metrics"
	"github.com/JakeFAU/crawlfrontier/internal/urlid"
)

// Limiter manages per-domain rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	overrides    map[string]rate.Limit
	defaultRate  rate.Limit
	defaultBurst int
	canon        *urlid.Canonicalizer
}

// Config holds rate limiter configuration. Domains overrides DefaultRPS for
// specific registrable domains.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	Domains      map[string]float64
}

// New creates a new Limiter. canon groups hosts by registrable domain; when
// nil each hostname gets its own bucket.
func New(cfg Config, canon *urlid.Canonicalizer) *Limiter {
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	overrides := make(map[string]rate.Limit, len(cfg.Domains))
	for domain, rps := range cfg.Domains {
		overrides[strings.ToLower(domain)] = toLimit(rps)
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		overrides:    overrides,
		defaultRate:  toLimit(cfg.DefaultRPS),
		defaultBurst: burst,
		canon:        canon,
	}
}

func toLimit(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}

// Wait blocks until a token is available for the domain of rawURL,
// respecting the context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	domain := l.domainOf(rawURL)
	limiter := l.limiterFor(domain)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Tokens that were immediately available are not a delay.
	if duration := time.Since(start); duration > time.Millisecond {
		metrics.ObserveRateLimitDelay(domain, duration)
	}
	return nil
}

// Domain returns the bucket key used for rawURL.
func (l *Limiter) Domain(rawURL string) string {
	return l.domainOf(rawURL)
}

func (l *Limiter) limiterFor(domain string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, exists := l.limiters[domain]
	if !exists {
		r, ok := l.overrides[domain]
		if !ok {
			r = l.defaultRate
		}
		limiter = rate.NewLimiter(r, l.defaultBurst)
		l.limiters[domain] = limiter
	}
	return limiter
}

func (l *Limiter) domainOf(rawURL string) string {
	if l.canon != nil {
		if cu, err := l.canon.Canonicalize(rawURL); err == nil {
			return cu.RegistrableDomain
		}
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
