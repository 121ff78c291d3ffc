package robots

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/crawlfrontier/internal/clock/system"
	"github.com/JakeFAU/crawlfrontier/internal/crawler"
	"github.com/JakeFAU/crawlfrontier/internal/metrics"
	"github.com/JakeFAU/crawlfrontier/internal/urlid"
)

const maxRobotsRedirects = 5

// Config controls fetching and caching of robots.txt.
type Config struct {
	UserAgent string
	Respect   bool
	// TTL is how long a fetched file (or a definitive 4xx) is trusted.
	TTL time.Duration
	// ErrorTTL is used after network errors and 5xx responses.
	ErrorTTL time.Duration
	MaxBytes int
}

type entry struct {
	robots    *Robots
	fetchedAt time.Time
	expires   time.Time
}

// Engine caches parsed robots.txt files per host and refreshes them lazily
// when a query finds the entry missing or stale. Every failure is fail-open.
type Engine struct {
	cfg     Config
	fetcher crawler.Fetcher
	clock   crawler.Clock
	logger  *zap.Logger

	mu        sync.RWMutex
	cache     map[string]entry
	nextSweep time.Time
	group     singleflight.Group
}

// NewEngine builds an Engine.
func NewEngine(cfg Config, fetcher crawler.Fetcher, clock crawler.Clock, logger *zap.Logger) *Engine {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.ErrorTTL <= 0 {
		cfg.ErrorTTL = 5 * time.Minute
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 500 << 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = system.New()
	}
	return &Engine{
		cfg:     cfg,
		fetcher: fetcher,
		clock:   clock,
		logger:  logger,
		cache:   make(map[string]entry),
	}
}

// IsAllowed reports whether userAgent may fetch u. An empty userAgent uses
// the configured one.
func (e *Engine) IsAllowed(ctx context.Context, u urlid.CanonicalURL, userAgent string) bool {
	if !e.cfg.Respect {
		return true
	}
	return e.Directives(ctx, u, userAgent).Allows(requestPath(u))
}

// CrawlDelay returns the configured agent's crawl-delay for u's host,
// refreshing the cache if needed.
func (e *Engine) CrawlDelay(ctx context.Context, u urlid.CanonicalURL) time.Duration {
	if !e.cfg.Respect {
		return 0
	}
	return e.Directives(ctx, u, "").CrawlDelay
}

// CrawlDelayFor is CrawlDelay for the host of an already canonical URL
// string. Unparseable URLs get no delay.
func (e *Engine) CrawlDelayFor(ctx context.Context, rawURL string) time.Duration {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return 0
	}
	return e.CrawlDelay(ctx, urlid.CanonicalURL{
		Scheme: strings.ToLower(parsed.Scheme),
		Host:   strings.ToLower(parsed.Host),
	})
}

// CachedCrawlDelay returns the crawl-delay from whatever entry is cached for
// host, stale or not, without doing any I/O.
func (e *Engine) CachedCrawlDelay(host string) (time.Duration, bool) {
	if !e.cfg.Respect {
		return 0, true
	}
	e.mu.RLock()
	ent, ok := e.cache[strings.ToLower(host)]
	e.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return ent.robots.For(e.cfg.UserAgent).CrawlDelay, true
}

// Directives returns the rules for userAgent on u's host.
func (e *Engine) Directives(ctx context.Context, u urlid.CanonicalURL, userAgent string) HostDirectives {
	if userAgent == "" {
		userAgent = e.cfg.UserAgent
	}
	ent := e.lookup(ctx, u)
	d := ent.robots.For(userAgent)
	d.Host = u.Host
	d.FetchedAt = ent.fetchedAt
	return d
}

// Purge drops the cached entry for host.
func (e *Engine) Purge(host string) {
	e.mu.Lock()
	delete(e.cache, strings.ToLower(host))
	e.mu.Unlock()
}

func (e *Engine) cached(host string) (entry, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ent, ok := e.cache[host]
	if !ok || !e.clock.Now().Before(ent.expires) {
		return ent, false
	}
	return ent, true
}

func (e *Engine) lookup(ctx context.Context, u urlid.CanonicalURL) entry {
	host := strings.ToLower(u.Host)
	if ent, fresh := e.cached(host); fresh {
		return ent
	}
	v, _, _ := e.group.Do(host, func() (any, error) {
		if ent, fresh := e.cached(host); fresh {
			return ent, nil
		}
		ent := e.refresh(ctx, u)
		if ctx.Err() != nil {
			return ent, nil
		}
		e.mu.Lock()
		e.cache[host] = ent
		e.sweepLocked(e.clock.Now())
		e.mu.Unlock()
		return ent, nil
	})
	ent, _ := v.(entry)
	return ent
}

// refresh fetches and parses robots.txt. A nil robots field means allow all.
func (e *Engine) refresh(ctx context.Context, u urlid.CanonicalURL) entry {
	now := e.clock.Now()
	robotsURL := u.Origin() + "/robots.txt"

	result, err := e.fetch(ctx, robotsURL)
	switch {
	case err != nil:
		metrics.ObserveRobotsFetch("fetch_failed")
		e.logger.Warn("robots fetch failed; allowing access",
			zap.String("host", u.Host),
			zap.Error(fmt.Errorf("%w: %w", crawler.ErrRobotsFetchFailed, err)),
		)
		return entry{fetchedAt: now, expires: now.Add(e.cfg.ErrorTTL)}
	case result.StatusCode >= http.StatusInternalServerError:
		metrics.ObserveRobotsFetch("server_error")
		e.logger.Warn("robots server error; allowing access",
			zap.String("host", u.Host),
			zap.Int("status", result.StatusCode),
		)
		return entry{fetchedAt: now, expires: now.Add(e.cfg.ErrorTTL)}
	case result.StatusCode >= http.StatusBadRequest:
		metrics.ObserveRobotsFetch("unavailable")
		e.logger.Debug("robots unavailable; allowing access",
			zap.String("host", u.Host),
			zap.Int("status", result.StatusCode),
		)
		return entry{fetchedAt: now, expires: now.Add(e.cfg.TTL)}
	}

	body := truncate(result.Body, e.cfg.MaxBytes)
	parsed, err := Parse(body)
	if err != nil {
		metrics.ObserveRobotsFetch("parse_failed")
		e.logger.Warn("robots parse failed; allowing access", zap.String("host", u.Host), zap.Error(err))
		return entry{fetchedAt: now, expires: now.Add(e.cfg.TTL)}
	}
	metrics.ObserveRobotsFetch("ok")
	return entry{robots: parsed, fetchedAt: now, expires: now.Add(e.cfg.TTL)}
}

// fetch follows redirects itself since fetchers report them instead.
func (e *Engine) fetch(ctx context.Context, target string) (crawler.FetchResult, error) {
	if e.fetcher == nil {
		return crawler.FetchResult{}, errors.New("no fetcher configured")
	}
	for hop := 0; ; hop++ {
		result, err := e.fetcher.Fetch(ctx, crawler.FetchRequest{URL: target})
		if err != nil {
			return crawler.FetchResult{}, err
		}
		if !result.IsRedirect() {
			return result, nil
		}
		if hop >= maxRobotsRedirects {
			return crawler.FetchResult{}, fmt.Errorf("too many redirects fetching %s", target)
		}
		target = result.RedirectTarget
	}
}

// sweepLocked drops expired entries at most once per ErrorTTL so the cache
// only holds hosts queried recently.
func (e *Engine) sweepLocked(now time.Time) {
	if now.Before(e.nextSweep) {
		return
	}
	for host, ent := range e.cache {
		if !now.Before(ent.expires) {
			delete(e.cache, host)
		}
	}
	e.nextSweep = now.Add(e.cfg.ErrorTTL)
}

// truncate cuts body to at most limit bytes, dropping the partial last line
// so a cut never lands inside a rule or a multibyte rune.
func truncate(body []byte, limit int) []byte {
	if len(body) <= limit {
		return body
	}
	body = body[:limit]
	if i := bytes.LastIndexByte(body, '\n'); i >= 0 {
		return body[:i+1]
	}
	for len(body) > 0 && !utf8.RuneStart(body[len(body)-1]) {
		body = body[:len(body)-1]
	}
	if len(body) > 0 && !utf8.FullRune(body[len(body)-1:]) {
		body = body[:len(body)-1]
	}
	return body
}

func requestPath(u urlid.CanonicalURL) string {
	return strings.TrimPrefix(u.String(), u.Origin())
}
