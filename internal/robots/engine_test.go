package robots

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlfrontier/internal/clock/system"
	"github.com/JakeFAU/crawlfrontier/internal/crawler"
	"github.com/JakeFAU/crawlfrontier/internal/urlid"
)

type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]crawler.FetchResult
	err       error
	calls     atomic.Int32
	gate      chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResult, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return crawler.FetchResult{}, ctx.Err()
		}
	}
	if f.err != nil {
		return crawler.FetchResult{}, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.responses[req.URL]
	if !ok {
		return crawler.FetchResult{URL: req.URL, StatusCode: http.StatusNotFound}, nil
	}
	res.URL = req.URL
	return res, nil
}

func robotsOK(body string) crawler.FetchResult {
	return crawler.FetchResult{StatusCode: http.StatusOK, Body: []byte(body)}
}

func canonical(t *testing.T, raw string) urlid.CanonicalURL {
	t.Helper()
	u, err := urlid.New(nil, zap.NewNop()).Canonicalize(raw)
	require.NoError(t, err)
	return u
}

func newTestEngine(f crawler.Fetcher, clk crawler.Clock) *Engine {
	return NewEngine(Config{
		UserAgent: "testAgent/1.0",
		Respect:   true,
		TTL:       time.Hour,
		ErrorTTL:  time.Minute,
	}, f, clk, zap.NewNop())
}

func TestEngineIsAllowed(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{responses: map[string]crawler.FetchResult{
		"http://example.com/robots.txt": robotsOK("User-agent: testAgent\nDisallow: /test/path/\nCrawl-delay: 2\n"),
	}}
	e := newTestEngine(f, system.NewManual(time.Unix(0, 0)))
	ctx := context.Background()

	blocked := canonical(t, "http://example.com/test/path/")
	require.False(t, e.IsAllowed(ctx, blocked, "testAgent"))
	require.False(t, e.IsAllowed(ctx, blocked, "TESTAGENT"))
	require.False(t, e.IsAllowed(ctx, blocked, ""), "empty agent uses the configured one")
	require.True(t, e.IsAllowed(ctx, canonical(t, "http://example.com/open"), "testAgent"))
	require.True(t, e.IsAllowed(ctx, blocked, "someoneElse"))

	require.Equal(t, 2*time.Second, e.CrawlDelay(ctx, blocked))
	delay, ok := e.CachedCrawlDelay("example.com")
	require.True(t, ok)
	require.Equal(t, 2*time.Second, delay)
	require.EqualValues(t, 1, f.calls.Load(), "robots.txt is fetched once and cached")

	d := e.Directives(ctx, blocked, "")
	require.Equal(t, "example.com", d.Host)
	require.Equal(t, time.Unix(0, 0), d.FetchedAt)
}

func TestEngineQueryStringIsMatched(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{responses: map[string]crawler.FetchResult{
		"http://example.com/robots.txt": robotsOK("User-agent: *\nDisallow: /search?q=\n"),
	}}
	e := newTestEngine(f, system.NewManual(time.Unix(0, 0)))

	require.False(t, e.IsAllowed(context.Background(), canonical(t, "http://example.com/search?q=go"), ""))
	require.True(t, e.IsAllowed(context.Background(), canonical(t, "http://example.com/search"), ""))
}

func TestEngineFailOpen(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		fetcher *fakeFetcher
	}{
		{name: "fetch error", fetcher: &fakeFetcher{err: errors.New("connection refused")}},
		{name: "not found", fetcher: &fakeFetcher{}},
		{name: "server error", fetcher: &fakeFetcher{responses: map[string]crawler.FetchResult{
			"http://example.com/robots.txt": {StatusCode: http.StatusServiceUnavailable},
		}}},
		{name: "unparseable", fetcher: &fakeFetcher{responses: map[string]crawler.FetchResult{
			"http://example.com/robots.txt": robotsOK("<html>oops</html>"),
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := newTestEngine(tt.fetcher, system.NewManual(time.Unix(0, 0)))
			require.True(t, e.IsAllowed(context.Background(), canonical(t, "http://example.com/anything"), ""))
			require.Zero(t, e.CrawlDelay(context.Background(), canonical(t, "http://example.com/")))
		})
	}
}

func TestEngineRefreshAfterTTL(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{responses: map[string]crawler.FetchResult{
		"http://example.com/robots.txt": robotsOK("User-agent: *\nDisallow: /a\n"),
	}}
	clk := system.NewManual(time.Unix(0, 0))
	e := newTestEngine(f, clk)
	ctx := context.Background()
	target := canonical(t, "http://example.com/a")

	require.False(t, e.IsAllowed(ctx, target, ""))

	f.mu.Lock()
	f.responses["http://example.com/robots.txt"] = robotsOK("User-agent: *\nDisallow: /b\n")
	f.mu.Unlock()

	clk.Advance(30 * time.Minute)
	require.False(t, e.IsAllowed(ctx, target, ""), "entry still fresh")
	require.EqualValues(t, 1, f.calls.Load())

	clk.Advance(31 * time.Minute)
	require.True(t, e.IsAllowed(ctx, target, ""), "stale entry refreshed on query")
	require.EqualValues(t, 2, f.calls.Load())

	e.Purge("EXAMPLE.com")
	_, ok := e.CachedCrawlDelay("example.com")
	require.False(t, ok)
}

func TestEngineErrorTTLIsShort(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{responses: map[string]crawler.FetchResult{
		"http://example.com/robots.txt": {StatusCode: http.StatusBadGateway},
	}}
	clk := system.NewManual(time.Unix(0, 0))
	e := newTestEngine(f, clk)
	target := canonical(t, "http://example.com/")

	e.IsAllowed(context.Background(), target, "")
	clk.Advance(2 * time.Minute)
	e.IsAllowed(context.Background(), target, "")
	require.EqualValues(t, 2, f.calls.Load())
}

func TestEngineCollapsesConcurrentRefreshes(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{
		gate: make(chan struct{}),
		responses: map[string]crawler.FetchResult{
			"http://example.com/robots.txt": robotsOK("User-agent: *\nDisallow: /x\n"),
		},
	}
	e := newTestEngine(f, system.NewManual(time.Unix(0, 0)))
	target := canonical(t, "http://example.com/x")

	const callers = 16
	var wg sync.WaitGroup
	results := make(chan bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- e.IsAllowed(context.Background(), target, "")
		}()
	}
	require.Eventually(t, func() bool { return f.calls.Load() >= 1 }, time.Second, time.Millisecond)
	close(f.gate)
	wg.Wait()
	close(results)

	for allowed := range results {
		require.False(t, allowed)
	}
	require.EqualValues(t, 1, f.calls.Load())
}

func TestEngineFollowsRedirects(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{responses: map[string]crawler.FetchResult{
		"http://example.com/robots.txt":  {StatusCode: http.StatusMovedPermanently, RedirectTarget: "https://example.com/robots.txt"},
		"https://example.com/robots.txt": robotsOK("User-agent: *\nDisallow: /\n"),
	}}
	e := newTestEngine(f, system.NewManual(time.Unix(0, 0)))
	require.False(t, e.IsAllowed(context.Background(), canonical(t, "http://example.com/page"), ""))
}

func TestEngineRespectDisabled(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{err: errors.New("must not be called")}
	e := NewEngine(Config{UserAgent: "bot", Respect: false}, f, nil, nil)
	require.True(t, e.IsAllowed(context.Background(), canonical(t, "http://example.com/"), ""))
	require.Zero(t, e.CrawlDelay(context.Background(), canonical(t, "http://example.com/")))
	delay, ok := e.CachedCrawlDelay("example.com")
	require.True(t, ok)
	require.Zero(t, delay)
	require.EqualValues(t, 0, f.calls.Load())
}

func TestEngineTruncatedBodyKeepsRules(t *testing.T) {
	t.Parallel()

	head := "User-agent: *\nDisallow: /private/\n# "
	body := head + strings.Repeat("é", 64) + "\nDisallow: /late/\n"
	f := &fakeFetcher{responses: map[string]crawler.FetchResult{
		"http://example.com/robots.txt": robotsOK(body),
	}}
	e := NewEngine(Config{
		UserAgent: "bot",
		Respect:   true,
		MaxBytes:  len(head) + 1,
	}, f, system.NewManual(time.Unix(0, 0)), nil)
	ctx := context.Background()

	require.False(t, e.IsAllowed(ctx, canonical(t, "http://example.com/private/x"), ""))
	require.True(t, e.IsAllowed(ctx, canonical(t, "http://example.com/late/x"), ""), "rules past the cap are dropped")
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		body  string
		limit int
		want  string
	}{
		{name: "under limit", body: "Disallow: /a\n", limit: 100, want: "Disallow: /a\n"},
		{name: "cut to last newline", body: "Disallow: /a\nDisallow: /bcd\n", limit: 20, want: "Disallow: /a\n"},
		{name: "no newline mid rune", body: "Disallow: /é", limit: 12, want: "Disallow: /"},
		{name: "no newline on boundary", body: "Disallow: /é", limit: 13, want: "Disallow: /é"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, string(truncate([]byte(tt.body), tt.limit)))
		})
	}
}

func TestEngineCrawlDelayFor(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{responses: map[string]crawler.FetchResult{
		"https://example.com/robots.txt": robotsOK("User-agent: *\nCrawl-delay: 3\n"),
	}}
	e := newTestEngine(f, system.NewManual(time.Unix(0, 0)))

	_, ok := e.CachedCrawlDelay("example.com")
	require.False(t, ok)
	require.Equal(t, 3*time.Second, e.CrawlDelayFor(context.Background(), "https://example.com/some/page?x=1"))
	delay, ok := e.CachedCrawlDelay("example.com")
	require.True(t, ok)
	require.Equal(t, 3*time.Second, delay)

	require.Zero(t, e.CrawlDelayFor(context.Background(), "::not a url"))
	require.EqualValues(t, 1, f.calls.Load())
}

func TestEngineSweepsExpiredHosts(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{}
	clk := system.NewManual(time.Unix(0, 0))
	e := newTestEngine(f, clk)
	ctx := context.Background()

	e.IsAllowed(ctx, canonical(t, "http://a.example.com/"), "")
	clk.Advance(2 * time.Hour)
	e.IsAllowed(ctx, canonical(t, "http://b.example.com/"), "")

	_, ok := e.CachedCrawlDelay("a.example.com")
	require.False(t, ok, "expired host swept")
	_, ok = e.CachedCrawlDelay("b.example.com")
	require.True(t, ok)
}
