package headless

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawlfrontier/internal/crawler"
)

func TestNewRendererValidation(t *testing.T) {
	t.Parallel()

	_, err := NewRenderer(Config{MaxParallel: -1})
	require.Error(t, err)

	r, err := NewRenderer(Config{MaxParallel: 2})
	require.NoError(t, err)
	defer r.Close()
	require.Equal(t, 2, cap(r.slots))
	require.Equal(t, defaultNavTimeout, r.cfg.NavigationTimeout)
}

func TestRendererSlotWaitHonorsContext(t *testing.T) {
	t.Parallel()

	r, err := NewRenderer(Config{MaxParallel: 1})
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.acquire(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, r.acquire(ctx), context.DeadlineExceeded)

	r.release()
	require.NoError(t, r.acquire(context.Background()))
}

func TestNetworkHeadersJoinsRepeatedValues(t *testing.T) {
	t.Parallel()

	got := networkHeaders(http.Header{
		"Accept-Language": {"en", "fr"},
		"X-Single":        {"a"},
		"X-Empty":         {},
	})
	require.Equal(t, "en, fr", got["Accept-Language"])
	require.Equal(t, "a", got["X-Single"])
	require.NotContains(t, got, "X-Empty")
}

func TestDocumentMetaCaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := newDocumentMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeImage,
		Response: &network.Response{
			Status: http.StatusNotFound,
			URL:    "https://example.com/logo.png",
		},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  http.StatusAccepted,
			URL:     "https://example.com/rendered",
			Headers: network.Headers{"X-Request-ID": "abc"},
		},
	})
	status, headers, url := meta.snapshot("https://req", "")
	require.Equal(t, http.StatusAccepted, status)
	require.Equal(t, "abc", headers.Get("X-Request-ID"))
	require.Equal(t, "https://example.com/rendered", url)

	status, _, url = newDocumentMeta().snapshot("https://req", "https://final")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "https://final", url)

	_, _, url = newDocumentMeta().snapshot("https://req", "")
	require.Equal(t, "https://req", url)
}

type stubFetcher struct {
	result crawler.FetchResult
	err    error
	calls  int
}

func (f *stubFetcher) Fetch(context.Context, crawler.FetchRequest) (crawler.FetchResult, error) {
	f.calls++
	return f.result, f.err
}

type detectorFunc func(crawler.FetchResult) bool

func (f detectorFunc) ShouldPromote(r crawler.FetchResult) bool { return f(r) }

func TestPromoting(t *testing.T) {
	t.Parallel()

	plain := crawler.FetchResult{
		URL:        "https://example.com/",
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": {"text/html"}},
		Body:       []byte(`<div id="app"></div>`),
		Duration:   time.Second,
	}
	rendered := crawler.FetchResult{
		URL:        "https://example.com/",
		StatusCode: http.StatusOK,
		Headers:    http.Header{},
		Body:       []byte(`<div id="app"><a href="/x">x</a></div>`),
		Duration:   2 * time.Second,
	}
	always := detectorFunc(func(crawler.FetchResult) bool { return true })
	never := detectorFunc(func(crawler.FetchResult) bool { return false })

	tests := []struct {
		name         string
		primary      *stubFetcher
		renderer     *stubFetcher
		detector     Detector
		wantBody     string
		wantRenders  int
		wantErr      bool
		wantDuration time.Duration
	}{
		{
			name:         "promoted",
			primary:      &stubFetcher{result: plain},
			renderer:     &stubFetcher{result: rendered},
			detector:     always,
			wantBody:     string(rendered.Body),
			wantRenders:  1,
			wantDuration: 3 * time.Second,
		},
		{
			name:         "not flagged",
			primary:      &stubFetcher{result: plain},
			renderer:     &stubFetcher{result: rendered},
			detector:     never,
			wantBody:     string(plain.Body),
			wantDuration: time.Second,
		},
		{
			name:         "render failure falls back",
			primary:      &stubFetcher{result: plain},
			renderer:     &stubFetcher{err: errors.New("chrome missing")},
			detector:     always,
			wantBody:     string(plain.Body),
			wantRenders:  1,
			wantDuration: time.Second,
		},
		{
			name:     "redirects pass through",
			primary:  &stubFetcher{result: crawler.FetchResult{StatusCode: http.StatusFound, RedirectTarget: "https://example.com/b"}},
			renderer: &stubFetcher{result: rendered},
			detector: always,
		},
		{
			name:     "primary error",
			primary:  &stubFetcher{err: errors.New("reset")},
			renderer: &stubFetcher{result: rendered},
			detector: always,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := NewPromoting(tt.primary, tt.renderer, tt.detector, nil)
			got, err := p.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com/"})
			if tt.wantErr {
				require.Error(t, err)
				require.Zero(t, tt.renderer.calls)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantBody, string(got.Body))
			require.Equal(t, tt.wantRenders, tt.renderer.calls)
			require.Equal(t, tt.wantDuration, got.Duration)
		})
	}
}

func TestPromotingKeepsPlainContentType(t *testing.T) {
	t.Parallel()

	p := NewPromoting(
		&stubFetcher{result: crawler.FetchResult{StatusCode: http.StatusOK, Headers: http.Header{"Content-Type": {"text/html"}}}},
		&stubFetcher{result: crawler.FetchResult{StatusCode: http.StatusOK, Headers: http.Header{}}},
		detectorFunc(func(crawler.FetchResult) bool { return true }),
		nil,
	)
	got, err := p.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com/"})
	require.NoError(t, err)
	require.Equal(t, "text/html", got.Headers.Get("Content-Type"))
}
