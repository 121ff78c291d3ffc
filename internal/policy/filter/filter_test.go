package filter

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawlfrontier/internal/crawler"
)

func newPolicy(t *testing.T, cfg Config) *Policy {
	t.Helper()
	p, err := New(cfg, nil)
	require.NoError(t, err)
	return p
}

func TestShouldAdmit(t *testing.T) {
	t.Parallel()

	p := newPolicy(t, Config{
		AllowedDomains: []string{"example.com", "uci.edu"},
		BlockedDomains: []string{"*.ads.example.com", "tracker.uci.edu"},
	})

	tests := []struct {
		url  string
		want bool
	}{
		{"https://example.com/page", true},
		{"https://www.ics.uci.edu/about", true},
		{"https://notexample.com/", false},
		{"ftp://example.com/file", false},
		{"mailto:someone@example.com", false},
		{"https://example.com/report.PDF", false},
		{"https://example.com/image.jpeg", false},
		{"https://example.com/archive.tar.gz", false},
		{"https://example.com/pdf-guide", true},
		{"https://x.ads.example.com/", false},
		{"https://tracker.uci.edu/", false},
		{"://bad", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, p.ShouldAdmit(context.Background(), crawler.Candidate{URL: tt.url}))
		})
	}
}

func TestShouldAdmitWithoutAllowlist(t *testing.T) {
	t.Parallel()

	p := newPolicy(t, Config{})
	require.True(t, p.ShouldAdmit(context.Background(), crawler.Candidate{URL: "http://anything.org/"}))
}

func TestInvalidExcludePattern(t *testing.T) {
	t.Parallel()

	_, err := New(Config{ExcludePattern: "("}, nil)
	require.Error(t, err)
}

func TestOnDequeueExtractsAnchors(t *testing.T) {
	t.Parallel()

	p := newPolicy(t, Config{})
	item := crawler.WorkItem{DocID: 3, URL: "https://example.com/dir/page", Host: "example.com", Depth: 1, Priority: 2}
	body := `<html><body>
<a href="child">  Child
  page </a>
<a href="/abs#section" rel="nofollow">Abs</a>
<a href="/abs">Abs again</a>
<a href="#top">Top</a>
<a href="javascript:void(0)">JS</a>
<a href="mailto:x@example.com">Mail</a>
<a href="https://other.org/">Other</a>
</body></html>`

	got := p.OnDequeue(context.Background(), item, crawler.FetchResult{
		URL:        item.URL,
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		Body:       []byte(body),
	})

	require.Len(t, got, 3)
	require.Equal(t, "https://example.com/dir/child", got[0].URL)
	require.Equal(t, "Child page", got[0].Anchor)
	require.Equal(t, "Child page", got[0].Attributes["anchor"])
	require.Equal(t, AnchorTag, got[0].Tag)
	require.EqualValues(t, 2, got[0].Priority)
	require.EqualValues(t, 3, got[0].Parent.DocID)
	require.Equal(t, 2, got[0].Depth())

	require.Equal(t, "https://example.com/abs", got[1].URL)
	require.Equal(t, "nofollow", got[1].Attributes["rel"])
	require.Equal(t, "https://other.org/", got[2].URL)
}

func TestOnDequeueHonorsBaseAndLimit(t *testing.T) {
	t.Parallel()

	p := newPolicy(t, Config{MaxLinksPerPage: 1})
	body := `<html><head><base href="https://cdn.example.com/root/"></head>
<body><a href="a">A</a><a href="b">B</a></body></html>`

	got := p.OnDequeue(context.Background(), crawler.WorkItem{URL: "https://example.com/"}, crawler.FetchResult{
		StatusCode: http.StatusOK,
		Body:       []byte(body),
	})
	require.Len(t, got, 1)
	require.Equal(t, "https://cdn.example.com/root/a", got[0].URL)
}

func TestOnDequeueSkipsNonHTML(t *testing.T) {
	t.Parallel()

	p := newPolicy(t, Config{})
	item := crawler.WorkItem{URL: "https://example.com/"}
	body := []byte(`<a href="/x">x</a>`)

	require.Empty(t, p.OnDequeue(context.Background(), item, crawler.FetchResult{
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": {"application/json"}},
		Body:       body,
	}))
	require.Empty(t, p.OnDequeue(context.Background(), item, crawler.FetchResult{
		StatusCode: http.StatusNotFound,
		Body:       body,
	}))
}

func TestForbiddenThresholdBlocksHost(t *testing.T) {
	t.Parallel()

	p := newPolicy(t, Config{ForbiddenThreshold: 2})
	item := crawler.WorkItem{URL: "https://locked.com/", Host: "locked.com"}
	candidate := crawler.Candidate{URL: "https://locked.com/next"}

	p.OnDequeue(context.Background(), item, crawler.FetchResult{StatusCode: http.StatusForbidden})
	require.True(t, p.ShouldAdmit(context.Background(), candidate))

	p.OnDequeue(context.Background(), item, crawler.FetchResult{StatusCode: http.StatusForbidden})
	require.False(t, p.ShouldAdmit(context.Background(), candidate))
	require.True(t, p.ShouldAdmit(context.Background(), crawler.Candidate{URL: "https://open.com/"}))
}

func TestDomainPatterns(t *testing.T) {
	t.Parallel()

	require.Nil(t, newDomainPatterns([]string{" ", ""}))

	d := newDomainPatterns([]string{"Example.com", "*.blocked.org", ".dot.net", "*.blocked.org"})
	require.Len(t, d.subtree, 2)
	require.True(t, d.Match("example.com"))
	require.False(t, d.Match("www.example.com"))
	require.True(t, d.Match("blocked.org"))
	require.True(t, d.Match("a.b.blocked.org"))
	require.True(t, d.Match("x.dot.net"))
	require.True(t, d.Match("X.Dot.Net."))
	require.False(t, d.Match("notblocked.org"))
	require.False(t, d.Match(""))

	var nilPatterns *domainPatterns
	require.False(t, nilPatterns.Match("example.com"))
}

func TestForbiddenTracker(t *testing.T) {
	t.Parallel()

	require.Nil(t, newForbiddenTracker(0))
	var disabled *forbiddenTracker
	require.False(t, disabled.MarkForbidden("a.test"))
	require.False(t, disabled.IsBlocked("a.test"))

	b := newForbiddenTracker(2)
	require.False(t, b.MarkForbidden("A.test"))
	require.False(t, b.IsBlocked("a.test"))
	require.True(t, b.MarkForbidden("a.test"))
	require.True(t, b.IsBlocked("a.TEST"))
	require.True(t, b.MarkForbidden("a.test"))
	require.Equal(t, 2, b.count["a.test"])
	require.False(t, b.IsBlocked("b.test"))
}
