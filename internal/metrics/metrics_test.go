package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if crawlerPagesTotal == nil || frontierDiscardedTotal == nil || robotsFetchesTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestFrontierCounters(t *testing.T) {
	Init()

	before := testutil.ToFloat64(frontierDiscardedTotal.WithLabelValues(ReasonDepthExceeded))
	ObserveDiscarded(ReasonDepthExceeded)
	ObserveDiscarded(ReasonDepthExceeded)
	if got := testutil.ToFloat64(frontierDiscardedTotal.WithLabelValues(ReasonDepthExceeded)); got != before+2 {
		t.Errorf("expected discarded counter to grow by 2, got %f -> %f", before, got)
	}

	beforeAdmitted := testutil.ToFloat64(frontierAdmittedTotal.WithLabelValues("none"))
	ObserveAdmitted("")
	if got := testutil.ToFloat64(frontierAdmittedTotal.WithLabelValues("none")); got != beforeAdmitted+1 {
		t.Errorf("expected empty tag to be recorded as none, got %f", got)
	}

	SetQueueDepth(7)
	if got := testutil.ToFloat64(frontierQueueDepth); got != 7 {
		t.Errorf("expected queue depth 7, got %f", got)
	}

	beforeDecode := testutil.ToFloat64(urlDecodeErrorsTotal)
	ObserveDecodeError()
	if got := testutil.ToFloat64(urlDecodeErrorsTotal); got != beforeDecode+1 {
		t.Errorf("expected decode errors to grow by 1, got %f", got)
	}

	ObservePolitenessWait(150 * time.Millisecond)
	if val := testutil.CollectAndCount(politenessWaitSeconds); val <= 0 {
		t.Errorf("expected politeness wait histogram to be observed, got %d", val)
	}

	beforeRender := testutil.ToFloat64(headlessRendersTotal.WithLabelValues("fallback"))
	ObserveHeadlessRender("fallback")
	if got := testutil.ToFloat64(headlessRendersTotal.WithLabelValues("fallback")); got != beforeRender+1 {
		t.Errorf("expected headless fallback counter to grow by 1, got %f", got)
	}

	beforeCheckpoint := testutil.ToFloat64(checkpointsTotal.WithLabelValues("ok"))
	ObserveCheckpoint("ok")
	if got := testutil.ToFloat64(checkpointsTotal.WithLabelValues("ok")); got != beforeCheckpoint+1 {
		t.Errorf("expected checkpoint counter to grow by 1, got %f", got)
	}
}

func TestObserveCrawl(t *testing.T) {
	Init()

	before := testutil.ToFloat64(crawlerPagesTotal.WithLabelValues("crawl.test", "200"))
	ObserveCrawl("https://Crawl.test/page", "200", 512)
	if got := testutil.ToFloat64(crawlerPagesTotal.WithLabelValues("crawl.test", "200")); got != before+1 {
		t.Errorf("expected pages counter to grow by 1, got %f", got)
	}
	if got := testutil.ToFloat64(crawlerBytesTotal.WithLabelValues("crawl.test")); got < 512 {
		t.Errorf("expected bytes counter to include 512, got %f", got)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
