// Package metrics exposes Prometheus collectors for the crawl frontier.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Discard reasons reported by the admission pipeline.
const (
	ReasonMalformed        = "malformed_url"
	ReasonRejected         = "rejected"
	ReasonSeen             = "already_seen"
	ReasonDisallowed       = "disallowed"
	ReasonDepthExceeded    = "depth_exceeded"
	ReasonRedirectionLoop  = "redirection_loop"
	ReasonQueueFull        = "queue_full"
	ReasonRetriesExhausted = "retries_exhausted"
)

var (
	crawlerPagesTotal             *prometheus.CounterVec
	crawlerBytesTotal             *prometheus.CounterVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	crawlerActiveWorkers          prometheus.Gauge
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	frontierAdmittedTotal         *prometheus.CounterVec
	frontierDiscardedTotal        *prometheus.CounterVec
	frontierQueueDepth            prometheus.Gauge
	urlDecodeErrorsTotal          prometheus.Counter
	robotsFetchesTotal            *prometheus.CounterVec
	politenessWaitSeconds         prometheus.Histogram
	headlessRendersTotal          *prometheus.CounterVec
	checkpointsTotal              *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of pages fetched, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently processing an item.",
			},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		frontierAdmittedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_frontier_admitted_total",
				Help: "Total number of items admitted to the frontier, labeled by tag.",
			},
			[]string{"tag"},
		)

		frontierDiscardedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_frontier_discarded_total",
				Help: "Total number of candidate URLs discarded, labeled by reason.",
			},
			[]string{"reason"},
		)

		frontierQueueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_frontier_queue_depth",
				Help: "Number of items waiting in the frontier.",
			},
		)

		urlDecodeErrorsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_url_decode_errors_total",
				Help: "Total number of query parameters dropped because they failed to decode.",
			},
		)

		robotsFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_robots_fetches_total",
				Help: "Total number of robots.txt refreshes, labeled by outcome.",
			},
			[]string{"result"},
		)

		politenessWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_politeness_wait_seconds",
				Help:    "Histogram of time the scheduler slept waiting for a host cooldown.",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		headlessRendersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_headless_renders_total",
				Help: "Total number of pages promoted to the headless renderer, labeled by outcome.",
			},
			[]string{"result"},
		)

		checkpointsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_frontier_checkpoints_total",
				Help: "Total number of frontier snapshot uploads, labeled by outcome.",
			},
			[]string{"result"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCrawl records a completed fetch.
func ObserveCrawl(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	crawlerPagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	crawlerActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveAdmitted counts an item entering the frontier.
func ObserveAdmitted(tag string) {
	Init()
	if tag == "" {
		tag = "none"
	}
	frontierAdmittedTotal.WithLabelValues(tag).Inc()
}

// ObserveDiscarded counts a candidate dropped for reason.
func ObserveDiscarded(reason string) {
	Init()
	frontierDiscardedTotal.WithLabelValues(reason).Inc()
}

// SetQueueDepth publishes the current frontier size.
func SetQueueDepth(n int) {
	Init()
	frontierQueueDepth.Set(float64(n))
}

// ObserveDecodeError counts a dropped query parameter.
func ObserveDecodeError() {
	Init()
	urlDecodeErrorsTotal.Inc()
}

// ObserveRobotsFetch counts a robots.txt refresh outcome.
func ObserveRobotsFetch(result string) {
	Init()
	robotsFetchesTotal.WithLabelValues(result).Inc()
}

// ObservePolitenessWait records a scheduler sleep.
func ObservePolitenessWait(duration time.Duration) {
	Init()
	politenessWaitSeconds.Observe(duration.Seconds())
}

// ObserveHeadlessRender counts a headless promotion outcome.
func ObserveHeadlessRender(result string) {
	Init()
	headlessRendersTotal.WithLabelValues(result).Inc()
}

// ObserveCheckpoint counts a snapshot upload outcome.
func ObserveCheckpoint(result string) {
	Init()
	checkpointsTotal.WithLabelValues(result).Inc()
}
