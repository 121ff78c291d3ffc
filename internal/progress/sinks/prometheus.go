package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/crawlfrontier/internal/progress"
)

// PrometheusSink turns progress events into run and fetch outcome metrics.
// Per-site page counters live in the metrics package; this sink keeps
// host labels out to bound cardinality.
type PrometheusSink struct {
	runsStarted  prometheus.Counter
	runsRunning  prometheus.Gauge
	runDuration  prometheus.Histogram
	events       *prometheus.CounterVec
	fetchBytes   prometheus.Counter
	fetchLatency *prometheus.HistogramVec
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "frontier_runs_started_total",
			Help: "Crawl runs started by this process.",
		}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "frontier_runs_running",
			Help: "Crawl runs currently active.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "frontier_run_duration_seconds",
			Help:    "Wall time of completed crawl runs.",
			Buckets: []float64{60, 300, 900, 3600, 4 * 3600, 12 * 3600, 24 * 3600},
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frontier_progress_events_total",
			Help: "Progress events partitioned by stage and status class.",
		}, []string{"stage", "status_class"}),
		fetchBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "frontier_fetch_bytes_total",
			Help: "Response bytes of successful fetches.",
		}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "frontier_fetch_latency_seconds",
			Help:    "Fetch latency partitioned by status class.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"status_class"}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsRunning,
		s.runDuration,
		s.events,
		s.fetchBytes,
		s.fetchLatency,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.events.WithLabelValues(string(evt.Stage), string(evt.StatusClass)).Inc()
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
			s.runsRunning.Inc()
		case progress.StageRunDone:
			s.runsRunning.Dec()
			if evt.Dur > 0 {
				s.runDuration.Observe(evt.Dur.Seconds())
			}
		case progress.StageFetchDone:
			if evt.Bytes > 0 {
				s.fetchBytes.Add(float64(evt.Bytes))
			}
			if evt.Dur > 0 {
				s.fetchLatency.WithLabelValues(string(evt.StatusClass)).Observe(evt.Dur.Seconds())
			}
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
