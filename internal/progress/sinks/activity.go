package sinks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/crawlfrontier/internal/progress"
)

// HostActivity is the running tally of fetch outcomes for one host.
type HostActivity struct {
	Host      string    `json:"host"`
	Fetches   int64     `json:"fetches"`
	Bytes     int64     `json:"bytes"`
	Fetch2xx  int64     `json:"fetch_2xx"`
	Fetch3xx  int64     `json:"fetch_3xx"`
	Fetch4xx  int64     `json:"fetch_4xx"`
	Fetch5xx  int64     `json:"fetch_5xx"`
	Errors    int64     `json:"errors"`
	Redirects int64     `json:"redirects"`
	Retries   int64     `json:"retries"`
	LastFetch time.Time `json:"last_fetch"`
}

// ActivitySink keeps per-host HostActivity in memory for the API.
type ActivitySink struct {
	mu    sync.RWMutex
	hosts map[string]*HostActivity
}

// NewActivitySink returns an empty ActivitySink.
func NewActivitySink() *ActivitySink {
	return &ActivitySink{hosts: make(map[string]*HostActivity)}
}

// Consume folds batch into the per-host tallies.
func (s *ActivitySink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		if evt.Host == "" {
			continue
		}
		a := s.hosts[evt.Host]
		if a == nil {
			a = &HostActivity{Host: evt.Host}
			s.hosts[evt.Host] = a
		}
		switch evt.Stage {
		case progress.StageFetchDone:
			a.Fetches++
			a.Bytes += evt.Bytes
			switch evt.StatusClass {
			case progress.Status2xx:
				a.Fetch2xx++
			case progress.Status3xx:
				a.Fetch3xx++
			case progress.Status4xx:
				a.Fetch4xx++
			case progress.Status5xx:
				a.Fetch5xx++
			}
			if evt.TS.After(a.LastFetch) {
				a.LastFetch = evt.TS
			}
		case progress.StageFetchError:
			a.Errors++
		case progress.StageRedirect:
			a.Redirects++
		case progress.StageRetry:
			a.Retries++
		}
	}
	return nil
}

// Activity returns a copy of host's tally.
func (s *ActivitySink) Activity(host string) (HostActivity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.hosts[host]
	if !ok {
		return HostActivity{}, false
	}
	return *a, true
}

// Hosts lists every host seen so far, sorted.
func (s *ActivitySink) Hosts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.hosts))
	for host := range s.hosts {
		out = append(out, host)
	}
	sort.Strings(out)
	return out
}

// Close implements progress.Sink.
func (s *ActivitySink) Close(context.Context) error {
	return nil
}
