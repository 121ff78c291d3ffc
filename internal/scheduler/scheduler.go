// Package scheduler hands frontier items to workers while keeping each host
// in a cooldown between dispatches.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlfrontier/internal/clock/system"
	"github.com/JakeFAU/crawlfrontier/internal/crawler"
	"github.com/JakeFAU/crawlfrontier/internal/metrics"
	"github.com/JakeFAU/crawlfrontier/internal/queue"
)

// DelaySource reports a host's robots crawl-delay. CachedCrawlDelay must not
// do I/O; CrawlDelayFor may fetch robots.txt for the URL's host.
type DelaySource interface {
	CachedCrawlDelay(host string) (time.Duration, bool)
	CrawlDelayFor(ctx context.Context, rawURL string) time.Duration
}

// Config sets the cooldown bounds. DefaultDelay is the floor applied to
// every host; MaxDelay caps robots values when positive.
type Config struct {
	DefaultDelay time.Duration
	MaxDelay     time.Duration
}

// Scheduler dispatches the best ready item and tracks when each host may be
// contacted again.
type Scheduler struct {
	cfg    Config
	queue  *queue.Queue
	delays DelaySource
	clock  crawler.Clock
	logger *zap.Logger

	mu          sync.Mutex
	nextAllowed map[string]time.Time
	// resolving holds hosts dispatched before their crawl-delay was known.
	// They stay out of rotation until resolveDelay settles their cooldown.
	resolving map[string]struct{}
	settled   chan struct{}

	stopOnce sync.Once
	stop     chan struct{}
}

// New builds a Scheduler. delays may be nil, in which case only the
// DefaultDelay applies.
func New(cfg Config, q *queue.Queue, delays DelaySource, clock crawler.Clock, logger *zap.Logger) (*Scheduler, error) {
	if q == nil {
		return nil, errors.New("queue is required")
	}
	if cfg.DefaultDelay < 0 {
		return nil, fmt.Errorf("default delay must be >= 0, got %s", cfg.DefaultDelay)
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:         cfg,
		queue:       q,
		delays:      delays,
		clock:       clock,
		logger:      logger,
		nextAllowed: make(map[string]time.Time),
		resolving:   make(map[string]struct{}),
		settled:     make(chan struct{}),
		stop:        make(chan struct{}),
	}, nil
}

// NextReady blocks until some host is out of cooldown and has a queued item,
// then returns that host's best item and starts its next cooldown. When no
// robots entry is cached for the host, as after a restart, the crawl-delay is
// fetched before returning and the cooldown is measured from the dispatch.
// It returns crawler.ErrStopped after Stop or once the queue is closed.
func (s *Scheduler) NextReady(ctx context.Context) (crawler.WorkItem, error) {
	start := time.Now()
	for {
		if s.stopped() {
			return crawler.WorkItem{}, crawler.ErrStopped
		}
		changed := s.queue.Changed()
		settled := s.settledChan()

		d, err := s.tryDispatch(ctx)
		if err != nil {
			return crawler.WorkItem{}, err
		}
		if d.ok {
			if d.resolve {
				s.resolveDelay(ctx, d.item.Host, d.item.URL, d.at)
			}
			metrics.ObservePolitenessWait(time.Since(start))
			return d.item, nil
		}

		if err := s.wait(ctx, changed, settled, d.wait); err != nil {
			return crawler.WorkItem{}, err
		}
	}
}

// wait sleeps until the queue changes, a pending delay resolves, the
// cooldown of the earliest pending host expires, or the scheduler stops.
func (s *Scheduler) wait(ctx context.Context, changed, settled <-chan struct{}, d time.Duration) error {
	var timerC <-chan time.Time
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timerC = timer.C
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("next ready canceled: %w", ctx.Err())
	case <-s.stop:
		return crawler.ErrStopped
	case <-changed:
	case <-settled:
	case <-timerC:
	}
	return nil
}

type dispatch struct {
	item    crawler.WorkItem
	ok      bool
	resolve bool
	at      time.Time
	// wait is how long until the earliest pending host leaves cooldown.
	// Zero means only a queue change or a resolved delay can help.
	wait time.Duration
}

func (s *Scheduler) tryDispatch(ctx context.Context) (dispatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	item, ok, err := s.queue.TryDequeue(ctx, func(host string) bool {
		if _, busy := s.resolving[host]; busy {
			return false
		}
		return !now.Before(s.nextAllowed[host])
	})
	if err != nil {
		return dispatch{}, err
	}
	if ok {
		delay, known := s.delayFor(item.Host)
		s.nextAllowed[item.Host] = now.Add(delay)
		if !known {
			s.resolving[item.Host] = struct{}{}
		}
		s.logger.Debug("dispatching item",
			zap.String("host", item.Host),
			zap.Int64("doc_id", item.DocID),
			zap.Duration("cooldown", delay),
			zap.Bool("delay_known", known),
		)
		return dispatch{item: item, ok: true, resolve: !known, at: now}, nil
	}

	pending := s.queue.PendingHosts()
	var earliest time.Time
	for _, host := range pending {
		if _, busy := s.resolving[host]; busy {
			continue
		}
		next := s.nextAllowed[host]
		if earliest.IsZero() || next.Before(earliest) {
			earliest = next
		}
	}
	s.pruneLocked(now, pending)
	if earliest.IsZero() {
		return dispatch{}, nil
	}
	wait := earliest.Sub(now)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return dispatch{wait: wait}, nil
}

// resolveDelay fetches the crawl-delay of a host dispatched at `at` without a
// cached robots entry and pushes its cooldown out to at+delay.
func (s *Scheduler) resolveDelay(ctx context.Context, host, rawURL string, at time.Time) {
	delay := s.bound(s.delays.CrawlDelayFor(ctx, rawURL))

	s.mu.Lock()
	defer s.mu.Unlock()
	if next := at.Add(delay); next.After(s.nextAllowed[host]) {
		s.nextAllowed[host] = next
	}
	delete(s.resolving, host)
	close(s.settled)
	s.settled = make(chan struct{})
	s.logger.Debug("crawl delay resolved", zap.String("host", host), zap.Duration("cooldown", delay))
}

func (s *Scheduler) settledChan() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settled
}

// Delay returns the cooldown applied to host after a dispatch, using only
// cached robots data.
func (s *Scheduler) Delay(host string) time.Duration {
	delay, _ := s.delayFor(host)
	return delay
}

// delayFor reports the bounded cooldown for host and whether its robots
// crawl-delay was known. Without a DelaySource every delay is known.
func (s *Scheduler) delayFor(host string) (time.Duration, bool) {
	if s.delays == nil {
		return s.bound(0), true
	}
	d, ok := s.delays.CachedCrawlDelay(host)
	return s.bound(d), ok
}

func (s *Scheduler) bound(delay time.Duration) time.Duration {
	if s.cfg.MaxDelay > 0 && delay > s.cfg.MaxDelay {
		delay = s.cfg.MaxDelay
	}
	if delay < s.cfg.DefaultDelay {
		delay = s.cfg.DefaultDelay
	}
	return delay
}

// pruneLocked drops expired cooldowns of hosts with nothing queued.
func (s *Scheduler) pruneLocked(now time.Time, pending []string) {
	if len(s.nextAllowed) <= len(pending) {
		return
	}
	keep := make(map[string]struct{}, len(pending))
	for _, host := range pending {
		keep[host] = struct{}{}
	}
	for host, next := range s.nextAllowed {
		if _, ok := keep[host]; ok {
			continue
		}
		if _, busy := s.resolving[host]; busy {
			continue
		}
		if !now.Before(next) {
			delete(s.nextAllowed, host)
		}
	}
}

// NextAllowed reports when host may next be dispatched. The zero time means
// immediately.
func (s *Scheduler) NextAllowed(host string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextAllowed[host]
}

// Forget clears the cooldown of host.
func (s *Scheduler) Forget(host string) {
	s.mu.Lock()
	delete(s.nextAllowed, host)
	s.mu.Unlock()
}

// Stop wakes every NextReady caller with crawler.ErrStopped.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Scheduler) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}
