// Package queue implements the durable frontier queue: items are ordered by
// priority, then depth, then insertion, and every enqueue is recorded in a
// crawler.QueueStore before it is acknowledged.
package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlfrontier/internal/clock/system"
	"github.com/JakeFAU/crawlfrontier/internal/crawler"
	"github.com/JakeFAU/crawlfrontier/internal/metrics"
)

// Config bounds what the queue accepts. A negative MaxDepth or MaxRedirects
// disables that bound; a Capacity <= 0 means unbounded.
type Config struct {
	Capacity     int
	MaxDepth     int
	MaxRedirects int
}

// Queue holds pending items in one heap per host so that a host in cooldown
// does not block the others.
type Queue struct {
	cfg    Config
	store  crawler.QueueStore
	clock  crawler.Clock
	logger *zap.Logger

	mu       sync.Mutex
	hosts    map[string]*itemHeap
	size     int
	reserved int
	nextSeq  uint64
	changed  chan struct{}
	closed   bool
}

var errSlotUsed = errors.New("queue slot already used")

// Option customizes a Queue.
type Option func(*Queue)

// WithClock overrides the clock used to stamp EnqueuedAt.
func WithClock(c crawler.Clock) Option {
	return func(q *Queue) {
		if c != nil {
			q.clock = c
		}
	}
}

// WithLogger sets the queue logger.
func WithLogger(l *zap.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// Open builds a queue on top of store and restores the items that survived
// a previous run. Sequence numbers continue after the highest recovered one.
func Open(ctx context.Context, store crawler.QueueStore, cfg Config, opts ...Option) (*Queue, error) {
	if store == nil {
		return nil, errors.New("queue store is required")
	}
	q := &Queue{
		cfg:     cfg,
		store:   store,
		clock:   system.New(),
		logger:  zap.NewNop(),
		hosts:   make(map[string]*itemHeap),
		changed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}

	items, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("recover frontier: %w", err)
	}
	for _, item := range items {
		q.push(item)
		if item.Seq > q.nextSeq {
			q.nextSeq = item.Seq
		}
	}
	if len(items) > 0 {
		q.logger.Info("frontier recovered",
			zap.Int("items", len(items)),
			zap.Int("hosts", len(q.hosts)),
			zap.Uint64("next_seq", q.nextSeq+1),
		)
	}
	metrics.SetQueueDepth(q.size)
	return q, nil
}

// Enqueue validates the depth and redirect bounds and the capacity, then
// durably records item before making it visible to Dequeue. The assigned Seq
// is set on the returned item.
func (q *Queue) Enqueue(ctx context.Context, item crawler.WorkItem) (crawler.WorkItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enqueueLocked(ctx, item)
}

// Slot is one unit of capacity held by Reserve.
type Slot struct {
	q    *Queue
	done bool
}

// Reserve holds one unit of capacity until the slot is enqueued into or
// released. Other producers see the queue as full while every free unit is
// reserved. It fails with crawler.ErrQueueFull or crawler.ErrStopped.
func (q *Queue) Reserve() (*Slot, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, crawler.ErrStopped
	}
	if q.fullLocked() {
		return nil, crawler.ErrQueueFull
	}
	q.reserved++
	return &Slot{q: q}, nil
}

// Enqueue spends the slot on item. The slot is consumed whether or not the
// enqueue succeeds.
func (s *Slot) Enqueue(ctx context.Context, item crawler.WorkItem) (crawler.WorkItem, error) {
	s.q.mu.Lock()
	defer s.q.mu.Unlock()
	if s.done {
		return item, errSlotUsed
	}
	s.done = true
	s.q.reserved--
	return s.q.enqueueLocked(ctx, item)
}

// Release returns an unused slot. It is a no-op after Enqueue.
func (s *Slot) Release() {
	s.q.mu.Lock()
	defer s.q.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	s.q.reserved--
}

func (q *Queue) enqueueLocked(ctx context.Context, item crawler.WorkItem) (crawler.WorkItem, error) {
	if q.closed {
		return item, crawler.ErrStopped
	}
	if q.cfg.MaxDepth >= 0 && item.Depth > q.cfg.MaxDepth {
		return item, fmt.Errorf("%w: depth %d > %d", crawler.ErrDepthExceeded, item.Depth, q.cfg.MaxDepth)
	}
	if q.cfg.MaxRedirects >= 0 && item.RedirectionDepth > q.cfg.MaxRedirects {
		return item, fmt.Errorf("%w: %d redirects > %d",
			crawler.ErrRedirectionLoopSuspected, item.RedirectionDepth, q.cfg.MaxRedirects)
	}
	if q.fullLocked() {
		return item, crawler.ErrQueueFull
	}

	q.nextSeq++
	item.Seq = q.nextSeq
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = q.clock.Now()
	}
	if err := q.store.Append(ctx, item); err != nil {
		return item, err
	}
	q.push(item)
	q.signalLocked()
	metrics.SetQueueDepth(q.size)
	return item, nil
}

// TryDequeue removes and returns the best item among the hosts accepted by
// ready. ready is called with the queue lock held and must not call back
// into the queue. A nil ready accepts every host.
func (q *Queue) TryDequeue(ctx context.Context, ready func(host string) bool) (crawler.WorkItem, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return crawler.WorkItem{}, false, crawler.ErrStopped
	}

	var (
		best     crawler.WorkItem
		bestHost string
		found    bool
	)
	for host, h := range q.hosts {
		if h.Len() == 0 {
			continue
		}
		if ready != nil && !ready(host) {
			continue
		}
		head := (*h)[0]
		if !found || head.Before(best) {
			best, bestHost, found = head, host, true
		}
	}
	if !found {
		return crawler.WorkItem{}, false, nil
	}

	if err := q.store.Remove(ctx, best.Seq); err != nil {
		return crawler.WorkItem{}, false, err
	}
	h := q.hosts[bestHost]
	heap.Pop(h)
	if h.Len() == 0 {
		delete(q.hosts, bestHost)
	}
	q.size--
	metrics.SetQueueDepth(q.size)
	return best, true, nil
}

// Dequeue blocks until an item is available. It returns crawler.ErrStopped
// once the queue is closed and the context error on cancellation.
func (q *Queue) Dequeue(ctx context.Context) (crawler.WorkItem, error) {
	for {
		changed := q.Changed()
		item, ok, err := q.TryDequeue(ctx, nil)
		if err != nil {
			return crawler.WorkItem{}, err
		}
		if ok {
			return item, nil
		}
		select {
		case <-ctx.Done():
			return crawler.WorkItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-changed:
		}
	}
}

// Changed returns a channel that is closed on the next enqueue or on Close.
// Callers must fetch a fresh channel after each wake-up.
func (q *Queue) Changed() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.changed
}

// Len reports the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Full reports whether the next Enqueue would fail with ErrQueueFull.
// Reserved slots count as used.
func (q *Queue) Full() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fullLocked()
}

// PendingHosts lists the hosts that have queued items, sorted.
func (q *Queue) PendingHosts() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	hosts := make([]string, 0, len(q.hosts))
	for host := range q.hosts {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close wakes every blocked caller with crawler.ErrStopped. Queued items stay
// in the store for the next run. Closing twice is safe.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.changed)
}

func (q *Queue) push(item crawler.WorkItem) {
	h, ok := q.hosts[item.Host]
	if !ok {
		h = &itemHeap{}
		q.hosts[item.Host] = h
	}
	heap.Push(h, item)
	q.size++
}

func (q *Queue) fullLocked() bool {
	return q.cfg.Capacity > 0 && q.size+q.reserved >= q.cfg.Capacity
}

func (q *Queue) signalLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}
