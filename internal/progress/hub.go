package progress

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Config controls buffering and batching for the Hub. Zero values take the
// defaults below.
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	// SinkTimeout bounds each Consume and Close call.
	SinkTimeout time.Duration
	Logger      *zap.Logger
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 500
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 5 * time.Second
	dropLogInterval       = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = defaultMaxBatchEvents
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = defaultMaxBatchWait
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Stats counts what passed through a Hub.
type Stats struct {
	Emitted int64
	Dropped int64
	Batches int64
}

// Hub batches events from any number of emitters and hands every batch to
// all sinks at once. Each sink sees batches one at a time and in order, so
// sinks need no locking against themselves.
type Hub struct {
	cfg    Config
	sinks  []Sink
	events chan Event
	logger *zap.Logger

	stop context.CancelFunc
	done chan struct{}

	closed   atomic.Bool
	emitted  atomic.Int64
	dropped  atomic.Int64
	batches  atomic.Int64
	reported atomic.Int64
	dropLog  rate.Sometimes
}

// NewHub starts the batching goroutine and returns a Hub ready for Emit.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		cfg:     cfg,
		events:  make(chan Event, cfg.BufferSize),
		logger:  cfg.Logger,
		stop:    cancel,
		done:    make(chan struct{}),
		dropLog: rate.Sometimes{First: 1, Interval: dropLogInterval},
	}
	for _, s := range sinks {
		if s != nil {
			h.sinks = append(h.sinks, s)
		}
	}
	go h.run(ctx)
	return h
}

// Emit enqueues evt without blocking. A full buffer drops the event and
// logs a periodic warning; invalid events are discarded.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
		h.emitted.Add(1)
	default:
		total := h.dropped.Add(1)
		h.dropLog.Do(func() {
			h.logger.Warn("progress events dropped due to backpressure",
				zap.Int64("dropped", total-h.reported.Swap(total)),
				zap.Int64("dropped_total", total),
			)
		})
	}
}

// Dropped reports how many events were lost to backpressure.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Stats returns the hub's counters.
func (h *Hub) Stats() Stats {
	return Stats{
		Emitted: h.emitted.Load(),
		Dropped: h.dropped.Load(),
		Batches: h.batches.Load(),
	}
}

// Close stops intake, flushes what is buffered, closes every sink and waits
// for that to finish or ctx to end. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if h.closed.CompareAndSwap(false, true) {
		h.stop()
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)
	batch := make([]Event, 0, h.cfg.MaxBatchEvents)
	timer := time.NewTimer(h.cfg.MaxBatchWait)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case evt := <-h.events:
			if len(batch) == 0 {
				timer.Reset(h.cfg.MaxBatchWait)
			}
			if batch = append(batch, evt); len(batch) >= h.cfg.MaxBatchEvents {
				timer.Stop()
				batch = h.flush(batch)
			}
		case <-timer.C:
			batch = h.flush(batch)
		case <-ctx.Done():
			h.drain(batch)
			h.closeSinks()
			return
		}
	}
}

// drain flushes the batch under construction plus everything still queued.
func (h *Hub) drain(batch []Event) {
	for {
		select {
		case evt := <-h.events:
			if batch = append(batch, evt); len(batch) >= h.cfg.MaxBatchEvents {
				batch = h.flush(batch)
			}
		default:
			h.flush(batch)
			return
		}
	}
}

// flush delivers batch to all sinks concurrently and returns it emptied for
// reuse. Sinks share one read-only copy.
func (h *Hub) flush(batch []Event) []Event {
	if len(batch) == 0 {
		return batch
	}
	out := append([]Event(nil), batch...)
	h.batches.Add(1)
	h.fanOut("consume", func(ctx context.Context, s Sink) error {
		return s.Consume(ctx, out)
	})
	return batch[:0]
}

func (h *Hub) closeSinks() {
	h.fanOut("close", func(ctx context.Context, s Sink) error {
		return s.Close(ctx)
	})
}

// fanOut runs op on every sink in parallel, each under SinkTimeout. A
// failing sink is logged and does not affect the others.
func (h *Hub) fanOut(op string, fn func(context.Context, Sink) error) {
	var g errgroup.Group
	for i, s := range h.sinks {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
			defer cancel()
			if err := fn(ctx, s); err != nil {
				h.logger.Warn("progress sink failed",
					zap.String("op", op),
					zap.Int("sink", i),
					zap.String("type", fmt.Sprintf("%T", s)),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}
