// Package frontier is the admission pipeline in front of the queue: every
// candidate is filtered by the policy hook, canonicalized, deduplicated
// against the seen store and checked against robots.txt before it is
// enqueued.
package frontier

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlfrontier/internal/crawler"
	"github.com/JakeFAU/crawlfrontier/internal/metrics"
	"github.com/JakeFAU/crawlfrontier/internal/queue"
	"github.com/JakeFAU/crawlfrontier/internal/scheduler"
	"github.com/JakeFAU/crawlfrontier/internal/urlid"
)

// SeedTag marks items admitted through Seed.
const SeedTag = "seed"

// RobotsChecker answers robots.txt permission queries.
type RobotsChecker interface {
	IsAllowed(ctx context.Context, u urlid.CanonicalURL, userAgent string) bool
}

// Config holds the admission bounds. Negative values disable a bound.
type Config struct {
	UserAgent    string
	MaxDepth     int
	MaxRedirects int
	MaxRetries   int
}

// Frontier wires URL identity, the seen store, robots and the queue.
type Frontier struct {
	cfg       Config
	canon     *urlid.Canonicalizer
	seen      crawler.SeenStore
	robots    RobotsChecker
	queue     *queue.Queue
	scheduler *scheduler.Scheduler
	hook      crawler.PolicyHook
	logger    *zap.Logger
}

// New constructs a Frontier. robots and hook may be nil, meaning
// everything is allowed.
func New(
	cfg Config,
	canon *urlid.Canonicalizer,
	seen crawler.SeenStore,
	robots RobotsChecker,
	q *queue.Queue,
	sched *scheduler.Scheduler,
	hook crawler.PolicyHook,
	logger *zap.Logger,
) (*Frontier, error) {
	if canon == nil || seen == nil || q == nil || sched == nil {
		return nil, errors.New("frontier requires a canonicalizer, seen store, queue and scheduler")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Frontier{
		cfg:       cfg,
		canon:     canon,
		seen:      seen,
		robots:    robots,
		queue:     q,
		scheduler: sched,
		hook:      hook,
		logger:    logger,
	}, nil
}

// Seed admits urls at depth 0. Non-fatal rejections are logged and skipped;
// a storage failure aborts seeding.
func (f *Frontier) Seed(ctx context.Context, urls ...string) (int, error) {
	admitted := 0
	for _, raw := range urls {
		_, err := f.Admit(ctx, crawler.Candidate{URL: raw, Tag: SeedTag})
		switch {
		case err == nil:
			admitted++
		case crawler.IsFatal(err), errors.Is(err, crawler.ErrStopped):
			return admitted, err
		default:
			f.logger.Warn("seed not admitted", zap.String("url", raw), zap.Error(err))
		}
	}
	return admitted, nil
}

// Admit runs candidate through the admission pipeline and returns the
// enqueued item.
func (f *Frontier) Admit(ctx context.Context, candidate crawler.Candidate) (crawler.WorkItem, error) {
	if f.hook != nil && !f.hook.ShouldAdmit(ctx, candidate) {
		return crawler.WorkItem{}, f.discard(candidate.URL, crawler.ErrRejected)
	}
	cu, err := f.canon.Canonicalize(candidate.URL)
	if err != nil {
		return crawler.WorkItem{}, f.discard(candidate.URL, err)
	}
	item := crawler.WorkItem{
		URL:        cu.String(),
		Host:       cu.Host,
		Depth:      candidate.Depth(),
		Priority:   candidate.Priority,
		Tag:        candidate.Tag,
		Label:      candidate.Label,
		Anchor:     candidate.Anchor,
		Attributes: candidate.Attributes,
	}
	if parent := candidate.Parent; parent != nil {
		item.ParentDocID = parent.DocID
		item.ParentURL = parent.URL
	}
	return f.admit(ctx, cu, item)
}

// Redirect admits the target of a redirect answered for item. The new item
// keeps item's depth and lineage and carries one more redirection.
func (f *Frontier) Redirect(ctx context.Context, item crawler.WorkItem, target string) (crawler.WorkItem, error) {
	base, err := url.Parse(item.URL)
	if err != nil {
		return crawler.WorkItem{}, f.discard(target, fmt.Errorf("%w: %v", crawler.ErrMalformedURL, err))
	}
	ref, err := url.Parse(target)
	if err != nil {
		return crawler.WorkItem{}, f.discard(target, fmt.Errorf("%w: %v", crawler.ErrMalformedURL, err))
	}
	resolved := base.ResolveReference(ref).String()

	cu, err := f.canon.Canonicalize(resolved)
	if err != nil {
		return crawler.WorkItem{}, f.discard(resolved, err)
	}
	next := item
	next.DocID = 0
	next.Seq = 0
	next.Attempt = 0
	next.URL = cu.String()
	next.Host = cu.Host
	next.RedirectionDepth = item.RedirectionDepth + 1
	next.EnqueuedAt = time.Time{}
	return f.admit(ctx, cu, next)
}

// Retry re-enqueues item for another attempt, skipping the seen check.
func (f *Frontier) Retry(ctx context.Context, item crawler.WorkItem) (crawler.WorkItem, error) {
	if f.cfg.MaxRetries >= 0 && item.Attempt+1 > f.cfg.MaxRetries {
		return crawler.WorkItem{}, f.discard(item.URL, crawler.ErrRetriesExhausted)
	}
	next := item
	next.Attempt++
	next.Seq = 0
	next.EnqueuedAt = time.Time{}
	queued, err := f.queue.Enqueue(ctx, next)
	if err != nil {
		return crawler.WorkItem{}, f.discard(item.URL, err)
	}
	return queued, nil
}

// Next blocks until the scheduler releases an item.
func (f *Frontier) Next(ctx context.Context) (crawler.WorkItem, error) {
	item, err := f.scheduler.NextReady(ctx)
	if err != nil {
		return crawler.WorkItem{}, fmt.Errorf("next item: %w", err)
	}
	return item, nil
}

// Stats summarizes the frontier.
func (f *Frontier) Stats(ctx context.Context) (crawler.Stats, error) {
	seen, err := f.seen.Count(ctx)
	if err != nil {
		return crawler.Stats{}, err
	}
	return crawler.Stats{
		Seen:         seen,
		Queued:       f.queue.Len(),
		PendingHosts: f.queue.PendingHosts(),
		Stopped:      f.queue.Closed(),
	}, nil
}

// Stop wakes every blocked caller with crawler.ErrStopped. Queued items
// remain durable.
func (f *Frontier) Stop() {
	f.scheduler.Stop()
	f.queue.Close()
}

func (f *Frontier) admit(ctx context.Context, cu urlid.CanonicalURL, item crawler.WorkItem) (crawler.WorkItem, error) {
	if f.cfg.MaxDepth >= 0 && item.Depth > f.cfg.MaxDepth {
		return crawler.WorkItem{}, f.discard(item.URL,
			fmt.Errorf("%w: depth %d > %d", crawler.ErrDepthExceeded, item.Depth, f.cfg.MaxDepth))
	}
	if f.cfg.MaxRedirects >= 0 && item.RedirectionDepth > f.cfg.MaxRedirects {
		return crawler.WorkItem{}, f.discard(item.URL,
			fmt.Errorf("%w: %d redirects > %d", crawler.ErrRedirectionLoopSuspected, item.RedirectionDepth, f.cfg.MaxRedirects))
	}
	// The slot is taken before the seen store so a full queue never burns
	// the URL, even when other producers enqueue during the robots check.
	slot, err := f.queue.Reserve()
	if err != nil {
		return crawler.WorkItem{}, f.discard(item.URL, err)
	}
	defer slot.Release()

	docID, isNew, err := f.seen.GetOrAssign(ctx, cu.Key())
	if err != nil {
		return crawler.WorkItem{}, err
	}
	if !isNew {
		return crawler.WorkItem{}, f.discard(item.URL, crawler.ErrAlreadySeen)
	}
	item.DocID = docID

	if f.robots != nil && !f.robots.IsAllowed(ctx, cu, f.cfg.UserAgent) {
		return crawler.WorkItem{}, f.discard(item.URL, crawler.ErrDisallowed)
	}

	queued, err := slot.Enqueue(ctx, item)
	if err != nil {
		return crawler.WorkItem{}, f.discard(item.URL, err)
	}
	metrics.ObserveAdmitted(queued.Tag)
	return queued, nil
}

// discard counts and logs a rejected URL and returns err unchanged.
func (f *Frontier) discard(rawURL string, err error) error {
	reason := discardReason(err)
	if reason == "" {
		return err
	}
	metrics.ObserveDiscarded(reason)
	f.logger.Debug("url discarded",
		zap.String("url", rawURL),
		zap.String("reason", reason),
		zap.Error(err),
	)
	return err
}

func discardReason(err error) string {
	switch {
	case errors.Is(err, crawler.ErrMalformedURL):
		return metrics.ReasonMalformed
	case errors.Is(err, crawler.ErrRejected):
		return metrics.ReasonRejected
	case errors.Is(err, crawler.ErrAlreadySeen):
		return metrics.ReasonSeen
	case errors.Is(err, crawler.ErrDisallowed):
		return metrics.ReasonDisallowed
	case errors.Is(err, crawler.ErrDepthExceeded):
		return metrics.ReasonDepthExceeded
	case errors.Is(err, crawler.ErrRedirectionLoopSuspected):
		return metrics.ReasonRedirectionLoop
	case errors.Is(err, crawler.ErrQueueFull):
		return metrics.ReasonQueueFull
	case errors.Is(err, crawler.ErrRetriesExhausted):
		return metrics.ReasonRetriesExhausted
	default:
		return ""
	}
}
