// Package worker implements the crawl loop: take the next ready item from
// the frontier, fetch it, and feed redirects, retries and discovered links
// back into admission.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlfrontier/internal/crawler"
	"github.com/JakeFAU/crawlfrontier/internal/metrics"
	"github.com/JakeFAU/crawlfrontier/internal/progress"
)

const tracerName = "github.com/JakeFAU/crawlfrontier/internal/worker"

// Frontier is the part of the frontier a worker drives.
type Frontier interface {
	Next(ctx context.Context) (crawler.WorkItem, error)
	Admit(ctx context.Context, candidate crawler.Candidate) (crawler.WorkItem, error)
	Redirect(ctx context.Context, item crawler.WorkItem, target string) (crawler.WorkItem, error)
	Retry(ctx context.Context, item crawler.WorkItem) (crawler.WorkItem, error)
}

// RateLimiter throttles fetches per domain.
type RateLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls Worker behavior.
type Config struct {
	ID      string
	Headers http.Header
	// RunID tags emitted progress events.
	RunID uuid.UUID
	// Events receives fetch outcomes; nil discards them.
	Events progress.Emitter
}

// Worker consumes frontier items and executes the fetch pipeline.
type Worker struct {
	frontier Frontier
	fetcher  crawler.Fetcher
	hook     crawler.PolicyHook
	limiter  RateLimiter
	retry    crawler.RetryPolicy
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker. limiter and hook may be nil; a nil retry policy
// uses crawler.NewExponentialRetryPolicy.
func New(
	frontier Frontier,
	fetcher crawler.Fetcher,
	hook crawler.PolicyHook,
	limiter RateLimiter,
	retry crawler.RetryPolicy,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if retry == nil {
		retry = crawler.NewExponentialRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Events == nil {
		cfg.Events = progress.Nop{}
	}
	if cfg.ID != "" {
		logger = logger.With(zap.String("worker_id", cfg.ID))
	}
	return &Worker{
		frontier: frontier,
		fetcher:  fetcher,
		hook:     hook,
		limiter:  limiter,
		retry:    retry,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run blocks, processing items until ctx ends or the frontier stops. An
// item already taken when ctx ends is finished before Run returns. Only
// storage failures are returned.
func (w *Worker) Run(ctx context.Context) error {
	for {
		item, err := w.frontier.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrStopped) {
				return nil
			}
			if crawler.IsFatal(err) {
				return err
			}
			w.logger.Error("next item failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued item",
			zap.Int64("doc_id", item.DocID),
			zap.String("url", item.URL),
			zap.Int("depth", item.Depth),
		)
		if err := w.process(context.WithoutCancel(ctx), item); err != nil {
			return err
		}
	}
}

func (w *Worker) process(ctx context.Context, item crawler.WorkItem) error {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "worker.fetch", trace.WithAttributes(
		attribute.String("url.full", item.URL),
		attribute.String("server.address", item.Host),
		attribute.Int64("crawl.doc_id", item.DocID),
		attribute.Int("crawl.depth", item.Depth),
		attribute.Int("crawl.attempt", item.Attempt),
	))
	defer span.End()

	site := metrics.SanitizeSite(item.URL)
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx, item.URL); err != nil {
			w.logger.Warn("rate limit wait failed", zap.String("url", item.URL), zap.Error(err))
		}
	}

	result, err := w.fetcher.Fetch(ctx, crawler.FetchRequest{URL: item.URL, Headers: w.cfg.Headers})
	if err == nil && crawler.RetryableStatus(result.StatusCode) {
		statusErr := &crawler.StatusError{StatusCode: result.StatusCode}
		if d, ok := crawler.ParseRetryAfter(result.Headers.Get("Retry-After"), time.Now()); ok {
			statusErr.RetryAfter = d
		}
		err = statusErr
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		metrics.ObserveCrawl(site, "error", 0)
		w.emit(ctx, progress.StageFetchError, item, result, err.Error())
		return w.handleFailure(ctx, item, err)
	}

	span.SetAttributes(attribute.Int("http.response.status_code", result.StatusCode))
	if result.IsRedirect() {
		metrics.ObserveCrawl(site, "redirect", 0)
		w.emit(ctx, progress.StageRedirect, item, result, result.RedirectTarget)
		_, err := w.frontier.Redirect(ctx, item, result.RedirectTarget)
		return w.admitted(err, "redirect not admitted", result.RedirectTarget)
	}

	metrics.ObserveCrawl(site, strconv.Itoa(result.StatusCode), len(result.Body))
	w.emit(ctx, progress.StageFetchDone, item, result, "")
	if w.hook == nil {
		return nil
	}
	candidates := w.hook.OnDequeue(ctx, item, result)
	admitted := 0
	for _, candidate := range candidates {
		_, err := w.frontier.Admit(ctx, candidate)
		if err == nil {
			admitted++
			continue
		}
		if errors.Is(err, crawler.ErrStopped) {
			break
		}
		if crawler.IsFatal(err) {
			return err
		}
	}
	w.logger.Debug("processed item",
		zap.String("url", item.URL),
		zap.Int("status", result.StatusCode),
		zap.Int("discovered", len(candidates)),
		zap.Int("admitted", admitted),
	)
	return nil
}

func (w *Worker) handleFailure(ctx context.Context, item crawler.WorkItem, fetchErr error) error {
	if !w.retry.ShouldRetry(fetchErr, item.Attempt) {
		w.logger.Warn("fetch failed; giving up",
			zap.String("url", item.URL),
			zap.Int("attempt", item.Attempt),
			zap.Error(fetchErr),
		)
		return nil
	}
	backoff := w.retry.Backoff(item.Attempt)
	if d, ok := crawler.RetryAfter(fetchErr); ok && d > backoff {
		backoff = d
	}
	w.logger.Info("fetch failed; retrying",
		zap.String("url", item.URL),
		zap.Int("attempt", item.Attempt+1),
		zap.Duration("backoff", backoff),
		zap.Error(fetchErr),
	)
	if err := crawler.Pause(ctx, backoff); err != nil {
		return nil
	}
	w.emit(ctx, progress.StageRetry, item, crawler.FetchResult{}, fetchErr.Error())
	_, err := w.frontier.Retry(ctx, item)
	return w.admitted(err, "retry not queued", item.URL)
}

// admitted filters an admission error down to the fatal ones.
func (w *Worker) admitted(err error, msg, rawURL string) error {
	if err == nil {
		return nil
	}
	if crawler.IsFatal(err) {
		return fmt.Errorf("%s: %w", msg, err)
	}
	w.logger.Debug(msg, zap.String("url", rawURL), zap.Error(err))
	return nil
}

func (w *Worker) emit(ctx context.Context, stage progress.Stage, item crawler.WorkItem, result crawler.FetchResult, note string) {
	evt := progress.Event{
		RunID: w.cfg.RunID,
		TS:    time.Now().UTC(),
		Stage: stage,
		Host:  item.Host,
		URL:   item.URL,
		DocID: item.DocID,
		Depth: item.Depth,
		Bytes: int64(len(result.Body)),
		Dur:   result.Duration,
		Note:  note,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		evt.TraceID = sc.TraceID().String()
	}
	if stage == progress.StageFetchDone {
		evt.StatusClass = progress.ClassifyStatus(result.StatusCode)
	}
	w.cfg.Events.Emit(evt)
}
