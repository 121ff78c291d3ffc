// Package server builds the crawl service from configuration and runs it
// until the process is signaled.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	googleuuid "github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlfrontier/internal/api"
	"github.com/JakeFAU/crawlfrontier/internal/checkpoint"
	"github.com/JakeFAU/crawlfrontier/internal/clock/system"
	"github.com/JakeFAU/crawlfrontier/internal/config"
	"github.com/JakeFAU/crawlfrontier/internal/crawler"
	"github.com/JakeFAU/crawlfrontier/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/crawlfrontier/internal/fetcher/colly"
	"github.com/JakeFAU/crawlfrontier/internal/fetcher/headless"
	"github.com/JakeFAU/crawlfrontier/internal/frontier"
	"github.com/JakeFAU/crawlfrontier/internal/headless/detector"
	"github.com/JakeFAU/crawlfrontier/internal/id/uuid"
	"github.com/JakeFAU/crawlfrontier/internal/metrics"
	"github.com/JakeFAU/crawlfrontier/internal/policy/filter"
	"github.com/JakeFAU/crawlfrontier/internal/policy/ratelimit"
	"github.com/JakeFAU/crawlfrontier/internal/policy/simple"
	"github.com/JakeFAU/crawlfrontier/internal/progress"
	"github.com/JakeFAU/crawlfrontier/internal/progress/sinks"
	"github.com/JakeFAU/crawlfrontier/internal/publisher/pubsub"
	"github.com/JakeFAU/crawlfrontier/internal/queue"
	"github.com/JakeFAU/crawlfrontier/internal/robots"
	"github.com/JakeFAU/crawlfrontier/internal/scheduler"
	"github.com/JakeFAU/crawlfrontier/internal/storage"
	"github.com/JakeFAU/crawlfrontier/internal/urlid"
	"github.com/JakeFAU/crawlfrontier/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// App contains the crawl service's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	frontier  *frontier.Frontier
	scheduler *scheduler.Scheduler
	dispatch  *dispatcher.Dispatcher
	apiServer *api.Server
	runID     googleuuid.UUID
	events    *progress.Hub
	activity  *sinks.ActivitySink
	// checkpoints is nil unless a checkpoint target is configured.
	checkpoints *checkpoint.Checkpointer
	// closers run in order once Run has shut everything else down.
	closers []func() error
}

// progressMetrics registers the progress collectors once per process.
var progressMetrics = sync.OnceValues(func() (*sinks.PrometheusSink, error) {
	return sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
})

// Frontier exposes the built frontier.
func (a *App) Frontier() *frontier.Frontier {
	return a.frontier
}

// Activity exposes per-host fetch tallies for the current run.
func (a *App) Activity() *sinks.ActivitySink {
	return a.activity
}

// Handler returns the API handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Build creates the crawl pipeline on top of provider. Queued items left
// in provider by an earlier run are recovered.
func Build(ctx context.Context, cfg config.Config, provider storage.Provider, fetcher crawler.Fetcher, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	clock := system.New()
	logger.Info("building crawl service",
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Int("concurrency", cfg.Crawler.Concurrency),
		zap.String("user_agent", cfg.Crawler.UserAgent),
	)

	canon, err := buildCanonicalizer(cfg, logger)
	if err != nil {
		return nil, err
	}

	var closers []func() error
	// fail releases what Build opened so far.
	fail := func(err error) (*App, error) {
		for _, c := range closers {
			_ = c()
		}
		return nil, err
	}

	pageFetcher := fetcher
	if fetcher == nil {
		fetcher = collyfetcher.New(collyfetcher.Config{
			UserAgent:   cfg.Crawler.UserAgent,
			Timeout:     cfg.FetchTimeout(),
			MaxBodySize: cfg.HTTP.MaxBodyBytes,
		})
		logger.Info("using colly fetcher", zap.Duration("timeout", cfg.FetchTimeout()))
		pageFetcher = fetcher
		if cfg.HTTP.Headless.Enabled {
			renderer, err := headless.NewRenderer(headless.Config{
				MaxParallel:       cfg.HTTP.Headless.MaxParallel,
				UserAgent:         cfg.Crawler.UserAgent,
				NavigationTimeout: cfg.HTTP.Headless.NavTimeout,
				Settle:            cfg.HTTP.Headless.Settle,
			})
			if err != nil {
				return fail(fmt.Errorf("headless renderer init failed: %w", err))
			}
			closers = append(closers, func() error { renderer.Close(); return nil })
			pageFetcher = headless.NewPromoting(fetcher, renderer,
				detector.NewHeuristic(cfg.HTTP.Headless.MinText), logger.Named("headless"))
			logger.Info("headless promotion enabled", zap.Int("max_parallel", cfg.HTTP.Headless.MaxParallel))
		}
	}

	robotsEngine := robots.NewEngine(robots.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Respect:   cfg.Robots.Respect,
		TTL:       cfg.Robots.TTL,
		ErrorTTL:  cfg.Robots.ErrorTTL,
		MaxBytes:  cfg.Robots.MaxBytes,
	}, fetcher, clock, logger.Named("robots"))

	q, err := queue.Open(ctx, provider.Queue(), queue.Config{
		Capacity:     cfg.Crawler.QueueCapacity,
		MaxDepth:     cfg.Crawler.MaxDepth,
		MaxRedirects: cfg.Crawler.MaxRedirects,
	}, queue.WithClock(clock), queue.WithLogger(logger.Named("queue")))
	if err != nil {
		return fail(fmt.Errorf("queue init failed: %w", err))
	}

	sched, err := scheduler.New(scheduler.Config{
		DefaultDelay: cfg.Politeness.DefaultDelay,
		MaxDelay:     cfg.Politeness.MaxDelay,
	}, q, robotsEngine, clock, logger.Named("scheduler"))
	if err != nil {
		return fail(fmt.Errorf("scheduler init failed: %w", err))
	}

	hook, err := buildPolicy(cfg, logger)
	if err != nil {
		return fail(err)
	}

	f, err := frontier.New(frontier.Config{
		UserAgent:    cfg.Crawler.UserAgent,
		MaxDepth:     cfg.Crawler.MaxDepth,
		MaxRedirects: cfg.Crawler.MaxRedirects,
		MaxRetries:   cfg.Crawler.MaxRetries,
	}, canon, provider.Seen(), robotsEngine, q, sched, hook, logger.Named("frontier"))
	if err != nil {
		return fail(fmt.Errorf("frontier init failed: %w", err))
	}

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Politeness.RateLimitRPS,
		DefaultBurst: cfg.Politeness.Burst,
		Domains:      cfg.Politeness.DomainRPS,
	}, canon)
	initialBackoff, maxBackoff := cfg.RetryBackoff()
	retry := crawler.NewExponentialRetryPolicyWith(cfg.Crawler.MaxRetries, initialBackoff, maxBackoff)

	ids := uuid.New()
	runID := ids.Next()
	activity := sinks.NewActivitySink()
	promSink, err := progressMetrics()
	if err != nil {
		return fail(err)
	}
	hubSinks := []progress.Sink{activity, promSink}
	if cfg.Events.Log {
		hubSinks = append(hubSinks, sinks.NewLogSink(logger.Named("events")))
	}

	var cp *checkpoint.Checkpointer
	if target := cfg.Storage.Checkpoint.Target; target != "" {
		opened, err := checkpoint.Open(ctx, target)
		if err != nil {
			return fail(fmt.Errorf("checkpoint init failed: %w", err))
		}
		closers = append(closers, opened.Close)
		cp = checkpoint.New(provider, opened.Store, checkpoint.Config{
			Prefix:   opened.Prefix,
			Interval: cfg.Storage.Checkpoint.Interval,
		}, clock, logger.Named("checkpoint"))
		logger.Info("frontier checkpoints enabled",
			zap.String("target", target),
			zap.Duration("interval", cfg.Storage.Checkpoint.Interval),
		)
	}

	if ps := cfg.Events.PubSub; ps.Topic != "" {
		pub, err := pubsub.Open(ctx, ps.ProjectID, ps.Topic)
		if err != nil {
			return fail(fmt.Errorf("pubsub init failed: %w", err))
		}
		// The hub closes the sink, and with it the client, on shutdown.
		hubSinks = append(hubSinks, sinks.NewPublisherSink(pub))
		logger.Info("publishing progress events", zap.String("project", ps.ProjectID), zap.String("topic", ps.Topic))
	}
	hub := progress.NewHub(progress.Config{
		BufferSize:     cfg.Events.BufferSize,
		MaxBatchEvents: cfg.Events.MaxBatch,
		MaxBatchWait:   cfg.Events.MaxWait,
		Logger:         logger.Named("progress"),
	}, hubSinks...)

	workers := make([]dispatcher.Runner, 0, cfg.Crawler.Concurrency)
	for i := 0; i < cfg.Crawler.Concurrency; i++ {
		workers = append(workers, worker.New(
			f,
			pageFetcher,
			hook,
			limiter,
			retry,
			worker.Config{ID: ids.NextString(), RunID: runID, Events: hub},
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}

	return &App{
		cfg:       cfg,
		logger:    logger,
		frontier:  f,
		scheduler: sched,
		dispatch:  dispatcher.New(f, workers),
		apiServer: api.NewServer(f, api.Options{
			APIKey:    cfg.Server.APIKey,
			Cooldowns: sched,
			Activity:  activity,
		}, logger.Named("api")),
		runID:       runID,
		events:      hub,
		activity:    activity,
		checkpoints: cp,
		closers:     closers,
	}, nil
}

func buildCanonicalizer(cfg config.Config, logger *zap.Logger) (*urlid.Canonicalizer, error) {
	if cfg.SuffixList == "" {
		return urlid.New(nil, logger.Named("urlid")), nil
	}
	list, err := urlid.LoadSuffixFile(cfg.SuffixList)
	if err != nil {
		return nil, fmt.Errorf("suffix list init failed: %w", err)
	}
	logger.Info("loaded public suffix list", zap.String("path", cfg.SuffixList), zap.Int("entries", list.Len()))
	return urlid.New(list, logger.Named("urlid")), nil
}

func buildPolicy(cfg config.Config, logger *zap.Logger) (crawler.PolicyHook, error) {
	if cfg.Policy.Name == "simple" {
		logger.Info("using simple admission policy")
		return simple.New(), nil
	}
	p, err := filter.New(filter.Config{
		AllowedDomains:     cfg.Policy.AllowedDomains,
		BlockedDomains:     cfg.Policy.BlockedDomains,
		ExcludePattern:     cfg.Policy.ExcludePattern,
		ForbiddenThreshold: cfg.Policy.ForbiddenThreshold,
		MaxLinksPerPage:    cfg.Policy.MaxLinksPerPage,
	}, logger.Named("policy"))
	if err != nil {
		return nil, fmt.Errorf("policy init failed: %w", err)
	}
	logger.Info("using filter admission policy",
		zap.Strings("allowed_domains", cfg.Policy.AllowedDomains),
		zap.Int("blocked_patterns", len(cfg.Policy.BlockedDomains)),
	)
	return p, nil
}

// Run seeds the frontier, starts the workers and the HTTP server, and blocks
// until the context is canceled, SIGINT/SIGTERM arrives, or a worker hits a
// storage failure. Workers finish their in-flight item before the frontier
// is stopped, so nothing they admit on the way out is lost.
func (a *App) Run(ctx context.Context, seeds []string) error {
	a.logger.Info("application started", zap.Stringer("run_id", a.runID))
	started := time.Now()
	a.emitRun(progress.StageRunStart, 0)
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer a.closeResources()
	defer a.frontier.Stop()

	if len(seeds) > 0 {
		n, err := a.dispatch.Seed(ctx, seeds...)
		if err != nil && crawler.IsFatal(err) {
			return err
		}
		a.logger.Info("seeded frontier", zap.Int("submitted", len(seeds)), zap.Int("admitted", n))
	}

	var srv *http.Server
	if a.cfg.Server.Enabled {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http server error", zap.Error(err))
				stop()
			}
		}()
	}

	checkpointsDone := make(chan struct{})
	go func() {
		defer close(checkpointsDone)
		if a.checkpoints != nil {
			a.checkpoints.Run(ctx)
		}
	}()

	a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Crawler.Concurrency))
	runErr := a.dispatch.Run(ctx)
	stop()
	<-checkpointsDone
	a.logger.Info("shutdown initiated")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
	}
	a.frontier.Stop()
	a.finalCheckpoint()
	a.emitRun(progress.StageRunDone, time.Since(started))
	closeCtx, cancelClose := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelClose()
	if err := a.events.Close(closeCtx); err != nil {
		a.logger.Warn("progress hub close failed", zap.Error(err))
	}
	hubStats := a.events.Stats()
	a.logger.Info("progress events flushed",
		zap.Int64("emitted", hubStats.Emitted),
		zap.Int64("dropped", hubStats.Dropped),
		zap.Int64("batches", hubStats.Batches),
	)

	if stats, err := a.frontier.Stats(context.Background()); err == nil {
		a.logger.Info("shutdown complete",
			zap.Int64("seen", stats.Seen),
			zap.Int("queued", stats.Queued),
		)
	}
	return runErr
}

func (a *App) emitRun(stage progress.Stage, dur time.Duration) {
	a.events.Emit(progress.Event{
		RunID: a.runID,
		TS:    time.Now().UTC(),
		Stage: stage,
		Dur:   dur,
	})
}

// finalCheckpoint saves the frontier as the workers left it.
func (a *App) finalCheckpoint() {
	if a.checkpoints == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	uri, err := a.checkpoints.Save(ctx)
	if err != nil {
		a.logger.Error("final checkpoint failed", zap.Error(err))
		return
	}
	a.logger.Info("final checkpoint saved", zap.String("uri", uri))
}

func (a *App) closeResources() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
}
