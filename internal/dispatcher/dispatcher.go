// Package dispatcher manages worker fan-out over the frontier.
package dispatcher

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Runner is one crawl loop. worker.Worker implements it.
type Runner interface {
	Run(ctx context.Context) error
}

// Seeder admits start URLs.
type Seeder interface {
	Seed(ctx context.Context, urls ...string) (int, error)
}

// Dispatcher fans frontier work out to a pool of workers.
type Dispatcher struct {
	seeder  Seeder
	workers []Runner
}

// New creates a Dispatcher.
func New(seeder Seeder, workers []Runner) *Dispatcher {
	return &Dispatcher{
		seeder:  seeder,
		workers: workers,
	}
}

// Run starts all workers and blocks until they return. The first fatal
// worker error cancels the others and is returned.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range d.workers {
		g.Go(func() error {
			return w.Run(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("worker failed: %w", err)
	}
	return nil
}

// Seed proxies to the underlying frontier.
func (d *Dispatcher) Seed(ctx context.Context, urls ...string) (int, error) {
	n, err := d.seeder.Seed(ctx, urls...)
	if err != nil {
		return n, fmt.Errorf("seed frontier: %w", err)
	}
	return n, nil
}
