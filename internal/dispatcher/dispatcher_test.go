package dispatcher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type blockingRunner struct {
	started chan struct{}
}

func (r *blockingRunner) Run(ctx context.Context) error {
	select {
	case r.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return nil
}

type failingRunner struct {
	err error
}

func (r failingRunner) Run(context.Context) error { return r.err }

type countingRunner struct {
	runs atomic.Int32
}

func (r *countingRunner) Run(context.Context) error {
	r.runs.Add(1)
	return nil
}

type errorSeeder struct {
	err error
}

func (s errorSeeder) Seed(context.Context, ...string) (int, error) { return 0, s.err }

func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	runner := &blockingRunner{started: make(chan struct{}, 1)}
	dispatch := New(nil, []Runner{runner})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- dispatch.Run(ctx)
	}()

	select {
	case <-runner.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not start")
	}

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func TestDispatcherRunsEveryWorker(t *testing.T) {
	t.Parallel()

	runners := []*countingRunner{{}, {}, {}}
	dispatch := New(nil, []Runner{runners[0], runners[1], runners[2]})
	require.NoError(t, dispatch.Run(context.Background()))
	for _, r := range runners {
		require.EqualValues(t, 1, r.runs.Load())
	}
}

func TestDispatcherFatalErrorCancelsOthers(t *testing.T) {
	t.Parallel()

	boom := errors.New("storage failure")
	blocking := &blockingRunner{started: make(chan struct{}, 1)}
	dispatch := New(nil, []Runner{blocking, failingRunner{err: boom}})

	done := make(chan error, 1)
	go func() {
		done <- dispatch.Run(context.Background())
	}()

	select {
	case err := <-done:
		require.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after worker failure")
	}
}

func TestDispatcherSeedForwardsErrors(t *testing.T) {
	t.Parallel()

	dispatch := New(errorSeeder{err: errors.New("boom")}, nil)
	_, err := dispatch.Seed(context.Background(), "https://example.com")
	require.EqualError(t, err, "seed frontier: boom")
}
