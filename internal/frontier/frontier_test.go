package frontier

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawlfrontier/internal/crawler"
	"github.com/JakeFAU/crawlfrontier/internal/queue"
	"github.com/JakeFAU/crawlfrontier/internal/scheduler"
	"github.com/JakeFAU/crawlfrontier/internal/storage"
	"github.com/JakeFAU/crawlfrontier/internal/storage/memory"
	"github.com/JakeFAU/crawlfrontier/internal/urlid"
)

type pathRobots struct {
	disallowPrefix string
}

func (r pathRobots) IsAllowed(_ context.Context, u urlid.CanonicalURL, _ string) bool {
	return r.disallowPrefix == "" || !strings.HasPrefix(u.Path, r.disallowPrefix)
}

type rejectHook struct {
	substr string
}

func (h rejectHook) ShouldAdmit(_ context.Context, c crawler.Candidate) bool {
	return !strings.Contains(c.URL, h.substr)
}

func (rejectHook) OnDequeue(context.Context, crawler.WorkItem, crawler.FetchResult) []crawler.Candidate {
	return nil
}

type fixture struct {
	frontier *Frontier
	queue    *queue.Queue
	seen     crawler.SeenStore
}

func defaultConfig() Config {
	return Config{UserAgent: "testbot", MaxDepth: 3, MaxRedirects: 2, MaxRetries: 2}
}

func newFixture(t *testing.T, cfg Config, capacity int, seen crawler.SeenStore, robots RobotsChecker, hook crawler.PolicyHook) fixture {
	t.Helper()
	q, err := queue.Open(context.Background(), memory.NewQueueStore(),
		queue.Config{Capacity: capacity, MaxDepth: cfg.MaxDepth, MaxRedirects: cfg.MaxRedirects})
	require.NoError(t, err)
	sched, err := scheduler.New(scheduler.Config{}, q, nil, nil, nil)
	require.NoError(t, err)
	if seen == nil {
		seen = memory.NewSeenStore()
	}
	f, err := New(cfg, urlid.New(urlid.NewStaticSuffixList("co.uk"), nil), seen, robots, q, sched, hook, nil)
	require.NoError(t, err)
	return fixture{frontier: f, queue: q, seen: seen}
}

func TestSeedDeduplicatesEquivalentURLs(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, defaultConfig(), 0, nil, nil, nil)
	n, err := fx.frontier.Seed(context.Background(),
		"http://Example.com/a?b=2&a=1#top",
		"http://example.com/a?a=1&b=2",
		"not a url",
		"http://example.com/other",
	)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	first, err := fx.frontier.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, SeedTag, first.Tag)
	require.Zero(t, first.Depth)
	require.EqualValues(t, 1, first.DocID)
	require.Equal(t, "example.com", first.Host)
}

func TestAdmitErrors(t *testing.T) {
	t.Parallel()

	parentAtMax := &crawler.WorkItem{DocID: 1, URL: "http://example.com/", Depth: 3}

	tests := []struct {
		name      string
		candidate crawler.Candidate
		wantErr   error
	}{
		{name: "malformed", candidate: crawler.Candidate{URL: "/relative/only"}, wantErr: crawler.ErrMalformedURL},
		{name: "rejected by hook", candidate: crawler.Candidate{URL: "http://example.com/logout"}, wantErr: crawler.ErrRejected},
		{name: "disallowed", candidate: crawler.Candidate{URL: "http://example.com/private/x"}, wantErr: crawler.ErrDisallowed},
		{name: "too deep", candidate: crawler.Candidate{URL: "http://example.com/deep", Parent: parentAtMax}, wantErr: crawler.ErrDepthExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fx := newFixture(t, defaultConfig(), 0, nil, pathRobots{disallowPrefix: "/private"}, rejectHook{substr: "logout"})
			_, err := fx.frontier.Admit(context.Background(), tt.candidate)
			require.ErrorIs(t, err, tt.wantErr)
			require.False(t, crawler.IsFatal(err))
			require.Zero(t, fx.queue.Len())
		})
	}
}

func TestAdmitDuplicateIsAlreadySeen(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, defaultConfig(), 0, nil, nil, nil)
	ctx := context.Background()
	_, err := fx.frontier.Admit(ctx, crawler.Candidate{URL: "https://a.example.co.uk/x?q=1"})
	require.NoError(t, err)

	_, err = fx.frontier.Admit(ctx, crawler.Candidate{URL: "https://A.EXAMPLE.CO.UK/x?q=1#frag"})
	require.ErrorIs(t, err, crawler.ErrAlreadySeen)
	require.Equal(t, 1, fx.queue.Len())
}

func TestAdmitCarriesLineage(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, defaultConfig(), 0, nil, nil, nil)
	parent := &crawler.WorkItem{DocID: 42, URL: "http://example.com/", Depth: 1}
	item, err := fx.frontier.Admit(context.Background(), crawler.Candidate{
		URL:        "http://example.com/child",
		Parent:     parent,
		Priority:   -1,
		Tag:        "a",
		Label:      "product",
		Anchor:     "Child",
		Attributes: map[string]string{"anchor": "Child"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, item.Depth)
	require.EqualValues(t, 42, item.ParentDocID)
	require.Equal(t, "http://example.com/", item.ParentURL)
	require.EqualValues(t, -1, item.Priority)
	require.Equal(t, "Child", item.Attribute("anchor"))
	require.NotZero(t, item.Seq)
}

func TestQueueFullDoesNotMarkSeen(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, defaultConfig(), 1, nil, nil, nil)
	ctx := context.Background()
	_, err := fx.frontier.Admit(ctx, crawler.Candidate{URL: "http://a.com/1"})
	require.NoError(t, err)

	_, err = fx.frontier.Admit(ctx, crawler.Candidate{URL: "http://a.com/2"})
	require.ErrorIs(t, err, crawler.ErrQueueFull)

	_, found, err := fx.seen.Lookup(ctx, "http://a.com/2")
	require.NoError(t, err)
	require.False(t, found)
}

// crowdingRobots enqueues another item while the admission it was asked
// about is still in flight.
type crowdingRobots struct {
	queue *queue.Queue
	err   error
}

func (r *crowdingRobots) IsAllowed(ctx context.Context, _ urlid.CanonicalURL, _ string) bool {
	_, r.err = r.queue.Enqueue(ctx, crawler.WorkItem{URL: "http://b.com/other", Host: "b.com"})
	return true
}

func TestAdmitKeepsSlotDuringRobotsCheck(t *testing.T) {
	t.Parallel()

	robots := &crowdingRobots{}
	fx := newFixture(t, defaultConfig(), 1, nil, robots, nil)
	robots.queue = fx.queue
	ctx := context.Background()

	item, err := fx.frontier.Admit(ctx, crawler.Candidate{URL: "http://a.com/1"})
	require.NoError(t, err)
	require.Equal(t, "http://a.com/1", item.URL)
	require.ErrorIs(t, robots.err, crawler.ErrQueueFull)
	require.Equal(t, 1, fx.queue.Len())

	got, err := fx.queue.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "http://a.com/1", got.URL)
}

func TestRedirect(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, defaultConfig(), 0, nil, nil, nil)
	ctx := context.Background()
	origin, err := fx.frontier.Admit(ctx, crawler.Candidate{
		URL:    "http://a.com/old",
		Parent: &crawler.WorkItem{DocID: 7, URL: "http://a.com/", Depth: 0},
	})
	require.NoError(t, err)

	moved, err := fx.frontier.Redirect(ctx, origin, "/new")
	require.NoError(t, err)
	require.Equal(t, "http://a.com/new", moved.URL)
	require.Equal(t, 1, moved.RedirectionDepth)
	require.Equal(t, origin.Depth, moved.Depth)
	require.EqualValues(t, 7, moved.ParentDocID)
	require.NotEqual(t, origin.DocID, moved.DocID)

	again, err := fx.frontier.Redirect(ctx, moved, "http://a.com/newer")
	require.NoError(t, err)
	require.Equal(t, 2, again.RedirectionDepth)

	_, err = fx.frontier.Redirect(ctx, again, "http://a.com/newest")
	require.ErrorIs(t, err, crawler.ErrRedirectionLoopSuspected)

	_, err = fx.frontier.Redirect(ctx, origin, "http://a.com/new")
	require.ErrorIs(t, err, crawler.ErrAlreadySeen)
}

func TestRetryIsBounded(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, defaultConfig(), 0, nil, nil, nil)
	ctx := context.Background()
	item, err := fx.frontier.Admit(ctx, crawler.Candidate{URL: "http://a.com/flaky"})
	require.NoError(t, err)

	for attempt := 1; attempt <= 2; attempt++ {
		item, err = fx.frontier.Retry(ctx, item)
		require.NoError(t, err)
		require.Equal(t, attempt, item.Attempt)
	}
	_, err = fx.frontier.Retry(ctx, item)
	require.ErrorIs(t, err, crawler.ErrRetriesExhausted)
	require.Equal(t, 3, fx.queue.Len())
}

func TestStorageFailureIsFatal(t *testing.T) {
	t.Parallel()

	seen := &storage.MockSeenStore{}
	seen.On("GetOrAssign", mock.Anything, "http://a.com/").
		Return(int64(0), false, crawler.StorageError("insert", errors.New("io error")))

	fx := newFixture(t, defaultConfig(), 0, seen, nil, nil)
	_, err := fx.frontier.Seed(context.Background(), "http://a.com/", "http://b.com/")
	require.Error(t, err)
	require.True(t, crawler.IsFatal(err))
	seen.AssertNumberOfCalls(t, "GetOrAssign", 1)
}

func TestStatsAndStop(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, defaultConfig(), 0, nil, nil, nil)
	ctx := context.Background()
	_, err := fx.frontier.Seed(ctx, "http://b.com/", "http://a.com/", "http://a.com/2")
	require.NoError(t, err)

	stats, err := fx.frontier.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, stats.Seen)
	require.Equal(t, 3, stats.Queued)
	require.Equal(t, []string{"a.com", "b.com"}, stats.PendingHosts)
	require.False(t, stats.Stopped)

	fx.frontier.Stop()
	_, err = fx.frontier.Next(ctx)
	require.ErrorIs(t, err, crawler.ErrStopped)

	_, err = fx.frontier.Admit(ctx, crawler.Candidate{URL: "http://c.com/"})
	require.ErrorIs(t, err, crawler.ErrStopped)

	stats, err = fx.frontier.Stats(ctx)
	require.NoError(t, err)
	require.True(t, stats.Stopped)
}
