package crawler

import (
	"context"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResult, error)
}

// PolicyHook decides what enters the frontier and what a fetched page yields.
type PolicyHook interface {
	ShouldAdmit(ctx context.Context, candidate Candidate) bool
	OnDequeue(ctx context.Context, item WorkItem, result FetchResult) []Candidate
}

// SeenStore maps canonical URL keys to document IDs. GetOrAssign is atomic:
// for concurrent calls with one key exactly one caller observes isNew.
type SeenStore interface {
	GetOrAssign(ctx context.Context, key string) (docID int64, isNew bool, err error)
	Lookup(ctx context.Context, key string) (docID int64, found bool, err error)
	Count(ctx context.Context) (int64, error)
}

// QueueStore persists frontier items so they survive restarts. Load returns
// items ordered by Seq.
type QueueStore interface {
	Append(ctx context.Context, item WorkItem) error
	Remove(ctx context.Context, seq uint64) error
	Load(ctx context.Context) ([]WorkItem, error)
}

// RetryPolicy decides whether a failed fetch is retried and how long to wait.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Clock is the time source for cooldowns, robots expiry and enqueue stamps.
type Clock interface {
	Now() time.Time
}
