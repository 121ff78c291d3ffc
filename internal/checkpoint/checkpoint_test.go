package checkpoint

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawlfrontier/internal/crawler"
	"github.com/JakeFAU/crawlfrontier/internal/storage"
	"github.com/JakeFAU/crawlfrontier/internal/storage/local"
	"github.com/JakeFAU/crawlfrontier/internal/storage/memory"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(time.Second)
	return now
}

func seededProvider(t *testing.T) *memory.Provider {
	t.Helper()
	ctx := context.Background()
	p := memory.NewProvider()
	for _, key := range []string{"https://a.test/", "https://a.test/b"} {
		_, _, err := p.Seen().GetOrAssign(ctx, key)
		require.NoError(t, err)
	}
	require.NoError(t, p.Queue().Append(ctx, crawler.WorkItem{DocID: 2, URL: "https://a.test/b", Host: "a.test", Seq: 1}))
	return p
}

func TestSaveAndRestore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	blobs := memory.NewBlobStore()
	clock := &stepClock{now: time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC)}
	cp := New(seededProvider(t), blobs, Config{Prefix: "/crawls/run-1/"}, clock, nil)

	uri, err := cp.Save(ctx)
	require.NoError(t, err)
	require.Equal(t, "memory://crawls/run-1/frontier-20261019T083000.000Z.jsonl", uri)
	_, err = cp.Save(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{
		"crawls/run-1/LATEST",
		"crawls/run-1/frontier-20261019T083000.000Z.jsonl",
		"crawls/run-1/frontier-20261019T083001.000Z.jsonl",
	}, blobs.Paths())

	latest, err := cp.Latest(ctx)
	require.NoError(t, err)
	require.Equal(t, "crawls/run-1/frontier-20261019T083001.000Z.jsonl", latest)

	restored := memory.NewProvider()
	name, seen, items, err := New(restored, blobs, Config{Prefix: "crawls/run-1"}, clock, nil).Restore(ctx)
	require.NoError(t, err)
	require.Equal(t, latest, name)
	require.Equal(t, 2, seen)
	require.Equal(t, 1, items)

	records, err := restored.ListSeen(ctx)
	require.NoError(t, err)
	require.Equal(t, []storage.SeenRecord{{DocID: 1, URL: "https://a.test/"}, {DocID: 2, URL: "https://a.test/b"}}, records)
}

func TestRestoreWithoutCheckpoint(t *testing.T) {
	t.Parallel()

	cp := New(memory.NewProvider(), memory.NewBlobStore(), Config{}, nil, nil)
	_, _, _, err := cp.Restore(context.Background())
	require.ErrorIs(t, err, storage.ErrObjectNotFound)
}

type failingStore struct{}

func (failingStore) PutObject(_ context.Context, _ string, _ string, r io.Reader) (string, error) {
	buf := make([]byte, 1)
	_, _ = r.Read(buf)
	return "", errors.New("bucket unavailable")
}

func (failingStore) GetObject(context.Context, string) (io.ReadCloser, error) {
	return nil, storage.ErrObjectNotFound
}

func TestSaveReportsStoreFailure(t *testing.T) {
	t.Parallel()

	cp := New(seededProvider(t), failingStore{}, Config{}, nil, nil)
	_, err := cp.Save(context.Background())
	require.ErrorContains(t, err, "bucket unavailable")
}

func TestRunSavesPeriodically(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	cp := New(seededProvider(t), blobs, Config{Interval: 10 * time.Millisecond}, &stepClock{now: time.Unix(0, 0)}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		cp.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return len(blobs.Paths()) >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestRunDisabled(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	New(memory.NewProvider(), blobs, Config{}, nil, nil).Run(context.Background())
	require.Empty(t, blobs.Paths())
}

func TestOpenLocalTarget(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "checkpoints")
	for _, target := range []string{dir, "file://" + dir} {
		opened, err := Open(context.Background(), target)
		require.NoError(t, err)
		require.IsType(t, &local.BlobStore{}, opened.Store)
		require.Empty(t, opened.Prefix)
		require.NoError(t, opened.Close())
	}

	_, err := Open(context.Background(), "  ")
	require.Error(t, err)
}

func TestSplitGS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		uri, bucket, key string
	}{
		{uri: "gs://snaps", bucket: "snaps"},
		{uri: "gs://snaps/", bucket: "snaps"},
		{uri: "gs://snaps/crawls/run-1/", bucket: "snaps", key: "crawls/run-1"},
		{uri: "gs://snaps/a.jsonl", bucket: "snaps", key: "a.jsonl"},
	}
	for _, tt := range tests {
		bucket, key := splitGS(tt.uri)
		require.Equal(t, tt.bucket, bucket, tt.uri)
		require.Equal(t, tt.key, key, tt.uri)
	}

	require.True(t, IsRemote("gs://snaps"))
	require.False(t, IsRemote("/var/lib/frontier"))

	_, _, err := OpenObject(context.Background(), "gs://snaps/")
	require.Error(t, err)
	_, _, err = OpenObject(context.Background(), "/tmp/a.jsonl")
	require.Error(t, err)
}
