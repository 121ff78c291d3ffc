package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/crawlfrontier/internal/crawler"
)

// QueueStore keeps frontier items keyed by sequence number.
type QueueStore struct {
	mu    sync.Mutex
	items map[uint64]crawler.WorkItem
}

// NewQueueStore constructs an empty QueueStore.
func NewQueueStore() *QueueStore {
	return &QueueStore{items: make(map[uint64]crawler.WorkItem)}
}

// Append implements crawler.QueueStore.
func (q *QueueStore) Append(_ context.Context, item crawler.WorkItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items[item.Seq] = cloneItem(item)
	return nil
}

// Remove implements crawler.QueueStore.
func (q *QueueStore) Remove(_ context.Context, seq uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.items, seq)
	return nil
}

// Load implements crawler.QueueStore.
func (q *QueueStore) Load(_ context.Context) ([]crawler.WorkItem, error) {
	q.mu.Lock()
	out := make([]crawler.WorkItem, 0, len(q.items))
	for _, item := range q.items {
		out = append(out, cloneItem(item))
	}
	q.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func cloneItem(item crawler.WorkItem) crawler.WorkItem {
	if item.Attributes != nil {
		attrs := make(map[string]string, len(item.Attributes))
		for k, v := range item.Attributes {
			attrs[k] = v
		}
		item.Attributes = attrs
	}
	return item
}

var _ crawler.QueueStore = (*QueueStore)(nil)
