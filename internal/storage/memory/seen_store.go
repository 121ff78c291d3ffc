// Package memory provides in-process storage backends for tests and
// single-run crawls. State survives a restart only through storage.Export
// and storage.Import.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/crawlfrontier/internal/crawler"
	"github.com/JakeFAU/crawlfrontier/internal/storage"
)

// SeenStore maps canonical keys to document IDs under a mutex.
type SeenStore struct {
	mu   sync.Mutex
	ids  map[string]int64
	next int64
}

// NewSeenStore constructs an empty SeenStore.
func NewSeenStore() *SeenStore {
	return &SeenStore{ids: make(map[string]int64)}
}

// GetOrAssign implements crawler.SeenStore.
func (s *SeenStore) GetOrAssign(_ context.Context, key string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.ids[key]; ok {
		return id, false, nil
	}
	s.next++
	s.ids[key] = s.next
	return s.next, true, nil
}

// Lookup implements crawler.SeenStore.
func (s *SeenStore) Lookup(_ context.Context, key string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.ids[key]
	return id, ok, nil
}

// Count implements crawler.SeenStore.
func (s *SeenStore) Count(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.ids)), nil
}

func (s *SeenStore) list() []storage.SeenRecord {
	s.mu.Lock()
	out := make([]storage.SeenRecord, 0, len(s.ids))
	for key, id := range s.ids {
		out = append(out, storage.SeenRecord{DocID: id, URL: key})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].DocID < out[j].DocID })
	return out
}

func (s *SeenStore) restore(rec storage.SeenRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[rec.URL] = rec.DocID
	if rec.DocID > s.next {
		s.next = rec.DocID
	}
}

var _ crawler.SeenStore = (*SeenStore)(nil)
