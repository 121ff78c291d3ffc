package storage

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/JakeFAU/crawlfrontier/internal/crawler"
)

// MockSeenStore is a testify mock of crawler.SeenStore.
type MockSeenStore struct {
	mock.Mock
}

// GetOrAssign is the mock implementation of GetOrAssign.
func (m *MockSeenStore) GetOrAssign(ctx context.Context, key string) (int64, bool, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(int64), args.Bool(1), args.Error(2) //nolint:wrapcheck
}

// Lookup is the mock implementation of Lookup.
func (m *MockSeenStore) Lookup(ctx context.Context, key string) (int64, bool, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(int64), args.Bool(1), args.Error(2) //nolint:wrapcheck
}

// Count is the mock implementation of Count.
func (m *MockSeenStore) Count(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1) //nolint:wrapcheck
}

// MockQueueStore is a testify mock of crawler.QueueStore.
type MockQueueStore struct {
	mock.Mock
}

// Append is the mock implementation of Append.
func (m *MockQueueStore) Append(ctx context.Context, item crawler.WorkItem) error {
	args := m.Called(ctx, item)
	return args.Error(0) //nolint:wrapcheck
}

// Remove is the mock implementation of Remove.
func (m *MockQueueStore) Remove(ctx context.Context, seq uint64) error {
	args := m.Called(ctx, seq)
	return args.Error(0) //nolint:wrapcheck
}

// Load is the mock implementation of Load.
func (m *MockQueueStore) Load(ctx context.Context) ([]crawler.WorkItem, error) {
	args := m.Called(ctx)
	items, _ := args.Get(0).([]crawler.WorkItem)
	return items, args.Error(1) //nolint:wrapcheck
}
