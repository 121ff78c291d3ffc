package memory

import (
	"context"

	"github.com/JakeFAU/crawlfrontier/internal/crawler"
	"github.com/JakeFAU/crawlfrontier/internal/storage"
)

// Provider pairs an in-memory SeenStore and QueueStore.
type Provider struct {
	seen  *SeenStore
	queue *QueueStore
}

// NewProvider constructs an empty Provider.
func NewProvider() *Provider {
	return &Provider{seen: NewSeenStore(), queue: NewQueueStore()}
}

// Seen implements storage.Provider.
func (p *Provider) Seen() crawler.SeenStore { return p.seen }

// Queue implements storage.Provider.
func (p *Provider) Queue() crawler.QueueStore { return p.queue }

// ListSeen implements storage.Provider.
func (p *Provider) ListSeen(context.Context) ([]storage.SeenRecord, error) {
	return p.seen.list(), nil
}

// RestoreSeen implements storage.Provider.
func (p *Provider) RestoreSeen(_ context.Context, rec storage.SeenRecord) error {
	p.seen.restore(rec)
	return nil
}

// Close implements storage.Provider.
func (p *Provider) Close() error { return nil }

var _ storage.Provider = (*Provider)(nil)
