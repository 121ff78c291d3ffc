package sinks

import (
	"context"
	"fmt"

	"github.com/JakeFAU/crawlfrontier/internal/progress"
)

// Publisher sends a JSON-encodable payload to a message bus.
type Publisher interface {
	Publish(ctx context.Context, kind string, payload any) (string, error)
	Close() error
}

// Batch is the message body published for each flushed batch.
type Batch struct {
	Events []progress.Event `json:"events"`
}

// PublisherSink forwards each batch as one message of kind "progress".
type PublisherSink struct {
	pub Publisher
}

// NewPublisherSink wraps pub. The sink closes pub on Close.
func NewPublisherSink(pub Publisher) *PublisherSink {
	return &PublisherSink{pub: pub}
}

// Consume publishes batch.
func (s *PublisherSink) Consume(ctx context.Context, batch []progress.Event) error {
	if len(batch) == 0 {
		return nil
	}
	if _, err := s.pub.Publish(ctx, "progress", Batch{Events: batch}); err != nil {
		return fmt.Errorf("publish %d events: %w", len(batch), err)
	}
	return nil
}

// Close implements progress.Sink.
func (s *PublisherSink) Close(context.Context) error {
	if err := s.pub.Close(); err != nil {
		return fmt.Errorf("close publisher: %w", err)
	}
	return nil
}
