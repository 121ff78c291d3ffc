// Package storage defines the persistence backends behind the Seen-URL store
// and the durable frontier queue, plus a JSON-lines snapshot format that any
// backend can export to and import from.
package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/JakeFAU/crawlfrontier/internal/crawler"
)

// SeenRecord is one canonical URL and its document ID.
type SeenRecord struct {
	DocID int64  `json:"doc_id"`
	URL   string `json:"url"`
}

// Provider bundles the two durable structures of one backend.
type Provider interface {
	Seen() crawler.SeenStore
	Queue() crawler.QueueStore
	// ListSeen returns every seen record ordered by DocID.
	ListSeen(ctx context.Context) ([]SeenRecord, error)
	// RestoreSeen inserts a record with its original DocID. Later
	// assignments continue above the highest restored ID.
	RestoreSeen(ctx context.Context, rec SeenRecord) error
	Close() error
}

type snapshotLine struct {
	Kind string            `json:"kind"`
	Seen *SeenRecord       `json:"seen,omitempty"`
	Item *crawler.WorkItem `json:"item,omitempty"`
}

const (
	kindSeen = "seen"
	kindItem = "item"
)

// Export writes every seen record followed by every queued item as JSON
// lines.
func Export(ctx context.Context, p Provider, w io.Writer) error {
	enc := json.NewEncoder(w)
	seen, err := p.ListSeen(ctx)
	if err != nil {
		return fmt.Errorf("list seen: %w", err)
	}
	for i := range seen {
		if err := enc.Encode(snapshotLine{Kind: kindSeen, Seen: &seen[i]}); err != nil {
			return fmt.Errorf("encode seen record: %w", err)
		}
	}
	items, err := p.Queue().Load(ctx)
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}
	for i := range items {
		if err := enc.Encode(snapshotLine{Kind: kindItem, Item: &items[i]}); err != nil {
			return fmt.Errorf("encode queue item: %w", err)
		}
	}
	return nil
}

// Import replays a snapshot written by Export into p.
func Import(ctx context.Context, p Provider, r io.Reader) (seen, items int, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 4<<20)
	for line := 1; scanner.Scan(); line++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec snapshotLine
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return seen, items, fmt.Errorf("decode line %d: %w", line, err)
		}
		switch {
		case rec.Kind == kindSeen && rec.Seen != nil:
			if err := p.RestoreSeen(ctx, *rec.Seen); err != nil {
				return seen, items, fmt.Errorf("restore seen line %d: %w", line, err)
			}
			seen++
		case rec.Kind == kindItem && rec.Item != nil:
			if err := p.Queue().Append(ctx, *rec.Item); err != nil {
				return seen, items, fmt.Errorf("restore item line %d: %w", line, err)
			}
			items++
		default:
			return seen, items, fmt.Errorf("line %d: unknown record kind %q", line, rec.Kind)
		}
	}
	if err := scanner.Err(); err != nil {
		return seen, items, fmt.Errorf("read snapshot: %w", err)
	}
	return seen, items, nil
}
