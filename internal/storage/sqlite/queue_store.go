package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/crawlfrontier/internal/crawler"
)

// QueueStore persists frontier items as JSON rows keyed by sequence number.
type QueueStore struct {
	db *sql.DB
}

// Append implements crawler.QueueStore.
func (q *QueueStore) Append(ctx context.Context, item crawler.WorkItem) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal work item: %w", err)
	}
	if _, err := q.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO frontier_items (seq, doc_id, host, payload) VALUES (?, ?, ?, ?)`,
		int64(item.Seq), item.DocID, item.Host, string(payload),
	); err != nil {
		return crawler.StorageError("append frontier item", err)
	}
	return nil
}

// Remove implements crawler.QueueStore.
func (q *QueueStore) Remove(ctx context.Context, seq uint64) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM frontier_items WHERE seq = ?`, int64(seq)); err != nil {
		return crawler.StorageError("remove frontier item", err)
	}
	return nil
}

// Load implements crawler.QueueStore.
func (q *QueueStore) Load(ctx context.Context) ([]crawler.WorkItem, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT payload FROM frontier_items ORDER BY seq`)
	if err != nil {
		return nil, crawler.StorageError("load frontier", err)
	}
	defer rows.Close() //nolint:errcheck // rows.Err is checked below

	var items []crawler.WorkItem
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, crawler.StorageError("scan frontier item", err)
		}
		var item crawler.WorkItem
		if err := json.Unmarshal([]byte(payload), &item); err != nil {
			return nil, crawler.StorageError("decode frontier item", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, crawler.StorageError("iterate frontier", err)
	}
	return items, nil
}

var _ crawler.QueueStore = (*QueueStore)(nil)
