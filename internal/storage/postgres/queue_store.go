package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/crawlfrontier/internal/crawler"
)

// QueueStore persists frontier items as JSONB rows keyed by sequence number.
type QueueStore struct {
	pool  pool
	table string
}

// Append implements crawler.QueueStore.
func (q *QueueStore) Append(ctx context.Context, item crawler.WorkItem) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal work item: %w", err)
	}
	query := fmt.Sprintf(`INSERT INTO %s (seq, doc_id, host, payload) VALUES ($1, $2, $3, $4)
ON CONFLICT (seq) DO UPDATE SET doc_id = EXCLUDED.doc_id, host = EXCLUDED.host, payload = EXCLUDED.payload`, q.table)
	if _, err := q.pool.Exec(ctx, query, int64(item.Seq), item.DocID, item.Host, payload); err != nil {
		return crawler.StorageError("append frontier item", err)
	}
	return nil
}

// Remove implements crawler.QueueStore.
func (q *QueueStore) Remove(ctx context.Context, seq uint64) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE seq = $1`, q.table)
	if _, err := q.pool.Exec(ctx, query, int64(seq)); err != nil {
		return crawler.StorageError("remove frontier item", err)
	}
	return nil
}

// Load implements crawler.QueueStore.
func (q *QueueStore) Load(ctx context.Context) ([]crawler.WorkItem, error) {
	query := fmt.Sprintf(`SELECT payload FROM %s ORDER BY seq`, q.table)
	rows, err := q.pool.Query(ctx, query)
	if err != nil {
		return nil, crawler.StorageError("load frontier", err)
	}
	defer rows.Close()

	var items []crawler.WorkItem
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, crawler.StorageError("scan frontier item", err)
		}
		var item crawler.WorkItem
		if err := json.Unmarshal(payload, &item); err != nil {
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
