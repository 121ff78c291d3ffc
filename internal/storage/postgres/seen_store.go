package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/crawlfrontier/internal/crawler"
)

// SeenStore maps canonical URLs to BIGSERIAL document IDs.
type SeenStore struct {
	pool  pool
	table string
}

// GetOrAssign implements crawler.SeenStore. The insert and the unique
// constraint make assignment atomic across concurrent crawlers.
func (s *SeenStore) GetOrAssign(ctx context.Context, key string) (int64, bool, error) {
	insert := fmt.Sprintf(`INSERT INTO %s (url) VALUES ($1) ON CONFLICT (url) DO NOTHING RETURNING doc_id`, s.table)
	var id int64
	err := s.pool.QueryRow(ctx, insert, key).Scan(&id)
	switch {
	case err == nil:
		return id, true, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return 0, false, crawler.StorageError("insert seen url", err)
	}

	id, found, err := s.Lookup(ctx, key)
	if err != nil {
		return 0, false, err
	}
	if !found {
		return 0, false, crawler.StorageError("read doc id", pgx.ErrNoRows)
	}
	return id, false, nil
}

// Lookup implements crawler.SeenStore.
func (s *SeenStore) Lookup(ctx context.Context, key string) (int64, bool, error) {
	query := fmt.Sprintf(`SELECT doc_id FROM %s WHERE url = $1`, s.table)
	var id int64
	err := s.pool.QueryRow(ctx, query, key).Scan(&id)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return 0, false, nil
	case err != nil:
		return 0, false, crawler.StorageError("lookup seen url", err)
	}
	return id, true, nil
}

// Count implements crawler.SeenStore.
func (s *SeenStore) Count(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)
	var n int64
	if err := s.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, crawler.StorageError("count seen urls", err)
	}
	return n, nil
}

var _ crawler.SeenStore = (*SeenStore)(nil)
