package sqlite

import (
	"context"
	"database/sql"

	"github.com/JakeFAU/crawlfrontier/internal/crawler"
)

// SeenStore assigns document IDs from the seen_urls AUTOINCREMENT key, so IDs
// are never reused even across restarts.
type SeenStore struct {
	db *sql.DB
}

// GetOrAssign implements crawler.SeenStore.
func (s *SeenStore) GetOrAssign(ctx context.Context, key string) (int64, bool, error) {
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO seen_urls (url) VALUES (?)`, key)
	if err != nil {
		return 0, false, crawler.StorageError("insert seen url", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, false, crawler.StorageError("insert seen url", err)
	}
	if affected == 1 {
		id, err := res.LastInsertId()
		if err != nil {
			return 0, false, crawler.StorageError("read doc id", err)
		}
		return id, true, nil
	}
	id, found, err := s.Lookup(ctx, key)
	if err != nil {
		return 0, false, err
	}
	if !found {
		return 0, false, crawler.StorageError("read doc id", sql.ErrNoRows)
	}
	return id, false, nil
}

// Lookup implements crawler.SeenStore.
func (s *SeenStore) Lookup(ctx context.Context, key string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT doc_id FROM seen_urls WHERE url = ?`, key).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		return 0, false, nil
	case err != nil:
		return 0, false, crawler.StorageError("lookup seen url", err)
	}
	return id, true, nil
}

// Count implements crawler.SeenStore.
func (s *SeenStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM seen_urls`).Scan(&n); err != nil {
		return 0, crawler.StorageError("count seen urls", err)
	}
	return n, nil
}

var _ crawler.SeenStore = (*SeenStore)(nil)
