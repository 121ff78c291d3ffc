// Package sqlite persists the seen-URL table and the frontier queue in a
// single SQLite file so an interrupted crawl can resume.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/crawlfrontier/internal/crawler"
	"github.com/JakeFAU/crawlfrontier/internal/storage"
)

// Config controls where and how the database is opened.
type Config struct {
	Path      string
	EnableWAL bool
}

// Provider owns the database handle shared by both stores.
type Provider struct {
	db    *sql.DB
	seen  *SeenStore
	queue *QueueStore
}

// Open creates (if needed) and opens the database at cfg.Path.
func Open(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Path == "" {
		return nil, errors.New("storage.sqlite.path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if cfg.EnableWAL {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, "PRAGMA synchronous=FULL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set synchronous mode: %w", err)
	}
	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &Provider{
		db:    db,
		seen:  &SeenStore{db: db},
		queue: &QueueStore{db: db},
	}, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS seen_urls (
		doc_id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS frontier_items (
		seq INTEGER PRIMARY KEY,
		doc_id INTEGER NOT NULL,
		host TEXT NOT NULL,
		payload TEXT NOT NULL
	);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("exec schema: %w", err)
	}
	return nil
}

// Seen implements storage.Provider.
func (p *Provider) Seen() crawler.SeenStore { return p.seen }

// Queue implements storage.Provider.
func (p *Provider) Queue() crawler.QueueStore { return p.queue }

// ListSeen implements storage.Provider.
func (p *Provider) ListSeen(ctx context.Context) ([]storage.SeenRecord, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT doc_id, url FROM seen_urls ORDER BY doc_id`)
	if err != nil {
		return nil, crawler.StorageError("list seen", err)
	}
	defer rows.Close() //nolint:errcheck // rows.Err is checked below

	var out []storage.SeenRecord
	for rows.Next() {
		var rec storage.SeenRecord
		if err := rows.Scan(&rec.DocID, &rec.URL); err != nil {
			return nil, crawler.StorageError("scan seen", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, crawler.StorageError("iterate seen", err)
	}
	return out, nil
}

// RestoreSeen implements storage.Provider.
func (p *Provider) RestoreSeen(ctx context.Context, rec storage.SeenRecord) error {
	if _, err := p.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO seen_urls (doc_id, url) VALUES (?, ?)`, rec.DocID, rec.URL); err != nil {
		return crawler.StorageError("restore seen", err)
	}
	return nil
}

// Close releases the database handle.
func (p *Provider) Close() error {
	if err := p.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

var _ storage.Provider = (*Provider)(nil)
