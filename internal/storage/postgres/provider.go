// Package postgres provides a Postgres-backed seen-URL store and frontier
// queue for crawls that share state across hosts.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/crawlfrontier/internal/crawler"
	"github.com/JakeFAU/crawlfrontier/internal/storage"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const (
	defaultSeenTable  = "frontier_seen"
	defaultQueueTable = "frontier_queue"
)

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string
	SeenTable       string
	QueueTable      string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Provider implements storage.Provider on top of a pgx pool.
type Provider struct {
	pool  pool
	seen  *SeenStore
	queue *QueueStore
}

// Open connects to Postgres, creating the tables if they do not exist.
func Open(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pgPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	p, err := NewProviderWithPool(pgPool, cfg.SeenTable, cfg.QueueTable)
	if err != nil {
		pgPool.Close()
		return nil, err
	}
	if err := p.EnsureSchema(ctx); err != nil {
		pgPool.Close()
		return nil, err
	}
	return p, nil
}

// NewProviderWithPool constructs a provider from an existing pool (primarily for testing).
func NewProviderWithPool(pool pool, seenTable, queueTable string) (*Provider, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if seenTable == "" {
		seenTable = defaultSeenTable
	}
	if queueTable == "" {
		queueTable = defaultQueueTable
	}
	for _, table := range []string{seenTable, queueTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &Provider{
		pool:  pool,
		seen:  &SeenStore{pool: pool, table: seenTable},
		queue: &QueueStore{pool: pool, table: queueTable},
	}, nil
}

// EnsureSchema creates the seen and queue tables.
func (p *Provider) EnsureSchema(ctx context.Context) error {
	seen := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	doc_id BIGSERIAL PRIMARY KEY,
	url TEXT NOT NULL UNIQUE
)`, p.seen.table)
	if _, err := p.pool.Exec(ctx, seen); err != nil {
		return crawler.StorageError("create seen table", err)
	}
	queue := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	seq BIGINT PRIMARY KEY,
	doc_id BIGINT NOT NULL,
	host TEXT NOT NULL,
	payload JSONB NOT NULL
)`, p.queue.table)
	if _, err := p.pool.Exec(ctx, queue); err != nil {
		return crawler.StorageError("create queue table", err)
	}
	return nil
}

// Seen implements storage.Provider.
func (p *Provider) Seen() crawler.SeenStore { return p.seen }

// Queue implements storage.Provider.
func (p *Provider) Queue() crawler.QueueStore { return p.queue }

// ListSeen implements storage.Provider.
func (p *Provider) ListSeen(ctx context.Context) ([]storage.SeenRecord, error) {
	query := fmt.Sprintf(`SELECT doc_id, url FROM %s ORDER BY doc_id`, p.seen.table)
	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, crawler.StorageError("list seen", err)
	}
	defer rows.Close()

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

// RestoreSeen implements storage.Provider. The doc_id sequence is moved past
// the restored ID so later assignments never collide with it.
func (p *Provider) RestoreSeen(ctx context.Context, rec storage.SeenRecord) error {
	insert := fmt.Sprintf(`INSERT INTO %s (doc_id, url) VALUES ($1, $2)
ON CONFLICT (url) DO UPDATE SET doc_id = EXCLUDED.doc_id`, p.seen.table)
	if _, err := p.pool.Exec(ctx, insert, rec.DocID, rec.URL); err != nil {
		return crawler.StorageError("restore seen", err)
	}
	setval := fmt.Sprintf(`SELECT setval(pg_get_serial_sequence('%s', 'doc_id'), GREATEST($1, (SELECT COALESCE(MAX(doc_id), 1) FROM %s)))`,
		p.seen.table, p.seen.table)
	if _, err := p.pool.Exec(ctx, setval, rec.DocID); err != nil {
		return crawler.StorageError("advance doc id sequence", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (p *Provider) Close() error {
	if p == nil || p.pool == nil {
		return nil
	}
	p.pool.Close()
	return nil
}

var _ storage.Provider = (*Provider)(nil)
