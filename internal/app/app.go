// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"fmt"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlfrontier/internal/config"
	"github.com/JakeFAU/crawlfrontier/internal/logging"
	"github.com/JakeFAU/crawlfrontier/internal/storage"
	memorystorage "github.com/JakeFAU/crawlfrontier/internal/storage/memory"
	pgstore "github.com/JakeFAU/crawlfrontier/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/crawlfrontier/internal/storage/sqlite"
	"github.com/JakeFAU/crawlfrontier/internal/telemetry"
)

// App holds the shared services every command needs: configuration, the
// logger and the durable frontier storage.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	storage storage.Provider
	tracer  *sdktrace.TracerProvider
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Storage exposes the configured frontier storage provider.
func (a *App) Storage() storage.Provider {
	return a.storage
}

// Close releases the storage provider, flushes buffered spans and the
// logger.
func (a *App) Close() {
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
		cancel()
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("storage close failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync() //nolint:errcheck // stderr sync fails on some platforms
}

// New loads configuration from cfgPath, builds the logger and opens the
// configured storage backend. It fails fast on any of them.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
		Encoding:    cfg.Logging.Encoding,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	var tracer *sdktrace.TracerProvider
	if cfg.Telemetry.Tracing {
		tracer, err = telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName: cfg.Telemetry.ServiceName,
			SampleRatio: cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("tracing init failed: %w", err)
		}
		logger.Info("tracing enabled", zap.Float64("sample_ratio", cfg.Telemetry.SampleRatio))
	}

	provider, err := OpenStorage(ctx, cfg.Storage, logger)
	if err != nil {
		if tracer != nil {
			_ = tracer.Shutdown(ctx)
		}
		return nil, err
	}
	return &App{cfg: cfg, logger: logger, storage: provider, tracer: tracer}, nil
}

// OpenStorage instantiates the backend named by cfg.Backend.
func OpenStorage(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (storage.Provider, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		logger.Info("using sqlite storage backend", zap.String("path", cfg.SQLite.Path))
		p, err := sqlitestore.Open(ctx, sqlitestore.Config{
			Path:      cfg.SQLite.Path,
			EnableWAL: cfg.SQLite.WAL,
		})
		if err != nil {
			return nil, fmt.Errorf("sqlite storage init failed: %w", err)
		}
		return p, nil
	case config.BackendPostgres:
		logger.Info("using postgres storage backend",
			zap.String("seen_table", cfg.Postgres.SeenTable),
			zap.String("queue_table", cfg.Postgres.QueueTable),
		)
		p, err := pgstore.Open(ctx, pgstore.Config{
			DSN:        cfg.Postgres.DSN,
			SeenTable:  cfg.Postgres.SeenTable,
			QueueTable: cfg.Postgres.QueueTable,
			MaxConns:   cfg.Postgres.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres storage init failed: %w", err)
		}
		return p, nil
	case config.BackendMemory, "":
		logger.Warn("using in-memory storage backend; the frontier will not survive a restart")
		return memorystorage.NewProvider(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
