// Package app wires the storage backend selected in configuration. It is
// shared by the server and seed commands.
package app

import (
	"context"
	"fmt"
	"time"

	"admissions-workflow/backend/internal/config"
	"admissions-workflow/backend/internal/logging"
	"admissions-workflow/backend/internal/repository"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Backend is an open store together with its history table.
type Backend struct {
	Store   repository.Store
	History repository.HistoryStore
	pool    *pgxpool.Pool
}

// Close releases the database pool, if any.
func (b *Backend) Close() {
	if b.pool != nil {
		b.pool.Close()
	}
}

// Graph returns the graph repository over the backend, cached when
// cacheTTL is positive.
func (b *Backend) Graph(logger *logging.Logger, cacheTTL time.Duration) repository.WorkflowRepository {
	return repository.NewCachedGraphRepository(repository.NewGraphRepository(b.Store, logger), cacheTTL)
}

// Open connects to the configured storage driver. With migrate set, the
// Postgres schema is applied before returning.
func Open(ctx context.Context, cfg *config.Config, logger *logging.Logger, migrate bool) (*Backend, error) {
	if cfg.Storage.Driver == "memory" {
		logger.Warn("using in-memory storage; workflows are lost on restart")
		m := repository.NewMemoryStore()
		return &Backend{Store: m, History: m}, nil
	}

	pool, err := InitDatabase(ctx, cfg.DB, logger)
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := repository.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to migrate schema: %w", err)
		}
		logger.Info("database schema up to date")
	}
	pg := repository.NewPostgresStore(pool)
	return &Backend{Store: pg, History: pg, pool: pool}, nil
}

// InitDatabase opens and pings a connection pool.
func InitDatabase(ctx context.Context, db config.DBConfig, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection", "host", db.Host, "port", db.Port, "name", db.Name)

	poolConfig, err := pgxpool.ParseConfig(db.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
