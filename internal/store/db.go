// Package store implements the Postgres-backed data store: one repository
// per domain entity, plus the schema DDL and a small DB wrapper. Grounded
// on the DB-wrapper-around-*sql.DB shape (Transaction helper, on-demand
// Health ping) using the github.com/lib/pq driver. There is
// deliberately no query-result cache here: caching SELECT results for
// mutable trading rows (orders, positions) risks serving a stale fill or
// liquidation price to a caller, which this gateway's correctness
// invariants can't tolerate — internal/cache instead caches read-only
// market data, where staleness is bounded and explicit.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/observability"
)

// DB wraps *sql.DB with the gateway's logging and a transaction helper.
type DB struct {
	*sql.DB
	logger *observability.Logger
}

// Config configures the Postgres connection pool.
type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open establishes a Postgres connection pool and verifies connectivity.
func Open(ctx context.Context, cfg Config, logger *observability.Logger) (*DB, error) {
	sqlDB, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("store: open failed: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("store: ping failed: %w", err)
	}

	return &DB{DB: sqlDB, logger: logger}, nil
}

// WrapDB adapts an already-open *sql.DB into a *DB, for tests that drive
// the repositories against a sqlmock.Sqlmock connection instead of a real
// Postgres instance.
func WrapDB(sqlDB *sql.DB, logger *observability.Logger) *DB {
	return &DB{DB: sqlDB, logger: logger}
}

// Health reports whether the connection pool can reach Postgres.
func (db *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: health check failed: %w", err)
	}
	return nil
}

// Transaction runs fn inside a transaction, rolling back on error or
// panic and committing otherwise.
func (db *DB) Transaction(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()
	err = fn(tx)
	return err
}
