// Package store persists completed analysis runs to PostgreSQL. The decision
// log is append-only: one row per run, with the strategy verdict in columns
// and the full artifact set in JSONB for later inspection.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// ConnectPool opens a pooled connection from a DSN and verifies it. The
// concrete pool is returned so callers can also feed it to the metrics
// updater, which reads pool statistics.
func ConnectPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}

	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Decision log connection pool created")
	return pool, nil
}

// Store is the decision log.
type Store struct {
	pool Pool
	log  zerolog.Logger
}

// New wraps a pool.
func New(pool Pool) *Store {
	return &Store{
		pool: pool,
		log:  log.With().Str("component", "store").Logger(),
	}
}

// Close releases the pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Health checks database connectivity.
func (s *Store) Health(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS analysis_runs (
	run_id         UUID PRIMARY KEY,
	symbol         TEXT NOT NULL,
	market_type    TEXT NOT NULL,
	session_kind   TEXT NOT NULL,
	trade_date     TEXT NOT NULL,
	research_depth TEXT NOT NULL,
	final_position DOUBLE PRECISION NOT NULL,
	market_outlook TEXT NOT NULL,
	confidence     DOUBLE PRECISION NOT NULL,
	degraded       BOOLEAN NOT NULL,
	breakdown      JSONB NOT NULL,
	artifacts      JSONB NOT NULL,
	source_status  JSONB NOT NULL,
	duration_ms    BIGINT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_analysis_runs_symbol_created
	ON analysis_runs (symbol, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_analysis_runs_created
	ON analysis_runs (created_at DESC);
`

// EnsureSchema creates the decision log table and indexes if absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to ensure decision log schema: %w", err)
	}
	return nil
}
