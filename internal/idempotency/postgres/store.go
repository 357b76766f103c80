// Package postgres provides a Postgres-backed idempotency store for
// multi-instance deployments, where an in-process map cannot guarantee the
// at-most-once publish property.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool for the idempotency table.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store records published (store, signature) pairs in Postgres.
type Store struct {
	pool  querier
	table string
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "published_listings"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, table: table}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool querier, table string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "published_listings"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// IsDuplicate reports whether the signature was already published to the store.
func (s *Store) IsDuplicate(ctx context.Context, storeID, signature string) (bool, error) {
	query := fmt.Sprintf(
		`SELECT EXISTS (SELECT 1 FROM %s WHERE store_id = $1 AND payload_signature = $2)`,
		s.table,
	)
	var exists bool
	if err := s.pool.QueryRow(ctx, query, storeID, signature).Scan(&exists); err != nil {
		return false, fmt.Errorf("query idempotency row: %w", err)
	}
	return exists, nil
}

// RecordSuccess marks the signature as published to the store. Recording the
// same pair twice is a no-op so concurrent workers cannot fail on the insert.
func (s *Store) RecordSuccess(ctx context.Context, storeID, signature string) error {
	query := fmt.Sprintf(
		`INSERT INTO %s (store_id, payload_signature, published_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (store_id, payload_signature) DO NOTHING`,
		s.table,
	)
	if _, err := s.pool.Exec(ctx, query, storeID, signature); err != nil {
		return fmt.Errorf("insert idempotency row: %w", err)
	}
	return nil
}
