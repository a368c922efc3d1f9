// Package sqlite provides a single-file storage.Store for local runs.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"poolScope/internal/storage"
)

// querier is implemented by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store wraps a SQLite database.
type Store struct {
	queries
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// Open opens or creates the database at path. ":memory:" keeps everything in process.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = filepath.Join(os.TempDir(), "poolscope", "data.db")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if path != ":memory:" {
		if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set WAL mode: %w", err)
		}
	}
	s := &Store{queries: queries{q: db}, db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Migrate creates missing tables.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() {
	_ = s.db.Close()
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(ctx, &queries{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS pools (
		chain_id             INTEGER NOT NULL,
		address              TEXT    NOT NULL,
		asset                TEXT    NOT NULL DEFAULT '',
		numeraire            TEXT    NOT NULL DEFAULT '',
		is_token0            INTEGER NOT NULL DEFAULT 0,
		fee                  INTEGER NOT NULL DEFAULT 0,
		tick_spacing         INTEGER NOT NULL DEFAULT 0,
		liquidity            TEXT    NOT NULL DEFAULT '0',
		sqrt_price_x96       TEXT    NOT NULL DEFAULT '0',
		tick                 INTEGER NOT NULL DEFAULT 0,
		price                TEXT    NOT NULL DEFAULT '0',
		dollar_liquidity     TEXT    NOT NULL DEFAULT '0',
		volume_usd           TEXT    NOT NULL DEFAULT '0',
		percent_day_change   TEXT    NOT NULL DEFAULT '0',
		graduation_threshold TEXT    NOT NULL DEFAULT '0',
		graduation_balance   TEXT    NOT NULL DEFAULT '0',
		fees_token0          TEXT    NOT NULL DEFAULT '0',
		fees_token1          TEXT    NOT NULL DEFAULT '0',
		swap_count           INTEGER NOT NULL DEFAULT 0,
		asset_balance        TEXT    NOT NULL DEFAULT '0',
		quote_balance        TEXT    NOT NULL DEFAULT '0',
		last_refreshed       INTEGER NOT NULL DEFAULT 0,
		last_swap_timestamp  INTEGER NOT NULL DEFAULT 0,
		created_at           INTEGER NOT NULL DEFAULT 0,
		created_block        INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (chain_id, address)
	)`,
	`CREATE TABLE IF NOT EXISTS assets (
		chain_id       INTEGER NOT NULL,
		address        TEXT    NOT NULL,
		pool           TEXT    NOT NULL DEFAULT '',
		numeraire      TEXT    NOT NULL DEFAULT '',
		governance     TEXT    NOT NULL DEFAULT '',
		timelock       TEXT    NOT NULL DEFAULT '',
		migrator       TEXT    NOT NULL DEFAULT '',
		integrator     TEXT    NOT NULL DEFAULT '',
		holder_count   INTEGER NOT NULL DEFAULT 0,
		liquidity_usd  TEXT    NOT NULL DEFAULT '0',
		market_cap_usd TEXT    NOT NULL DEFAULT '0',
		day_volume_usd TEXT    NOT NULL DEFAULT '0',
		migrated       INTEGER NOT NULL DEFAULT 0,
		migrated_at    INTEGER NOT NULL DEFAULT 0,
		migration_pool TEXT    NOT NULL DEFAULT '',
		created_at     INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (chain_id, address)
	)`,
	`CREATE TABLE IF NOT EXISTS tokens (
		chain_id     INTEGER NOT NULL,
		address      TEXT    NOT NULL,
		name         TEXT    NOT NULL DEFAULT '',
		symbol       TEXT    NOT NULL DEFAULT '',
		decimals     INTEGER NOT NULL DEFAULT 18,
		total_supply TEXT    NOT NULL DEFAULT '0',
		holder_count INTEGER NOT NULL DEFAULT 0,
		volume_usd   TEXT    NOT NULL DEFAULT '0',
		PRIMARY KEY (chain_id, address)
	)`,
	`CREATE TABLE IF NOT EXISTS daily_volumes (
		chain_id            INTEGER NOT NULL,
		pool                TEXT    NOT NULL,
		checkpoints         TEXT    NOT NULL DEFAULT '[]',
		volume_usd          TEXT    NOT NULL DEFAULT '0',
		earliest_checkpoint INTEGER NOT NULL DEFAULT 0,
		last_updated        INTEGER NOT NULL DEFAULT 0,
		inactive            INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (chain_id, pool)
	)`,
	`CREATE TABLE IF NOT EXISTS hour_buckets (
		chain_id   INTEGER NOT NULL,
		pool       TEXT    NOT NULL,
		hour_id    INTEGER NOT NULL,
		open       TEXT    NOT NULL,
		close      TEXT    NOT NULL,
		low        TEXT    NOT NULL,
		high       TEXT    NOT NULL,
		average    TEXT    NOT NULL,
		count      INTEGER NOT NULL DEFAULT 0,
		last_event TEXT    NOT NULL DEFAULT '',
		PRIMARY KEY (chain_id, pool, hour_id)
	)`,
	`CREATE TABLE IF NOT EXISTS eth_prices (
		chain_id INTEGER NOT NULL,
		ts       INTEGER NOT NULL,
		price    TEXT    NOT NULL,
		PRIMARY KEY (chain_id, ts)
	)`,
	`CREATE TABLE IF NOT EXISTS positions (
		chain_id   INTEGER NOT NULL,
		pool       TEXT    NOT NULL,
		owner      TEXT    NOT NULL,
		tick_lower INTEGER NOT NULL,
		tick_upper INTEGER NOT NULL,
		liquidity  TEXT    NOT NULL DEFAULT '0',
		created_at INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (chain_id, pool, owner, tick_lower, tick_upper)
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		chain_id      INTEGER NOT NULL,
		address       TEXT    NOT NULL,
		first_seen_at INTEGER NOT NULL,
		last_seen_at  INTEGER NOT NULL,
		PRIMARY KEY (chain_id, address)
	)`,
	`CREATE TABLE IF NOT EXISTS user_assets (
		chain_id     INTEGER NOT NULL,
		user_address TEXT    NOT NULL,
		asset        TEXT    NOT NULL,
		balance      TEXT    NOT NULL DEFAULT '0',
		updated_at   INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (chain_id, user_address, asset)
	)`,
	`CREATE TABLE IF NOT EXISTS migration_pools (
		chain_id    INTEGER NOT NULL,
		address     TEXT    NOT NULL,
		asset       TEXT    NOT NULL,
		numeraire   TEXT    NOT NULL DEFAULT '',
		parent_pool TEXT    NOT NULL DEFAULT '',
		created_at  INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (chain_id, address)
	)`,
	`CREATE TABLE IF NOT EXISTS processed_events (
		chain_id INTEGER NOT NULL,
		event_id TEXT    NOT NULL,
		ts       INTEGER NOT NULL,
		PRIMARY KEY (chain_id, event_id)
	)`,
	`CREATE TABLE IF NOT EXISTS indexer_state (
		name       TEXT PRIMARY KEY,
		last_block INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_daily_volumes_stale ON daily_volumes(chain_id, inactive, earliest_checkpoint)`,
}
