package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"

	"poolScope/internal/model"
	"poolScope/internal/storage"
)

// StalePools returns active pools whose window still holds checkpoints older than cutoff.
func (s *Store) StalePools(ctx context.Context, chainID uint64, cutoff int64, limit int) ([]model.Pool, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}
	rows, err := s.pool.Query(ctx, `SELECT `+storage.Columns(storage.PoolColumns, "p")+`
		FROM pools p
		JOIN daily_volumes d ON d.chain_id = p.chain_id AND d.pool = p.address
		WHERE p.chain_id = $1 AND NOT d.inactive AND d.earliest_checkpoint < $2
		ORDER BY p.last_refreshed, p.address
		LIMIT $3`, int64(chainID), cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("query stale pools: %w", err)
	}
	defer rows.Close()

	var out []model.Pool
	for rows.Next() {
		pool, err := storage.ScanPool(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pool)
	}
	return out, rows.Err()
}

func (s *Store) TrackedAddresses(ctx context.Context, chainID uint64) ([]string, []string, error) {
	pools, err := s.addresses(ctx, `SELECT address FROM pools WHERE chain_id = $1 ORDER BY address`, chainID)
	if err != nil {
		return nil, nil, err
	}
	assets, err := s.addresses(ctx, `SELECT address FROM assets WHERE chain_id = $1 ORDER BY address`, chainID)
	if err != nil {
		return nil, nil, err
	}
	return pools, assets, nil
}

func (s *Store) addresses(ctx context.Context, sql string, chainID uint64) ([]string, error) {
	rows, err := s.pool.Query(ctx, sql, int64(chainID))
	if err != nil {
		return nil, fmt.Errorf("query addresses: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *Store) InsertEthPrice(ctx context.Context, price model.EthPrice) (bool, error) {
	if price.Price == nil {
		return false, storage.ErrInvalidInput
	}
	tag, err := s.pool.Exec(ctx, `INSERT INTO eth_prices (chain_id, ts, price) VALUES ($1, $2, $3)
		ON CONFLICT (chain_id, ts) DO NOTHING`, int64(price.ChainID), price.Timestamp, price.Price.String())
	if err != nil {
		return false, fmt.Errorf("insert eth price: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// LoadCursor returns the last fully processed block for a name.
func (s *Store) LoadCursor(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var block int64
	row := s.pool.QueryRow(ctx, `SELECT last_block FROM indexer_state WHERE name = $1`, name)
	if err := row.Scan(&block); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(block), true, nil
}

// SaveCursor upserts last_block for a name.
func (s *Store) SaveCursor(ctx context.Context, name string, block uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO indexer_state (name, last_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_block = EXCLUDED.last_block, updated_at = now()
	`, name, int64(block))
	return err
}
