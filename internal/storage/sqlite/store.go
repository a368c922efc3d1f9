package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"poolScope/internal/model"
	"poolScope/internal/storage"
)

func (s *Store) StalePools(ctx context.Context, chainID uint64, cutoff int64, limit int) ([]model.Pool, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+storage.Columns(storage.PoolColumns, "p")+`
		FROM pools p
		JOIN daily_volumes d ON d.chain_id = p.chain_id AND d.pool = p.address
		WHERE p.chain_id = ? AND d.inactive = 0 AND d.earliest_checkpoint < ?
		ORDER BY p.last_refreshed, p.address
		LIMIT ?`, int64(chainID), cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale pools: %w", err)
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
	pools, err := s.addresses(ctx, `SELECT address FROM pools WHERE chain_id = ? ORDER BY address`, chainID)
	if err != nil {
		return nil, nil, err
	}
	assets, err := s.addresses(ctx, `SELECT address FROM assets WHERE chain_id = ? ORDER BY address`, chainID)
	if err != nil {
		return nil, nil, err
	}
	return pools, assets, nil
}

func (s *Store) addresses(ctx context.Context, query string, chainID uint64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, int64(chainID))
	if err != nil {
		return nil, fmt.Errorf("failed to query addresses: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, rows.Err()
}

func (s *Store) InsertEthPrice(ctx context.Context, price model.EthPrice) (bool, error) {
	if price.Price == nil {
		return false, storage.ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO eth_prices (chain_id, ts, price) VALUES (?, ?, ?)
		ON CONFLICT (chain_id, ts) DO NOTHING`, int64(price.ChainID), price.Timestamp, price.Price.String())
	if err != nil {
		return false, fmt.Errorf("failed to insert eth price: %w", err)
	}
	return affected(res), nil
}

func (s *Store) LoadCursor(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var block int64
	err := s.db.QueryRowContext(ctx, `SELECT last_block FROM indexer_state WHERE name = ?`, name).Scan(&block)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return uint64(block), true, nil
}

func (s *Store) SaveCursor(ctx context.Context, name string, block uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO indexer_state (name, last_block, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET last_block = excluded.last_block, updated_at = excluded.updated_at
	`, name, int64(block), time.Now().Unix())
	return err
}
