package clickhouse

import (
	"context"
	"fmt"

	"poolScope/internal/model"
	"poolScope/internal/storage"
)

// SwapStore appends swap points. The table deduplicates replays on merge.
type SwapStore struct {
	conn *Conn
}

var _ storage.SwapSink = (*SwapStore)(nil)

func NewSwapStore(conn *Conn) *SwapStore {
	return &SwapStore{conn: conn}
}

func (s *SwapStore) PutSwapPoints(ctx context.Context, points []model.SwapPoint) error {
	if len(points) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO swap_points (
			chain_id, pool, asset, tx_hash, log_index, block_number, timestamp,
			side, amount_asset, amount_quote, price_usd, volume_usd
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range points {
		err = batch.Append(
			p.ChainID, p.Pool, p.Asset, p.TxHash, p.LogIndex, p.BlockNumber, p.Timestamp,
			p.Side, p.AmountAsset, p.AmountQuote, p.PriceUSD, p.VolumeUSD,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// ListByPool returns points for a pool within [from, to], oldest first.
func (s *SwapStore) ListByPool(ctx context.Context, chainID uint64, pool string, from, to int64) ([]model.SwapPoint, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT chain_id, pool, asset, tx_hash, log_index, block_number, timestamp,
			side, amount_asset, amount_quote, price_usd, volume_usd
		FROM swap_points FINAL
		WHERE chain_id = ? AND pool = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC, log_index ASC
	`, chainID, model.NormalizeAddress(pool), from, to)
	if err != nil {
		return nil, fmt.Errorf("query swap points: %w", err)
	}
	defer rows.Close()

	var out []model.SwapPoint
	for rows.Next() {
		var p model.SwapPoint
		if err := rows.Scan(
			&p.ChainID, &p.Pool, &p.Asset, &p.TxHash, &p.LogIndex, &p.BlockNumber, &p.Timestamp,
			&p.Side, &p.AmountAsset, &p.AmountQuote, &p.PriceUSD, &p.VolumeUSD,
		); err != nil {
			return nil, fmt.Errorf("scan swap point: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate swap points: %w", err)
	}
	return out, nil
}
