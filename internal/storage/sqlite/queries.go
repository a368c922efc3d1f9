package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"poolScope/internal/model"
	"poolScope/internal/storage"
)

type queries struct {
	q querier
}

var _ storage.Tx = (*queries)(nil)

func marks(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func insertSQL(table string, cols []string, conflict string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING",
		table, storage.Columns(cols, ""), marks(len(cols)), conflict)
}

func upsertSQL(table string, cols []string, conflict string, keyCols int) string {
	sets := make([]string, 0, len(cols)-keyCols)
	for _, c := range cols[keyCols:] {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		table, storage.Columns(cols, ""), marks(len(cols)), conflict, strings.Join(sets, ", "))
}

func affected(res sql.Result) bool {
	n, err := res.RowsAffected()
	return err == nil && n > 0
}

func (q *queries) GetPool(ctx context.Context, chainID uint64, address string) (model.Pool, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+storage.Columns(storage.PoolColumns, "")+`
		FROM pools WHERE chain_id = ? AND address = ?`, int64(chainID), model.NormalizeAddress(address))
	pool, err := storage.ScanPool(row)
	return pool, notFound(err)
}

func (q *queries) GetAsset(ctx context.Context, chainID uint64, address string) (model.Asset, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+storage.Columns(storage.AssetColumns, "")+`
		FROM assets WHERE chain_id = ? AND address = ?`, int64(chainID), model.NormalizeAddress(address))
	asset, err := storage.ScanAsset(row)
	return asset, notFound(err)
}

func (q *queries) GetToken(ctx context.Context, chainID uint64, address string) (model.Token, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+storage.Columns(storage.TokenColumns, "")+`
		FROM tokens WHERE chain_id = ? AND address = ?`, int64(chainID), model.NormalizeAddress(address))
	token, err := storage.ScanToken(row)
	return token, notFound(err)
}

func (q *queries) GetDailyVolume(ctx context.Context, chainID uint64, pool string) (model.DailyVolume, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+storage.Columns(storage.DailyVolumeColumns, "")+`
		FROM daily_volumes WHERE chain_id = ? AND pool = ?`, int64(chainID), model.NormalizeAddress(pool))
	dv, err := storage.ScanDailyVolume(row)
	return dv, notFound(err)
}

func (q *queries) GetHourBucket(ctx context.Context, chainID uint64, pool string, hourID int64) (model.HourBucket, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+storage.Columns(storage.HourBucketColumns, "")+`
		FROM hour_buckets WHERE chain_id = ? AND pool = ? AND hour_id = ?`,
		int64(chainID), model.NormalizeAddress(pool), hourID)
	b, err := storage.ScanHourBucket(row)
	return b, notFound(err)
}

func (q *queries) GetPosition(ctx context.Context, k model.PositionKey) (model.Position, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+storage.Columns(storage.PositionColumns, "")+`
		FROM positions
		WHERE chain_id = ? AND pool = ? AND owner = ? AND tick_lower = ? AND tick_upper = ?`,
		int64(k.ChainID), model.NormalizeAddress(k.Pool), model.NormalizeAddress(k.Owner), k.TickLower, k.TickUpper)
	pos, err := storage.ScanPosition(row)
	return pos, notFound(err)
}

func (q *queries) GetUserAsset(ctx context.Context, chainID uint64, user, asset string) (model.UserAsset, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+storage.Columns(storage.UserAssetColumns, "")+`
		FROM user_assets WHERE chain_id = ? AND user_address = ? AND asset = ?`,
		int64(chainID), model.NormalizeAddress(user), model.NormalizeAddress(asset))
	ua, err := storage.ScanUserAsset(row)
	return ua, notFound(err)
}

func (q *queries) GetMigrationPool(ctx context.Context, chainID uint64, address string) (model.MigrationPool, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+storage.Columns(storage.MigrationPoolColumns, "")+`
		FROM migration_pools WHERE chain_id = ? AND address = ?`, int64(chainID), model.NormalizeAddress(address))
	mp, err := storage.ScanMigrationPool(row)
	return mp, notFound(err)
}

func (q *queries) ListHourBuckets(ctx context.Context, chainID uint64, pool string, from, to int64) ([]model.HourBucket, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT `+storage.Columns(storage.HourBucketColumns, "")+`
		FROM hour_buckets
		WHERE chain_id = ? AND pool = ? AND hour_id BETWEEN ? AND ?
		ORDER BY hour_id`, int64(chainID), model.NormalizeAddress(pool), from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list hour buckets: %w", err)
	}
	defer rows.Close()

	var out []model.HourBucket
	for rows.Next() {
		b, err := storage.ScanHourBucket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (q *queries) NearestHourBucket(ctx context.Context, chainID uint64, pool string, target, tolerance int64) (model.HourBucket, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+storage.Columns(storage.HourBucketColumns, "")+`
		FROM hour_buckets
		WHERE chain_id = ? AND pool = ? AND hour_id BETWEEN ? AND ?
		ORDER BY abs(hour_id - ?), hour_id
		LIMIT 1`, int64(chainID), model.NormalizeAddress(pool), target-tolerance, target+tolerance, target)
	b, err := storage.ScanHourBucket(row)
	return b, notFound(err)
}

func (q *queries) LatestEthPrice(ctx context.Context, chainID uint64, from, to int64) (model.EthPrice, error) {
	row := q.q.QueryRowContext(ctx, `SELECT chain_id, ts, price FROM eth_prices
		WHERE chain_id = ? AND ts BETWEEN ? AND ?
		ORDER BY ts DESC LIMIT 1`, int64(chainID), from, to)
	ep, err := storage.ScanEthPrice(row)
	return ep, notFound(err)
}

func (q *queries) MarkEventProcessed(ctx context.Context, chainID uint64, eventID string, ts int64) (bool, error) {
	res, err := q.q.ExecContext(ctx, `INSERT INTO processed_events (chain_id, event_id, ts)
		VALUES (?, ?, ?) ON CONFLICT (chain_id, event_id) DO NOTHING`, int64(chainID), eventID, ts)
	if err != nil {
		return false, fmt.Errorf("failed to mark event: %w", err)
	}
	return affected(res), nil
}

func (q *queries) InsertPool(ctx context.Context, pool model.Pool) (model.Pool, bool, error) {
	res, err := q.q.ExecContext(ctx, insertSQL("pools", storage.PoolColumns, "chain_id, address"), storage.PoolValues(pool)...)
	if err != nil {
		return model.Pool{}, false, fmt.Errorf("failed to insert pool: %w", err)
	}
	stored, err := q.GetPool(ctx, pool.ChainID, pool.Address)
	return stored, affected(res), err
}

func (q *queries) InsertAsset(ctx context.Context, asset model.Asset) (model.Asset, bool, error) {
	res, err := q.q.ExecContext(ctx, insertSQL("assets", storage.AssetColumns, "chain_id, address"), storage.AssetValues(asset)...)
	if err != nil {
		return model.Asset{}, false, fmt.Errorf("failed to insert asset: %w", err)
	}
	stored, err := q.GetAsset(ctx, asset.ChainID, asset.Address)
	return stored, affected(res), err
}

func (q *queries) InsertToken(ctx context.Context, token model.Token) (model.Token, bool, error) {
	res, err := q.q.ExecContext(ctx, insertSQL("tokens", storage.TokenColumns, "chain_id, address"), storage.TokenValues(token)...)
	if err != nil {
		return model.Token{}, false, fmt.Errorf("failed to insert token: %w", err)
	}
	stored, err := q.GetToken(ctx, token.ChainID, token.Address)
	return stored, affected(res), err
}

func (q *queries) InsertDailyVolume(ctx context.Context, dv model.DailyVolume) (model.DailyVolume, bool, error) {
	args, err := storage.DailyVolumeValues(dv)
	if err != nil {
		return model.DailyVolume{}, false, err
	}
	res, err := q.q.ExecContext(ctx, insertSQL("daily_volumes", storage.DailyVolumeColumns, "chain_id, pool"), args...)
	if err != nil {
		return model.DailyVolume{}, false, fmt.Errorf("failed to insert daily volume: %w", err)
	}
	stored, err := q.GetDailyVolume(ctx, dv.ChainID, dv.Pool)
	return stored, affected(res), err
}

func (q *queries) InsertMigrationPool(ctx context.Context, mp model.MigrationPool) (model.MigrationPool, bool, error) {
	res, err := q.q.ExecContext(ctx, insertSQL("migration_pools", storage.MigrationPoolColumns, "chain_id, address"), storage.MigrationPoolValues(mp)...)
	if err != nil {
		return model.MigrationPool{}, false, fmt.Errorf("failed to insert migration pool: %w", err)
	}
	stored, err := q.GetMigrationPool(ctx, mp.ChainID, mp.Address)
	return stored, affected(res), err
}

func (q *queries) update(ctx context.Context, table string, chainID uint64, address string, assignments []storage.Assignment) error {
	address = model.NormalizeAddress(address)
	if len(assignments) == 0 {
		var one int
		err := q.q.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE chain_id = ? AND address = ?`, int64(chainID), address).Scan(&one)
		return notFound(err)
	}
	sets := make([]string, len(assignments))
	args := make([]any, 0, len(assignments)+2)
	for i, a := range assignments {
		sets[i] = a.Column + " = ?"
		args = append(args, a.Value)
	}
	args = append(args, int64(chainID), address)
	res, err := q.q.ExecContext(ctx, `UPDATE `+table+` SET `+strings.Join(sets, ", ")+`
		WHERE chain_id = ? AND address = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", table, err)
	}
	if !affected(res) {
		return storage.ErrNotFound
	}
	return nil
}

func (q *queries) UpdatePool(ctx context.Context, chainID uint64, address string, patch model.PoolPatch) error {
	return q.update(ctx, "pools", chainID, address, storage.PoolAssignments(patch))
}

func (q *queries) UpdateAsset(ctx context.Context, chainID uint64, address string, patch model.AssetPatch) error {
	return q.update(ctx, "assets", chainID, address, storage.AssetAssignments(patch))
}

func (q *queries) UpdateToken(ctx context.Context, chainID uint64, address string, patch model.TokenPatch) error {
	return q.update(ctx, "tokens", chainID, address, storage.TokenAssignments(patch))
}

func (q *queries) SaveDailyVolume(ctx context.Context, dv model.DailyVolume) error {
	args, err := storage.DailyVolumeValues(dv)
	if err != nil {
		return err
	}
	if _, err := q.q.ExecContext(ctx, upsertSQL("daily_volumes", storage.DailyVolumeColumns, "chain_id, pool", 2), args...); err != nil {
		return fmt.Errorf("failed to save daily volume: %w", err)
	}
	return nil
}

func (q *queries) SaveHourBucket(ctx context.Context, b model.HourBucket) error {
	if _, err := q.q.ExecContext(ctx, upsertSQL("hour_buckets", storage.HourBucketColumns, "chain_id, pool, hour_id", 3), storage.HourBucketValues(b)...); err != nil {
		return fmt.Errorf("failed to save hour bucket: %w", err)
	}
	return nil
}

func (q *queries) SavePosition(ctx context.Context, pos model.Position) error {
	if _, err := q.q.ExecContext(ctx, upsertSQL("positions", storage.PositionColumns, "chain_id, pool, owner, tick_lower, tick_upper", 5), storage.PositionValues(pos)...); err != nil {
		return fmt.Errorf("failed to save position: %w", err)
	}
	return nil
}

func (q *queries) SaveUserAsset(ctx context.Context, ua model.UserAsset) error {
	if _, err := q.q.ExecContext(ctx, upsertSQL("user_assets", storage.UserAssetColumns, "chain_id, user_address, asset", 3), storage.UserAssetValues(ua)...); err != nil {
		return fmt.Errorf("failed to save user asset: %w", err)
	}
	return nil
}

func (q *queries) TouchUser(ctx context.Context, chainID uint64, address string, ts int64) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO users (chain_id, address, first_seen_at, last_seen_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (chain_id, address) DO UPDATE SET
			first_seen_at = min(first_seen_at, excluded.first_seen_at),
			last_seen_at = max(last_seen_at, excluded.last_seen_at)
	`, int64(chainID), model.NormalizeAddress(address), ts, ts)
	if err != nil {
		return fmt.Errorf("failed to touch user: %w", err)
	}
	return nil
}
