package postgres

import (
	"context"
	"fmt"
	"strings"

	"poolScope/internal/model"
	"poolScope/internal/storage"
)

// queries holds every read and write that works the same on the pool and in a tx.
type queries struct {
	q    querier
	lock bool
}

var _ storage.Tx = (*queries)(nil)

func placeholders(from, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(parts, ", ")
}

func insertSQL(table string, cols []string, conflict string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING",
		table, storage.Columns(cols, ""), placeholders(1, len(cols)), conflict)
}

func upsertSQL(table string, cols []string, conflict string, keyCols int) string {
	sets := make([]string, 0, len(cols)-keyCols)
	for _, c := range cols[keyCols:] {
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		table, storage.Columns(cols, ""), placeholders(1, len(cols)), conflict, strings.Join(sets, ", "))
}

func (q *queries) GetPool(ctx context.Context, chainID uint64, address string) (model.Pool, error) {
	row := q.q.QueryRow(ctx, `SELECT `+storage.Columns(storage.PoolColumns, "")+`
		FROM pools WHERE chain_id = $1 AND address = $2`, int64(chainID), model.NormalizeAddress(address))
	pool, err := storage.ScanPool(row)
	return pool, notFound(err)
}

func (q *queries) GetAsset(ctx context.Context, chainID uint64, address string) (model.Asset, error) {
	row := q.q.QueryRow(ctx, `SELECT `+storage.Columns(storage.AssetColumns, "")+`
		FROM assets WHERE chain_id = $1 AND address = $2`, int64(chainID), model.NormalizeAddress(address))
	asset, err := storage.ScanAsset(row)
	return asset, notFound(err)
}

func (q *queries) GetToken(ctx context.Context, chainID uint64, address string) (model.Token, error) {
	row := q.q.QueryRow(ctx, `SELECT `+storage.Columns(storage.TokenColumns, "")+`
		FROM tokens WHERE chain_id = $1 AND address = $2`, int64(chainID), model.NormalizeAddress(address))
	token, err := storage.ScanToken(row)
	return token, notFound(err)
}

func (q *queries) GetDailyVolume(ctx context.Context, chainID uint64, pool string) (model.DailyVolume, error) {
	sql := `SELECT ` + storage.Columns(storage.DailyVolumeColumns, "") + `
		FROM daily_volumes WHERE chain_id = $1 AND pool = $2`
	if q.lock {
		sql += ` FOR UPDATE`
	}
	dv, err := storage.ScanDailyVolume(q.q.QueryRow(ctx, sql, int64(chainID), model.NormalizeAddress(pool)))
	return dv, notFound(err)
}

func (q *queries) GetHourBucket(ctx context.Context, chainID uint64, pool string, hourID int64) (model.HourBucket, error) {
	row := q.q.QueryRow(ctx, `SELECT `+storage.Columns(storage.HourBucketColumns, "")+`
		FROM hour_buckets WHERE chain_id = $1 AND pool = $2 AND hour_id = $3`,
		int64(chainID), model.NormalizeAddress(pool), hourID)
	b, err := storage.ScanHourBucket(row)
	return b, notFound(err)
}

func (q *queries) GetPosition(ctx context.Context, k model.PositionKey) (model.Position, error) {
	row := q.q.QueryRow(ctx, `SELECT `+storage.Columns(storage.PositionColumns, "")+`
		FROM positions
		WHERE chain_id = $1 AND pool = $2 AND owner = $3 AND tick_lower = $4 AND tick_upper = $5`,
		int64(k.ChainID), model.NormalizeAddress(k.Pool), model.NormalizeAddress(k.Owner), k.TickLower, k.TickUpper)
	pos, err := storage.ScanPosition(row)
	return pos, notFound(err)
}

func (q *queries) GetUserAsset(ctx context.Context, chainID uint64, user, asset string) (model.UserAsset, error) {
	row := q.q.QueryRow(ctx, `SELECT `+storage.Columns(storage.UserAssetColumns, "")+`
		FROM user_assets WHERE chain_id = $1 AND user_address = $2 AND asset = $3`,
		int64(chainID), model.NormalizeAddress(user), model.NormalizeAddress(asset))
	ua, err := storage.ScanUserAsset(row)
	return ua, notFound(err)
}

func (q *queries) GetMigrationPool(ctx context.Context, chainID uint64, address string) (model.MigrationPool, error) {
	row := q.q.QueryRow(ctx, `SELECT `+storage.Columns(storage.MigrationPoolColumns, "")+`
		FROM migration_pools WHERE chain_id = $1 AND address = $2`, int64(chainID), model.NormalizeAddress(address))
	mp, err := storage.ScanMigrationPool(row)
	return mp, notFound(err)
}

func (q *queries) ListHourBuckets(ctx context.Context, chainID uint64, pool string, from, to int64) ([]model.HourBucket, error) {
	rows, err := q.q.Query(ctx, `SELECT `+storage.Columns(storage.HourBucketColumns, "")+`
		FROM hour_buckets
		WHERE chain_id = $1 AND pool = $2 AND hour_id BETWEEN $3 AND $4
		ORDER BY hour_id`, int64(chainID), model.NormalizeAddress(pool), from, to)
	if err != nil {
		return nil, fmt.Errorf("list hour buckets: %w", err)
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
	row := q.q.QueryRow(ctx, `SELECT `+storage.Columns(storage.HourBucketColumns, "")+`
		FROM hour_buckets
		WHERE chain_id = $1 AND pool = $2 AND hour_id BETWEEN $3 AND $4
		ORDER BY abs(hour_id - $5), hour_id
		LIMIT 1`, int64(chainID), model.NormalizeAddress(pool), target-tolerance, target+tolerance, target)
	b, err := storage.ScanHourBucket(row)
	return b, notFound(err)
}

func (q *queries) LatestEthPrice(ctx context.Context, chainID uint64, from, to int64) (model.EthPrice, error) {
	row := q.q.QueryRow(ctx, `SELECT chain_id, ts, price FROM eth_prices
		WHERE chain_id = $1 AND ts BETWEEN $2 AND $3
		ORDER BY ts DESC LIMIT 1`, int64(chainID), from, to)
	ep, err := storage.ScanEthPrice(row)
	return ep, notFound(err)
}

func (q *queries) MarkEventProcessed(ctx context.Context, chainID uint64, eventID string, ts int64) (bool, error) {
	tag, err := q.q.Exec(ctx, `INSERT INTO processed_events (chain_id, event_id, ts)
		VALUES ($1, $2, $3) ON CONFLICT (chain_id, event_id) DO NOTHING`, int64(chainID), eventID, ts)
	if err != nil {
		return false, fmt.Errorf("mark event processed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (q *queries) InsertPool(ctx context.Context, pool model.Pool) (model.Pool, bool, error) {
	tag, err := q.q.Exec(ctx, insertSQL("pools", storage.PoolColumns, "chain_id, address"), storage.PoolValues(pool)...)
	if err != nil {
		return model.Pool{}, false, fmt.Errorf("insert pool: %w", err)
	}
	stored, err := q.GetPool(ctx, pool.ChainID, pool.Address)
	return stored, tag.RowsAffected() == 1, err
}

func (q *queries) InsertAsset(ctx context.Context, asset model.Asset) (model.Asset, bool, error) {
	tag, err := q.q.Exec(ctx, insertSQL("assets", storage.AssetColumns, "chain_id, address"), storage.AssetValues(asset)...)
	if err != nil {
		return model.Asset{}, false, fmt.Errorf("insert asset: %w", err)
	}
	stored, err := q.GetAsset(ctx, asset.ChainID, asset.Address)
	return stored, tag.RowsAffected() == 1, err
}

func (q *queries) InsertToken(ctx context.Context, token model.Token) (model.Token, bool, error) {
	tag, err := q.q.Exec(ctx, insertSQL("tokens", storage.TokenColumns, "chain_id, address"), storage.TokenValues(token)...)
	if err != nil {
		return model.Token{}, false, fmt.Errorf("insert token: %w", err)
	}
	stored, err := q.GetToken(ctx, token.ChainID, token.Address)
	return stored, tag.RowsAffected() == 1, err
}

func (q *queries) InsertDailyVolume(ctx context.Context, dv model.DailyVolume) (model.DailyVolume, bool, error) {
	args, err := storage.DailyVolumeValues(dv)
	if err != nil {
		return model.DailyVolume{}, false, err
	}
	tag, err := q.q.Exec(ctx, insertSQL("daily_volumes", storage.DailyVolumeColumns, "chain_id, pool"), args...)
	if err != nil {
		return model.DailyVolume{}, false, fmt.Errorf("insert daily volume: %w", err)
	}
	stored, err := q.GetDailyVolume(ctx, dv.ChainID, dv.Pool)
	return stored, tag.RowsAffected() == 1, err
}

func (q *queries) InsertMigrationPool(ctx context.Context, mp model.MigrationPool) (model.MigrationPool, bool, error) {
	tag, err := q.q.Exec(ctx, insertSQL("migration_pools", storage.MigrationPoolColumns, "chain_id, address"), storage.MigrationPoolValues(mp)...)
	if err != nil {
		return model.MigrationPool{}, false, fmt.Errorf("insert migration pool: %w", err)
	}
	stored, err := q.GetMigrationPool(ctx, mp.ChainID, mp.Address)
	return stored, tag.RowsAffected() == 1, err
}

func (q *queries) update(ctx context.Context, table string, chainID uint64, address string, assignments []storage.Assignment) error {
	address = model.NormalizeAddress(address)
	if len(assignments) == 0 {
		var one int
		err := q.q.QueryRow(ctx, `SELECT 1 FROM `+table+` WHERE chain_id = $1 AND address = $2`, int64(chainID), address).Scan(&one)
		return notFound(err)
	}
	sets := make([]string, len(assignments))
	args := []any{int64(chainID), address}
	for i, a := range assignments {
		sets[i] = fmt.Sprintf("%s = $%d", a.Column, i+3)
		args = append(args, a.Value)
	}
	tag, err := q.q.Exec(ctx, `UPDATE `+table+` SET `+strings.Join(sets, ", ")+`
		WHERE chain_id = $1 AND address = $2`, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	if tag.RowsAffected() == 0 {
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
	if _, err := q.q.Exec(ctx, upsertSQL("daily_volumes", storage.DailyVolumeColumns, "chain_id, pool", 2), args...); err != nil {
		return fmt.Errorf("save daily volume: %w", err)
	}
	return nil
}

func (q *queries) SaveHourBucket(ctx context.Context, b model.HourBucket) error {
	if _, err := q.q.Exec(ctx, upsertSQL("hour_buckets", storage.HourBucketColumns, "chain_id, pool, hour_id", 3), storage.HourBucketValues(b)...); err != nil {
		return fmt.Errorf("save hour bucket: %w", err)
	}
	return nil
}

func (q *queries) SavePosition(ctx context.Context, pos model.Position) error {
	if _, err := q.q.Exec(ctx, upsertSQL("positions", storage.PositionColumns, "chain_id, pool, owner, tick_lower, tick_upper", 5), storage.PositionValues(pos)...); err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	return nil
}

func (q *queries) SaveUserAsset(ctx context.Context, ua model.UserAsset) error {
	if _, err := q.q.Exec(ctx, upsertSQL("user_assets", storage.UserAssetColumns, "chain_id, user_address, asset", 3), storage.UserAssetValues(ua)...); err != nil {
		return fmt.Errorf("save user asset: %w", err)
	}
	return nil
}

func (q *queries) TouchUser(ctx context.Context, chainID uint64, address string, ts int64) error {
	_, err := q.q.Exec(ctx, `
		INSERT INTO users (chain_id, address, first_seen_at, last_seen_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (chain_id, address) DO UPDATE SET
			first_seen_at = LEAST(users.first_seen_at, EXCLUDED.first_seen_at),
			last_seen_at = GREATEST(users.last_seen_at, EXCLUDED.last_seen_at)
	`, int64(chainID), model.NormalizeAddress(address), ts)
	if err != nil {
		return fmt.Errorf("touch user: %w", err)
	}
	return nil
}
