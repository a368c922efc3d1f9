package storage

import (
	"context"

	"poolScope/internal/model"
)

// LogSink receives raw log batches, e.g. for archiving.
type LogSink interface {
	PutLogBatch(logs []model.LogRecord) error
}

// SwapSink receives priced swaps for time-series analytics.
type SwapSink interface {
	PutSwapPoints(ctx context.Context, points []model.SwapPoint) error
}

// Reader exposes the read side of the entity store. Every getter returns
// ErrNotFound when the row does not exist.
type Reader interface {
	GetPool(ctx context.Context, chainID uint64, address string) (model.Pool, error)
	GetAsset(ctx context.Context, chainID uint64, address string) (model.Asset, error)
	GetToken(ctx context.Context, chainID uint64, address string) (model.Token, error)
	GetDailyVolume(ctx context.Context, chainID uint64, pool string) (model.DailyVolume, error)
	GetHourBucket(ctx context.Context, chainID uint64, pool string, hourID int64) (model.HourBucket, error)
	GetPosition(ctx context.Context, key model.PositionKey) (model.Position, error)
	GetUserAsset(ctx context.Context, chainID uint64, user, asset string) (model.UserAsset, error)
	GetMigrationPool(ctx context.Context, chainID uint64, address string) (model.MigrationPool, error)

	// ListHourBuckets returns buckets with from <= hourID <= to, oldest first.
	ListHourBuckets(ctx context.Context, chainID uint64, pool string, from, to int64) ([]model.HourBucket, error)
	// NearestHourBucket returns the bucket closest to target within tolerance seconds.
	// Ties resolve to the earlier bucket.
	NearestHourBucket(ctx context.Context, chainID uint64, pool string, target, tolerance int64) (model.HourBucket, error)
	// LatestEthPrice returns the newest sample with from <= timestamp <= to.
	LatestEthPrice(ctx context.Context, chainID uint64, from, to int64) (model.EthPrice, error)
}

// Tx is a unit of work. Writes become visible only when the enclosing WithTx returns nil.
type Tx interface {
	Reader

	// MarkEventProcessed records eventID and reports false when it was already recorded.
	MarkEventProcessed(ctx context.Context, chainID uint64, eventID string, ts int64) (bool, error)

	// Insert* methods are insert-if-not-exists: they return the stored row and
	// whether this call created it.
	InsertPool(ctx context.Context, pool model.Pool) (model.Pool, bool, error)
	InsertAsset(ctx context.Context, asset model.Asset) (model.Asset, bool, error)
	InsertToken(ctx context.Context, token model.Token) (model.Token, bool, error)
	InsertDailyVolume(ctx context.Context, dv model.DailyVolume) (model.DailyVolume, bool, error)
	InsertMigrationPool(ctx context.Context, mp model.MigrationPool) (model.MigrationPool, bool, error)

	// Update* methods merge a partial patch into an existing row.
	UpdatePool(ctx context.Context, chainID uint64, address string, patch model.PoolPatch) error
	UpdateAsset(ctx context.Context, chainID uint64, address string, patch model.AssetPatch) error
	UpdateToken(ctx context.Context, chainID uint64, address string, patch model.TokenPatch) error

	SaveDailyVolume(ctx context.Context, dv model.DailyVolume) error
	SaveHourBucket(ctx context.Context, bucket model.HourBucket) error
	SavePosition(ctx context.Context, pos model.Position) error
	SaveUserAsset(ctx context.Context, ua model.UserAsset) error
	TouchUser(ctx context.Context, chainID uint64, address string, ts int64) error
}

// Store is the entity store.
type Store interface {
	Reader

	// WithTx runs fn in a transaction, committing when fn returns nil.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// StalePools returns active pools whose earliest checkpoint is older than
	// cutoff, least recently refreshed first.
	StalePools(ctx context.Context, chainID uint64, cutoff int64, limit int) ([]model.Pool, error)
	// TrackedAddresses returns every pool and asset address known for a chain.
	TrackedAddresses(ctx context.Context, chainID uint64) (pools []string, assets []string, err error)

	InsertEthPrice(ctx context.Context, price model.EthPrice) (bool, error)

	LoadCursor(ctx context.Context, name string) (uint64, bool, error)
	SaveCursor(ctx context.Context, name string, block uint64) error

	Close()
}
