package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"poolScope/internal/lease"
	"poolScope/internal/model"
	"poolScope/internal/storage"
)

func (e *Engine) handleMigrated(ctx context.Context, ev model.Event, logger *zap.Logger) (*fanout, error) {
	data, ok := ev.Payload.(model.MigratedData)
	if !ok {
		return nil, payloadError(ev)
	}
	if data.Asset == "" || data.Pool == "" {
		return nil, fmt.Errorf("%w: migrate without asset or pool", model.ErrMalformedEvent)
	}
	data.Asset = model.NormalizeAddress(data.Asset)
	data.Pool = model.NormalizeAddress(data.Pool)
	logger = logger.With(zap.String("asset", data.Asset), zap.String("migration_pool", data.Pool))

	tracked, err := e.store.GetAsset(ctx, ev.ChainID, data.Asset)
	if notFound(err) {
		return nil, errUntracked
	}
	if err != nil {
		return nil, fmt.Errorf("get asset: %w", err)
	}

	key := lease.PoolKey(ev.ChainID, tracked.Pool)
	if tracked.Pool == "" {
		key = lease.PoolKey(ev.ChainID, tracked.Address)
	}

	err = e.withLease(ctx, ev, key, func(ctx context.Context, tx storage.Tx) error {
		asset, err := tx.GetAsset(ctx, ev.ChainID, data.Asset)
		if err != nil {
			return fmt.Errorf("get asset: %w", err)
		}
		if asset.Migrated {
			logger.Warn("asset already migrated", zap.String("previous_pool", asset.MigrationPool))
		}

		if _, _, err := tx.InsertMigrationPool(ctx, model.MigrationPool{
			ChainID:    ev.ChainID,
			Address:    data.Pool,
			Asset:      asset.Address,
			Numeraire:  asset.Numeraire,
			ParentPool: asset.Pool,
			CreatedAt:  ev.Timestamp,
		}); err != nil {
			return fmt.Errorf("insert migration pool: %w", err)
		}

		return applyAssetUpdate(ctx, tx, ev.ChainID, asset.Address, model.AssetPatch{
			Migrated:      boolPtr(true),
			MigratedAt:    int64Ptr(ev.Timestamp),
			MigrationPool: stringPtr(data.Pool),
		})
	})
	if err != nil {
		return nil, err
	}
	logger.Info("asset migrated")
	return nil, nil
}
