package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"poolScope/internal/aggregate"
	"poolScope/internal/lease"
	"poolScope/internal/model"
	"poolScope/internal/observability"
	"poolScope/internal/pubsub"
	"poolScope/internal/storage"
)

// RefresherConfig tunes the staleness sweep.
type RefresherConfig struct {
	Interval    time.Duration
	BatchSize   int
	Concurrency int
}

func (c RefresherConfig) withDefaults() RefresherConfig {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	return c
}

// Refresher decays the rolling window of pools that stopped receiving swaps
// and recomputes their USD metrics.
type Refresher struct {
	cfg       RefresherConfig
	store     storage.Store
	oracle    PriceOracle
	locker    lease.Locker
	publisher pubsub.Publisher
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewRefresher builds a Refresher over the same collaborators as the engine.
func NewRefresher(cfg RefresherConfig, deps Deps) (*Refresher, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	return &Refresher{
		cfg:       cfg.withDefaults(),
		store:     deps.Store,
		oracle:    deps.Oracle,
		locker:    deps.Locker,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		logger:    deps.Logger.Named("refresher"),
		now:       time.Now,
	}, nil
}

// Run sweeps every chain once per interval until ctx is done.
func (r *Refresher) Run(ctx context.Context, chainIDs []uint64) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		for _, chainID := range chainIDs {
			if _, err := r.RunOnce(ctx, chainID, r.now().Unix()); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				r.logger.Warn("refresh cycle failed", zap.Uint64("chain_id", chainID), zap.Error(err))
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce refreshes one batch of stale pools and returns how many were updated.
// Failures of single pools are logged and counted, they do not fail the batch.
func (r *Refresher) RunOnce(ctx context.Context, chainID uint64, now int64) (int, error) {
	start := time.Now()
	r.metrics.RefreshRuns.Inc()
	defer func() { r.metrics.RefreshDuration.Observe(time.Since(start).Seconds()) }()

	pools, err := r.store.StalePools(ctx, chainID, now-aggregate.DayWindow, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("stale pools: %w", err)
	}
	if len(pools) == 0 {
		return 0, nil
	}

	ethPrice := r.ethPrice(ctx, chainID, now)

	refreshed := make([]bool, len(pools))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for i, pool := range pools {
		g.Go(func() error {
			if err := r.refreshPool(gctx, pool, ethPrice, now); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				r.metrics.RefreshFailures.Inc()
				r.logger.Warn("pool refresh failed",
					zap.Uint64("chain_id", pool.ChainID),
					zap.String("pool", pool.Address),
					zap.Error(err),
				)
				return nil
			}
			refreshed[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	count := 0
	for _, ok := range refreshed {
		if ok {
			count++
		}
	}
	r.metrics.RefreshedPools.Add(float64(count))
	r.logger.Debug("refresh cycle done", zap.Uint64("chain_id", chainID), zap.Int("stale", len(pools)), zap.Int("refreshed", count))
	return count, nil
}

func (r *Refresher) ethPrice(ctx context.Context, chainID uint64, now int64) *big.Int {
	if r.oracle == nil {
		return nil
	}
	price, ok := r.oracle.PriceAt(ctx, chainID, now)
	if !ok {
		r.logger.Warn("no oracle price, refreshing volume only", zap.Uint64("chain_id", chainID))
		return nil
	}
	return price
}

// refreshPool evicts expired checkpoints and recomputes the USD metrics from
// cached reserves. lastRefreshed always advances.
func (r *Refresher) refreshPool(ctx context.Context, stale model.Pool, ethPrice *big.Int, now int64) error {
	release, err := r.locker.Acquire(ctx, lease.PoolKey(stale.ChainID, stale.Address))
	if err != nil {
		return fmt.Errorf("acquire lease: %w", err)
	}
	defer release()

	var snap model.PoolSnapshot
	err = r.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		pool, err := tx.GetPool(ctx, stale.ChainID, stale.Address)
		if err != nil {
			return fmt.Errorf("get pool: %w", err)
		}

		dv, err := getDailyVolume(ctx, tx, pool.ChainID, pool.Address, now)
		if err != nil {
			return err
		}
		dv = aggregate.RefreshVolume(dv, now)
		if err := tx.SaveDailyVolume(ctx, dv); err != nil {
			return fmt.Errorf("save daily volume: %w", err)
		}

		patch, tokenPatch, assetPatch := volumePatches(dv.VolumeUSD)
		patch.LastRefreshed = int64Ptr(now)
		pool.VolumeUSD = dv.VolumeUSD
		pool.LastRefreshed = now

		supply, err := totalSupply(ctx, tx, pool.ChainID, pool.Asset)
		if err != nil {
			return err
		}
		val := valuePool(pool, supply, ethPrice)
		if ethPrice != nil && pool.Price.Sign() > 0 {
			change, err := percentChange(ctx, tx, pool, val.usdPrice, now)
			if err != nil {
				return err
			}
			pool.PercentDayChange = change
			pool.DollarLiquidity = val.dollarLiquidity
			patch.PercentDayChange = decimalPtr(change)
			patch.DollarLiquidity = val.dollarLiquidity
			assetPatch.LiquidityUSD = val.dollarLiquidity
			assetPatch.MarketCapUSD = val.marketCap
		}

		if err := tx.UpdatePool(ctx, pool.ChainID, pool.Address, patch); err != nil {
			return fmt.Errorf("update pool: %w", err)
		}
		if err := applyAssetUpdate(ctx, tx, pool.ChainID, pool.Asset, assetPatch); err != nil {
			return err
		}
		if err := applyTokenUpdate(ctx, tx, pool.ChainID, pool.Asset, tokenPatch); err != nil {
			return err
		}
		snap = buildSnapshot(pool, val.marketCap, "Refresh", now)
		return nil
	})
	if err != nil {
		return err
	}

	if err := r.publisher.Publish(ctx, snap); err != nil {
		r.metrics.PublishFailures.Inc()
		r.logger.Warn("publish snapshot failed", zap.String("pool", snap.Pool), zap.Error(err))
	}
	return nil
}
