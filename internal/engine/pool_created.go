package engine

import (
	"context"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"poolScope/internal/aggregate"
	"poolScope/internal/lease"
	"poolScope/internal/model"
	"poolScope/internal/storage"
)

// launchReads is everything PoolCreated needs from the chain. Every field
// degrades to a zero value when its read fails.
type launchReads struct {
	config        model.PoolConfig
	configOK      bool
	assetMeta     model.TokenMeta
	numeraireMeta model.TokenMeta
	assetData     model.AssetData
	state         model.PoolState
	balances      []*big.Int
}

func (e *Engine) readLaunch(ctx context.Context, ev model.Event, data model.PoolCreatedData, logger *zap.Logger) launchReads {
	reads := launchReads{
		assetMeta:     model.TokenMeta{Address: data.Asset, Decimals: defaultDecimals},
		numeraireMeta: model.TokenMeta{Address: data.Numeraire, Decimals: defaultDecimals},
	}
	if e.reader == nil {
		return reads
	}

	if cfg, err := e.reader.PoolConfig(ctx, data.Pool); err != nil {
		logger.Warn("pool config read failed", zap.Error(err))
	} else {
		reads.config, reads.configOK = cfg, true
	}
	if meta, err := e.reader.TokenMeta(ctx, data.Asset); err != nil {
		logger.Warn("asset metadata read failed", zap.Error(err))
	} else {
		reads.assetMeta = meta
	}
	if meta, err := e.reader.TokenMeta(ctx, data.Numeraire); err != nil {
		logger.Warn("numeraire metadata read failed", zap.Error(err))
	} else {
		reads.numeraireMeta = meta
	}
	if ad, err := e.reader.AssetData(ctx, ev.Address, data.Asset); err != nil {
		logger.Warn("asset data read failed", zap.Error(err))
	} else {
		reads.assetData = ad
	}
	if state, err := e.reader.PoolState(ctx, data.Pool, ev.BlockNumber); err != nil {
		logger.Warn("pool state read failed", zap.Error(err))
	} else {
		reads.state = state
	}
	if balances, err := e.reader.Balances(ctx, data.Pool, []string{data.Asset, data.Numeraire}, ev.BlockNumber); err != nil {
		logger.Warn("pool balances read failed", zap.Error(err))
	} else if len(balances) == 2 {
		reads.balances = balances
	}
	return reads
}

func (e *Engine) handlePoolCreated(ctx context.Context, ev model.Event, logger *zap.Logger) (*fanout, error) {
	data, ok := ev.Payload.(model.PoolCreatedData)
	if !ok {
		return nil, payloadError(ev)
	}
	if data.Asset == "" || data.Pool == "" || data.Numeraire == "" {
		return nil, fmt.Errorf("%w: create without asset, pool or numeraire", model.ErrMalformedEvent)
	}
	data.Asset = model.NormalizeAddress(data.Asset)
	data.Pool = model.NormalizeAddress(data.Pool)
	data.Numeraire = model.NormalizeAddress(data.Numeraire)
	logger = logger.With(zap.String("pool", data.Pool), zap.String("asset", data.Asset))

	reads := e.readLaunch(ctx, ev, data, logger)
	ethPrice := e.ethPrice(ctx, ev, logger)
	if ethPrice == nil {
		logger.Warn("no oracle sample at pool creation, window not seeded")
	}

	isToken0 := data.Asset < data.Numeraire
	if reads.configOK {
		isToken0 = reads.config.Token0 == data.Asset
	}

	var out fanout
	err := e.withLease(ctx, ev, lease.PoolKey(ev.ChainID, data.Pool), func(ctx context.Context, tx storage.Tx) error {
		assetToken := model.NewToken(ev.ChainID, reads.assetMeta)
		if assetToken.TotalSupply.Sign() == 0 && reads.assetData.TotalSupply != nil {
			assetToken.TotalSupply = new(big.Int).Set(reads.assetData.TotalSupply)
		}
		assetToken, _, err := tx.InsertToken(ctx, assetToken)
		if err != nil {
			return fmt.Errorf("insert asset token: %w", err)
		}
		if _, _, err := tx.InsertToken(ctx, model.NewToken(ev.ChainID, reads.numeraireMeta)); err != nil {
			return fmt.Errorf("insert numeraire token: %w", err)
		}

		pool := model.NewPool(ev.ChainID, data.Pool)
		pool.Asset = data.Asset
		pool.Numeraire = data.Numeraire
		pool.IsToken0 = isToken0
		pool.Fee = reads.config.Fee
		pool.TickSpacing = reads.config.TickSpacing
		pool.CreatedAt = ev.Timestamp
		pool.CreatedBlock = ev.BlockNumber
		pool.LastRefreshed = ev.Timestamp
		if reads.state.SqrtPriceX96 != nil {
			pool.SqrtPriceX96 = reads.state.SqrtPriceX96
			pool.Tick = reads.state.Tick
		}
		if reads.state.Liquidity != nil {
			pool.Liquidity = reads.state.Liquidity
		}
		if reads.balances != nil {
			pool.AssetBalance, pool.QuoteBalance = reads.balances[0], reads.balances[1]
		}
		if price := poolPrice(pool.SqrtPriceX96, isToken0, reads.numeraireMeta.Decimals); price != nil {
			pool.Price = price
		}

		val := valuePool(pool, assetToken.TotalSupply, ethPrice)
		if ethPrice != nil {
			pool.DollarLiquidity = val.dollarLiquidity
		}

		pool, created, err := tx.InsertPool(ctx, pool)
		if err != nil {
			return fmt.Errorf("insert pool: %w", err)
		}
		if !created {
			logger.Info("pool already tracked")
		}

		if err := e.upsertLaunchAsset(ctx, tx, ev, data, reads.assetData, pool, val, ethPrice != nil); err != nil {
			return err
		}

		dv := model.NewDailyVolume(ev.ChainID, pool.Address, ev.Timestamp)
		if ethPrice != nil && pool.Price.Sign() > 0 {
			dv = aggregate.RecordVolume(dv, new(big.Int), ev.Timestamp, ev.ID())
			existing, err := tx.GetHourBucket(ctx, ev.ChainID, pool.Address, aggregate.HourID(ev.Timestamp))
			var prev *model.HourBucket
			switch {
			case err == nil:
				prev = &existing
			case !notFound(err):
				return fmt.Errorf("get hour bucket: %w", err)
			}
			bucket := aggregate.RecordPrice(prev, ev.ChainID, pool.Address, val.usdPrice, ev.Timestamp, ev.ID())
			if err := tx.SaveHourBucket(ctx, bucket); err != nil {
				return fmt.Errorf("save hour bucket: %w", err)
			}
		}
		if _, _, err := tx.InsertDailyVolume(ctx, dv); err != nil {
			return fmt.Errorf("insert daily volume: %w", err)
		}

		out.snapshots = append(out.snapshots, buildSnapshot(pool, val.marketCap, string(ev.Kind), ev.Timestamp))
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info("pool created", zap.Bool("is_token0", isToken0), zap.Bool("priced", ethPrice != nil))
	return &out, nil
}

// upsertLaunchAsset inserts the asset, or fills in launch metadata when an
// earlier transfer already created it.
func (e *Engine) upsertLaunchAsset(ctx context.Context, tx storage.Tx, ev model.Event, data model.PoolCreatedData, ad model.AssetData, pool model.Pool, val valuation, priced bool) error {
	asset := model.NewAsset(ev.ChainID, data.Asset)
	asset.Pool = pool.Address
	asset.Numeraire = data.Numeraire
	asset.Governance = ad.Governance
	asset.Timelock = ad.Timelock
	asset.Migrator = ad.LiquidityMigrator
	asset.Integrator = ad.Integrator
	asset.CreatedAt = ev.Timestamp
	if priced {
		asset.LiquidityUSD = val.dollarLiquidity
		asset.MarketCapUSD = val.marketCap
	}

	_, created, err := tx.InsertAsset(ctx, asset)
	if err != nil {
		return fmt.Errorf("insert asset: %w", err)
	}
	if created {
		return nil
	}

	patch := model.AssetPatch{
		Pool:       stringPtr(asset.Pool),
		Numeraire:  stringPtr(asset.Numeraire),
		Governance: stringPtr(asset.Governance),
		Timelock:   stringPtr(asset.Timelock),
		Migrator:   stringPtr(asset.Migrator),
		Integrator: stringPtr(asset.Integrator),
		CreatedAt:  int64Ptr(asset.CreatedAt),
	}
	if priced {
		patch.LiquidityUSD = asset.LiquidityUSD
		patch.MarketCapUSD = asset.MarketCapUSD
	}
	return applyAssetUpdate(ctx, tx, ev.ChainID, asset.Address, patch)
}
