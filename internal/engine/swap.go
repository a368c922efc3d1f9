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

const (
	sideBuy  = "buy"
	sideSell = "sell"
)

func (e *Engine) handleSwap(ctx context.Context, ev model.Event, logger *zap.Logger) (*fanout, error) {
	swap, ok := ev.Payload.(model.SwapEventData)
	if !ok {
		return nil, payloadError(ev)
	}
	if swap.Amount0 == nil || swap.Amount1 == nil || swap.SqrtPriceX96 == nil || swap.SqrtPriceX96.Sign() <= 0 {
		return nil, fmt.Errorf("%w: incomplete swap payload", model.ErrMalformedEvent)
	}
	logger = logger.With(zap.String("pool", ev.Address))

	tracked, err := e.store.GetPool(ctx, ev.ChainID, ev.Address)
	if notFound(err) {
		return nil, errUntracked
	}
	if err != nil {
		return nil, fmt.Errorf("get pool: %w", err)
	}

	var balances []*big.Int
	if e.reader != nil {
		if b, err := e.reader.Balances(ctx, tracked.Address, []string{tracked.Asset, tracked.Numeraire}, ev.BlockNumber); err != nil {
			logger.Warn("pool balances read failed, keeping cached reserves", zap.Error(err))
		} else if len(b) == 2 {
			balances = b
		}
	}
	ethPrice := e.ethPrice(ctx, ev, logger)

	var out fanout
	err = e.withLease(ctx, ev, lease.PoolKey(ev.ChainID, tracked.Address), func(ctx context.Context, tx storage.Tx) error {
		pool, err := tx.GetPool(ctx, ev.ChainID, tracked.Address)
		if err != nil {
			return fmt.Errorf("get pool: %w", err)
		}

		amountAsset, amountQuote := swap.Amount1, swap.Amount0
		if pool.IsToken0 {
			amountAsset, amountQuote = swap.Amount0, swap.Amount1
		}
		// amounts are signed from the pool's side: asset leaving the pool is a buy
		side := sideSell
		if amountAsset.Sign() < 0 {
			side = sideBuy
		}

		patch := model.PoolPatch{
			SqrtPriceX96:      swap.SqrtPriceX96,
			Tick:              int32Ptr(swap.Tick),
			LastSwapTimestamp: int64Ptr(ev.Timestamp),
			SwapCount:         uint64Ptr(pool.SwapCount + 1),
		}
		pool.SqrtPriceX96 = swap.SqrtPriceX96
		pool.Tick = swap.Tick
		pool.LastSwapTimestamp = ev.Timestamp
		pool.SwapCount++
		if swap.Liquidity != nil {
			pool.Liquidity = swap.Liquidity
			patch.Liquidity = swap.Liquidity
		}

		switch {
		case swap.Amount0.Sign() > 0:
			pool.FeesToken0 = new(big.Int).Add(pool.FeesToken0, aggregate.FeeFromAmount(swap.Amount0, pool.Fee))
			patch.FeesToken0 = pool.FeesToken0
		case swap.Amount1.Sign() > 0:
			pool.FeesToken1 = new(big.Int).Add(pool.FeesToken1, aggregate.FeeFromAmount(swap.Amount1, pool.Fee))
			patch.FeesToken1 = pool.FeesToken1
		}

		raised := new(big.Int).Add(pool.GraduationBalance, amountQuote)
		if raised.Sign() < 0 {
			raised.SetInt64(0)
		}
		pool.GraduationBalance = raised
		patch.GraduationBalance = raised

		if balances != nil {
			pool.AssetBalance, pool.QuoteBalance = balances[0], balances[1]
			patch.AssetBalance, patch.QuoteBalance = pool.AssetBalance, pool.QuoteBalance
		}

		decimals, err := tokenDecimals(ctx, tx, ev.ChainID, pool.Numeraire)
		if err != nil {
			return err
		}
		pool.Price = aggregate.Price(pool.SqrtPriceX96, pool.IsToken0, decimals)
		patch.Price = pool.Price

		supply, err := totalSupply(ctx, tx, ev.ChainID, pool.Asset)
		if err != nil {
			return err
		}
		val := valuePool(pool, supply, ethPrice)

		var (
			assetPatch model.AssetPatch
			tokenPatch model.TokenPatch
			volumeUSD  *big.Int
		)
		if ethPrice != nil {
			volumeUSD = aggregate.USDValue(amountQuote, ethPrice)
			volume, err := e.recordSwap(ctx, tx, ev, pool, val.usdPrice, volumeUSD)
			if err != nil {
				return err
			}
			var poolVolume model.PoolPatch
			poolVolume, tokenPatch, assetPatch = volumePatches(volume)
			patch.VolumeUSD = poolVolume.VolumeUSD
			pool.VolumeUSD = volume

			change, err := percentChange(ctx, tx, pool, val.usdPrice, ev.Timestamp)
			if err != nil {
				return err
			}
			pool.PercentDayChange = change
			patch.PercentDayChange = decimalPtr(change)

			pool.DollarLiquidity = val.dollarLiquidity
			patch.DollarLiquidity = val.dollarLiquidity
			assetPatch.LiquidityUSD = val.dollarLiquidity
			assetPatch.MarketCapUSD = val.marketCap
		}

		if err := tx.UpdatePool(ctx, ev.ChainID, pool.Address, patch); err != nil {
			return fmt.Errorf("update pool: %w", err)
		}
		if err := applyAssetUpdate(ctx, tx, ev.ChainID, pool.Asset, assetPatch); err != nil {
			return err
		}
		if err := applyTokenUpdate(ctx, tx, ev.ChainID, pool.Asset, tokenPatch); err != nil {
			return err
		}
		if swap.Recipient != "" {
			if err := tx.TouchUser(ctx, ev.ChainID, swap.Recipient, ev.Timestamp); err != nil {
				return fmt.Errorf("touch user: %w", err)
			}
		}

		out.snapshots = append(out.snapshots, buildSnapshot(pool, val.marketCap, string(ev.Kind), ev.Timestamp))
		if ethPrice != nil {
			out.swap = &model.SwapPoint{
				ChainID:     ev.ChainID,
				Pool:        pool.Address,
				Asset:       pool.Asset,
				TxHash:      ev.TxHash,
				LogIndex:    uint32(ev.LogIndex),
				BlockNumber: ev.BlockNumber,
				Timestamp:   ev.Timestamp,
				Side:        side,
				AmountAsset: new(big.Int).Abs(amountAsset).String(),
				AmountQuote: new(big.Int).Abs(amountQuote).String(),
				PriceUSD:    aggregate.FormatWAD(val.usdPrice),
				VolumeUSD:   aggregate.FormatWAD(volumeUSD),
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// recordSwap folds the swap into the hour bucket and the rolling window and
// returns the new 24h volume.
func (e *Engine) recordSwap(ctx context.Context, tx storage.Tx, ev model.Event, pool model.Pool, usdPrice, volumeUSD *big.Int) (*big.Int, error) {
	hourID := aggregate.HourID(ev.Timestamp)
	var prev *model.HourBucket
	existing, err := tx.GetHourBucket(ctx, ev.ChainID, pool.Address, hourID)
	switch {
	case err == nil:
		prev = &existing
	case !notFound(err):
		return nil, fmt.Errorf("get hour bucket: %w", err)
	}
	bucket := aggregate.RecordPrice(prev, ev.ChainID, pool.Address, usdPrice, ev.Timestamp, ev.ID())
	if err := tx.SaveHourBucket(ctx, bucket); err != nil {
		return nil, fmt.Errorf("save hour bucket: %w", err)
	}

	dv, err := getDailyVolume(ctx, tx, ev.ChainID, pool.Address, ev.Timestamp)
	if err != nil {
		return nil, err
	}
	dv = aggregate.RecordVolume(dv, volumeUSD, ev.Timestamp, ev.ID())
	if err := tx.SaveDailyVolume(ctx, dv); err != nil {
		return nil, fmt.Errorf("save daily volume: %w", err)
	}
	return dv.VolumeUSD, nil
}
