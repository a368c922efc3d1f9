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

// liquidityChange is the common shape of Mint and Burn.
type liquidityChange struct {
	owner     string
	tickLower int32
	tickUpper int32
	amount    *big.Int
	burn      bool
}

func liquidityChangeOf(ev model.Event) (liquidityChange, error) {
	switch p := ev.Payload.(type) {
	case model.MintEventData:
		return liquidityChange{owner: p.Owner, tickLower: p.TickLower, tickUpper: p.TickUpper, amount: p.Amount}, nil
	case model.BurnEventData:
		return liquidityChange{owner: p.Owner, tickLower: p.TickLower, tickUpper: p.TickUpper, amount: p.Amount, burn: true}, nil
	default:
		return liquidityChange{}, payloadError(ev)
	}
}

func (e *Engine) handleLiquidity(ctx context.Context, ev model.Event, logger *zap.Logger) (*fanout, error) {
	change, err := liquidityChangeOf(ev)
	if err != nil {
		return nil, err
	}
	if change.amount == nil || change.amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: invalid liquidity amount", model.ErrMalformedEvent)
	}
	logger = logger.With(zap.String("pool", ev.Address))

	tracked, err := e.store.GetPool(ctx, ev.ChainID, ev.Address)
	if notFound(err) {
		return nil, errUntracked
	}
	if err != nil {
		return nil, fmt.Errorf("get pool: %w", err)
	}

	var (
		state    *model.PoolState
		balances []*big.Int
	)
	if e.reader != nil {
		if s, err := e.reader.PoolState(ctx, tracked.Address, ev.BlockNumber); err != nil {
			logger.Warn("pool state read failed, applying liquidity delta locally", zap.Error(err))
		} else {
			state = &s
		}
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
		fields := []zap.Field{zap.String("pool", pool.Address), zap.String("event_id", ev.ID())}

		var patch model.PoolPatch

		// live state when available, otherwise the in-range delta
		if state != nil && state.SqrtPriceX96 != nil && state.Liquidity != nil {
			pool.SqrtPriceX96 = state.SqrtPriceX96
			pool.Tick = state.Tick
			pool.Liquidity = state.Liquidity
			patch.SqrtPriceX96 = pool.SqrtPriceX96
			patch.Tick = int32Ptr(pool.Tick)
		} else if change.tickLower <= pool.Tick && pool.Tick < change.tickUpper {
			next := new(big.Int).Set(pool.Liquidity)
			if change.burn {
				next.Sub(next, change.amount)
			} else {
				next.Add(next, change.amount)
			}
			if next, err = e.guard.NonNegative("pool_liquidity", next, fields...); err != nil {
				return err
			}
			pool.Liquidity = next
		}
		patch.Liquidity = pool.Liquidity

		delta, err := aggregate.GraduationDelta(change.tickLower, change.tickUpper, change.amount, pool.IsToken0)
		if err != nil {
			return fmt.Errorf("%w: %v", model.ErrMalformedEvent, err)
		}
		threshold := new(big.Int).Set(pool.GraduationThreshold)
		if change.burn {
			threshold.Sub(threshold, delta)
		} else {
			threshold.Add(threshold, delta)
		}
		if threshold, err = e.guard.NonNegative("graduation_threshold", threshold, fields...); err != nil {
			return err
		}
		pool.GraduationThreshold = threshold
		patch.GraduationThreshold = threshold

		if balances != nil {
			pool.AssetBalance, pool.QuoteBalance = balances[0], balances[1]
			patch.AssetBalance, patch.QuoteBalance = pool.AssetBalance, pool.QuoteBalance
		}

		decimals, err := tokenDecimals(ctx, tx, ev.ChainID, pool.Numeraire)
		if err != nil {
			return err
		}
		if price := poolPrice(pool.SqrtPriceX96, pool.IsToken0, decimals); price != nil {
			pool.Price = price
			patch.Price = price
		}

		supply, err := totalSupply(ctx, tx, ev.ChainID, pool.Asset)
		if err != nil {
			return err
		}
		val := valuePool(pool, supply, ethPrice)
		var assetPatch model.AssetPatch
		if ethPrice != nil {
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
		if err := e.applyPosition(ctx, tx, ev, pool.Address, change, fields); err != nil {
			return err
		}
		if change.owner != "" {
			if err := tx.TouchUser(ctx, ev.ChainID, change.owner, ev.Timestamp); err != nil {
				return fmt.Errorf("touch user: %w", err)
			}
		}

		out.snapshots = append(out.snapshots, buildSnapshot(pool, val.marketCap, string(ev.Kind), ev.Timestamp))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (e *Engine) applyPosition(ctx context.Context, tx storage.Tx, ev model.Event, pool string, change liquidityChange, fields []zap.Field) error {
	key := model.PositionKey{
		ChainID:   ev.ChainID,
		Pool:      pool,
		Owner:     model.NormalizeAddress(change.owner),
		TickLower: change.tickLower,
		TickUpper: change.tickUpper,
	}
	pos, err := tx.GetPosition(ctx, key)
	switch {
	case notFound(err):
		pos = model.Position{
			ChainID:   key.ChainID,
			Pool:      key.Pool,
			Owner:     key.Owner,
			TickLower: key.TickLower,
			TickUpper: key.TickUpper,
			Liquidity: new(big.Int),
			CreatedAt: ev.Timestamp,
		}
	case err != nil:
		return fmt.Errorf("get position: %w", err)
	}

	next := new(big.Int).Set(pos.Liquidity)
	if change.burn {
		next.Sub(next, change.amount)
	} else {
		next.Add(next, change.amount)
	}
	if next, err = e.guard.NonNegative("position_liquidity", next, append(fields, zap.String("owner", key.Owner))...); err != nil {
		return err
	}
	pos.Liquidity = next
	pos.UpdatedAt = ev.Timestamp

	if err := tx.SavePosition(ctx, pos); err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	return nil
}
