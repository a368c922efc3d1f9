package engine

import (
	"context"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"poolScope/internal/aggregate"
	"poolScope/internal/model"
	"poolScope/internal/storage"
)

const defaultDecimals uint8 = 18

// valuation holds the USD metrics of a pool at one oracle price.
type valuation struct {
	usdPrice        *big.Int
	dollarLiquidity *big.Int
	marketCap       *big.Int
}

func valuePool(pool model.Pool, totalSupply, ethPrice *big.Int) valuation {
	return valuation{
		usdPrice:        aggregate.USDValue(pool.Price, ethPrice),
		dollarLiquidity: aggregate.DollarLiquidity(pool.AssetBalance, pool.QuoteBalance, pool.Price, ethPrice),
		marketCap:       aggregate.MarketCap(pool.Price, totalSupply, ethPrice),
	}
}

// poolPrice derives the asset price from sqrtPriceX96, or nil when the pool
// has no price yet.
func poolPrice(sqrtPriceX96 *big.Int, isToken0 bool, decimals uint8) *big.Int {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() <= 0 {
		return nil
	}
	return aggregate.Price(sqrtPriceX96, isToken0, decimals)
}

// percentChange compares usdPrice with the open of the bucket nearest to
// now-24h. Pools younger than a day search the whole day.
func percentChange(ctx context.Context, r storage.Reader, pool model.Pool, usdPrice *big.Int, now int64) (decimal.Decimal, error) {
	tolerance := aggregate.ChangeTolerance(pool.CreatedAt, now)
	bucket, err := r.NearestHourBucket(ctx, pool.ChainID, pool.Address, now-aggregate.DayWindow, tolerance)
	if notFound(err) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("nearest hour bucket: %w", err)
	}
	return aggregate.PercentChange(usdPrice, bucket.Open), nil
}

// tokenDecimals returns the stored decimals of token, defaulting to 18.
func tokenDecimals(ctx context.Context, r storage.Reader, chainID uint64, token string) (uint8, error) {
	if token == "" {
		return defaultDecimals, nil
	}
	t, err := r.GetToken(ctx, chainID, token)
	if notFound(err) {
		return defaultDecimals, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get token %s: %w", token, err)
	}
	return t.Decimals, nil
}

// totalSupply returns the stored supply of token, or nil when unknown.
func totalSupply(ctx context.Context, r storage.Reader, chainID uint64, token string) (*big.Int, error) {
	t, err := r.GetToken(ctx, chainID, token)
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get token %s: %w", token, err)
	}
	return t.TotalSupply, nil
}

// getDailyVolume returns the stored window or a fresh one anchored at ts.
func getDailyVolume(ctx context.Context, r storage.Reader, chainID uint64, pool string, ts int64) (model.DailyVolume, error) {
	dv, err := r.GetDailyVolume(ctx, chainID, pool)
	if notFound(err) {
		return model.NewDailyVolume(chainID, pool, ts), nil
	}
	if err != nil {
		return model.DailyVolume{}, fmt.Errorf("get daily volume: %w", err)
	}
	return dv, nil
}

// volumePatches keeps pool, token and asset volume equal to the window total.
func volumePatches(volume *big.Int) (model.PoolPatch, model.TokenPatch, model.AssetPatch) {
	return model.PoolPatch{VolumeUSD: volume},
		model.TokenPatch{VolumeUSD: volume},
		model.AssetPatch{DayVolumeUSD: volume}
}

func applyAssetUpdate(ctx context.Context, tx storage.Tx, chainID uint64, asset string, patch model.AssetPatch) error {
	if asset == "" || patch.Empty() {
		return nil
	}
	err := tx.UpdateAsset(ctx, chainID, asset, patch)
	if notFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("update asset: %w", err)
	}
	return nil
}

func applyTokenUpdate(ctx context.Context, tx storage.Tx, chainID uint64, token string, patch model.TokenPatch) error {
	if token == "" || patch.Empty() {
		return nil
	}
	err := tx.UpdateToken(ctx, chainID, token, patch)
	if notFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("update token: %w", err)
	}
	return nil
}

func buildSnapshot(pool model.Pool, marketCap *big.Int, event string, ts int64) model.PoolSnapshot {
	return model.PoolSnapshot{
		ChainID:          pool.ChainID,
		Pool:             pool.Address,
		Asset:            pool.Asset,
		Event:            event,
		Timestamp:        ts,
		Price:            aggregate.FormatWAD(pool.Price),
		DollarLiquidity:  aggregate.FormatWAD(pool.DollarLiquidity),
		VolumeUSD:        aggregate.FormatWAD(pool.VolumeUSD),
		PercentDayChange: pool.PercentDayChange.StringFixed(4),
		MarketCapUSD:     aggregate.FormatWAD(marketCap),
	}
}

func int64Ptr(v int64) *int64    { return &v }
func uint64Ptr(v uint64) *uint64 { return &v }
func int32Ptr(v int32) *int32    { return &v }
func boolPtr(v bool) *bool       { return &v }
func stringPtr(v string) *string { return &v }
func decimalPtr(v decimal.Decimal) *decimal.Decimal {
	return &v
}
