package model

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Pool is the materialized state of a tracked AMM pool.
type Pool struct {
	ChainID     uint64 `json:"chain_id"`
	Address     string `json:"address"`
	Asset       string `json:"asset"`
	Numeraire   string `json:"numeraire"`
	IsToken0    bool   `json:"is_token0"`
	Fee         uint32 `json:"fee"`
	TickSpacing int32  `json:"tick_spacing"`

	Liquidity    *big.Int `json:"liquidity"`
	SqrtPriceX96 *big.Int `json:"sqrt_price_x96"`
	Tick         int32    `json:"tick"`
	Price        *big.Int `json:"price"`

	DollarLiquidity  *big.Int        `json:"dollar_liquidity"`
	VolumeUSD        *big.Int        `json:"volume_usd"`
	PercentDayChange decimal.Decimal `json:"percent_day_change"`

	GraduationThreshold *big.Int `json:"graduation_threshold"`
	GraduationBalance   *big.Int `json:"graduation_balance"`

	FeesToken0 *big.Int `json:"fees_token0"`
	FeesToken1 *big.Int `json:"fees_token1"`
	SwapCount  uint64   `json:"swap_count"`

	// Last known reserves, reused by the refresher when no new RPC read is done.
	AssetBalance *big.Int `json:"asset_balance"`
	QuoteBalance *big.Int `json:"quote_balance"`

	LastRefreshed     int64  `json:"last_refreshed"`
	LastSwapTimestamp int64  `json:"last_swap_timestamp"`
	CreatedAt         int64  `json:"created_at"`
	CreatedBlock      uint64 `json:"created_block"`
}

// NewPool returns a pool with every numeric field set to zero.
func NewPool(chainID uint64, address string) Pool {
	return Pool{
		ChainID:             chainID,
		Address:             NormalizeAddress(address),
		Liquidity:           new(big.Int),
		SqrtPriceX96:        new(big.Int),
		Price:               new(big.Int),
		DollarLiquidity:     new(big.Int),
		VolumeUSD:           new(big.Int),
		PercentDayChange:    decimal.Zero,
		GraduationThreshold: new(big.Int),
		GraduationBalance:   new(big.Int),
		FeesToken0:          new(big.Int),
		FeesToken1:          new(big.Int),
		AssetBalance:        new(big.Int),
		QuoteBalance:        new(big.Int),
	}
}

// Key returns the natural key of the pool.
func (p Pool) Key() Key {
	return Key{ChainID: p.ChainID, Address: p.Address}
}

// PoolPatch carries a partial update. Nil fields are left untouched.
type PoolPatch struct {
	Liquidity           *big.Int
	SqrtPriceX96        *big.Int
	Tick                *int32
	Price               *big.Int
	DollarLiquidity     *big.Int
	VolumeUSD           *big.Int
	PercentDayChange    *decimal.Decimal
	GraduationThreshold *big.Int
	GraduationBalance   *big.Int
	FeesToken0          *big.Int
	FeesToken1          *big.Int
	SwapCount           *uint64
	AssetBalance        *big.Int
	QuoteBalance        *big.Int
	LastRefreshed       *int64
	LastSwapTimestamp   *int64
}

// Empty reports whether the patch changes nothing.
func (p PoolPatch) Empty() bool {
	return p == PoolPatch{}
}

// Apply merges the patch into pool.
func (p PoolPatch) Apply(pool *Pool) {
	if p.Liquidity != nil {
		pool.Liquidity = p.Liquidity
	}
	if p.SqrtPriceX96 != nil {
		pool.SqrtPriceX96 = p.SqrtPriceX96
	}
	if p.Tick != nil {
		pool.Tick = *p.Tick
	}
	if p.Price != nil {
		pool.Price = p.Price
	}
	if p.DollarLiquidity != nil {
		pool.DollarLiquidity = p.DollarLiquidity
	}
	if p.VolumeUSD != nil {
		pool.VolumeUSD = p.VolumeUSD
	}
	if p.PercentDayChange != nil {
		pool.PercentDayChange = *p.PercentDayChange
	}
	if p.GraduationThreshold != nil {
		pool.GraduationThreshold = p.GraduationThreshold
	}
	if p.GraduationBalance != nil {
		pool.GraduationBalance = p.GraduationBalance
	}
	if p.FeesToken0 != nil {
		pool.FeesToken0 = p.FeesToken0
	}
	if p.FeesToken1 != nil {
		pool.FeesToken1 = p.FeesToken1
	}
	if p.SwapCount != nil {
		pool.SwapCount = *p.SwapCount
	}
	if p.AssetBalance != nil {
		pool.AssetBalance = p.AssetBalance
	}
	if p.QuoteBalance != nil {
		pool.QuoteBalance = p.QuoteBalance
	}
	if p.LastRefreshed != nil {
		pool.LastRefreshed = *p.LastRefreshed
	}
	if p.LastSwapTimestamp != nil {
		pool.LastSwapTimestamp = *p.LastSwapTimestamp
	}
}

// MigrationPool is the destination pair materialized when an asset migrates.
type MigrationPool struct {
	ChainID    uint64 `json:"chain_id"`
	Address    string `json:"address"`
	Asset      string `json:"asset"`
	Numeraire  string `json:"numeraire"`
	ParentPool string `json:"parent_pool"`
	CreatedAt  int64  `json:"created_at"`
}
