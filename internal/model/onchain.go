package model

import "math/big"

// PoolState is the live AMM state of a pool at a block.
type PoolState struct {
	SqrtPriceX96 *big.Int
	Tick         int32
	Liquidity    *big.Int
}

// PoolConfig holds the immutable parameters of a pool.
type PoolConfig struct {
	Token0      string
	Token1      string
	Fee         uint32
	TickSpacing int32
}

// AssetData is the launch metadata the Airlock keeps for an asset.
type AssetData struct {
	Numeraire         string
	Timelock          string
	Governance        string
	LiquidityMigrator string
	PoolInitializer   string
	Pool              string
	MigrationPool     string
	NumTokensToSell   *big.Int
	TotalSupply       *big.Int
	Integrator        string
}
