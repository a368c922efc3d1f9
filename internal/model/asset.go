package model

import "math/big"

// Asset is a token launched through the protocol.
type Asset struct {
	ChainID    uint64 `json:"chain_id"`
	Address    string `json:"address"`
	Pool       string `json:"pool"`
	Numeraire  string `json:"numeraire"`
	Governance string `json:"governance"`
	Timelock   string `json:"timelock"`
	Migrator   string `json:"migrator"`
	Integrator string `json:"integrator"`

	HolderCount  uint64   `json:"holder_count"`
	LiquidityUSD *big.Int `json:"liquidity_usd"`
	MarketCapUSD *big.Int `json:"market_cap_usd"`
	DayVolumeUSD *big.Int `json:"day_volume_usd"`

	Migrated      bool   `json:"migrated"`
	MigratedAt    int64  `json:"migrated_at"`
	MigrationPool string `json:"migration_pool"`
	CreatedAt     int64  `json:"created_at"`
}

// NewAsset returns an asset with zeroed metrics.
func NewAsset(chainID uint64, address string) Asset {
	return Asset{
		ChainID:      chainID,
		Address:      NormalizeAddress(address),
		LiquidityUSD: new(big.Int),
		MarketCapUSD: new(big.Int),
		DayVolumeUSD: new(big.Int),
	}
}

// AssetPatch carries a partial asset update.
type AssetPatch struct {
	Pool          *string
	Numeraire     *string
	Governance    *string
	Timelock      *string
	Migrator      *string
	Integrator    *string
	HolderCount   *uint64
	LiquidityUSD  *big.Int
	MarketCapUSD  *big.Int
	DayVolumeUSD  *big.Int
	Migrated      *bool
	MigratedAt    *int64
	MigrationPool *string
	CreatedAt     *int64
}

func (p AssetPatch) Empty() bool {
	return p == AssetPatch{}
}

func (p AssetPatch) Apply(asset *Asset) {
	if p.Pool != nil {
		asset.Pool = *p.Pool
	}
	if p.Numeraire != nil {
		asset.Numeraire = *p.Numeraire
	}
	if p.Governance != nil {
		asset.Governance = *p.Governance
	}
	if p.Timelock != nil {
		asset.Timelock = *p.Timelock
	}
	if p.Migrator != nil {
		asset.Migrator = *p.Migrator
	}
	if p.Integrator != nil {
		asset.Integrator = *p.Integrator
	}
	if p.HolderCount != nil {
		asset.HolderCount = *p.HolderCount
	}
	if p.LiquidityUSD != nil {
		asset.LiquidityUSD = p.LiquidityUSD
	}
	if p.MarketCapUSD != nil {
		asset.MarketCapUSD = p.MarketCapUSD
	}
	if p.DayVolumeUSD != nil {
		asset.DayVolumeUSD = p.DayVolumeUSD
	}
	if p.Migrated != nil {
		asset.Migrated = *p.Migrated
	}
	if p.MigratedAt != nil {
		asset.MigratedAt = *p.MigratedAt
	}
	if p.MigrationPool != nil {
		asset.MigrationPool = *p.MigrationPool
	}
	if p.CreatedAt != nil {
		asset.CreatedAt = *p.CreatedAt
	}
}
