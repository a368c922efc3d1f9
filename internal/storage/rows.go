package storage

import (
	"strings"

	"poolScope/internal/model"
)

// RowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type RowScanner interface {
	Scan(dest ...any) error
}

// Column lists shared by the SQL backends. Scan* functions expect this order.
var (
	PoolColumns = []string{
		"chain_id", "address", "asset", "numeraire", "is_token0", "fee", "tick_spacing",
		"liquidity", "sqrt_price_x96", "tick", "price", "dollar_liquidity", "volume_usd",
		"percent_day_change", "graduation_threshold", "graduation_balance",
		"fees_token0", "fees_token1", "swap_count", "asset_balance", "quote_balance",
		"last_refreshed", "last_swap_timestamp", "created_at", "created_block",
	}
	AssetColumns = []string{
		"chain_id", "address", "pool", "numeraire", "governance", "timelock", "migrator",
		"integrator", "holder_count", "liquidity_usd", "market_cap_usd", "day_volume_usd",
		"migrated", "migrated_at", "migration_pool", "created_at",
	}
	TokenColumns = []string{
		"chain_id", "address", "name", "symbol", "decimals", "total_supply", "holder_count", "volume_usd",
	}
	DailyVolumeColumns = []string{
		"chain_id", "pool", "checkpoints", "volume_usd", "earliest_checkpoint", "last_updated", "inactive",
	}
	HourBucketColumns = []string{
		"chain_id", "pool", "hour_id", "open", "close", "low", "high", "average", "count", "last_event",
	}
	PositionColumns = []string{
		"chain_id", "pool", "owner", "tick_lower", "tick_upper", "liquidity", "created_at", "updated_at",
	}
	UserAssetColumns = []string{
		"chain_id", "user_address", "asset", "balance", "updated_at",
	}
	MigrationPoolColumns = []string{
		"chain_id", "address", "asset", "numeraire", "parent_pool", "created_at",
	}
)

// Columns joins a column list, optionally qualified by a table alias.
func Columns(cols []string, alias string) string {
	if alias == "" {
		return strings.Join(cols, ", ")
	}
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = alias + "." + c
	}
	return strings.Join(out, ", ")
}

// PoolValues returns insert arguments in PoolColumns order.
func PoolValues(p model.Pool) []any {
	return []any{
		int64(p.ChainID), model.NormalizeAddress(p.Address), model.NormalizeAddress(p.Asset),
		model.NormalizeAddress(p.Numeraire), p.IsToken0, int64(p.Fee), p.TickSpacing,
		BigText(p.Liquidity), BigText(p.SqrtPriceX96), p.Tick, BigText(p.Price),
		BigText(p.DollarLiquidity), BigText(p.VolumeUSD), p.PercentDayChange.String(),
		BigText(p.GraduationThreshold), BigText(p.GraduationBalance),
		BigText(p.FeesToken0), BigText(p.FeesToken1), int64(p.SwapCount),
		BigText(p.AssetBalance), BigText(p.QuoteBalance),
		p.LastRefreshed, p.LastSwapTimestamp, p.CreatedAt, int64(p.CreatedBlock),
	}
}

func ScanPool(row RowScanner) (model.Pool, error) {
	var (
		p                                                      model.Pool
		chainID, fee, swaps, block                             int64
		liq, sqrt, price, dl, vol, pct, gt, gb, f0, f1, ab, qb string
	)
	err := row.Scan(&chainID, &p.Address, &p.Asset, &p.Numeraire, &p.IsToken0, &fee, &p.TickSpacing,
		&liq, &sqrt, &p.Tick, &price, &dl, &vol, &pct, &gt, &gb, &f0, &f1, &swaps, &ab, &qb,
		&p.LastRefreshed, &p.LastSwapTimestamp, &p.CreatedAt, &block)
	if err != nil {
		return model.Pool{}, err
	}
	var bs BigScanner
	p.ChainID = uint64(chainID)
	p.Fee = uint32(fee)
	p.SwapCount = uint64(swaps)
	p.CreatedBlock = uint64(block)
	p.Liquidity = bs.Big(liq)
	p.SqrtPriceX96 = bs.Big(sqrt)
	p.Price = bs.Big(price)
	p.DollarLiquidity = bs.Big(dl)
	p.VolumeUSD = bs.Big(vol)
	p.PercentDayChange = bs.Decimal(pct)
	p.GraduationThreshold = bs.Big(gt)
	p.GraduationBalance = bs.Big(gb)
	p.FeesToken0 = bs.Big(f0)
	p.FeesToken1 = bs.Big(f1)
	p.AssetBalance = bs.Big(ab)
	p.QuoteBalance = bs.Big(qb)
	return p, bs.Err
}

func AssetValues(a model.Asset) []any {
	return []any{
		int64(a.ChainID), model.NormalizeAddress(a.Address), model.NormalizeAddress(a.Pool),
		model.NormalizeAddress(a.Numeraire), model.NormalizeAddress(a.Governance),
		model.NormalizeAddress(a.Timelock), model.NormalizeAddress(a.Migrator),
		model.NormalizeAddress(a.Integrator), int64(a.HolderCount),
		BigText(a.LiquidityUSD), BigText(a.MarketCapUSD), BigText(a.DayVolumeUSD),
		a.Migrated, a.MigratedAt, model.NormalizeAddress(a.MigrationPool), a.CreatedAt,
	}
}

func ScanAsset(row RowScanner) (model.Asset, error) {
	var (
		a                 model.Asset
		chainID, holders  int64
		liq, mcap, dayVol string
	)
	err := row.Scan(&chainID, &a.Address, &a.Pool, &a.Numeraire, &a.Governance, &a.Timelock,
		&a.Migrator, &a.Integrator, &holders, &liq, &mcap, &dayVol,
		&a.Migrated, &a.MigratedAt, &a.MigrationPool, &a.CreatedAt)
	if err != nil {
		return model.Asset{}, err
	}
	var bs BigScanner
	a.ChainID = uint64(chainID)
	a.HolderCount = uint64(holders)
	a.LiquidityUSD = bs.Big(liq)
	a.MarketCapUSD = bs.Big(mcap)
	a.DayVolumeUSD = bs.Big(dayVol)
	return a, bs.Err
}

func TokenValues(t model.Token) []any {
	return []any{
		int64(t.ChainID), model.NormalizeAddress(t.Address), t.Name, t.Symbol, int64(t.Decimals),
		BigText(t.TotalSupply), int64(t.HolderCount), BigText(t.VolumeUSD),
	}
}

func ScanToken(row RowScanner) (model.Token, error) {
	var (
		t                          model.Token
		chainID, decimals, holders int64
		supply, vol                string
	)
	if err := row.Scan(&chainID, &t.Address, &t.Name, &t.Symbol, &decimals, &supply, &holders, &vol); err != nil {
		return model.Token{}, err
	}
	var bs BigScanner
	t.ChainID = uint64(chainID)
	t.Decimals = uint8(decimals)
	t.HolderCount = uint64(holders)
	t.TotalSupply = bs.Big(supply)
	t.VolumeUSD = bs.Big(vol)
	return t, bs.Err
}

// DailyVolumeValues returns arguments in DailyVolumeColumns order, with
// checkpoints encoded as a JSON string.
func DailyVolumeValues(dv model.DailyVolume) ([]any, error) {
	cps, err := EncodeCheckpoints(dv.Checkpoints)
	if err != nil {
		return nil, err
	}
	return []any{
		int64(dv.ChainID), model.NormalizeAddress(dv.Pool), string(cps), BigText(dv.VolumeUSD),
		dv.EarliestCheckpoint, dv.LastUpdated, dv.Inactive,
	}, nil
}

func ScanDailyVolume(row RowScanner) (model.DailyVolume, error) {
	var (
		dv      model.DailyVolume
		chainID int64
		cps     []byte
		vol     string
	)
	if err := row.Scan(&chainID, &dv.Pool, &cps, &vol, &dv.EarliestCheckpoint, &dv.LastUpdated, &dv.Inactive); err != nil {
		return model.DailyVolume{}, err
	}
	checkpoints, err := DecodeCheckpoints(cps)
	if err != nil {
		return model.DailyVolume{}, err
	}
	var bs BigScanner
	dv.ChainID = uint64(chainID)
	dv.Checkpoints = checkpoints
	dv.VolumeUSD = bs.Big(vol)
	return dv, bs.Err
}

func HourBucketValues(b model.HourBucket) []any {
	return []any{
		int64(b.ChainID), model.NormalizeAddress(b.Pool), b.HourID,
		BigText(b.Open), BigText(b.Close), BigText(b.Low), BigText(b.High), BigText(b.Average),
		int64(b.Count), b.LastEvent,
	}
}

func ScanHourBucket(row RowScanner) (model.HourBucket, error) {
	var (
		b                                model.HourBucket
		chainID, count                   int64
		open, closePrice, low, high, avg string
	)
	if err := row.Scan(&chainID, &b.Pool, &b.HourID, &open, &closePrice, &low, &high, &avg, &count, &b.LastEvent); err != nil {
		return model.HourBucket{}, err
	}
	var bs BigScanner
	b.ChainID = uint64(chainID)
	b.Count = uint64(count)
	b.Open = bs.Big(open)
	b.Close = bs.Big(closePrice)
	b.Low = bs.Big(low)
	b.High = bs.Big(high)
	b.Average = bs.Big(avg)
	return b, bs.Err
}

func PositionValues(p model.Position) []any {
	return []any{
		int64(p.ChainID), model.NormalizeAddress(p.Pool), model.NormalizeAddress(p.Owner),
		p.TickLower, p.TickUpper, BigText(p.Liquidity), p.CreatedAt, p.UpdatedAt,
	}
}

func ScanPosition(row RowScanner) (model.Position, error) {
	var (
		p       model.Position
		chainID int64
		liq     string
	)
	if err := row.Scan(&chainID, &p.Pool, &p.Owner, &p.TickLower, &p.TickUpper, &liq, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return model.Position{}, err
	}
	var bs BigScanner
	p.ChainID = uint64(chainID)
	p.Liquidity = bs.Big(liq)
	return p, bs.Err
}

func UserAssetValues(ua model.UserAsset) []any {
	return []any{
		int64(ua.ChainID), model.NormalizeAddress(ua.User), model.NormalizeAddress(ua.Asset),
		BigText(ua.Balance), ua.UpdatedAt,
	}
}

func ScanUserAsset(row RowScanner) (model.UserAsset, error) {
	var (
		ua      model.UserAsset
		chainID int64
		bal     string
	)
	if err := row.Scan(&chainID, &ua.User, &ua.Asset, &bal, &ua.UpdatedAt); err != nil {
		return model.UserAsset{}, err
	}
	var bs BigScanner
	ua.ChainID = uint64(chainID)
	ua.Balance = bs.Big(bal)
	return ua, bs.Err
}

func MigrationPoolValues(mp model.MigrationPool) []any {
	return []any{
		int64(mp.ChainID), model.NormalizeAddress(mp.Address), model.NormalizeAddress(mp.Asset),
		model.NormalizeAddress(mp.Numeraire), model.NormalizeAddress(mp.ParentPool), mp.CreatedAt,
	}
}

func ScanMigrationPool(row RowScanner) (model.MigrationPool, error) {
	var (
		mp      model.MigrationPool
		chainID int64
	)
	if err := row.Scan(&chainID, &mp.Address, &mp.Asset, &mp.Numeraire, &mp.ParentPool, &mp.CreatedAt); err != nil {
		return model.MigrationPool{}, err
	}
	mp.ChainID = uint64(chainID)
	return mp, nil
}

func ScanEthPrice(row RowScanner) (model.EthPrice, error) {
	var (
		ep      model.EthPrice
		chainID int64
		price   string
	)
	if err := row.Scan(&chainID, &ep.Timestamp, &price); err != nil {
		return model.EthPrice{}, err
	}
	var bs BigScanner
	ep.ChainID = uint64(chainID)
	ep.Price = bs.Big(price)
	return ep, bs.Err
}
