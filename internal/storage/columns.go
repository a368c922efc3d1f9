package storage

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"poolScope/internal/model"
)

// Assignment is one column write derived from a partial patch.
// Big integers are persisted as base-10 text.
type Assignment struct {
	Column string
	Value  any
}

// PoolAssignments lists the columns a pool patch touches.
func PoolAssignments(p model.PoolPatch) []Assignment {
	var out []Assignment
	out = appendBig(out, "liquidity", p.Liquidity)
	out = appendBig(out, "sqrt_price_x96", p.SqrtPriceX96)
	if p.Tick != nil {
		out = append(out, Assignment{"tick", int64(*p.Tick)})
	}
	out = appendBig(out, "price", p.Price)
	out = appendBig(out, "dollar_liquidity", p.DollarLiquidity)
	out = appendBig(out, "volume_usd", p.VolumeUSD)
	if p.PercentDayChange != nil {
		out = append(out, Assignment{"percent_day_change", p.PercentDayChange.String()})
	}
	out = appendBig(out, "graduation_threshold", p.GraduationThreshold)
	out = appendBig(out, "graduation_balance", p.GraduationBalance)
	out = appendBig(out, "fees_token0", p.FeesToken0)
	out = appendBig(out, "fees_token1", p.FeesToken1)
	if p.SwapCount != nil {
		out = append(out, Assignment{"swap_count", int64(*p.SwapCount)})
	}
	out = appendBig(out, "asset_balance", p.AssetBalance)
	out = appendBig(out, "quote_balance", p.QuoteBalance)
	if p.LastRefreshed != nil {
		out = append(out, Assignment{"last_refreshed", *p.LastRefreshed})
	}
	if p.LastSwapTimestamp != nil {
		out = append(out, Assignment{"last_swap_timestamp", *p.LastSwapTimestamp})
	}
	return out
}

// AssetAssignments lists the columns an asset patch touches.
func AssetAssignments(p model.AssetPatch) []Assignment {
	var out []Assignment
	out = appendString(out, "pool", p.Pool)
	out = appendString(out, "numeraire", p.Numeraire)
	out = appendString(out, "governance", p.Governance)
	out = appendString(out, "timelock", p.Timelock)
	out = appendString(out, "migrator", p.Migrator)
	out = appendString(out, "integrator", p.Integrator)
	if p.HolderCount != nil {
		out = append(out, Assignment{"holder_count", int64(*p.HolderCount)})
	}
	out = appendBig(out, "liquidity_usd", p.LiquidityUSD)
	out = appendBig(out, "market_cap_usd", p.MarketCapUSD)
	out = appendBig(out, "day_volume_usd", p.DayVolumeUSD)
	if p.Migrated != nil {
		out = append(out, Assignment{"migrated", *p.Migrated})
	}
	if p.MigratedAt != nil {
		out = append(out, Assignment{"migrated_at", *p.MigratedAt})
	}
	out = appendString(out, "migration_pool", p.MigrationPool)
	if p.CreatedAt != nil {
		out = append(out, Assignment{"created_at", *p.CreatedAt})
	}
	return out
}

// TokenAssignments lists the columns a token patch touches.
func TokenAssignments(p model.TokenPatch) []Assignment {
	var out []Assignment
	out = appendBig(out, "total_supply", p.TotalSupply)
	if p.HolderCount != nil {
		out = append(out, Assignment{"holder_count", int64(*p.HolderCount)})
	}
	out = appendBig(out, "volume_usd", p.VolumeUSD)
	return out
}

func appendBig(out []Assignment, column string, v *big.Int) []Assignment {
	if v == nil {
		return out
	}
	return append(out, Assignment{column, v.String()})
}

func appendString(out []Assignment, column string, v *string) []Assignment {
	if v == nil {
		return out
	}
	return append(out, Assignment{column, model.NormalizeAddress(*v)})
}

// BigText renders a nullable big integer for a text column.
func BigText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// ParseBig parses a text column written by BigText.
func ParseBig(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return v, nil
}

// ParseDecimal parses a text column holding a decimal.
func ParseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// EncodeCheckpoints serializes an ordered checkpoint list.
func EncodeCheckpoints(cps []model.Checkpoint) ([]byte, error) {
	if cps == nil {
		cps = []model.Checkpoint{}
	}
	data, err := json.Marshal(cps)
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoints: %w", err)
	}
	return data, nil
}

// DecodeCheckpoints parses EncodeCheckpoints output.
func DecodeCheckpoints(data []byte) ([]model.Checkpoint, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var cps []model.Checkpoint
	if err := json.Unmarshal(data, &cps); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoints: %w", err)
	}
	return cps, nil
}

// BigScanner collects text columns into big integers, keeping the first error.
type BigScanner struct {
	Err error
}

// Big parses s, recording the first failure.
func (b *BigScanner) Big(s string) *big.Int {
	v, err := ParseBig(s)
	if err != nil {
		if b.Err == nil {
			b.Err = err
		}
		return new(big.Int)
	}
	return v
}

// Decimal parses s, recording the first failure.
func (b *BigScanner) Decimal(s string) decimal.Decimal {
	v, err := ParseDecimal(s)
	if err != nil {
		if b.Err == nil {
			b.Err = err
		}
		return decimal.Zero
	}
	return v
}
