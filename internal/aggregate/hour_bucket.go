package aggregate

import (
	"math/big"

	"github.com/shopspring/decimal"

	"poolScope/internal/model"
)

// HourSeconds is the width of an OHLC bucket.
const HourSeconds int64 = 3600

var hundred = decimal.NewFromInt(100)

// HourID floors ts to the start of its hour.
func HourID(ts int64) int64 {
	id := ts / HourSeconds * HourSeconds
	if ts < 0 && ts%HourSeconds != 0 {
		id -= HourSeconds
	}
	return id
}

// RecordPrice folds usdPrice into the bucket for its hour. existing must be the
// stored bucket for that hour or nil. Re-applying the last event is a no-op.
func RecordPrice(existing *model.HourBucket, chainID uint64, pool string, usdPrice *big.Int, ts int64, eventID string) model.HourBucket {
	if existing == nil {
		return model.HourBucket{
			ChainID:   chainID,
			Pool:      model.NormalizeAddress(pool),
			HourID:    HourID(ts),
			Open:      new(big.Int).Set(usdPrice),
			Close:     new(big.Int).Set(usdPrice),
			Low:       new(big.Int).Set(usdPrice),
			High:      new(big.Int).Set(usdPrice),
			Average:   new(big.Int).Set(usdPrice),
			Count:     1,
			LastEvent: eventID,
		}
	}

	out := *existing
	if eventID != "" && out.LastEvent == eventID {
		return out
	}

	out.Close = new(big.Int).Set(usdPrice)
	if usdPrice.Cmp(out.Low) < 0 {
		out.Low = new(big.Int).Set(usdPrice)
	}
	if usdPrice.Cmp(out.High) > 0 {
		out.High = new(big.Int).Set(usdPrice)
	}

	// integer average, truncating on every step
	count := new(big.Int).SetUint64(out.Count)
	avg := new(big.Int).Mul(out.Average, count)
	avg.Add(avg, usdPrice)
	avg.Quo(avg, count.Add(count, big.NewInt(1)))
	out.Average = avg
	out.Count++
	out.LastEvent = eventID
	return out
}

// ChangeTolerance is the search radius around now-24h for the reference bucket.
func ChangeTolerance(createdAt, now int64) int64 {
	if now-createdAt < DayWindow {
		return DayWindow
	}
	return HourSeconds
}

// PercentChange returns (current-open)/open*100, or zero when it is undefined.
func PercentChange(current, open *big.Int) decimal.Decimal {
	if current == nil || open == nil || open.Sign() == 0 {
		return decimal.Zero
	}
	diff := decimal.NewFromBigInt(new(big.Int).Sub(current, open), 0)
	return diff.Mul(hundred).Div(decimal.NewFromBigInt(open, 0))
}
