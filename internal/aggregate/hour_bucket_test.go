package aggregate

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poolScope/internal/model"
)

func TestHourID(t *testing.T) {
	assert.Equal(t, int64(0), HourID(0))
	assert.Equal(t, int64(0), HourID(3599))
	assert.Equal(t, int64(3600), HourID(7199))
	assert.Equal(t, int64(-3600), HourID(-1))
	assert.Equal(t, int64(1_699_999_200), HourID(1_700_000_000))
}

func TestRecordPriceOHLC(t *testing.T) {
	var bucket *model.HourBucket
	prices := []int64{100, 50, 200, 120}
	for i, p := range prices {
		next := RecordPrice(bucket, 1, "0xPool", big.NewInt(p), 3600+int64(i), string(rune('a'+i)))
		bucket = &next
	}

	require.NotNil(t, bucket)
	assert.Equal(t, "0xpool", bucket.Pool)
	assert.Equal(t, int64(3600), bucket.HourID)
	assertBigEqual(t, big.NewInt(100), bucket.Open)
	assertBigEqual(t, big.NewInt(120), bucket.Close)
	assertBigEqual(t, big.NewInt(50), bucket.Low)
	assertBigEqual(t, big.NewInt(200), bucket.High)
	// 100 -> 75 -> 116 -> 117 with truncation at every step
	assertBigEqual(t, big.NewInt(117), bucket.Average)
	assert.Equal(t, uint64(4), bucket.Count)
}

func TestRecordPriceReplayIsNoop(t *testing.T) {
	first := RecordPrice(nil, 1, "0xpool", big.NewInt(10), 0, "e1")
	second := RecordPrice(&first, 1, "0xpool", big.NewInt(30), 1, "e2")
	replay := RecordPrice(&second, 1, "0xpool", big.NewInt(30), 1, "e2")

	assert.Equal(t, second, replay)
	assert.Equal(t, uint64(2), replay.Count)
}

func TestRecordPriceBoundsHold(t *testing.T) {
	seq := []int64{500, 499, 1, 1000, 3, 3, 999, 250, 251, 7}
	var bucket *model.HourBucket
	for i, p := range seq {
		next := RecordPrice(bucket, 1, "0xpool", big.NewInt(p), 0, string(rune('a'+i)))
		bucket = &next

		assert.LessOrEqual(t, bucket.Low.Cmp(bucket.Open), 0)
		assert.LessOrEqual(t, bucket.Low.Cmp(bucket.Close), 0)
		assert.GreaterOrEqual(t, bucket.High.Cmp(bucket.Open), 0)
		assert.GreaterOrEqual(t, bucket.High.Cmp(bucket.Close), 0)
		assert.LessOrEqual(t, bucket.Low.Cmp(bucket.Average), 0)
		assert.GreaterOrEqual(t, bucket.High.Cmp(bucket.Average), 0)
	}
}

func TestRecordPriceDoesNotAliasInput(t *testing.T) {
	price := big.NewInt(10)
	bucket := RecordPrice(nil, 1, "0xpool", price, 0, "a")
	price.SetInt64(99)
	assertBigEqual(t, big.NewInt(10), bucket.Open)
}

func TestPercentChange(t *testing.T) {
	got := PercentChange(big.NewInt(150), big.NewInt(100))
	assert.True(t, got.Equal(decimal.NewFromInt(50)), got.String())

	got = PercentChange(big.NewInt(75), big.NewInt(100))
	assert.True(t, got.Equal(decimal.NewFromInt(-25)), got.String())

	assert.True(t, PercentChange(big.NewInt(10), big.NewInt(0)).IsZero())
	assert.True(t, PercentChange(big.NewInt(10), nil).IsZero())
}

func TestChangeTolerance(t *testing.T) {
	assert.Equal(t, DayWindow, ChangeTolerance(0, 3600))
	assert.Equal(t, HourSeconds, ChangeTolerance(0, DayWindow))
	assert.Equal(t, HourSeconds, ChangeTolerance(0, 2*DayWindow))
}
