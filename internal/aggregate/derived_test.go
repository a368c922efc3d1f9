package aggregate

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

var q96 = new(big.Int).Lsh(big.NewInt(1), 96)

func TestPriceAtParity(t *testing.T) {
	assertBigEqual(t, WAD, Price(q96, true, 18))
	assertBigEqual(t, WAD, Price(q96, false, 18))
}

func TestPriceDirection(t *testing.T) {
	sqrt := new(big.Int).Mul(q96, big.NewInt(2))
	assertBigEqual(t, wad(4), Price(sqrt, true, 18))
	assertBigEqual(t, new(big.Int).Quo(WAD, big.NewInt(4)), Price(sqrt, false, 18))
}

func TestPriceZeroPanics(t *testing.T) {
	assert.Panics(t, func() { Price(new(big.Int), false, 18) })
	assert.Panics(t, func() { Price(nil, true, 18) })
}

func TestDollarLiquidity(t *testing.T) {
	eth := big.NewInt(2000 * 100_000_000)
	price := new(big.Int).Quo(WAD, big.NewInt(2))

	got := DollarLiquidity(wad(1000), wad(10), price, eth)
	assertBigEqual(t, wad(1_020_000), got)

	assert.Equal(t, 0, DollarLiquidity(wad(1000), wad(10), price, nil).Sign())
	assert.Equal(t, 0, DollarLiquidity(wad(1000), wad(10), price, new(big.Int)).Sign())
}

func TestMarketCap(t *testing.T) {
	eth := big.NewInt(2000 * 100_000_000)
	price := new(big.Int).Quo(WAD, big.NewInt(2))

	assertBigEqual(t, wad(1_000_000_000_000), MarketCap(price, wad(1_000_000_000), eth))
	assert.Equal(t, 0, MarketCap(new(big.Int), wad(1), eth).Sign())
	assert.Equal(t, 0, MarketCap(price, wad(1), nil).Sign())
}

func TestUSDValue(t *testing.T) {
	eth := big.NewInt(3000 * 100_000_000)
	assertBigEqual(t, wad(3000), USDValue(new(big.Int).Neg(WAD), eth))
	assert.Equal(t, 0, USDValue(WAD, nil).Sign())
}

func TestFeeFromAmount(t *testing.T) {
	assertBigEqual(t, big.NewInt(3000), FeeFromAmount(big.NewInt(-1_000_000), 3000))
	assertBigEqual(t, big.NewInt(0), FeeFromAmount(nil, 3000))
}

func TestFormatFixed(t *testing.T) {
	assert.Equal(t, "1.5", FormatFixed(big.NewInt(15), 1))
	assert.Equal(t, "1", FormatWAD(WAD))
	assert.Equal(t, "0", FormatWAD(nil))
}
