package aggregate

import (
	"math/big"
)

var (
	// WAD is the 18 decimal fixed-point scale used for prices and USD values.
	WAD = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	// ETHDecimals is the fixed-point scale of the ETH/USD oracle.
	ETHDecimals = big.NewInt(100_000_000)

	q192 = new(big.Int).Lsh(big.NewInt(1), 192)
)

// Price converts a sqrtPriceX96 into the asset price in numeraire units scaled by 10^decimals.
// A zero sqrt price is a caller bug and panics.
func Price(sqrtPriceX96 *big.Int, isToken0 bool, decimals uint8) *big.Int {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() <= 0 {
		panic("aggregate: price of zero sqrtPriceX96")
	}
	ratio := new(big.Int).Mul(sqrtPriceX96, sqrtPriceX96)
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	if isToken0 {
		out := new(big.Int).Mul(ratio, scale)
		return out.Quo(out, q192)
	}
	out := new(big.Int).Mul(q192, scale)
	return out.Quo(out, ratio)
}

// USDValue converts a WAD-scaled numeraire amount into WAD-scaled USD.
// Returns 0 when the oracle price is unavailable.
func USDValue(amount, ethPrice *big.Int) *big.Int {
	if amount == nil || !available(ethPrice) {
		return new(big.Int)
	}
	out := new(big.Int).Abs(amount)
	out.Mul(out, ethPrice)
	return out.Quo(out, ETHDecimals)
}

// DollarLiquidity values both pool reserves in USD.
func DollarLiquidity(assetBalance, quoteBalance, price, ethPrice *big.Int) *big.Int {
	if !available(ethPrice) {
		return new(big.Int)
	}
	total := new(big.Int)
	if assetBalance != nil && price != nil {
		assetValue := new(big.Int).Mul(assetBalance, price)
		assetValue.Quo(assetValue, WAD)
		assetValue.Mul(assetValue, ethPrice)
		assetValue.Quo(assetValue, ETHDecimals)
		total.Add(total, assetValue)
	}
	if quoteBalance != nil {
		quoteValue := new(big.Int).Mul(quoteBalance, ethPrice)
		quoteValue.Quo(quoteValue, ETHDecimals)
		total.Add(total, quoteValue)
	}
	return total
}

// MarketCap returns the fully diluted USD market cap, or 0 before the first price.
func MarketCap(price, totalSupply, ethPrice *big.Int) *big.Int {
	if price == nil || price.Sign() == 0 || totalSupply == nil || !available(ethPrice) {
		return new(big.Int)
	}
	out := new(big.Int).Mul(price, totalSupply)
	out.Quo(out, WAD)
	out.Mul(out, ethPrice)
	return out.Quo(out, ETHDecimals)
}

func available(ethPrice *big.Int) bool {
	return ethPrice != nil && ethPrice.Sign() > 0
}
