package aggregate

import (
	"fmt"
	"math/big"

	"github.com/daoleno/uniswapv3-sdk/utils"
)

// Positions this close to the global tick bounds are full-range positions and
// do not count toward graduation.
const fullRangeBuffer = 100

// IsFullRange reports whether a position spans (almost) the whole tick range.
func IsFullRange(tickLower, tickUpper int32) bool {
	return int(tickLower)-utils.MinTick <= fullRangeBuffer || utils.MaxTick-int(tickUpper) <= fullRangeBuffer
}

// GraduationDelta returns the numeraire-side amount of a liquidity position
// evaluated at its own tick bounds: token1 when the asset is token0, token0 otherwise.
// Rounding is always down so a burn exactly cancels the matching mint.
func GraduationDelta(tickLower, tickUpper int32, liquidity *big.Int, isToken0 bool) (*big.Int, error) {
	if liquidity == nil || liquidity.Sign() == 0 {
		return new(big.Int), nil
	}
	if tickLower >= tickUpper {
		return nil, fmt.Errorf("invalid tick range [%d, %d]", tickLower, tickUpper)
	}
	if IsFullRange(tickLower, tickUpper) {
		return new(big.Int), nil
	}

	sqrtLower, err := utils.GetSqrtRatioAtTick(int(tickLower))
	if err != nil {
		return nil, fmt.Errorf("sqrt ratio at tick %d: %w", tickLower, err)
	}
	sqrtUpper, err := utils.GetSqrtRatioAtTick(int(tickUpper))
	if err != nil {
		return nil, fmt.Errorf("sqrt ratio at tick %d: %w", tickUpper, err)
	}

	liq := new(big.Int).Abs(liquidity)
	if isToken0 {
		return utils.GetAmount1Delta(sqrtLower, sqrtUpper, liq, false), nil
	}
	return utils.GetAmount0Delta(sqrtLower, sqrtUpper, liq, false), nil
}
