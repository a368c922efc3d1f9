package aggregate

import "math/big"

// FeeFromAmount returns the fee charged on an input amount for a fee tier in hundredths of a bip.
func FeeFromAmount(amountIn *big.Int, feeRate uint32) *big.Int {
	if amountIn == nil {
		return big.NewInt(0)
	}
	fee := new(big.Int).Abs(amountIn)
	fee.Mul(fee, big.NewInt(int64(feeRate)))
	fee.Div(fee, big.NewInt(1_000_000))
	return fee
}
