package aggregate

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// FormatFixed renders a fixed-point integer with the given number of decimals.
func FormatFixed(value *big.Int, decimals int32) string {
	if value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(value, -decimals).String()
}

// FormatWAD renders an 18 decimal value.
func FormatWAD(value *big.Int) string {
	return FormatFixed(value, 18)
}
