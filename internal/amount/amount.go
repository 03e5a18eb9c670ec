// Package amount converts between raw on-chain integer amounts and token-unit decimals.
package amount

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// FromRaw scales a raw integer amount down by 10^decimals.
func FromRaw(value *big.Int, decimals uint8) decimal.Decimal {
	if value == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(value, -int32(decimals))
}

// ToRaw scales a token-unit amount back to base units, rounding half away from zero.
func ToRaw(value decimal.Decimal, decimals uint8) *big.Int {
	return value.Shift(int32(decimals)).Round(0).BigInt()
}

// Abs returns |FromRaw(value, decimals)|.
func Abs(value *big.Int, decimals uint8) decimal.Decimal {
	return FromRaw(value, decimals).Abs()
}

// Split returns the positive part of a signed raw amount as inflow and the magnitude of the
// negative part as outflow.
func Split(value decimal.Decimal) (inflow, outflow decimal.Decimal) {
	if value.IsNegative() {
		return decimal.Zero, value.Neg()
	}
	return value, decimal.Zero
}
