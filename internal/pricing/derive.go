package pricing

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// ratioScale is the number of fractional digits kept on spot ratios before prices are rounded
// to token decimals.
const ratioScale = 36

// ErrZeroRatio reports a pool state that cannot produce a spot ratio.
var ErrZeroRatio = errors.New("zero spot ratio")

var q192 = new(big.Int).Lsh(big.NewInt(1), 192)

// Ratios are the two reciprocal spot exchange rates of a pool, in token units.
type Ratios struct {
	Token0PerToken1 decimal.Decimal
	Token1PerToken0 decimal.Decimal
}

// RatiosFromSqrtPrice converts a Q64.96 square-root price into token-unit ratios.
func RatiosFromSqrtPrice(sqrtPriceX96 string, decimals0, decimals1 uint8) (Ratios, error) {
	sqrt, err := uint256.FromDecimal(sqrtPriceX96)
	if err != nil {
		return Ratios{}, fmt.Errorf("parse sqrt price %q: %w", sqrtPriceX96, err)
	}
	if sqrt.BitLen() > 160 {
		return Ratios{}, fmt.Errorf("sqrt price %q exceeds uint160", sqrtPriceX96)
	}
	if sqrt.IsZero() {
		return Ratios{}, ErrZeroRatio
	}

	squared := new(big.Int).Mul(sqrt.ToBig(), sqrt.ToBig())
	num := decimal.NewFromBigInt(squared, int32(decimals0))
	den := decimal.NewFromBigInt(q192, int32(decimals1))
	return Ratios{
		Token1PerToken0: num.DivRound(den, ratioScale),
		Token0PerToken1: den.DivRound(num, ratioScale),
	}, nil
}

// RatiosFromReserves derives ratios from normalized pool reserves.
func RatiosFromReserves(reserve0, reserve1 decimal.Decimal) (Ratios, error) {
	if !reserve0.IsPositive() || !reserve1.IsPositive() {
		return Ratios{}, ErrZeroRatio
	}
	return Ratios{
		Token1PerToken0: reserve1.DivRound(reserve0, ratioScale),
		Token0PerToken1: reserve0.DivRound(reserve1, ratioScale),
	}, nil
}

// PriceInput is the snapshot the derivation reads.
type PriceInput struct {
	Ratios    Ratios
	Decimals0 uint8
	Decimals1 uint8
	Price0    decimal.Decimal
	Price1    decimal.Decimal
}

// Candidate holds the derived prices. A token whose Derived flag is false keeps its old price
// and is not offered to the gate.
type Candidate struct {
	Price0   decimal.Decimal
	Price1   decimal.Decimal
	Derived0 bool
	Derived1 bool
}

// Derive computes candidate USD prices for both tokens of a pool.
func Derive(class Classification, in PriceInput) (Candidate, error) {
	out := Candidate{Price0: in.Price0, Price1: in.Price1}
	if in.Ratios.Token0PerToken1.IsZero() || in.Ratios.Token1PerToken0.IsZero() {
		return out, nil
	}

	switch class.Kind {
	case VariableWithStable:
		anchor, err := class.Anchor()
		if err != nil {
			return out, err
		}
		if anchor == 0 {
			price1 := in.Ratios.Token0PerToken1
			out.set1(price1, in.Decimals1)
			out.set0(in.Ratios.Token1PerToken0.Mul(out.Price1), in.Decimals0)
		} else {
			price0 := in.Ratios.Token1PerToken0
			out.set0(price0, in.Decimals0)
			out.set1(in.Ratios.Token0PerToken1.Mul(out.Price0), in.Decimals1)
		}

	case Stable:
		out.set0(in.Ratios.Token1PerToken0, in.Decimals0)
		out.set1(in.Ratios.Token0PerToken1, in.Decimals1)

	case WrappedNative, Native:
		anchor, err := class.Anchor()
		if err != nil {
			return out, err
		}
		if anchor == 0 && in.Price0.IsPositive() {
			out.set1(in.Ratios.Token0PerToken1.Mul(in.Price0), in.Decimals1)
		}
		if anchor == 1 && in.Price1.IsPositive() {
			out.set0(in.Ratios.Token1PerToken0.Mul(in.Price1), in.Decimals0)
		}

	default:
		priced0, priced1 := in.Price0.IsPositive(), in.Price1.IsPositive()
		switch {
		case priced0 && priced1:
			out.set0(in.Ratios.Token1PerToken0.Mul(in.Price1), in.Decimals0)
			out.set1(in.Ratios.Token0PerToken1.Mul(in.Price0), in.Decimals1)
		case priced0:
			out.set1(in.Ratios.Token0PerToken1.Mul(in.Price0), in.Decimals1)
		case priced1:
			out.set0(in.Ratios.Token1PerToken0.Mul(in.Price1), in.Decimals0)
		}
	}
	return out, nil
}

func (c *Candidate) set0(price decimal.Decimal, decimals uint8) {
	c.Price0 = price.Round(int32(decimals))
	c.Derived0 = true
}

func (c *Candidate) set1(price decimal.Decimal, decimals uint8) {
	c.Price1 = price.Round(int32(decimals))
	c.Derived1 = true
}
