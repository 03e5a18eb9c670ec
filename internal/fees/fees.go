// Package fees splits a swap's fee into the portion kept by liquidity providers and the portion
// that leaves the pool.
package fees

import (
	"errors"
	"math/big"
)

const (
	// PpmDenominator scales fee tiers and plugin fees.
	PpmDenominator = 1_000_000
	// CommunityFeeDenominator scales the community share of the swap fee.
	CommunityFeeDenominator = 1_000
)

// ErrNoInputLeg reports a swap where neither amount is positive.
var ErrNoInputLeg = errors.New("swap has no positive input amount")

// Params carries the fee inputs of one swap.
type Params struct {
	Amount0 *big.Int
	Amount1 *big.Int
	// CurrentFeeTier is the pool's stored fee in ppm.
	CurrentFeeTier uint32
	// OverrideFeePpm replaces CurrentFeeTier when non-zero.
	OverrideFeePpm uint32
	PluginFeePpm   uint32
	CommunityFee   uint16
	IsDynamicFee   bool
}

// Breakdown is the decomposed fee of one swap, in raw units of the input token.
type Breakdown struct {
	// InputIndex is 0 or 1, the token that was paid into the pool.
	InputIndex   int
	RawInput     *big.Int
	EffectiveFee uint32
	SwapFee      *big.Int
	PluginFee    *big.Int
	CommunityFee *big.Int
	LPFee        *big.Int
	NonLPFee     *big.Int
}

// TotalFee is what the bucket ledger records as the swap's fee.
func (b Breakdown) TotalFee() *big.Int {
	return new(big.Int).Add(b.SwapFee, b.PluginFee)
}

// Decompose computes the fee split with truncating integer division.
func Decompose(p Params) (Breakdown, error) {
	input, index, err := inputLeg(p.Amount0, p.Amount1)
	if err != nil {
		return Breakdown{}, err
	}

	effective := p.CurrentFeeTier
	if p.OverrideFeePpm != 0 {
		effective = p.OverrideFeePpm
	}

	out := Breakdown{
		InputIndex:   index,
		RawInput:     input,
		EffectiveFee: effective,
		SwapFee:      feeFromAmount(input, effective),
		PluginFee:    big.NewInt(0),
		CommunityFee: big.NewInt(0),
	}
	if p.IsDynamicFee {
		out.PluginFee = feeFromAmount(input, p.PluginFeePpm)
		out.CommunityFee = new(big.Int).Mul(out.SwapFee, big.NewInt(int64(p.CommunityFee)))
		out.CommunityFee.Div(out.CommunityFee, big.NewInt(CommunityFeeDenominator))
	}
	out.LPFee = new(big.Int).Sub(out.SwapFee, out.CommunityFee)
	out.NonLPFee = new(big.Int).Add(out.PluginFee, out.CommunityFee)
	return out, nil
}

func inputLeg(amount0, amount1 *big.Int) (*big.Int, int, error) {
	if amount0 != nil && amount0.Sign() > 0 {
		return new(big.Int).Set(amount0), 0, nil
	}
	if amount1 != nil && amount1.Sign() > 0 {
		return new(big.Int).Set(amount1), 1, nil
	}
	return nil, 0, ErrNoInputLeg
}

func feeFromAmount(amountIn *big.Int, feeRate uint32) *big.Int {
	if amountIn == nil {
		return big.NewInt(0)
	}
	fee := new(big.Int).Abs(amountIn)
	fee.Mul(fee, big.NewInt(int64(feeRate)))
	fee.Div(fee, big.NewInt(PpmDenominator))
	return fee
}
