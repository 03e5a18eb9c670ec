package accounting

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ammLedger/internal/aggregate"
	"ammLedger/internal/amount"
	"ammLedger/internal/fees"
	"ammLedger/internal/model"
	"ammLedger/internal/pricing"
)

func (p *Processor) applySwap(st *state) error {
	raw0, raw1, err := st.event.RawAmounts()
	if err != nil {
		return invalid(err)
	}
	communityFee := st.extension.CommunityFee
	if st.event.CommunityFee != nil {
		communityFee = *st.event.CommunityFee
	}
	feeTier := st.pool.CurrentFeeTier
	if feeTier == 0 {
		feeTier = st.event.FeeTierPpm
	}
	breakdown, err := fees.Decompose(fees.Params{
		Amount0:        raw0,
		Amount1:        raw1,
		CurrentFeeTier: feeTier,
		OverrideFeePpm: st.event.OverrideFeePpm,
		PluginFeePpm:   st.event.PluginFeePpm,
		CommunityFee:   communityFee,
		IsDynamicFee:   st.pool.IsDynamicFee,
	})
	if err != nil {
		return invalid(err)
	}

	a0 := amount.FromRaw(raw0, st.token0.Decimals)
	a1 := amount.FromRaw(raw1, st.token1.Decimals)
	inputDecimals := st.token0.Decimals
	if breakdown.InputIndex == 1 {
		inputDecimals = st.token1.Decimals
	}
	totalFee := amount.FromRaw(breakdown.TotalFee(), inputDecimals)
	lpFee := amount.FromRaw(breakdown.LPFee, inputDecimals)
	nonLPFee := amount.FromRaw(breakdown.NonLPFee, inputDecimals)

	if !st.constantProduct() {
		delta0, delta1 := a0, a1
		if breakdown.InputIndex == 0 {
			delta0 = delta0.Sub(nonLPFee)
		} else {
			delta1 = delta1.Sub(nonLPFee)
		}
		st.moveTVL(delta0, delta1)

		if err := p.repriceFromSqrtPrice(st); err != nil {
			return err
		}
		st.extension = st.extension.WithPrice(st.event.SqrtPriceX96, st.event.Tick)
		st.extensionChanged = true
		if st.pool.IsDynamicFee {
			st.pool = st.pool.WithFeeTier(breakdown.EffectiveFee)
		}
	}

	price0, price1 := st.token0.USDPrice, st.token1.USDPrice
	delta := aggregate.NewSwapDelta(a0, a1, breakdown.InputIndex, totalFee, lpFee, nonLPFee, price0, price1)
	st.pool = st.pool.WithSwap(delta.Volume0, delta.Volume1, delta.VolumeUSD, delta.FeesUSD)
	st.token0 = st.token0.WithSwapVolume(delta.Volume0, delta.Volume0.Mul(price0))
	st.token1 = st.token1.WithSwapVolume(delta.Volume1, delta.Volume1.Mul(price1))

	st.snapshot()
	st.buckets = st.buckets.AccumulateSwap(delta)

	daily := st.buckets.Daily.Yield
	st.pool = st.pool.WithYield(
		aggregate.Rate(delta.LPFeesUSD, st.pool.TotalValueLockedUSD),
		st.buckets.Hourly.Yield,
		daily,
		aggregate.Annualize(daily, model.PeriodDaily),
	)
	return nil
}

// Sync replaces a constant-product pool's locked amounts with its reserves and reprices.
func (p *Processor) applySync(st *state) error {
	raw0, raw1, err := st.event.RawReserves()
	if err != nil {
		return invalid(err)
	}
	reserve0 := amount.FromRaw(raw0, st.token0.Decimals)
	reserve1 := amount.FromRaw(raw1, st.token1.Decimals)
	st.moveTVL(
		reserve0.Sub(st.pool.TotalValueLockedToken0),
		reserve1.Sub(st.pool.TotalValueLockedToken1),
	)

	ratios, err := pricing.RatiosFromReserves(reserve0, reserve1)
	switch {
	case errors.Is(err, pricing.ErrZeroRatio):
	case err != nil:
		return invalid(err)
	default:
		if err := p.reprice(st, ratios); err != nil {
			return err
		}
	}
	st.snapshot()
	return nil
}

func (p *Processor) repriceFromSqrtPrice(st *state) error {
	if st.event.SqrtPriceX96 == "" {
		return nil
	}
	ratios, err := pricing.RatiosFromSqrtPrice(st.event.SqrtPriceX96, st.token0.Decimals, st.token1.Decimals)
	if errors.Is(err, pricing.ErrZeroRatio) {
		return nil
	}
	if err != nil {
		return invalid(err)
	}
	return p.reprice(st, ratios)
}

// reprice derives candidate prices from the pool's ratios, passes each through the gate and
// revalues the pool at the resulting prices. Both candidates come from the same snapshot.
func (p *Processor) reprice(st *state, ratios pricing.Ratios) error {
	class := pricing.Classify(p.roles, st.pool.Token0ID, st.pool.Token1ID)
	candidate, err := pricing.Derive(class, pricing.PriceInput{
		Ratios:    ratios,
		Decimals0: st.token0.Decimals,
		Decimals1: st.token1.Decimals,
		Price0:    st.token0.USDPrice,
		Price1:    st.token1.USDPrice,
	})
	if err != nil {
		return err
	}

	balanced := p.gate.TVLBalanced(st.pool, candidate.Price0, candidate.Price1)
	proposing := st.pool
	if candidate.Derived0 {
		st.token0 = p.offer(st, proposing, st.token0, candidate.Price0, st.references[0], balanced)
	}
	if candidate.Derived1 {
		st.token1 = p.offer(st, proposing, st.token1, candidate.Price1, st.references[1], balanced)
	}

	st.pool = st.pool.WithTVL(
		st.pool.TotalValueLockedToken0,
		st.pool.TotalValueLockedToken1,
		st.token0.USDPrice,
		st.token1.USDPrice,
	)
	return nil
}

func (p *Processor) offer(st *state, pool model.Pool, token model.Token, price decimal.Decimal, current *model.Pool, balanced bool) model.Token {
	verdict := p.gate.Evaluate(pricing.Proposal{
		Token:    token,
		NewPrice: price,
		Pool:     pool,
		Current:  current,
		Balanced: balanced,
	})
	st.decisions = append(st.decisions, GateDecision{TokenID: token.ID, Outcome: verdict.Outcome})
	p.metrics.GateDecision(verdict.Outcome.String())

	if !verdict.Outcome.Accepted() {
		p.logger.Debug("price rejected",
			zap.String("token", token.ID),
			zap.String("pool", pool.ID),
			zap.String("old", token.USDPrice.String()),
			zap.String("candidate", price.String()),
			zap.Stringer("outcome", verdict.Outcome),
		)
		return token
	}
	if verdict.MostLiquidPoolID != token.MostLiquidPoolID {
		p.logger.Debug("most liquid pool changed",
			zap.String("token", token.ID),
			zap.String("from", token.MostLiquidPoolID),
			zap.String("to", verdict.MostLiquidPoolID),
		)
	}
	return token.WithPrice(verdict.Price, verdict.MostLiquidPoolID)
}

func invalid(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
}
