package accounting

import (
	"github.com/shopspring/decimal"

	"ammLedger/internal/aggregate"
	"ammLedger/internal/amount"
	"ammLedger/internal/model"
)

// Mint adds liquidity. Constant-product pools take their TVL from the following sync.
func (p *Processor) applyMint(st *state) error {
	a0, a1, err := st.amounts()
	if err != nil {
		return err
	}
	a0, a1 = a0.Abs(), a1.Abs()
	if !st.constantProduct() {
		st.moveTVL(a0, a1)
	}
	st.recordLiquidity(a0, a1)
	return nil
}

// Burn records the removed liquidity as outflow. Tokens leave the pool on collect (or sync).
func (p *Processor) applyBurn(st *state) error {
	a0, a1, err := st.amounts()
	if err != nil {
		return err
	}
	st.recordLiquidity(a0.Abs().Neg(), a1.Abs().Neg())
	return nil
}

func (p *Processor) applyCollect(st *state) error {
	a0, a1, err := st.amounts()
	if err != nil {
		return err
	}
	st.moveTVL(a0.Abs().Neg(), a1.Abs().Neg())
	st.snapshot()
	return nil
}

// ModifyLiquidity carries signed deltas: positive adds, negative removes.
func (p *Processor) applyModifyLiquidity(st *state) error {
	a0, a1, err := st.amounts()
	if err != nil {
		return err
	}
	st.moveTVL(a0, a1)
	st.recordLiquidity(a0, a1)
	return nil
}

func (p *Processor) applyInitialize(st *state) error {
	st.extension = st.extension.WithPrice(st.event.SqrtPriceX96, st.event.Tick)
	st.extensionChanged = true
	return nil
}

func (p *Processor) applyConfig(st *state) error {
	st.extension = st.extension.WithConfig(st.event)
	st.extensionChanged = true
	if st.pool.IsDynamicFee && st.event.FeeTierPpm != 0 {
		st.pool = st.pool.WithFeeTier(st.event.FeeTierPpm)
	}
	return nil
}

func (st *state) constantProduct() bool {
	return st.pool.Protocol == model.ProtocolConstantProduct
}

// amounts returns the event's signed amounts in token units.
func (st *state) amounts() (decimal.Decimal, decimal.Decimal, error) {
	raw0, raw1, err := st.event.RawAmounts()
	if err != nil {
		return decimal.Zero, decimal.Zero, invalid(err)
	}
	return amount.FromRaw(raw0, st.token0.Decimals), amount.FromRaw(raw1, st.token1.Decimals), nil
}

// moveTVL shifts the pool's locked amounts and the tokens' pooled amounts, valued at the
// tokens' current prices.
func (st *state) moveTVL(delta0, delta1 decimal.Decimal) {
	st.pool = st.pool.WithTVL(
		st.pool.TotalValueLockedToken0.Add(delta0),
		st.pool.TotalValueLockedToken1.Add(delta1),
		st.token0.USDPrice,
		st.token1.USDPrice,
	)
	st.token0 = st.token0.WithPooledDelta(delta0)
	st.token1 = st.token1.WithPooledDelta(delta1)
}

// recordLiquidity counts a signed liquidity movement on the pool, the tokens and the buckets.
func (st *state) recordLiquidity(delta0, delta1 decimal.Decimal) {
	delta := aggregate.LiquidityDelta{
		Amount0: delta0,
		Amount1: delta1,
		Price0:  st.token0.USDPrice,
		Price1:  st.token1.USDPrice,
	}
	st.pool = st.pool.WithLiquidityVolume(delta0.Abs(), delta1.Abs(), delta.VolumeUSD())
	st.token0 = st.token0.WithLiquidityVolume(delta0.Abs(), delta0.Abs().Mul(delta.Price0))
	st.token1 = st.token1.WithLiquidityVolume(delta1.Abs(), delta1.Abs().Mul(delta.Price1))

	st.snapshot()
	st.buckets = st.buckets.AccumulateLiquidity(delta)
}

// snapshot copies the pool's current TVL into both buckets.
func (st *state) snapshot() {
	st.buckets = st.buckets.SnapshotTVL(st.pool)
}
