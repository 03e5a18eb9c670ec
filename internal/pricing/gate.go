package pricing

import (
	"github.com/shopspring/decimal"

	"ammLedger/internal/model"
)

var (
	DefaultTokenPriceOutlierThreshold = decimal.RequireFromString("0.5")
	DefaultPoolTVLOutlierThreshold    = decimal.RequireFromString("0.9")
)

// Outcome is the gate's decision for one token.
type Outcome int

const (
	AcceptedWithinThreshold Outcome = iota
	AcceptedPointerSet
	AcceptedPointerSwitched
	RejectedUnbalanced
	RejectedLessLiquid
)

func (o Outcome) String() string {
	switch o {
	case AcceptedWithinThreshold:
		return "within_threshold"
	case AcceptedPointerSet:
		return "pointer_set"
	case AcceptedPointerSwitched:
		return "pointer_switched"
	case RejectedUnbalanced:
		return "rejected_unbalanced"
	case RejectedLessLiquid:
		return "rejected_less_liquid"
	default:
		return "unknown"
	}
}

// Accepted reports whether the candidate price was taken.
func (o Outcome) Accepted() bool {
	return o == AcceptedWithinThreshold || o == AcceptedPointerSet || o == AcceptedPointerSwitched
}

// Gate filters candidate prices proposed by pools.
type Gate struct {
	TokenPriceOutlierThreshold decimal.Decimal
	PoolTVLOutlierThreshold    decimal.Decimal
}

// NewGate returns a gate with the given thresholds; zero thresholds fall back to defaults.
func NewGate(tokenPriceThreshold, poolTVLThreshold decimal.Decimal) Gate {
	if !tokenPriceThreshold.IsPositive() {
		tokenPriceThreshold = DefaultTokenPriceOutlierThreshold
	}
	if !poolTVLThreshold.IsPositive() {
		poolTVLThreshold = DefaultPoolTVLOutlierThreshold
	}
	return Gate{
		TokenPriceOutlierThreshold: tokenPriceThreshold,
		PoolTVLOutlierThreshold:    poolTVLThreshold,
	}
}

// Proposal is a candidate price for one token together with the state the gate needs.
type Proposal struct {
	Token    model.Token
	NewPrice decimal.Decimal
	// Pool is the proposing pool.
	Pool model.Pool
	// Current is the pool referenced by Token.MostLiquidPoolID, nil when unset or the same as Pool.
	Current *model.Pool
	// Balanced is the result of TVLBalanced for the proposing pool at the candidate prices.
	Balanced bool
}

// Verdict is the token price and reference pool after gating.
type Verdict struct {
	Price            decimal.Decimal
	MostLiquidPoolID string
	Outcome          Outcome
}

// Evaluate decides whether a proposal replaces the token's price and reference pool.
func (g Gate) Evaluate(p Proposal) Verdict {
	oldPrice := p.Token.USDPrice
	keep := Verdict{Price: oldPrice, MostLiquidPoolID: p.Token.MostLiquidPoolID}

	if g.withinThreshold(oldPrice, p.NewPrice) {
		return Verdict{Price: p.NewPrice, MostLiquidPoolID: p.Token.MostLiquidPoolID, Outcome: AcceptedWithinThreshold}
	}

	movingUp := !oldPrice.IsPositive() || p.NewPrice.GreaterThan(oldPrice)
	if movingUp && !p.Balanced {
		keep.Outcome = RejectedUnbalanced
		return keep
	}

	if p.Token.MostLiquidPoolID == "" || p.Token.MostLiquidPoolID == p.Pool.ID {
		return Verdict{Price: p.NewPrice, MostLiquidPoolID: p.Pool.ID, Outcome: AcceptedPointerSet}
	}

	if SelectMostLiquid(p.Token, p.Pool, p.Current) == p.Pool.ID && p.Balanced {
		return Verdict{Price: p.NewPrice, MostLiquidPoolID: p.Pool.ID, Outcome: AcceptedPointerSwitched}
	}
	keep.Outcome = RejectedLessLiquid
	return keep
}

func (g Gate) withinThreshold(oldPrice, newPrice decimal.Decimal) bool {
	if !oldPrice.IsPositive() {
		return false
	}
	deviation := newPrice.Sub(oldPrice).Abs().DivRound(oldPrice, ratioScale)
	return deviation.LessThanOrEqual(g.TokenPriceOutlierThreshold)
}

// TVLBalanced reports whether the pool's two token legs, valued at the candidate prices, agree
// within the pool TVL outlier threshold.
func (g Gate) TVLBalanced(pool model.Pool, price0, price1 decimal.Decimal) bool {
	leg0 := pool.TotalValueLockedToken0.Mul(price0)
	leg1 := pool.TotalValueLockedToken1.Mul(price1)
	total := leg0.Add(leg1)
	if !total.IsPositive() {
		return false
	}
	imbalance := leg0.Sub(leg1).Abs().DivRound(total, ratioScale)
	return imbalance.LessThanOrEqual(g.PoolTVLOutlierThreshold)
}
