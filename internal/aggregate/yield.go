package aggregate

import (
	"time"

	"github.com/shopspring/decimal"

	"ammLedger/internal/model"
)

const rateScale = 18

var yearSeconds = decimal.NewFromInt(int64(365 * 24 * time.Hour / time.Second))

// Rate returns fees/tvl, or zero when tvl is not positive.
func Rate(fees, tvl decimal.Decimal) decimal.Decimal {
	if !tvl.IsPositive() {
		return decimal.Zero
	}
	return fees.DivRound(tvl, rateScale)
}

// Annualize scales a per-period rate to a yearly rate.
func Annualize(rate decimal.Decimal, period model.Period) decimal.Decimal {
	window := decimal.NewFromInt(int64(period.Seconds()))
	return rate.Mul(yearSeconds).DivRound(window, rateScale)
}

func withYield(b model.Bucket) model.Bucket {
	b.Yield = Rate(b.LPFeesUSD, b.TVLUSD)
	return b
}
