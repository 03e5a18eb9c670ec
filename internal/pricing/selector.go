package pricing

import "ammLedger/internal/model"

// SelectMostLiquid returns the id of the pool that should price token: the candidate or the
// current reference pool.
func SelectMostLiquid(token model.Token, candidate model.Pool, current *model.Pool) string {
	if current == nil {
		return candidate.ID
	}
	if token.USDPrice.IsZero() {
		if candidate.TotalValueLockedUSD.GreaterThan(current.TotalValueLockedUSD) {
			return candidate.ID
		}
		return current.ID
	}
	if candidate.TokenTVL(token.ID).GreaterThan(current.TokenTVL(token.ID)) {
		return candidate.ID
	}
	return current.ID
}
