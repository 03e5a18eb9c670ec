package model

import "github.com/shopspring/decimal"

// TokenRef is the token metadata carried on a normalized event.
type TokenRef struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol,omitempty"`
	Name     string `json:"name,omitempty"`
	Decimals uint8  `json:"decimals"`
}

// Token is the cross-pool accounting state of one token.
type Token struct {
	ID       string `json:"id"`
	ChainID  uint64 `json:"chain_id"`
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`

	USDPrice         decimal.Decimal `json:"usd_price"`
	MostLiquidPoolID string          `json:"most_liquid_pool_id,omitempty"`

	TotalTokenPooledAmount  decimal.Decimal `json:"total_token_pooled_amount"`
	TotalValuePooledUSD     decimal.Decimal `json:"total_value_pooled_usd"`
	TokenSwapVolume         decimal.Decimal `json:"token_swap_volume"`
	TokenSwapVolumeUSD      decimal.Decimal `json:"token_swap_volume_usd"`
	TokenLiquidityVolume    decimal.Decimal `json:"token_liquidity_volume"`
	TokenLiquidityVolumeUSD decimal.Decimal `json:"token_liquidity_volume_usd"`
}

func NewToken(chainID uint64, tokenID string, ref TokenRef) Token {
	return Token{
		ID:       tokenID,
		ChainID:  chainID,
		Address:  ref.Address,
		Symbol:   ref.Symbol,
		Decimals: ref.Decimals,
	}
}

// WithPrice stores an accepted price and the pool it came from.
func (t Token) WithPrice(price decimal.Decimal, mostLiquidPoolID string) Token {
	t.USDPrice = price
	t.MostLiquidPoolID = mostLiquidPoolID
	return t.revalued()
}

// WithPooledDelta moves the token amount held across all pools.
func (t Token) WithPooledDelta(delta decimal.Decimal) Token {
	t.TotalTokenPooledAmount = t.TotalTokenPooledAmount.Add(delta)
	return t.revalued()
}

func (t Token) WithSwapVolume(amount, amountUSD decimal.Decimal) Token {
	t.TokenSwapVolume = t.TokenSwapVolume.Add(amount)
	t.TokenSwapVolumeUSD = t.TokenSwapVolumeUSD.Add(amountUSD)
	return t
}

func (t Token) WithLiquidityVolume(amount, amountUSD decimal.Decimal) Token {
	t.TokenLiquidityVolume = t.TokenLiquidityVolume.Add(amount)
	t.TokenLiquidityVolumeUSD = t.TokenLiquidityVolumeUSD.Add(amountUSD)
	return t
}

func (t Token) revalued() Token {
	t.TotalValuePooledUSD = t.TotalTokenPooledAmount.Mul(t.USDPrice)
	return t
}

// EntityID implements storage.Entity.
func (t Token) EntityID() string { return t.ID }
