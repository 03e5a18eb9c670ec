package model

import "github.com/shopspring/decimal"

// Period is the width of a bucket.
type Period string

const (
	PeriodHourly Period = "hourly"
	PeriodDaily  Period = "daily"
)

// Seconds returns the period length.
func (p Period) Seconds() uint64 {
	switch p {
	case PeriodDaily:
		return 86400
	default:
		return 3600
	}
}

// Bucket aggregates pool activity within one period.
type Bucket struct {
	ID             string `json:"id"`
	PoolID         string `json:"pool_id"`
	Period         Period `json:"period"`
	Index          uint64 `json:"index"`
	StartTimestamp uint64 `json:"start_timestamp"`

	TVLToken0 decimal.Decimal `json:"tvl_token0"`
	TVLToken1 decimal.Decimal `json:"tvl_token1"`
	TVLUSD    decimal.Decimal `json:"tvl_usd"`

	SwapVolumeToken0 decimal.Decimal `json:"swap_volume_token0"`
	SwapVolumeToken1 decimal.Decimal `json:"swap_volume_token1"`
	SwapVolumeUSD    decimal.Decimal `json:"swap_volume_usd"`
	FeesToken0       decimal.Decimal `json:"fees_token0"`
	FeesToken1       decimal.Decimal `json:"fees_token1"`
	FeesUSD          decimal.Decimal `json:"fees_usd"`
	LPFeesUSD        decimal.Decimal `json:"lp_fees_usd"`
	NonLPFeesUSD     decimal.Decimal `json:"non_lp_fees_usd"`

	LiquidityVolumeToken0 decimal.Decimal `json:"liquidity_volume_token0"`
	LiquidityVolumeToken1 decimal.Decimal `json:"liquidity_volume_token1"`
	LiquidityVolumeUSD    decimal.Decimal `json:"liquidity_volume_usd"`
	InflowToken0          decimal.Decimal `json:"inflow_token0"`
	InflowToken1          decimal.Decimal `json:"inflow_token1"`
	InflowUSD             decimal.Decimal `json:"inflow_usd"`
	OutflowToken0         decimal.Decimal `json:"outflow_token0"`
	OutflowToken1         decimal.Decimal `json:"outflow_token1"`
	OutflowUSD            decimal.Decimal `json:"outflow_usd"`
	NetInflowToken0       decimal.Decimal `json:"net_inflow_token0"`
	NetInflowToken1       decimal.Decimal `json:"net_inflow_token1"`
	NetInflowUSD          decimal.Decimal `json:"net_inflow_usd"`

	SwapCount uint64          `json:"swap_count"`
	Yield     decimal.Decimal `json:"yield"`
}

// EntityID implements storage.Entity.
func (b Bucket) EntityID() string { return b.ID }
