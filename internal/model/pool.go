package model

import "github.com/shopspring/decimal"

// Protocol identifies the pool family an event was decoded from.
type Protocol string

const (
	ProtocolConstantProduct Protocol = "constant_product"
	ProtocolConcentrated    Protocol = "concentrated"
	ProtocolDynamicFee      Protocol = "dynamic_fee"
	ProtocolSingleton       Protocol = "singleton"
)

// Pool is the running accounting state of one pool.
type Pool struct {
	ID       string   `json:"id"`
	ChainID  uint64   `json:"chain_id"`
	Address  string   `json:"address"`
	Protocol Protocol `json:"protocol"`
	Token0ID string   `json:"token0_id"`
	Token1ID string   `json:"token1_id"`

	TotalValueLockedToken0 decimal.Decimal `json:"total_value_locked_token0"`
	TotalValueLockedToken1 decimal.Decimal `json:"total_value_locked_token1"`
	TotalValueLockedUSD    decimal.Decimal `json:"total_value_locked_usd"`

	SwapVolumeToken0      decimal.Decimal `json:"swap_volume_token0"`
	SwapVolumeToken1      decimal.Decimal `json:"swap_volume_token1"`
	SwapVolumeUSD         decimal.Decimal `json:"swap_volume_usd"`
	LiquidityVolumeToken0 decimal.Decimal `json:"liquidity_volume_token0"`
	LiquidityVolumeToken1 decimal.Decimal `json:"liquidity_volume_token1"`
	LiquidityVolumeUSD    decimal.Decimal `json:"liquidity_volume_usd"`
	FeesUSD               decimal.Decimal `json:"fees_usd"`

	CurrentFeeTier     uint32 `json:"current_fee_tier"`
	IsDynamicFee       bool   `json:"is_dynamic_fee"`
	CreatedAtTimestamp uint64 `json:"created_at_timestamp"`
	SwapCount          uint64 `json:"swap_count"`

	TotalAccumulatedYield decimal.Decimal `json:"total_accumulated_yield"`
	HourlyYield           decimal.Decimal `json:"hourly_yield"`
	DailyYield            decimal.Decimal `json:"daily_yield"`
	DailyAPR              decimal.Decimal `json:"daily_apr"`

	// Position of the last applied event.
	EventCount      uint64 `json:"event_count"`
	LastBlockNumber uint64 `json:"last_block_number"`
	LastLogIndex    uint64 `json:"last_log_index"`
}

// NewPool builds an empty pool first seen in the given event.
func NewPool(event PoolEvent, poolID, token0ID, token1ID string) Pool {
	return Pool{
		ID:                 poolID,
		ChainID:            event.ChainID,
		Address:            event.PoolAddress,
		Protocol:           event.Protocol,
		Token0ID:           token0ID,
		Token1ID:           token1ID,
		CurrentFeeTier:     event.FeeTierPpm,
		IsDynamicFee:       event.IsDynamicFee || event.Protocol == ProtocolDynamicFee,
		CreatedAtTimestamp: event.Timestamp,
	}
}

// WithTVL replaces the locked token amounts and revalues them at the given prices.
func (p Pool) WithTVL(tvl0, tvl1, price0, price1 decimal.Decimal) Pool {
	p.TotalValueLockedToken0 = tvl0
	p.TotalValueLockedToken1 = tvl1
	p.TotalValueLockedUSD = tvl0.Mul(price0).Add(tvl1.Mul(price1))
	return p
}

// WithSwap adds one swap's volume and fees.
func (p Pool) WithSwap(volume0, volume1, volumeUSD, feesUSD decimal.Decimal) Pool {
	p.SwapVolumeToken0 = p.SwapVolumeToken0.Add(volume0)
	p.SwapVolumeToken1 = p.SwapVolumeToken1.Add(volume1)
	p.SwapVolumeUSD = p.SwapVolumeUSD.Add(volumeUSD)
	p.FeesUSD = p.FeesUSD.Add(feesUSD)
	p.SwapCount++
	return p
}

// WithLiquidityVolume adds absolute liquidity movements.
func (p Pool) WithLiquidityVolume(volume0, volume1, volumeUSD decimal.Decimal) Pool {
	p.LiquidityVolumeToken0 = p.LiquidityVolumeToken0.Add(volume0)
	p.LiquidityVolumeToken1 = p.LiquidityVolumeToken1.Add(volume1)
	p.LiquidityVolumeUSD = p.LiquidityVolumeUSD.Add(volumeUSD)
	return p
}

func (p Pool) WithFeeTier(fee uint32) Pool {
	p.CurrentFeeTier = fee
	return p
}

// WithYield adds a swap's yield contribution and stores the per-timeframe yields.
func (p Pool) WithYield(delta, hourly, daily, dailyAPR decimal.Decimal) Pool {
	p.TotalAccumulatedYield = p.TotalAccumulatedYield.Add(delta)
	p.HourlyYield = hourly
	p.DailyYield = daily
	p.DailyAPR = dailyAPR
	return p
}

// Covers reports whether event is at or before the last event applied to the pool. Events
// without a position are never covered.
func (p Pool) Covers(event PoolEvent) bool {
	if p.EventCount == 0 || !event.HasPosition() {
		return false
	}
	if event.BlockNumber != p.LastBlockNumber {
		return event.BlockNumber < p.LastBlockNumber
	}
	return event.LogIndex <= p.LastLogIndex
}

// WithPosition marks event as applied. A position-less event only bumps the count.
func (p Pool) WithPosition(event PoolEvent) Pool {
	p.EventCount++
	if !event.HasPosition() {
		return p
	}
	p.LastBlockNumber = event.BlockNumber
	p.LastLogIndex = event.LogIndex
	return p
}

// TokenTVL returns the locked amount on the side holding tokenID.
func (p Pool) TokenTVL(tokenID string) decimal.Decimal {
	switch tokenID {
	case p.Token0ID:
		return p.TotalValueLockedToken0
	case p.Token1ID:
		return p.TotalValueLockedToken1
	default:
		return decimal.Zero
	}
}

// EntityID implements storage.Entity.
func (p Pool) EntityID() string { return p.ID }
