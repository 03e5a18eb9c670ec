package model

import (
	"fmt"
	"math/big"
	"strings"
)

// EventKind names the accounting operation a pool event triggers.
type EventKind string

const (
	EventMint            EventKind = "mint"
	EventBurn            EventKind = "burn"
	EventCollect         EventKind = "collect"
	EventSwap            EventKind = "swap"
	EventSync            EventKind = "sync"
	EventModifyLiquidity EventKind = "modify_liquidity"
	EventInitialize      EventKind = "initialize"
	EventConfig          EventKind = "config"
)

// PoolEvent is a decoded pool log normalized across protocols.
// Raw amounts are signed decimal strings in token base units.
type PoolEvent struct {
	ChainID     uint64    `json:"chain_id"`
	BlockNumber uint64    `json:"block_number"`
	TxHash      string    `json:"tx_hash"`
	LogIndex    uint64    `json:"log_index"`
	Kind        EventKind `json:"kind"`
	Protocol    Protocol  `json:"protocol"`
	PoolAddress string    `json:"pool_address"`
	Token0      TokenRef  `json:"token0"`
	Token1      TokenRef  `json:"token1"`
	Timestamp   uint64    `json:"timestamp"`

	Amount0      string `json:"amount0,omitempty"`
	Amount1      string `json:"amount1,omitempty"`
	SqrtPriceX96 string `json:"sqrt_price_x96,omitempty"`
	Reserve0     string `json:"reserve0,omitempty"`
	Reserve1     string `json:"reserve1,omitempty"`
	Tick         *int32 `json:"tick,omitempty"`

	FeeTierPpm     uint32 `json:"fee_tier_ppm,omitempty"`
	OverrideFeePpm uint32 `json:"override_fee_ppm,omitempty"`
	PluginFeePpm   uint32 `json:"plugin_fee_ppm,omitempty"`
	IsDynamicFee   bool   `json:"is_dynamic_fee,omitempty"`

	CommunityFee *uint16 `json:"community_fee,omitempty"`
	PluginConfig *uint8  `json:"plugin_config,omitempty"`
	TickSpacing  *int32  `json:"tick_spacing,omitempty"`
	Plugin       string  `json:"plugin,omitempty"`
}

// Key identifies the log an event was decoded from.
func (e PoolEvent) Key() string {
	return fmt.Sprintf("%d:%s:%d", e.ChainID, strings.ToLower(e.TxHash), e.LogIndex)
}

// HasPosition reports whether the event carries its chain position. Block 0 holds no pool logs,
// so a zero block number means the producer left the position out.
func (e PoolEvent) HasPosition() bool {
	return e.BlockNumber > 0
}

// RawAmounts parses Amount0 and Amount1. Missing amounts are zero.
func (e PoolEvent) RawAmounts() (*big.Int, *big.Int, error) {
	a0, err := ParseBigInt(e.Amount0)
	if err != nil {
		return nil, nil, fmt.Errorf("amount0: %w", err)
	}
	a1, err := ParseBigInt(e.Amount1)
	if err != nil {
		return nil, nil, fmt.Errorf("amount1: %w", err)
	}
	return a0, a1, nil
}

// RawReserves parses Reserve0 and Reserve1.
func (e PoolEvent) RawReserves() (*big.Int, *big.Int, error) {
	r0, err := ParseBigInt(e.Reserve0)
	if err != nil {
		return nil, nil, fmt.Errorf("reserve0: %w", err)
	}
	r1, err := ParseBigInt(e.Reserve1)
	if err != nil {
		return nil, nil, fmt.Errorf("reserve1: %w", err)
	}
	return r0, r1, nil
}

// ParseBigInt parses a base-10 integer string; the empty string is zero.
func ParseBigInt(value string) (*big.Int, error) {
	if value == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", value)
	}
	return n, nil
}
