package model

// PoolExtension holds protocol specific pool state keyed by the pool id.
type PoolExtension struct {
	ID           string `json:"id"`
	SqrtPriceX96 string `json:"sqrt_price_x96,omitempty"`
	Tick         int32  `json:"tick"`
	CommunityFee uint16 `json:"community_fee"`
	PluginConfig uint8  `json:"plugin_config"`
	TickSpacing  int32  `json:"tick_spacing"`
	Plugin       string `json:"plugin,omitempty"`
}

// WithPrice records the pool's latest sqrt price and tick.
func (e PoolExtension) WithPrice(sqrtPriceX96 string, tick *int32) PoolExtension {
	if sqrtPriceX96 != "" {
		e.SqrtPriceX96 = sqrtPriceX96
	}
	if tick != nil {
		e.Tick = *tick
	}
	return e
}

// WithConfig applies the config fields present on an event.
func (e PoolExtension) WithConfig(event PoolEvent) PoolExtension {
	if event.CommunityFee != nil {
		e.CommunityFee = *event.CommunityFee
	}
	if event.PluginConfig != nil {
		e.PluginConfig = *event.PluginConfig
	}
	if event.TickSpacing != nil {
		e.TickSpacing = *event.TickSpacing
	}
	if event.Plugin != "" {
		e.Plugin = event.Plugin
	}
	return e
}

// EntityID implements storage.Entity.
func (e PoolExtension) EntityID() string { return e.ID }
