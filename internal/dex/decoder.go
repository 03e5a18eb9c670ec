// Package dex turns raw pool logs into normalized pool events.
package dex

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"ammLedger/internal/model"
)

// DecoderConfig configures decoder behavior.
type DecoderConfig struct {
	// Topic0Map aliases extra topic0 hashes to a concentrated pool event with the same layout
	// (swap, mint, burn, collect, initialize).
	Topic0Map map[string]string
}

type decodeFunc func(values []interface{}, ev *model.PoolEvent) error

type handler struct {
	event  abi.Event
	hint   model.Protocol
	decode decodeFunc
}

type pendingFee struct {
	txHash string
	feePpm uint32
}

// Decoder decodes concentrated, Algebra and constant-product pool logs. It is safe for
// concurrent use; fee correlation assumes the logs of one pool arrive in order.
type Decoder struct {
	resolver MetadataResolver
	logger   *zap.Logger
	handlers map[common.Hash]handler
	// pending holds the last Algebra Fee log per pool until a swap of the same tx consumes it.
	pending *xsync.Map[common.Address, pendingFee]
}

func NewDecoder(resolver MetadataResolver, cfg DecoderConfig, logger *zap.Logger) (*Decoder, error) {
	if resolver == nil {
		return nil, fmt.Errorf("metadata resolver is nil")
	}
	abis, err := LoadABIs()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	conc, alg, cp := abis.Concentrated.Events, abis.Algebra.Events, abis.ConstantProduct.Events
	handlers := map[common.Hash]handler{}
	add := func(event abi.Event, hint model.Protocol, fn decodeFunc) {
		handlers[event.ID] = handler{event: event, hint: hint, decode: fn}
	}
	add(conc["Initialize"], "", decodeInitialize)
	add(conc["Swap"], "", decodeConcentratedSwap)
	add(abis.Pancake.Events["Swap"], model.ProtocolConcentrated, decodeConcentratedSwap)
	add(conc["Mint"], "", amountsAt(model.EventMint, 2, 3))
	add(conc["Burn"], "", amountsAt(model.EventBurn, 1, 2))
	add(conc["Collect"], "", amountsAt(model.EventCollect, 1, 2))

	add(alg["Swap"], model.ProtocolDynamicFee, decodeAlgebraSwap)
	add(alg["Burn"], model.ProtocolDynamicFee, amountsAt(model.EventBurn, 1, 2))
	add(alg["Fee"], model.ProtocolDynamicFee, decodeFee)
	add(alg["CommunityFee"], model.ProtocolDynamicFee, decodeCommunityFee)
	add(alg["TickSpacing"], model.ProtocolDynamicFee, decodeTickSpacing)
	add(alg["PluginConfig"], model.ProtocolDynamicFee, decodePluginConfig)
	add(alg["Plugin"], model.ProtocolDynamicFee, decodePlugin)

	add(cp["Sync"], model.ProtocolConstantProduct, decodeSync)
	add(cp["Swap"], model.ProtocolConstantProduct, decodeConstantProductSwap)
	add(cp["Mint"], model.ProtocolConstantProduct, amountsAt(model.EventMint, 0, 1))
	add(cp["Burn"], model.ProtocolConstantProduct, amountsAt(model.EventBurn, 0, 1))

	for topic0, name := range cfg.Topic0Map {
		original := name
		name = normalizeEventName(name)
		if name == "" {
			return nil, fmt.Errorf("unsupported event name in topic0 map: %s", original)
		}
		if topic0 == "" {
			continue
		}
		h := handlers[conc[name].ID]
		handlers[common.HexToHash(topic0)] = h
	}

	return &Decoder{
		resolver: resolver,
		logger:   logger,
		handlers: handlers,
		pending:  xsync.NewMap[common.Address, pendingFee](),
	}, nil
}

// CanDecode checks if the topic0 is supported.
func (d *Decoder) CanDecode(topic0 string) bool {
	if topic0 == "" {
		return false
	}
	_, ok := d.handlers[common.HexToHash(topic0)]
	return ok
}

// Topics returns every supported topic0, for log filters.
func (d *Decoder) Topics() []common.Hash {
	out := make([]common.Hash, 0, len(d.handlers))
	for topic := range d.handlers {
		out = append(out, topic)
	}
	return out
}

// Decode converts a LogRecord into a PoolEvent.
func (d *Decoder) Decode(ctx context.Context, rec model.LogRecord) (model.PoolEvent, error) {
	if len(rec.Topics) == 0 {
		return model.PoolEvent{}, fmt.Errorf("missing topics")
	}
	h, ok := d.handlers[common.HexToHash(rec.Topics[0])]
	if !ok {
		return model.PoolEvent{}, fmt.Errorf("unsupported topic0: %s", rec.Topics[0])
	}
	if !common.IsHexAddress(rec.Address) {
		return model.PoolEvent{}, fmt.Errorf("invalid pool address: %s", rec.Address)
	}
	pool := common.HexToAddress(rec.Address)

	values, err := unpack(h.event, rec)
	if err != nil {
		return model.PoolEvent{}, err
	}
	info, err := d.resolver.Pool(ctx, pool, h.hint)
	if err != nil {
		return model.PoolEvent{}, fmt.Errorf("resolve pool %s: %w", rec.Address, err)
	}

	ev := model.PoolEvent{
		ChainID:      rec.ChainID,
		BlockNumber:  rec.BlockNumber,
		TxHash:       rec.TxHash,
		LogIndex:     rec.LogIndex,
		Protocol:     info.Protocol,
		PoolAddress:  strings.ToLower(pool.Hex()),
		Token0:       info.Token0,
		Token1:       info.Token1,
		Timestamp:    rec.Timestamp,
		FeeTierPpm:   info.FeeTierPpm,
		IsDynamicFee: info.Protocol == model.ProtocolDynamicFee,
	}
	if err := h.decode(values, &ev); err != nil {
		return model.PoolEvent{}, fmt.Errorf("decode %s: %w", h.event.Name, err)
	}
	d.correlateFee(pool, h, &ev)
	return ev, nil
}

// correlateFee carries an Algebra Fee log onto the next swap of the same pool and transaction.
func (d *Decoder) correlateFee(pool common.Address, h handler, ev *model.PoolEvent) {
	switch {
	case ev.Kind == model.EventConfig && h.event.Name == "Fee":
		d.pending.Store(pool, pendingFee{txHash: strings.ToLower(ev.TxHash), feePpm: ev.FeeTierPpm})
	case ev.Kind == model.EventSwap && ev.IsDynamicFee:
		fee, ok := d.pending.LoadAndDelete(pool)
		if !ok || fee.txHash != strings.ToLower(ev.TxHash) {
			return
		}
		if ev.OverrideFeePpm == 0 {
			ev.OverrideFeePpm = fee.feePpm
		}
	}
}

func decodeInitialize(values []interface{}, ev *model.PoolEvent) error {
	ev.Kind = model.EventInitialize
	sqrt, err := bigAt(values, 0)
	if err != nil {
		return err
	}
	tick, err := tickAt(values, 1)
	if err != nil {
		return err
	}
	ev.SqrtPriceX96 = sqrt.String()
	ev.Tick = &tick
	return nil
}

func decodeConcentratedSwap(values []interface{}, ev *model.PoolEvent) error {
	ev.Kind = model.EventSwap
	a0, err := bigAt(values, 0)
	if err != nil {
		return err
	}
	a1, err := bigAt(values, 1)
	if err != nil {
		return err
	}
	sqrt, err := bigAt(values, 2)
	if err != nil {
		return err
	}
	tick, err := tickAt(values, 4)
	if err != nil {
		return err
	}
	ev.Amount0 = a0.String()
	ev.Amount1 = a1.String()
	ev.SqrtPriceX96 = sqrt.String()
	ev.Tick = &tick
	return nil
}

func decodeAlgebraSwap(values []interface{}, ev *model.PoolEvent) error {
	if err := decodeConcentratedSwap(values, ev); err != nil {
		return err
	}
	override, err := bigAt(values, 5)
	if err != nil {
		return err
	}
	plugin, err := bigAt(values, 6)
	if err != nil {
		return err
	}
	ev.OverrideFeePpm = uint32(override.Uint64())
	ev.PluginFeePpm = uint32(plugin.Uint64())
	return nil
}

func decodeFee(values []interface{}, ev *model.PoolEvent) error {
	ev.Kind = model.EventConfig
	fee, err := bigAt(values, 0)
	if err != nil {
		return err
	}
	ev.FeeTierPpm = uint32(fee.Uint64())
	return nil
}

func decodeCommunityFee(values []interface{}, ev *model.PoolEvent) error {
	ev.Kind = model.EventConfig
	fee, err := bigAt(values, 0)
	if err != nil {
		return err
	}
	communityFee := uint16(fee.Uint64())
	ev.CommunityFee = &communityFee
	ev.FeeTierPpm = 0
	return nil
}

func decodeTickSpacing(values []interface{}, ev *model.PoolEvent) error {
	ev.Kind = model.EventConfig
	spacing, err := tickAt(values, 0)
	if err != nil {
		return err
	}
	ev.TickSpacing = &spacing
	ev.FeeTierPpm = 0
	return nil
}

func decodePluginConfig(values []interface{}, ev *model.PoolEvent) error {
	ev.Kind = model.EventConfig
	if len(values) == 0 {
		return fmt.Errorf("missing plugin config")
	}
	cfg, err := asUint8(values[0])
	if err != nil {
		return err
	}
	ev.PluginConfig = &cfg
	ev.FeeTierPpm = 0
	return nil
}

func decodePlugin(values []interface{}, ev *model.PoolEvent) error {
	ev.Kind = model.EventConfig
	if len(values) == 0 {
		return fmt.Errorf("missing plugin address")
	}
	plugin, err := asAddress(values[0])
	if err != nil {
		return err
	}
	ev.Plugin = strings.ToLower(plugin.Hex())
	ev.FeeTierPpm = 0
	return nil
}

func decodeSync(values []interface{}, ev *model.PoolEvent) error {
	ev.Kind = model.EventSync
	r0, err := bigAt(values, 0)
	if err != nil {
		return err
	}
	r1, err := bigAt(values, 1)
	if err != nil {
		return err
	}
	ev.Reserve0 = r0.String()
	ev.Reserve1 = r1.String()
	return nil
}

// decodeConstantProductSwap nets the in and out legs into signed pool deltas.
func decodeConstantProductSwap(values []interface{}, ev *model.PoolEvent) error {
	ev.Kind = model.EventSwap
	legs := make([]*big.Int, 4)
	for i := range legs {
		v, err := bigAt(values, i)
		if err != nil {
			return err
		}
		legs[i] = v
	}
	ev.Amount0 = new(big.Int).Sub(legs[0], legs[2]).String()
	ev.Amount1 = new(big.Int).Sub(legs[1], legs[3]).String()
	return nil
}

func amountsAt(kind model.EventKind, i0, i1 int) decodeFunc {
	return func(values []interface{}, ev *model.PoolEvent) error {
		ev.Kind = kind
		a0, err := bigAt(values, i0)
		if err != nil {
			return err
		}
		a1, err := bigAt(values, i1)
		if err != nil {
			return err
		}
		ev.Amount0 = a0.String()
		ev.Amount1 = a1.String()
		return nil
	}
}

func normalizeEventName(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "swap":
		return "Swap"
	case "mint":
		return "Mint"
	case "burn":
		return "Burn"
	case "collect":
		return "Collect"
	case "initialize":
		return "Initialize"
	default:
		return ""
	}
}

func bigAt(values []interface{}, i int) (*big.Int, error) {
	if i >= len(values) {
		return nil, fmt.Errorf("missing value %d of %d", i, len(values))
	}
	return asBigInt(values[i])
}

func tickAt(values []interface{}, i int) (int32, error) {
	v, err := bigAt(values, i)
	if err != nil {
		return 0, err
	}
	return int24FromBig(v)
}

func unpack(event abi.Event, rec model.LogRecord) ([]interface{}, error) {
	indexed := 0
	for _, arg := range event.Inputs {
		if arg.Indexed {
			indexed++
		}
	}
	if len(rec.Topics) != indexed+1 {
		return nil, fmt.Errorf("%s: expected %d topics, got %d", event.Name, indexed+1, len(rec.Topics))
	}
	data, err := hexutil.Decode(rec.Data)
	if err != nil {
		return nil, fmt.Errorf("invalid data: %w", err)
	}
	values, err := event.Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	return values, nil
}
