package dex

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ammLedger/internal/model"
)

var (
	testPool   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testToken0 = model.TokenRef{Address: "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", Symbol: "AAA", Decimals: 18}
	testToken1 = model.TokenRef{Address: "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", Symbol: "BBB", Decimals: 6}
)

// staticResolver answers with fixed metadata and records the hints it was given.
type staticResolver struct {
	info  PoolInfo
	hints []model.Protocol
}

func (r *staticResolver) Pool(_ context.Context, _ common.Address, hint model.Protocol) (PoolInfo, error) {
	r.hints = append(r.hints, hint)
	info := r.info
	if hint != "" {
		info.Protocol = hint
	}
	return info, nil
}

func newTestDecoder(t *testing.T, protocol model.Protocol) (*Decoder, *staticResolver, ABIs) {
	t.Helper()
	abis, err := LoadABIs()
	require.NoError(t, err)
	resolver := &staticResolver{info: PoolInfo{
		Protocol:   protocol,
		Token0:     testToken0,
		Token1:     testToken1,
		FeeTierPpm: 2500,
	}}
	decoder, err := NewDecoder(resolver, DecoderConfig{}, zap.NewNop())
	require.NoError(t, err)
	return decoder, resolver, abis
}

func TestDecodeConcentratedSwap(t *testing.T) {
	decoder, resolver, abis := newTestDecoder(t, model.ProtocolConcentrated)
	event := abis.Concentrated.Events["Swap"]

	data, err := event.Inputs.NonIndexed().Pack(
		big.NewInt(-1000),
		big.NewInt(2000),
		big.NewInt(123456789),
		big.NewInt(987654321),
		big.NewInt(-15),
	)
	require.NoError(t, err)

	sender := common.HexToAddress("0x2222222222222222222222222222222222222222")
	recipient := common.HexToAddress("0x3333333333333333333333333333333333333333")
	rec := buildLogRecord(testPool, event.ID, data, "0xdef", topicFromAddress(sender), topicFromAddress(recipient))

	ev, err := decoder.Decode(context.Background(), rec)
	require.NoError(t, err)
	require.Equal(t, model.EventSwap, ev.Kind)
	require.Equal(t, model.ProtocolConcentrated, ev.Protocol)
	require.Equal(t, "-1000", ev.Amount0)
	require.Equal(t, "2000", ev.Amount1)
	require.Equal(t, "123456789", ev.SqrtPriceX96)
	require.Equal(t, int32(-15), *ev.Tick)
	require.Equal(t, uint32(2500), ev.FeeTierPpm)
	require.Equal(t, "0x1111111111111111111111111111111111111111", ev.PoolAddress)
	require.Equal(t, testToken1, ev.Token1)
	require.Equal(t, []model.Protocol{""}, resolver.hints, "shared topics leave detection to the resolver")
}

func TestDecodeMintBurnCollect(t *testing.T) {
	decoder, _, abis := newTestDecoder(t, model.ProtocolConcentrated)
	events := abis.Concentrated.Events
	owner := topicFromAddress(common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"))

	mintData, err := events["Mint"].Inputs.NonIndexed().Pack(
		common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
		big.NewInt(5000),
		big.NewInt(100),
		big.NewInt(200),
	)
	require.NoError(t, err)
	burnData, err := events["Burn"].Inputs.NonIndexed().Pack(big.NewInt(7000), big.NewInt(300), big.NewInt(400))
	require.NoError(t, err)
	collectData, err := events["Collect"].Inputs.NonIndexed().Pack(
		common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc"),
		big.NewInt(900),
		big.NewInt(1000),
	)
	require.NoError(t, err)

	tests := []struct {
		name    string
		event   abi.Event
		data    []byte
		kind    model.EventKind
		amount0 string
		amount1 string
	}{
		{"mint", events["Mint"], mintData, model.EventMint, "100", "200"},
		{"burn", events["Burn"], burnData, model.EventBurn, "300", "400"},
		{"collect", events["Collect"], collectData, model.EventCollect, "900", "1000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := buildLogRecord(testPool, tt.event.ID, tt.data, "0xdef", owner, topicFromInt24(-120), topicFromInt24(120))
			ev, err := decoder.Decode(context.Background(), rec)
			require.NoError(t, err)
			require.Equal(t, tt.kind, ev.Kind)
			require.Equal(t, tt.amount0, ev.Amount0)
			require.Equal(t, tt.amount1, ev.Amount1)
		})
	}
}

func TestDecodeRejectsWrongTopicCount(t *testing.T) {
	decoder, _, abis := newTestDecoder(t, model.ProtocolConcentrated)
	data, err := abis.Concentrated.Events["Burn"].Inputs.NonIndexed().Pack(big.NewInt(1), big.NewInt(2), big.NewInt(3))
	require.NoError(t, err)

	_, err = decoder.Decode(context.Background(), buildLogRecord(testPool, abis.Concentrated.Events["Burn"].ID, data, "0xdef"))
	require.ErrorContains(t, err, "expected 4 topics")

	_, err = decoder.Decode(context.Background(), buildLogRecord(testPool, common.HexToHash("0x01"), data, "0xdef"))
	require.ErrorContains(t, err, "unsupported topic0")
}

func TestDecodeConstantProduct(t *testing.T) {
	decoder, _, abis := newTestDecoder(t, "")
	events := abis.ConstantProduct.Events
	sender := topicFromAddress(common.HexToAddress("0x2222222222222222222222222222222222222222"))

	swapData, err := events["Swap"].Inputs.NonIndexed().Pack(big.NewInt(1000), big.NewInt(0), big.NewInt(0), big.NewInt(1990))
	require.NoError(t, err)
	swap, err := decoder.Decode(context.Background(), buildLogRecord(testPool, events["Swap"].ID, swapData, "0xdef", sender, sender))
	require.NoError(t, err)
	require.Equal(t, model.ProtocolConstantProduct, swap.Protocol)
	require.Equal(t, "1000", swap.Amount0)
	require.Equal(t, "-1990", swap.Amount1)

	syncData, err := events["Sync"].Inputs.NonIndexed().Pack(big.NewInt(5_000_000), big.NewInt(7_000_000))
	require.NoError(t, err)
	sync, err := decoder.Decode(context.Background(), buildLogRecord(testPool, events["Sync"].ID, syncData, "0xdef"))
	require.NoError(t, err)
	require.Equal(t, model.EventSync, sync.Kind)
	require.Equal(t, "5000000", sync.Reserve0)
	require.Equal(t, "7000000", sync.Reserve1)
}

func TestAlgebraFeeCarriedToSwapOfSameTx(t *testing.T) {
	decoder, _, abis := newTestDecoder(t, model.ProtocolDynamicFee)
	events := abis.Algebra.Events
	ctx := context.Background()
	topic := topicFromAddress(common.HexToAddress("0x2222222222222222222222222222222222222222"))

	feeData, err := events["Fee"].Inputs.NonIndexed().Pack(uint16(700))
	require.NoError(t, err)
	swapData, err := events["Swap"].Inputs.NonIndexed().Pack(
		big.NewInt(1000), big.NewInt(-990), new(big.Int).Lsh(big.NewInt(1), 96),
		big.NewInt(1), big.NewInt(0), big.NewInt(0), big.NewInt(2000),
	)
	require.NoError(t, err)

	fee, err := decoder.Decode(ctx, buildLogRecord(testPool, events["Fee"].ID, feeData, "0xaaa"))
	require.NoError(t, err)
	require.Equal(t, model.EventConfig, fee.Kind)
	require.Equal(t, uint32(700), fee.FeeTierPpm)

	swap, err := decoder.Decode(ctx, buildLogRecord(testPool, events["Swap"].ID, swapData, "0xAAA", topic, topic))
	require.NoError(t, err)
	require.True(t, swap.IsDynamicFee)
	require.Equal(t, uint32(700), swap.OverrideFeePpm)
	require.Equal(t, uint32(2000), swap.PluginFeePpm)

	again, err := decoder.Decode(ctx, buildLogRecord(testPool, events["Swap"].ID, swapData, "0xaaa", topic, topic))
	require.NoError(t, err)
	require.Zero(t, again.OverrideFeePpm, "a fee log is consumed by one swap")

	_, err = decoder.Decode(ctx, buildLogRecord(testPool, events["Fee"].ID, feeData, "0xbbb"))
	require.NoError(t, err)
	other, err := decoder.Decode(ctx, buildLogRecord(testPool, events["Swap"].ID, swapData, "0xccc", topic, topic))
	require.NoError(t, err)
	require.Zero(t, other.OverrideFeePpm, "fee logs of another tx are ignored")
}

func TestAlgebraConfigEvents(t *testing.T) {
	decoder, _, abis := newTestDecoder(t, model.ProtocolDynamicFee)
	events := abis.Algebra.Events
	ctx := context.Background()

	data, err := events["CommunityFee"].Inputs.NonIndexed().Pack(uint16(150))
	require.NoError(t, err)
	ev, err := decoder.Decode(ctx, buildLogRecord(testPool, events["CommunityFee"].ID, data, "0x01"))
	require.NoError(t, err)
	require.Equal(t, uint16(150), *ev.CommunityFee)
	require.Zero(t, ev.FeeTierPpm)

	data, err = events["TickSpacing"].Inputs.NonIndexed().Pack(big.NewInt(60))
	require.NoError(t, err)
	ev, err = decoder.Decode(ctx, buildLogRecord(testPool, events["TickSpacing"].ID, data, "0x02"))
	require.NoError(t, err)
	require.Equal(t, int32(60), *ev.TickSpacing)

	data, err = events["PluginConfig"].Inputs.NonIndexed().Pack(uint8(193))
	require.NoError(t, err)
	ev, err = decoder.Decode(ctx, buildLogRecord(testPool, events["PluginConfig"].ID, data, "0x03"))
	require.NoError(t, err)
	require.Equal(t, uint8(193), *ev.PluginConfig)

	plugin := common.HexToAddress("0xDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDD")
	data, err = events["Plugin"].Inputs.NonIndexed().Pack(plugin)
	require.NoError(t, err)
	ev, err = decoder.Decode(ctx, buildLogRecord(testPool, events["Plugin"].ID, data, "0x04"))
	require.NoError(t, err)
	require.Equal(t, "0xdddddddddddddddddddddddddddddddddddddddd", ev.Plugin)
}

func TestTopic0Alias(t *testing.T) {
	abis, err := LoadABIs()
	require.NoError(t, err)
	alias := "0x00000000000000000000000000000000000000000000000000000000000000ff"
	decoder, err := NewDecoder(&staticResolver{info: PoolInfo{Token0: testToken0, Token1: testToken1}},
		DecoderConfig{Topic0Map: map[string]string{alias: "Collect"}}, nil)
	require.NoError(t, err)
	require.True(t, decoder.CanDecode(alias))

	data, err := abis.Concentrated.Events["Collect"].Inputs.NonIndexed().Pack(common.Address{}, big.NewInt(1), big.NewInt(2))
	require.NoError(t, err)
	owner := topicFromAddress(common.Address{})
	ev, err := decoder.Decode(context.Background(), buildLogRecord(testPool, common.HexToHash(alias), data, "0x01", owner, topicFromInt24(0), topicFromInt24(10)))
	require.NoError(t, err)
	require.Equal(t, model.EventCollect, ev.Kind)

	_, err = NewDecoder(&staticResolver{}, DecoderConfig{Topic0Map: map[string]string{alias: "flash"}}, nil)
	require.Error(t, err)
}

// fakeCaller answers eth_call by contract and method selector.
type fakeCaller struct {
	responses map[common.Address]map[string][]byte
	calls     int
}

func (f *fakeCaller) respond(t *testing.T, to common.Address, parsed abi.ABI, method string, values ...interface{}) {
	t.Helper()
	out, err := parsed.Methods[method].Outputs.Pack(values...)
	require.NoError(t, err)
	if f.responses == nil {
		f.responses = map[common.Address]map[string][]byte{}
	}
	if f.responses[to] == nil {
		f.responses[to] = map[string][]byte{}
	}
	f.responses[to][hexutil.Encode(parsed.Methods[method].ID)] = out
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls++
	if resp, ok := f.responses[*msg.To][hexutil.Encode(msg.Data[:4])]; ok {
		return resp, nil
	}
	return nil, errors.New("execution reverted")
}

func TestChainResolverDetectsProtocol(t *testing.T) {
	abis, err := LoadABIs()
	require.NoError(t, err)

	token0 := common.HexToAddress(testToken0.Address)
	token1 := common.HexToAddress(testToken1.Address)
	algebraPool := common.HexToAddress("0x4444444444444444444444444444444444444444")

	caller := &fakeCaller{}
	for _, pool := range []common.Address{testPool, algebraPool} {
		caller.respond(t, pool, abis.Concentrated, "token0", token0)
		caller.respond(t, pool, abis.Concentrated, "token1", token1)
		caller.respond(t, pool, abis.Concentrated, "fee", big.NewInt(500))
	}
	caller.respond(t, algebraPool, abis.Concentrated, "plugin", common.HexToAddress("0x5555555555555555555555555555555555555555"))
	caller.respond(t, token0, abis.ERC20String, "decimals", uint8(18))
	caller.respond(t, token0, abis.ERC20String, "symbol", "AAA")
	caller.respond(t, token1, abis.ERC20String, "decimals", uint8(6))
	caller.respond(t, token1, abis.ERC20String, "symbol", "BBB")

	resolver, err := NewChainResolver(caller, ResolverConfig{}, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	v3, err := resolver.Pool(ctx, testPool, "")
	require.NoError(t, err)
	require.Equal(t, model.ProtocolConcentrated, v3.Protocol)
	require.Equal(t, uint32(500), v3.FeeTierPpm)
	require.Equal(t, uint8(6), v3.Token1.Decimals)
	require.Equal(t, "BBB", v3.Token1.Symbol)

	algebra, err := resolver.Pool(ctx, algebraPool, "")
	require.NoError(t, err)
	require.Equal(t, model.ProtocolDynamicFee, algebra.Protocol)

	calls := caller.calls
	_, err = resolver.Pool(ctx, testPool, "")
	require.NoError(t, err)
	require.Equal(t, calls, caller.calls, "metadata is cached")

	pair, err := resolver.Pool(ctx, common.HexToAddress("0x6666666666666666666666666666666666666666"), model.ProtocolConstantProduct)
	require.Error(t, err, "unknown contracts revert")
	require.Empty(t, pair.Protocol)
}

func buildLogRecord(pool common.Address, topic0 common.Hash, data []byte, txHash string, indexed ...common.Hash) model.LogRecord {
	topics := make([]string, 0, len(indexed)+1)
	topics = append(topics, topic0.Hex())
	for _, topic := range indexed {
		topics = append(topics, topic.Hex())
	}

	return model.LogRecord{
		ChainID:     56,
		BlockNumber: 12345,
		BlockHash:   "0xabc",
		TxHash:      txHash,
		LogIndex:    1,
		Address:     pool.Hex(),
		Topics:      topics,
		Data:        hexutil.Encode(data),
		Timestamp:   1700000000,
	}
}

func topicFromAddress(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func topicFromInt24(value int32) common.Hash {
	bigVal := big.NewInt(int64(value))
	if value < 0 {
		bigVal = new(big.Int).Add(bigVal, new(big.Int).Lsh(big.NewInt(1), 256))
	}
	return common.BigToHash(bigVal)
}
