package accounting

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"ammLedger/internal/model"
	"ammLedger/internal/pricing"
	"ammLedger/internal/storage"
	"ammLedger/internal/storage/memory"
)

const (
	chainID  = 1
	usdcAddr = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	tknAddr  = "0x1111111111111111111111111111111111111111"
	altAddr  = "0x2222222222222222222222222222222222222222"
	poolA    = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	poolB    = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	poolC    = "0xcccccccccccccccccccccccccccccccccccccccc"

	createdAt = uint64(1_700_000_000)
)

var (
	usdc = model.TokenRef{Address: usdcAddr, Symbol: "USDC", Decimals: 6}
	tkn  = model.TokenRef{Address: tknAddr, Symbol: "TKN", Decimals: 18}
	alt  = model.TokenRef{Address: altAddr, Symbol: "ALT", Decimals: 6}
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestProcessor(backend storage.Backend) *Processor {
	roles := pricing.NewRoles([]string{model.EntityID(chainID, usdcAddr)}, nil, nil)
	return NewProcessor(backend, Config{Roles: roles})
}

type eventBuilder struct {
	pool     string
	protocol model.Protocol
	token0   model.TokenRef
	token1   model.TokenRef
	block    uint64
}

func (b *eventBuilder) next(kind model.EventKind) model.PoolEvent {
	b.block++
	return model.PoolEvent{
		ChainID:     chainID,
		BlockNumber: b.block,
		TxHash:      "0xfeed",
		Kind:        kind,
		Protocol:    b.protocol,
		PoolAddress: b.pool,
		Token0:      b.token0,
		Token1:      b.token1,
		Timestamp:   createdAt + b.block*60,
	}
}

func loadPool(t *testing.T, backend storage.Backend, address string) model.Pool {
	t.Helper()
	sess := storage.NewSession(context.Background(), backend)
	pool, err := storage.NewTable[model.Pool](storage.KindPool).GetOrThrow(sess, model.EntityID(chainID, address))
	require.NoError(t, err)
	return pool
}

func loadToken(t *testing.T, backend storage.Backend, address string) model.Token {
	t.Helper()
	sess := storage.NewSession(context.Background(), backend)
	token, err := storage.NewTable[model.Token](storage.KindToken).GetOrThrow(sess, model.EntityID(chainID, address))
	require.NoError(t, err)
	return token
}

func loadBucket(t *testing.T, backend storage.Backend, kind string, index uint64, poolAddress string) model.Bucket {
	t.Helper()
	sess := storage.NewSession(context.Background(), backend)
	bucket, err := storage.NewTable[model.Bucket](kind).GetOrThrow(sess, model.BucketID(chainID, index, poolAddress))
	require.NoError(t, err)
	return bucket
}

func requireTVLInvariant(t *testing.T, backend storage.Backend, address string) {
	t.Helper()
	pool := loadPool(t, backend, address)
	sess := storage.NewSession(context.Background(), backend)
	tokens := storage.NewTable[model.Token](storage.KindToken)
	token0, err := tokens.GetOrThrow(sess, pool.Token0ID)
	require.NoError(t, err)
	token1, err := tokens.GetOrThrow(sess, pool.Token1ID)
	require.NoError(t, err)

	want := pool.TotalValueLockedToken0.Mul(token0.USDPrice).Add(pool.TotalValueLockedToken1.Mul(token1.USDPrice))
	require.True(t, pool.TotalValueLockedUSD.Equal(want), "tvl usd %s, want %s", pool.TotalValueLockedUSD, want)
}

func TestSwapDerivesStablePairPrice(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	proc := newTestProcessor(backend)
	b := &eventBuilder{pool: poolA, protocol: model.ProtocolConcentrated, token0: usdc, token1: tkn}

	mint := b.next(model.EventMint)
	mint.FeeTierPpm = 500
	mint.Amount0 = "1200121000"
	mint.Amount1 = "9872200000000000000000"
	_, err := proc.Apply(ctx, mint)
	require.NoError(t, err)

	swap := b.next(model.EventSwap)
	swap.Amount0 = "1000000"
	swap.Amount1 = "-2780000000000000000"
	swap.SqrtPriceX96 = "132117387656662503710917528654277782"
	tick := int32(-266960)
	swap.Tick = &tick
	res, err := proc.Apply(ctx, swap)
	require.NoError(t, err)
	require.Equal(t, []GateDecision{
		{TokenID: model.EntityID(chainID, usdcAddr), Outcome: pricing.AcceptedPointerSet},
		{TokenID: model.EntityID(chainID, tknAddr), Outcome: pricing.AcceptedPointerSet},
	}, res.Gate)

	stable := loadToken(t, backend, usdcAddr)
	variable := loadToken(t, backend, tknAddr)
	require.True(t, stable.USDPrice.Equal(decimal.NewFromInt(1)), "stable price %s", stable.USDPrice)
	require.Equal(t, "0.359616170342539443", variable.USDPrice.String())
	require.Equal(t, model.EntityID(chainID, poolA), variable.MostLiquidPoolID)

	pool := loadPool(t, backend, poolA)
	require.True(t, pool.TotalValueLockedToken0.Equal(dec("1201.121")))
	require.True(t, pool.TotalValueLockedToken1.Equal(dec("9869.42")))
	require.Equal(t, uint64(1), pool.SwapCount)
	require.Equal(t, uint32(500), pool.CurrentFeeTier)
	requireTVLInvariant(t, backend, poolA)

	hour := loadBucket(t, backend, storage.KindPoolHour, 0, poolA)
	require.Equal(t, uint64(1), hour.SwapCount)
	require.True(t, hour.FeesToken0.Equal(dec("0.0005")))
	require.True(t, hour.FeesUSD.Equal(dec("0.0005")))
	require.True(t, hour.TVLUSD.Equal(pool.TotalValueLockedUSD))
	require.True(t, hour.InflowToken0.Equal(dec("1200.121")))
	require.Equal(t, mint.Timestamp, hour.StartTimestamp)

	sess := storage.NewSession(ctx, backend)
	ext, err := storage.NewTable[model.PoolExtension](storage.KindPoolExtension).GetOrThrow(sess, pool.ID)
	require.NoError(t, err)
	require.Equal(t, swap.SqrtPriceX96, ext.SqrtPriceX96)
	require.Equal(t, tick, ext.Tick)
}

func TestReplayedEventIsSkipped(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	proc := newTestProcessor(backend)
	b := &eventBuilder{pool: poolA, protocol: model.ProtocolConcentrated, token0: alt, token1: tkn}

	mint := b.next(model.EventMint)
	mint.Amount0 = "5000000"
	mint.Amount1 = "7000000000000000000"
	_, err := proc.Apply(ctx, mint)
	require.NoError(t, err)

	res, err := proc.Apply(ctx, mint)
	require.NoError(t, err)
	require.True(t, res.Skipped)

	pool := loadPool(t, backend, poolA)
	require.True(t, pool.TotalValueLockedToken0.Equal(dec("5")))
	require.Equal(t, uint64(1), pool.EventCount)
	require.True(t, loadToken(t, backend, altAddr).TotalTokenPooledAmount.Equal(dec("5")))
}

func TestEventsWithoutPositionAreApplied(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	proc := newTestProcessor(backend)
	b := &eventBuilder{pool: poolA, protocol: model.ProtocolConcentrated, token0: alt, token1: tkn}

	for i := 0; i < 2; i++ {
		mint := b.next(model.EventMint)
		mint.BlockNumber = 0
		mint.LogIndex = 0
		mint.Amount0 = "5000000"
		mint.Amount1 = "7000000000000000000"
		res, err := proc.Apply(ctx, mint)
		require.NoError(t, err)
		require.False(t, res.Skipped)
	}

	pool := loadPool(t, backend, poolA)
	require.True(t, pool.TotalValueLockedToken0.Equal(dec("10")))
	require.True(t, pool.TotalValueLockedToken1.Equal(dec("14")))
	require.Equal(t, uint64(2), pool.EventCount)
	require.True(t, loadToken(t, backend, altAddr).TotalTokenPooledAmount.Equal(dec("10")))
}

func TestLiquidityLifecycle(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	proc := newTestProcessor(backend)
	b := &eventBuilder{pool: poolA, protocol: model.ProtocolConcentrated, token0: alt, token1: usdc}

	for _, step := range []struct {
		kind   model.EventKind
		amount string
	}{
		{model.EventMint, "100000000"},
		{model.EventBurn, "40000000"},
		{model.EventCollect, "40000000"},
	} {
		event := b.next(step.kind)
		event.Amount0 = step.amount
		event.Amount1 = step.amount
		_, err := proc.Apply(ctx, event)
		require.NoError(t, err, step.kind)
	}

	pool := loadPool(t, backend, poolA)
	require.True(t, pool.TotalValueLockedToken0.Equal(dec("60")))
	require.True(t, pool.TotalValueLockedToken1.Equal(dec("60")))
	require.True(t, pool.LiquidityVolumeToken0.Equal(dec("140")))

	hour := loadBucket(t, backend, storage.KindPoolHour, 0, poolA)
	require.True(t, hour.InflowToken0.Equal(dec("100")))
	require.True(t, hour.OutflowToken0.Equal(dec("40")))
	require.True(t, hour.NetInflowToken0.Equal(dec("60")))
	require.True(t, hour.TVLToken0.Equal(dec("60")), "collect refreshes the snapshot")

	require.True(t, loadToken(t, backend, usdcAddr).TotalTokenPooledAmount.Equal(dec("60")))
}

func TestModifyLiquidityMovesSignedAmounts(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	proc := newTestProcessor(backend)
	b := &eventBuilder{
		pool:     "0x21c67e77068de97969ba93d4aab21826d33ca12bb9f565d8496e8fda8a82ca27",
		protocol: model.ProtocolSingleton,
		token0:   alt,
		token1:   usdc,
	}

	add := b.next(model.EventModifyLiquidity)
	add.Amount0 = "3000000"
	add.Amount1 = "2000000"
	_, err := proc.Apply(ctx, add)
	require.NoError(t, err)

	remove := b.next(model.EventModifyLiquidity)
	remove.Amount0 = "-1000000"
	remove.Amount1 = "-500000"
	_, err = proc.Apply(ctx, remove)
	require.NoError(t, err)

	pool := loadPool(t, backend, b.pool)
	require.True(t, pool.TotalValueLockedToken0.Equal(dec("2")))
	require.True(t, pool.TotalValueLockedToken1.Equal(dec("1.5")))

	day := loadBucket(t, backend, storage.KindPoolDay, 0, b.pool)
	require.True(t, day.NetInflowToken1.Equal(dec("1.5")))
	require.True(t, day.OutflowToken0.Equal(dec("1")))
}

func TestDynamicFeeSwapRemovesNonLPFee(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	proc := newTestProcessor(backend)
	b := &eventBuilder{pool: poolA, protocol: model.ProtocolDynamicFee, token0: alt, token1: usdc}

	config := b.next(model.EventConfig)
	communityFee := uint16(150)
	config.CommunityFee = &communityFee
	config.FeeTierPpm = 3000
	_, err := proc.Apply(ctx, config)
	require.NoError(t, err)

	mint := b.next(model.EventMint)
	mint.Amount0 = "1000000000"
	mint.Amount1 = "1000000000"
	_, err = proc.Apply(ctx, mint)
	require.NoError(t, err)

	swap := b.next(model.EventSwap)
	swap.Amount0 = "1000000"
	swap.Amount1 = "-990000"
	swap.PluginFeePpm = 10000
	_, err = proc.Apply(ctx, swap)
	require.NoError(t, err)

	pool := loadPool(t, backend, poolA)
	require.True(t, pool.IsDynamicFee)
	require.Equal(t, uint32(3000), pool.CurrentFeeTier)
	require.True(t, pool.TotalValueLockedToken0.Equal(dec("1000.98955")), "got %s", pool.TotalValueLockedToken0)
	require.True(t, pool.TotalValueLockedToken1.Equal(dec("999.01")))
	require.True(t, loadToken(t, backend, altAddr).TotalTokenPooledAmount.Equal(dec("1000.98955")))

	hour := loadBucket(t, backend, storage.KindPoolHour, 0, poolA)
	require.True(t, hour.FeesToken0.Equal(dec("0.013")), "swap fee plus plugin fee")

	override := b.next(model.EventSwap)
	override.Amount0 = "-500000"
	override.Amount1 = "505000"
	override.OverrideFeePpm = 5000
	_, err = proc.Apply(ctx, override)
	require.NoError(t, err)
	require.Equal(t, uint32(5000), loadPool(t, backend, poolA).CurrentFeeTier)
}

func TestStaticPoolKeepsFeeTierOnOverride(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	proc := newTestProcessor(backend)
	b := &eventBuilder{pool: poolA, protocol: model.ProtocolConcentrated, token0: alt, token1: usdc}

	swap := b.next(model.EventSwap)
	swap.FeeTierPpm = 3000
	swap.OverrideFeePpm = 10000
	swap.Amount0 = "1000000"
	swap.Amount1 = "-990000"
	_, err := proc.Apply(ctx, swap)
	require.NoError(t, err)

	pool := loadPool(t, backend, poolA)
	require.Equal(t, uint32(3000), pool.CurrentFeeTier)
	hour := loadBucket(t, backend, storage.KindPoolHour, 0, poolA)
	require.True(t, hour.FeesToken0.Equal(dec("0.01")))
}

func TestSwapFallsBackToEventFeeTier(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	proc := newTestProcessor(backend)
	b := &eventBuilder{pool: poolA, protocol: model.ProtocolConcentrated, token0: alt, token1: usdc}

	mint := b.next(model.EventMint)
	mint.Amount0 = "100000000"
	mint.Amount1 = "100000000"
	_, err := proc.Apply(ctx, mint)
	require.NoError(t, err)
	require.Equal(t, uint32(0), loadPool(t, backend, poolA).CurrentFeeTier)

	swap := b.next(model.EventSwap)
	swap.FeeTierPpm = 3000
	swap.Amount0 = "1000000"
	swap.Amount1 = "-990000"
	_, err = proc.Apply(ctx, swap)
	require.NoError(t, err)

	hour := loadBucket(t, backend, storage.KindPoolHour, 0, poolA)
	require.True(t, hour.FeesToken0.Equal(dec("0.003")), "fees %s", hour.FeesToken0)
}

func syncEvent(b *eventBuilder, reserve0, reserve1 string) model.PoolEvent {
	event := b.next(model.EventSync)
	event.Reserve0 = reserve0
	event.Reserve1 = reserve1
	return event
}

func TestSyncSwitchesMostLiquidPool(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	proc := newTestProcessor(backend)
	tknID := model.EntityID(chainID, tknAddr)
	usdcID := model.EntityID(chainID, usdcAddr)

	a := &eventBuilder{pool: poolA, protocol: model.ProtocolConstantProduct, token0: tkn, token1: usdc}
	_, err := proc.Apply(ctx, syncEvent(a, "100000000000000000000", "100000000"))
	require.NoError(t, err)
	require.True(t, loadToken(t, backend, tknAddr).USDPrice.Equal(dec("1")))

	b := &eventBuilder{pool: poolB, protocol: model.ProtocolConstantProduct, token0: tkn, token1: usdc}
	res, err := proc.Apply(ctx, syncEvent(b, "1000000000000000000000", "2000000000"))
	require.NoError(t, err)
	require.Equal(t, []GateDecision{
		{TokenID: tknID, Outcome: pricing.AcceptedPointerSwitched},
		{TokenID: usdcID, Outcome: pricing.AcceptedWithinThreshold},
	}, res.Gate)

	token := loadToken(t, backend, tknAddr)
	require.True(t, token.USDPrice.Equal(dec("2")))
	require.Equal(t, model.EntityID(chainID, poolB), token.MostLiquidPoolID)
	require.Equal(t, model.EntityID(chainID, poolA), loadToken(t, backend, usdcAddr).MostLiquidPoolID)

	c := &eventBuilder{pool: poolC, protocol: model.ProtocolConstantProduct, token0: tkn, token1: usdc}
	res, err = proc.Apply(ctx, syncEvent(c, "10000000000000000000", "40000000"))
	require.NoError(t, err)
	require.Equal(t, pricing.RejectedLessLiquid, res.Gate[0].Outcome)

	token = loadToken(t, backend, tknAddr)
	require.True(t, token.USDPrice.Equal(dec("2")))
	require.True(t, token.TotalTokenPooledAmount.Equal(dec("1110")))
	require.True(t, token.TotalValuePooledUSD.Equal(dec("2220")))
	require.True(t, loadPool(t, backend, poolC).TotalValueLockedUSD.Equal(dec("60")))
	for _, pool := range []string{poolB, poolC} {
		requireTVLInvariant(t, backend, pool)
	}
}

func TestSyncTracksReserveDeltas(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	proc := newTestProcessor(backend)
	b := &eventBuilder{pool: poolA, protocol: model.ProtocolConstantProduct, token0: tkn, token1: usdc}

	_, err := proc.Apply(ctx, syncEvent(b, "10000000000000000000", "20000000000"))
	require.NoError(t, err)
	_, err = proc.Apply(ctx, syncEvent(b, "11000000000000000000", "20000000000"))
	require.NoError(t, err)

	pool := loadPool(t, backend, poolA)
	require.True(t, pool.TotalValueLockedToken0.Equal(dec("11")))
	require.True(t, loadToken(t, backend, tknAddr).TotalTokenPooledAmount.Equal(dec("11")))
	requireTVLInvariant(t, backend, poolA)

	swap := b.next(model.EventSwap)
	swap.FeeTierPpm = 3000
	swap.Amount0 = "1000000000000000000"
	swap.Amount1 = "-1800000000"
	_, err = proc.Apply(ctx, swap)
	require.NoError(t, err)
	pool = loadPool(t, backend, poolA)
	require.True(t, pool.TotalValueLockedToken0.Equal(dec("11")), "constant-product swaps leave TVL to sync")
	require.Equal(t, uint64(1), pool.SwapCount)
}

func TestMissingReferencePoolFailsEvent(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	sess := storage.NewSession(ctx, backend)
	token := model.NewToken(chainID, model.EntityID(chainID, tknAddr), tkn).
		WithPrice(dec("3"), model.EntityID(chainID, poolC))
	require.NoError(t, storage.NewTable[model.Token](storage.KindToken).Set(sess, token))
	require.NoError(t, sess.Commit())

	proc := newTestProcessor(backend)
	b := &eventBuilder{pool: poolA, protocol: model.ProtocolConstantProduct, token0: tkn, token1: usdc}
	_, err := proc.Apply(ctx, syncEvent(b, "10000000000000000000", "20000000000"))
	require.ErrorIs(t, err, storage.ErrEntityNotFound)
	require.Zero(t, backend.Count(storage.KindPool))
}

func TestUnsupportedAndInvalidEvents(t *testing.T) {
	proc := newTestProcessor(memory.New())
	b := &eventBuilder{pool: poolA, protocol: model.ProtocolConcentrated, token0: alt, token1: usdc}

	_, err := proc.Apply(context.Background(), b.next("flash"))
	require.ErrorIs(t, err, ErrUnsupportedEvent)

	noInput := b.next(model.EventSwap)
	noInput.Amount0 = "-1"
	noInput.Amount1 = "-1"
	_, err = proc.Apply(context.Background(), noInput)
	require.ErrorIs(t, err, ErrInvalidEvent)

	missing := b.next(model.EventMint)
	missing.Token1 = model.TokenRef{}
	_, err = proc.Apply(context.Background(), missing)
	require.ErrorIs(t, err, ErrInvalidEvent)
}

type failingBackend struct {
	*memory.Backend
}

func (failingBackend) Commit(context.Context, []storage.Write) error {
	return errors.New("connection reset")
}

func TestCommitFailureWritesNothing(t *testing.T) {
	backend := failingBackend{memory.New()}
	proc := newTestProcessor(backend)
	b := &eventBuilder{pool: poolA, protocol: model.ProtocolConcentrated, token0: alt, token1: usdc}

	mint := b.next(model.EventMint)
	mint.Amount0 = "1000000"
	mint.Amount1 = "1000000"
	_, err := proc.Apply(context.Background(), mint)
	require.ErrorIs(t, err, ErrPersist)
	require.Zero(t, backend.Count(storage.KindPool))
	require.Zero(t, backend.Count(storage.KindPoolHour))
}
