package aggregate

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"ammLedger/internal/model"
	"ammLedger/internal/storage"
	"ammLedger/internal/storage/memory"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testPool() model.Pool {
	return model.Pool{
		ID:                 "56_0xpool",
		ChainID:            56,
		Address:            "0xPool",
		CreatedAtTimestamp: 1_000,
	}.WithTVL(dec("10"), dec("20"), dec("2"), dec("1"))
}

func TestIndexAnchoredToCreation(t *testing.T) {
	require.Equal(t, uint64(0), Index(1_000, 1_000, model.PeriodHourly))
	require.Equal(t, uint64(0), Index(4_599, 1_000, model.PeriodHourly))
	require.Equal(t, uint64(1), Index(4_600, 1_000, model.PeriodHourly))
	require.Equal(t, uint64(0), Index(87_399, 1_000, model.PeriodDaily))
	require.Equal(t, uint64(1), Index(87_400, 1_000, model.PeriodDaily))
	require.Equal(t, uint64(0), Index(10, 1_000, model.PeriodDaily))
}

func TestNewBucketStartsAtFirstTouch(t *testing.T) {
	b := NewBucket(testPool(), model.PeriodHourly, 8_000)
	require.Equal(t, uint64(1), b.Index)
	require.Equal(t, uint64(8_000), b.StartTimestamp)
	require.Equal(t, "56_1-0xpool", b.ID)
	require.Equal(t, "56_0xpool", b.PoolID)
}

func TestSnapshotOverwritesTVL(t *testing.T) {
	pool := testPool()
	b := SnapshotTVL(NewBucket(pool, model.PeriodHourly, 1_000), pool)
	b = SnapshotTVL(b, pool.WithTVL(dec("1"), dec("1"), dec("2"), dec("1")))
	require.True(t, b.TVLToken0.Equal(dec("1")))
	require.True(t, b.TVLUSD.Equal(dec("3")))
}

func TestSwapAccumulationIsAdditive(t *testing.T) {
	pool := testPool()
	delta := NewSwapDelta(dec("5"), dec("-9.5"), 0, dec("0.015"), dec("0.012"), dec("0.003"), dec("2"), dec("1"))
	require.True(t, delta.VolumeUSD.Equal(dec("9.75")), "volume usd %s", delta.VolumeUSD)
	require.True(t, delta.FeesUSD.Equal(dec("0.03")))
	require.True(t, delta.LPFeesUSD.Equal(dec("0.024")))

	once := AccumulateSwap(SnapshotTVL(NewBucket(pool, model.PeriodDaily, 1_000), pool), delta)

	const n = 7
	many := SnapshotTVL(NewBucket(pool, model.PeriodDaily, 1_000), pool)
	for i := 0; i < n; i++ {
		many = AccumulateSwap(many, delta)
	}

	times := decimal.NewFromInt(n)
	require.Equal(t, uint64(n), many.SwapCount)
	require.True(t, many.SwapVolumeToken0.Equal(once.SwapVolumeToken0.Mul(times)))
	require.True(t, many.SwapVolumeToken1.Equal(once.SwapVolumeToken1.Mul(times)))
	require.True(t, many.SwapVolumeUSD.Equal(once.SwapVolumeUSD.Mul(times)))
	require.True(t, many.FeesToken0.Equal(once.FeesToken0.Mul(times)))
	require.True(t, many.FeesUSD.Equal(once.FeesUSD.Mul(times)))
	require.True(t, many.LPFeesUSD.Equal(once.LPFeesUSD.Mul(times)))
	require.True(t, many.NonLPFeesUSD.Equal(once.NonLPFeesUSD.Mul(times)))
	require.True(t, many.FeesToken1.IsZero())
	require.False(t, many.SwapVolumeUSD.Equal(once.SwapVolumeUSD))
}

func TestSwapVolumeUSDWithOneUnpricedLeg(t *testing.T) {
	require.True(t, SwapVolumeUSD(dec("4"), dec("100"), dec("3"), decimal.Zero).Equal(dec("12")))
	require.True(t, SwapVolumeUSD(dec("4"), dec("100"), decimal.Zero, dec("0.5")).Equal(dec("50")))
	require.True(t, SwapVolumeUSD(dec("4"), dec("100"), decimal.Zero, decimal.Zero).IsZero())
}

func TestLiquidityAccumulationSplitsFlows(t *testing.T) {
	pool := testPool()
	b := NewBucket(pool, model.PeriodHourly, 1_000)

	b = AccumulateLiquidity(b, LiquidityDelta{Amount0: dec("3"), Amount1: dec("-2"), Price0: dec("2"), Price1: dec("1")})
	b = AccumulateLiquidity(b, LiquidityDelta{Amount0: dec("-1"), Amount1: dec("4"), Price0: dec("2"), Price1: dec("1")})

	require.True(t, b.InflowToken0.Equal(dec("3")))
	require.True(t, b.OutflowToken0.Equal(dec("1")))
	require.True(t, b.NetInflowToken0.Equal(dec("2")))
	require.True(t, b.InflowToken1.Equal(dec("4")))
	require.True(t, b.OutflowToken1.Equal(dec("2")))
	require.True(t, b.NetInflowToken1.Equal(dec("2")))
	require.True(t, b.InflowUSD.Equal(dec("10")))
	require.True(t, b.OutflowUSD.Equal(dec("4")))
	require.True(t, b.NetInflowUSD.Equal(dec("6")))
	require.True(t, b.LiquidityVolumeUSD.Equal(dec("14")))
	require.True(t, b.LiquidityVolumeToken0.Equal(dec("4")))
}

func TestYieldGuardsZeroTVL(t *testing.T) {
	pool := model.Pool{ID: "p", Address: "0xp"}
	b := AccumulateSwap(SnapshotTVL(NewBucket(pool, model.PeriodHourly, 0), pool), SwapDelta{LPFeesUSD: dec("1")})
	require.True(t, b.Yield.IsZero())

	funded := testPool()
	b = AccumulateSwap(SnapshotTVL(NewBucket(funded, model.PeriodHourly, 1_000), funded), SwapDelta{LPFeesUSD: dec("4")})
	require.True(t, b.Yield.Equal(dec("0.1")), "yield %s", b.Yield)
}

func TestAnnualizeDailyRate(t *testing.T) {
	require.True(t, Annualize(dec("0.001"), model.PeriodDaily).Equal(dec("0.365")))
	require.True(t, Annualize(dec("0.001"), model.PeriodHourly).Equal(dec("8.76")))
}

func TestLedgerOpenReusesStoredBucket(t *testing.T) {
	backend := memory.New()
	ledger := NewLedger()
	pool := testPool()

	sess := storage.NewSession(context.Background(), backend)
	buckets, err := ledger.Open(sess, pool, 2_000)
	require.NoError(t, err)
	buckets = buckets.SnapshotTVL(pool).AccumulateSwap(SwapDelta{Volume0: dec("1")})
	require.NoError(t, ledger.Save(sess, buckets))
	require.NoError(t, sess.Commit())

	sess = storage.NewSession(context.Background(), backend)
	again, err := ledger.Open(sess, pool, 3_000)
	require.NoError(t, err)
	require.Equal(t, uint64(2_000), again.Hourly.StartTimestamp, "start stays at first touch")
	require.Equal(t, uint64(1), again.Hourly.SwapCount)
	require.Equal(t, uint64(1), again.Daily.SwapCount)

	next, err := ledger.Open(sess, pool, 5_000)
	require.NoError(t, err)
	require.Equal(t, uint64(1), next.Hourly.Index)
	require.Zero(t, next.Hourly.SwapCount)
	require.Equal(t, uint64(1), next.Daily.SwapCount)
}
