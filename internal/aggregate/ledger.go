// Package aggregate maintains the hourly and daily pool buckets.
package aggregate

import (
	"fmt"

	"github.com/shopspring/decimal"

	"ammLedger/internal/amount"
	"ammLedger/internal/model"
	"ammLedger/internal/storage"
)

// Index returns the bucket index of ts counted from the pool's creation.
func Index(ts, createdAt uint64, period model.Period) uint64 {
	if ts <= createdAt {
		return 0
	}
	return (ts - createdAt) / period.Seconds()
}

// NewBucket creates an empty bucket first touched at ts.
func NewBucket(pool model.Pool, period model.Period, ts uint64) model.Bucket {
	index := Index(ts, pool.CreatedAtTimestamp, period)
	return model.Bucket{
		ID:             model.BucketID(pool.ChainID, index, pool.Address),
		PoolID:         pool.ID,
		Period:         period,
		Index:          index,
		StartTimestamp: ts,
	}
}

// SnapshotTVL overwrites the bucket's TVL fields with the pool's current TVL.
func SnapshotTVL(b model.Bucket, pool model.Pool) model.Bucket {
	b.TVLToken0 = pool.TotalValueLockedToken0
	b.TVLToken1 = pool.TotalValueLockedToken1
	b.TVLUSD = pool.TotalValueLockedUSD
	return withYield(b)
}

// SwapDelta is one swap's contribution to a bucket.
type SwapDelta struct {
	Volume0      decimal.Decimal
	Volume1      decimal.Decimal
	VolumeUSD    decimal.Decimal
	Fees0        decimal.Decimal
	Fees1        decimal.Decimal
	FeesUSD      decimal.Decimal
	LPFeesUSD    decimal.Decimal
	NonLPFeesUSD decimal.Decimal
}

// NewSwapDelta values a swap at the tokens' current prices. Amounts are signed token units;
// fees are token units of the input token identified by inputIndex.
func NewSwapDelta(amount0, amount1 decimal.Decimal, inputIndex int, totalFee, lpFee, nonLPFee decimal.Decimal, price0, price1 decimal.Decimal) SwapDelta {
	d := SwapDelta{
		Volume0: amount0.Abs(),
		Volume1: amount1.Abs(),
	}
	d.VolumeUSD = SwapVolumeUSD(d.Volume0, d.Volume1, price0, price1)

	inputPrice := price0
	if inputIndex == 1 {
		inputPrice = price1
		d.Fees1 = totalFee
	} else {
		d.Fees0 = totalFee
	}
	d.FeesUSD = totalFee.Mul(inputPrice)
	d.LPFeesUSD = lpFee.Mul(inputPrice)
	d.NonLPFeesUSD = nonLPFee.Mul(inputPrice)
	return d
}

// SwapVolumeUSD averages both legs when both tokens are priced, otherwise it uses the priced leg.
func SwapVolumeUSD(volume0, volume1, price0, price1 decimal.Decimal) decimal.Decimal {
	leg0 := volume0.Mul(price0)
	leg1 := volume1.Mul(price1)
	switch {
	case price0.IsPositive() && price1.IsPositive():
		return leg0.Add(leg1).Div(decimal.NewFromInt(2))
	case price0.IsPositive():
		return leg0
	default:
		return leg1
	}
}

// AccumulateSwap adds a swap to the bucket's counters.
func AccumulateSwap(b model.Bucket, d SwapDelta) model.Bucket {
	b.SwapVolumeToken0 = b.SwapVolumeToken0.Add(d.Volume0)
	b.SwapVolumeToken1 = b.SwapVolumeToken1.Add(d.Volume1)
	b.SwapVolumeUSD = b.SwapVolumeUSD.Add(d.VolumeUSD)
	b.FeesToken0 = b.FeesToken0.Add(d.Fees0)
	b.FeesToken1 = b.FeesToken1.Add(d.Fees1)
	b.FeesUSD = b.FeesUSD.Add(d.FeesUSD)
	b.LPFeesUSD = b.LPFeesUSD.Add(d.LPFeesUSD)
	b.NonLPFeesUSD = b.NonLPFeesUSD.Add(d.NonLPFeesUSD)
	b.SwapCount++
	return withYield(b)
}

// LiquidityDelta is a signed per-token liquidity movement valued at current prices.
type LiquidityDelta struct {
	Amount0 decimal.Decimal
	Amount1 decimal.Decimal
	Price0  decimal.Decimal
	Price1  decimal.Decimal
}

// VolumeUSD is the absolute USD value moved.
func (d LiquidityDelta) VolumeUSD() decimal.Decimal {
	return d.Amount0.Abs().Mul(d.Price0).Add(d.Amount1.Abs().Mul(d.Price1))
}

// AccumulateLiquidity adds positive deltas to inflow and negative deltas to outflow.
func AccumulateLiquidity(b model.Bucket, d LiquidityDelta) model.Bucket {
	in0, out0 := amount.Split(d.Amount0)
	in1, out1 := amount.Split(d.Amount1)
	inUSD := in0.Mul(d.Price0).Add(in1.Mul(d.Price1))
	outUSD := out0.Mul(d.Price0).Add(out1.Mul(d.Price1))

	b.LiquidityVolumeToken0 = b.LiquidityVolumeToken0.Add(d.Amount0.Abs())
	b.LiquidityVolumeToken1 = b.LiquidityVolumeToken1.Add(d.Amount1.Abs())
	b.LiquidityVolumeUSD = b.LiquidityVolumeUSD.Add(d.VolumeUSD())

	b.InflowToken0 = b.InflowToken0.Add(in0)
	b.InflowToken1 = b.InflowToken1.Add(in1)
	b.InflowUSD = b.InflowUSD.Add(inUSD)
	b.OutflowToken0 = b.OutflowToken0.Add(out0)
	b.OutflowToken1 = b.OutflowToken1.Add(out1)
	b.OutflowUSD = b.OutflowUSD.Add(outUSD)
	b.NetInflowToken0 = b.NetInflowToken0.Add(in0.Sub(out0))
	b.NetInflowToken1 = b.NetInflowToken1.Add(in1.Sub(out1))
	b.NetInflowUSD = b.NetInflowUSD.Add(inUSD.Sub(outUSD))
	return b
}

// Buckets is the pair of buckets an event touches.
type Buckets struct {
	Hourly model.Bucket
	Daily  model.Bucket
}

func (b Buckets) SnapshotTVL(pool model.Pool) Buckets {
	return Buckets{Hourly: SnapshotTVL(b.Hourly, pool), Daily: SnapshotTVL(b.Daily, pool)}
}

func (b Buckets) AccumulateSwap(d SwapDelta) Buckets {
	return Buckets{Hourly: AccumulateSwap(b.Hourly, d), Daily: AccumulateSwap(b.Daily, d)}
}

func (b Buckets) AccumulateLiquidity(d LiquidityDelta) Buckets {
	return Buckets{Hourly: AccumulateLiquidity(b.Hourly, d), Daily: AccumulateLiquidity(b.Daily, d)}
}

// Ledger loads and stages buckets through a storage session.
type Ledger struct {
	hourly storage.Table[model.Bucket]
	daily  storage.Table[model.Bucket]
}

func NewLedger() Ledger {
	return Ledger{
		hourly: storage.NewTable[model.Bucket](storage.KindPoolHour),
		daily:  storage.NewTable[model.Bucket](storage.KindPoolDay),
	}
}

// Open returns the pool's hourly and daily buckets for ts, creating them on first touch.
func (l Ledger) Open(sess *storage.Session, pool model.Pool, ts uint64) (Buckets, error) {
	hourly, err := l.open(sess, l.hourly, pool, model.PeriodHourly, ts)
	if err != nil {
		return Buckets{}, err
	}
	daily, err := l.open(sess, l.daily, pool, model.PeriodDaily, ts)
	if err != nil {
		return Buckets{}, err
	}
	return Buckets{Hourly: hourly, Daily: daily}, nil
}

func (l Ledger) open(sess *storage.Session, table storage.Table[model.Bucket], pool model.Pool, period model.Period, ts uint64) (model.Bucket, error) {
	fresh := NewBucket(pool, period, ts)
	bucket, _, err := table.GetOrCreate(sess, fresh.ID, func() model.Bucket { return fresh })
	if err != nil {
		return model.Bucket{}, fmt.Errorf("open %s bucket: %w", period, err)
	}
	return bucket, nil
}

// Save stages both buckets.
func (l Ledger) Save(sess *storage.Session, b Buckets) error {
	if err := l.hourly.Set(sess, b.Hourly); err != nil {
		return err
	}
	return l.daily.Set(sess, b.Daily)
}
