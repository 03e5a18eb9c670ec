package indexer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/alitto/pond/v2"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"ammLedger/internal/accounting"
	"ammLedger/internal/metrics"
	"ammLedger/internal/model"
)

// Applier applies a single pool event. *accounting.Processor satisfies it.
type Applier interface {
	Apply(ctx context.Context, event model.PoolEvent) (accounting.Result, error)
}

// EventHandler consumes batches of decoded pool events.
type EventHandler interface {
	HandleEvents(ctx context.Context, events []model.PoolEvent) error
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Workers int
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Dispatcher applies batches of events with one task per pool. Events of a pool run in batch
// order; events of pools sharing a token are serialized by per-token locks.
type Dispatcher struct {
	applier Applier
	pool    pond.Pool
	locks   *xsync.Map[string, *sync.Mutex]
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewDispatcher(applier Applier, cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{
		applier: applier,
		pool:    pond.NewPool(workers),
		locks:   xsync.NewMap[string, *sync.Mutex](),
		logger:  logger,
		metrics: cfg.Metrics,
	}
}

// Close waits for running tasks and stops the worker pool.
func (d *Dispatcher) Close() {
	d.pool.StopAndWait()
}

// Summary counts what a Dispatch call did.
type Summary struct {
	Events    int
	Applied   int
	Skipped   int
	Failed    int
	LastBlock uint64
}

// HandleEvents implements EventHandler.
func (d *Dispatcher) HandleEvents(ctx context.Context, events []model.PoolEvent) error {
	summary, err := d.Dispatch(ctx, events)
	if err != nil {
		return err
	}
	d.logger.Info("events dispatched",
		zap.Int("events", summary.Events),
		zap.Int("applied", summary.Applied),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Uint64("last_block", summary.LastBlock),
	)
	return nil
}

// Dispatch applies events and waits for all of them. Events that fail validation or reference
// missing entities are logged and counted; a persist failure or cancellation stops the batch.
func (d *Dispatcher) Dispatch(ctx context.Context, events []model.PoolEvent) (Summary, error) {
	summary := Summary{Events: len(events)}
	if len(events) == 0 {
		return summary, nil
	}
	timer := d.metrics.BatchTimer()
	defer timer.ObserveDuration()

	var applied, skipped, failed atomic.Int64
	group := d.pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	for _, partition := range partitionByPool(events) {
		group.SubmitErr(func() error {
			for _, event := range partition {
				if err := groupCtx.Err(); err != nil {
					return err
				}
				result, err := d.apply(groupCtx, event)
				switch {
				case err == nil && result.Skipped:
					skipped.Add(1)
				case err == nil:
					applied.Add(1)
				case fatal(err):
					return err
				default:
					failed.Add(1)
					d.logger.Warn("event failed",
						zap.String("event", event.Key()),
						zap.String("kind", string(event.Kind)),
						zap.String("pool", event.PoolAddress),
						zap.Error(err),
					)
				}
			}
			return nil
		})
	}

	err := group.Wait()
	summary.Applied = int(applied.Load())
	summary.Skipped = int(skipped.Load())
	summary.Failed = int(failed.Load())
	if err != nil {
		if errors.Is(err, pond.ErrGroupStopped) && ctx.Err() != nil {
			err = ctx.Err()
		}
		return summary, fmt.Errorf("dispatch: %w", err)
	}

	for _, event := range events {
		summary.LastBlock = max(summary.LastBlock, event.BlockNumber)
	}
	d.metrics.BlockProcessed(summary.LastBlock)
	return summary, nil
}

func (d *Dispatcher) apply(ctx context.Context, event model.PoolEvent) (accounting.Result, error) {
	ids := tokenIDs(event)
	locks := make([]*sync.Mutex, 0, len(ids))
	for _, id := range ids {
		mu, _ := d.locks.LoadOrStore(id, &sync.Mutex{})
		locks = append(locks, mu)
	}
	for _, mu := range locks {
		mu.Lock()
	}
	defer func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}()
	return d.applier.Apply(ctx, event)
}

func fatal(err error) bool {
	return errors.Is(err, accounting.ErrPersist) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// partitionByPool groups events by pool id, keeping batch order within each group and ordering
// groups by first appearance.
func partitionByPool(events []model.PoolEvent) [][]model.PoolEvent {
	index := make(map[string]int)
	var partitions [][]model.PoolEvent
	for _, event := range events {
		id := model.EntityID(event.ChainID, event.PoolAddress)
		i, ok := index[id]
		if !ok {
			i = len(partitions)
			index[id] = i
			partitions = append(partitions, nil)
		}
		partitions[i] = append(partitions[i], event)
	}
	return partitions
}

// tokenIDs returns the distinct token ids of an event in lock order.
func tokenIDs(event model.PoolEvent) []string {
	id0 := model.EntityID(event.ChainID, event.Token0.Address)
	id1 := model.EntityID(event.ChainID, event.Token1.Address)
	if id0 == id1 {
		return []string{id0}
	}
	ids := []string{id0, id1}
	sort.Strings(ids)
	return ids
}
