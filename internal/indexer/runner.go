package indexer

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"ammLedger/internal/metrics"
	"ammLedger/internal/model"
)

// LogSource is the chain access the runner needs. *chain.Client satisfies it.
type LogSource interface {
	ChainID(ctx context.Context) (*big.Int, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
}

// Sink receives each batch of fetched logs in block order. The checkpoint advances only after
// Handle returns nil.
type Sink interface {
	Handle(ctx context.Context, records []model.LogRecord) error
}

// RunConfig holds runtime settings for the runner.
type RunConfig struct {
	FromBlock uint64
	// ToBlock of 0 follows the chain head.
	ToBlock   uint64
	Addresses []common.Address
	Topic0    []common.Hash
	BatchSize uint64
	// PollInterval > 0 keeps following the head after catching up. Ignored when ToBlock is set.
	PollInterval time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// Runner streams logs from the chain into a Sink.
type Runner struct {
	cfg        RunConfig
	source     LogSource
	sink       Sink
	checkpoint CheckpointStore
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewRunner builds a Runner. A nil checkpoint store disables resuming.
func NewRunner(cfg RunConfig, source LogSource, sink Sink, checkpoint CheckpointStore, logger *zap.Logger, m *metrics.Metrics) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if checkpoint == nil {
		checkpoint = FileCheckpoint{}
	}
	return &Runner{
		cfg:        cfg,
		source:     source,
		sink:       sink,
		checkpoint: checkpoint,
		logger:     logger,
		metrics:    m,
	}
}

// Run executes the indexing loop until the target block is reached or, in follow mode, until
// ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	if r.source == nil {
		return fmt.Errorf("log source is nil")
	}
	if r.sink == nil {
		return fmt.Errorf("sink is nil")
	}
	if r.cfg.BatchSize == 0 {
		return fmt.Errorf("batch size must be greater than zero")
	}
	if len(r.cfg.Addresses) == 0 && len(r.cfg.Topic0) == 0 {
		return fmt.Errorf("at least one address or topic0 is required")
	}

	chainID, err := r.source.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("get chain id: %w", err)
	}
	if !chainID.IsUint64() {
		return fmt.Errorf("chain id does not fit in uint64: %s", chainID)
	}

	next := r.cfg.FromBlock
	last, ok, err := r.checkpoint.Load(ctx)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if ok && last >= next {
		next = last + 1
		r.logger.Info("resume from checkpoint", zap.Uint64("last_processed", last), zap.Uint64("from", next))
	}

	follow := r.cfg.ToBlock == 0 && r.cfg.PollInterval > 0
	for {
		to := r.cfg.ToBlock
		if to == 0 {
			latest, err := r.source.LatestBlockNumber(ctx)
			if err != nil {
				return fmt.Errorf("get latest block: %w", err)
			}
			to = latest
		}

		if next <= to {
			if err := r.syncRange(ctx, chainID.Uint64(), next, to); err != nil {
				return err
			}
			next = to + 1
		} else if !follow {
			r.logger.Info("nothing to sync", zap.Uint64("from", next), zap.Uint64("to", to))
		}

		if !follow {
			return nil
		}

		timer := time.NewTimer(r.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (r *Runner) syncRange(ctx context.Context, chainID, from, to uint64) error {
	ranges, err := SplitRange(from, to, r.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, blockRange := range ranges {
		if err := ctx.Err(); err != nil {
			return err
		}

		r.logger.Info("fetch logs", zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))

		logs, err := r.filterLogsWithRetry(ctx, blockRange.From, blockRange.To)
		if err != nil {
			return fmt.Errorf("filter logs: %w", err)
		}

		ingestedAt := time.Now().UTC()
		seen := make(map[string]struct{}, len(logs))
		records := make([]model.LogRecord, 0, len(logs))
		for _, log := range logs {
			if log.Removed || isDuplicate(seen, log) {
				continue
			}

			ts, err := r.blockTimestampWithRetry(ctx, log.BlockNumber)
			if err != nil {
				return fmt.Errorf("block timestamp %d: %w", log.BlockNumber, err)
			}
			records = append(records, buildLogRecord(chainID, log, ts, ingestedAt))
		}

		if err := r.sink.Handle(ctx, records); err != nil {
			return fmt.Errorf("handle logs %d-%d: %w", blockRange.From, blockRange.To, err)
		}
		if err := r.checkpoint.Save(ctx, blockRange.To); err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}
		r.metrics.BlockProcessed(blockRange.To)

		r.logger.Info("batch complete",
			zap.Int("logs", len(records)),
			zap.Uint64("from", blockRange.From),
			zap.Uint64("to", blockRange.To),
			zap.Uint64("blocks", blockRange.Blocks()),
		)
	}
	return nil
}

func (r *Runner) filterLogsWithRetry(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	var logs []types.Log
	err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		logs, err = r.source.FilterLogs(ctx, fromBlock, toBlock, r.cfg.Addresses, r.cfg.Topic0)
		if err != nil {
			r.logger.Warn("filter logs failed", zap.Error(err), zap.Uint64("from", fromBlock), zap.Uint64("to", toBlock))
		}
		return err
	})
	return logs, err
}

func (r *Runner) blockTimestampWithRetry(ctx context.Context, blockNumber uint64) (uint64, error) {
	var ts uint64
	err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		ts, err = r.source.BlockTimestamp(ctx, blockNumber)
		if err != nil {
			r.logger.Warn("block timestamp fetch failed", zap.Error(err), zap.Uint64("block_number", blockNumber))
		}
		return err
	})
	return ts, err
}

func isDuplicate(seen map[string]struct{}, log types.Log) bool {
	id := fmt.Sprintf("%d:%s:%d", log.BlockNumber, log.TxHash.Hex(), log.Index)
	if _, ok := seen[id]; ok {
		return true
	}
	seen[id] = struct{}{}
	return false
}
