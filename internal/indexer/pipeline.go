package indexer

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"ammLedger/internal/metrics"
	"ammLedger/internal/model"
	"ammLedger/internal/storage"
)

// EventDecoder turns raw logs into pool events. *dex.Decoder satisfies it.
type EventDecoder interface {
	CanDecode(topic0 string) bool
	Decode(ctx context.Context, rec model.LogRecord) (model.PoolEvent, error)
}

// PipelineConfig configures a Pipeline.
type PipelineConfig struct {
	// Errors receives logs that have a known topic but fail to decode. Optional.
	Errors  *storage.JSONLFile[model.DecodeError]
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Pipeline is a Sink that decodes logs and forwards the events to an EventHandler.
type Pipeline struct {
	decoder EventDecoder
	next    EventHandler
	errors  *storage.JSONLFile[model.DecodeError]
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	totals DecodeStats
}

func NewPipeline(decoder EventDecoder, next EventHandler, cfg PipelineConfig) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		decoder: decoder,
		next:    next,
		errors:  cfg.Errors,
		logger:  logger,
		metrics: cfg.Metrics,
	}
}

// DecodeStats counts the outcome of decoding one batch.
type DecodeStats struct {
	Total   int
	Decoded int
	Skipped int
	Failed  int
}

// Handle implements Sink.
func (p *Pipeline) Handle(ctx context.Context, records []model.LogRecord) error {
	events, stats, err := p.Decode(ctx, records)
	if err != nil {
		return err
	}
	p.logger.Debug("logs decoded",
		zap.Int("total", stats.Total),
		zap.Int("decoded", stats.Decoded),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
	)
	if len(events) == 0 {
		return nil
	}
	return p.next.HandleEvents(ctx, events)
}

// Decode decodes records in order. Logs with an unknown topic are skipped; decode failures
// are written to the errors file and do not stop the batch.
func (p *Pipeline) Decode(ctx context.Context, records []model.LogRecord) ([]model.PoolEvent, DecodeStats, error) {
	stats := DecodeStats{Total: len(records)}
	events := make([]model.PoolEvent, 0, len(records))
	var failures []model.DecodeError

	for _, record := range records {
		if record.Removed || !p.decoder.CanDecode(record.Topic0()) {
			stats.Skipped++
			continue
		}
		event, err := p.decoder.Decode(ctx, record)
		p.metrics.LogDecoded(err)
		if err != nil {
			if ctx.Err() != nil {
				return nil, stats, ctx.Err()
			}
			stats.Failed++
			failures = append(failures, model.NewDecodeError(record, err))
			p.logger.Warn("decode failed",
				zap.String("tx_hash", record.TxHash),
				zap.Uint64("log_index", record.LogIndex),
				zap.String("address", record.Address),
				zap.Error(err),
			)
			continue
		}
		stats.Decoded++
		events = append(events, event)
	}

	if p.errors != nil {
		if err := p.errors.Append(failures); err != nil {
			return nil, stats, fmt.Errorf("write decode errors: %w", err)
		}
	}

	p.mu.Lock()
	p.totals.add(stats)
	p.mu.Unlock()
	return events, stats, nil
}

// Totals returns the stats accumulated over every Decode call.
func (p *Pipeline) Totals() DecodeStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totals
}

func (s *DecodeStats) add(other DecodeStats) {
	s.Total += other.Total
	s.Decoded += other.Decoded
	s.Skipped += other.Skipped
	s.Failed += other.Failed
}

// LogFile is a Sink that appends raw logs to a JSONL file.
type LogFile struct {
	File *storage.JSONLFile[model.LogRecord]
}

func (s LogFile) Handle(_ context.Context, records []model.LogRecord) error {
	return s.File.Append(records)
}

// EventFile is an EventHandler that appends events to a JSONL file.
type EventFile struct {
	File *storage.JSONLFile[model.PoolEvent]
}

func (s EventFile) HandleEvents(_ context.Context, events []model.PoolEvent) error {
	return s.File.Append(events)
}
