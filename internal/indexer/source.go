package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"ammLedger/internal/model"
	"ammLedger/internal/storage"
)

const (
	defaultEventBatch    = 500
	defaultFlushInterval = time.Second
)

// EventSource feeds batches of pool events to a handler until it is exhausted or ctx is done.
type EventSource interface {
	Run(ctx context.Context, handler EventHandler) error
}

// FileSource reads pool events from a JSONL file.
type FileSource struct {
	Path      string
	BatchSize int
	Logger    *zap.Logger
}

func (s FileSource) Run(ctx context.Context, handler EventHandler) error {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	batchSize := s.BatchSize
	if batchSize <= 0 {
		batchSize = defaultEventBatch
	}

	file, err := os.Open(s.Path)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer file.Close()

	batch := make([]model.PoolEvent, 0, batchSize)
	var total, malformed int
	err = storage.ScanJSONL(ctx, file, func(event model.PoolEvent, err error) error {
		if err != nil {
			malformed++
			logger.Warn("skip malformed event", zap.Error(err))
			return nil
		}
		total++
		batch = append(batch, event)
		if len(batch) < batchSize {
			return nil
		}
		if err := handler.HandleEvents(ctx, batch); err != nil {
			return err
		}
		batch = make([]model.PoolEvent, 0, batchSize)
		return nil
	})
	if err != nil {
		return err
	}
	if len(batch) > 0 {
		if err := handler.HandleEvents(ctx, batch); err != nil {
			return err
		}
	}

	logger.Info("input complete", zap.String("path", s.Path), zap.Int("events", total), zap.Int("malformed", malformed))
	return nil
}

// KafkaConfig configures a KafkaSource. Messages carry one JSON encoded PoolEvent each.
type KafkaConfig struct {
	Brokers       []string
	Topic         string
	GroupID       string
	BatchSize     int
	FlushInterval time.Duration
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSource consumes pool events from a Kafka topic. Offsets are committed only after the
// handler accepted the batch, so a restart replays at most the batch in flight.
type KafkaSource struct {
	reader        messageReader
	batchSize     int
	flushInterval time.Duration
	logger        *zap.Logger
}

func NewKafkaSource(cfg KafkaConfig, logger *zap.Logger) (*KafkaSource, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers cannot be empty")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic cannot be empty")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("consumer group cannot be empty")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	return newKafkaSource(reader, cfg, logger), nil
}

func newKafkaSource(reader messageReader, cfg KafkaConfig, logger *zap.Logger) *KafkaSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultEventBatch
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	return &KafkaSource{
		reader:        reader,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		logger:        logger,
	}
}

// Close closes the underlying reader.
func (s *KafkaSource) Close() error {
	return s.reader.Close()
}

// Run consumes until ctx is done. Cancellation is not an error.
func (s *KafkaSource) Run(ctx context.Context, handler EventHandler) error {
	for {
		events, msgs, err := s.fill(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if len(events) > 0 {
			if err := handler.HandleEvents(ctx, events); err != nil {
				return err
			}
		}
		if err := s.reader.CommitMessages(ctx, msgs...); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit offsets: %w", err)
		}
	}
}

// fill blocks for the first message, then collects more until the batch is full or the flush
// interval passes.
func (s *KafkaSource) fill(ctx context.Context) ([]model.PoolEvent, []kafka.Message, error) {
	first, err := s.reader.FetchMessage(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch message: %w", err)
	}
	msgs := []kafka.Message{first}

	flushCtx, cancel := context.WithTimeout(ctx, s.flushInterval)
	defer cancel()
	for len(msgs) < s.batchSize {
		msg, err := s.reader.FetchMessage(flushCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || flushCtx.Err() != nil {
				break
			}
			return nil, nil, fmt.Errorf("fetch message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	events := make([]model.PoolEvent, 0, len(msgs))
	for _, msg := range msgs {
		var event model.PoolEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			s.logger.Warn("skip malformed message",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			continue
		}
		events = append(events, event)
	}
	return events, msgs, nil
}
