package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ammLedger/internal/config"
	"ammLedger/internal/indexer"
)

func runProcess(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadProcess(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := startMetrics(ctx, cfg.MetricsAddr, logger)

	backend, _, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer closeStore(backend, logger)

	processor, err := newProcessor(cfg.Accounting, backend, logger, m)
	if err != nil {
		return err
	}
	dispatcher := indexer.NewDispatcher(processor, indexer.DispatcherConfig{
		Workers: cfg.Workers,
		Logger:  logger,
		Metrics: m,
	})
	defer dispatcher.Close()

	var source indexer.EventSource
	switch cfg.Source {
	case config.SourceKafka:
		kafkaSource, err := indexer.NewKafkaSource(indexer.KafkaConfig{
			Brokers:       cfg.Kafka.Brokers,
			Topic:         cfg.Kafka.Topic,
			GroupID:       cfg.Kafka.GroupID,
			BatchSize:     cfg.BatchSize,
			FlushInterval: cfg.Kafka.FlushInterval,
		}, logger)
		if err != nil {
			return err
		}
		defer kafkaSource.Close()
		source = kafkaSource
	default:
		source = indexer.FileSource{Path: cfg.In, BatchSize: cfg.BatchSize, Logger: logger}
	}

	logger.Info("process start",
		zap.String("source", cfg.Source),
		zap.String("in", cfg.In),
		zap.Strings("kafka_brokers", cfg.Kafka.Brokers),
		zap.String("kafka_topic", cfg.Kafka.Topic),
		zap.String("store", cfg.Store.Backend),
		zap.Int("workers", cfg.Workers),
		zap.Int("batch_size", cfg.BatchSize),
	)

	if err := source.Run(ctx, dispatcher); err != nil {
		return ignoreCanceled(err)
	}
	logger.Info("process complete")
	return nil
}
