package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ammLedger/internal/chain"
	"ammLedger/internal/config"
	"ammLedger/internal/indexer"
	"ammLedger/internal/model"
	"ammLedger/internal/storage"
)

const syncStateName = "sync"

func runSync(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadSync(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	runCfg, err := runConfig(cfg.RPC)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := startMetrics(ctx, cfg.MetricsAddr, logger)

	chainClient, err := chain.NewClient(ctx, cfg.RPC.URL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	decoder, err := newDecoder(chainClient, cfg.Dex, logger)
	if err != nil {
		return err
	}
	if len(runCfg.Topic0) == 0 {
		runCfg.Topic0 = decoder.Topics()
	}

	backend, pg, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer closeStore(backend, logger)

	var checkpoint indexer.CheckpointStore = indexer.FileCheckpoint{Path: cfg.Checkpoint}
	if cfg.Checkpoint == config.CheckpointInStore {
		if pg == nil {
			return fmt.Errorf("checkpoint %q needs the postgres store", config.CheckpointInStore)
		}
		checkpoint = indexer.DBCheckpoint{Store: pg, Name: syncStateName}
	}

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

	var errs *storage.JSONLFile[model.DecodeError]
	if cfg.Errors != "" {
		errs = storage.NewJSONLFile[model.DecodeError](cfg.Errors)
	}
	pipeline := indexer.NewPipeline(decoder, dispatcher, indexer.PipelineConfig{
		Errors:  errs,
		Logger:  logger,
		Metrics: m,
	})

	runner := indexer.NewRunner(runCfg, chainClient, pipeline, checkpoint, logger, m)

	logger.Info("sync start",
		zap.String("rpc", cfg.RPC.URL),
		zap.Uint64("from", runCfg.FromBlock),
		zap.Uint64("to", runCfg.ToBlock),
		zap.Int("addresses", len(runCfg.Addresses)),
		zap.Int("topic0", len(runCfg.Topic0)),
		zap.String("store", cfg.Store.Backend),
		zap.String("checkpoint", cfg.Checkpoint),
		zap.Duration("poll_interval", runCfg.PollInterval),
	)

	if err := ignoreCanceled(runner.Run(ctx)); err != nil {
		return err
	}
	totals := pipeline.Totals()
	logger.Info("sync complete",
		zap.Int("logs", totals.Total),
		zap.Int("decoded", totals.Decoded),
		zap.Int("failed", totals.Failed),
	)
	return nil
}
