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

func runFetch(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadFetch(cfgFile, cmd.Flags())
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

	chainClient, err := chain.NewClient(ctx, cfg.RPC.URL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	sink := indexer.LogFile{File: storage.NewJSONLFile[model.LogRecord](cfg.Out)}
	runner := indexer.NewRunner(runCfg, chainClient, sink, indexer.FileCheckpoint{Path: cfg.Checkpoint}, logger, nil)

	logger.Info("fetch start",
		zap.String("rpc", cfg.RPC.URL),
		zap.Uint64("from", runCfg.FromBlock),
		zap.Uint64("to", runCfg.ToBlock),
		zap.Int("addresses", len(runCfg.Addresses)),
		zap.Int("topic0", len(runCfg.Topic0)),
		zap.Uint64("batch_size", runCfg.BatchSize),
		zap.String("out", cfg.Out),
		zap.String("checkpoint", cfg.Checkpoint),
	)

	return ignoreCanceled(runner.Run(ctx))
}

func runConfig(cfg config.RPCConfig) (indexer.RunConfig, error) {
	if cfg.URL == "" {
		return indexer.RunConfig{}, fmt.Errorf("rpc url is required")
	}
	addresses, err := indexer.ParseAddresses(cfg.Addresses)
	if err != nil {
		return indexer.RunConfig{}, err
	}
	topic0, err := indexer.ParseTopic0(cfg.Topic0)
	if err != nil {
		return indexer.RunConfig{}, err
	}
	return indexer.RunConfig{
		FromBlock:    cfg.FromBlock,
		ToBlock:      cfg.ToBlock,
		Addresses:    addresses,
		Topic0:       topic0,
		BatchSize:    cfg.BatchSize,
		PollInterval: cfg.PollInterval,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, nil
}
