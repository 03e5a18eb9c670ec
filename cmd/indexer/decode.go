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

const decodeBatch = 1000

func runDecode(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadDecode(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if cfg.In == "" {
		return fmt.Errorf("input path is required")
	}
	if cfg.Out == "" {
		return fmt.Errorf("output path is required")
	}
	if cfg.Errors == "" {
		return fmt.Errorf("errors path is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	decoder, err := newDecoder(chainClient, cfg.Dex, logger)
	if err != nil {
		return err
	}

	out := storage.NewJSONLFile[model.PoolEvent](cfg.Out)
	errs := storage.NewJSONLFile[model.DecodeError](cfg.Errors)
	for _, truncate := range []func() error{out.Truncate, errs.Truncate} {
		if err := truncate(); err != nil {
			return err
		}
	}
	pipeline := indexer.NewPipeline(decoder, indexer.EventFile{File: out}, indexer.PipelineConfig{
		Errors: errs,
		Logger: logger,
	})

	input, err := os.Open(cfg.In)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer input.Close()

	logger.Info("decode start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("in", cfg.In),
		zap.String("out", cfg.Out),
		zap.String("errors", cfg.Errors),
	)

	var malformed int
	batch := make([]model.LogRecord, 0, decodeBatch)
	err = storage.ScanJSONL(ctx, input, func(record model.LogRecord, err error) error {
		if err != nil {
			malformed++
			return errs.Append([]model.DecodeError{{Error: err.Error()}})
		}
		batch = append(batch, record)
		if len(batch) < decodeBatch {
			return nil
		}
		err = pipeline.Handle(ctx, batch)
		batch = batch[:0]
		return err
	})
	if err == nil && len(batch) > 0 {
		err = pipeline.Handle(ctx, batch)
	}
	if err != nil {
		return err
	}

	total := pipeline.Totals()
	logger.Info("decode complete",
		zap.Int("total", total.Total),
		zap.Int("decoded", total.Decoded),
		zap.Int("skipped", total.Skipped),
		zap.Int("failed", total.Failed),
		zap.Int("malformed", malformed),
	)
	return nil
}
