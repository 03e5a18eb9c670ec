package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"ammLedger/internal/accounting"
	"ammLedger/internal/config"
	"ammLedger/internal/dex"
	"ammLedger/internal/indexer"
	"ammLedger/internal/metrics"
	"ammLedger/internal/pricing"
	"ammLedger/internal/storage"
	"ammLedger/internal/storage/memory"
	"ammLedger/internal/storage/postgres"
	"ammLedger/internal/storage/redis"
)

// openStore connects the configured entity backend. pg is set only for the postgres store.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (backend storage.Backend, pg *postgres.Store, err error) {
	switch cfg.Backend {
	case config.StorePostgres:
		pg, err = postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
		return pg, pg, nil
	case config.StoreRedis:
		backend, err = redis.NewBackend(ctx, redis.Options{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisPrefix,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return backend, nil, nil
	default:
		logger.Warn("using the in-memory store, state is lost on exit")
		return memory.New(), nil, nil
	}
}

func newProcessor(cfg config.AccountingConfig, backend storage.Backend, logger *zap.Logger, m *metrics.Metrics) (*accounting.Processor, error) {
	stable, err := indexer.ParseTokenIDs(cfg.ChainID, cfg.StableTokens)
	if err != nil {
		return nil, fmt.Errorf("stable tokens: %w", err)
	}
	wrapped, err := indexer.ParseTokenIDs(cfg.ChainID, cfg.WrappedNativeTokens)
	if err != nil {
		return nil, fmt.Errorf("wrapped native tokens: %w", err)
	}
	native, err := indexer.ParseTokenIDs(cfg.ChainID, cfg.NativeTokens)
	if err != nil {
		return nil, fmt.Errorf("native tokens: %w", err)
	}
	if len(stable)+len(wrapped)+len(native) == 0 {
		logger.Warn("no anchor tokens configured, prices will not be derived")
	}

	return accounting.NewProcessor(backend, accounting.Config{
		Roles: pricing.NewRoles(stable, wrapped, native),
		Gate: pricing.Gate{
			TokenPriceOutlierThreshold: cfg.TokenPriceOutlierThreshold,
			PoolTVLOutlierThreshold:    cfg.PoolTVLOutlierThreshold,
		},
		Logger:  logger,
		Metrics: m,
	}), nil
}

func newDecoder(caller dex.ContractCaller, cfg config.DexConfig, logger *zap.Logger) (*dex.Decoder, error) {
	protocols, err := indexer.ParseProtocols(cfg.Protocols)
	if err != nil {
		return nil, err
	}
	resolver, err := dex.NewChainResolver(caller, dex.ResolverConfig{
		Protocols:             protocols,
		ConstantProductFeePpm: cfg.ConstantProductFeePpm,
	}, logger)
	if err != nil {
		return nil, err
	}
	return dex.NewDecoder(resolver, dex.DecoderConfig{Topic0Map: cfg.Topic0Map}, logger)
}

// startMetrics registers collectors and serves them when addr is set.
func startMetrics(ctx context.Context, addr string, logger *zap.Logger) *metrics.Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)
	if addr == "" {
		return m
	}

	go func() {
		if err := metrics.Serve(ctx, addr, reg, logger); err != nil {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("metrics listening", zap.String("addr", addr))
	return m
}

func closeStore(backend storage.Backend, logger *zap.Logger) {
	if err := backend.Close(); err != nil {
		logger.Warn("close store", zap.Error(err))
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
