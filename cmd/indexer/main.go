package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "indexer",
		Short:        "AMM pool accounting indexer",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch raw pool logs into JSONL",
		RunE:  runFetch,
	}
	addRPCFlags(fetchCmd.Flags())
	fetchCmd.Flags().String("out", "./data/logs.jsonl", "output JSONL path")
	fetchCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path, empty disables")
	fetchCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(fetchCmd)

	decodeCmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode raw logs into normalized pool events",
		RunE:  runDecode,
	}
	decodeCmd.Flags().String("rpc", "", "RPC URL for pool and token metadata")
	decodeCmd.Flags().String("in", "", "input raw logs JSONL")
	decodeCmd.Flags().String("out", "./data/pool_events.jsonl", "output pool events JSONL")
	decodeCmd.Flags().String("errors", "./data/decode_errors.jsonl", "decode errors JSONL")
	addDexFlags(decodeCmd.Flags())
	decodeCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(decodeCmd)

	processCmd := &cobra.Command{
		Use:   "process",
		Short: "Apply pool events to the entity store",
		RunE:  runProcess,
	}
	processCmd.Flags().String("source", "file", "event source (file, kafka)")
	processCmd.Flags().String("in", "", "input pool events JSONL")
	processCmd.Flags().StringSlice("kafka-brokers", nil, "Kafka brokers (comma-separated)")
	processCmd.Flags().String("kafka-topic", "", "Kafka topic carrying pool events")
	processCmd.Flags().String("kafka-group", "amm-ledger", "Kafka consumer group")
	processCmd.Flags().Duration("kafka-flush-interval", time.Second, "max wait before applying a partial batch")
	processCmd.Flags().Int("batch-size", 500, "events per dispatch batch")
	addProcessingFlags(processCmd.Flags())
	processCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(processCmd)

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch, decode and apply pool logs in one pass",
		RunE:  runSync,
	}
	addRPCFlags(syncCmd.Flags())
	addDexFlags(syncCmd.Flags())
	addProcessingFlags(syncCmd.Flags())
	syncCmd.Flags().String("errors", "./data/decode_errors.jsonl", "decode errors JSONL")
	syncCmd.Flags().String("checkpoint", "./data/sync_checkpoint.json", "checkpoint file path, \"store\" for the postgres store, empty disables")
	syncCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(syncCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addRPCFlags(flags *pflag.FlagSet) {
	flags.String("rpc", "", "RPC URL")
	flags.Uint64("from", 0, "start block (inclusive)")
	flags.Uint64("to", 0, "end block (inclusive), 0 means latest")
	flags.StringSlice("address", nil, "pool addresses (comma-separated)")
	flags.StringSlice("topic0", nil, "topic0 signatures (comma-separated)")
	flags.Uint64("batch-size", 2000, "blocks per batch")
	flags.Duration("poll-interval", 0, "follow the chain head at this interval when --to is 0")
	flags.Int("max-retries", 5, "maximum retry attempts")
	flags.Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
}

func addDexFlags(flags *pflag.FlagSet) {
	flags.String("topic0-map", "", "extra topic0->event mappings (comma-separated key=value)")
	flags.String("protocols", "", "pinned pool protocols (comma-separated address=protocol)")
	flags.Uint32("constant-product-fee", 3000, "constant-product pair fee in ppm")
}

func addProcessingFlags(flags *pflag.FlagSet) {
	flags.String("store", "memory", "entity store (memory, postgres, redis)")
	flags.String("pg-dsn", "", "Postgres DSN")
	flags.String("redis-addr", "", "Redis address")
	flags.String("redis-password", "", "Redis password")
	flags.Int("redis-db", 0, "Redis database")
	flags.String("redis-prefix", "amm:", "Redis key prefix")
	flags.Int("workers", 4, "pools applied concurrently")
	flags.Uint64("chain-id", 0, "chain id for role tokens given without a chain prefix")
	flags.StringSlice("stable-tokens", nil, "stablecoin addresses ([chainID:]address, comma-separated)")
	flags.StringSlice("wrapped-native-tokens", nil, "wrapped native token addresses")
	flags.StringSlice("native-tokens", nil, "native token addresses")
	flags.String("token-price-outlier-threshold", "0.5", "relative price move accepted without a pool check")
	flags.String("pool-tvl-outlier-threshold", "0.9", "max relative imbalance of a pool's two TVL legs")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
