// Package config loads subcommand settings from flags, INDEXER_* environment variables and an
// optional config file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// FetchConfig holds configuration for the fetch command.
type FetchConfig struct {
	RPC        RPCConfig
	Out        string
	Checkpoint string
	LogLevel   string
}

// RPCConfig describes which logs to pull from the node and how.
type RPCConfig struct {
	URL          string
	FromBlock    uint64
	ToBlock      uint64
	Addresses    []string
	Topic0       []string
	BatchSize    uint64
	PollInterval time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// StoreConfig selects and configures the entity store.
type StoreConfig struct {
	Backend       string
	PGDSN         string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// AccountingConfig holds token roles and gate thresholds.
type AccountingConfig struct {
	// ChainID qualifies role tokens given without a "<chainID>:" prefix.
	ChainID                    uint64
	StableTokens               []string
	WrappedNativeTokens        []string
	NativeTokens               []string
	TokenPriceOutlierThreshold decimal.Decimal
	PoolTVLOutlierThreshold    decimal.Decimal
}

// LoadFetch merges config file, environment variables, and flags into FetchConfig.
func LoadFetch(cfgFile string, flags *pflag.FlagSet) (FetchConfig, error) {
	v, err := load(cfgFile, flags, map[string]any{
		"out":        "./data/logs.jsonl",
		"checkpoint": "./data/checkpoint.json",
	})
	if err != nil {
		return FetchConfig{}, err
	}

	return FetchConfig{
		RPC:        rpcConfig(v),
		Out:        v.GetString("out"),
		Checkpoint: v.GetString("checkpoint"),
		LogLevel:   v.GetString("log-level"),
	}, nil
}

func load(cfgFile string, flags *pflag.FlagSet, defaults map[string]any) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("INDEXER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log-level", "info")
	v.SetDefault("batch-size", uint64(2000))
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("store", StoreMemory)
	v.SetDefault("redis-prefix", "amm:")
	v.SetDefault("workers", 4)
	v.SetDefault("token-price-outlier-threshold", "0.5")
	v.SetDefault("pool-tvl-outlier-threshold", "0.9")
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

func rpcConfig(v *viper.Viper) RPCConfig {
	return RPCConfig{
		URL:          v.GetString("rpc"),
		FromBlock:    v.GetUint64("from"),
		ToBlock:      v.GetUint64("to"),
		Addresses:    getStringSlice(v, "address"),
		Topic0:       getStringSlice(v, "topic0"),
		BatchSize:    v.GetUint64("batch-size"),
		PollInterval: v.GetDuration("poll-interval"),
		MaxRetries:   v.GetInt("max-retries"),
		RetryBackoff: v.GetDuration("retry-backoff"),
	}
}

func storeConfig(v *viper.Viper) (StoreConfig, error) {
	cfg := StoreConfig{
		Backend:       strings.ToLower(v.GetString("store")),
		PGDSN:         v.GetString("pg-dsn"),
		RedisAddr:     v.GetString("redis-addr"),
		RedisPassword: v.GetString("redis-password"),
		RedisDB:       v.GetInt("redis-db"),
		RedisPrefix:   v.GetString("redis-prefix"),
	}
	switch cfg.Backend {
	case StoreMemory:
	case StorePostgres:
		if cfg.PGDSN == "" {
			return StoreConfig{}, fmt.Errorf("pg-dsn is required for the postgres store")
		}
	case StoreRedis:
		if cfg.RedisAddr == "" {
			return StoreConfig{}, fmt.Errorf("redis-addr is required for the redis store")
		}
	default:
		return StoreConfig{}, fmt.Errorf("unknown store %q", cfg.Backend)
	}
	return cfg, nil
}

func accountingConfig(v *viper.Viper) (AccountingConfig, error) {
	tokenThreshold, err := getDecimal(v, "token-price-outlier-threshold")
	if err != nil {
		return AccountingConfig{}, err
	}
	poolThreshold, err := getDecimal(v, "pool-tvl-outlier-threshold")
	if err != nil {
		return AccountingConfig{}, err
	}
	return AccountingConfig{
		ChainID:                    v.GetUint64("chain-id"),
		StableTokens:               getStringSlice(v, "stable-tokens"),
		WrappedNativeTokens:        getStringSlice(v, "wrapped-native-tokens"),
		NativeTokens:               getStringSlice(v, "native-tokens"),
		TokenPriceOutlierThreshold: tokenThreshold,
		PoolTVLOutlierThreshold:    poolThreshold,
	}, nil
}

func getDecimal(v *viper.Viper, key string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(v.GetString(key)))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	// The gate treats a zero threshold as unset.
	if !value.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s must be positive", key)
	}
	return value, nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	return cleanStrings(strings.Split(input, ","))
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
