package config

import (
	"github.com/spf13/pflag"
)

// SyncConfig holds configuration for the sync command.
type SyncConfig struct {
	RPC         RPCConfig
	Dex         DexConfig
	Errors      string
	Checkpoint  string
	Workers     int
	Store       StoreConfig
	Accounting  AccountingConfig
	MetricsAddr string
	LogLevel    string
}

// CheckpointInStore selects the indexer_state table of the postgres store.
const CheckpointInStore = "store"

// LoadSync merges config file, environment variables, and flags into SyncConfig.
func LoadSync(cfgFile string, flags *pflag.FlagSet) (SyncConfig, error) {
	v, err := load(cfgFile, flags, map[string]any{
		"errors":     "./data/decode_errors.jsonl",
		"checkpoint": "./data/sync_checkpoint.json",
	})
	if err != nil {
		return SyncConfig{}, err
	}

	store, err := storeConfig(v)
	if err != nil {
		return SyncConfig{}, err
	}
	accounting, err := accountingConfig(v)
	if err != nil {
		return SyncConfig{}, err
	}

	return SyncConfig{
		RPC:         rpcConfig(v),
		Dex:         dexConfig(v),
		Errors:      v.GetString("errors"),
		Checkpoint:  v.GetString("checkpoint"),
		Workers:     v.GetInt("workers"),
		Store:       store,
		Accounting:  accounting,
		MetricsAddr: v.GetString("metrics-addr"),
		LogLevel:    v.GetString("log-level"),
	}, nil
}
