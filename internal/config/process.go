package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// Event sources for the process command.
const (
	SourceFile  = "file"
	SourceKafka = "kafka"
)

// ProcessConfig holds configuration for the process command.
type ProcessConfig struct {
	Source      string
	In          string
	Kafka       KafkaConfig
	BatchSize   int
	Workers     int
	Store       StoreConfig
	Accounting  AccountingConfig
	MetricsAddr string
	LogLevel    string
}

// KafkaConfig locates the normalized event topic.
type KafkaConfig struct {
	Brokers       []string
	Topic         string
	GroupID       string
	FlushInterval time.Duration
}

// LoadProcess merges config file, environment variables, and flags into ProcessConfig.
func LoadProcess(cfgFile string, flags *pflag.FlagSet) (ProcessConfig, error) {
	v, err := load(cfgFile, flags, map[string]any{
		"source":               SourceFile,
		"batch-size":           500,
		"kafka-group":          "amm-ledger",
		"kafka-flush-interval": time.Second,
	})
	if err != nil {
		return ProcessConfig{}, err
	}

	store, err := storeConfig(v)
	if err != nil {
		return ProcessConfig{}, err
	}
	accounting, err := accountingConfig(v)
	if err != nil {
		return ProcessConfig{}, err
	}

	cfg := ProcessConfig{
		Source: strings.ToLower(v.GetString("source")),
		In:     v.GetString("in"),
		Kafka: KafkaConfig{
			Brokers:       getStringSlice(v, "kafka-brokers"),
			Topic:         v.GetString("kafka-topic"),
			GroupID:       v.GetString("kafka-group"),
			FlushInterval: v.GetDuration("kafka-flush-interval"),
		},
		BatchSize:   v.GetInt("batch-size"),
		Workers:     v.GetInt("workers"),
		Store:       store,
		Accounting:  accounting,
		MetricsAddr: v.GetString("metrics-addr"),
		LogLevel:    v.GetString("log-level"),
	}

	switch cfg.Source {
	case SourceFile:
		if cfg.In == "" {
			return ProcessConfig{}, fmt.Errorf("input path is required")
		}
	case SourceKafka:
	default:
		return ProcessConfig{}, fmt.Errorf("unknown source %q", cfg.Source)
	}
	return cfg, nil
}
