// Package redis stores entities as JSON values in Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ammLedger/internal/storage"
)

// Options configures the Redis connection.
type Options struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Backend keeps each entity at "<prefix><kind>:<id>".
type Backend struct {
	client *redis.Client
	prefix string
}

// NewBackend connects to Redis and verifies the connection.
func NewBackend(ctx context.Context, opts Options, logger *zap.Logger) (*Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis at %s: %w", opts.Addr, err)
	}

	logger.Info("connected to redis", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	return &Backend{client: rdb, prefix: opts.KeyPrefix}, nil
}

func (b *Backend) key(kind, id string) string {
	return b.prefix + kind + ":" + id
}

func (b *Backend) Load(ctx context.Context, kind, id string) ([]byte, bool, error) {
	data, err := b.client.Get(ctx, b.key(kind, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// Commit sets every write inside one MULTI/EXEC block.
func (b *Backend) Commit(ctx context.Context, writes []storage.Write) error {
	if len(writes) == 0 {
		return nil
	}
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, w := range writes {
			pipe.Set(ctx, b.key(w.Kind, w.ID), w.Data, 0)
		}
		return nil
	})
	return err
}

func (b *Backend) Close() error {
	return b.client.Close()
}
