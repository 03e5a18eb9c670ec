package storage

import (
	"context"
	"errors"
)

// ErrEntityNotFound is returned by GetOrThrow when the entity does not exist.
var ErrEntityNotFound = errors.New("entity not found")

// Write is one staged whole-entity replacement.
type Write struct {
	Kind string
	ID   string
	Data []byte
}

// Backend persists encoded entities. Commit must apply all writes or none.
type Backend interface {
	Load(ctx context.Context, kind, id string) ([]byte, bool, error)
	Commit(ctx context.Context, writes []Write) error
	Close() error
}

// Entity is a value stored under its own id.
type Entity interface {
	EntityID() string
}

// Entity kinds.
const (
	KindPool          = "pool"
	KindToken         = "token"
	KindPoolExtension = "pool_extension"
	KindPoolHour      = "pool_hour_data"
	KindPoolDay       = "pool_day_data"
)
