// Package memory is an in-process entity backend for tests and dry runs.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"

	"ammLedger/internal/storage"
)

// Backend keeps encoded entities in a concurrent map keyed by "<kind>:<id>".
type Backend struct {
	// commitMu makes a multi-entity commit appear at once to other committers.
	commitMu sync.Mutex
	data     *xsync.Map[string, []byte]
}

func New() *Backend {
	return &Backend{data: xsync.NewMap[string, []byte]()}
}

func key(kind, id string) string {
	return kind + ":" + id
}

func (b *Backend) Load(_ context.Context, kind, id string) ([]byte, bool, error) {
	data, ok := b.data.Load(key(kind, id))
	return data, ok, nil
}

func (b *Backend) Commit(ctx context.Context, writes []storage.Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.commitMu.Lock()
	defer b.commitMu.Unlock()
	for _, w := range writes {
		data := make([]byte, len(w.Data))
		copy(data, w.Data)
		b.data.Store(key(w.Kind, w.ID), data)
	}
	return nil
}

// Count returns the number of stored entities of kind.
func (b *Backend) Count(kind string) int {
	prefix := kind + ":"
	n := 0
	b.data.Range(func(k string, _ []byte) bool {
		if strings.HasPrefix(k, prefix) {
			n++
		}
		return true
	})
	return n
}

func (b *Backend) Close() error { return nil }
