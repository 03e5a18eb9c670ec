package storage

import (
	"context"
	"fmt"
)

type entityKey struct {
	kind string
	id   string
}

// Session stages the writes of one unit of work. Reads see staged writes first; Commit hands
// every staged write to the backend at once.
type Session struct {
	ctx     context.Context
	backend Backend
	staged  map[entityKey][]byte
	order   []entityKey
}

// NewSession opens a session over backend.
func NewSession(ctx context.Context, backend Backend) *Session {
	return &Session{
		ctx:     ctx,
		backend: backend,
		staged:  make(map[entityKey][]byte),
	}
}

func (s *Session) load(kind, id string) ([]byte, bool, error) {
	if data, ok := s.staged[entityKey{kind, id}]; ok {
		return data, true, nil
	}
	data, ok, err := s.backend.Load(s.ctx, kind, id)
	if err != nil {
		return nil, false, fmt.Errorf("load %s %s: %w", kind, id, err)
	}
	return data, ok, nil
}

func (s *Session) stage(kind, id string, data []byte) {
	key := entityKey{kind, id}
	if _, ok := s.staged[key]; !ok {
		s.order = append(s.order, key)
	}
	s.staged[key] = data
}

// Pending returns the number of distinct entities staged.
func (s *Session) Pending() int {
	return len(s.order)
}

// Commit writes staged entities in first-staged order and clears the session.
func (s *Session) Commit() error {
	if len(s.order) == 0 {
		return nil
	}
	writes := make([]Write, 0, len(s.order))
	for _, key := range s.order {
		writes = append(writes, Write{Kind: key.kind, ID: key.id, Data: s.staged[key]})
	}
	if err := s.backend.Commit(s.ctx, writes); err != nil {
		return fmt.Errorf("commit %d writes: %w", len(writes), err)
	}
	s.staged = make(map[entityKey][]byte)
	s.order = s.order[:0]
	return nil
}
