package storage

import (
	"encoding/json"
	"fmt"
)

// Table reads and stages entities of one kind.
type Table[T Entity] struct {
	Kind string
}

func NewTable[T Entity](kind string) Table[T] {
	return Table[T]{Kind: kind}
}

// Get returns the entity and whether it exists.
func (t Table[T]) Get(s *Session, id string) (T, bool, error) {
	var out T
	data, ok, err := s.load(t.Kind, id)
	if err != nil || !ok {
		return out, false, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, false, fmt.Errorf("decode %s %s: %w", t.Kind, id, err)
	}
	return out, true, nil
}

// GetOrThrow returns the entity or an error wrapping ErrEntityNotFound.
func (t Table[T]) GetOrThrow(s *Session, id string) (T, error) {
	out, ok, err := t.Get(s, id)
	if err != nil {
		return out, err
	}
	if !ok {
		return out, fmt.Errorf("%s %s: %w", t.Kind, id, ErrEntityNotFound)
	}
	return out, nil
}

// GetOrCreate returns the stored entity or the result of create. A created entity is not
// staged until Set is called.
func (t Table[T]) GetOrCreate(s *Session, id string, create func() T) (T, bool, error) {
	out, ok, err := t.Get(s, id)
	if err != nil {
		return out, false, err
	}
	if ok {
		return out, false, nil
	}
	return create(), true, nil
}

// Set stages a whole-entity replacement.
func (t Table[T]) Set(s *Session, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", t.Kind, value.EntityID(), err)
	}
	s.stage(t.Kind, value.EntityID(), data)
	return nil
}
