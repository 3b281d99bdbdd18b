// Package store holds the authoritative in-memory copy of one entity kind and
// mirrors every write and delete to the persistence adapter.
//
// Entities cross the store boundary by value: Add keeps a private copy and Get
// hands one out, so a caller's change takes effect only once it is written
// back with Add.
package store

import (
	"fmt"
	"io"
	"log"
	"sort"

	"todoline/internal/kv"
)

// Kind describes how a store identifies, copies and encodes its entities.
type Kind[T any] struct {
	Name   string
	Prefix string
	ID     func(T) string
	Clone  func(T) T
	Encode func(T) ([]byte, error)
	Decode func([]byte) (T, error)
}

// Store keys its entities the same way the adapter keys records, so ids that
// differ only in case or spacing name one entity.
type Store[T any] struct {
	kind   Kind[T]
	items  map[string]T
	mirror *kv.Adapter
	logger *log.Logger
}

func New[T any](kind Kind[T], mirror *kv.Adapter, logger *log.Logger) *Store[T] {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if mirror == nil {
		mirror = kv.New(nil, logger, fmt.Errorf("%s store built without an adapter", kind.Name))
	}
	return &Store[T]{kind: kind, items: map[string]T{}, mirror: mirror, logger: logger}
}

// Add inserts or overwrites the entity and writes it through to the adapter.
// The only error is an encoding failure, which leaves both copies untouched.
func (s *Store[T]) Add(e T) error {
	id := kv.NormalizeKey(s.kind.ID(e))
	if id == "" {
		return fmt.Errorf("%s store: entity has no id", s.kind.Name)
	}
	data, err := s.kind.Encode(e)
	if err != nil {
		return fmt.Errorf("%s store: encode %s: %w", s.kind.Name, id, err)
	}
	s.items[id] = s.kind.Clone(e)
	s.mirror.Put(id, data)
	return nil
}

// Get returns a copy of the entity stored under id.
func (s *Store[T]) Get(id string) (T, bool) {
	e, ok := s.items[kv.NormalizeKey(id)]
	if !ok {
		var zero T
		return zero, false
	}
	return s.kind.Clone(e), true
}

func (s *Store[T]) Has(id string) bool {
	_, ok := s.items[kv.NormalizeKey(id)]
	return ok
}

// All returns copies of every entity ordered by id. Callers needing another
// order sort explicitly.
func (s *Store[T]) All() []T {
	ids := make([]string, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.kind.Clone(s.items[id]))
	}
	return out
}

func (s *Store[T]) Len() int { return len(s.items) }

// Delete removes the entity and its durable record. Deleting an absent id is
// a no-op; the result reports whether anything was removed.
func (s *Store[T]) Delete(id string) bool {
	id = kv.NormalizeKey(id)
	if _, ok := s.items[id]; !ok {
		return false
	}
	delete(s.items, id)
	s.mirror.Delete(id)
	return true
}

// Load replaces the in-memory set with every record under the kind prefix.
// Corrupt records are skipped with a warning.
func (s *Store[T]) Load() (loaded, skipped int) {
	s.items = map[string]T{}
	for _, raw := range s.mirror.ScanPrefix(s.kind.Prefix) {
		e, err := s.kind.Decode(raw)
		if err != nil {
			s.logger.Printf("%s store: skipping corrupt record: %v", s.kind.Name, err)
			skipped++
			continue
		}
		s.items[kv.NormalizeKey(s.kind.ID(e))] = e
		loaded++
	}
	if loaded == 0 {
		s.logger.Printf("%s store: no %s records to load", s.kind.Name, s.kind.Name)
	}
	return loaded, skipped
}
