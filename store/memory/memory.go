// Package memory provides the default in-process Store. Entries live until
// deleted, matching the session lifetime of a layer table.
package memory

import (
	"context"
	"sync"
)

type Store struct {
	mu sync.RWMutex
	m  map[string][]byte
}

func New() *Store { return &Store{m: make(map[string][]byte)} }

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	b, ok := s.m[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	// copy out so callers cannot alias the stored slice
	out := make([]byte, len(b))
	copy(out, b)
	return out, true, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte, _ int64) (bool, error) {
	b := make([]byte, len(value))
	copy(b, value)
	s.mu.Lock()
	s.m[key] = b
	s.mu.Unlock()
	return true, nil
}

func (s *Store) Del(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
	return nil
}

func (s *Store) Close(_ context.Context) error { return nil }

// Len reports the number of resident entries (debug/testing).
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}
