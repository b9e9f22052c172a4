// Package memstore is an in-memory ports.StateStore. State does not survive
// the process; it backs tests and `workerhost serve --storage memory`.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/reglet-dev/reglet-workers/domain/entities"
	"github.com/reglet-dev/reglet-workers/domain/ports"
)

var _ ports.StateStore = (*Store)(nil)

type scopeKey struct {
	class, id string
}

// Store keeps every object's state in maps.
type Store struct {
	data map[scopeKey]map[string][]byte
	mu   sync.RWMutex
}

// New creates an empty Store.
func New() *Store {
	return &Store{data: make(map[scopeKey]map[string][]byte)}
}

func key(h entities.StateHandle) scopeKey {
	return scopeKey{class: h.Class, id: h.ID}
}

// Get implements ports.StateStore.
func (s *Store) Get(ctx context.Context, h entities.StateHandle, k string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key(h)][k]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Put implements ports.StateStore.
func (s *Store) Put(ctx context.Context, h entities.StateHandle, k string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.data[key(h)]
	if m == nil {
		m = make(map[string][]byte)
		s.data[key(h)] = m
	}
	m[k] = append([]byte(nil), value...)
	return nil
}

// Delete implements ports.StateStore.
func (s *Store) Delete(ctx context.Context, h entities.StateHandle, k string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[key(h)], k)
	return nil
}

// List implements ports.StateStore.
func (s *Store) List(ctx context.Context, h entities.StateHandle, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.data[key(h)] {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close implements ports.StateStore.
func (s *Store) Close() error { return nil }
