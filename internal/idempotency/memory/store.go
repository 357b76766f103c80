// Package memory provides an in-process idempotency store.
package memory

import (
	"context"
	"sync"
)

// Store tracks published (store, signature) pairs in a map. Suitable for a
// single-process deployment; multi-instance setups need the Postgres store.
type Store struct {
	mu        sync.RWMutex
	published map[string]struct{}
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		published: make(map[string]struct{}),
	}
}

// IsDuplicate reports whether the signature was already published to the store.
func (s *Store) IsDuplicate(_ context.Context, storeID, signature string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.published[key(storeID, signature)]
	return ok, nil
}

// RecordSuccess marks the signature as published to the store.
func (s *Store) RecordSuccess(_ context.Context, storeID, signature string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published[key(storeID, signature)] = struct{}{}
	return nil
}

func key(storeID, signature string) string {
	return storeID + "\x00" + signature
}
