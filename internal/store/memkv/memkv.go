// Package memkv provides an in-memory kv.Store for tests and local
// development. Values round-trip through JSON so reads observe the same
// shapes a real backend would return.
package memkv

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/diamondstd/cycles/pkg/kv"
)

// Store is a mutex-guarded in-memory store. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	records map[string]json.RawMessage
}

// New returns an empty Store.
func New() *Store {
	return &Store{records: make(map[string]json.RawMessage)}
}

func (store *Store) Read(_ context.Context, path string, value any) error {
	store.mu.RLock()
	raw, ok := store.records[path]
	store.mu.RUnlock()
	if !ok {
		return kv.ErrPathNotFound
	}
	return json.Unmarshal(raw, value)
}

func (store *Store) AtomicUpdate(_ context.Context, updates map[string]any) error {
	encoded, err := encode(updates)
	if err != nil {
		return err
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	for path, raw := range encoded {
		store.records[path] = raw
	}
	return nil
}

func (store *Store) AtomicCreate(_ context.Context, guardPath string, updates map[string]any) error {
	encoded, err := encode(updates)
	if err != nil {
		return err
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, exists := store.records[guardPath]; exists {
		return kv.ErrPathExists
	}
	for path, raw := range encoded {
		store.records[path] = raw
	}
	return nil
}

// Len returns the number of stored paths.
func (store *Store) Len() int {
	store.mu.RLock()
	defer store.mu.RUnlock()
	return len(store.records)
}

func encode(updates map[string]any) (map[string]json.RawMessage, error) {
	encoded := make(map[string]json.RawMessage, len(updates))
	for path, value := range updates {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", path, err)
		}
		encoded[path] = raw
	}
	return encoded, nil
}
