// Package kvstore defines the put-if-absent key-value contract the
// merkle sorted tree persists through, plus concrete adapters over an
// in-memory map, a pebble database, and an IPFS blockstore.
package kvstore

import (
	"context"
	"sync"
)

// Store is a content-addressed byte store. Keys are opaque byte
// strings; the tree writes under prefix-plus-digest keys, so a key
// fully determines its value and an existing key never needs to be
// overwritten.
type Store interface {
	// Get returns the value stored at key, or nil if the key is absent.
	Get(ctx context.Context, key []byte) ([]byte, error)

	// PutIfAbsent stores (key, value) atomically if key is not present.
	// It returns true on a write and false if the key already existed.
	PutIfAbsent(ctx context.Context, key []byte, value []byte) (bool, error)
}

// MemStore is a Store over an in-process map, mainly for tests.
type MemStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]byte)}
}

func (m *MemStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemStore) PutIfAbsent(ctx context.Context, key []byte, value []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := string(key)
	if _, ok := m.data[k]; ok {
		return false, nil
	}
	v := make([]byte, len(value))
	copy(v, value)
	m.data[k] = v
	return true, nil
}

// Len reports the number of stored entries.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Corrupt overwrites the value at key in place, bypassing the
// put-if-absent policy. Test hook for simulating storage corruption.
func (m *MemStore) Corrupt(key []byte, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[string(key)] = value
}
