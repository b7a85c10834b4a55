package kvstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
)

// PebbleStore adapts an open pebble database to the Store contract.
//
// Pebble has no native compare-and-set, so PutIfAbsent is a
// get-then-set under a mutex. That is sufficient here: the tree is a
// single-writer structure and keys are content hashes, so a lost race
// could only ever rewrite an identical value.
type PebbleStore struct {
	db *pebble.DB
	mu sync.Mutex
}

// NewPebbleStore wraps db. The caller keeps ownership of db and is
// responsible for closing it.
func NewPebbleStore(db *pebble.DB) *PebbleStore {
	return &PebbleStore{db: db}
}

func (p *PebbleStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	v, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pebble get: %w", err)
	}
	out := make([]byte, len(v))
	copy(out, v)
	if err := closer.Close(); err != nil {
		return nil, fmt.Errorf("pebble get: %w", err)
	}
	return out, nil
}

func (p *PebbleStore) PutIfAbsent(ctx context.Context, key []byte, value []byte) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, closer, err := p.db.Get(key)
	if err == nil {
		if cerr := closer.Close(); cerr != nil {
			return false, fmt.Errorf("pebble get: %w", cerr)
		}
		return false, nil
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return false, fmt.Errorf("pebble get: %w", err)
	}

	if err := p.db.Set(key, value, pebble.Sync); err != nil {
		return false, fmt.Errorf("pebble set: %w", err)
	}
	return true, nil
}
