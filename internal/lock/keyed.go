// Package lock serializes work per key: per allocation in the budget ledger,
// per payment in the approval workflow.
package lock

import (
	"context"
	"sync"

	interfaces "github.com/sheikh-saqib/public-sector-payments/internal/interfaces"
)

// KeyedMutex hands out one mutex per key. Keys never contend with each other.
type KeyedMutex struct {
	mapMu sync.Mutex // protects muMap itself
	muMap map[string]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{muMap: make(map[string]*keyedEntry)}
}

func (k *KeyedMutex) acquire(key string) *keyedEntry {
	k.mapMu.Lock()
	defer k.mapMu.Unlock()

	entry, exists := k.muMap[key]
	if !exists {
		entry = &keyedEntry{ch: make(chan struct{}, 1)}
		k.muMap[key] = entry
	}
	entry.refs++
	return entry
}

func (k *KeyedMutex) release(key string, entry *keyedEntry) {
	k.mapMu.Lock()
	defer k.mapMu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(k.muMap, key)
	}
}

// WithLock runs fn while holding the lock for key. Waiting for the lock
// honours ctx cancellation.
func (k *KeyedMutex) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	entry := k.acquire(key)
	defer k.release(key, entry)

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-entry.ch }()

	return fn(ctx)
}

var _ interfaces.Locker = (*KeyedMutex)(nil)
