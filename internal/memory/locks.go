// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/sigil-dev/strata/internal/store"
)

// lockEntry is a one-slot semaphore shared by every holder and waiter of a
// key. refs counts both; the entry is removed when it drops to zero.
type lockEntry struct {
	slot chan struct{}
	refs int
}

// LockTable serializes work per key. Entries exist only while a key is held
// or awaited, so the table does not grow with the number of entities seen.
type LockTable struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

// NewLockTable returns an empty LockTable.
func NewLockTable() *LockTable {
	return &LockTable{entries: make(map[string]*lockEntry)}
}

// migrationKey names the lock for one (entity, source tier) transition.
func migrationKey(entityID string, source store.Tier) string {
	return fmt.Sprintf("%s/%d", entityID, source)
}

// Acquire blocks until key is free or ctx is done. The returned function
// releases the key and must be called exactly once.
func (t *LockTable) Acquire(ctx context.Context, key string) (func(), error) {
	t.mu.Lock()
	e, ok := t.entries[key]
	if !ok {
		e = &lockEntry{slot: make(chan struct{}, 1)}
		t.entries[key] = e
	}
	e.refs++
	t.mu.Unlock()

	select {
	case e.slot <- struct{}{}:
	case <-ctx.Done():
		t.unref(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.slot
			t.unref(key, e)
		})
	}, nil
}

func (t *LockTable) unref(key string, e *lockEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(t.entries, key)
	}
}
