// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package memory

import "time"

// SetMigratorNow overrides the migrator and archiver clock for testing.
func SetMigratorNow(m *Migrator, fn func() time.Time) {
	m.setNow(fn)
}

// SetCheckerNow overrides the coherence checker clock for testing.
func SetCheckerNow(c *Checker, fn func() time.Time) {
	c.now = fn
}

// WaitRankCache blocks until pending rank cache writes are visible.
func WaitRankCache(r *Retriever) {
	if r.cache != nil {
		r.cache.Wait()
	}
}

// ObjectName exposes the archive object naming for testing.
var ObjectName = objectName

// LockCount reports the number of keys currently held or awaited.
func LockCount(t *LockTable) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// RankCacheCounters exposes the rank cache sizing for testing.
var RankCacheCounters = rankCacheCounters
