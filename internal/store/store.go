// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"context"
	"time"
)

// RecordReader is the read-only view used by retrieval and coherence checks.
type RecordReader interface {
	GetRecord(ctx context.Context, entityID string, tier Tier, id string) (*MemoryRecord, error)

	// ListCandidates returns tier members created before the query cutoff in
	// ascending (created_at, id) order, starting after the cursor.
	ListCandidates(ctx context.Context, q CandidateQuery) ([]*MemoryRecord, error)

	// ListRecent returns tier members newest first.
	ListRecent(ctx context.Context, entityID string, tier Tier, limit int) ([]*MemoryRecord, error)

	// ListSince returns tier members created at or after since, newest first.
	ListSince(ctx context.Context, entityID string, tier Tier, since time.Time, limit int) ([]*MemoryRecord, error)

	// SearchSimilar returns tier 3 members nearest to query.
	SearchSimilar(ctx context.Context, entityID string, query []float32, k int) ([]*MemoryRecord, error)

	CountByTier(ctx context.Context, entityID string) (TierCounts, error)
	CountOlderThan(ctx context.Context, entityID string, tier Tier, before time.Time) (int, error)
	ListArchiveBatches(ctx context.Context, entityID string) ([]*ArchiveBatch, error)
	GetStats(ctx context.Context, entityID string) (*Stats, error)
}

// RecordWriter mutates records. Outside ingestion, only the migrator writes.
type RecordWriter interface {
	// Insert adds a new tier 1 record.
	Insert(ctx context.Context, rec *MemoryRecord) error

	// ApplyMigration applies the plan in a single transaction.
	ApplyMigration(ctx context.Context, plan *MigrationPlan) error

	// ApplyArchive records the batch and deletes its tier 3 rows in a single
	// transaction. It fails with ErrConflict when the batch period overlaps
	// an existing batch for the entity.
	ApplyArchive(ctx context.Context, batch *ArchiveBatch) error
}

// RecordStore is the full record store contract.
type RecordStore interface {
	RecordReader
	RecordWriter
	Close() error
}
