// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"encoding/json"
	"time"
)

// Tier identifies a storage tier. Tiers 1-3 live in the record store; tier 4
// is the cold archive and is represented only by ArchiveBatch metadata.
type Tier int

const (
	Tier1 Tier = 1 // recent interactions
	Tier2 Tier = 2 // summarized, important
	Tier3 Tier = 3 // summarized and embedded for search
	Tier4 Tier = 4 // cold archive
)

// Next returns the tier a record moves to when it ages out of t.
func (t Tier) Next() Tier {
	if t >= Tier4 {
		return Tier4
	}
	return t + 1
}

// InteractionType classifies the interaction that produced a record.
type InteractionType string

const (
	InteractionConversation  InteractionType = "conversation"
	InteractionDecision      InteractionType = "decision"
	InteractionTaskExecution InteractionType = "task_execution"
	InteractionEvent         InteractionType = "event"
	InteractionAction        InteractionType = "action"
)

// MemoryRecord is one row of an entity's memory at a given tier. The ID is
// the logical record id and is stable across tiers; a record is a member of
// Tier only while Consolidated is false.
type MemoryRecord struct {
	ID              string          `json:"id"`
	EntityID        string          `json:"entity_id"`
	Tier            Tier            `json:"tier"`
	InteractionType InteractionType `json:"interaction_type"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Summary         string          `json:"summary,omitempty"`
	ImportanceScore *float64        `json:"importance_score,omitempty"`
	Embedding       []float32       `json:"-"`
	CreatedAt       time.Time       `json:"created_at"`
	TierEnteredAt   time.Time       `json:"tier_entered_at"`
	Consolidated    bool            `json:"consolidated"`
}

// Score returns the importance score, or fallback when none was assigned.
func (r *MemoryRecord) Score(fallback float64) float64 {
	if r.ImportanceScore == nil {
		return fallback
	}
	return *r.ImportanceScore
}

// ArchiveBatch is the metadata kept for a group of records written to cold
// storage. The period is half-open: [PeriodStart, PeriodEnd).
type ArchiveBatch struct {
	ID             string    `json:"id"`
	EntityID       string    `json:"entity_id"`
	StorageLocator string    `json:"storage_locator"`
	PeriodStart    time.Time `json:"period_start"`
	PeriodEnd      time.Time `json:"period_end"`
	RecordCount    int       `json:"record_count"`
	ByteSize       int64     `json:"byte_size"`
	ArchivedAt     time.Time `json:"archived_at"`
	RecordIDs      []string  `json:"record_ids,omitempty"`
}

// Overlaps reports whether two half-open periods intersect.
func (b *ArchiveBatch) Overlaps(start, end time.Time) bool {
	return b.PeriodStart.Before(end) && start.Before(b.PeriodEnd)
}

// Promotion moves one source-tier record to its destination tier.
type Promotion struct {
	SourceID    string
	Destination *MemoryRecord
}

// MigrationPlan is applied atomically: every destination row is written,
// every source row is marked consolidated and every discard is deleted, or
// nothing changes.
type MigrationPlan struct {
	EntityID   string
	SourceTier Tier
	Promotions []Promotion
	Discards   []string
}

// Empty reports whether applying the plan would change nothing.
func (p *MigrationPlan) Empty() bool {
	return len(p.Promotions) == 0 && len(p.Discards) == 0
}

// Cursor is a keyset position in (created_at, id) order.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// CandidateQuery selects members of one tier for migration, oldest first.
type CandidateQuery struct {
	EntityID      string
	Tier          Tier
	CreatedBefore time.Time
	After         *Cursor
	Limit         int
}

// TierCounts holds member counts per tier. Tier4 counts archived records.
type TierCounts struct {
	Tier1 int `json:"tier1"`
	Tier2 int `json:"tier2"`
	Tier3 int `json:"tier3"`
	Tier4 int `json:"tier4"`
}

// Total returns the number of live and archived records.
func (c TierCounts) Total() int {
	return c.Tier1 + c.Tier2 + c.Tier3 + c.Tier4
}

// Stats summarises an entity's memory footprint.
type Stats struct {
	EntityID       string     `json:"entity_id"`
	Counts         TierCounts `json:"counts"`
	ArchiveBatches int        `json:"archive_batches"`
	Total          int        `json:"total"`
}
