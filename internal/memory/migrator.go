// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/sigil-dev/strata/internal/judgment"
	"github.com/sigil-dev/strata/internal/store"
	strataerr "github.com/sigil-dev/strata/pkg/errors"
)

// fallbackSummaryLength bounds the extractive summary used when no judgment
// client is configured.
const fallbackSummaryLength = 1000

// MigrationResult reports what one migration pass did. Counts are records,
// not groups, and include only committed work.
type MigrationResult struct {
	EntityID      string         `json:"entity_id"`
	SourceTier    store.Tier     `json:"source_tier"`
	Processed     int            `json:"processed"`
	PromotedTier2 int            `json:"promoted_tier2"`
	PromotedTier3 int            `json:"promoted_tier3"`
	Archived      int            `json:"archived"`
	Discarded     int            `json:"discarded"`
	Skipped       []SkippedGroup `json:"skipped,omitempty"`
}

// SkippedGroup is a group left untouched by a pass. Its records stay members
// of the source tier and are picked up again by the next pass.
type SkippedGroup struct {
	Key       string   `json:"key"`
	RecordIDs []string `json:"record_ids"`
	Reason    string   `json:"reason"`
}

func (r *MigrationResult) skip(key string, ids []string, reason string) {
	r.Skipped = append(r.Skipped, SkippedGroup{Key: key, RecordIDs: ids, Reason: reason})
}

// recordGroup is a set of source records migrated in one transaction.
type recordGroup struct {
	key     string
	records []*store.MemoryRecord
}

func (g recordGroup) ids() []string {
	ids := make([]string, len(g.records))
	for i, r := range g.records {
		ids[i] = r.ID
	}
	return ids
}

// Migrator moves aged records to their next tier. It must only be driven
// through the Orchestrator, which serializes passes per entity and tier.
type Migrator struct {
	store     store.RecordStore
	judge     judgment.Client
	embedder  judgment.Embedder
	evaluator *Evaluator
	archiver  *Archiver
	opts      MigratorOptions
	grouped   map[store.InteractionType]bool
	now       func() time.Time
}

// NewMigrator creates a Migrator. judge may be nil; tier 3 promotions need
// an embedder and tier 4 needs an archiver.
func NewMigrator(rs store.RecordStore, judge judgment.Client, embedder judgment.Embedder, evaluator *Evaluator, archiver *Archiver, opts MigratorOptions) (*Migrator, error) {
	if rs == nil {
		return nil, strataerr.New(strataerr.CodeMemoryInputInvalid, "migrator: record store is nil")
	}
	if evaluator == nil {
		return nil, strataerr.New(strataerr.CodeMemoryInputInvalid, "migrator: evaluator is nil")
	}
	if embedder == nil {
		return nil, strataerr.New(strataerr.CodeMemoryInputInvalid, "migrator: embedder is nil")
	}
	if opts.LowThreshold < 0 || opts.HighThreshold > 1 || opts.LowThreshold > opts.HighThreshold {
		return nil, strataerr.Errorf(strataerr.CodeMemoryInputInvalid,
			"migrator: thresholds must satisfy 0 <= low (%v) <= high (%v) <= 1", opts.LowThreshold, opts.HighThreshold)
	}
	if opts.BatchSize <= 0 || opts.MaxBatches <= 0 {
		return nil, strataerr.New(strataerr.CodeMemoryInputInvalid, "migrator: batch size and max batches must be positive")
	}

	grouped := make(map[store.InteractionType]bool, len(opts.GroupedTypes))
	for _, t := range opts.GroupedTypes {
		grouped[t] = true
	}
	return &Migrator{
		store:     rs,
		judge:     judge,
		embedder:  embedder,
		evaluator: evaluator,
		archiver:  archiver,
		opts:      opts,
		grouped:   grouped,
		now:       time.Now,
	}, nil
}

// Migrate moves members of source older than cutoffAge to their next tier.
// Judgment and per-group storage failures skip the group; the result lists
// them. Cancellation is honoured between groups and returns the partial
// result together with the context error.
func (m *Migrator) Migrate(ctx context.Context, entityID string, source store.Tier, cutoffAge time.Duration) (*MigrationResult, error) {
	if !source.Live() {
		return nil, strataerr.Errorf(strataerr.CodeMemoryInputInvalid, "migrate: tier %d has no successor tier to migrate to", source)
	}
	if cutoffAge < 0 {
		return nil, strataerr.Errorf(strataerr.CodeMemoryInputInvalid, "migrate: negative cutoff age %s", cutoffAge)
	}

	res := &MigrationResult{EntityID: entityID, SourceTier: source}
	cutoff := m.now().Add(-cutoffAge)

	if source == store.Tier3 {
		if m.archiver == nil {
			return nil, strataerr.New(strataerr.CodeArchiveConfigInvalid, "migrate: no archive writer configured for tier 3")
		}
		err := m.archiver.Archive(ctx, entityID, cutoff, m.opts.BatchSize*m.opts.MaxBatches, res)
		return res, err
	}

	var after *store.Cursor
	for page := 0; page < m.opts.MaxBatches; page++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		recs, err := m.store.ListCandidates(ctx, store.CandidateQuery{
			EntityID:      entityID,
			Tier:          source,
			CreatedBefore: cutoff,
			After:         after,
			Limit:         m.opts.BatchSize,
		})
		if err != nil {
			return res, strataerr.Wrapf(err, strataerr.CodeMemoryMigrationFailure, "selecting tier %d candidates", source)
		}
		if len(recs) == 0 {
			break
		}
		last := recs[len(recs)-1]
		after = &store.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}

		for _, g := range m.group(recs) {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			m.migrateGroup(ctx, source, g, res)
		}

		if len(recs) < m.opts.BatchSize {
			break
		}
	}

	slog.Info("migration pass complete",
		"entity_id", entityID,
		"tier", int(source),
		"processed", res.Processed,
		"promoted_tier2", res.PromotedTier2,
		"promoted_tier3", res.PromotedTier3,
		"discarded", res.Discarded,
		"skipped", len(res.Skipped))
	return res, nil
}

// group buckets grouped interaction types per ISO week and type. Everything
// else, and every tier 2 record, is its own group.
func (m *Migrator) group(recs []*store.MemoryRecord) []recordGroup {
	var groups []recordGroup
	index := make(map[string]int)
	for _, rec := range recs {
		if rec.Consolidated {
			slog.Error("consolidated record selected for migration, skipping",
				"entity_id", rec.EntityID,
				"record_id", rec.ID,
				"tier", int(rec.Tier))
			continue
		}
		if rec.Tier != store.Tier1 || !m.grouped[rec.InteractionType] {
			groups = append(groups, recordGroup{key: rec.ID, records: []*store.MemoryRecord{rec}})
			continue
		}
		year, week := rec.CreatedAt.UTC().ISOWeek()
		key := fmt.Sprintf("%s/%d-W%02d", rec.InteractionType, year, week)
		if i, ok := index[key]; ok {
			groups[i].records = append(groups[i].records, rec)
			continue
		}
		index[key] = len(groups)
		groups = append(groups, recordGroup{key: key, records: []*store.MemoryRecord{rec}})
	}
	return groups
}

func (m *Migrator) migrateGroup(ctx context.Context, source store.Tier, g recordGroup, res *MigrationResult) {
	plan, dest, err := m.plan(ctx, source, g)
	if err != nil {
		slog.Warn("migration group skipped",
			"entity_id", res.EntityID,
			"tier", int(source),
			"group", g.key,
			"error", err)
		res.skip(g.key, g.ids(), err.Error())
		return
	}

	if err := m.store.ApplyMigration(ctx, plan); err != nil {
		if errors.Is(err, store.ErrConflict) {
			slog.Error("migration invariant violated, group skipped",
				"entity_id", res.EntityID,
				"tier", int(source),
				"group", g.key,
				"error", err)
			err = strataerr.Wrapf(err, strataerr.CodeMemoryInvariantViolation, "group %s", g.key)
		} else {
			slog.Error("migration transaction failed, group skipped",
				"entity_id", res.EntityID,
				"tier", int(source),
				"group", g.key,
				"error", err)
		}
		res.skip(g.key, g.ids(), err.Error())
		return
	}

	n := len(g.records)
	res.Processed += n
	switch dest {
	case store.Tier2:
		res.PromotedTier2 += n
	case store.Tier3:
		res.PromotedTier3 += n
	default:
		res.Discarded += n
	}
}

// plan decides where g goes and builds the destination rows. A zero
// destination tier means discard.
func (m *Migrator) plan(ctx context.Context, source store.Tier, g recordGroup) (*store.MigrationPlan, store.Tier, error) {
	plan := &store.MigrationPlan{EntityID: g.records[0].EntityID, SourceTier: source}

	var (
		dest  store.Tier
		score float64
	)
	switch source {
	case store.Tier1:
		score = m.evaluator.EvaluateGroup(ctx, g.records)
		switch {
		case score >= m.opts.HighThreshold:
			dest = source.Next()
		case score >= m.opts.LowThreshold:
			dest = source.Next().Next()
		default:
			plan.Discards = g.ids()
			return plan, 0, nil
		}
	case store.Tier2:
		// Already judged important; it keeps its score and gains an embedding.
		dest = source.Next()
		score = g.records[0].Score(m.evaluator.opts.DefaultImportance)
	default:
		return nil, 0, strataerr.Errorf(strataerr.CodeMemoryInputInvalid, "no promotion path from tier %d", source)
	}

	summary, err := m.summary(ctx, g)
	if err != nil {
		return nil, 0, err
	}

	var embedding []float32
	if dest == store.Tier3 {
		embedding, err = m.embedder.Embed(ctx, summary)
		if err != nil {
			return nil, 0, err
		}
	}

	now := m.now().UTC()
	for _, rec := range g.records {
		entered := now
		if entered.Before(rec.TierEnteredAt) {
			entered = rec.TierEnteredAt
		}
		s := score
		plan.Promotions = append(plan.Promotions, store.Promotion{
			SourceID: rec.ID,
			Destination: &store.MemoryRecord{
				ID:              rec.ID,
				EntityID:        rec.EntityID,
				Tier:            dest,
				InteractionType: rec.InteractionType,
				Payload:         rec.Payload,
				Summary:         summary,
				ImportanceScore: &s,
				Embedding:       embedding,
				CreatedAt:       rec.CreatedAt,
				TierEnteredAt:   entered,
			},
		})
	}
	return plan, dest, nil
}

// summary reuses an existing summary for single records that have one and
// asks the judgment service otherwise.
func (m *Migrator) summary(ctx context.Context, g recordGroup) (string, error) {
	if len(g.records) == 1 && g.records[0].Summary != "" {
		return g.records[0].Summary, nil
	}

	texts := make([]string, len(g.records))
	for i, rec := range g.records {
		texts[i] = recordText(rec)
	}
	if m.judge == nil {
		return truncateRunes(strings.Join(texts, "\n"), fallbackSummaryLength), nil
	}
	return m.judge.Summarize(ctx, texts)
}

func (m *Migrator) setNow(fn func() time.Time) {
	m.now = fn
	if m.archiver != nil {
		m.archiver.now = fn
	}
}

// sortedIDs returns a sorted copy of the ids of recs.
func sortedIDs(recs []*store.MemoryRecord) []string {
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	slices.Sort(ids)
	return ids
}
