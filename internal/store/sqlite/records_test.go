// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sigil-dev/strata/internal/store"
	"github.com/sigil-dev/strata/internal/store/sqlite"
	strataerr "github.com/sigil-dev/strata/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordStore_InsertAndGet(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	created := time.Date(2026, 1, 5, 10, 0, 0, 123, time.UTC)

	require.NoError(t, s.Insert(ctx, tier1Record("ent-1", "rec-1", created)))

	got, err := s.GetRecord(ctx, "ent-1", store.Tier1, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, store.Tier1, got.Tier)
	assert.Equal(t, store.InteractionConversation, got.InteractionType)
	assert.True(t, got.CreatedAt.Equal(created))
	assert.Nil(t, got.ImportanceScore)
	assert.False(t, got.Consolidated)
	assert.JSONEq(t, `{"text":"payload rec-1"}`, string(got.Payload))
}

func TestRecordStore_InsertRejectsNonTier1(t *testing.T) {
	s := openStore(t)
	rec := tier1Record("ent-1", "rec-1", time.Now())
	rec.Tier = store.Tier2
	rec.Summary = "s"

	err := s.Insert(context.Background(), rec)
	require.Error(t, err)
	assert.True(t, strataerr.IsInvalidInput(err))
}

func TestRecordStore_InsertDuplicateConflicts(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	rec := tier1Record("ent-1", "rec-1", time.Now())
	require.NoError(t, s.Insert(ctx, rec))

	err := s.Insert(ctx, rec)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestRecordStore_GetMissing(t *testing.T) {
	_, err := openStore(t).GetRecord(context.Background(), "ent-1", store.Tier1, "nope")
	require.Error(t, err)
	assert.True(t, strataerr.IsNotFound(err))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRecordStore_ListCandidatesKeyset(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// Two records share a timestamp to exercise the id tiebreak.
	for i := 0; i < 5; i++ {
		created := base.Add(time.Duration(i/2) * time.Hour)
		require.NoError(t, s.Insert(ctx, tier1Record("ent-1", fmt.Sprintf("rec-%d", i), created)))
	}
	require.NoError(t, s.Insert(ctx, tier1Record("ent-2", "other", base)))

	q := store.CandidateQuery{EntityID: "ent-1", Tier: store.Tier1, CreatedBefore: base.Add(24 * time.Hour), Limit: 2}
	var seen []string
	for {
		page, err := s.ListCandidates(ctx, q)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, r := range page {
			seen = append(seen, r.ID)
		}
		last := page[len(page)-1]
		q.After = &store.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	assert.Equal(t, []string{"rec-0", "rec-1", "rec-2", "rec-3", "rec-4"}, seen)
}

func TestRecordStore_ListCandidatesRespectsCutoff(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Insert(ctx, tier1Record("ent-1", "old", base)))
	require.NoError(t, s.Insert(ctx, tier1Record("ent-1", "new", base.Add(48*time.Hour))))

	got, err := s.ListCandidates(ctx, store.CandidateQuery{
		EntityID: "ent-1", Tier: store.Tier1, CreatedBefore: base.Add(24 * time.Hour), Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "old", got[0].ID)
}

func TestRecordStore_ListRecentAndSince(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		require.NoError(t, s.Insert(ctx, tier1Record("ent-1", fmt.Sprintf("rec-%d", i), base.Add(time.Duration(i)*time.Hour))))
	}

	recent, err := s.ListRecent(ctx, "ent-1", store.Tier1, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "rec-3", recent[0].ID)
	assert.Equal(t, "rec-2", recent[1].ID)

	since, err := s.ListSince(ctx, "ent-1", store.Tier1, base.Add(2*time.Hour), 10)
	require.NoError(t, err)
	assert.Len(t, since, 2)
}

func TestRecordStore_CountsAndStats(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Insert(ctx, tier1Record("ent-1", fmt.Sprintf("rec-%d", i), base)))
	}
	src, err := s.GetRecord(ctx, "ent-1", store.Tier1, "rec-0")
	require.NoError(t, err)
	require.NoError(t, s.ApplyMigration(ctx, &store.MigrationPlan{
		EntityID:   "ent-1",
		SourceTier: store.Tier1,
		Promotions: []store.Promotion{{SourceID: "rec-0", Destination: promoted(src, store.Tier2, base.Add(time.Hour))}},
	}))

	counts, err := s.CountByTier(ctx, "ent-1")
	require.NoError(t, err)
	assert.Equal(t, store.TierCounts{Tier1: 2, Tier2: 1}, counts)

	stale, err := s.CountOlderThan(ctx, "ent-1", store.Tier1, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, stale, "consolidated rows are not members")

	stats, err := s.GetStats(ctx, "ent-1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 0, stats.ArchiveBatches)
}

func TestRecordStore_SearchSimilarScopedToEntity(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, ent := range []string{"ent-1", "ent-2"} {
		rec := tier1Record(ent, "rec-"+ent, base)
		require.NoError(t, s.Insert(ctx, rec))
		require.NoError(t, s.ApplyMigration(ctx, &store.MigrationPlan{
			EntityID:   ent,
			SourceTier: store.Tier1,
			Promotions: []store.Promotion{{SourceID: rec.ID, Destination: promoted(rec, store.Tier3, base.Add(time.Hour))}},
		}))
	}

	got, err := s.SearchSimilar(ctx, "ent-1", []float32{0.1, 0.2, 0.3, 0.4}, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "rec-ent-1", got[0].ID)
	assert.Equal(t, []float32{0.1, 0.2, 0.3, 0.4}, got[0].Embedding)

	_, err = s.SearchSimilar(ctx, "ent-1", []float32{1, 2}, 5)
	assert.True(t, strataerr.IsInvalidInput(err))
}

func TestNewRecordStore_RejectsZeroDimensions(t *testing.T) {
	_, err := sqlite.NewRecordStore(testDBPath(t, "bad"), 0)
	require.Error(t, err)
	assert.True(t, strataerr.IsInvalidInput(err))
}

func TestOpenViaRegistry(t *testing.T) {
	s, err := store.Open(&store.StorageConfig{Path: testDBPath(t, "registry"), VectorDimensions: testDims})
	require.NoError(t, err)
	require.NoError(t, s.Close())
}
