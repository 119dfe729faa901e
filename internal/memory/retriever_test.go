// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package memory_test

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/strata/internal/judgment"
	"github.com/sigil-dev/strata/internal/memory"
	"github.com/sigil-dev/strata/internal/store"
	strataerr "github.com/sigil-dev/strata/pkg/errors"
)

// scoresByID ranks candidates using a fixed score per record id, read back
// from the "<id> score=" prefix of the digest.
func scoresByID(scores map[string]float64) func(string, []judgment.Candidate) ([]judgment.Ranking, error) {
	return func(_ string, cands []judgment.Candidate) ([]judgment.Ranking, error) {
		var out []judgment.Ranking
		for _, c := range cands {
			for id, score := range scores {
				if strings.HasPrefix(c.Content, `{"text":"`+id+` `) || strings.HasPrefix(c.Content, "summary "+id) {
					out = append(out, judgment.Ranking{Index: c.Index, Score: score})
				}
			}
		}
		return out, nil
	}
}

// reversed returns fn's rankings in reverse order.
func reversed(fn func(string, []judgment.Candidate) ([]judgment.Ranking, error)) func(string, []judgment.Candidate) ([]judgment.Ranking, error) {
	return func(q string, cands []judgment.Candidate) ([]judgment.Ranking, error) {
		out, err := fn(q, cands)
		slices.Reverse(out)
		return out, err
	}
}

func seedRecent(t *testing.T, s store.RecordStore, entity string, ids ...string) {
	t.Helper()
	base := time.Now().Add(-time.Hour)
	for i, id := range ids {
		// Later ids are newer.
		insert(t, s, rec(entity, id, store.InteractionConversation, 0.5, base.Add(time.Duration(i)*time.Minute)))
	}
}

func ids(results []memory.RetrievedRecord) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Record.ID
	}
	return out
}

func TestRetrieve_RanksAndAppliesRelevanceFloor(t *testing.T) {
	s := openStore(t)
	h := newHarness(t, s, individualOptions())
	entity := newEntity()
	seedRecent(t, s, entity, "a", "b", "c")
	h.judge.rankFn = scoresByID(map[string]float64{"a": 0.9, "b": 0.2, "c": 0.5})

	got, err := h.orch.Retrieve(context.Background(), memory.RetrieveRequest{
		EntityID: entity, Context: "planning the offsite", MaxResults: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids(got), "b falls below the floor")
	assert.True(t, got[0].Ranked)
	assert.InDelta(t, 0.9, got[0].Relevance, 1e-9)
}

func TestRetrieve_TruncatesAfterRanking(t *testing.T) {
	s := openStore(t)
	h := newHarness(t, s, individualOptions())
	entity := newEntity()
	seedRecent(t, s, entity, "oldest", "middle", "newest")
	h.judge.rankFn = scoresByID(map[string]float64{"oldest": 0.95, "middle": 0.6, "newest": 0.4})

	got, err := h.orch.Retrieve(context.Background(), memory.RetrieveRequest{
		EntityID: entity, Context: "x", MaxResults: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"oldest"}, ids(got))
}

func TestRetrieve_TiesBrokenByRecency(t *testing.T) {
	s := openStore(t)
	h := newHarness(t, s, individualOptions())
	entity := newEntity()
	seedRecent(t, s, entity, "older", "middle", "newer")
	// The service lists the oldest candidate first.
	h.judge.rankFn = reversed(scoresByID(map[string]float64{"older": 0.7, "middle": 0.9, "newer": 0.7}))

	got, err := h.orch.Retrieve(context.Background(), memory.RetrieveRequest{EntityID: entity, Context: "x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"middle", "newer", "older"}, ids(got))
}

func TestRetrieve_FailsOpenOnJudgmentError(t *testing.T) {
	s := openStore(t)
	h := newHarness(t, s, individualOptions())
	entity := newEntity()
	var seeded []string
	for i := range 8 {
		seeded = append(seeded, fmt.Sprintf("r%d", i))
	}
	seedRecent(t, s, entity, seeded...)
	h.judge.rankFn = nil // every Rank call fails

	got, err := h.orch.Retrieve(context.Background(), memory.RetrieveRequest{
		EntityID: entity, Context: "x", MaxResults: 5,
	})
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, []string{"r7", "r6", "r5", "r4", "r3"}, ids(got), "unranked results are newest first")
	for _, r := range got {
		assert.False(t, r.Ranked)
		assert.InDelta(t, 0.5, r.Relevance, 1e-9)
	}
}

func TestRetrieve_EmptyPoolSkipsJudgment(t *testing.T) {
	s := openStore(t)
	h := newHarness(t, s, individualOptions())

	got, err := h.orch.Retrieve(context.Background(), memory.RetrieveRequest{EntityID: newEntity(), Context: "x"})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, h.judge.Calls("rank"))
}

func TestRetrieve_TierFilterAppliedBeforeGathering(t *testing.T) {
	s := openStore(t)
	h := newHarness(t, s, individualOptions())
	entity := newEntity()
	created := time.Now().Add(-time.Hour)
	seedAt(t, s, entity, "t1", store.Tier1, created)
	seedAt(t, s, entity, "t2", store.Tier2, created)
	seedAt(t, s, entity, "t3", store.Tier3, created)
	h.judge.rankFn = scoresByID(map[string]float64{"t2": 0.8})

	got, err := h.orch.Retrieve(context.Background(), memory.RetrieveRequest{
		EntityID: entity, Context: "x", Tiers: []store.Tier{store.Tier2},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"t2"}, ids(got))
	require.Len(t, h.judge.rankInputs, 1)
	assert.Len(t, h.judge.rankInputs[0], 1, "only tier 2 candidates are offered")
}

func TestRetrieve_DigestIsBounded(t *testing.T) {
	s := openStore(t)
	h := newHarness(t, s, individualOptions())
	entity := newEntity()
	long := rec(entity, "long", store.InteractionConversation, 0.5, time.Now().Add(-time.Hour))
	long.Payload = []byte(`{"text":"` + strings.Repeat("x", 1000) + `"}`)
	insert(t, s, long)
	for i := range 60 {
		insert(t, s, rec(entity, fmt.Sprintf("bulk-%02d", i), store.InteractionEvent, 0.5, time.Now().Add(-2*time.Hour)))
	}
	h.judge.rankFn = func(string, []judgment.Candidate) ([]judgment.Ranking, error) { return nil, nil }

	_, err := h.orch.Retrieve(context.Background(), memory.RetrieveRequest{EntityID: entity, Context: "x"})
	require.NoError(t, err)
	require.Len(t, h.judge.rankInputs, 1)
	cands := h.judge.rankInputs[0]
	assert.Len(t, cands, 50, "candidate set is capped")
	for _, c := range cands {
		assert.LessOrEqual(t, len([]rune(c.Content)), 200)
	}
}

func TestRetrieve_IgnoresInvalidRankIndices(t *testing.T) {
	s := openStore(t)
	h := newHarness(t, s, individualOptions())
	entity := newEntity()
	seedRecent(t, s, entity, "a")
	h.judge.rankFn = func(string, []judgment.Candidate) ([]judgment.Ranking, error) {
		return []judgment.Ranking{{Index: 7, Score: 1}, {Index: 0, Score: 0.8}, {Index: 0, Score: 0.1}}, nil
	}

	got, err := h.orch.Retrieve(context.Background(), memory.RetrieveRequest{EntityID: entity, Context: "x"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 0.8, got[0].Relevance, 1e-9)
}

func TestRetrieve_RejectsInvalidInput(t *testing.T) {
	s := openStore(t)
	h := newHarness(t, s, individualOptions())
	ctx := context.Background()
	entity := newEntity()

	tests := []struct {
		name string
		req  memory.RetrieveRequest
	}{
		{name: "entity not a uuid", req: memory.RetrieveRequest{EntityID: "abc", Context: "x"}},
		{name: "empty context", req: memory.RetrieveRequest{EntityID: entity, Context: "   "}},
		{name: "context too long", req: memory.RetrieveRequest{EntityID: entity, Context: strings.Repeat("x", 4001)}},
		{name: "max results too large", req: memory.RetrieveRequest{EntityID: entity, Context: "x", MaxResults: 51}},
		{name: "negative max results", req: memory.RetrieveRequest{EntityID: entity, Context: "x", MaxResults: -1}},
		{name: "archive tier", req: memory.RetrieveRequest{EntityID: entity, Context: "x", Tiers: []store.Tier{store.Tier4}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.orch.Retrieve(ctx, tt.req)
			require.Error(t, err)
			assert.True(t, strataerr.IsInvalidInput(err))
		})
	}
}

func TestRankCacheCounters(t *testing.T) {
	opts := memory.DefaultRetrieverOptions()
	// 1<<20 cost units at 26 per ranking set is about 40k entries.
	assert.Equal(t, int64(403290), memory.RankCacheCounters(opts))
	assert.Less(t, memory.RankCacheCounters(opts), opts.CacheMaxCost)

	opts.CacheMaxCost = 3
	assert.Equal(t, int64(10), memory.RankCacheCounters(opts), "at least one entry")
}

func TestRetrieve_CachesRankings(t *testing.T) {
	s := openStore(t)
	judge := newFakeJudge()
	judge.rankFn = scoresByID(map[string]float64{"a": 0.9})
	r, err := memory.NewRetriever(s, judge, nil, memory.DefaultRetrieverOptions())
	require.NoError(t, err)
	t.Cleanup(r.Close)

	entity := newEntity()
	seedRecent(t, s, entity, "a")
	req := memory.RetrieveRequest{EntityID: entity, Context: "x"}

	_, err = r.Retrieve(context.Background(), req)
	require.NoError(t, err)
	memory.WaitRankCache(r)

	got, err := r.Retrieve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(got))
	assert.Equal(t, 1, judge.Calls("rank"))

	// A new candidate changes the key.
	seedRecent(t, s, entity, "b")
	_, err = r.Retrieve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, judge.Calls("rank"))
}

func TestRetrieve_SemanticTier3(t *testing.T) {
	s := openStore(t)
	judge := newFakeJudge()
	judge.rankFn = scoresByID(map[string]float64{"t3": 0.9})
	opts := memory.DefaultRetrieverOptions()
	opts.SemanticTier3 = true
	opts.CacheMaxCost = 0
	r, err := memory.NewRetriever(s, judge, &fakeEmbedder{}, opts)
	require.NoError(t, err)

	entity := newEntity()
	seedAt(t, s, entity, "t3", store.Tier3, time.Now().Add(-time.Hour))

	got, err := r.Retrieve(context.Background(), memory.RetrieveRequest{
		EntityID: entity, Context: "x", Tiers: []store.Tier{store.Tier3},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"t3"}, ids(got))
}
