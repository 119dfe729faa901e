// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package memory_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/strata/internal/events"
	"github.com/sigil-dev/strata/internal/judgment"
	"github.com/sigil-dev/strata/internal/memory"
	"github.com/sigil-dev/strata/internal/store"
	"github.com/sigil-dev/strata/internal/store/sqlite"
)

const testDims = 4

var errJudgmentDown = errors.New("judgment service unavailable")

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

var scoreMarker = regexp.MustCompile(`score=([0-9.]+)`)

// fakeJudge scores text by its "score=X" marker and ranks with rankFn.
type fakeJudge struct {
	mu sync.Mutex

	scoreErr          error
	summarizeErr      error
	rankFn            func(query string, cands []judgment.Candidate) ([]judgment.Ranking, error)
	contradictions    []judgment.Contradiction
	contradictionsErr error

	calls      map[string]int
	rankInputs [][]judgment.Candidate
}

func newFakeJudge() *fakeJudge {
	return &fakeJudge{calls: make(map[string]int)}
}

func (f *fakeJudge) count(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
}

func (f *fakeJudge) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeJudge) Summarize(_ context.Context, texts []string) (string, error) {
	f.count("summarize")
	if f.summarizeErr != nil {
		return "", f.summarizeErr
	}
	return fmt.Sprintf("summary of %d memories", len(texts)), nil
}

func (f *fakeJudge) Score(_ context.Context, text string) (float64, error) {
	f.count("score")
	if f.scoreErr != nil {
		return 0, f.scoreErr
	}
	m := scoreMarker.FindStringSubmatch(text)
	if m == nil {
		return 0, nil
	}
	return strconv.ParseFloat(m[1], 64)
}

func (f *fakeJudge) Rank(_ context.Context, query string, cands []judgment.Candidate) ([]judgment.Ranking, error) {
	f.count("rank")
	f.mu.Lock()
	f.rankInputs = append(f.rankInputs, cands)
	f.mu.Unlock()
	if f.rankFn == nil {
		return nil, errJudgmentDown
	}
	return f.rankFn(query, cands)
}

func (f *fakeJudge) Contradictions(_ context.Context, _ []string) ([]judgment.Contradiction, error) {
	f.count("contradictions")
	return f.contradictions, f.contradictionsErr
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Dimensions() int { return testDims }

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3, 0.4}, nil
}

// memWriter is an in-memory archive.Writer keyed by object name.
type memWriter struct {
	mu      sync.Mutex
	objects map[string][]byte
	writes  int
	err     error
}

func newMemWriter() *memWriter {
	return &memWriter{objects: make(map[string][]byte)}
}

func (w *memWriter) Write(_ context.Context, name string, data []byte) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes++
	if w.err != nil {
		return "", w.err
	}
	w.objects[name] = append([]byte(nil), data...)
	return "mem://" + name, nil
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) Types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

// failingStore fails every ApplyMigration while leaving reads intact.
type failingStore struct {
	store.RecordStore
	err error
}

func (f *failingStore) ApplyMigration(context.Context, *store.MigrationPlan) error {
	return f.err
}

// ---------------------------------------------------------------------------
// Store seeding
// ---------------------------------------------------------------------------

func openStore(t *testing.T) *sqlite.RecordStore {
	t.Helper()
	s, err := sqlite.NewRecordStore(filepath.Join(t.TempDir(), "memory.db"), testDims)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newEntity() string {
	return uuid.NewString()
}

// rec builds a tier 1 record whose text carries a score marker.
func rec(entityID, id string, typ store.InteractionType, score float64, created time.Time) *store.MemoryRecord {
	payload, _ := json.Marshal(map[string]string{"text": fmt.Sprintf("%s score=%.2f", id, score)})
	return &store.MemoryRecord{
		ID:              id,
		EntityID:        entityID,
		Tier:            store.Tier1,
		InteractionType: typ,
		Payload:         payload,
		CreatedAt:       created,
		TierEnteredAt:   created,
	}
}

func insert(t *testing.T, s store.RecordStore, recs ...*store.MemoryRecord) {
	t.Helper()
	for _, r := range recs {
		require.NoError(t, s.Insert(context.Background(), r))
	}
}

// seedAt inserts a record at tier 1 and promotes it straight to tier.
func seedAt(t *testing.T, s store.RecordStore, entityID, id string, tier store.Tier, created time.Time) *store.MemoryRecord {
	t.Helper()
	r := rec(entityID, id, store.InteractionDecision, 0.5, created)
	insert(t, s, r)
	if tier == store.Tier1 {
		return r
	}
	score := 0.8
	dst := *r
	dst.Tier = tier
	dst.Summary = "summary " + id
	dst.ImportanceScore = &score
	if tier == store.Tier3 {
		dst.Embedding = []float32{0.1, 0.2, 0.3, 0.4}
	}
	require.NoError(t, s.ApplyMigration(context.Background(), &store.MigrationPlan{
		EntityID:   entityID,
		SourceTier: store.Tier1,
		Promotions: []store.Promotion{{SourceID: id, Destination: &dst}},
	}))
	return &dst
}

// ---------------------------------------------------------------------------
// Component wiring
// ---------------------------------------------------------------------------

// markerEvaluatorOptions makes the importance score equal to the judged
// score marker, with no type weight or keyword influence.
func markerEvaluatorOptions() memory.EvaluatorOptions {
	return memory.EvaluatorOptions{
		UnknownTypeWeight: 0,
		JudgmentBoost:     1,
		DefaultImportance: 0.5,
	}
}

type harness struct {
	store     store.RecordStore
	judge     *fakeJudge
	embedder  *fakeEmbedder
	writer    *memWriter
	publisher *recordingPublisher
	migrator  *memory.Migrator
	retriever *memory.Retriever
	checker   *memory.Checker
	orch      *memory.Orchestrator
}

func newHarness(t *testing.T, rs store.RecordStore, migOpts memory.MigratorOptions) *harness {
	t.Helper()
	h := &harness{
		store:     rs,
		judge:     newFakeJudge(),
		embedder:  &fakeEmbedder{},
		writer:    newMemWriter(),
		publisher: &recordingPublisher{},
	}

	archiver, err := memory.NewArchiver(rs, h.writer)
	require.NoError(t, err)
	evaluator := memory.NewEvaluator(h.judge, markerEvaluatorOptions())
	h.migrator, err = memory.NewMigrator(rs, h.judge, h.embedder, evaluator, archiver, migOpts)
	require.NoError(t, err)

	retrOpts := memory.DefaultRetrieverOptions()
	retrOpts.CacheMaxCost = 0
	h.retriever, err = memory.NewRetriever(rs, h.judge, h.embedder, retrOpts)
	require.NoError(t, err)

	h.checker, err = memory.NewChecker(rs, h.judge, memory.DefaultCoherenceOptions())
	require.NoError(t, err)

	h.orch, err = memory.NewOrchestrator(memory.OrchestratorConfig{
		Store:     rs,
		Migrator:  h.migrator,
		Retriever: h.retriever,
		Checker:   h.checker,
		Publisher: h.publisher,
		Retention: memory.DefaultRetention(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.orch.Close() })
	return h
}

// individualOptions processes every record on its own.
func individualOptions() memory.MigratorOptions {
	opts := memory.DefaultMigratorOptions()
	opts.GroupedTypes = nil
	return opts
}
