// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sigil-dev/strata/internal/memory"
	"github.com/sigil-dev/strata/internal/server"
	"github.com/sigil-dev/strata/internal/store"
	"github.com/sigil-dev/strata/pkg/health"
	"github.com/stretchr/testify/require"
)

const testEntity = "6f1c2b9e-8a51-4f0e-9a3e-2d1b7c4e5f60"

// fakeMemory records calls and returns canned results.
type fakeMemory struct {
	mu    sync.Mutex
	calls []string
	err   error

	// partial makes failing passes also return the work done so far.
	partial bool

	lastTier    store.Tier
	lastCutoff  time.Duration
	lastRequest memory.RetrieveRequest
	lastDepth   memory.Depth
	lastTrigger memory.RefreshTrigger
}

func (f *fakeMemory) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
	return f.err
}

func (f *fakeMemory) Migrate(_ context.Context, entityID string, tier store.Tier, cutoff time.Duration) (*memory.MigrationResult, error) {
	f.lastTier, f.lastCutoff = tier, cutoff
	if err := f.record("migrate"); err != nil {
		if f.partial {
			return &memory.MigrationResult{EntityID: entityID, SourceTier: tier, Processed: 5, PromotedTier2: 5}, err
		}
		return nil, err
	}
	return &memory.MigrationResult{EntityID: entityID, SourceTier: tier, Processed: 3, PromotedTier2: 2, Discarded: 1}, nil
}

func (f *fakeMemory) Consolidate(_ context.Context, entityID string) ([]*memory.MigrationResult, error) {
	if err := f.record("consolidate"); err != nil {
		if f.partial {
			return []*memory.MigrationResult{{EntityID: entityID, SourceTier: store.Tier1, Processed: 4}}, err
		}
		return nil, err
	}
	return []*memory.MigrationResult{
		{EntityID: entityID, SourceTier: store.Tier1},
		{EntityID: entityID, SourceTier: store.Tier2},
		{EntityID: entityID, SourceTier: store.Tier3},
	}, nil
}

func (f *fakeMemory) Retrieve(_ context.Context, req memory.RetrieveRequest) ([]memory.RetrievedRecord, error) {
	f.lastRequest = req
	if err := f.record("retrieve"); err != nil {
		return nil, err
	}
	if req.Context == "nothing" {
		return nil, nil
	}
	return []memory.RetrievedRecord{{
		Record:    &store.MemoryRecord{ID: "r1", EntityID: req.EntityID, Tier: store.Tier2, Summary: "budget review"},
		Relevance: 0.9,
		Ranked:    true,
	}}, nil
}

func (f *fakeMemory) Refresh(_ context.Context, entityID string, trigger memory.RefreshTrigger, _ string) (*memory.RefreshResult, error) {
	f.lastTrigger = trigger
	if err := f.record("refresh"); err != nil {
		return nil, err
	}
	return &memory.RefreshResult{EntityID: entityID, Trigger: trigger, Memories: []memory.RetrievedRecord{}}, nil
}

func (f *fakeMemory) CheckCoherence(_ context.Context, entityID string, depth memory.Depth) (*memory.CoherenceReport, error) {
	f.lastDepth = depth
	if err := f.record("coherence"); err != nil {
		return nil, err
	}
	return &memory.CoherenceReport{EntityID: entityID, Depth: depth, Score: 0.9, Issues: []memory.Issue{
		{Type: memory.IssueTierImbalance, Severity: memory.SeverityMedium, Description: "tier 2 is crowded"},
	}, Recommendations: []string{"Run memory consolidation to balance tiers"}}, nil
}

func (f *fakeMemory) GetStats(_ context.Context, entityID string) (*store.Stats, error) {
	if err := f.record("stats"); err != nil {
		return nil, err
	}
	return &store.Stats{EntityID: entityID, Counts: store.TierCounts{Tier1: 4, Tier2: 2}, Total: 6}, nil
}

func (f *fakeMemory) ListArchives(context.Context, string) ([]*store.ArchiveBatch, error) {
	return nil, f.record("archives")
}

type fixedHealth health.Metrics

func (h fixedHealth) Metrics() health.Metrics { return health.Metrics(h) }

func newTestServer(t *testing.T, opts ...server.ServicesOption) (*server.Server, *fakeMemory) {
	t.Helper()
	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	mem := &fakeMemory{}
	svc, err := server.NewServices(mem, opts...)
	require.NoError(t, err)
	srv.RegisterServices(svc)
	return srv, mem
}

func do(t *testing.T, srv *server.Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}
