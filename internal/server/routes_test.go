// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server_test

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/sigil-dev/strata/internal/memory"
	"github.com/sigil-dev/strata/internal/store"
	strataerr "github.com/sigil-dev/strata/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const base = "/api/v1/entities/" + testEntity

func TestRoutes_Migrate(t *testing.T) {
	srv, mem := newTestServer(t)

	w := do(t, srv, http.MethodPost, base+"/migrations", map[string]any{"source_tier": 1, "cutoff_age": "36h"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	res := decode[memory.MigrationResult](t, w)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 2, res.PromotedTier2)
	assert.Equal(t, store.Tier1, mem.lastTier)
	assert.Equal(t, 36*time.Hour, mem.lastCutoff)
}

func TestRoutes_MigrateRejectsBadCutoff(t *testing.T) {
	srv, mem := newTestServer(t)

	w := do(t, srv, http.MethodPost, base+"/migrations", map[string]any{"source_tier": 1, "cutoff_age": "a while"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, mem.calls)
}

func TestRoutes_Consolidate(t *testing.T) {
	srv, _ := newTestServer(t)

	w := do(t, srv, http.MethodPost, base+"/consolidate", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode[struct {
		Results []memory.MigrationResult `json:"results"`
	}](t, w)
	assert.Len(t, body.Results, 3)
}

func TestRoutes_Retrieve(t *testing.T) {
	srv, mem := newTestServer(t)

	w := do(t, srv, http.MethodPost, base+"/retrieve", map[string]any{
		"context":      "planning the budget",
		"context_type": "meeting",
		"max_results":  5,
		"tiers":        []int{2, 3},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode[struct {
		Memories []memory.RetrievedRecord `json:"memories"`
	}](t, w)
	require.Len(t, body.Memories, 1)
	assert.Equal(t, "r1", body.Memories[0].Record.ID)
	assert.True(t, body.Memories[0].Ranked)

	assert.Equal(t, testEntity, mem.lastRequest.EntityID)
	assert.Equal(t, "meeting", mem.lastRequest.ContextType)
	assert.Equal(t, []store.Tier{store.Tier2, store.Tier3}, mem.lastRequest.Tiers)
}

func TestRoutes_RetrieveEmptyIsArray(t *testing.T) {
	srv, _ := newTestServer(t)

	w := do(t, srv, http.MethodPost, base+"/retrieve", map[string]any{"context": "nothing"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"memories":[]`)
}

func TestRoutes_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		leaks      bool
	}{
		{
			name:       "invalid input",
			err:        strataerr.New(strataerr.CodeMemoryInputInvalid, "entity id \"x\" is not a UUID"),
			wantStatus: http.StatusBadRequest,
			leaks:      true,
		},
		{
			name:       "storage failure",
			err:        strataerr.New(strataerr.CodeStoreDatabaseFailure, "disk I/O error at /var/lib/strata.db"),
			wantStatus: http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, mem := newTestServer(t)
			mem.err = tt.err

			w := do(t, srv, http.MethodGet, base+"/stats", nil)
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.leaks {
				assert.Contains(t, w.Body.String(), "not a UUID")
			} else {
				assert.NotContains(t, w.Body.String(), "/var/lib", "internal detail stays in the logs")
			}
		})
	}
}

func TestRoutes_FailedPassReportsPartialResult(t *testing.T) {
	type errorBody struct {
		Status int `json:"status"`
		Errors []struct {
			Location string          `json:"location"`
			Value    json.RawMessage `json:"value"`
		} `json:"errors"`
	}

	srv, mem := newTestServer(t)
	mem.err = strataerr.New(strataerr.CodeStoreDatabaseFailure, "database is locked")
	mem.partial = true

	w := do(t, srv, http.MethodPost, base+"/migrations", map[string]any{"source_tier": 1, "cutoff_age": "24h"})
	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode[errorBody](t, w)
	require.Len(t, body.Errors, 1)
	assert.Equal(t, "partial_result", body.Errors[0].Location)
	var res memory.MigrationResult
	require.NoError(t, json.Unmarshal(body.Errors[0].Value, &res))
	assert.Equal(t, 5, res.Processed)
	assert.Equal(t, 5, res.PromotedTier2)
	assert.NotContains(t, w.Body.String(), "database is locked")

	w = do(t, srv, http.MethodPost, base+"/consolidate", nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	body = decode[errorBody](t, w)
	require.Len(t, body.Errors, 1)
	var results []memory.MigrationResult
	require.NoError(t, json.Unmarshal(body.Errors[0].Value, &results))
	require.Len(t, results, 1)
	assert.Equal(t, 4, results[0].Processed)
}

func TestRoutes_Refresh(t *testing.T) {
	srv, mem := newTestServer(t)

	w := do(t, srv, http.MethodPost, base+"/refresh", map[string]any{"trigger": "user_request", "context": "what did we decide"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, memory.TriggerUserRequest, mem.lastTrigger)

	w = do(t, srv, http.MethodPost, base+"/refresh", map[string]any{"trigger": "whenever"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "unknown triggers fail schema validation")
}

func TestRoutes_Coherence(t *testing.T) {
	srv, mem := newTestServer(t)

	w := do(t, srv, http.MethodGet, base+"/coherence?depth=deep", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	report := decode[memory.CoherenceReport](t, w)
	assert.Equal(t, memory.DepthDeep, mem.lastDepth)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, memory.IssueTierImbalance, report.Issues[0].Type)

	w = do(t, srv, http.MethodGet, base+"/coherence", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, memory.DepthStandard, mem.lastDepth)

	w = do(t, srv, http.MethodGet, base+"/coherence?depth=thorough", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoutes_StatsAndArchives(t *testing.T) {
	srv, _ := newTestServer(t)

	w := do(t, srv, http.MethodGet, base+"/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[store.Stats](t, w)
	assert.Equal(t, 6, stats.Total)
	assert.Equal(t, 4, stats.Counts.Tier1)

	w = do(t, srv, http.MethodGet, base+"/archives", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"batches":[]`)
}
