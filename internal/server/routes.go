// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/sigil-dev/strata/internal/memory"
	"github.com/sigil-dev/strata/internal/store"
	strataerr "github.com/sigil-dev/strata/pkg/errors"
)

// RegisterServices sets the service dependencies and registers REST routes.
func (s *Server) RegisterServices(svc *Services) {
	s.services = svc
	s.registerRoutes()
}

const entityPrefix = "/api/v1/entities/{entityId}"

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "migrate",
		Method:      http.MethodPost,
		Path:        entityPrefix + "/migrations",
		Summary:     "Run one migration pass from a source tier",
		Tags:        []string{"consolidation"},
	}, s.handleMigrate)

	huma.Register(s.api, huma.Operation{
		OperationID: "consolidate",
		Method:      http.MethodPost,
		Path:        entityPrefix + "/consolidate",
		Summary:     "Run every tier transition with retention cutoffs",
		Tags:        []string{"consolidation"},
	}, s.handleConsolidate)

	huma.Register(s.api, huma.Operation{
		OperationID: "retrieve",
		Method:      http.MethodPost,
		Path:        entityPrefix + "/retrieve",
		Summary:     "Retrieve memories relevant to a context",
		Tags:        []string{"retrieval"},
	}, s.handleRetrieve)

	huma.Register(s.api, huma.Operation{
		OperationID: "refresh",
		Method:      http.MethodPost,
		Path:        entityPrefix + "/refresh",
		Summary:     "Surface memories proactively",
		Tags:        []string{"retrieval"},
	}, s.handleRefresh)

	huma.Register(s.api, huma.Operation{
		OperationID: "check-coherence",
		Method:      http.MethodGet,
		Path:        entityPrefix + "/coherence",
		Summary:     "Audit memory coherence",
		Tags:        []string{"coherence"},
	}, s.handleCoherence)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-stats",
		Method:      http.MethodGet,
		Path:        entityPrefix + "/stats",
		Summary:     "Tier counts and archive totals",
		Tags:        []string{"coherence"},
	}, s.handleStats)

	huma.Register(s.api, huma.Operation{
		OperationID: "list-archives",
		Method:      http.MethodGet,
		Path:        entityPrefix + "/archives",
		Summary:     "List tier 4 archive batches",
		Tags:        []string{"consolidation"},
	}, s.handleListArchives)
}

// --- Request/Response types for huma ---

type entityInput struct {
	EntityID string `path:"entityId" doc:"Entity UUID"`
}

type migrateInput struct {
	EntityID string `path:"entityId" doc:"Entity UUID"`
	Body     struct {
		SourceTier int    `json:"source_tier" doc:"Tier to migrate from (1, 2 or 3)"`
		CutoffAge  string `json:"cutoff_age" example:"24h" doc:"Only records older than this Go duration are eligible"`
	}
}
type migrateOutput struct {
	Body *memory.MigrationResult
}

type consolidateOutput struct {
	Body struct {
		Results []*memory.MigrationResult `json:"results"`
	}
}

type retrieveInput struct {
	EntityID string `path:"entityId" doc:"Entity UUID"`
	Body     struct {
		Context     string `json:"context" doc:"Free text the memories are ranked against"`
		ContextType string `json:"context_type,omitempty" doc:"Optional hint such as meeting or email"`
		MaxResults  int    `json:"max_results,omitempty" doc:"1-50, defaults to 10"`
		Tiers       []int  `json:"tiers,omitempty" doc:"Tiers to search, defaults to 1-3"`
	}
}
type retrieveOutput struct {
	Body struct {
		Memories []memory.RetrievedRecord `json:"memories"`
	}
}

type refreshInput struct {
	EntityID string `path:"entityId" doc:"Entity UUID"`
	Body     struct {
		Trigger string `json:"trigger" enum:"scheduled,context_change,user_request" doc:"Why the refresh was requested"`
		Context string `json:"context,omitempty" doc:"Required for context_change and user_request"`
	}
}
type refreshOutput struct {
	Body *memory.RefreshResult
}

type coherenceInput struct {
	EntityID string `path:"entityId" doc:"Entity UUID"`
	Depth    string `query:"depth" doc:"quick, standard (default) or deep"`
}
type coherenceOutput struct {
	Body *memory.CoherenceReport
}

type statsOutput struct {
	Body *store.Stats
}

type listArchivesOutput struct {
	Body struct {
		Batches []*store.ArchiveBatch `json:"batches"`
	}
}

// --- Handlers ---

// apiError maps coded errors onto HTTP statuses. Server-side failures are
// logged and returned without internal detail.
func apiError(op string, err error, details ...error) error {
	status := strataerr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "op", op, "code", strataerr.CodeOf(err), "error", err)
		return huma.NewError(status, op+" failed", details...)
	}
	return huma.NewError(status, err.Error(), details...)
}

// partialResult reports work a failed pass committed before it stopped.
func partialResult(v any) error {
	return &huma.ErrorDetail{
		Message:  "work committed before the failure",
		Location: "partial_result",
		Value:    v,
	}
}

func (s *Server) handleMigrate(ctx context.Context, input *migrateInput) (*migrateOutput, error) {
	cutoff, err := time.ParseDuration(input.Body.CutoffAge)
	if err != nil {
		return nil, huma.Error400BadRequest("cutoff_age must be a duration such as 24h")
	}
	res, err := s.services.Memory().Migrate(ctx, input.EntityID, store.Tier(input.Body.SourceTier), cutoff)
	if err != nil {
		if res != nil {
			return nil, apiError("migration", err, partialResult(res))
		}
		return nil, apiError("migration", err)
	}
	return &migrateOutput{Body: res}, nil
}

func (s *Server) handleConsolidate(ctx context.Context, input *entityInput) (*consolidateOutput, error) {
	results, err := s.services.Memory().Consolidate(ctx, input.EntityID)
	if err != nil {
		if len(results) > 0 {
			return nil, apiError("consolidation", err, partialResult(results))
		}
		return nil, apiError("consolidation", err)
	}
	out := &consolidateOutput{}
	out.Body.Results = results
	return out, nil
}

func (s *Server) handleRetrieve(ctx context.Context, input *retrieveInput) (*retrieveOutput, error) {
	req := memory.RetrieveRequest{
		EntityID:    input.EntityID,
		Context:     input.Body.Context,
		ContextType: input.Body.ContextType,
		MaxResults:  input.Body.MaxResults,
	}
	for _, t := range input.Body.Tiers {
		req.Tiers = append(req.Tiers, store.Tier(t))
	}

	memories, err := s.services.Memory().Retrieve(ctx, req)
	if err != nil {
		return nil, apiError("retrieval", err)
	}
	out := &retrieveOutput{}
	out.Body.Memories = memories
	if out.Body.Memories == nil {
		out.Body.Memories = []memory.RetrievedRecord{}
	}
	return out, nil
}

func (s *Server) handleRefresh(ctx context.Context, input *refreshInput) (*refreshOutput, error) {
	res, err := s.services.Memory().Refresh(ctx, input.EntityID, memory.RefreshTrigger(input.Body.Trigger), input.Body.Context)
	if err != nil {
		return nil, apiError("refresh", err)
	}
	return &refreshOutput{Body: res}, nil
}

func (s *Server) handleCoherence(ctx context.Context, input *coherenceInput) (*coherenceOutput, error) {
	depth, err := memory.ParseDepth(input.Depth)
	if err != nil {
		return nil, apiError("coherence check", err)
	}
	report, err := s.services.Memory().CheckCoherence(ctx, input.EntityID, depth)
	if err != nil {
		return nil, apiError("coherence check", err)
	}
	return &coherenceOutput{Body: report}, nil
}

func (s *Server) handleStats(ctx context.Context, input *entityInput) (*statsOutput, error) {
	stats, err := s.services.Memory().GetStats(ctx, input.EntityID)
	if err != nil {
		return nil, apiError("stats", err)
	}
	return &statsOutput{Body: stats}, nil
}

func (s *Server) handleListArchives(ctx context.Context, input *entityInput) (*listArchivesOutput, error) {
	batches, err := s.services.Memory().ListArchives(ctx, input.EntityID)
	if err != nil {
		return nil, apiError("archive listing", err)
	}
	out := &listArchivesOutput{}
	out.Body.Batches = batches
	if out.Body.Batches == nil {
		out.Body.Batches = []*store.ArchiveBatch{}
	}
	return out, nil
}
