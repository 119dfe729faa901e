// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"
	"time"

	"github.com/sigil-dev/strata/internal/memory"
	"github.com/sigil-dev/strata/internal/store"
	"github.com/sigil-dev/strata/pkg/health"
	strataerr "github.com/sigil-dev/strata/pkg/errors"
)

// MemoryService is the memory engine as seen by REST handlers.
// *memory.Orchestrator satisfies it.
type MemoryService interface {
	Migrate(ctx context.Context, entityID string, sourceTier store.Tier, cutoffAge time.Duration) (*memory.MigrationResult, error)
	Consolidate(ctx context.Context, entityID string) ([]*memory.MigrationResult, error)
	Retrieve(ctx context.Context, req memory.RetrieveRequest) ([]memory.RetrievedRecord, error)
	Refresh(ctx context.Context, entityID string, trigger memory.RefreshTrigger, contextText string) (*memory.RefreshResult, error)
	CheckCoherence(ctx context.Context, entityID string, depth memory.Depth) (*memory.CoherenceReport, error)
	GetStats(ctx context.Context, entityID string) (*store.Stats, error)
	ListArchives(ctx context.Context, entityID string) ([]*store.ArchiveBatch, error)
}

var _ MemoryService = (*memory.Orchestrator)(nil)

// HealthReporter exposes the health of an external backend.
type HealthReporter interface {
	Metrics() health.Metrics
}

// Services holds dependencies injected into route handlers.
// Use NewServices constructor to ensure all required services are provided.
type Services struct {
	memory    MemoryService
	judgment  HealthReporter // optional
	embedding HealthReporter // optional
}

// ServicesOption configures optional services.
type ServicesOption func(*Services)

// WithJudgmentHealth reports judgment service health on /health.
func WithJudgmentHealth(h HealthReporter) ServicesOption {
	return func(s *Services) { s.judgment = h }
}

// WithEmbeddingHealth reports embedding service health on /health.
func WithEmbeddingHealth(h HealthReporter) ServicesOption {
	return func(s *Services) { s.embedding = h }
}

// NewServices creates a Services instance with validation.
func NewServices(mem MemoryService, opts ...ServicesOption) (*Services, error) {
	if mem == nil {
		return nil, strataerr.New(strataerr.CodeServerConfigInvalid, "memory service is required")
	}
	s := &Services{memory: mem}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Memory returns the memory service.
func (s *Services) Memory() MemoryService {
	return s.memory
}

// Judgment returns the judgment health reporter, or nil.
func (s *Services) Judgment() HealthReporter {
	return s.judgment
}

// Embedding returns the embedding health reporter, or nil.
func (s *Services) Embedding() HealthReporter {
	return s.embedding
}
