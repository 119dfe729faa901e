// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package memory

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/sigil-dev/strata/internal/events"
	"github.com/sigil-dev/strata/internal/store"
	strataerr "github.com/sigil-dev/strata/pkg/errors"
)

// RefreshTrigger names why a refresh was requested.
type RefreshTrigger string

const (
	TriggerScheduled     RefreshTrigger = "scheduled"
	TriggerContextChange RefreshTrigger = "context_change"
	TriggerUserRequest   RefreshTrigger = "user_request"
)

const (
	scheduledRefreshWindow = 7 * 24 * time.Hour
	scheduledRefreshCount  = 5
	scheduledRefreshScore  = 0.6
	contextRefreshCount    = 5
	userRefreshCount       = 10
	// scheduledRefreshPool bounds the records sampled from.
	scheduledRefreshPool = 100
)

// DefaultPublishTimeout bounds one event publish.
const DefaultPublishTimeout = 2 * time.Second

// RefreshResult lists memories surfaced proactively.
type RefreshResult struct {
	EntityID string            `json:"entity_id"`
	Trigger  RefreshTrigger    `json:"trigger"`
	Memories []RetrievedRecord `json:"memories"`
}

// OrchestratorConfig holds the collaborators of an Orchestrator.
type OrchestratorConfig struct {
	Store     store.RecordStore
	Migrator  *Migrator
	Retriever *Retriever
	Checker   *Checker
	Publisher events.Publisher
	Retention Retention
	// PublishTimeout bounds each event publish; zero uses DefaultPublishTimeout.
	PublishTimeout time.Duration
}

// Orchestrator is the entry point for every memory operation. It is the
// only caller of the migrator and serializes passes per entity and source
// tier; retrieval and coherence checks run without locks.
type Orchestrator struct {
	store     store.RecordStore
	migrator  *Migrator
	retriever *Retriever
	checker   *Checker
	publisher      events.Publisher
	publishTimeout time.Duration
	retention      Retention
	locks          *LockTable
}

// NewOrchestrator validates cfg and returns an Orchestrator. A nil
// publisher logs events instead.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Store == nil || cfg.Migrator == nil || cfg.Retriever == nil || cfg.Checker == nil {
		return nil, strataerr.New(strataerr.CodeMemoryInputInvalid, "orchestrator: store, migrator, retriever and checker are required")
	}
	pub := cfg.Publisher
	if pub == nil {
		pub = events.NewLogPublisher(nil)
	}
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	return &Orchestrator{
		store:          cfg.Store,
		migrator:       cfg.Migrator,
		retriever:      cfg.Retriever,
		checker:        cfg.Checker,
		publisher:      pub,
		publishTimeout: timeout,
		retention:      cfg.Retention,
		locks:          NewLockTable(),
	}, nil
}

// Migrate runs one migration pass for (entityID, sourceTier). Concurrent
// calls for the same pair wait for each other; other pairs run in parallel.
func (o *Orchestrator) Migrate(ctx context.Context, entityID string, sourceTier store.Tier, cutoffAge time.Duration) (*MigrationResult, error) {
	if err := validateEntityID(entityID); err != nil {
		return nil, err
	}
	if !sourceTier.Live() {
		return nil, strataerr.Errorf(strataerr.CodeMemoryInputInvalid, "source tier must be 1, 2 or 3, got %d", sourceTier)
	}
	if cutoffAge < 0 {
		return nil, strataerr.Errorf(strataerr.CodeMemoryInputInvalid, "cutoff age must not be negative, got %s", cutoffAge)
	}

	release, err := o.locks.Acquire(ctx, migrationKey(entityID, sourceTier))
	if err != nil {
		return nil, err
	}
	defer release()

	res, err := o.migrator.Migrate(ctx, entityID, sourceTier, cutoffAge)
	if res != nil {
		o.publish(ctx, events.New(events.MigrationCompleted, entityID, res))
	}
	return res, err
}

// Consolidate runs the three transitions in tier order, each with its tier's
// retention as the cutoff. It stops at the first hard error.
func (o *Orchestrator) Consolidate(ctx context.Context, entityID string) ([]*MigrationResult, error) {
	var results []*MigrationResult
	for _, tier := range []store.Tier{store.Tier1, store.Tier2, store.Tier3} {
		res, err := o.Migrate(ctx, entityID, tier, o.retention.Of(tier))
		if res != nil {
			results = append(results, res)
		}
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// Retrieve ranks memories against a context.
func (o *Orchestrator) Retrieve(ctx context.Context, req RetrieveRequest) ([]RetrievedRecord, error) {
	return o.retriever.Retrieve(ctx, req)
}

// CheckCoherence audits an entity and announces the result.
func (o *Orchestrator) CheckCoherence(ctx context.Context, entityID string, depth Depth) (*CoherenceReport, error) {
	if err := validateEntityID(entityID); err != nil {
		return nil, err
	}
	report, err := o.checker.Check(ctx, entityID, depth)
	if err != nil {
		return nil, err
	}
	o.publish(ctx, events.New(events.CoherenceChecked, entityID, map[string]any{
		"score":  report.Score,
		"issues": len(report.Issues),
		"depth":  report.Depth,
	}))
	return report, nil
}

// GetStats returns tier counts and archive totals.
func (o *Orchestrator) GetStats(ctx context.Context, entityID string) (*store.Stats, error) {
	if err := validateEntityID(entityID); err != nil {
		return nil, err
	}
	return o.store.GetStats(ctx, entityID)
}

// ListArchives returns the entity's archive batches in period order.
func (o *Orchestrator) ListArchives(ctx context.Context, entityID string) ([]*store.ArchiveBatch, error) {
	if err := validateEntityID(entityID); err != nil {
		return nil, err
	}
	return o.store.ListArchiveBatches(ctx, entityID)
}

// Refresh surfaces memories proactively. Scheduled refreshes sample recent
// tier 2 records; the other triggers retrieve against contextText.
func (o *Orchestrator) Refresh(ctx context.Context, entityID string, trigger RefreshTrigger, contextText string) (*RefreshResult, error) {
	if err := validateEntityID(entityID); err != nil {
		return nil, err
	}

	var (
		memories []RetrievedRecord
		err      error
	)
	switch trigger {
	case TriggerScheduled:
		memories, err = o.sampleRecent(ctx, entityID)
	case TriggerContextChange, TriggerUserRequest:
		maxResults := contextRefreshCount
		if trigger == TriggerUserRequest {
			maxResults = userRefreshCount
		}
		memories, err = o.retriever.Retrieve(ctx, RetrieveRequest{
			EntityID:   entityID,
			Context:    contextText,
			MaxResults: maxResults,
		})
	default:
		return nil, strataerr.Errorf(strataerr.CodeMemoryInputInvalid, "unknown refresh trigger %q", trigger)
	}
	if err != nil {
		return nil, err
	}

	if len(memories) > 0 {
		o.publish(ctx, events.New(events.RefreshCompleted, entityID, map[string]any{
			"trigger":  trigger,
			"memories": len(memories),
		}))
	}
	return &RefreshResult{EntityID: entityID, Trigger: trigger, Memories: memories}, nil
}

func (o *Orchestrator) sampleRecent(ctx context.Context, entityID string) ([]RetrievedRecord, error) {
	since := time.Now().Add(-scheduledRefreshWindow)
	recs, err := o.store.ListSince(ctx, entityID, store.Tier2, since, scheduledRefreshPool)
	if err != nil {
		return nil, err
	}
	rand.Shuffle(len(recs), func(i, j int) { recs[i], recs[j] = recs[j], recs[i] })
	if len(recs) > scheduledRefreshCount {
		recs = recs[:scheduledRefreshCount]
	}
	out := make([]RetrievedRecord, len(recs))
	for i, rec := range recs {
		out[i] = RetrievedRecord{Record: rec, Relevance: scheduledRefreshScore}
	}
	return out, nil
}

// publish is fire-and-forget: failures are logged, never returned. The call
// survives cancellation of ctx but not its deadline, and never runs longer
// than the publish timeout.
func (o *Orchestrator) publish(ctx context.Context, e events.Event) {
	timeout := o.publishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	if timeout <= 0 {
		slog.Warn("event dropped, caller deadline passed",
			"entity_id", e.EntityID,
			"type", string(e.Type))
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := o.publisher.Publish(pubCtx, e); err != nil {
		slog.Warn("event publish failed",
			"entity_id", e.EntityID,
			"type", string(e.Type),
			"error", err)
	}
}

// Close releases resources held by the retriever and publisher.
func (o *Orchestrator) Close() error {
	o.retriever.Close()
	return o.publisher.Close()
}

func validateEntityID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return strataerr.Errorf(strataerr.CodeMemoryInputInvalid, "entity id %q is not a UUID", id)
	}
	return nil
}
