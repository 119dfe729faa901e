// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"log/slog"

	rcron "github.com/robfig/cron/v3"

	"github.com/sigil-dev/strata/internal/memory"
	strataerr "github.com/sigil-dev/strata/pkg/errors"
)

type consolidator interface {
	Consolidate(ctx context.Context, entityID string) ([]*memory.MigrationResult, error)
}

// scheduler runs Consolidate for a fixed set of entities on a cron
// schedule. A tick that is still running when the next one fires is skipped.
type scheduler struct {
	cron     *rcron.Cron
	spec     string
	mem      consolidator
	entities []string
}

func newScheduler(spec string, entities []string, mem consolidator) (*scheduler, error) {
	if _, err := rcron.ParseStandard(spec); err != nil {
		return nil, strataerr.Errorf(strataerr.CodeCLIInputInvalid, "invalid consolidation schedule %q: %w", spec, err)
	}
	if len(entities) == 0 {
		return nil, strataerr.New(strataerr.CodeCLIInputInvalid, "consolidation schedule requires at least one entity")
	}
	return &scheduler{
		cron:     rcron.New(rcron.WithChain(rcron.SkipIfStillRunning(rcron.DiscardLogger))),
		spec:     spec,
		mem:      mem,
		entities: entities,
	}, nil
}

// Start registers the job and starts the cron loop. Jobs run with ctx.
func (s *scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.runOnce(ctx) }); err != nil {
		return strataerr.Errorf(strataerr.CodeCLISetupFailure, "registering consolidation job: %w", err)
	}
	s.cron.Start()
	slog.Info("consolidation scheduled", "schedule", s.spec, "entities", len(s.entities))
	return nil
}

// Stop stops the cron loop and waits for a running job to finish.
func (s *scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// runOnce consolidates every entity in order. A failing entity is logged
// and does not stop the rest.
func (s *scheduler) runOnce(ctx context.Context) {
	for _, id := range s.entities {
		if ctx.Err() != nil {
			return
		}
		results, err := s.mem.Consolidate(ctx, id)
		if err != nil {
			slog.Error("scheduled consolidation failed", "entity_id", id, "error", err)
			continue
		}
		processed, skipped := 0, 0
		for _, r := range results {
			processed += r.Processed
			skipped += len(r.Skipped)
		}
		slog.Info("scheduled consolidation finished", "entity_id", id, "processed", processed, "skipped_groups", skipped)
	}
}
