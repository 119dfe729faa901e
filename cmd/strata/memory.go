// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sigil-dev/strata/internal/memory"
	"github.com/sigil-dev/strata/internal/store"
	strataerr "github.com/sigil-dev/strata/pkg/errors"
)

// runWithApp loads config, wires the app, runs fn and prints its result.
func runWithApp(cmd *cobra.Command, fn func(ctx context.Context, app *App, entityID string) (any, error)) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	entityID, _ := cmd.Flags().GetString("entity")

	ctx := cmd.Context()
	app, err := WireApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	out, err := fn(ctx, app, entityID)
	if err != nil {
		return err
	}
	return printResult(cmd, out)
}

func addEntityFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("entity", "e", "", "entity UUID")
	_ = cmd.MarkFlagRequired("entity")
}

func newRecordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Insert a tier 1 memory record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			typ, _ := cmd.Flags().GetString("type")
			payload, _ := cmd.Flags().GetString("payload")
			at, _ := cmd.Flags().GetString("at")

			rec, err := buildRecord(typ, payload, at, time.Now())
			if err != nil {
				return err
			}
			return runWithApp(cmd, func(ctx context.Context, app *App, entityID string) (any, error) {
				if _, err := uuid.Parse(entityID); err != nil {
					return nil, strataerr.Errorf(strataerr.CodeCLIInputInvalid, "entity id %q is not a UUID", entityID)
				}
				rec.EntityID = entityID
				if err := app.Store.Insert(ctx, rec); err != nil {
					return nil, err
				}
				return rec, nil
			})
		},
	}
	addEntityFlag(cmd)
	cmd.Flags().String("type", string(store.InteractionConversation), "interaction type")
	cmd.Flags().String("payload", "", "record payload as JSON")
	cmd.Flags().String("at", "", "creation time (RFC 3339), defaults to now")
	_ = cmd.MarkFlagRequired("payload")
	return cmd
}

// buildRecord assembles a tier 1 record from command-line input.
func buildRecord(typ, payload, at string, now time.Time) (*store.MemoryRecord, error) {
	if typ == "" {
		return nil, strataerr.New(strataerr.CodeCLIInputInvalid, "interaction type must not be empty")
	}
	if !json.Valid([]byte(payload)) {
		return nil, strataerr.New(strataerr.CodeCLIInputInvalid, "payload must be valid JSON")
	}
	created := now.UTC()
	if at != "" {
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return nil, strataerr.Errorf(strataerr.CodeCLIInputInvalid, "invalid --at %q: %w", at, err)
		}
		created = t.UTC()
	}
	return &store.MemoryRecord{
		ID:              uuid.NewString(),
		Tier:            store.Tier1,
		InteractionType: store.InteractionType(typ),
		Payload:         json.RawMessage(payload),
		CreatedAt:       created,
		TierEnteredAt:   created,
	}, nil
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run one migration pass from a source tier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tier, _ := cmd.Flags().GetInt("tier")
			cutoff, _ := cmd.Flags().GetDuration("cutoff")
			return runWithApp(cmd, func(ctx context.Context, app *App, entityID string) (any, error) {
				return app.Memory.Migrate(ctx, entityID, store.Tier(tier), cutoff)
			})
		},
	}
	addEntityFlag(cmd)
	cmd.Flags().Int("tier", 1, "source tier (1, 2 or 3)")
	cmd.Flags().Duration("cutoff", 24*time.Hour, "only records older than this are eligible")
	return cmd
}

func newConsolidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Run every tier transition using the configured retention windows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithApp(cmd, func(ctx context.Context, app *App, entityID string) (any, error) {
				return app.Memory.Consolidate(ctx, entityID)
			})
		},
	}
	addEntityFlag(cmd)
	return cmd
}

func newRetrieveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retrieve",
		Short: "Retrieve memories relevant to a context",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			text, _ := cmd.Flags().GetString("context")
			contextType, _ := cmd.Flags().GetString("context-type")
			maxResults, _ := cmd.Flags().GetInt("max-results")
			tiers, _ := cmd.Flags().GetIntSlice("tiers")

			return runWithApp(cmd, func(ctx context.Context, app *App, entityID string) (any, error) {
				req := memory.RetrieveRequest{
					EntityID:    entityID,
					Context:     text,
					ContextType: contextType,
					MaxResults:  maxResults,
				}
				for _, t := range tiers {
					req.Tiers = append(req.Tiers, store.Tier(t))
				}
				memories, err := app.Memory.Retrieve(ctx, req)
				if err != nil {
					return nil, err
				}
				if memories == nil {
					memories = []memory.RetrievedRecord{}
				}
				return memories, nil
			})
		},
	}
	addEntityFlag(cmd)
	cmd.Flags().String("context", "", "text the memories are ranked against")
	cmd.Flags().String("context-type", "", "optional hint such as meeting or email")
	cmd.Flags().Int("max-results", 0, "maximum memories to return (default from config)")
	cmd.Flags().IntSlice("tiers", nil, "tiers to search (default 1,2,3)")
	_ = cmd.MarkFlagRequired("context")
	return cmd
}

func newRefreshCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Surface memories proactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			trigger, _ := cmd.Flags().GetString("trigger")
			text, _ := cmd.Flags().GetString("context")
			return runWithApp(cmd, func(ctx context.Context, app *App, entityID string) (any, error) {
				return app.Memory.Refresh(ctx, entityID, memory.RefreshTrigger(trigger), text)
			})
		},
	}
	addEntityFlag(cmd)
	cmd.Flags().String("trigger", "scheduled", "scheduled, context_change or user_request")
	cmd.Flags().String("context", "", "context text, required for context_change and user_request")
	return cmd
}

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Audit memory coherence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, _ := cmd.Flags().GetString("depth")
			depth, err := memory.ParseDepth(raw)
			if err != nil {
				return err
			}
			return runWithApp(cmd, func(ctx context.Context, app *App, entityID string) (any, error) {
				return app.Memory.CheckCoherence(ctx, entityID, depth)
			})
		},
	}
	addEntityFlag(cmd)
	cmd.Flags().String("depth", "standard", "quick, standard or deep")
	return cmd
}

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show tier counts and archive totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithApp(cmd, func(ctx context.Context, app *App, entityID string) (any, error) {
				return app.Memory.GetStats(ctx, entityID)
			})
		},
	}
	addEntityFlag(cmd)
	return cmd
}

func newArchivesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archives",
		Short: "List tier 4 archive batches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithApp(cmd, func(ctx context.Context, app *App, entityID string) (any, error) {
				batches, err := app.Memory.ListArchives(ctx, entityID)
				if err != nil {
					return nil, err
				}
				if batches == nil {
					batches = []*store.ArchiveBatch{}
				}
				return batches, nil
			})
		},
	}
	addEntityFlag(cmd)
	return cmd
}
