// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package memory

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sigil-dev/strata/internal/judgment"
	"github.com/sigil-dev/strata/internal/store"
	strataerr "github.com/sigil-dev/strata/pkg/errors"
)

// Depth selects which coherence checks run.
type Depth string

const (
	DepthQuick    Depth = "quick"    // tier imbalance only
	DepthStandard Depth = "standard" // plus staleness
	DepthDeep     Depth = "deep"     // plus content contradictions
)

// ParseDepth maps "" to DepthStandard and rejects unknown values.
func ParseDepth(s string) (Depth, error) {
	switch Depth(s) {
	case "":
		return DepthStandard, nil
	case DepthQuick, DepthStandard, DepthDeep:
		return Depth(s), nil
	default:
		return "", strataerr.Errorf(strataerr.CodeMemoryInputInvalid, "unknown coherence depth %q", s)
	}
}

// IssueType identifies a kind of coherence problem.
type IssueType string

const (
	IssueTierImbalance IssueType = "tier_imbalance"
	IssueStale         IssueType = "stale_memories"
	IssueContradiction IssueType = "contradiction"
)

// Severity grades an issue.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
)

// recommendations holds the single fixed recommendation per issue type.
var recommendations = map[IssueType]string{
	IssueTierImbalance: "Run memory consolidation to balance tiers",
	IssueStale:         "Archive old Tier 1 memories to lower tiers",
	IssueContradiction: "Review and resolve contradictory memories",
}

// Issue is one coherence finding.
type Issue struct {
	Type        IssueType `json:"type"`
	Severity    Severity  `json:"severity"`
	Description string    `json:"description"`
}

// CoherenceReport is the result of a check. It is not persisted.
type CoherenceReport struct {
	EntityID        string           `json:"entity_id"`
	Depth           Depth            `json:"depth"`
	Score           float64          `json:"score"`
	TierCounts      store.TierCounts `json:"tier_counts"`
	Issues          []Issue          `json:"issues"`
	Recommendations []string         `json:"recommendations"`
	CheckedAt       time.Time        `json:"checked_at"`
}

// Checker audits tier sizes, staleness and content consistency. It never
// writes to the store.
type Checker struct {
	reader store.RecordReader
	judge  judgment.Client
	opts   CoherenceOptions
	now    func() time.Time
}

// NewChecker creates a Checker. Without a judge the deep content check
// reports nothing.
func NewChecker(reader store.RecordReader, judge judgment.Client, opts CoherenceOptions) (*Checker, error) {
	if reader == nil {
		return nil, strataerr.New(strataerr.CodeMemoryInputInvalid, "checker: record reader is nil")
	}
	return &Checker{reader: reader, judge: judge, opts: opts, now: time.Now}, nil
}

// Check runs the checks selected by depth concurrently. Only store failures
// are returned as errors; the content check degrades to no issues.
func (c *Checker) Check(ctx context.Context, entityID string, depth Depth) (*CoherenceReport, error) {
	if depth == "" {
		depth = DepthStandard
	}
	if _, err := ParseDepth(string(depth)); err != nil {
		return nil, err
	}

	var (
		counts        store.TierCounts
		imbalance     []Issue
		stale         []Issue
		contradiction []Issue
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		counts, err = c.reader.CountByTier(gctx, entityID)
		if err != nil {
			return err
		}
		imbalance = c.checkImbalance(counts)
		return nil
	})
	if depth != DepthQuick {
		g.Go(func() error {
			var err error
			stale, err = c.checkStaleness(gctx, entityID)
			return err
		})
	}
	if depth == DepthDeep {
		g.Go(func() error {
			var err error
			contradiction, err = c.checkContent(gctx, entityID)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, strataerr.Wrapf(err, strataerr.CodeStoreDatabaseFailure, "checking coherence for %s", entityID)
	}

	issues := make([]Issue, 0, len(imbalance)+len(stale)+len(contradiction))
	issues = append(issues, imbalance...)
	issues = append(issues, stale...)
	issues = append(issues, contradiction...)

	return &CoherenceReport{
		EntityID:        entityID,
		Depth:           depth,
		Score:           coherenceScore(len(issues)),
		TierCounts:      counts,
		Issues:          issues,
		Recommendations: recommend(issues),
		CheckedAt:       c.now().UTC(),
	}, nil
}

func (c *Checker) checkImbalance(counts store.TierCounts) []Issue {
	if float64(counts.Tier2) <= c.opts.ImbalanceRatio*float64(counts.Tier1) {
		return nil
	}
	return []Issue{{
		Type:     IssueTierImbalance,
		Severity: SeverityMedium,
		Description: fmt.Sprintf("Tier 2 holds %d records, more than %.0f%% of Tier 1 (%d)",
			counts.Tier2, c.opts.ImbalanceRatio*100, counts.Tier1),
	}}
}

func (c *Checker) checkStaleness(ctx context.Context, entityID string) ([]Issue, error) {
	now := c.now()
	var issues []Issue
	for _, tier := range []store.Tier{store.Tier1, store.Tier2, store.Tier3} {
		retention := c.opts.Retention.Of(tier)
		if retention <= 0 {
			continue
		}
		n, err := c.reader.CountOlderThan(ctx, entityID, tier, now.Add(-retention))
		if err != nil {
			return nil, err
		}
		if n > c.opts.StaleThreshold {
			issues = append(issues, Issue{
				Type:        IssueStale,
				Severity:    SeverityLow,
				Description: fmt.Sprintf("%d Tier %d records are older than %s and not yet consolidated", n, tier, retention),
			})
		}
	}
	return issues, nil
}

// checkContent samples recent tier 2 records and asks the judgment service
// for contradictions. Judgment failures are logged and yield no issues.
func (c *Checker) checkContent(ctx context.Context, entityID string) ([]Issue, error) {
	sample, err := c.reader.ListRecent(ctx, entityID, store.Tier2, c.opts.SampleSize)
	if err != nil {
		return nil, err
	}
	if c.judge == nil || len(sample) < c.opts.MinSample {
		return nil, nil
	}

	statements := make([]string, len(sample))
	for i, rec := range sample {
		statements[i] = recordText(rec)
	}
	found, err := c.judge.Contradictions(ctx, statements)
	if err != nil {
		slog.Warn("content coherence check failed, reporting no issues",
			"entity_id", entityID,
			"error", err)
		return nil, nil
	}

	issues := make([]Issue, 0, len(found))
	for _, f := range found {
		if f.Description == "" {
			continue
		}
		issues = append(issues, Issue{
			Type:        IssueContradiction,
			Severity:    SeverityMedium,
			Description: f.Description,
		})
	}
	return issues, nil
}

func coherenceScore(issues int) float64 {
	return math.Max(0, 1-0.1*float64(issues))
}

// recommend returns one recommendation per issue type in first-seen order.
func recommend(issues []Issue) []string {
	out := []string{}
	seen := make(map[IssueType]bool)
	for _, is := range issues {
		if seen[is.Type] {
			continue
		}
		seen[is.Type] = true
		if rec, ok := recommendations[is.Type]; ok {
			out = append(out, rec)
		}
	}
	return out
}
