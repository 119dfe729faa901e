// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package memory implements tiered consolidation and contextual retrieval
// over a store.RecordStore: importance scoring, tier migration and archival,
// relevance-ranked retrieval and coherence audits.
package memory

import (
	"context"
	"log/slog"
	"math"
	"strings"

	"github.com/sigil-dev/strata/internal/judgment"
	"github.com/sigil-dev/strata/internal/store"
)

// maxScoreText bounds the text sent to the judgment service for scoring.
const maxScoreText = 4000

// Evaluator scores the long-term value of records. Apart from the judgment
// call its result depends only on the records and the options.
type Evaluator struct {
	judge judgment.Client
	opts  EvaluatorOptions
}

// NewEvaluator creates an Evaluator. judge may be nil, in which case only
// the deterministic part of the score is used.
func NewEvaluator(judge judgment.Client, opts EvaluatorOptions) *Evaluator {
	return &Evaluator{judge: judge, opts: opts}
}

// Evaluate scores a single record.
func (e *Evaluator) Evaluate(ctx context.Context, rec *store.MemoryRecord) float64 {
	return e.EvaluateGroup(ctx, []*store.MemoryRecord{rec})
}

// EvaluateGroup scores records that will be summarized together. The base
// weight is the highest type weight in the group. The result is always in
// [0,1]; a failed judgment call yields DefaultImportance.
func (e *Evaluator) EvaluateGroup(ctx context.Context, recs []*store.MemoryRecord) float64 {
	if len(recs) == 0 {
		return e.opts.DefaultImportance
	}

	base := 0.0
	texts := make([]string, 0, len(recs))
	for _, rec := range recs {
		base = math.Max(base, e.typeWeight(rec.InteractionType))
		texts = append(texts, recordText(rec))
	}
	text := strings.Join(texts, "\n")

	score := base
	if e.hasKeyword(text) {
		score += e.opts.KeywordBoost
	}

	if e.judge != nil {
		salience, err := e.judge.Score(ctx, truncateRunes(text, maxScoreText))
		if err != nil {
			slog.Warn("importance judgment failed, using default",
				"entity_id", recs[0].EntityID,
				"records", len(recs),
				"default", e.opts.DefaultImportance,
				"error", err)
			return clamp01(e.opts.DefaultImportance)
		}
		score += e.opts.JudgmentBoost * clamp01(salience)
	}

	return clamp01(score)
}

func (e *Evaluator) typeWeight(t store.InteractionType) float64 {
	if w, ok := e.opts.TypeWeights[t]; ok {
		return w
	}
	return e.opts.UnknownTypeWeight
}

func (e *Evaluator) hasKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range e.opts.Keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// recordText is the text a record contributes to prompts: its summary once
// it has one, otherwise the raw payload.
func recordText(rec *store.MemoryRecord) string {
	if rec.Summary != "" {
		return rec.Summary
	}
	return string(rec.Payload)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
