// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package memory

import (
	"time"

	"github.com/sigil-dev/strata/internal/store"
)

// EvaluatorOptions tunes importance scoring.
type EvaluatorOptions struct {
	TypeWeights       map[store.InteractionType]float64
	UnknownTypeWeight float64
	Keywords          []string
	KeywordBoost      float64
	JudgmentBoost     float64
	// DefaultImportance is returned when the judgment call fails.
	DefaultImportance float64
}

// DefaultEvaluatorOptions returns the stock weights.
func DefaultEvaluatorOptions() EvaluatorOptions {
	return EvaluatorOptions{
		TypeWeights: map[store.InteractionType]float64{
			store.InteractionDecision:      0.8,
			store.InteractionTaskExecution: 0.6,
			store.InteractionConversation:  0.5,
			store.InteractionEvent:         0.4,
			store.InteractionAction:        0.5,
		},
		UnknownTypeWeight: 0.5,
		Keywords:          []string{"important", "critical"},
		KeywordBoost:      0.2,
		JudgmentBoost:     0.2,
		DefaultImportance: 0.5,
	}
}

// MigratorOptions tunes tier migration.
type MigratorOptions struct {
	HighThreshold float64
	LowThreshold  float64
	BatchSize     int
	MaxBatches    int
	// GroupedTypes are bucketed per ISO week before summarizing.
	GroupedTypes []store.InteractionType
}

// DefaultMigratorOptions returns the stock routing thresholds and paging.
func DefaultMigratorOptions() MigratorOptions {
	return MigratorOptions{
		HighThreshold: 0.7,
		LowThreshold:  0.4,
		BatchSize:     200,
		MaxBatches:    10,
		GroupedTypes:  []store.InteractionType{store.InteractionConversation},
	}
}

// Retention is how long a record stays in a tier before it is eligible to
// move on.
type Retention struct {
	Tier1 time.Duration
	Tier2 time.Duration
	Tier3 time.Duration
}

// DefaultRetention returns 24h / 30d / 365d.
func DefaultRetention() Retention {
	return Retention{
		Tier1: 24 * time.Hour,
		Tier2: 30 * 24 * time.Hour,
		Tier3: 365 * 24 * time.Hour,
	}
}

// Of returns the retention window of a live tier, or zero.
func (r Retention) Of(t store.Tier) time.Duration {
	switch t {
	case store.Tier1:
		return r.Tier1
	case store.Tier2:
		return r.Tier2
	case store.Tier3:
		return r.Tier3
	default:
		return 0
	}
}

// RetrieverOptions tunes contextual retrieval.
type RetrieverOptions struct {
	TierCaps          map[store.Tier]int
	MaxCandidates     int
	DigestLength      int
	RelevanceFloor    float64
	NeutralScore      float64
	DefaultMaxResults int
	MaxResults        int
	MaxContextLength  int
	// SemanticTier3 gathers tier 3 candidates by vector similarity to the
	// context instead of by recency.
	SemanticTier3 bool
	CacheTTL      time.Duration
	// CacheMaxCost bounds the rank cache; zero disables caching.
	CacheMaxCost int64
}

// DefaultRetrieverOptions returns the stock retrieval caps.
func DefaultRetrieverOptions() RetrieverOptions {
	return RetrieverOptions{
		TierCaps: map[store.Tier]int{
			store.Tier1: 100,
			store.Tier2: 100,
			store.Tier3: 50,
		},
		MaxCandidates:     50,
		DigestLength:      200,
		RelevanceFloor:    0.3,
		NeutralScore:      0.5,
		DefaultMaxResults: 10,
		MaxResults:        50,
		MaxContextLength:  4000,
		CacheTTL:          5 * time.Minute,
		CacheMaxCost:      1 << 20,
	}
}

// CoherenceOptions tunes the coherence checker.
type CoherenceOptions struct {
	ImbalanceRatio float64
	StaleThreshold int
	SampleSize     int
	MinSample      int
	Retention      Retention
}

// DefaultCoherenceOptions returns the stock audit thresholds.
func DefaultCoherenceOptions() CoherenceOptions {
	return CoherenceOptions{
		ImbalanceRatio: 0.8,
		StaleThreshold: 100,
		SampleSize:     20,
		MinSample:      5,
		Retention:      DefaultRetention(),
	}
}
