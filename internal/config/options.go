// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package config

import (
	"github.com/sigil-dev/strata/internal/memory"
	"github.com/sigil-dev/strata/internal/store"
)

// EvaluatorOptions converts the consolidation section for the evaluator.
func (c *Config) EvaluatorOptions() memory.EvaluatorOptions {
	cc := c.Consolidation
	weights := make(map[store.InteractionType]float64, len(cc.TypeWeights))
	for typ, w := range cc.TypeWeights {
		weights[store.InteractionType(typ)] = w
	}
	return memory.EvaluatorOptions{
		TypeWeights:       weights,
		UnknownTypeWeight: cc.UnknownTypeWeight,
		Keywords:          cc.Keywords,
		KeywordBoost:      cc.KeywordBoost,
		JudgmentBoost:     cc.JudgmentBoost,
		DefaultImportance: cc.DefaultImportance,
	}
}

// MigratorOptions converts the consolidation section for the migrator.
func (c *Config) MigratorOptions() memory.MigratorOptions {
	cc := c.Consolidation
	grouped := make([]store.InteractionType, len(cc.GroupedTypes))
	for i, typ := range cc.GroupedTypes {
		grouped[i] = store.InteractionType(typ)
	}
	return memory.MigratorOptions{
		HighThreshold: cc.HighThreshold,
		LowThreshold:  cc.LowThreshold,
		BatchSize:     cc.BatchSize,
		MaxBatches:    cc.MaxBatches,
		GroupedTypes:  grouped,
	}
}

// Retention returns the per-tier retention windows.
func (c *Config) Retention() memory.Retention {
	r := c.Consolidation.Retention
	return memory.Retention{Tier1: r.Tier1, Tier2: r.Tier2, Tier3: r.Tier3}
}

// RetrieverOptions overlays the retrieval section on the stock options.
func (c *Config) RetrieverOptions() memory.RetrieverOptions {
	opts := memory.DefaultRetrieverOptions()
	rc := c.Retrieval
	opts.MaxCandidates = rc.MaxCandidates
	opts.DigestLength = rc.DigestLength
	opts.RelevanceFloor = rc.RelevanceFloor
	opts.DefaultMaxResults = rc.DefaultMaxResults
	opts.MaxResults = rc.MaxResults
	opts.SemanticTier3 = rc.SemanticTier3
	opts.CacheTTL = rc.CacheTTL
	opts.CacheMaxCost = rc.CacheMaxCost
	return opts
}

// CoherenceOptions converts the coherence section.
func (c *Config) CoherenceOptions() memory.CoherenceOptions {
	cc := c.Coherence
	return memory.CoherenceOptions{
		ImbalanceRatio: cc.ImbalanceRatio,
		StaleThreshold: cc.StaleThreshold,
		SampleSize:     cc.SampleSize,
		MinSample:      cc.MinSample,
		Retention:      c.Retention(),
	}
}

// StoreConfig converts the storage section for store.Open.
func (c *Config) StoreConfig() *store.StorageConfig {
	return &store.StorageConfig{
		Backend:          c.Storage.Backend,
		Path:             c.Storage.Path,
		VectorDimensions: c.Storage.VectorDimensions,
	}
}
