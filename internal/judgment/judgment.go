// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package judgment wraps the external text-completion service used to
// summarize, score, rank and cross-check memories. Every call is bounded by
// a timeout and returns a coded error that callers turn into a fallback.
package judgment

import "context"

// Client is the judgment service as seen by the memory engine.
type Client interface {
	// Summarize condenses one or more memory texts into a single summary.
	Summarize(ctx context.Context, texts []string) (string, error)

	// Score returns the salience of text in [0,1].
	Score(ctx context.Context, text string) (float64, error)

	// Rank orders candidates by relevance to query. Returned indices refer
	// to Candidate.Index and may omit candidates.
	Rank(ctx context.Context, query string, candidates []Candidate) ([]Ranking, error)

	// Contradictions reports statements that conflict with each other.
	Contradictions(ctx context.Context, statements []string) ([]Contradiction, error)
}

// Embedder produces fixed-length vectors for tier 3 records.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Completer is a single prompt/response exchange with a model provider.
// Provider adapters implement this; Client is built on top of it.
type Completer interface {
	Name() string
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Candidate is one memory offered to Rank.
type Candidate struct {
	Index   int
	Type    string
	Content string
}

// Ranking is the relevance assigned to one candidate.
type Ranking struct {
	Index int
	Score float64
}

// Contradiction describes a conflict between sampled statements.
type Contradiction struct {
	Description string `json:"description"`
	Indices     []int  `json:"indices"`
}
