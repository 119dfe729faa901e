// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package judgment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	strataerr "github.com/sigil-dev/strata/pkg/errors"
)

// DefaultTimeout bounds a single judgment call.
const DefaultTimeout = 10 * time.Second

const (
	summarizeSystem = `You condense memory records of an AI agent into one short factual summary. ` +
		`Keep decisions, outcomes and named entities. Reply with the summary text only.`

	scoreSystem = `You rate how important a memory is for an AI agent to remember long term. ` +
		`Reply with JSON only: {"importance": <number between 0 and 1>}.`

	rankSystem = `You rank memories by relevance to the given context. ` +
		`Reply with JSON only: {"ranked_indices": [<index>...], "relevance_scores": [<number between 0 and 1>...]}. ` +
		`Most relevant first. Omit memories that are not relevant.`

	contradictionSystem = `You check a list of memory statements for contradictions. ` +
		`Reply with JSON only: {"contradictions": [{"description": "<what conflicts>", "indices": [<index>...]}]}. ` +
		`Reply with an empty list when the statements are consistent.`
)

// missingScore is used when the service returns an index without a score.
const missingScore = 0.5

// Compile-time interface check.
var _ Client = (*LLMClient)(nil)

// LLMClient implements Client on top of a Completer. Calls are skipped while
// the health tracker is in cooldown.
type LLMClient struct {
	completer Completer
	health    *HealthTracker
	timeout   time.Duration
}

// NewLLMClient creates a Client. A zero timeout uses DefaultTimeout.
func NewLLMClient(completer Completer, health *HealthTracker, timeout time.Duration) (*LLMClient, error) {
	if completer == nil {
		return nil, strataerr.New(strataerr.CodeJudgmentNotConfigured, "judgment completer is nil")
	}
	if health == nil {
		var err error
		if health, err = NewHealthTracker(DefaultHealthCooldown); err != nil {
			return nil, err
		}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &LLMClient{completer: completer, health: health, timeout: timeout}, nil
}

// Health exposes the tracker for status reporting.
func (c *LLMClient) Health() *HealthTracker { return c.health }

func (c *LLMClient) Summarize(ctx context.Context, texts []string) (string, error) {
	if len(texts) == 0 {
		return "", strataerr.New(strataerr.CodeJudgmentRequestInvalid, "nothing to summarize")
	}

	var b strings.Builder
	for i, t := range texts {
		fmt.Fprintf(&b, "Memory %d:\n%s\n\n", i+1, t)
	}

	out, err := c.call(ctx, "summarize", summarizeSystem, b.String())
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(out)
	if summary == "" {
		return "", strataerr.New(strataerr.CodeJudgmentResponseInvalid, "empty summary", strataerr.FieldProvider(c.completer.Name()))
	}
	return summary, nil
}

func (c *LLMClient) Score(ctx context.Context, text string) (float64, error) {
	out, err := c.call(ctx, "score", scoreSystem, "Memory:\n"+text)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Importance *float64 `json:"importance"`
	}
	if err := decodeJSON(out, &resp); err != nil {
		return 0, err
	}
	if resp.Importance == nil {
		return 0, strataerr.New(strataerr.CodeJudgmentResponseInvalid, "score response missing importance")
	}
	return clamp01(*resp.Importance), nil
}

func (c *LLMClient) Rank(ctx context.Context, query string, candidates []Candidate) ([]Ranking, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Context: %s\n\nMemories:\n", query)
	known := make(map[int]bool, len(candidates))
	for _, cand := range candidates {
		fmt.Fprintf(&b, "%d: [%s] %s\n", cand.Index, cand.Type, cand.Content)
		known[cand.Index] = true
	}

	out, err := c.call(ctx, "rank", rankSystem, b.String())
	if err != nil {
		return nil, err
	}

	var resp struct {
		RankedIndices   []int     `json:"ranked_indices"`
		RelevanceScores []float64 `json:"relevance_scores"`
	}
	if err := decodeJSON(out, &resp); err != nil {
		return nil, err
	}

	rankings := make([]Ranking, 0, len(resp.RankedIndices))
	seen := make(map[int]bool, len(resp.RankedIndices))
	for i, idx := range resp.RankedIndices {
		if !known[idx] || seen[idx] {
			continue
		}
		seen[idx] = true
		score := missingScore
		if i < len(resp.RelevanceScores) {
			score = clamp01(resp.RelevanceScores[i])
		}
		rankings = append(rankings, Ranking{Index: idx, Score: score})
	}
	return rankings, nil
}

func (c *LLMClient) Contradictions(ctx context.Context, statements []string) ([]Contradiction, error) {
	if len(statements) < 2 {
		return nil, nil
	}

	var b strings.Builder
	b.WriteString("Statements:\n")
	for i, s := range statements {
		fmt.Fprintf(&b, "%d: %s\n", i, s)
	}

	out, err := c.call(ctx, "contradictions", contradictionSystem, b.String())
	if err != nil {
		return nil, err
	}

	var resp struct {
		Contradictions []Contradiction `json:"contradictions"`
	}
	if err := decodeJSON(out, &resp); err != nil {
		return nil, err
	}

	found := resp.Contradictions[:0]
	for _, con := range resp.Contradictions {
		if strings.TrimSpace(con.Description) == "" {
			continue
		}
		found = append(found, con)
	}
	return found, nil
}

// call runs one completion under the client timeout and classifies failures.
func (c *LLMClient) call(ctx context.Context, op, system, prompt string) (string, error) {
	provider := c.completer.Name()
	if !c.health.IsHealthy() {
		return "", strataerr.New(strataerr.CodeJudgmentUnavailable, "judgment service cooling down",
			strataerr.FieldProvider(provider), strataerr.Field("op", op))
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.completer.Complete(callCtx, system, prompt)
	if err == nil {
		c.health.RecordSuccess()
		return out, nil
	}

	// The caller gave up; that says nothing about the service.
	if ctx.Err() != nil {
		return "", strataerr.Wrapf(ctx.Err(), strataerr.CodeJudgmentUpstreamFailure, "%s: %s cancelled", provider, op)
	}

	c.health.RecordFailure()
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return "", strataerr.Wrap(err, strataerr.CodeJudgmentTimeout,
			fmt.Sprintf("%s: %s timed out after %s", provider, op, c.timeout), strataerr.FieldProvider(provider))
	}
	return "", strataerr.Wrap(err, strataerr.CodeJudgmentUpstreamFailure,
		fmt.Sprintf("%s: %s failed", provider, op), strataerr.FieldProvider(provider))
}

// decodeJSON parses a JSON object out of a model reply, tolerating code
// fences and surrounding prose.
func decodeJSON(raw string, v any) error {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end < start {
		return strataerr.Errorf(strataerr.CodeJudgmentResponseInvalid, "no JSON object in reply %q", truncate(raw, 80))
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), v); err != nil {
		return strataerr.Errorf(strataerr.CodeJudgmentResponseInvalid, "decoding reply: %w", err)
	}
	return nil
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

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
