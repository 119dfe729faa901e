// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package judgment_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sigil-dev/strata/internal/judgment"
	strataerr "github.com/sigil-dev/strata/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedCompleter returns canned replies and records prompts.
type scriptedCompleter struct {
	mu      sync.Mutex
	reply   string
	err     error
	delay   time.Duration
	prompts []string
}

func (s *scriptedCompleter) Name() string { return "scripted" }

func (s *scriptedCompleter) Complete(ctx context.Context, _, prompt string) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	reply, err, delay := s.reply, s.err, s.delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return reply, err
}

func newClient(t *testing.T, c judgment.Completer, timeout time.Duration) *judgment.LLMClient {
	t.Helper()
	h, err := judgment.NewHealthTracker(time.Minute)
	require.NoError(t, err)
	client, err := judgment.NewLLMClient(c, h, timeout)
	require.NoError(t, err)
	return client
}

func TestLLMClient_RankParsesFencedJSON(t *testing.T) {
	c := &scriptedCompleter{reply: "```json\n{\"ranked_indices\": [2, 0, 7, 2], \"relevance_scores\": [0.9, 1.4, 0.3, 0.1]}\n```"}
	client := newClient(t, c, time.Second)

	got, err := client.Rank(context.Background(), "deploy plan", []judgment.Candidate{
		{Index: 0, Type: "decision", Content: "use blue-green"},
		{Index: 1, Type: "event", Content: "lunch"},
		{Index: 2, Type: "conversation", Content: "rollout timing"},
	})
	require.NoError(t, err)

	// Unknown index 7 and the duplicate 2 are dropped; 1.4 is clamped.
	assert.Equal(t, []judgment.Ranking{{Index: 2, Score: 0.9}, {Index: 0, Score: 1}}, got)
	require.Len(t, c.prompts, 1)
	assert.Contains(t, c.prompts[0], "0: [decision] use blue-green")
	assert.Contains(t, c.prompts[0], "Context: deploy plan")
}

func TestLLMClient_RankMissingScoresDefault(t *testing.T) {
	c := &scriptedCompleter{reply: `{"ranked_indices": [1, 0], "relevance_scores": [0.8]}`}
	got, err := newClient(t, c, time.Second).Rank(context.Background(), "q", []judgment.Candidate{{Index: 0}, {Index: 1}})
	require.NoError(t, err)
	assert.Equal(t, []judgment.Ranking{{Index: 1, Score: 0.8}, {Index: 0, Score: 0.5}}, got)
}

func TestLLMClient_RankEmptyCandidatesSkipsCall(t *testing.T) {
	c := &scriptedCompleter{}
	got, err := newClient(t, c, time.Second).Rank(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Empty(t, c.prompts)
}

func TestLLMClient_MalformedReply(t *testing.T) {
	c := &scriptedCompleter{reply: "I think the second one"}
	_, err := newClient(t, c, time.Second).Score(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, strataerr.HasCode(err, strataerr.CodeJudgmentResponseInvalid))
	assert.True(t, strataerr.IsJudgmentFailure(err))
}

func TestLLMClient_ScoreClamps(t *testing.T) {
	c := &scriptedCompleter{reply: `{"importance": -3}`}
	got, err := newClient(t, c, time.Second).Score(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, 0.0, got)
}

func TestLLMClient_TimeoutClassifiedAndTripsHealth(t *testing.T) {
	c := &scriptedCompleter{reply: "late", delay: time.Second}
	client := newClient(t, c, 20*time.Millisecond)

	_, err := client.Summarize(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.True(t, strataerr.IsTimeout(err))
	assert.False(t, client.Health().IsHealthy())

	// While cooling down the service is not called at all.
	_, err = client.Summarize(context.Background(), []string{"a"})
	assert.True(t, strataerr.IsUnavailable(err))
	assert.Len(t, c.prompts, 1)
}

func TestLLMClient_UpstreamError(t *testing.T) {
	c := &scriptedCompleter{err: errors.New("503 overloaded")}
	_, err := newClient(t, c, time.Second).Contradictions(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.True(t, strataerr.IsUpstreamFailure(err))
}

func TestLLMClient_CallerCancellationDoesNotTripHealth(t *testing.T) {
	c := &scriptedCompleter{reply: "x", delay: time.Second}
	client := newClient(t, c, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Summarize(ctx, []string{"a"})
	require.Error(t, err)
	assert.True(t, client.Health().IsHealthy())
}

func TestLLMClient_SummarizeAndContradictions(t *testing.T) {
	c := &scriptedCompleter{reply: "  Deployed v2 after review.  "}
	client := newClient(t, c, time.Second)

	got, err := client.Summarize(context.Background(), []string{"deployed v2", "review done"})
	require.NoError(t, err)
	assert.Equal(t, "Deployed v2 after review.", got)
	assert.True(t, strings.Contains(c.prompts[0], "Memory 2:"))

	c.reply = `{"contradictions": [{"description": "budget is both 5k and 10k", "indices": [0, 3]}, {"description": " "}]}`
	found, err := client.Contradictions(context.Background(), []string{"a", "b", "c", "d"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, []int{0, 3}, found[0].Indices)
}

func TestNewLLMClient_RequiresCompleter(t *testing.T) {
	_, err := judgment.NewLLMClient(nil, nil, 0)
	require.Error(t, err)
	assert.True(t, strataerr.IsNotFound(err))
}
