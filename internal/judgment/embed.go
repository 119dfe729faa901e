// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package judgment

import (
	"context"
	"errors"
	"fmt"
	"time"

	strataerr "github.com/sigil-dev/strata/pkg/errors"
)

// Compile-time interface check.
var _ Embedder = (*GuardedEmbedder)(nil)

// GuardedEmbedder applies the judgment timeout, health cooldown and
// dimension check to an Embedder.
type GuardedEmbedder struct {
	inner   Embedder
	health  *HealthTracker
	timeout time.Duration
}

// NewGuardedEmbedder wraps inner. A nil health tracker disables the cooldown.
func NewGuardedEmbedder(inner Embedder, health *HealthTracker, timeout time.Duration) (*GuardedEmbedder, error) {
	if inner == nil {
		return nil, strataerr.New(strataerr.CodeJudgmentNotConfigured, "embedder is nil")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &GuardedEmbedder{inner: inner, health: health, timeout: timeout}, nil
}

func (g *GuardedEmbedder) Dimensions() int { return g.inner.Dimensions() }

func (g *GuardedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if g.health != nil && !g.health.IsHealthy() {
		return nil, strataerr.New(strataerr.CodeJudgmentUnavailable, "embedding service cooling down")
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	vec, err := g.inner.Embed(callCtx, text)
	if err != nil {
		if ctx.Err() != nil {
			return nil, strataerr.Wrapf(ctx.Err(), strataerr.CodeJudgmentUpstreamFailure, "embedding cancelled")
		}
		g.recordFailure()
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, strataerr.Wrap(err, strataerr.CodeJudgmentTimeout, fmt.Sprintf("embedding timed out after %s", g.timeout))
		}
		return nil, strataerr.Wrap(err, strataerr.CodeJudgmentUpstreamFailure, "embedding failed")
	}

	if want := g.inner.Dimensions(); len(vec) != want {
		return nil, strataerr.Errorf(strataerr.CodeJudgmentResponseInvalid,
			"embedding has %d dimensions, want %d", len(vec), want)
	}
	if g.health != nil {
		g.health.RecordSuccess()
	}
	return vec, nil
}

func (g *GuardedEmbedder) recordFailure() {
	if g.health != nil {
		g.health.RecordFailure()
	}
}
