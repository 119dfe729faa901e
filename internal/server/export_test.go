// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import "time"

// NewTestLimiter exposes the token bucket with a controllable clock.
func NewTestLimiter(cfg RateLimitConfig, now func() time.Time) *TestLimiter {
	l := newLimiter(cfg)
	l.now = now
	return &TestLimiter{l: l}
}

// TestLimiter wraps limiter for external tests.
type TestLimiter struct{ l *limiter }

func (t *TestLimiter) Allow(ip string) bool      { return t.l.allow(ip) }
func (t *TestLimiter) Sweep(idle time.Duration) { t.l.sweep(idle) }

func (t *TestLimiter) Visitors() int {
	t.l.mu.Lock()
	defer t.l.mu.Unlock()
	return len(t.l.visitors)
}
