// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package health holds the health snapshot shared by the judgment
// trackers and the HTTP health endpoint.
package health

import "time"

// Metrics is a point-in-time view of a judgment or embedding backend.
// Available is false while the backend is in its failure cooldown.
type Metrics struct {
	FailureCount  int64      `json:"failure_count"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	Available     bool       `json:"available"`
}
