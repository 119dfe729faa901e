// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package archive writes tier 4 batches to cold storage.
package archive

import (
	"context"
	"strings"
)

// Writer stores an archive object and returns a locator for it. Writing the
// same name twice overwrites the object, so a retried batch is idempotent.
type Writer interface {
	Write(ctx context.Context, name string, data []byte) (string, error)
}

// joinObjectKey joins non-empty key segments with "/".
func joinObjectKey(parts ...string) string {
	filtered := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.Trim(part, "/")
		if part != "" {
			filtered = append(filtered, part)
		}
	}
	return strings.Join(filtered, "/")
}
