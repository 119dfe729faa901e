// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite

// SetBeforeSourceMark installs a hook that runs between the destination
// write and the source mark of every promotion.
func SetBeforeSourceMark(s *RecordStore, fn func() error) {
	s.beforeSourceMark = fn
}
