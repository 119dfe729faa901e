// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite

import (
	"github.com/sigil-dev/strata/internal/store"
)

func init() {
	store.RegisterBackend("sqlite", newRecordStore)
}

func newRecordStore(path string, vectorDims int) (store.RecordStore, error) {
	return NewRecordStore(path, vectorDims)
}
