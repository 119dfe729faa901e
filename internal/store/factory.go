// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"sync"

	strataerr "github.com/sigil-dev/strata/pkg/errors"
)

// DefaultVectorDimensions matches OpenAI text-embedding-3-small.
const DefaultVectorDimensions = 1536

// RecordStoreFactory opens a record store at path with the given tier 3
// embedding dimensions.
type RecordStoreFactory func(path string, vectorDims int) (RecordStore, error)

var (
	factories   = map[string]RecordStoreFactory{}
	factoriesMu sync.RWMutex
)

// RegisterBackend registers the factory for a named storage backend.
// Backend packages call this from init(). This function is goroutine-safe.
func RegisterBackend(name string, f RecordStoreFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// resolveBackend returns the effective backend name, defaulting to "sqlite".
func resolveBackend(cfg *StorageConfig) string {
	if cfg.Backend == "" {
		return "sqlite"
	}
	return cfg.Backend
}

// Dimensions returns the configured embedding dimensions or the default.
func (c *StorageConfig) Dimensions() int {
	if c.VectorDimensions > 0 {
		return c.VectorDimensions
	}
	return DefaultVectorDimensions
}

// Open creates the record store for the configured backend.
func Open(cfg *StorageConfig) (RecordStore, error) {
	backend := resolveBackend(cfg)

	factoriesMu.RLock()
	factory, ok := factories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, strataerr.Errorf(strataerr.CodeStoreBackendUnsupported, "unsupported storage backend: %q", backend)
	}
	if cfg.Path == "" {
		return nil, strataerr.New(strataerr.CodeStoreInvalidInput, "storage path is required")
	}

	return factory(cfg.Path, cfg.Dimensions())
}
