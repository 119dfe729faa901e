// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sigil-dev/strata/internal/store"
	"github.com/sigil-dev/strata/internal/store/sqlite"
	"github.com/stretchr/testify/require"
)

const testDims = 4

// testDir creates a temp directory for a test and returns cleanup func.
func testDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "strata-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

// testDBPath returns a temp SQLite database path.
func testDBPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(testDir(t), name+".db")
}

func openStore(t *testing.T) *sqlite.RecordStore {
	t.Helper()
	s, err := sqlite.NewRecordStore(testDBPath(t, "records"), testDims)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func tier1Record(entityID, id string, created time.Time) *store.MemoryRecord {
	payload, _ := json.Marshal(map[string]string{"text": "payload " + id})
	return &store.MemoryRecord{
		ID:              id,
		EntityID:        entityID,
		Tier:            store.Tier1,
		InteractionType: store.InteractionConversation,
		Payload:         payload,
		CreatedAt:       created,
		TierEnteredAt:   created,
	}
}

func promoted(src *store.MemoryRecord, tier store.Tier, at time.Time) *store.MemoryRecord {
	score := 0.8
	dst := *src
	dst.Tier = tier
	dst.Summary = "summary of " + src.ID
	dst.ImportanceScore = &score
	dst.TierEnteredAt = at
	dst.Consolidated = false
	if tier == store.Tier3 {
		dst.Embedding = []float32{0.1, 0.2, 0.3, 0.4}
	}
	return &dst
}
