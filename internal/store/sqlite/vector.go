// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/sigil-dev/strata/internal/store"
	strataerr "github.com/sigil-dev/strata/pkg/errors"
)

func init() {
	sqlite_vec.Auto()
}

// knnOversample widens the vec0 scan because the index is shared by all
// entities and results are filtered afterwards.
const knnOversample = 4

func migrateVectors(db *sql.DB, dimensions int) error {
	ddl := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS record_vectors USING vec0(vector_key TEXT PRIMARY KEY, embedding float[%d])`,
		dimensions,
	)
	if _, err := db.Exec(ddl); err != nil {
		return fmt.Errorf("creating record_vectors virtual table: %w", err)
	}
	return nil
}

func vectorKey(entityID, recordID string) string {
	return entityID + "/" + recordID
}

func serializeEmbedding(v []float32) ([]byte, error) {
	blob, err := sqlite_vec.SerializeFloat32(v)
	if err != nil {
		return nil, fmt.Errorf("serializing embedding: %w", err)
	}
	return blob, nil
}

// deserializeEmbedding reverses sqlite_vec.SerializeFloat32 (little-endian
// float32).
func deserializeEmbedding(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(blob))
	}
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out, nil
}

func (s *RecordStore) indexVector(ctx context.Context, ex execer, rec *store.MemoryRecord) error {
	if len(rec.Embedding) != s.dimensions {
		return strataerr.Errorf(strataerr.CodeStoreRecordInvalid,
			"record %s: embedding has %d dimensions, store expects %d", rec.ID, len(rec.Embedding), s.dimensions)
	}
	blob, err := serializeEmbedding(rec.Embedding)
	if err != nil {
		return err
	}

	key := vectorKey(rec.EntityID, rec.ID)
	// vec0 does not support ON CONFLICT; delete first for upsert.
	if _, err := ex.ExecContext(ctx, `DELETE FROM record_vectors WHERE vector_key = ?`, key); err != nil {
		return fmt.Errorf("deleting existing vector %s: %w", key, err)
	}
	if _, err := ex.ExecContext(ctx, `INSERT INTO record_vectors(vector_key, embedding) VALUES (?, ?)`, key, blob); err != nil {
		return fmt.Errorf("inserting vector %s: %w", key, err)
	}
	return nil
}

func deleteVectors(ctx context.Context, ex execer, entityID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = vectorKey(entityID, id)
	}
	if _, err := ex.ExecContext(ctx, `DELETE FROM record_vectors WHERE vector_key IN (`+placeholders(len(ids))+`)`, args...); err != nil {
		return fmt.Errorf("deleting vectors: %w", err)
	}
	return nil
}

// SearchSimilar performs a k-nearest-neighbour search over the entity's
// tier 3 members. Results are ordered by distance, nearest first.
func (s *RecordStore) SearchSimilar(ctx context.Context, entityID string, query []float32, k int) ([]*store.MemoryRecord, error) {
	if k <= 0 {
		return nil, nil
	}
	if len(query) != s.dimensions {
		return nil, strataerr.Errorf(strataerr.CodeStoreInvalidInput,
			"query has %d dimensions, store expects %d", len(query), s.dimensions)
	}
	blob, err := serializeEmbedding(query)
	if err != nil {
		return nil, strataerr.Wrap(err, strataerr.CodeStoreInvalidInput, "serializing query vector")
	}

	const q = `SELECT vector_key, distance FROM record_vectors
WHERE embedding MATCH ? AND k = ?
ORDER BY distance`
	rows, err := s.db.QueryContext(ctx, q, blob, k*knnOversample)
	if err != nil {
		return nil, strataerr.Errorf(strataerr.CodeStoreDatabaseFailure, "searching vectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	prefix := entityID + "/"
	var ids []string
	for rows.Next() {
		var key string
		var distance float64
		if err := rows.Scan(&key, &distance); err != nil {
			return nil, strataerr.Errorf(strataerr.CodeStoreDatabaseFailure, "scanning vector result: %w", err)
		}
		if id, ok := strings.CutPrefix(key, prefix); ok {
			ids = append(ids, id)
		}
		if len(ids) == k {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, strataerr.Errorf(strataerr.CodeStoreDatabaseFailure, "iterating vector results: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	args := []any{entityID}
	for _, id := range ids {
		args = append(args, id)
	}
	recs, err := s.queryRecords(ctx, `SELECT `+recordColumns+` FROM memory_records
WHERE entity_id = ? AND tier = 3 AND consolidated = 0 AND id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, err
	}

	// Restore distance order.
	byID := make(map[string]*store.MemoryRecord, len(recs))
	for _, r := range recs {
		byID[r.ID] = r
	}
	out := make([]*store.MemoryRecord, 0, len(recs))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	p := strings.Repeat("?,", n)
	return p[:len(p)-1]
}
