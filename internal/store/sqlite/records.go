// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sigil-dev/strata/internal/store"
	strataerr "github.com/sigil-dev/strata/pkg/errors"
)

// Compile-time interface check.
var _ store.RecordStore = (*RecordStore)(nil)

// RecordStore implements store.RecordStore backed by a single SQLite
// database. Records, archive metadata and the tier 3 vector index share one
// connection so migrations commit or roll back as a unit.
type RecordStore struct {
	db         *sql.DB
	dimensions int

	// beforeSourceMark runs inside ApplyMigration after a destination row is
	// written and before its source is marked consolidated.
	beforeSourceMark func() error
}

// NewRecordStore opens (or creates) a SQLite database at dbPath and
// initialises the record, archive and vector tables.
func NewRecordStore(dbPath string, dimensions int) (*RecordStore, error) {
	if dimensions <= 0 {
		return nil, strataerr.Errorf(strataerr.CodeStoreInvalidInput, "vector dimensions must be positive, got %d", dimensions)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, strataerr.Errorf(strataerr.CodeStoreDatabaseFailure, "opening sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, strataerr.Errorf(strataerr.CodeStoreDatabaseFailure, "pinging sqlite db: %w", err)
	}

	if err := migrateRecords(db); err != nil {
		_ = db.Close()
		return nil, strataerr.Errorf(strataerr.CodeStoreDatabaseFailure, "migrating record tables: %w", err)
	}

	if err := migrateVectors(db, dimensions); err != nil {
		_ = db.Close()
		return nil, strataerr.Errorf(strataerr.CodeStoreDatabaseFailure, "migrating vector tables: %w", err)
	}

	return &RecordStore{db: db, dimensions: dimensions}, nil
}

func migrateRecords(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS memory_records (
	entity_id        TEXT    NOT NULL,
	tier             INTEGER NOT NULL CHECK (tier BETWEEN 1 AND 3),
	id               TEXT    NOT NULL,
	interaction_type TEXT    NOT NULL,
	payload          TEXT    NOT NULL DEFAULT '{}',
	summary          TEXT    NOT NULL DEFAULT '',
	importance_score REAL,
	embedding        BLOB,
	created_at       TEXT    NOT NULL,
	tier_entered_at  TEXT    NOT NULL,
	consolidated     INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (entity_id, tier, id)
);

CREATE INDEX IF NOT EXISTS idx_records_members
	ON memory_records(entity_id, tier, consolidated, created_at, id);

CREATE TABLE IF NOT EXISTS archive_batches (
	id              TEXT    PRIMARY KEY,
	entity_id       TEXT    NOT NULL,
	storage_locator TEXT    NOT NULL,
	period_start    TEXT    NOT NULL,
	period_end      TEXT    NOT NULL,
	record_count    INTEGER NOT NULL,
	byte_size       INTEGER NOT NULL DEFAULT 0,
	archived_at     TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_archive_batches_period
	ON archive_batches(entity_id, period_start, period_end);

CREATE TABLE IF NOT EXISTS archive_batch_records (
	batch_id  TEXT NOT NULL REFERENCES archive_batches(id) ON DELETE CASCADE,
	record_id TEXT NOT NULL,
	PRIMARY KEY (batch_id, record_id)
);`
	_, err := db.Exec(ddl)
	return err
}

const recordColumns = `id, entity_id, tier, interaction_type, payload, summary, importance_score, embedding, created_at, tier_entered_at, consolidated`

// Insert adds a new tier 1 record.
func (s *RecordStore) Insert(ctx context.Context, rec *store.MemoryRecord) error {
	if rec == nil {
		return strataerr.New(strataerr.CodeStoreRecordInvalid, "record is nil")
	}
	if rec.Tier != store.Tier1 {
		return strataerr.Errorf(strataerr.CodeStoreRecordInvalid, "record %s: ingestion only writes tier 1, got %d", rec.ID, rec.Tier)
	}
	if rec.TierEnteredAt.IsZero() {
		rec.TierEnteredAt = rec.CreatedAt
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	if _, err := insertRecord(ctx, s.db, rec); err != nil {
		if isConstraint(err) {
			return strataerr.Errorf(strataerr.CodeStoreMigrationConflict, "record %s already exists: %w", rec.ID, store.ErrConflict)
		}
		return strataerr.Errorf(strataerr.CodeStoreDatabaseFailure, "inserting record %s: %w", rec.ID, err)
	}
	return nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRecord(ctx context.Context, ex execer, rec *store.MemoryRecord) (sql.Result, error) {
	payload := string(rec.Payload)
	if payload == "" {
		payload = "{}"
	}

	var embedding any
	if len(rec.Embedding) > 0 {
		blob, err := serializeEmbedding(rec.Embedding)
		if err != nil {
			return nil, err
		}
		embedding = blob
	}

	var score any
	if rec.ImportanceScore != nil {
		score = *rec.ImportanceScore
	}

	const q = `INSERT INTO memory_records (` + recordColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	return ex.ExecContext(ctx, q,
		rec.ID, rec.EntityID, int(rec.Tier), string(rec.InteractionType), payload, rec.Summary,
		score, embedding, formatTime(rec.CreatedAt), formatTime(rec.TierEnteredAt), boolToInt(rec.Consolidated),
	)
}

// GetRecord returns the row for id at tier, including consolidated rows.
func (s *RecordStore) GetRecord(ctx context.Context, entityID string, tier store.Tier, id string) (*store.MemoryRecord, error) {
	q := `SELECT ` + recordColumns + ` FROM memory_records WHERE entity_id = ? AND tier = ? AND id = ?`
	rec, err := scanRecord(s.db.QueryRowContext(ctx, q, entityID, int(tier), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, strataerr.Errorf(strataerr.CodeStoreRecordNotFound, "record %s at tier %d: %w", id, tier, store.ErrNotFound)
	}
	if err != nil {
		return nil, strataerr.Errorf(strataerr.CodeStoreDatabaseFailure, "getting record %s: %w", id, err)
	}
	return rec, nil
}

// ListCandidates returns members of q.Tier created before q.CreatedBefore in
// ascending (created_at, id) order.
func (s *RecordStore) ListCandidates(ctx context.Context, q store.CandidateQuery) ([]*store.MemoryRecord, error) {
	if q.Limit <= 0 {
		return nil, strataerr.New(strataerr.CodeStoreInvalidInput, "candidate limit must be positive")
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + recordColumns + ` FROM memory_records
WHERE entity_id = ? AND tier = ? AND consolidated = 0 AND created_at < ?`)
	args := []any{q.EntityID, int(q.Tier), formatTime(q.CreatedBefore)}

	if q.After != nil {
		after := formatTime(q.After.CreatedAt)
		b.WriteString(` AND (created_at > ? OR (created_at = ? AND id > ?))`)
		args = append(args, after, after, q.After.ID)
	}
	b.WriteString(` ORDER BY created_at ASC, id ASC LIMIT ?`)
	args = append(args, q.Limit)

	return s.queryRecords(ctx, b.String(), args...)
}

// ListRecent returns tier members newest first.
func (s *RecordStore) ListRecent(ctx context.Context, entityID string, tier store.Tier, limit int) ([]*store.MemoryRecord, error) {
	q := `SELECT ` + recordColumns + ` FROM memory_records
WHERE entity_id = ? AND tier = ? AND consolidated = 0
ORDER BY created_at DESC, id DESC LIMIT ?`
	return s.queryRecords(ctx, q, entityID, int(tier), limit)
}

// ListSince returns tier members created at or after since, newest first.
func (s *RecordStore) ListSince(ctx context.Context, entityID string, tier store.Tier, since time.Time, limit int) ([]*store.MemoryRecord, error) {
	q := `SELECT ` + recordColumns + ` FROM memory_records
WHERE entity_id = ? AND tier = ? AND consolidated = 0 AND created_at >= ?
ORDER BY created_at DESC, id DESC LIMIT ?`
	return s.queryRecords(ctx, q, entityID, int(tier), formatTime(since), limit)
}

// CountByTier returns member counts for tiers 1-3 and the archived record
// total for tier 4.
func (s *RecordStore) CountByTier(ctx context.Context, entityID string) (store.TierCounts, error) {
	var counts store.TierCounts

	rows, err := s.db.QueryContext(ctx,
		`SELECT tier, COUNT(*) FROM memory_records WHERE entity_id = ? AND consolidated = 0 GROUP BY tier`, entityID)
	if err != nil {
		return counts, strataerr.Errorf(strataerr.CodeStoreDatabaseFailure, "counting records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var tier, n int
		if err := rows.Scan(&tier, &n); err != nil {
			return counts, strataerr.Errorf(strataerr.CodeStoreDatabaseFailure, "scanning tier count: %w", err)
		}
		switch store.Tier(tier) {
		case store.Tier1:
			counts.Tier1 = n
		case store.Tier2:
			counts.Tier2 = n
		case store.Tier3:
			counts.Tier3 = n
		}
	}
	if err := rows.Err(); err != nil {
		return counts, strataerr.Errorf(strataerr.CodeStoreDatabaseFailure, "iterating tier counts: %w", err)
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(record_count), 0) FROM archive_batches WHERE entity_id = ?`, entityID,
	).Scan(&counts.Tier4); err != nil {
		return counts, strataerr.Errorf(strataerr.CodeStoreDatabaseFailure, "counting archived records: %w", err)
	}
	return counts, nil
}

// CountOlderThan counts tier members created before the cutoff.
func (s *RecordStore) CountOlderThan(ctx context.Context, entityID string, tier store.Tier, before time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memory_records WHERE entity_id = ? AND tier = ? AND consolidated = 0 AND created_at < ?`,
		entityID, int(tier), formatTime(before),
	).Scan(&n)
	if err != nil {
		return 0, strataerr.Errorf(strataerr.CodeStoreDatabaseFailure, "counting stale records: %w", err)
	}
	return n, nil
}

// GetStats returns tier counts plus the archive batch count.
func (s *RecordStore) GetStats(ctx context.Context, entityID string) (*store.Stats, error) {
	counts, err := s.CountByTier(ctx, entityID)
	if err != nil {
		return nil, err
	}

	var batches int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM archive_batches WHERE entity_id = ?`, entityID,
	).Scan(&batches); err != nil {
		return nil, strataerr.Errorf(strataerr.CodeStoreDatabaseFailure, "counting archive batches: %w", err)
	}

	return &store.Stats{
		EntityID:       entityID,
		Counts:         counts,
		ArchiveBatches: batches,
		Total:          counts.Total(),
	}, nil
}

// Close closes the underlying database connection.
func (s *RecordStore) Close() error {
	return s.db.Close()
}

func (s *RecordStore) queryRecords(ctx context.Context, q string, args ...any) ([]*store.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, strataerr.Errorf(strataerr.CodeStoreDatabaseFailure, "querying records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*store.MemoryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, strataerr.Errorf(strataerr.CodeStoreDatabaseFailure, "scanning record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, strataerr.Errorf(strataerr.CodeStoreDatabaseFailure, "iterating records: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*store.MemoryRecord, error) {
	var (
		rec             store.MemoryRecord
		tier            int
		interactionType string
		payload         string
		score           sql.NullFloat64
		embedding       []byte
		createdAt       string
		tierEnteredAt   string
		consolidated    int
	)
	if err := sc.Scan(&rec.ID, &rec.EntityID, &tier, &interactionType, &payload, &rec.Summary,
		&score, &embedding, &createdAt, &tierEnteredAt, &consolidated); err != nil {
		return nil, err
	}

	rec.Tier = store.Tier(tier)
	rec.InteractionType = store.InteractionType(interactionType)
	rec.Payload = []byte(payload)
	if score.Valid {
		v := score.Float64
		rec.ImportanceScore = &v
	}
	if len(embedding) > 0 {
		vec, err := deserializeEmbedding(embedding)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", rec.ID, err)
		}
		rec.Embedding = vec
	}
	rec.CreatedAt = parseTime(createdAt)
	rec.TierEnteredAt = parseTime(tierEnteredAt)
	rec.Consolidated = consolidated != 0
	return &rec, nil
}

// timeLayout is fixed width so stored timestamps sort lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// formatTime serialises a time for storage in the database.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

// parseTime deserialises a time string stored in the database.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
