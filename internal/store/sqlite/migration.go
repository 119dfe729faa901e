// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/mattn/go-sqlite3"

	"github.com/sigil-dev/strata/internal/store"
	strataerr "github.com/sigil-dev/strata/pkg/errors"
)

// ApplyMigration writes every destination row, marks every source row
// consolidated and deletes every discarded row in one transaction. A source
// row that is no longer a member (already consolidated or gone) aborts the
// whole plan with store.ErrConflict.
func (s *RecordStore) ApplyMigration(ctx context.Context, plan *store.MigrationPlan) error {
	if plan == nil || plan.Empty() {
		return nil
	}
	if err := validatePlan(plan); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return strataerr.Errorf(strataerr.CodeStoreDatabaseFailure, "beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range plan.Promotions {
		dst := p.Destination
		if _, err := insertRecord(ctx, tx, dst); err != nil {
			if isConstraint(err) {
				return strataerr.Errorf(strataerr.CodeStoreMigrationConflict,
					"record %s already present at tier %d: %w", dst.ID, dst.Tier, store.ErrConflict)
			}
			return strataerr.Errorf(strataerr.CodeStoreDatabaseFailure, "writing record %s to tier %d: %w", dst.ID, dst.Tier, err)
		}
		if dst.Tier == store.Tier3 {
			if err := s.indexVector(ctx, tx, dst); err != nil {
				if strataerr.CodeOf(err) != "" {
					return err
				}
				return strataerr.Errorf(strataerr.CodeStoreDatabaseFailure, "indexing record %s: %w", dst.ID, err)
			}
		}

		if s.beforeSourceMark != nil {
			if err := s.beforeSourceMark(); err != nil {
				return strataerr.Errorf(strataerr.CodeStoreDatabaseFailure, "marking record %s: %w", p.SourceID, err)
			}
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE memory_records SET consolidated = 1
WHERE entity_id = ? AND tier = ? AND id = ? AND consolidated = 0`,
			plan.EntityID, int(plan.SourceTier), p.SourceID)
		if err != nil {
			return strataerr.Errorf(strataerr.CodeStoreDatabaseFailure, "marking record %s: %w", p.SourceID, err)
		}
		if err := expectOne(res, p.SourceID); err != nil {
			return err
		}
	}

	for _, id := range plan.Discards {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM memory_records WHERE entity_id = ? AND tier = ? AND id = ? AND consolidated = 0`,
			plan.EntityID, int(plan.SourceTier), id)
		if err != nil {
			return strataerr.Errorf(strataerr.CodeStoreDatabaseFailure, "discarding record %s: %w", id, err)
		}
		if err := expectOne(res, id); err != nil {
			return err
		}
	}
	if plan.SourceTier == store.Tier3 {
		if err := deleteVectors(ctx, tx, plan.EntityID, plan.Discards); err != nil {
			return strataerr.Errorf(strataerr.CodeStoreDatabaseFailure, "discarding vectors: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return strataerr.Errorf(strataerr.CodeStoreDatabaseFailure, "committing migration: %w", err)
	}
	return nil
}

func validatePlan(plan *store.MigrationPlan) error {
	if plan.EntityID == "" || !plan.SourceTier.Live() {
		return strataerr.Errorf(strataerr.CodeStoreInvalidInput, "migration plan: invalid entity %q or tier %d", plan.EntityID, plan.SourceTier)
	}
	for _, p := range plan.Promotions {
		dst := p.Destination
		if dst == nil {
			return strataerr.Errorf(strataerr.CodeStoreInvalidInput, "migration plan: record %s has no destination", p.SourceID)
		}
		if dst.ID != p.SourceID || dst.EntityID != plan.EntityID {
			return strataerr.Errorf(strataerr.CodeStoreInvalidInput, "migration plan: destination %s does not match source %s", dst.ID, p.SourceID)
		}
		if dst.Tier <= plan.SourceTier {
			return strataerr.Errorf(strataerr.CodeStoreInvalidInput,
				"migration plan: record %s cannot move from tier %d to tier %d", dst.ID, plan.SourceTier, dst.Tier)
		}
		if dst.Consolidated {
			return strataerr.Errorf(strataerr.CodeStoreInvalidInput, "migration plan: destination %s is marked consolidated", dst.ID)
		}
		if err := dst.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ApplyArchive inserts the batch metadata and deletes its tier 3 rows in one
// transaction. The overlap check runs inside the transaction.
func (s *RecordStore) ApplyArchive(ctx context.Context, batch *store.ArchiveBatch) error {
	if batch == nil {
		return strataerr.New(strataerr.CodeStoreInvalidInput, "archive batch is nil")
	}
	if err := batch.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return strataerr.Errorf(strataerr.CodeStoreDatabaseFailure, "beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var overlapping int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM archive_batches WHERE entity_id = ? AND period_start < ? AND period_end > ?`,
		batch.EntityID, formatTime(batch.PeriodEnd), formatTime(batch.PeriodStart),
	).Scan(&overlapping); err != nil {
		return strataerr.Errorf(strataerr.CodeStoreDatabaseFailure, "checking archive overlap: %w", err)
	}
	if overlapping > 0 {
		return strataerr.Errorf(strataerr.CodeStoreArchiveOverlap,
			"archive period [%s, %s) overlaps %d existing batch(es): %w",
			formatTime(batch.PeriodStart), formatTime(batch.PeriodEnd), overlapping, store.ErrConflict)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO archive_batches (id, entity_id, storage_locator, period_start, period_end, record_count, byte_size, archived_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		batch.ID, batch.EntityID, batch.StorageLocator, formatTime(batch.PeriodStart), formatTime(batch.PeriodEnd),
		batch.RecordCount, batch.ByteSize, formatTime(batch.ArchivedAt),
	); err != nil {
		return strataerr.Errorf(strataerr.CodeStoreDatabaseFailure, "inserting archive batch %s: %w", batch.ID, err)
	}

	for _, id := range batch.RecordIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO archive_batch_records (batch_id, record_id) VALUES (?, ?)`, batch.ID, id,
		); err != nil {
			return strataerr.Errorf(strataerr.CodeStoreDatabaseFailure, "recording archived id %s: %w", id, err)
		}
	}

	args := []any{batch.EntityID}
	for _, id := range batch.RecordIDs {
		args = append(args, id)
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM memory_records WHERE entity_id = ? AND tier = 3 AND consolidated = 0 AND id IN (`+placeholders(len(batch.RecordIDs))+`)`,
		args...)
	if err != nil {
		return strataerr.Errorf(strataerr.CodeStoreDatabaseFailure, "deleting archived records: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return strataerr.Errorf(strataerr.CodeStoreDatabaseFailure, "reading deleted count: %w", err)
	}
	if int(deleted) != batch.RecordCount {
		return strataerr.Errorf(strataerr.CodeStoreMigrationConflict,
			"archive batch %s: deleted %d tier 3 rows, expected %d: %w", batch.ID, deleted, batch.RecordCount, store.ErrConflict)
	}

	if err := deleteVectors(ctx, tx, batch.EntityID, batch.RecordIDs); err != nil {
		return strataerr.Errorf(strataerr.CodeStoreDatabaseFailure, "deleting archived vectors: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return strataerr.Errorf(strataerr.CodeStoreDatabaseFailure, "committing archive batch: %w", err)
	}
	return nil
}

// ListArchiveBatches returns the entity's batches ordered by period.
func (s *RecordStore) ListArchiveBatches(ctx context.Context, entityID string) ([]*store.ArchiveBatch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, entity_id, storage_locator, period_start, period_end, record_count, byte_size, archived_at
FROM archive_batches WHERE entity_id = ? ORDER BY period_start`, entityID)
	if err != nil {
		return nil, strataerr.Errorf(strataerr.CodeStoreDatabaseFailure, "listing archive batches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*store.ArchiveBatch
	for rows.Next() {
		var b store.ArchiveBatch
		var start, end, archived string
		if err := rows.Scan(&b.ID, &b.EntityID, &b.StorageLocator, &start, &end, &b.RecordCount, &b.ByteSize, &archived); err != nil {
			return nil, strataerr.Errorf(strataerr.CodeStoreDatabaseFailure, "scanning archive batch: %w", err)
		}
		b.PeriodStart = parseTime(start)
		b.PeriodEnd = parseTime(end)
		b.ArchivedAt = parseTime(archived)
		out = append(out, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, strataerr.Errorf(strataerr.CodeStoreDatabaseFailure, "iterating archive batches: %w", err)
	}
	rows.Close()

	for _, b := range out {
		ids, err := s.batchRecordIDs(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		b.RecordIDs = ids
	}
	return out, nil
}

func (s *RecordStore) batchRecordIDs(ctx context.Context, batchID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record_id FROM archive_batch_records WHERE batch_id = ? ORDER BY record_id`, batchID)
	if err != nil {
		return nil, strataerr.Errorf(strataerr.CodeStoreDatabaseFailure, "listing archived ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, strataerr.Errorf(strataerr.CodeStoreDatabaseFailure, "scanning archived id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func expectOne(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return strataerr.Errorf(strataerr.CodeStoreDatabaseFailure, "reading affected rows for %s: %w", id, err)
	}
	if n != 1 {
		return strataerr.Errorf(strataerr.CodeStoreMigrationConflict,
			"record %s is no longer a member of its tier: %w", id, store.ErrConflict)
	}
	return nil
}

func isConstraint(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}
