// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package memory

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sigil-dev/strata/internal/archive"
	"github.com/sigil-dev/strata/internal/store"
	strataerr "github.com/sigil-dev/strata/pkg/errors"
)

// archivedRecord is the JSON line written to cold storage per record.
type archivedRecord struct {
	ID              string          `json:"id"`
	EntityID        string          `json:"entity_id"`
	InteractionType string          `json:"interaction_type"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Summary         string          `json:"summary"`
	ImportanceScore *float64        `json:"importance_score,omitempty"`
	Embedding       []float32       `json:"embedding,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	TierEnteredAt   time.Time       `json:"tier_entered_at"`
}

// monthBucket is the set of tier 3 records archived as one batch.
type monthBucket struct {
	start   time.Time
	end     time.Time
	records []*store.MemoryRecord
}

// Archiver moves tier 3 records into cold storage, one batch per calendar
// month (UTC).
type Archiver struct {
	store  store.RecordStore
	writer archive.Writer
	now    func() time.Time
}

// NewArchiver creates an Archiver.
func NewArchiver(rs store.RecordStore, w archive.Writer) (*Archiver, error) {
	if rs == nil || w == nil {
		return nil, strataerr.New(strataerr.CodeArchiveConfigInvalid, "archiver: record store and writer are required")
	}
	return &Archiver{store: rs, writer: w, now: time.Now}, nil
}

// Archive writes every tier 3 member created before cutoff to cold storage,
// reading about limit records; the read only runs past limit to finish
// records sharing its last timestamp. Periods never overlap an existing batch:
// a month already partly archived resumes at the end of the earlier batch,
// and records that fall inside an archived period are left in tier 3.
func (a *Archiver) Archive(ctx context.Context, entityID string, cutoff time.Time, limit int, res *MigrationResult) error {
	recs, end, err := a.collect(ctx, entityID, cutoff, limit)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}

	existing, err := a.store.ListArchiveBatches(ctx, entityID)
	if err != nil {
		return strataerr.Wrapf(err, strataerr.CodeMemoryMigrationFailure, "listing archive batches")
	}

	for _, b := range bucketByMonth(recs, end) {
		if err := ctx.Err(); err != nil {
			return err
		}
		a.archiveBucket(ctx, entityID, b, existing, res)
	}

	slog.Info("archive pass complete",
		"entity_id", entityID,
		"archived", res.Archived,
		"skipped", len(res.Skipped))
	return nil
}

// collect reads up to limit tier 3 candidates and returns them with the end
// of the period they cover. A truncated read also takes every remaining
// record sharing the last timestamp, so the period can end just after it.
func (a *Archiver) collect(ctx context.Context, entityID string, cutoff time.Time, limit int) ([]*store.MemoryRecord, time.Time, error) {
	out, after, err := a.read(ctx, entityID, cutoff, nil, limit)
	if err != nil || after == nil {
		return out, cutoff, err
	}

	tailEnd := after.CreatedAt.Add(time.Nanosecond)
	for after != nil {
		var tail []*store.MemoryRecord
		tail, after, err = a.read(ctx, entityID, tailEnd, after, collectPage)
		if err != nil {
			return nil, time.Time{}, err
		}
		out = append(out, tail...)
	}
	return out, tailEnd, nil
}

const collectPage = 200

// read pages through candidates created before before, starting after the
// cursor, until limit records are read. The returned cursor is nil once the
// candidates are exhausted.
func (a *Archiver) read(ctx context.Context, entityID string, before time.Time, after *store.Cursor, limit int) ([]*store.MemoryRecord, *store.Cursor, error) {
	var out []*store.MemoryRecord
	for len(out) < limit {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		n := min(collectPage, limit-len(out))
		recs, err := a.store.ListCandidates(ctx, store.CandidateQuery{
			EntityID:      entityID,
			Tier:          store.Tier3,
			CreatedBefore: before,
			After:         after,
			Limit:         n,
		})
		if err != nil {
			return nil, nil, strataerr.Wrapf(err, strataerr.CodeMemoryMigrationFailure, "selecting tier 3 candidates")
		}
		out = append(out, recs...)
		if len(recs) < n {
			return out, nil, nil
		}
		last := recs[len(recs)-1]
		after = &store.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return out, after, nil
}

// bucketByMonth groups recs by calendar month. Each period ends at the month
// boundary or at end, whichever is earlier; records at or after end are left
// for a later pass.
func bucketByMonth(recs []*store.MemoryRecord, end time.Time) []*monthBucket {
	var buckets []*monthBucket
	byStart := make(map[time.Time]*monthBucket)
	for _, rec := range recs {
		if !rec.CreatedAt.Before(end) {
			continue
		}
		start := monthStart(rec.CreatedAt)
		b, ok := byStart[start]
		if !ok {
			next := start.AddDate(0, 1, 0)
			if end.Before(next) {
				next = end
			}
			b = &monthBucket{start: start, end: next}
			byStart[start] = b
			buckets = append(buckets, b)
		}
		b.records = append(b.records, rec)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].start.Before(buckets[j].start) })
	return buckets
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func (a *Archiver) archiveBucket(ctx context.Context, entityID string, b *monthBucket, existing []*store.ArchiveBatch, res *MigrationResult) {
	key := b.start.Format("2006-01")

	start := b.start
	for _, batch := range existing {
		if batch.PeriodStart.After(start) || !batch.PeriodEnd.After(start) {
			continue
		}
		start = batch.PeriodEnd
	}
	for _, batch := range existing {
		if start.Before(b.end) && batch.Overlaps(start, b.end) {
			slog.Warn("archive period already covered, leaving records in tier 3",
				"entity_id", entityID,
				"group", key,
				"records", len(b.records))
			res.skip(key, sortedIDs(b.records), "period already archived")
			return
		}
	}

	var recs, late []*store.MemoryRecord
	for _, rec := range b.records {
		if rec.CreatedAt.Before(start) {
			late = append(late, rec)
			continue
		}
		recs = append(recs, rec)
	}
	if len(late) > 0 {
		slog.Warn("records fall inside an archived period, leaving them in tier 3",
			"entity_id", entityID,
			"group", key,
			"records", len(late))
		res.skip(key+"/late", sortedIDs(late), "period already archived")
	}
	if len(recs) == 0 {
		return
	}

	ids := sortedIDs(recs)
	data, err := encodeJSONL(recs)
	if err != nil {
		res.skip(key, ids, err.Error())
		return
	}

	locator, err := a.writer.Write(ctx, objectName(entityID, key, ids), data)
	if err != nil {
		slog.Warn("archive write failed, bucket skipped",
			"entity_id", entityID,
			"group", key,
			"error", err)
		res.skip(key, ids, err.Error())
		return
	}

	batch := &store.ArchiveBatch{
		ID:             uuid.NewString(),
		EntityID:       entityID,
		StorageLocator: locator,
		PeriodStart:    start,
		PeriodEnd:      b.end,
		RecordCount:    len(ids),
		ByteSize:       int64(len(data)),
		ArchivedAt:     a.now().UTC(),
		RecordIDs:      ids,
	}
	if err := a.store.ApplyArchive(ctx, batch); err != nil {
		if errors.Is(err, store.ErrConflict) {
			slog.Error("archive invariant violated, bucket skipped",
				"entity_id", entityID,
				"group", key,
				"error", err)
		} else {
			slog.Error("archive transaction failed, bucket skipped",
				"entity_id", entityID,
				"group", key,
				"error", err)
		}
		res.skip(key, ids, err.Error())
		return
	}

	res.Processed += len(ids)
	res.Archived += len(ids)
}

func encodeJSONL(recs []*store.MemoryRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range recs {
		if err := enc.Encode(archivedRecord{
			ID:              rec.ID,
			EntityID:        rec.EntityID,
			InteractionType: string(rec.InteractionType),
			Payload:         rec.Payload,
			Summary:         rec.Summary,
			ImportanceScore: rec.ImportanceScore,
			Embedding:       rec.Embedding,
			CreatedAt:       rec.CreatedAt.UTC(),
			TierEnteredAt:   rec.TierEnteredAt.UTC(),
		}); err != nil {
			return nil, strataerr.Wrapf(err, strataerr.CodeArchiveWriteFailure, "encoding record %s", rec.ID)
		}
	}
	return buf.Bytes(), nil
}

// objectName is deterministic in the archived ids so a retried write
// replaces the earlier object instead of adding a second one.
func objectName(entityID, month string, ids []string) string {
	sum := sha256.Sum256([]byte(strings.Join(ids, "\n")))
	return fmt.Sprintf("%s/%s/%s.jsonl", entityID, month, hex.EncodeToString(sum[:8]))
}
