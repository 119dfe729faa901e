// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	strataerr "github.com/sigil-dev/strata/pkg/errors"
)

// Valid reports whether t is one of the four storage tiers.
func (t Tier) Valid() bool {
	return t >= Tier1 && t <= Tier4
}

// Live reports whether t is held in the record store rather than the archive.
func (t Tier) Live() bool {
	return t >= Tier1 && t <= Tier3
}

// Validate checks the fields every stored row must carry. Rows at tier 2 and
// above need a summary; tier 3 rows also need an embedding.
func (r *MemoryRecord) Validate() error {
	if r.ID == "" {
		return strataerr.New(strataerr.CodeStoreRecordInvalid, "record: ID is required")
	}
	if r.EntityID == "" {
		return strataerr.New(strataerr.CodeStoreRecordInvalid, "record: EntityID is required", strataerr.FieldRecordID(r.ID))
	}
	if !r.Tier.Live() {
		return strataerr.Errorf(strataerr.CodeStoreRecordInvalid, "record %s: tier %d is not a live tier", r.ID, r.Tier)
	}
	if r.InteractionType == "" {
		return strataerr.Errorf(strataerr.CodeStoreRecordInvalid, "record %s: InteractionType is required", r.ID)
	}
	if r.CreatedAt.IsZero() {
		return strataerr.Errorf(strataerr.CodeStoreRecordInvalid, "record %s: CreatedAt is required", r.ID)
	}
	if r.TierEnteredAt.Before(r.CreatedAt) {
		return strataerr.Errorf(strataerr.CodeStoreRecordInvalid, "record %s: TierEnteredAt precedes CreatedAt", r.ID)
	}
	if r.ImportanceScore != nil && (*r.ImportanceScore < 0 || *r.ImportanceScore > 1) {
		return strataerr.Errorf(strataerr.CodeStoreRecordInvalid, "record %s: importance %f outside [0,1]", r.ID, *r.ImportanceScore)
	}
	if r.Tier >= Tier2 && r.Summary == "" {
		return strataerr.Errorf(strataerr.CodeStoreRecordInvalid, "record %s: summary required at tier %d", r.ID, r.Tier)
	}
	if r.Tier == Tier3 && len(r.Embedding) == 0 {
		return strataerr.Errorf(strataerr.CodeStoreRecordInvalid, "record %s: embedding required at tier 3", r.ID)
	}
	return nil
}

// Validate checks archive batch metadata before it is committed.
func (b *ArchiveBatch) Validate() error {
	if b.ID == "" || b.EntityID == "" {
		return strataerr.New(strataerr.CodeStoreInvalidInput, "archive batch: ID and EntityID are required")
	}
	if b.StorageLocator == "" {
		return strataerr.Errorf(strataerr.CodeStoreInvalidInput, "archive batch %s: StorageLocator is required", b.ID)
	}
	if !b.PeriodStart.Before(b.PeriodEnd) {
		return strataerr.Errorf(strataerr.CodeStoreInvalidInput, "archive batch %s: empty period", b.ID)
	}
	if b.RecordCount != len(b.RecordIDs) || b.RecordCount == 0 {
		return strataerr.Errorf(strataerr.CodeStoreInvalidInput, "archive batch %s: record count %d does not match %d ids", b.ID, b.RecordCount, len(b.RecordIDs))
	}
	return nil
}
