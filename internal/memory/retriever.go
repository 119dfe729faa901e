// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package memory

import (
	"cmp"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sigil-dev/strata/internal/judgment"
	"github.com/sigil-dev/strata/internal/store"
	strataerr "github.com/sigil-dev/strata/pkg/errors"
)

// RetrieveRequest selects and ranks memories against a context string.
type RetrieveRequest struct {
	EntityID    string       `json:"entity_id"`
	Context     string       `json:"context"`
	ContextType string       `json:"context_type,omitempty"`
	MaxResults  int          `json:"max_results,omitempty"`
	Tiers       []store.Tier `json:"tiers,omitempty"`
}

// RetrievedRecord is a memory with the relevance it was ranked at.
type RetrievedRecord struct {
	Record    *store.MemoryRecord `json:"record"`
	Relevance float64             `json:"relevance"`
	// Ranked is false when the judgment call failed and Relevance is the
	// neutral default.
	Ranked bool `json:"ranked"`
}

// Retriever gathers bounded candidate sets across tiers and ranks them.
// It never writes to the store.
type Retriever struct {
	reader   store.RecordReader
	judge    judgment.Client
	embedder judgment.Embedder
	opts     RetrieverOptions
	cache    *ristretto.Cache
}

// NewRetriever creates a Retriever. judge may be nil, in which case results
// are always returned by recency with the neutral score. embedder is only
// used when SemanticTier3 is set.
func NewRetriever(reader store.RecordReader, judge judgment.Client, embedder judgment.Embedder, opts RetrieverOptions) (*Retriever, error) {
	if reader == nil {
		return nil, strataerr.New(strataerr.CodeMemoryInputInvalid, "retriever: record reader is nil")
	}
	r := &Retriever{reader: reader, judge: judge, embedder: embedder, opts: opts}
	if opts.CacheMaxCost > 0 && opts.CacheTTL > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: rankCacheCounters(opts),
			MaxCost:     opts.CacheMaxCost,
			BufferItems: 64,
		})
		if err != nil {
			return nil, strataerr.Wrapf(err, strataerr.CodeMemoryInputInvalid, "retriever: creating rank cache")
		}
		r.cache = cache
	}
	return r, nil
}

// rankCacheCounters sizes the admission counters at ten per expected entry.
// An entry costs one per ranking plus one, and a ranking set averages half of
// MaxCandidates.
func rankCacheCounters(opts RetrieverOptions) int64 {
	avgCost := int64(max(opts.MaxCandidates/2, 1)) + 1
	return max(opts.CacheMaxCost/avgCost, 1) * 10
}

// Close releases the rank cache.
func (r *Retriever) Close() {
	if r.cache != nil {
		r.cache.Close()
	}
}

// Validate normalizes the request in place and rejects invalid input.
func (r *Retriever) Validate(req *RetrieveRequest) error {
	if _, err := uuid.Parse(req.EntityID); err != nil {
		return strataerr.Errorf(strataerr.CodeMemoryInputInvalid, "entity id %q is not a UUID", req.EntityID)
	}
	req.Context = strings.TrimSpace(req.Context)
	if req.Context == "" {
		return strataerr.New(strataerr.CodeMemoryInputInvalid, "context is required", strataerr.FieldEntityID(req.EntityID))
	}
	if utf8.RuneCountInString(req.Context) > r.opts.MaxContextLength {
		return strataerr.Errorf(strataerr.CodeMemoryInputInvalid, "context exceeds %d characters", r.opts.MaxContextLength)
	}
	if req.MaxResults == 0 {
		req.MaxResults = r.opts.DefaultMaxResults
	}
	if req.MaxResults < 1 || req.MaxResults > r.opts.MaxResults {
		return strataerr.Errorf(strataerr.CodeMemoryInputInvalid, "max results must be between 1 and %d", r.opts.MaxResults)
	}
	if len(req.Tiers) == 0 {
		req.Tiers = []store.Tier{store.Tier1, store.Tier2, store.Tier3}
	}
	seen := make(map[store.Tier]bool, len(req.Tiers))
	tiers := req.Tiers[:0:0]
	for _, t := range req.Tiers {
		if !t.Live() {
			return strataerr.Errorf(strataerr.CodeMemoryInputInvalid, "tier %d cannot be retrieved", t)
		}
		if !seen[t] {
			seen[t] = true
			tiers = append(tiers, t)
		}
	}
	req.Tiers = tiers
	return nil
}

// Retrieve returns the most relevant memories first. Ranking failures fall
// back to recency order with the neutral score; only invalid input and store
// failures are returned as errors.
func (r *Retriever) Retrieve(ctx context.Context, req RetrieveRequest) ([]RetrievedRecord, error) {
	if err := r.Validate(&req); err != nil {
		return nil, err
	}

	candidates, err := r.gather(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []RetrievedRecord{}, nil
	}

	rankings, err := r.rank(ctx, req, candidates)
	if err != nil {
		slog.Warn("relevance ranking failed, returning candidates by recency",
			"entity_id", req.EntityID,
			"candidates", len(candidates),
			"error", err)
		return r.unranked(candidates, req.MaxResults), nil
	}

	kept := rankings[:0:0]
	for _, rk := range rankings {
		if rk.Score >= r.opts.RelevanceFloor {
			kept = append(kept, rk)
		}
	}
	// Candidate indices run newest first, so ties fall back to recency.
	slices.SortFunc(kept, func(a, b judgment.Ranking) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Index, b.Index)
	})
	if len(kept) > req.MaxResults {
		kept = kept[:req.MaxResults]
	}

	out := make([]RetrievedRecord, len(kept))
	for i, rk := range kept {
		out[i] = RetrievedRecord{Record: candidates[rk.Index], Relevance: rk.Score, Ranked: true}
	}
	return out, nil
}

// gather reads each requested tier concurrently and merges newest first.
func (r *Retriever) gather(ctx context.Context, req RetrieveRequest) ([]*store.MemoryRecord, error) {
	perTier := make([][]*store.MemoryRecord, len(req.Tiers))
	g, gctx := errgroup.WithContext(ctx)
	for i, tier := range req.Tiers {
		g.Go(func() error {
			recs, err := r.gatherTier(gctx, req, tier)
			if err != nil {
				return err
			}
			perTier[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, strataerr.Wrapf(err, strataerr.CodeStoreDatabaseFailure, "gathering candidates for %s", req.EntityID)
	}

	var all []*store.MemoryRecord
	for _, recs := range perTier {
		all = append(all, recs...)
	}
	sortByRecency(all)
	if len(all) > r.opts.MaxCandidates {
		all = all[:r.opts.MaxCandidates]
	}
	return all, nil
}

func (r *Retriever) gatherTier(ctx context.Context, req RetrieveRequest, tier store.Tier) ([]*store.MemoryRecord, error) {
	limit := r.opts.TierCaps[tier]
	if limit <= 0 {
		return nil, nil
	}
	if tier == store.Tier3 && r.opts.SemanticTier3 && r.embedder != nil {
		query, err := r.embedder.Embed(ctx, req.Context)
		if err == nil {
			return r.reader.SearchSimilar(ctx, req.EntityID, query, limit)
		}
		slog.Warn("context embedding failed, gathering tier 3 by recency",
			"entity_id", req.EntityID,
			"error", err)
	}
	return r.reader.ListRecent(ctx, req.EntityID, tier, limit)
}

// rank asks the judgment service once for the whole candidate set. Returned
// indices refer to positions in candidates.
func (r *Retriever) rank(ctx context.Context, req RetrieveRequest, candidates []*store.MemoryRecord) ([]judgment.Ranking, error) {
	if r.judge == nil {
		return nil, strataerr.New(strataerr.CodeJudgmentNotConfigured, "no judgment client configured")
	}

	key := r.cacheKey(req, candidates)
	if r.cache != nil {
		if v, ok := r.cache.Get(key); ok {
			if cached, ok := v.([]judgment.Ranking); ok {
				return cached, nil
			}
		}
	}

	digest := make([]judgment.Candidate, len(candidates))
	for i, rec := range candidates {
		digest[i] = judgment.Candidate{
			Index:   i,
			Type:    string(rec.InteractionType),
			Content: truncateRunes(recordText(rec), r.opts.DigestLength),
		}
	}

	query := req.Context
	if req.ContextType != "" {
		query = "(" + req.ContextType + ") " + query
	}
	rankings, err := r.judge.Rank(ctx, query, digest)
	if err != nil {
		return nil, err
	}

	valid := rankings[:0:0]
	seen := make(map[int]bool, len(rankings))
	for _, rk := range rankings {
		if rk.Index < 0 || rk.Index >= len(candidates) || seen[rk.Index] {
			continue
		}
		seen[rk.Index] = true
		valid = append(valid, judgment.Ranking{Index: rk.Index, Score: clamp01(rk.Score)})
	}

	if r.cache != nil {
		r.cache.SetWithTTL(key, valid, int64(len(valid)+1), r.opts.CacheTTL)
	}
	return valid, nil
}

func (r *Retriever) unranked(candidates []*store.MemoryRecord, maxResults int) []RetrievedRecord {
	n := min(len(candidates), maxResults)
	out := make([]RetrievedRecord, n)
	for i := range n {
		out[i] = RetrievedRecord{Record: candidates[i], Relevance: r.opts.NeutralScore}
	}
	return out
}

// cacheKey identifies a ranking by its inputs. Any change to the candidate
// set, such as a migration, produces a different key.
func (r *Retriever) cacheKey(req RetrieveRequest, candidates []*store.MemoryRecord) string {
	h := sha256.New()
	h.Write([]byte(req.EntityID))
	h.Write([]byte{0})
	h.Write([]byte(req.ContextType))
	h.Write([]byte{0})
	h.Write([]byte(req.Context))
	for _, rec := range candidates {
		h.Write([]byte{0})
		h.Write([]byte(rec.ID))
		h.Write([]byte{byte(rec.Tier)})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// sortByRecency orders newest first with the id as a tiebreak.
func sortByRecency(recs []*store.MemoryRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.After(recs[j].CreatedAt)
		}
		return recs[i].ID > recs[j].ID
	})
}
