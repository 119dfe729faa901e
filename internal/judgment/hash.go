// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package judgment

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	strataerr "github.com/sigil-dev/strata/pkg/errors"
)

// Compile-time interface check.
var _ Embedder = (*HashEmbedder)(nil)

// HashEmbedder is an offline Embedder that feature-hashes lowercase word
// tokens into a signed bag-of-words vector, normalized to unit length.
// Texts sharing vocabulary land close together, which is enough for tier 3
// similarity search when no embedding provider is configured.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder returns a HashEmbedder producing vectors of dims length.
func NewHashEmbedder(dims int) (*HashEmbedder, error) {
	if dims <= 0 {
		return nil, strataerr.Errorf(strataerr.CodeConfigValidateInvalidValue, "hash embedder dimensions must be positive, got %d", dims)
	}
	return &HashEmbedder{dims: dims}, nil
}

func (h *HashEmbedder) Dimensions() int { return h.dims }

func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, h.dims)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		f := fnv.New64a()
		_, _ = f.Write([]byte(tok))
		sum := f.Sum64()
		idx := int(sum % uint64(h.dims))
		// The top bit picks the sign so collisions tend to cancel.
		if sum>>63 == 1 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}
