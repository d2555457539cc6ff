// Package mock provides a deterministic embedder that needs no model.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/becomeliminal/vectorwave-go/store/embedder"
)

// Embedder hashes each lowercased word to a pseudo-random direction and
// sums them, so texts that share words end up close to each other.
type Embedder struct {
	dimensions int
}

// New creates a mock embedder. dimensions <= 0 selects
// embedder.DefaultDimensions.
func New(dimensions int) *Embedder {
	if dimensions <= 0 {
		dimensions = embedder.DefaultDimensions
	}
	return &Embedder{dimensions: dimensions}
}

// Embed creates a deterministic embedding from text.
func (m *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, m.dimensions)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		// Empty text still needs a non-zero vector for cosine similarity.
		words = []string{""}
	}
	for _, w := range words {
		h := fnv.New64a()
		h.Write([]byte(w))
		seed := h.Sum64()
		for i := range vec {
			// LCG step, mapped to [-1, 1].
			seed = seed*6364136223846793005 + 1442695040888963407
			vec[i] += float32(int64(seed)) / float32(math.MaxInt64)
		}
	}
	return embedder.Normalize(vec), nil
}

// Dimensions returns the embedding size.
func (m *Embedder) Dimensions() int {
	return m.dimensions
}
