// Package embedder defines the text embedding capability used by backends
// that compute vectors client-side.
//
// Implementations:
//   - mock: deterministic feature hashing, no model files (default)
//   - onnx: all-MiniLM-L6-v2 through ONNX Runtime (build tag "onnx")
package embedder

import (
	"context"
	"math"
)

// Embedder converts text to vector embeddings.
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}

// DefaultDimensions matches all-MiniLM-L6-v2.
const DefaultDimensions = 384

// Normalize scales vec to unit length in place and returns it. A zero
// vector is returned unchanged.
func Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
