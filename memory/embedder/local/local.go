// Package local provides a deterministic hashing embedder that needs no
// model files or network access.
package local

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/becomeliminal/nim-memory/memory"
)

// DefaultDimensions matches all-MiniLM-L6-v2 so stores can switch between
// the local and model-backed embedders without resizing.
const DefaultDimensions = 384

// Embedder derives embeddings from the SHA-256 digest of the text.
// Identical text always maps to the identical vector; there is no semantic
// similarity between different texts.
type Embedder struct {
	dimensions int
}

var _ memory.BatchEmbedder = (*Embedder)(nil)

// New creates a local embedder producing vectors of the given size.
// Non-positive sizes use DefaultDimensions.
func New(dimensions int) *Embedder {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &Embedder{dimensions: dimensions}
}

// Embed creates a deterministic embedding from text.
// Component i takes digest byte i*32/dimensions, scaled to [-1, 1].
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return textToEmbedding(text, e.dimensions), nil
}

// EmbedBatch embeds each text in order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("embed text #%d: %w", i, err)
		}
		out[i] = textToEmbedding(text, e.dimensions)
	}
	return out, nil
}

// Dimensions returns the embedding size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

func textToEmbedding(text string, dimensions int) []float32 {
	sum := sha256.Sum256([]byte(text))
	embedding := make([]float32, dimensions)
	for i := range embedding {
		b := sum[i*len(sum)/dimensions]
		embedding[i] = (float32(b)/255 - 0.5) * 2
	}
	return embedding
}
