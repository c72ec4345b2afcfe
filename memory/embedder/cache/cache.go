// Package cache memoizes text embeddings keyed by the SHA-256 of the text.
package cache

// DefaultCapacity is used when a cache is created with a non-positive size.
const DefaultCapacity = 1000

// Cache maps text to a previously computed embedding.
// Implementations are safe for concurrent use and return copies of stored
// vectors.
type Cache interface {
	Get(text string) ([]float32, bool)
	Put(text string, embedding []float32)
	Contains(text string) bool
	Clear()
	Size() int
}

func copyVector(v []float32) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
