package cache

import (
	"fmt"
	"sync"

	"github.com/dgraph-io/ristretto"

	"github.com/becomeliminal/nim-memory/internal/digest"
)

// Ristretto is an admission-based embedding cache on dgraph-io/ristretto.
// Eviction follows TinyLFU rather than strict recency, and a Put may be
// rejected by the admission policy.
type Ristretto struct {
	mu       sync.RWMutex
	cache    *ristretto.Cache
	capacity int
}

var _ Cache = (*Ristretto)(nil)

// NewRistretto creates a cache sized for roughly capacity embeddings.
func NewRistretto(capacity int) (*Ristretto, error) {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	c, err := newRistretto(capacity)
	if err != nil {
		return nil, err
	}
	return &Ristretto{cache: c, capacity: capacity}, nil
}

func newRistretto(capacity int) (*ristretto.Cache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        int64(capacity) * 10,
		MaxCost:            int64(capacity),
		BufferItems:        64,
		Metrics:            true,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create ristretto cache: %w", err)
	}
	return c, nil
}

// Get returns a copy of the cached embedding for text.
func (r *Ristretto) Get(text string) ([]float32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.cache.Get(digest.Sum(text))
	if !ok {
		return nil, false
	}
	return copyVector(v.([]float32)), true
}

// Put offers embedding to the cache and waits for the write buffer to drain
// so a subsequent Get observes the entry if it was admitted.
func (r *Ristretto) Put(text string, embedding []float32) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	r.cache.Set(digest.Sum(text), copyVector(embedding), 1)
	r.cache.Wait()
}

// Contains reports whether text is cached.
func (r *Ristretto) Contains(text string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.cache.Get(digest.Sum(text))
	return ok
}

// Clear drops every entry and resets the counters used by Size.
func (r *Ristretto) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cache.Clear()
}

// Size approximates the number of resident entries as keys added minus
// keys evicted.
func (r *Ristretto) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m := r.cache.Metrics
	if m == nil {
		return 0
	}
	n := int(m.KeysAdded()) - int(m.KeysEvicted())
	if n < 0 {
		return 0
	}
	return n
}

// Close stops ristretto's background goroutines.
func (r *Ristretto) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cache.Close()
}
