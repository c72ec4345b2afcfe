package cache

import (
	"container/list"
	"sync"

	"github.com/becomeliminal/nim-memory/internal/digest"
)

// LRU is a fixed-capacity least-recently-used embedding cache.
type LRU struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	entries  map[string]*list.Element
}

type lruEntry struct {
	key string
	vec []float32
}

var _ Cache = (*LRU)(nil)

// NewLRU creates an LRU holding at most capacity embeddings.
// Capacities below 1 are raised to 1.
func NewLRU(capacity int) *LRU {
	if capacity < 1 {
		capacity = 1
	}
	return &LRU{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element, capacity),
	}
}

// Get returns the cached embedding for text and marks it most recently used.
func (c *LRU) Get(text string) ([]float32, bool) {
	key := digest.Sum(text)

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return copyVector(el.Value.(*lruEntry).vec), true
}

// Put stores embedding under text, evicting the least recently used entry
// when a new key would exceed capacity.
func (c *LRU) Put(text string, embedding []float32) {
	key := digest.Sum(text)
	vec := copyVector(embedding)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*lruEntry).vec = vec
		c.order.MoveToFront(el)
		return
	}
	if c.order.Len() >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*lruEntry).key)
		}
	}
	c.entries[key] = c.order.PushFront(&lruEntry{key: key, vec: vec})
}

// Contains reports whether text is cached without touching recency.
func (c *LRU) Contains(text string) bool {
	key := digest.Sum(text)

	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.entries[key]
	return ok
}

// Clear drops every entry.
func (c *LRU) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.entries = make(map[string]*list.Element, c.capacity)
}

// Size returns the number of cached embeddings.
func (c *LRU) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Capacity returns the maximum number of entries.
func (c *LRU) Capacity() int {
	return c.capacity
}

// HitRate returns the cache occupancy (size / capacity). It is not a
// lookup hit ratio; use the embedding_cache_total metric for that.
func (c *LRU) HitRate() float64 {
	return float64(c.Size()) / float64(c.capacity)
}
