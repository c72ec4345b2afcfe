// Package dedup detects memories whose content repeats an existing one.
//
// Registrations are keyed by scope (the orchestrator uses the collection
// name) so two users storing the same sentence never collide. The unscoped
// methods operate on the empty scope.
package dedup

import (
	"sort"
	"strings"
	"sync"

	"github.com/becomeliminal/nim-memory/internal/digest"
	"github.com/becomeliminal/nim-memory/internal/mathutil"
)

// Strategy selects how duplicates are detected.
type Strategy int

const (
	// Exact matches content by SHA-256 hash.
	Exact Strategy = iota
	// Similarity matches by hash and additionally by embedding cosine
	// similarity at or above the threshold.
	Similarity
	// None never reports duplicates and registers nothing.
	None
)

// DefaultThreshold is the similarity threshold used by New.
const DefaultThreshold float32 = 0.95

func (s Strategy) String() string {
	switch s {
	case Exact:
		return "exact"
	case Similarity:
		return "similarity"
	case None:
		return "none"
	default:
		return "unknown"
	}
}

// ParseStrategy maps a configuration string to a Strategy.
func ParseStrategy(s string) (Strategy, bool) {
	switch s {
	case "exact", "":
		return Exact, true
	case "similarity":
		return Similarity, true
	case "none", "off":
		return None, true
	default:
		return None, false
	}
}

// Deduplicator remembers content hashes (and, for Similarity, vectors) of
// registered memories. Safe for concurrent use.
type Deduplicator struct {
	strategy  Strategy
	threshold float32

	mu      sync.RWMutex
	hashes  map[string]map[string]struct{}  // scope\x00hash -> ids
	keys    map[string][]string             // id -> hash keys
	vectors map[string]map[string][]float32 // scope -> id -> vector
	scopes  map[string]string               // id -> vector scope
}

// New creates a Deduplicator with the default similarity threshold.
func New(strategy Strategy) *Deduplicator {
	return NewWithThreshold(strategy, DefaultThreshold)
}

// NewWithThreshold creates a Deduplicator with an explicit similarity
// threshold.
func NewWithThreshold(strategy Strategy, threshold float32) *Deduplicator {
	return &Deduplicator{
		strategy:  strategy,
		threshold: threshold,
		hashes:    make(map[string]map[string]struct{}),
		keys:      make(map[string][]string),
		vectors:   make(map[string]map[string][]float32),
		scopes:    make(map[string]string),
	}
}

// Strategy returns the configured strategy.
func (d *Deduplicator) Strategy() Strategy { return d.strategy }

// Threshold returns the similarity threshold.
func (d *Deduplicator) Threshold() float32 { return d.threshold }

// ComputeHash returns the hex SHA-256 of content.
func ComputeHash(content string) string {
	return digest.Sum(content)
}

// ComputeSimilarity returns the cosine similarity of a and b, or 0 when the
// lengths differ, either is empty, or either has zero norm.
func ComputeSimilarity(a, b []float32) float32 {
	return mathutil.CosineSimilarity(a, b)
}

func hashKey(scope, content string) string {
	return scope + "\x00" + digest.Sum(content)
}

// IsDuplicate reports whether content was registered in the empty scope.
func (d *Deduplicator) IsDuplicate(content string) bool {
	return d.IsDuplicateIn("", content)
}

// Register records content under id in the empty scope.
func (d *Deduplicator) Register(content, id string) {
	d.RegisterIn("", content, id)
}

// GetDuplicate returns the id registered for content in the empty scope.
func (d *Deduplicator) GetDuplicate(content string) (string, bool) {
	return d.GetDuplicateIn("", content)
}

// IsDuplicateIn reports whether content was registered in scope.
func (d *Deduplicator) IsDuplicateIn(scope, content string) bool {
	_, ok := d.GetDuplicateIn(scope, content)
	return ok
}

// GetDuplicateIn returns an id registered for content in scope. When
// several ids hold the content the smallest is returned.
func (d *Deduplicator) GetDuplicateIn(scope, content string) (string, bool) {
	return d.GetDuplicateExcept(scope, content, "")
}

// GetDuplicateExcept is GetDuplicateIn ignoring the registration of
// exclude, so a memory is never reported as a duplicate of itself.
func (d *Deduplicator) GetDuplicateExcept(scope, content, exclude string) (string, bool) {
	ids := d.HoldersIn(scope, content)
	for _, id := range ids {
		if id != exclude {
			return id, true
		}
	}
	return "", false
}

// HoldersIn returns every id registered for content in scope, sorted.
func (d *Deduplicator) HoldersIn(scope, content string) []string {
	if d.strategy == None {
		return nil
	}
	key := hashKey(scope, content)

	d.mu.RLock()
	defer d.mu.RUnlock()

	set := d.hashes[key]
	if len(set) == 0 {
		return nil
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RegisterIn records content under id in scope. Content held by several
// ids stays registered until every one of them is forgotten.
func (d *Deduplicator) RegisterIn(scope, content, id string) {
	if d.strategy == None {
		return
	}
	key := hashKey(scope, content)

	d.mu.Lock()
	defer d.mu.Unlock()

	set, ok := d.hashes[key]
	if !ok {
		set = make(map[string]struct{})
		d.hashes[key] = set
	}
	set[id] = struct{}{}
	for _, k := range d.keys[id] {
		if k == key {
			return
		}
	}
	d.keys[id] = append(d.keys[id], key)
}

// RegisterVector records the embedding of id in scope. Only the Similarity
// strategy keeps vectors.
func (d *Deduplicator) RegisterVector(scope, id string, vec []float32) {
	if d.strategy != Similarity || len(vec) == 0 {
		return
	}
	cp := make([]float32, len(vec))
	copy(cp, vec)

	d.mu.Lock()
	defer d.mu.Unlock()

	if old, ok := d.scopes[id]; ok && old != scope {
		delete(d.vectors[old], id)
	}
	byID, ok := d.vectors[scope]
	if !ok {
		byID = make(map[string][]float32)
		d.vectors[scope] = byID
	}
	byID[id] = cp
	d.scopes[id] = scope
}

// FindSimilar returns the registered id in scope most similar to vec when
// that similarity reaches the threshold.
func (d *Deduplicator) FindSimilar(scope string, vec []float32) (string, float32, bool) {
	return d.FindSimilarExcept(scope, vec, "")
}

// FindSimilarExcept is FindSimilar ignoring the vector of exclude.
func (d *Deduplicator) FindSimilarExcept(scope string, vec []float32, exclude string) (string, float32, bool) {
	if d.strategy != Similarity {
		return "", 0, false
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	var (
		bestID    string
		bestScore float32
		found     bool
	)
	for id, candidate := range d.vectors[scope] {
		if id == exclude {
			continue
		}
		score := mathutil.CosineSimilarity(vec, candidate)
		if score < d.threshold {
			continue
		}
		if !found || score > bestScore || (score == bestScore && id < bestID) {
			bestID, bestScore, found = id, score, true
		}
	}
	return bestID, bestScore, found
}

// Forget drops every registration that points at id.
func (d *Deduplicator) Forget(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, key := range d.keys[id] {
		delete(d.hashes[key], id)
		if len(d.hashes[key]) == 0 {
			delete(d.hashes, key)
		}
	}
	delete(d.keys, id)

	if scope, ok := d.scopes[id]; ok {
		delete(d.vectors[scope], id)
		if len(d.vectors[scope]) == 0 {
			delete(d.vectors, scope)
		}
		delete(d.scopes, id)
	}
}

// ForgetScope drops every registration in scope.
func (d *Deduplicator) ForgetScope(scope string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	prefix := scope + "\x00"
	for key, ids := range d.hashes {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		delete(d.hashes, key)
		for id := range ids {
			d.keys[id] = removeKey(d.keys[id], key)
			if len(d.keys[id]) == 0 {
				delete(d.keys, id)
			}
		}
	}
	for id := range d.vectors[scope] {
		delete(d.scopes, id)
	}
	delete(d.vectors, scope)
}

// Clear drops all registrations.
func (d *Deduplicator) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.hashes = make(map[string]map[string]struct{})
	d.keys = make(map[string][]string)
	d.vectors = make(map[string]map[string][]float32)
	d.scopes = make(map[string]string)
}

// CacheSize returns the number of distinct registered content hashes.
func (d *Deduplicator) CacheSize() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.hashes)
}

func removeKey(keys []string, key string) []string {
	out := keys[:0]
	for _, k := range keys {
		if k != key {
			out = append(out, k)
		}
	}
	return out
}
