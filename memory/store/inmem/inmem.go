// Package inmem is the reference VectorStore: per-collection maps behind a
// single RWMutex with exhaustive cosine search. Attach a Journal to make it
// durable.
package inmem

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/becomeliminal/nim-memory/internal/logging"
	"github.com/becomeliminal/nim-memory/internal/mathutil"
	"github.com/becomeliminal/nim-memory/memory"
)

// Journal persists store mutations. Each method is called before the
// in-memory state changes; an error aborts the mutation.
type Journal interface {
	CreateCollection(ctx context.Context, name string, dimension int) error
	Upsert(ctx context.Context, name string, dimension int, records []memory.VectorRecord) error
	Delete(ctx context.Context, name string, ids []string) error
	DeleteCollection(ctx context.Context, name string) error
	Load(ctx context.Context) ([]Snapshot, error)
	Close() error
}

// Snapshot is the persisted content of one collection, records in
// insertion order.
type Snapshot struct {
	Name      string
	Dimension int
	Records   []memory.VectorRecord
}

// Store is an in-process VectorStore.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
	journal     Journal
}

type collection struct {
	dimension int
	entries   map[string]*entry
	nextSeq   uint64
}

type entry struct {
	seq      uint64
	vector   []float32
	metadata memory.VectorMetadata
}

var _ memory.VectorStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithJournal writes every mutation through j.
func WithJournal(j Journal) Option {
	return func(s *Store) { s.journal = j }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{collections: make(map[string]*collection)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open creates a store backed by journal and replays its contents.
func Open(ctx context.Context, journal Journal) (*Store, error) {
	snapshots, err := journal.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load journal: %w", err)
	}
	s := New(WithJournal(journal))
	total := 0
	for _, snap := range snapshots {
		col := newCollection(snap.Dimension)
		for _, rec := range snap.Records {
			col.put(rec)
		}
		s.collections[snap.Name] = col
		total += len(snap.Records)
	}
	logging.Infof("[INMEM] Restored %d collections (%d vectors) from journal", len(snapshots), total)
	return s, nil
}

func newCollection(dimension int) *collection {
	return &collection{dimension: dimension, entries: make(map[string]*entry)}
}

// put inserts or overwrites rec. An overwrite keeps the original position.
func (c *collection) put(rec memory.VectorRecord) {
	if e, ok := c.entries[rec.ID]; ok {
		e.vector = mathutil.Clone(rec.Vector)
		e.metadata = rec.Metadata.Clone()
		return
	}
	c.entries[rec.ID] = &entry{
		seq:      c.nextSeq,
		vector:   mathutil.Clone(rec.Vector),
		metadata: rec.Metadata.Clone(),
	}
	c.nextSeq++
}

// ordered returns entries in insertion order.
func (c *collection) ordered() []*entry {
	out := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// CreateCollection creates an empty collection if absent.
func (s *Store) CreateCollection(ctx context.Context, name string, dimension int) error {
	if name == "" {
		return fmt.Errorf("create collection: %w: empty name", memory.ErrInvalidArgument)
	}
	if dimension <= 0 {
		return fmt.Errorf("create collection %s: %w: dimension %d", name, memory.ErrInvalidArgument, dimension)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[name]; ok {
		return nil
	}
	if s.journal != nil {
		if err := s.journal.CreateCollection(ctx, name, dimension); err != nil {
			return fmt.Errorf("journal create collection %s: %w", name, err)
		}
	}
	s.collections[name] = newCollection(dimension)
	logging.Debugf("[INMEM] Created collection %s (dim=%d)", name, dimension)
	return nil
}

// CollectionExists reports whether name exists.
func (s *Store) CollectionExists(ctx context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.collections[name]
	return ok, nil
}

// Upsert inserts or overwrites records. A missing collection is created
// with the dimension of the first record.
func (s *Store) Upsert(ctx context.Context, name string, records []memory.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	for _, rec := range records {
		if rec.ID == "" {
			return fmt.Errorf("upsert into %s: %w: empty record id", name, memory.ErrInvalidArgument)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	col, ok := s.collections[name]
	dimension := len(records[0].Vector)
	if ok {
		dimension = col.dimension
	}
	for _, rec := range records {
		if len(rec.Vector) != dimension {
			return fmt.Errorf("upsert %s into %s: %w: got %d, want %d",
				rec.ID, name, memory.ErrDimensionMismatch, len(rec.Vector), dimension)
		}
	}

	if s.journal != nil {
		if err := s.journal.Upsert(ctx, name, dimension, records); err != nil {
			return fmt.Errorf("journal upsert into %s: %w", name, err)
		}
	}
	if !ok {
		col = newCollection(dimension)
		s.collections[name] = col
		logging.Debugf("[INMEM] Auto-created collection %s (dim=%d)", name, dimension)
	}
	for _, rec := range records {
		col.put(rec)
	}
	return nil
}

// Search ranks every entry by cosine similarity to query.
func (s *Store) Search(ctx context.Context, name string, query []float32, limit int, threshold *float32) ([]memory.SearchResult, error) {
	s.mu.RLock()
	col, ok := s.collections[name]
	if !ok {
		s.mu.RUnlock()
		return nil, fmt.Errorf("search %s: %w", name, memory.ErrCollectionNotFound)
	}
	results := make([]memory.SearchResult, 0, len(col.entries))
	for _, e := range col.ordered() {
		score := mathutil.CosineSimilarity(query, e.vector)
		if threshold != nil && score < *threshold {
			continue
		}
		results = append(results, memory.SearchResult{
			ID:       e.metadata.ID,
			Score:    score,
			Metadata: e.metadata.Clone(),
		})
	}
	s.mu.RUnlock()

	// NaN compares false both ways, so it sorts as equal and keeps its place.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if limit < 0 {
		limit = 0
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Get returns a copy of one record.
func (s *Store) Get(ctx context.Context, name string, id string) (memory.VectorRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, ok := s.collections[name]
	if !ok {
		return memory.VectorRecord{}, false, nil
	}
	e, ok := col.entries[id]
	if !ok {
		return memory.VectorRecord{}, false, nil
	}
	return memory.VectorRecord{
		ID:       id,
		Vector:   mathutil.Clone(e.vector),
		Metadata: e.metadata.Clone(),
	}, true, nil
}

// GetAll returns the metadata of every entry in insertion order.
func (s *Store) GetAll(ctx context.Context, name string) ([]memory.VectorMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, ok := s.collections[name]
	if !ok {
		return []memory.VectorMetadata{}, nil
	}
	out := make([]memory.VectorMetadata, 0, len(col.entries))
	for _, e := range col.ordered() {
		out = append(out, e.metadata.Clone())
	}
	return out, nil
}

// Delete removes ids from the collection. Unknown ids and a missing
// collection are ignored.
func (s *Store) Delete(ctx context.Context, name string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	col, ok := s.collections[name]
	if !ok {
		return nil
	}
	if s.journal != nil {
		if err := s.journal.Delete(ctx, name, ids); err != nil {
			return fmt.Errorf("journal delete from %s: %w", name, err)
		}
	}
	for _, id := range ids {
		delete(col.entries, id)
	}
	return nil
}

// DeleteCollection removes the collection and its entries.
func (s *Store) DeleteCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[name]; !ok {
		return nil
	}
	if s.journal != nil {
		if err := s.journal.DeleteCollection(ctx, name); err != nil {
			return fmt.Errorf("journal delete collection %s: %w", name, err)
		}
	}
	delete(s.collections, name)
	logging.Debugf("[INMEM] Deleted collection %s", name)
	return nil
}

// Count returns the collection size, 0 when absent.
func (s *Store) Count(ctx context.Context, name string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, ok := s.collections[name]
	if !ok {
		return 0, nil
	}
	return len(col.entries), nil
}

// Collections lists collection names in sorted order.
func (s *Store) Collections(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Close closes the journal, if any.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	if err != nil {
		return fmt.Errorf("close journal: %w", err)
	}
	return nil
}
