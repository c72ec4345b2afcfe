package chromem

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/becomeliminal/nim-memory/internal/logging"
	"github.com/becomeliminal/nim-memory/memory"
)

// ChromemStore wraps chromem-go for vector storage.
// chromem-go is a pure Go, embedded vector database.
//
// chromem normalizes vectors on insert, so Get returns unit vectors and a
// query whose length differs from the collection's is a storage error.
type ChromemStore struct {
	db   *chromem.DB
	mu   sync.RWMutex
	dims map[string]int // collection name -> dimension

	// docs keeps writers out between a reader's Count and its query;
	// chromem rejects nResults above the live document count.
	docs sync.RWMutex
}

var _ memory.VectorStore = (*ChromemStore)(nil)

// Metadata keys. Custom metadata is stored under metaPrefix.
const (
	keyUserID     = "user_id"
	keyAgentID    = "agent_id"
	keyRunID      = "run_id"
	keyMemoryType = "memory_type"
	keyCreatedAt  = "created_at"
	keyUpdatedAt  = "updated_at"
	metaPrefix    = "meta."
)

// New creates a new chromem-based store.
func New() (*ChromemStore, error) {
	return &ChromemStore{
		db:   chromem.NewDB(),
		dims: make(map[string]int),
	}, nil
}

// collection returns the named collection, or nil when absent.
func (s *ChromemStore) collection(name string) (*chromem.Collection, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dim, ok := s.dims[name]
	if !ok {
		return nil, 0
	}
	return s.db.GetCollection(name, nil), dim
}

// getOrCreateCollection returns the collection, creating it with dimension
// when absent.
func (s *ChromemStore) getOrCreateCollection(name string, dimension int) (*chromem.Collection, int, error) {
	if col, dim := s.collection(name); col != nil {
		return col, dim, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if dim, ok := s.dims[name]; ok {
		return s.db.GetCollection(name, nil), dim, nil
	}

	col, err := s.db.CreateCollection(
		name,
		map[string]string{"dimension": strconv.Itoa(dimension)},
		nil, // No custom embedding func (we provide embeddings)
	)
	if err != nil {
		return nil, 0, fmt.Errorf("create collection %s: %w", name, err)
	}
	s.dims[name] = dimension
	logging.Debugf("[CHROMEM] Created collection %s (dim=%d)", name, dimension)
	return col, dimension, nil
}

// CreateCollection creates an empty collection if absent.
func (s *ChromemStore) CreateCollection(ctx context.Context, name string, dimension int) error {
	if name == "" || dimension <= 0 {
		return fmt.Errorf("create collection %q: %w: dimension %d", name, memory.ErrInvalidArgument, dimension)
	}
	_, _, err := s.getOrCreateCollection(name, dimension)
	return err
}

// CollectionExists reports whether name exists.
func (s *ChromemStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	col, _ := s.collection(name)
	return col != nil, nil
}

// Upsert adds or replaces documents. A missing collection is created with
// the dimension of the first record.
func (s *ChromemStore) Upsert(ctx context.Context, name string, records []memory.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	col, dim, err := s.getOrCreateCollection(name, len(records[0].Vector))
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, 0, len(records))
	for _, rec := range records {
		if rec.ID == "" {
			return fmt.Errorf("upsert into %s: %w: empty record id", name, memory.ErrInvalidArgument)
		}
		if len(rec.Vector) != dim {
			return fmt.Errorf("upsert %s into %s: %w: got %d, want %d",
				rec.ID, name, memory.ErrDimensionMismatch, len(rec.Vector), dim)
		}
		vec := make([]float32, len(rec.Vector))
		copy(vec, rec.Vector)
		docs = append(docs, chromem.Document{
			ID:        rec.ID,
			Content:   rec.Metadata.Text,
			Embedding: vec,
			Metadata:  encodeMetadata(rec.Metadata),
		})
	}

	s.docs.Lock()
	defer s.docs.Unlock()
	for _, doc := range docs {
		if err := col.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("add document %s: %w", doc.ID, err)
		}
	}
	logging.Debugf("[CHROMEM] Stored %d documents in %s", len(docs), name)
	return nil
}

// Search queries the collection by cosine similarity.
func (s *ChromemStore) Search(ctx context.Context, name string, query []float32, limit int, threshold *float32) ([]memory.SearchResult, error) {
	col, _ := s.collection(name)
	if col == nil {
		return nil, fmt.Errorf("search %s: %w", name, memory.ErrCollectionNotFound)
	}

	s.docs.RLock()
	defer s.docs.RUnlock()

	// chromem-go requires 0 < nResults <= collection size
	n := limit
	if count := col.Count(); n > count {
		n = count
	}
	if n <= 0 {
		return []memory.SearchResult{}, nil
	}

	results, err := col.QueryEmbedding(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query %s: %w", name, err)
	}

	out := make([]memory.SearchResult, 0, len(results))
	for _, r := range results {
		if threshold != nil && r.Similarity < *threshold {
			continue
		}
		out = append(out, memory.SearchResult{
			ID:       r.ID,
			Score:    r.Similarity,
			Metadata: decodeMetadata(r.ID, r.Content, r.Metadata),
		})
	}
	// chromem already orders by similarity; keep ties stable by ID.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Get fetches one document by ID.
func (s *ChromemStore) Get(ctx context.Context, name string, id string) (memory.VectorRecord, bool, error) {
	col, _ := s.collection(name)
	if col == nil {
		return memory.VectorRecord{}, false, nil
	}
	doc, err := col.GetByID(ctx, id)
	if err != nil {
		// chromem reports a missing ID as an error.
		if strings.Contains(err.Error(), "not found") {
			return memory.VectorRecord{}, false, nil
		}
		return memory.VectorRecord{}, false, fmt.Errorf("get %s from %s: %w", id, name, err)
	}
	vec := make([]float32, len(doc.Embedding))
	copy(vec, doc.Embedding)
	return memory.VectorRecord{
		ID:       doc.ID,
		Vector:   vec,
		Metadata: decodeMetadata(doc.ID, doc.Content, doc.Metadata),
	}, true, nil
}

// GetAll enumerates the collection by querying with a unit probe vector
// for every document.
func (s *ChromemStore) GetAll(ctx context.Context, name string) ([]memory.VectorMetadata, error) {
	col, dim := s.collection(name)
	if col == nil {
		return []memory.VectorMetadata{}, nil
	}

	s.docs.RLock()
	defer s.docs.RUnlock()

	count := col.Count()
	if count == 0 {
		return []memory.VectorMetadata{}, nil
	}

	probe := make([]float32, dim)
	probe[0] = 1
	results, err := col.QueryEmbedding(ctx, probe, count, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("enumerate %s: %w", name, err)
	}

	out := make([]memory.VectorMetadata, 0, len(results))
	for _, r := range results {
		out = append(out, decodeMetadata(r.ID, r.Content, r.Metadata))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Delete removes documents by ID.
func (s *ChromemStore) Delete(ctx context.Context, name string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	col, _ := s.collection(name)
	if col == nil {
		return nil
	}
	s.docs.Lock()
	defer s.docs.Unlock()
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("delete from %s: %w", name, err)
	}
	return nil
}

// DeleteCollection removes a collection and its documents.
func (s *ChromemStore) DeleteCollection(ctx context.Context, name string) error {
	s.docs.Lock()
	defer s.docs.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.dims[name]; !ok {
		return nil
	}
	if err := s.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("delete collection %s: %w", name, err)
	}
	delete(s.dims, name)
	logging.Debugf("[CHROMEM] Deleted collection %s", name)
	return nil
}

// Count returns the number of documents, 0 when absent.
func (s *ChromemStore) Count(ctx context.Context, name string) (int, error) {
	col, _ := s.collection(name)
	if col == nil {
		return 0, nil
	}
	return col.Count(), nil
}

// Collections lists collection names in sorted order.
func (s *ChromemStore) Collections(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.dims))
	for name := range s.dims {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Close releases resources.
func (s *ChromemStore) Close() error {
	// chromem-go keeps everything in memory, nothing to close
	return nil
}

// encodeMetadata flattens metadata into chromem's string map.
func encodeMetadata(md memory.VectorMetadata) map[string]string {
	out := map[string]string{
		keyUserID:     md.UserID,
		keyMemoryType: md.MemoryType,
		keyCreatedAt:  md.CreatedAt.UTC().Format(time.RFC3339Nano),
		keyUpdatedAt:  md.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if md.AgentID != "" {
		out[keyAgentID] = md.AgentID
	}
	if md.RunID != "" {
		out[keyRunID] = md.RunID
	}
	for k, v := range md.CustomMetadata {
		out[metaPrefix+k] = v
	}
	return out
}

// decodeMetadata rebuilds VectorMetadata from a chromem document.
func decodeMetadata(id, content string, m map[string]string) memory.VectorMetadata {
	md := memory.VectorMetadata{
		ID:         id,
		UserID:     m[keyUserID],
		AgentID:    m[keyAgentID],
		RunID:      m[keyRunID],
		Text:       content,
		MemoryType: m[keyMemoryType],
	}
	md.CreatedAt, _ = time.Parse(time.RFC3339Nano, m[keyCreatedAt])
	md.UpdatedAt, _ = time.Parse(time.RFC3339Nano, m[keyUpdatedAt])
	for k, v := range m {
		if key, ok := strings.CutPrefix(k, metaPrefix); ok {
			if md.CustomMetadata == nil {
				md.CustomMetadata = make(map[string]string)
			}
			md.CustomMetadata[key] = v
		}
	}
	return md
}
