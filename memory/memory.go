package memory

import (
	"context"
	"fmt"
)

// Manager is the public surface of the memory engine.
//
// Add, Search and GetAll are scoped to a user. Update and Delete address a
// memory by its globally unique ID.
type Manager interface {
	// Add stores content as a new memory for the user.
	Add(ctx context.Context, userID string, content string, opts AddOptions) (*MemoryItem, error)

	// Search returns the user's memories most similar to query, highest
	// score first, at most limit results.
	Search(ctx context.Context, userID string, query string, limit int) ([]SearchResultItem, error)

	// Update replaces the content of an existing memory and re-embeds it.
	Update(ctx context.Context, memoryID string, content string) (*MemoryItem, error)

	// Delete removes a memory permanently.
	Delete(ctx context.Context, memoryID string) error

	// GetAll lists every memory stored for the user.
	GetAll(ctx context.Context, userID string) ([]MemoryItem, error)
}

// VectorStore is the vector storage backend interface.
// Implementations: inmem.Store (reference), chromem.ChromemStore (embedded chromem-go).
//
// Collections are id-keyed tables of (vector, metadata) entries. Search is
// the only operation that fails on a missing collection; Count and GetAll
// report an absent collection as empty, and Upsert creates it.
type VectorStore interface {
	// CreateCollection creates an empty collection. Existing collections
	// are left untouched.
	CreateCollection(ctx context.Context, name string, dimension int) error

	// CollectionExists reports whether the named collection exists.
	CollectionExists(ctx context.Context, name string) (bool, error)

	// Upsert inserts or overwrites records keyed by ID.
	Upsert(ctx context.Context, name string, records []VectorRecord) error

	// Search ranks the collection by cosine similarity to query. Entries
	// scoring below a non-nil threshold are dropped.
	Search(ctx context.Context, name string, query []float32, limit int, threshold *float32) ([]SearchResult, error)

	// Get fetches a single record.
	Get(ctx context.Context, name string, id string) (VectorRecord, bool, error)

	// GetAll returns the metadata of every record in the collection.
	GetAll(ctx context.Context, name string) ([]VectorMetadata, error)

	// Delete removes records by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, name string, ids []string) error

	// DeleteCollection removes a collection and all its records.
	DeleteCollection(ctx context.Context, name string) error

	// Count returns the number of records in the collection.
	Count(ctx context.Context, name string) (int, error)

	// Collections lists collection names in sorted order.
	Collections(ctx context.Context) ([]string, error)

	// Close releases resources.
	Close() error
}

// Embedder converts text to vector embeddings.
// Implementations: local.Embedder (hashing), openai.Embedder (API),
// onnx.Embedder (all-MiniLM-L6-v2, build tag onnx).
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns embedding vector size.
	Dimensions() int
}

// BatchEmbedder is implemented by embedders that can embed several texts in
// one call.
type BatchEmbedder interface {
	Embedder
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedBatch embeds texts with e, using its batch path when it has one and
// falling back to one Embed call per text otherwise.
func EmbedBatch(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	if be, ok := e.(BatchEmbedder); ok {
		return be.EmbedBatch(ctx, texts)
	}
	out := make([][]float32, 0, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text #%d: %w", i, err)
		}
		out = append(out, vec)
	}
	return out, nil
}
