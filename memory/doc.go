// Package memory provides durable, queryable long-term memory for agents.
//
// Memories are short text records stored per user and retrieved by semantic
// nearest-neighbour search. Every user owns one vector collection, named
// from a configured prefix and the user ID, created lazily on first use.
//
// Architecture:
//   - VectorStore: collection-partitioned vector storage (inmem for the
//     reference engine, chromem-go as an embedded alternative)
//   - Embedder: text-to-vector conversion (local hashing, ONNX MiniLM, or an
//     OpenAI-compatible API)
//   - SimpleManager: orchestrates embedding, caching, deduplication and
//     storage behind Add/Search/Update/Delete/GetAll
//
// Supporting pieces:
//   - embedder/cache: content-hash keyed embedding cache (exact LRU or
//     ristretto)
//   - dedup: exact-hash and vector-similarity duplicate detection
//   - store/sqlite: write-through journal that makes the inmem store durable
//
// Update and Delete address memories by ID alone. SimpleManager keeps an
// ID-to-collection index, maintained under the same lock as every store
// mutation, to route those calls to the right collection.
package memory
