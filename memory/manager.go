package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/becomeliminal/nim-memory/internal/digest"
	"github.com/becomeliminal/nim-memory/internal/logging"
	"github.com/becomeliminal/nim-memory/internal/mathutil"
	"github.com/becomeliminal/nim-memory/internal/metrics"
	"github.com/becomeliminal/nim-memory/memory/dedup"
	"github.com/becomeliminal/nim-memory/memory/embedder/cache"
)

// SimpleManager is the Manager implementation backed by a VectorStore and
// an Embedder.
//
// Features:
//   - Per-user collections, created lazily
//   - Embedding cache with concurrent calls for the same text collapsed
//   - Optional deduplication (see DedupPolicy)
//   - ID index so Update and Delete need only the memory ID
type SimpleManager struct {
	store    VectorStore
	embedder Embedder
	config   Config

	cache   cache.Cache
	dedup   *dedup.Deduplicator
	metrics *metrics.Recorder
	now     func() time.Time

	index   *collectionIndex
	writeMu sync.Mutex // serializes store mutations with index updates
	group   singleflight.Group
}

var _ Manager = (*SimpleManager)(nil)

// Option configures a SimpleManager.
type Option func(*SimpleManager)

// WithCache attaches an embedding cache.
func WithCache(c cache.Cache) Option {
	return func(m *SimpleManager) { m.cache = c }
}

// WithDeduplicator attaches a deduplicator. Its registrations are kept in
// step with Add, Update and Delete; Config.DedupPolicy decides whether Add
// consults it.
func WithDeduplicator(d *dedup.Deduplicator) Option {
	return func(m *SimpleManager) { m.dedup = d }
}

// WithMetrics routes metrics to r instead of metrics.Default.
func WithMetrics(r *metrics.Recorder) Option {
	return func(m *SimpleManager) { m.metrics = r }
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *SimpleManager) { m.now = now }
}

// AddOptions carries the optional attributes of a new memory.
type AddOptions struct {
	MemoryType string
	AgentID    string
	RunID      string
	Metadata   map[string]string
}

// SearchOptions extends Search with a score floor and a metadata filter.
type SearchOptions struct {
	Query     string
	Limit     int
	Threshold *float32
	Filter    *Filter
}

// Stats is a point-in-time view of the manager's in-process state.
type Stats struct {
	IndexedMemories int
	CacheSize       int
	DedupEntries    int
}

// NewSimpleManager creates a new SimpleManager. Zero Config fields take
// their defaults.
func NewSimpleManager(store VectorStore, embedder Embedder, config Config, opts ...Option) (*SimpleManager, error) {
	if store == nil {
		return nil, &Error{Op: "new", Kind: KindConfig, Err: errors.New("vector store is nil")}
	}
	if embedder == nil {
		return nil, &Error{Op: "new", Kind: KindConfig, Err: errors.New("embedder is nil")}
	}
	config = config.withDefaults(embedder.Dimensions())
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if dims := embedder.Dimensions(); dims > 0 && dims != config.Dimension {
		return nil, &Error{
			Op:   "new",
			Kind: KindConfig,
			Err:  fmt.Errorf("%w: embedder produces %d, configured %d", ErrDimensionMismatch, dims, config.Dimension),
		}
	}

	m := &SimpleManager{
		store:    store,
		embedder: embedder,
		config:   config,
		index:    newCollectionIndex(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = metrics.Default
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

// Config returns the effective configuration.
func (m *SimpleManager) Config() Config {
	return m.config
}

// Add stores content as a new memory for userID.
func (m *SimpleManager) Add(ctx context.Context, userID string, content string, opts AddOptions) (*MemoryItem, error) {
	const op = "add"
	if strings.TrimSpace(userID) == "" {
		return nil, invalidArgument(op, "user id is empty")
	}
	if content == "" {
		return nil, invalidArgument(op, "content is empty")
	}
	name := m.config.CollectionName(userID)

	if err := m.ensureCollection(ctx, name); err != nil {
		return nil, wrapError(op, KindStorage, fmt.Errorf("ensure collection %s: %w", name, err))
	}

	if id, ok := m.exactDuplicate(name, content, ""); ok {
		if item, err := m.resolveDuplicate(ctx, op, name, id, 1); item != nil || err != nil {
			return item, err
		}
	}

	embedding, err := m.embed(ctx, content)
	if err != nil {
		return nil, wrapError(op, KindEmbedding, fmt.Errorf("embed content: %w", err))
	}

	if id, score, ok := m.similarDuplicate(name, embedding, ""); ok {
		if item, err := m.resolveDuplicate(ctx, op, name, id, score); item != nil || err != nil {
			return item, err
		}
	}

	memType := opts.MemoryType
	if memType == "" {
		memType = m.config.DefaultMemoryType
	}
	item := NewItem(userID, content, memType, m.now())
	item.AgentID = opts.AgentID
	item.RunID = opts.RunID
	if opts.Metadata != nil {
		item.Metadata = cloneMap(opts.Metadata)
	}

	m.writeMu.Lock()
	// An identical Add may have been stored while this one was embedding.
	if id, ok := m.exactDuplicate(name, content, ""); ok {
		if existing, err := m.resolveDuplicate(ctx, op, name, id, 1); existing != nil || err != nil {
			m.writeMu.Unlock()
			return existing, err
		}
	}
	err = m.store.Upsert(ctx, name, []VectorRecord{{
		ID:       item.ID,
		Vector:   embedding,
		Metadata: item.ToVectorMetadata(),
	}})
	m.metrics.ObserveStore("upsert", err)
	if err != nil {
		m.writeMu.Unlock()
		return nil, wrapError(op, KindStorage, fmt.Errorf("upsert into %s: %w", name, err))
	}
	m.index.put(item.ID, name)
	m.register(name, item.ID, content, embedding)
	m.writeMu.Unlock()

	logging.Debugf("[MEMORY] Added memory: id=%s, collection=%s, type=%s", item.ID, name, item.MemoryType)
	return item, nil
}

// Search returns at most limit of the user's memories most similar to query,
// with no lower score bound. A zero limit returns no results.
func (m *SimpleManager) Search(ctx context.Context, userID string, query string, limit int) ([]SearchResultItem, error) {
	const op = "search"
	if limit < 0 {
		return nil, invalidArgument(op, "limit must not be negative, got %d", limit)
	}
	if limit == 0 {
		if strings.TrimSpace(userID) == "" {
			return nil, invalidArgument(op, "user id is empty")
		}
		return []SearchResultItem{}, nil
	}
	return m.SearchWithOptions(ctx, userID, SearchOptions{Query: query, Limit: limit})
}

// SearchWithOptions searches with an optional score threshold and filter.
// An unset Limit uses Config.SearchLimit. When a filter is set the whole
// collection is ranked and filtered before the limit is applied.
func (m *SimpleManager) SearchWithOptions(ctx context.Context, userID string, opts SearchOptions) ([]SearchResultItem, error) {
	const op = "search"
	if strings.TrimSpace(userID) == "" {
		return nil, invalidArgument(op, "user id is empty")
	}
	if err := opts.Filter.Validate(); err != nil {
		return nil, invalidArgument(op, "%v", err)
	}
	if opts.Limit < 0 {
		return nil, invalidArgument(op, "limit must not be negative, got %d", opts.Limit)
	}
	limit := opts.Limit
	if limit == 0 {
		limit = m.config.SearchLimit
	}
	name := m.config.CollectionName(userID)

	if err := m.ensureCollection(ctx, name); err != nil {
		return nil, wrapError(op, KindStorage, fmt.Errorf("ensure collection %s: %w", name, err))
	}

	embedding, err := m.embed(ctx, opts.Query)
	if err != nil {
		return nil, wrapError(op, KindEmbedding, fmt.Errorf("embed query: %w", err))
	}

	fetch := limit
	if opts.Filter != nil {
		n, err := m.store.Count(ctx, name)
		if err != nil {
			return nil, wrapError(op, KindStorage, fmt.Errorf("count %s: %w", name, err))
		}
		fetch = n
	}
	if fetch <= 0 {
		return []SearchResultItem{}, nil
	}

	hits, err := m.store.Search(ctx, name, embedding, fetch, opts.Threshold)
	m.metrics.ObserveStore("search", err)
	if err != nil {
		return nil, wrapError(op, KindStorage, fmt.Errorf("search %s: %w", name, err))
	}

	results := make([]SearchResultItem, 0, len(hits))
	for _, hit := range hits {
		item := ItemFromMetadata(hit.Metadata)
		if !opts.Filter.Match(&item) {
			continue
		}
		results = append(results, SearchResultItem{Memory: item, Score: hit.Score})
		if len(results) == limit {
			break
		}
	}

	logging.Debugf("[MEMORY] Retrieved %d memories for query: %q", len(results), truncateLog(opts.Query, 50))
	return results, nil
}

// GetAll lists every memory stored for userID.
func (m *SimpleManager) GetAll(ctx context.Context, userID string) ([]MemoryItem, error) {
	return m.GetAllFiltered(ctx, userID, nil)
}

// GetAllFiltered lists the user's memories that match filter.
func (m *SimpleManager) GetAllFiltered(ctx context.Context, userID string, filter *Filter) ([]MemoryItem, error) {
	const op = "get_all"
	if strings.TrimSpace(userID) == "" {
		return nil, invalidArgument(op, "user id is empty")
	}
	if err := filter.Validate(); err != nil {
		return nil, invalidArgument(op, "%v", err)
	}
	name := m.config.CollectionName(userID)

	if err := m.ensureCollection(ctx, name); err != nil {
		return nil, wrapError(op, KindStorage, fmt.Errorf("ensure collection %s: %w", name, err))
	}

	stored, err := m.store.GetAll(ctx, name)
	m.metrics.ObserveStore("get_all", err)
	if err != nil {
		return nil, wrapError(op, KindStorage, fmt.Errorf("list %s: %w", name, err))
	}

	items := make([]MemoryItem, 0, len(stored))
	for _, md := range stored {
		item := ItemFromMetadata(md)
		if filter.Match(&item) {
			items = append(items, item)
		}
	}
	return items, nil
}

// Get returns a single memory by ID.
func (m *SimpleManager) Get(ctx context.Context, memoryID string) (*MemoryItem, error) {
	const op = "get"
	if memoryID == "" {
		return nil, invalidArgument(op, "memory id is empty")
	}
	name, ok := m.index.get(memoryID)
	if !ok {
		return nil, wrapError(op, KindNotFound, fmt.Errorf("%w: %s", ErrMemoryNotFound, memoryID))
	}
	rec, found, err := m.store.Get(ctx, name, memoryID)
	m.metrics.ObserveStore("get", err)
	if err != nil {
		return nil, wrapError(op, KindStorage, fmt.Errorf("get %s from %s: %w", memoryID, name, err))
	}
	if !found {
		m.index.remove(memoryID)
		return nil, wrapError(op, KindNotFound, fmt.Errorf("%w: %s", ErrMemoryNotFound, memoryID))
	}
	item := ItemFromMetadata(rec.Metadata)
	item.Hash = ComputeHash(item.Content)
	return &item, nil
}

// Update replaces the content of memoryID, re-embeds it and refreshes
// UpdatedAt. CreatedAt and the other attributes are preserved.
func (m *SimpleManager) Update(ctx context.Context, memoryID string, content string) (*MemoryItem, error) {
	const op = "update"
	if memoryID == "" {
		return nil, invalidArgument(op, "memory id is empty")
	}
	if content == "" {
		return nil, invalidArgument(op, "content is empty")
	}
	name, ok := m.index.get(memoryID)
	if !ok {
		return nil, wrapError(op, KindNotFound, fmt.Errorf("%w: %s", ErrMemoryNotFound, memoryID))
	}

	existing, found, err := m.store.Get(ctx, name, memoryID)
	m.metrics.ObserveStore("get", err)
	if err != nil {
		return nil, wrapError(op, KindStorage, fmt.Errorf("get %s from %s: %w", memoryID, name, err))
	}
	if !found {
		m.index.remove(memoryID)
		return nil, wrapError(op, KindNotFound, fmt.Errorf("%w: %s", ErrMemoryNotFound, memoryID))
	}

	embedding, err := m.embed(ctx, content)
	if err != nil {
		return nil, wrapError(op, KindEmbedding, fmt.Errorf("embed content: %w", err))
	}
	if err := m.rejectDuplicateUpdate(ctx, op, name, memoryID, content, embedding); err != nil {
		return nil, err
	}

	md := existing.Metadata.Clone()
	md.Text = content
	md.UpdatedAt = m.now().UTC()
	if md.UpdatedAt.Before(md.CreatedAt) {
		md.UpdatedAt = md.CreatedAt
	}

	m.writeMu.Lock()
	if _, still := m.index.get(memoryID); !still {
		m.writeMu.Unlock()
		return nil, wrapError(op, KindNotFound, fmt.Errorf("%w: %s", ErrMemoryNotFound, memoryID))
	}
	if err := m.rejectDuplicateUpdate(ctx, op, name, memoryID, content, embedding); err != nil {
		m.writeMu.Unlock()
		return nil, err
	}
	err = m.store.Upsert(ctx, name, []VectorRecord{{ID: memoryID, Vector: embedding, Metadata: md}})
	m.metrics.ObserveStore("upsert", err)
	if err != nil {
		m.writeMu.Unlock()
		return nil, wrapError(op, KindStorage, fmt.Errorf("upsert into %s: %w", name, err))
	}
	if m.dedup != nil {
		m.dedup.Forget(memoryID)
	}
	m.register(name, memoryID, content, embedding)
	m.writeMu.Unlock()

	item := ItemFromMetadata(md)
	item.Hash = ComputeHash(content)

	logging.Debugf("[MEMORY] Updated memory: id=%s, collection=%s", memoryID, name)
	return &item, nil
}

// Delete removes memoryID from its collection.
func (m *SimpleManager) Delete(ctx context.Context, memoryID string) error {
	const op = "delete"
	if memoryID == "" {
		return invalidArgument(op, "memory id is empty")
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	name, ok := m.index.get(memoryID)
	if !ok {
		return wrapError(op, KindNotFound, fmt.Errorf("%w: %s", ErrMemoryNotFound, memoryID))
	}
	err := m.store.Delete(ctx, name, []string{memoryID})
	m.metrics.ObserveStore("delete", err)
	if err != nil {
		return wrapError(op, KindStorage, fmt.Errorf("delete %s from %s: %w", memoryID, name, err))
	}
	m.index.remove(memoryID)
	if m.dedup != nil {
		m.dedup.Forget(memoryID)
	}

	logging.Debugf("[MEMORY] Deleted memory: id=%s, collection=%s", memoryID, name)
	return nil
}

// DeleteUser drops the user's collection and every memory in it.
func (m *SimpleManager) DeleteUser(ctx context.Context, userID string) error {
	const op = "delete_user"
	if strings.TrimSpace(userID) == "" {
		return invalidArgument(op, "user id is empty")
	}
	name := m.config.CollectionName(userID)

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	err := m.store.DeleteCollection(ctx, name)
	m.metrics.ObserveStore("delete_collection", err)
	if err != nil {
		return wrapError(op, KindStorage, fmt.Errorf("delete collection %s: %w", name, err))
	}
	n := m.index.purge(name)
	if m.dedup != nil {
		m.dedup.ForgetScope(name)
	}

	logging.Infof("[MEMORY] Deleted collection %s (%d memories)", name, n)
	return nil
}

// RebuildIndex repopulates the ID index and deduplicator from the store.
// Call it after opening a store that already holds data.
func (m *SimpleManager) RebuildIndex(ctx context.Context) (int, error) {
	const op = "rebuild_index"
	names, err := m.store.Collections(ctx)
	if err != nil {
		return 0, wrapError(op, KindStorage, fmt.Errorf("list collections: %w", err))
	}

	prefix := m.config.CollectionPrefix + "_"
	total := 0
	for _, name := range names {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		stored, err := m.store.GetAll(ctx, name)
		if err != nil {
			return total, wrapError(op, KindStorage, fmt.Errorf("list %s: %w", name, err))
		}
		for _, md := range stored {
			var vec []float32
			if m.dedup != nil && m.dedup.Strategy() == dedup.Similarity {
				rec, ok, err := m.store.Get(ctx, name, md.ID)
				if err != nil {
					return total, wrapError(op, KindStorage, fmt.Errorf("get %s from %s: %w", md.ID, name, err))
				}
				if ok {
					vec = rec.Vector
				}
			}
			m.writeMu.Lock()
			m.index.put(md.ID, name)
			m.register(name, md.ID, md.Text, vec)
			m.writeMu.Unlock()
			total++
		}
	}

	logging.Infof("[MEMORY] Indexed %d memories across %d collections", total, len(names))
	return total, nil
}

// Stats reports the sizes of the manager's in-process state.
func (m *SimpleManager) Stats() Stats {
	s := Stats{IndexedMemories: m.index.len()}
	if m.cache != nil {
		s.CacheSize = m.cache.Size()
	}
	if m.dedup != nil {
		s.DedupEntries = m.dedup.CacheSize()
	}
	return s
}

// ensureCollection creates the collection when it does not exist yet.
func (m *SimpleManager) ensureCollection(ctx context.Context, name string) error {
	exists, err := m.store.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	err = m.store.CreateCollection(ctx, name, m.config.Dimension)
	m.metrics.ObserveStore("create_collection", err)
	return err
}

// embed returns the embedding of text, consulting the cache first. Calls for
// the same text that overlap share one embedder call.
func (m *SimpleManager) embed(ctx context.Context, text string) ([]float32, error) {
	if m.cache != nil {
		if vec, ok := m.cache.Get(text); ok {
			m.metrics.CacheHit()
			return vec, nil
		}
		m.metrics.CacheMiss()
	}

	v, err, _ := m.group.Do(digest.Sum(text), func() (interface{}, error) {
		start := time.Now()
		vec, err := m.embedder.Embed(ctx, text)
		m.metrics.ObserveEmbed(start, err)
		if err != nil {
			return nil, err
		}
		if len(vec) != m.config.Dimension {
			return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), m.config.Dimension)
		}
		if m.cache != nil {
			m.cache.Put(text, vec)
		}
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return mathutil.Clone(v.([]float32)), nil
}

func (m *SimpleManager) dedupActive() bool {
	return m.dedup != nil && m.config.DedupPolicy != DedupOff
}

// exactDuplicate returns a memory other than exclude holding content.
func (m *SimpleManager) exactDuplicate(name, content, exclude string) (string, bool) {
	if !m.dedupActive() {
		return "", false
	}
	return m.dedup.GetDuplicateExcept(name, content, exclude)
}

func (m *SimpleManager) similarDuplicate(name string, embedding []float32, exclude string) (string, float32, bool) {
	if !m.dedupActive() {
		return "", 0, false
	}
	return m.dedup.FindSimilarExcept(name, embedding, exclude)
}

// rejectDuplicateUpdate fails an Update under DedupReject when the new
// content duplicates another live memory in the collection. Other policies
// let the Update through.
func (m *SimpleManager) rejectDuplicateUpdate(ctx context.Context, op, name, memoryID, content string, embedding []float32) error {
	if m.config.DedupPolicy != DedupReject {
		return nil
	}
	if id, ok := m.exactDuplicate(name, content, memoryID); ok {
		if _, err := m.resolveDuplicate(ctx, op, name, id, 1); err != nil {
			return err
		}
	}
	if id, score, ok := m.similarDuplicate(name, embedding, memoryID); ok {
		if _, err := m.resolveDuplicate(ctx, op, name, id, score); err != nil {
			return err
		}
	}
	return nil
}

// resolveDuplicate applies the dedup policy to a match. It returns nil, nil
// when the match is stale and Add should proceed.
func (m *SimpleManager) resolveDuplicate(ctx context.Context, op, name, existingID string, score float32) (*MemoryItem, error) {
	rec, found, err := m.store.Get(ctx, name, existingID)
	if err != nil {
		return nil, wrapError(op, KindStorage, fmt.Errorf("get %s from %s: %w", existingID, name, err))
	}
	if !found {
		m.dedup.Forget(existingID)
		return nil, nil
	}

	m.metrics.Duplicates.Inc()
	logging.Debugf("[MEMORY] Duplicate of %s in %s (score=%.3f, policy=%s)", existingID, name, score, m.config.DedupPolicy)

	if m.config.DedupPolicy == DedupReject {
		return nil, &Error{Op: op, Kind: KindMemory, Err: &DuplicateError{ExistingID: existingID, Score: score}}
	}
	item := ItemFromMetadata(rec.Metadata)
	item.Hash = ComputeHash(item.Content)
	return &item, nil
}

// register records a memory with the deduplicator. Caller holds writeMu.
func (m *SimpleManager) register(name, id, content string, embedding []float32) {
	if m.dedup == nil {
		return
	}
	m.dedup.RegisterIn(name, content, id)
	if embedding != nil {
		m.dedup.RegisterVector(name, id, embedding)
	}
}

// truncateLog truncates text to maxLen runes for logging.
func truncateLog(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
