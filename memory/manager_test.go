package memory_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-memory/internal/metrics"
	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/memory/dedup"
	"github.com/becomeliminal/nim-memory/memory/embedder/cache"
	"github.com/becomeliminal/nim-memory/memory/embedder/local"
	"github.com/becomeliminal/nim-memory/memory/store/inmem"
)

// tableEmbedder returns fixed vectors for known texts and a hashed vector
// for everything else.
type tableEmbedder struct {
	dims    int
	vectors map[string][]float32
	calls   atomic.Int64
	err     error
}

func newTableEmbedder(vectors map[string][]float32) *tableEmbedder {
	return &tableEmbedder{dims: 3, vectors: vectors}
}

func (e *tableEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	if v, ok := e.vectors[text]; ok {
		return append([]float32(nil), v...), nil
	}
	return local.New(e.dims).Embed(ctx, text)
}

func (e *tableEmbedder) Dimensions() int { return e.dims }

func newManager(t *testing.T, emb memory.Embedder, cfg memory.Config, opts ...memory.Option) (*memory.SimpleManager, *metrics.Recorder) {
	t.Helper()
	rec := metrics.New()
	opts = append([]memory.Option{memory.WithMetrics(rec)}, opts...)
	mgr, err := memory.NewSimpleManager(inmem.New(), emb, cfg, opts...)
	require.NoError(t, err)
	return mgr, rec
}

func localConfig() memory.Config {
	return memory.Config{Dimension: 32}
}

func TestNewSimpleManagerValidation(t *testing.T) {
	_, err := memory.NewSimpleManager(nil, local.New(8), memory.Config{})
	assert.True(t, memory.IsKind(err, memory.KindConfig))

	_, err = memory.NewSimpleManager(inmem.New(), nil, memory.Config{})
	assert.True(t, memory.IsKind(err, memory.KindConfig))

	_, err = memory.NewSimpleManager(inmem.New(), local.New(8), memory.Config{Dimension: 16})
	require.Error(t, err)
	assert.True(t, memory.IsKind(err, memory.KindConfig))
	assert.ErrorIs(t, err, memory.ErrDimensionMismatch)

	mgr, err := memory.NewSimpleManager(inmem.New(), local.New(8), memory.Config{})
	require.NoError(t, err)
	cfg := mgr.Config()
	assert.Equal(t, 8, cfg.Dimension)
	assert.Equal(t, memory.DefaultCollectionPrefix, cfg.CollectionPrefix)
	assert.Equal(t, memory.DefaultMemoryType, cfg.DefaultMemoryType)
	assert.Equal(t, memory.DedupOff, cfg.DedupPolicy)
}

func TestAddAndGetAll(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mgr, _ := newManager(t, local.New(32), localConfig(), memory.WithClock(func() time.Time { return fixed }))

	item, err := mgr.Add(ctx, "alice", "prefers window seats", memory.AddOptions{
		AgentID:  "travel-bot",
		Metadata: map[string]string{"source": "chat"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, item.ID)
	assert.Equal(t, "alice", item.UserID)
	assert.Equal(t, memory.DefaultMemoryType, item.MemoryType)
	assert.Equal(t, memory.ComputeHash("prefers window seats"), item.Hash)
	assert.True(t, item.CreatedAt.Equal(fixed))
	assert.True(t, item.UpdatedAt.Equal(fixed))

	typed, err := mgr.Add(ctx, "alice", "flies economy", memory.AddOptions{MemoryType: "preference"})
	require.NoError(t, err)
	assert.Equal(t, "preference", typed.MemoryType)

	items, err := mgr.GetAll(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, items, 2)

	byID := map[string]memory.MemoryItem{}
	for _, it := range items {
		byID[it.ID] = it
	}
	got := byID[item.ID]
	assert.Equal(t, "prefers window seats", got.Content)
	assert.Equal(t, "travel-bot", got.AgentID)
	assert.Equal(t, "chat", got.Metadata["source"])
	assert.Equal(t, "preference", byID[typed.ID].MemoryType)
}

func TestAddRejectsEmptyInput(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t, local.New(32), localConfig())

	_, err := mgr.Add(ctx, "", "content", memory.AddOptions{})
	assert.True(t, memory.IsKind(err, memory.KindInvalidArgument))
	assert.ErrorIs(t, err, memory.ErrInvalidArgument)

	_, err = mgr.Add(ctx, "alice", "", memory.AddOptions{})
	assert.True(t, memory.IsKind(err, memory.KindInvalidArgument))
}

func TestSearchRanksByScore(t *testing.T) {
	ctx := context.Background()
	emb := newTableEmbedder(map[string][]float32{
		"coffee":          {1, 0, 0},
		"espresso":        {0.9, 0.1, 0},
		"tea":             {0.5, 0.5, 0},
		"mountain biking": {0, 0, 1},
	})
	mgr, _ := newManager(t, emb, memory.Config{})

	for _, text := range []string{"mountain biking", "tea", "espresso"} {
		_, err := mgr.Add(ctx, "alice", text, memory.AddOptions{})
		require.NoError(t, err)
	}

	results, err := mgr.Search(ctx, "alice", "coffee", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "espresso", results[0].Memory.Content)
	assert.Equal(t, "tea", results[1].Memory.Content)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)

	threshold := float32(0.9)
	results, err = mgr.SearchWithOptions(ctx, "alice", memory.SearchOptions{Query: "coffee", Threshold: &threshold})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "espresso", results[0].Memory.Content)
}

func TestSearchWithFilter(t *testing.T) {
	ctx := context.Background()
	emb := newTableEmbedder(map[string][]float32{
		"query":  {1, 0, 0},
		"best":   {1, 0, 0},
		"second": {0.8, 0.2, 0},
		"third":  {0.5, 0.5, 0},
	})
	mgr, _ := newManager(t, emb, memory.Config{})

	_, err := mgr.Add(ctx, "alice", "best", memory.AddOptions{MemoryType: "episodic"})
	require.NoError(t, err)
	_, err = mgr.Add(ctx, "alice", "second", memory.AddOptions{MemoryType: "semantic"})
	require.NoError(t, err)
	_, err = mgr.Add(ctx, "alice", "third", memory.AddOptions{MemoryType: "semantic"})
	require.NoError(t, err)

	// The filter applies before the limit, so the best match being filtered
	// out does not shrink the result set.
	results, err := mgr.SearchWithOptions(ctx, "alice", memory.SearchOptions{
		Query:  "query",
		Limit:  2,
		Filter: memory.All(memory.Eq("memory_type", "semantic")),
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "second", results[0].Memory.Content)
	assert.Equal(t, "third", results[1].Memory.Content)

	_, err = mgr.SearchWithOptions(ctx, "alice", memory.SearchOptions{
		Query:  "query",
		Filter: memory.All(memory.Eq("colour", "red")),
	})
	assert.True(t, memory.IsKind(err, memory.KindInvalidArgument))
}

func TestSearchUnknownUserIsEmpty(t *testing.T) {
	mgr, _ := newManager(t, local.New(32), localConfig())

	results, err := mgr.Search(context.Background(), "nobody", "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestUsersAreIsolated(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t, local.New(32), localConfig())

	_, err := mgr.Add(ctx, "alice", "alice's secret", memory.AddOptions{})
	require.NoError(t, err)
	_, err = mgr.Add(ctx, "bob", "bob's secret", memory.AddOptions{})
	require.NoError(t, err)

	results, err := mgr.Search(ctx, "bob", "alice's secret", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "bob", results[0].Memory.UserID)

	items, err := mgr.GetAll(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "alice's secret", items[0].Content)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	mgr, _ := newManager(t, local.New(32), localConfig(), memory.WithClock(clock))

	item, err := mgr.Add(ctx, "alice", "lives in Lisbon", memory.AddOptions{MemoryType: "fact", RunID: "r1"})
	require.NoError(t, err)

	now = now.Add(time.Hour)
	updated, err := mgr.Update(ctx, item.ID, "lives in Porto")
	require.NoError(t, err)
	assert.Equal(t, item.ID, updated.ID)
	assert.Equal(t, "lives in Porto", updated.Content)
	assert.Equal(t, "fact", updated.MemoryType)
	assert.Equal(t, "r1", updated.RunID)
	assert.Equal(t, memory.ComputeHash("lives in Porto"), updated.Hash)
	assert.True(t, updated.CreatedAt.Equal(item.CreatedAt))
	assert.True(t, updated.UpdatedAt.After(item.UpdatedAt))

	got, err := mgr.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "lives in Porto", got.Content)

	results, err := mgr.Search(ctx, "alice", "lives in Porto", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
}

func TestUpdateAndDeleteUnknownID(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t, local.New(32), localConfig())

	_, err := mgr.Update(ctx, "missing", "content")
	assert.True(t, memory.IsKind(err, memory.KindNotFound))
	assert.ErrorIs(t, err, memory.ErrMemoryNotFound)
	assert.ErrorIs(t, err, memory.ErrNotFound)

	err = mgr.Delete(ctx, "missing")
	assert.True(t, memory.IsKind(err, memory.KindNotFound))

	_, err = mgr.Get(ctx, "missing")
	assert.True(t, memory.IsKind(err, memory.KindNotFound))

	_, err = mgr.Update(ctx, "", "content")
	assert.True(t, memory.IsKind(err, memory.KindInvalidArgument))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t, local.New(32), localConfig())

	keep, err := mgr.Add(ctx, "alice", "keep me", memory.AddOptions{})
	require.NoError(t, err)
	drop, err := mgr.Add(ctx, "alice", "drop me", memory.AddOptions{})
	require.NoError(t, err)

	require.NoError(t, mgr.Delete(ctx, drop.ID))

	items, err := mgr.GetAll(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, keep.ID, items[0].ID)

	err = mgr.Delete(ctx, drop.ID)
	assert.True(t, memory.IsKind(err, memory.KindNotFound))
	assert.Equal(t, 1, mgr.Stats().IndexedMemories)
}

func TestDeleteUser(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t, local.New(32), localConfig(), memory.WithDeduplicator(dedup.New(dedup.Exact)))

	item, err := mgr.Add(ctx, "alice", "one", memory.AddOptions{})
	require.NoError(t, err)
	_, err = mgr.Add(ctx, "bob", "two", memory.AddOptions{})
	require.NoError(t, err)

	require.NoError(t, mgr.DeleteUser(ctx, "alice"))

	items, err := mgr.GetAll(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = mgr.Get(ctx, item.ID)
	assert.True(t, memory.IsKind(err, memory.KindNotFound))

	stats := mgr.Stats()
	assert.Equal(t, 1, stats.IndexedMemories)
	assert.Equal(t, 1, stats.DedupEntries)
}

func TestDedupPolicies(t *testing.T) {
	ctx := context.Background()

	t.Run("off", func(t *testing.T) {
		mgr, _ := newManager(t, local.New(32), localConfig(), memory.WithDeduplicator(dedup.New(dedup.Exact)))
		a, err := mgr.Add(ctx, "alice", "same", memory.AddOptions{})
		require.NoError(t, err)
		b, err := mgr.Add(ctx, "alice", "same", memory.AddOptions{})
		require.NoError(t, err)
		assert.NotEqual(t, a.ID, b.ID)
	})

	t.Run("reject", func(t *testing.T) {
		cfg := localConfig()
		cfg.DedupPolicy = memory.DedupReject
		mgr, rec := newManager(t, local.New(32), cfg, memory.WithDeduplicator(dedup.New(dedup.Exact)))

		first, err := mgr.Add(ctx, "alice", "same", memory.AddOptions{})
		require.NoError(t, err)

		_, err = mgr.Add(ctx, "alice", "same", memory.AddOptions{})
		require.Error(t, err)
		assert.True(t, memory.IsKind(err, memory.KindMemory))
		var dup *memory.DuplicateError
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, first.ID, dup.ExistingID)
		assert.Equal(t, float64(1), testutil.ToFloat64(rec.Duplicates))

		// Another user may store the same text.
		_, err = mgr.Add(ctx, "bob", "same", memory.AddOptions{})
		require.NoError(t, err)

		// Deleting the original frees the content again.
		require.NoError(t, mgr.Delete(ctx, first.ID))
		_, err = mgr.Add(ctx, "alice", "same", memory.AddOptions{})
		require.NoError(t, err)
	})

	t.Run("return existing", func(t *testing.T) {
		cfg := localConfig()
		cfg.DedupPolicy = memory.DedupReturnExisting
		mgr, _ := newManager(t, local.New(32), cfg, memory.WithDeduplicator(dedup.New(dedup.Exact)))

		first, err := mgr.Add(ctx, "alice", "same", memory.AddOptions{})
		require.NoError(t, err)
		again, err := mgr.Add(ctx, "alice", "same", memory.AddOptions{})
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID)

		items, err := mgr.GetAll(ctx, "alice")
		require.NoError(t, err)
		assert.Len(t, items, 1)
	})

	t.Run("similarity", func(t *testing.T) {
		emb := newTableEmbedder(map[string][]float32{
			"likes cats":        {1, 0, 0},
			"really likes cats": {0.99, 0.01, 0},
			"hates rain":        {0, 1, 0},
		})
		cfg := memory.Config{DedupPolicy: memory.DedupReject}
		mgr, _ := newManager(t, emb, cfg, memory.WithDeduplicator(dedup.NewWithThreshold(dedup.Similarity, 0.95)))

		first, err := mgr.Add(ctx, "alice", "likes cats", memory.AddOptions{})
		require.NoError(t, err)

		_, err = mgr.Add(ctx, "alice", "really likes cats", memory.AddOptions{})
		var dup *memory.DuplicateError
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, first.ID, dup.ExistingID)
		assert.Greater(t, dup.Score, float32(0.95))

		_, err = mgr.Add(ctx, "alice", "hates rain", memory.AddOptions{})
		require.NoError(t, err)
	})
}

func TestEmbedderFailure(t *testing.T) {
	ctx := context.Background()
	emb := newTableEmbedder(nil)
	emb.err = errors.New("model unavailable")
	mgr, _ := newManager(t, emb, memory.Config{})

	_, err := mgr.Add(ctx, "alice", "content", memory.AddOptions{})
	require.Error(t, err)
	assert.True(t, memory.IsKind(err, memory.KindEmbedding))

	emb.err = context.DeadlineExceeded
	_, err = mgr.Search(ctx, "alice", "content", 1)
	assert.True(t, memory.IsKind(err, memory.KindTimeout))

	items, err := mgr.GetAll(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, items)
}

// wrongSizeEmbedder reports one size and produces another.
type wrongSizeEmbedder struct{}

func (wrongSizeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 2}, nil
}

func (wrongSizeEmbedder) Dimensions() int { return 4 }

func TestEmbeddingDimensionChecked(t *testing.T) {
	mgr, _ := newManager(t, wrongSizeEmbedder{}, memory.Config{})

	_, err := mgr.Add(context.Background(), "alice", "content", memory.AddOptions{})
	require.Error(t, err)
	assert.True(t, memory.IsKind(err, memory.KindEmbedding))
	assert.ErrorIs(t, err, memory.ErrDimensionMismatch)
}

func TestEmbeddingCache(t *testing.T) {
	ctx := context.Background()
	emb := newTableEmbedder(nil)
	mgr, rec := newManager(t, emb, memory.Config{}, memory.WithCache(cache.NewLRU(10)))

	_, err := mgr.Add(ctx, "alice", "repeat", memory.AddOptions{})
	require.NoError(t, err)
	_, err = mgr.Search(ctx, "alice", "repeat", 1)
	require.NoError(t, err)
	_, err = mgr.Search(ctx, "alice", "repeat", 1)
	require.NoError(t, err)

	assert.Equal(t, int64(1), emb.calls.Load())
	assert.Equal(t, float64(2), testutil.ToFloat64(rec.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(rec.CacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1, mgr.Stats().CacheSize)
}

func TestPrefetchFillsCache(t *testing.T) {
	ctx := context.Background()
	c := cache.NewLRU(10)
	mgr, _ := newManager(t, local.New(32), localConfig(), memory.WithCache(c))

	require.NoError(t, mgr.Prefetch(ctx, []string{"a", "b", "a"}))
	assert.Equal(t, 2, c.Size())
	assert.True(t, c.Contains("a"))
	assert.True(t, c.Contains("b"))
}

func TestRebuildIndex(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	cfg := localConfig()

	first, err := memory.NewSimpleManager(store, local.New(32), cfg, memory.WithMetrics(metrics.New()))
	require.NoError(t, err)
	a, err := first.Add(ctx, "alice", "one", memory.AddOptions{})
	require.NoError(t, err)
	_, err = first.Add(ctx, "bob", "two", memory.AddOptions{})
	require.NoError(t, err)
	require.NoError(t, store.CreateCollection(ctx, "other_table", 32))

	cfg.DedupPolicy = memory.DedupReject
	second, err := memory.NewSimpleManager(store, local.New(32), cfg,
		memory.WithMetrics(metrics.New()), memory.WithDeduplicator(dedup.New(dedup.Exact)))
	require.NoError(t, err)

	_, err = second.Get(ctx, a.ID)
	assert.True(t, memory.IsKind(err, memory.KindNotFound))

	n, err := second.RebuildIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := second.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "one", got.Content)

	_, err = second.Add(ctx, "alice", "one", memory.AddOptions{})
	assert.ErrorIs(t, err, memory.ErrDuplicate)
}

func TestConcurrentAdds(t *testing.T) {
	ctx := context.Background()
	cfg := localConfig()
	cfg.DedupPolicy = memory.DedupReject
	mgr, _ := newManager(t, local.New(32), cfg,
		memory.WithCache(cache.NewLRU(100)), memory.WithDeduplicator(dedup.New(dedup.Exact)))

	const workers = 8
	var wg sync.WaitGroup
	var ok atomic.Int64
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := mgr.Add(ctx, "alice", "contended", memory.AddOptions{}); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), ok.Load())
	items, err := mgr.GetAll(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestSearchLimitBounds(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t, local.New(32), localConfig())
	for i := 0; i < 15; i++ {
		_, err := mgr.Add(ctx, "alice", fmt.Sprintf("memory %d", i), memory.AddOptions{})
		require.NoError(t, err)
	}

	results, err := mgr.Search(ctx, "alice", "memory", 0)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)

	results, err = mgr.Search(ctx, "alice", "memory", 12)
	require.NoError(t, err)
	assert.Len(t, results, 12)

	_, err = mgr.Search(ctx, "alice", "memory", -1)
	assert.True(t, memory.IsKind(err, memory.KindInvalidArgument))

	// SearchWithOptions falls back to the configured limit when unset.
	results, err = mgr.SearchWithOptions(ctx, "alice", memory.SearchOptions{Query: "memory"})
	require.NoError(t, err)
	assert.Len(t, results, memory.DefaultSearchLimit)
}

func TestUpdateCannotBypassRejectPolicy(t *testing.T) {
	ctx := context.Background()
	cfg := localConfig()
	cfg.DedupPolicy = memory.DedupReject
	mgr, _ := newManager(t, local.New(32), cfg, memory.WithDeduplicator(dedup.New(dedup.Exact)))

	alpha, err := mgr.Add(ctx, "alice", "alpha", memory.AddOptions{})
	require.NoError(t, err)
	beta, err := mgr.Add(ctx, "alice", "beta", memory.AddOptions{})
	require.NoError(t, err)

	_, err = mgr.Update(ctx, beta.ID, "alpha")
	var dup *memory.DuplicateError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, alpha.ID, dup.ExistingID)

	// Rewriting a memory with its own content is not a duplicate.
	_, err = mgr.Update(ctx, alpha.ID, "alpha")
	require.NoError(t, err)

	require.NoError(t, mgr.Delete(ctx, beta.ID))
	_, err = mgr.Add(ctx, "alice", "alpha", memory.AddOptions{})
	assert.ErrorIs(t, err, memory.ErrDuplicate)

	items, err := mgr.GetAll(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, alpha.ID, items[0].ID)
}

func TestSharedContentSurvivesDelete(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManager(t, local.New(32), localConfig(), memory.WithDeduplicator(dedup.New(dedup.Exact)))

	// With the policy off both memories may hold the same content.
	a, err := mgr.Add(ctx, "alice", "alpha", memory.AddOptions{})
	require.NoError(t, err)
	b, err := mgr.Add(ctx, "alice", "beta", memory.AddOptions{})
	require.NoError(t, err)
	_, err = mgr.Update(ctx, b.ID, "alpha")
	require.NoError(t, err)
	require.NoError(t, mgr.Delete(ctx, b.ID))

	cfg := localConfig()
	cfg.DedupPolicy = memory.DedupReturnExisting
	d := dedup.New(dedup.Exact)
	strict, err := memory.NewSimpleManager(inmem.New(), local.New(32), cfg,
		memory.WithMetrics(metrics.New()), memory.WithDeduplicator(d))
	require.NoError(t, err)

	first, err := strict.Add(ctx, "alice", "alpha", memory.AddOptions{})
	require.NoError(t, err)
	second, err := strict.Add(ctx, "alice", "beta", memory.AddOptions{})
	require.NoError(t, err)
	_, err = strict.Update(ctx, second.ID, "alpha")
	require.NoError(t, err)
	require.NoError(t, strict.Delete(ctx, second.ID))

	again, err := strict.Add(ctx, "alice", "alpha", memory.AddOptions{})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	items, err := mgr.GetAll(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, a.ID, items[0].ID)
}

func TestConcurrentAddsReturnExisting(t *testing.T) {
	ctx := context.Background()
	cfg := localConfig()
	cfg.DedupPolicy = memory.DedupReturnExisting
	mgr, _ := newManager(t, local.New(32), cfg,
		memory.WithCache(cache.NewLRU(100)), memory.WithDeduplicator(dedup.New(dedup.Exact)))

	const workers = 8
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			item, err := mgr.Add(ctx, "alice", "contended", memory.AddOptions{})
			if err == nil {
				ids[i] = item.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	items, err := mgr.GetAll(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}
