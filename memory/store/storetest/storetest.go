// Package storetest is a conformance suite for memory.VectorStore
// implementations.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-memory/memory"
)

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) memory.VectorStore

// Run exercises every VectorStore operation against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s memory.VectorStore)
	}{
		{"CreateCollectionIdempotent", testCreateCollectionIdempotent},
		{"UpsertAutoCreates", testUpsertAutoCreates},
		{"UpsertOverwrites", testUpsertOverwrites},
		{"SearchRanksAndLimits", testSearchRanksAndLimits},
		{"SearchThreshold", testSearchThreshold},
		{"SearchMissingCollection", testSearchMissingCollection},
		{"GetAndGetAll", testGetAndGetAll},
		{"DeleteIgnoresUnknown", testDeleteIgnoresUnknown},
		{"DeleteCollection", testDeleteCollection},
		{"AbsentCollectionIsEmpty", testAbsentCollectionIsEmpty},
		{"Collections", testCollections},
		{"ReturnsCopies", testReturnsCopies},
		{"ConcurrentReadersAndWriters", testConcurrent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

// Record builds a record with metadata derived from id.
func Record(id string, vec ...float32) memory.VectorRecord {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	return memory.VectorRecord{
		ID:     id,
		Vector: vec,
		Metadata: memory.VectorMetadata{
			ID:             id,
			UserID:         "u1",
			Text:           "text " + id,
			MemoryType:     "general",
			CreatedAt:      now,
			UpdatedAt:      now,
			CustomMetadata: map[string]string{"source": "storetest"},
		},
	}
}

func ids(results []memory.SearchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}

func testCreateCollectionIdempotent(t *testing.T, s memory.VectorStore) {
	ctx := context.Background()

	ok, err := s.CollectionExists(ctx, "mem_u1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.CreateCollection(ctx, "mem_u1", 3))
	require.NoError(t, s.Upsert(ctx, "mem_u1", []memory.VectorRecord{Record("a", 1, 0, 0)}))
	require.NoError(t, s.CreateCollection(ctx, "mem_u1", 3))

	ok, err = s.CollectionExists(ctx, "mem_u1")
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := s.Count(ctx, "mem_u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "re-creating must not clear the collection")
}

func testUpsertAutoCreates(t *testing.T, s memory.VectorStore) {
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "auto", []memory.VectorRecord{Record("a", 1, 0)}))

	ok, err := s.CollectionExists(ctx, "auto")
	require.NoError(t, err)
	assert.True(t, ok)
	n, err := s.Count(ctx, "auto")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func testUpsertOverwrites(t *testing.T, s memory.VectorStore) {
	ctx := context.Background()
	require.NoError(t, s.CreateCollection(ctx, "c", 2))

	require.NoError(t, s.Upsert(ctx, "c", []memory.VectorRecord{Record("a", 1, 0)}))
	updated := Record("a", 0, 1)
	updated.Metadata.Text = "changed"
	require.NoError(t, s.Upsert(ctx, "c", []memory.VectorRecord{updated}))

	n, err := s.Count(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, ok, err := s.Get(ctx, "c", "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "changed", rec.Metadata.Text)

	hits, err := s.Search(ctx, "c", []float32{0, 1}, 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
}

func testSearchRanksAndLimits(t *testing.T, s memory.VectorStore) {
	ctx := context.Background()
	require.NoError(t, s.CreateCollection(ctx, "mem_u1", 3))
	require.NoError(t, s.Upsert(ctx, "mem_u1", []memory.VectorRecord{
		Record("a", 1, 0, 0),
		Record("b", 0.8, 0.6, 0),
		Record("c", 0, 0, 1),
	}))

	hits, err := s.Search(ctx, "mem_u1", []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, []string{"a", "b"}, ids(hits))
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
	assert.InDelta(t, 0.8, hits[1].Score, 1e-5)
	assert.Equal(t, "text a", hits[0].Metadata.Text)

	all, err := s.Search(ctx, "mem_u1", []float32{1, 0, 0}, 10, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		assert.GreaterOrEqual(t, all[i-1].Score, all[i].Score)
	}
}

func testSearchThreshold(t *testing.T, s memory.VectorStore) {
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, "c", []memory.VectorRecord{
		Record("a", 1, 0),
		Record("b", 0.6, 0.8),
		Record("c", 0, 1),
	}))

	threshold := float32(0.5)
	hits, err := s.Search(ctx, "c", []float32{1, 0}, 10, &threshold)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(hits))
	for _, h := range hits {
		assert.GreaterOrEqual(t, h.Score, threshold)
	}
}

func testSearchMissingCollection(t *testing.T, s memory.VectorStore) {
	_, err := s.Search(context.Background(), "missing", []float32{1, 0}, 5, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, memory.ErrCollectionNotFound), "got %v", err)
	assert.True(t, errors.Is(err, memory.ErrNotFound))
}

func testGetAndGetAll(t *testing.T, s memory.VectorStore) {
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, "c", []memory.VectorRecord{Record("a", 1, 0), Record("b", 0, 1)}))

	rec, ok, err := s.Get(ctx, "c", "b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", rec.ID)
	assert.InDeltaSlice(t, []float32{0, 1}, rec.Vector, 1e-6)
	assert.Equal(t, "storetest", rec.Metadata.CustomMetadata["source"])
	assert.True(t, rec.Metadata.CreatedAt.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))

	_, ok, err = s.Get(ctx, "c", "zzz")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.Get(ctx, "missing", "a")
	require.NoError(t, err)
	assert.False(t, ok)

	all, err := s.GetAll(ctx, "c")
	require.NoError(t, err)
	got := make([]string, len(all))
	for i, md := range all {
		got[i] = md.ID
	}
	sort.Strings(got)
	assert.Equal(t, []string{"a", "b"}, got)
}

func testDeleteIgnoresUnknown(t *testing.T, s memory.VectorStore) {
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, "c", []memory.VectorRecord{Record("a", 1, 0), Record("b", 0, 1)}))

	require.NoError(t, s.Delete(ctx, "c", []string{"a", "nope"}))
	require.NoError(t, s.Delete(ctx, "missing", []string{"a"}))

	n, err := s.Count(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok, err := s.Get(ctx, "c", "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testDeleteCollection(t *testing.T, s memory.VectorStore) {
	ctx := context.Background()
	require.NoError(t, s.CreateCollection(ctx, "mem_u1", 2))
	require.NoError(t, s.Upsert(ctx, "mem_u1", []memory.VectorRecord{Record("a", 1, 0)}))

	require.NoError(t, s.DeleteCollection(ctx, "mem_u1"))

	n, err := s.Count(ctx, "mem_u1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = s.Search(ctx, "mem_u1", []float32{1, 0}, 1, nil)
	assert.True(t, errors.Is(err, memory.ErrNotFound), "got %v", err)

	all, err := s.GetAll(ctx, "mem_u1")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func testAbsentCollectionIsEmpty(t *testing.T, s memory.VectorStore) {
	ctx := context.Background()

	n, err := s.Count(ctx, "never")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	all, err := s.GetAll(ctx, "never")
	require.NoError(t, err)
	assert.Empty(t, all)

	require.NoError(t, s.DeleteCollection(ctx, "never"))
}

func testCollections(t *testing.T, s memory.VectorStore) {
	ctx := context.Background()
	require.NoError(t, s.CreateCollection(ctx, "mem0_bob", 2))
	require.NoError(t, s.CreateCollection(ctx, "mem0_alice", 2))

	names, err := s.Collections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"mem0_alice", "mem0_bob"}, names)
}

func testReturnsCopies(t *testing.T, s memory.VectorStore) {
	ctx := context.Background()
	rec := Record("a", 1, 0)
	require.NoError(t, s.Upsert(ctx, "c", []memory.VectorRecord{rec}))
	rec.Metadata.CustomMetadata["source"] = "mutated"

	got, ok, err := s.Get(ctx, "c", "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "storetest", got.Metadata.CustomMetadata["source"])

	got.Metadata.CustomMetadata["source"] = "mutated again"
	again, _, err := s.Get(ctx, "c", "a")
	require.NoError(t, err)
	assert.Equal(t, "storetest", again.Metadata.CustomMetadata["source"])
}

func testConcurrent(t *testing.T, s memory.VectorStore) {
	ctx := context.Background()
	require.NoError(t, s.CreateCollection(ctx, "c", 2))

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				id := fmt.Sprintf("w%d-%d", w, i)
				if err := s.Upsert(ctx, "c", []memory.VectorRecord{Record(id, float32(i+1), float32(w))}); err != nil {
					errs <- err
					return
				}
			}
		}(w)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				if _, err := s.Search(ctx, "c", []float32{1, 0}, 5, nil); err != nil {
					errs <- err
					return
				}
				if _, err := s.Count(ctx, "c"); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent operation failed: %v", err)
	}

	n, err := s.Count(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 100, n)
}
