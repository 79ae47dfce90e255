package store

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHNSW(t *testing.T, dims int) *HNSWIndex {
	t.Helper()
	idx, err := NewHNSWIndex(DefaultVectorIndexConfig(dims))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestHNSWIndex_AddAndSearch(t *testing.T) {
	// Given: empty index with 4 dimensions
	idx := newTestHNSW(t, 4)

	// And: vectors a=[1,0,0,0], b=[0,1,0,0], c=[0.9,0.1,0,0]
	ids := []string{"a", "b", "c"}
	vectors := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0.9, 0.1, 0, 0},
	}

	// When: adding all vectors and searching for [1,0,0,0] with k=2
	err := idx.Add(context.Background(), ids, vectors)
	require.NoError(t, err)

	results, err := idx.Search(context.Background(), []float32{1, 0, 0, 0}, 2)
	require.NoError(t, err)

	// Then: "a" is the exact match, "c" the near one
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ChunkID)
	assert.Equal(t, "c", results[1].ChunkID)
	assert.Greater(t, results[0].Score, float32(0.99))
}

func TestHNSWIndex_Delete(t *testing.T) {
	idx := newTestHNSW(t, 4)

	err := idx.Add(context.Background(), []string{"a", "b"}, [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
	})
	require.NoError(t, err)

	err = idx.Delete(context.Background(), []string{"a"})
	require.NoError(t, err)

	assert.False(t, idx.Contains("a"))
	assert.True(t, idx.Contains("b"))
	assert.Equal(t, 1, idx.Count())
}

func TestHNSWIndex_DeletedVectorNeverSurfaces(t *testing.T) {
	// Lazy deletion keeps the node in the graph; it must still never
	// appear in search results, and live vectors must fill its slot.
	idx := newTestHNSW(t, 4)

	err := idx.Add(context.Background(), []string{"a", "b", "c"}, [][]float32{
		{1, 0, 0, 0},
		{0.9, 0.1, 0, 0},
		{0, 1, 0, 0},
	})
	require.NoError(t, err)

	require.NoError(t, idx.Delete(context.Background(), []string{"a"}))

	results, err := idx.Search(context.Background(), []float32{1, 0, 0, 0}, 2)
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "b", results[0].ChunkID)
	assert.Equal(t, "c", results[1].ChunkID)
}

func TestHNSWIndex_Update(t *testing.T) {
	idx := newTestHNSW(t, 4)

	err := idx.Add(context.Background(), []string{"a"}, [][]float32{{1, 0, 0, 0}})
	require.NoError(t, err)

	// Re-adding the same ID replaces the vector
	err = idx.Add(context.Background(), []string{"a"}, [][]float32{{0, 1, 0, 0}})
	require.NoError(t, err)

	assert.Equal(t, 1, idx.Count())

	results, err := idx.Search(context.Background(), []float32{0, 1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ChunkID)
	assert.Greater(t, results[0].Score, float32(0.99))
}

func TestHNSWIndex_Persistence(t *testing.T) {
	// Given: an index with two vectors saved to disk
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.hnsw")

	idx := newTestHNSW(t, 4)
	err := idx.Add(context.Background(), []string{"a", "b"}, [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
	})
	require.NoError(t, err)
	require.NoError(t, idx.Save(path))

	// When: loading into a fresh index
	restored, err := NewHNSWIndex(DefaultVectorIndexConfig(4))
	require.NoError(t, err)
	defer func() { _ = restored.Close() }()
	require.NoError(t, restored.Load(path))

	// Then: contents and search behavior survive the round trip
	assert.Equal(t, 2, restored.Count())
	assert.True(t, restored.Contains("a"))

	results, err := restored.Search(context.Background(), []float32{1, 0, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ChunkID)
}

func TestHNSWIndex_SaveCreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "deeper", "vectors.hnsw")

	idx := newTestHNSW(t, 4)
	require.NoError(t, idx.Add(context.Background(), []string{"a"}, [][]float32{{1, 0, 0, 0}}))

	require.NoError(t, idx.Save(path))

	_, err := os.Stat(path)
	assert.NoError(t, err)
	_, err = os.Stat(path + ".meta")
	assert.NoError(t, err)
}

func TestHNSWIndex_LoadMissingFile(t *testing.T) {
	idx := newTestHNSW(t, 4)

	err := idx.Load(filepath.Join(t.TempDir(), "absent.hnsw"))
	assert.Error(t, err)
}

func TestHNSWIndex_DimensionMismatch(t *testing.T) {
	idx := newTestHNSW(t, 4)

	err := idx.Add(context.Background(), []string{"a"}, [][]float32{{1, 0}})
	require.Error(t, err)

	var dimErr ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 4, dimErr.Expected)
	assert.Equal(t, 2, dimErr.Got)

	_, err = idx.Search(context.Background(), []float32{1, 0}, 1)
	assert.ErrorAs(t, err, &dimErr)
}

func TestHNSWIndex_MismatchedIDsAndVectors(t *testing.T) {
	idx := newTestHNSW(t, 4)

	err := idx.Add(context.Background(), []string{"a", "b"}, [][]float32{{1, 0, 0, 0}})
	assert.Error(t, err)
}

func TestHNSWIndex_EmptySearch(t *testing.T) {
	idx := newTestHNSW(t, 4)

	results, err := idx.Search(context.Background(), []float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHNSWIndex_AddEmpty(t *testing.T) {
	idx := newTestHNSW(t, 4)
	assert.NoError(t, idx.Add(context.Background(), nil, nil))
	assert.Equal(t, 0, idx.Count())
}

func TestHNSWIndex_DeleteNonExistent(t *testing.T) {
	idx := newTestHNSW(t, 4)
	assert.NoError(t, idx.Delete(context.Background(), []string{"ghost"}))
}

func TestHNSWIndex_AllIDs(t *testing.T) {
	idx := newTestHNSW(t, 4)

	require.NoError(t, idx.Add(context.Background(), []string{"a", "b", "c"}, [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
	}))
	require.NoError(t, idx.Delete(context.Background(), []string{"b"}))

	assert.ElementsMatch(t, []string{"a", "c"}, idx.AllIDs())
}

func TestHNSWIndex_OperationsAfterClose(t *testing.T) {
	idx, err := NewHNSWIndex(DefaultVectorIndexConfig(4))
	require.NoError(t, err)

	require.NoError(t, idx.Close())
	require.NoError(t, idx.Close(), "close is idempotent")

	assert.Error(t, idx.Add(context.Background(), []string{"a"}, [][]float32{{1, 0, 0, 0}}))
	_, err = idx.Search(context.Background(), []float32{1, 0, 0, 0}, 1)
	assert.Error(t, err)
	assert.Equal(t, 0, idx.Count())
	assert.False(t, idx.Contains("a"))
	assert.Nil(t, idx.AllIDs())
}

func TestHNSWIndex_L2Metric(t *testing.T) {
	cfg := DefaultVectorIndexConfig(2)
	cfg.Metric = "l2"
	idx, err := NewHNSWIndex(cfg)
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	require.NoError(t, idx.Add(context.Background(), []string{"near", "far"}, [][]float32{
		{1, 1},
		{10, 10},
	}))

	results, err := idx.Search(context.Background(), []float32{1, 1}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "near", results[0].ChunkID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestHNSWIndex_UnknownMetric(t *testing.T) {
	cfg := DefaultVectorIndexConfig(2)
	cfg.Metric = "manhattan"
	_, err := NewHNSWIndex(cfg)
	assert.Error(t, err)
}

func TestHNSWIndex_ConcurrentAddAndSearch(t *testing.T) {
	idx := newTestHNSW(t, 4)

	require.NoError(t, idx.Add(context.Background(), []string{"seed"}, [][]float32{{1, 0, 0, 0}}))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				id := fmt.Sprintf("w%d-%d", n, j)
				_ = idx.Add(context.Background(), []string{id}, [][]float32{{float32(n), float32(j), 1, 0}})
			}
		}(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, err := idx.Search(context.Background(), []float32{1, 0, 0, 0}, 3)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
}

func TestReadHNSWIndexDimensions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.hnsw")

	// Missing metadata means a fresh start, not an error
	dims, err := ReadHNSWIndexDimensions(path)
	require.NoError(t, err)
	assert.Equal(t, 0, dims)

	idx, err := NewHNSWIndex(DefaultVectorIndexConfig(8))
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()
	require.NoError(t, idx.Add(context.Background(), []string{"a"}, [][]float32{{1, 0, 0, 0, 0, 0, 0, 0}}))
	require.NoError(t, idx.Save(path))

	dims, err = ReadHNSWIndexDimensions(path)
	require.NoError(t, err)
	assert.Equal(t, 8, dims)
}

func TestNormalizeVectorInPlace(t *testing.T) {
	v := []float32{3, 4}
	normalizeVectorInPlace(v)

	length := math.Sqrt(float64(v[0]*v[0] + v[1]*v[1]))
	assert.InDelta(t, 1.0, length, 1e-6)
	assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(v[1]), 1e-6)

	// Zero vectors stay untouched instead of dividing by zero
	zero := []float32{0, 0}
	normalizeVectorInPlace(zero)
	assert.Equal(t, []float32{0, 0}, zero)
}

func TestDistanceToScore(t *testing.T) {
	// Cosine: identical vectors score 1, opposite vectors 0
	assert.InDelta(t, 1.0, float64(distanceToScore(0, "cosine")), 1e-6)
	assert.InDelta(t, 0.5, float64(distanceToScore(1, "cosine")), 1e-6)
	assert.InDelta(t, 0.0, float64(distanceToScore(2, "cosine")), 1e-6)

	// L2: zero distance scores 1, growing distance decays toward 0
	assert.InDelta(t, 1.0, float64(distanceToScore(0, "l2")), 1e-6)
	assert.InDelta(t, 0.5, float64(distanceToScore(1, "l2")), 1e-6)
}
