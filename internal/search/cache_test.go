package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheKey_Deterministic(t *testing.T) {
	// Given: identical inputs
	opts := Options{}.normalize()

	// Then: the key is stable across calls
	a := cacheKey("repo-a", "b1", "how does parsing work", opts)
	b := cacheKey("repo-a", "b1", "how does parsing work", opts)
	assert.Equal(t, a, b)
}

func TestCacheKey_SensitiveToEveryInput(t *testing.T) {
	base := Options{}.normalize()
	key := cacheKey("repo-a", "b1", "question", base)

	t.Run("repository", func(t *testing.T) {
		assert.NotEqual(t, key, cacheKey("repo-b", "b1", "question", base))
	})

	t.Run("build", func(t *testing.T) {
		assert.NotEqual(t, key, cacheKey("repo-a", "b2", "question", base))
	})

	t.Run("question", func(t *testing.T) {
		assert.NotEqual(t, key, cacheKey("repo-a", "b1", "other question", base))
	})

	t.Run("topK", func(t *testing.T) {
		opts := base
		opts.VectorTopK = 25
		assert.NotEqual(t, key, cacheKey("repo-a", "b1", "question", opts))
	})

	t.Run("budget", func(t *testing.T) {
		opts := base
		opts.ContextBudget = 128
		assert.NotEqual(t, key, cacheKey("repo-a", "b1", "question", opts))
	})

	t.Run("budget unit", func(t *testing.T) {
		opts := base
		opts.BudgetUnit = BudgetChars
		assert.NotEqual(t, key, cacheKey("repo-a", "b1", "question", opts))
	})

	t.Run("weights", func(t *testing.T) {
		opts := base
		opts.Weights = &Weights{Vector: 0.5, Lexical: 1.0}
		assert.NotEqual(t, key, cacheKey("repo-a", "b1", "question", opts))
	})

	t.Run("dedup threshold", func(t *testing.T) {
		opts := base
		opts.DedupThreshold = 0.8
		assert.NotEqual(t, key, cacheKey("repo-a", "b1", "question", opts))
	})
}

func TestResultCache_HitReturnsFlaggedCopy(t *testing.T) {
	// Given: a stored context not flagged as cached
	cache, err := newResultCache(4)
	require.NoError(t, err)

	original := &RetrievalContext{RepositoryID: "repo-a", BuildID: "b1"}
	cache.put("k", original)

	// When: reading it back twice
	first, ok := cache.get("k")
	require.True(t, ok)
	second, ok := cache.get("k")
	require.True(t, ok)

	// Then: hits are flagged copies and the stored entry stays unflagged
	assert.True(t, first.FromCache)
	assert.True(t, second.FromCache)
	assert.False(t, original.FromCache)
	assert.NotSame(t, original, first)
	assert.NotSame(t, first, second)
}

func TestResultCache_MissAndPurge(t *testing.T) {
	cache, err := newResultCache(4)
	require.NoError(t, err)

	// Given: nothing stored under the key
	_, ok := cache.get("missing")
	assert.False(t, ok)

	// When: an entry is stored and the cache purged
	cache.put("k", &RetrievalContext{})
	cache.purge()

	// Then: the entry is gone
	_, ok = cache.get("k")
	assert.False(t, ok)
}

func TestResultCache_EvictsBeyondCapacity(t *testing.T) {
	// Given: a two-entry cache filled with three entries
	cache, err := newResultCache(2)
	require.NoError(t, err)
	cache.put("a", &RetrievalContext{})
	cache.put("b", &RetrievalContext{})
	cache.put("c", &RetrievalContext{})

	// Then: the least recently used entry was evicted
	_, ok := cache.get("a")
	assert.False(t, ok)
	_, ok = cache.get("c")
	assert.True(t, ok)
}
