package search

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of assembled contexts the engine keeps in
// its result cache.
const DefaultCacheSize = 256

// resultCache is an LRU of assembled contexts. Keys include the snapshot's
// build ID, so a reindex stops hitting stale entries without explicit
// invalidation.
type resultCache struct {
	entries *lru.Cache[string, *RetrievalContext]
}

// newResultCache creates a cache bounded to size entries.
func newResultCache(size int) (*resultCache, error) {
	entries, err := lru.New[string, *RetrievalContext](size)
	if err != nil {
		return nil, fmt.Errorf("create result cache: %w", err)
	}
	return &resultCache{entries: entries}, nil
}

// cacheKey builds the lookup key for one retrieval call from everything
// that shapes its result.
func cacheKey(repositoryID, buildID, question string, opts Options) string {
	w := DefaultWeights()
	if opts.Weights != nil {
		w = *opts.Weights
	}

	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%d|%d|%d|%s|%d|%g|%g|%g|%d",
		repositoryID, buildID, question,
		opts.VectorTopK, opts.LexicalTopK, opts.ContextBudget, opts.BudgetUnit,
		opts.FusionK, w.Vector, w.Lexical, opts.DedupThreshold, opts.ShingleSize)
	return hex.EncodeToString(h.Sum(nil))
}

// get returns a copy of the cached context flagged as a cache hit. The chunk
// slice is shared with the stored entry, so callers must treat results as
// read-only.
func (c *resultCache) get(key string) (*RetrievalContext, bool) {
	cached, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}

	hit := *cached
	hit.FromCache = true
	return &hit, true
}

// put stores an assembled context.
func (c *resultCache) put(key string, rc *RetrievalContext) {
	c.entries.Add(key, rc)
}

// purge drops all entries.
func (c *resultCache) purge() {
	c.entries.Purge()
}
