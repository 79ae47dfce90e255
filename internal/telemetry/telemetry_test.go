package telemetry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repoqa/repoqa/internal/search"
)

func event(repo string, d time.Duration, chunks int) *search.RetrievalEvent {
	return &search.RetrievalEvent{
		At:           time.Now(),
		RepositoryID: repo,
		Question:     "how does auth work?",
		BuildID:      "build-1",
		Duration:     d,
		ChunkCount:   chunks,
		Considered:   chunks * 2,
	}
}

func TestCollector_Rollups(t *testing.T) {
	c := NewCollector(nil, Config{})
	defer c.Close()

	ctx := context.Background()
	c.RecordRetrieval(ctx, event("repo-a", 10*time.Millisecond, 5))
	c.RecordRetrieval(ctx, event("repo-a", 20*time.Millisecond, 0))
	c.RecordRetrieval(ctx, event("repo-b", 30*time.Millisecond, 3))

	failed := event("repo-b", 5*time.Millisecond, 0)
	failed.Failed = true
	failed.Error = "both retrieval branches failed"
	c.RecordRetrieval(ctx, failed)

	degraded := event("repo-a", 15*time.Millisecond, 2)
	degraded.Degraded = true
	degraded.DegradedReason = search.DegradedVector
	c.RecordRetrieval(ctx, degraded)

	cached := event("repo-a", time.Millisecond, 5)
	cached.FromCache = true
	c.RecordRetrieval(ctx, cached)

	snap := c.Snapshot()
	assert.Equal(t, int64(6), snap.TotalQueries)
	assert.Equal(t, int64(1), snap.Failed)
	assert.Equal(t, int64(1), snap.Degraded)
	assert.Equal(t, int64(1), snap.ZeroResult) // failed queries do not count
	assert.Equal(t, int64(1), snap.CacheHits)

	assert.InDelta(t, 1.0/6.0, snap.ErrorRate(), 1e-9)
	assert.InDelta(t, 1.0/6.0, snap.ZeroResultRate(), 1e-9)

	assert.Equal(t, int64(4), snap.Repositories["repo-a"].Queries)
	assert.Equal(t, int64(2), snap.Repositories["repo-b"].Queries)
	assert.Equal(t, int64(1), snap.Repositories["repo-b"].Failed)

	assert.Greater(t, snap.P50, time.Duration(0))
	assert.GreaterOrEqual(t, snap.P95, snap.P50)
}

func TestCollector_EmptySnapshot(t *testing.T) {
	c := NewCollector(nil, Config{})
	defer c.Close()

	snap := c.Snapshot()
	assert.Equal(t, int64(0), snap.TotalQueries)
	assert.Equal(t, float64(0), snap.ErrorRate())
	assert.Equal(t, float64(0), snap.ZeroResultRate())
	assert.Equal(t, time.Duration(0), snap.P50)
}

func TestCollector_FlushWritesQueryLog(t *testing.T) {
	log, err := OpenQueryLog(filepath.Join(t.TempDir(), "telemetry.db"))
	require.NoError(t, err)
	defer log.Close()

	c := NewCollector(log, Config{}) // no auto-flush interval in tests
	ctx := context.Background()
	c.RecordRetrieval(ctx, event("repo-a", 12*time.Millisecond, 4))
	c.RecordRetrieval(ctx, event("repo-a", 8*time.Millisecond, 2))
	require.NoError(t, c.Flush(ctx))

	events, err := log.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	// Flushing again writes nothing new.
	require.NoError(t, c.Flush(ctx))
	events, err = log.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	require.NoError(t, c.Close())
}

func TestCollector_CloseFlushesPending(t *testing.T) {
	log, err := OpenQueryLog(filepath.Join(t.TempDir(), "telemetry.db"))
	require.NoError(t, err)
	defer log.Close()

	c := NewCollector(log, Config{})
	c.RecordRetrieval(context.Background(), event("repo-a", time.Millisecond, 1))
	require.NoError(t, c.Close())

	events, err := log.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	// Recording after close is a no-op.
	c.RecordRetrieval(context.Background(), event("repo-a", time.Millisecond, 1))
	assert.Equal(t, int64(1), c.Snapshot().TotalQueries)
}

func TestPercentile(t *testing.T) {
	sorted := []time.Duration{
		1 * time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond,
		4 * time.Millisecond, 5 * time.Millisecond, 6 * time.Millisecond,
		7 * time.Millisecond, 8 * time.Millisecond, 9 * time.Millisecond,
		10 * time.Millisecond,
	}
	assert.Equal(t, 5*time.Millisecond, percentile(sorted, 0.50))
	assert.Equal(t, 10*time.Millisecond, percentile(sorted, 0.95))
	assert.Equal(t, time.Duration(0), percentile(nil, 0.50))
	assert.Equal(t, 7*time.Millisecond, percentile(sorted[:7], 1.0))
}

func TestRing_Overwrite(t *testing.T) {
	r := newRing[int](3)
	for i := 1; i <= 5; i++ {
		r.add(i)
	}
	vals := r.values()
	assert.Len(t, vals, 3)
	assert.ElementsMatch(t, []int{3, 4, 5}, vals)
}
