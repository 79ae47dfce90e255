// Package telemetry records retrieval events for local inspection.
// Events feed in-memory rollups (latency percentiles, error and
// zero-result rates) and an on-disk query log. Nothing leaves the
// machine.
package telemetry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/repoqa/repoqa/internal/search"
)

// Defaults for the collector.
const (
	// DefaultSampleCapacity bounds the latency sample ring used for
	// percentile estimates.
	DefaultSampleCapacity = 1024

	// DefaultFlushInterval is how often buffered events are written to
	// the query log. Zero disables auto-flush.
	DefaultFlushInterval = 30 * time.Second

	// DefaultBufferCapacity bounds the pending-event buffer between
	// flushes. When full, the oldest events are dropped.
	DefaultBufferCapacity = 512
)

// Config parameterizes the collector. Zero fields take defaults.
type Config struct {
	SampleCapacity int
	FlushInterval  time.Duration
	BufferCapacity int
}

func (c Config) normalize() Config {
	if c.SampleCapacity <= 0 {
		c.SampleCapacity = DefaultSampleCapacity
	}
	if c.BufferCapacity <= 0 {
		c.BufferCapacity = DefaultBufferCapacity
	}
	return c
}

// RepositoryStats is the per-repository slice of the rollups.
type RepositoryStats struct {
	Queries int64 `json:"queries"`
	Failed  int64 `json:"failed"`
}

// Snapshot is an immutable view of the rollups since collector start.
type Snapshot struct {
	Since        time.Time `json:"since"`
	TotalQueries int64     `json:"total_queries"`
	Failed       int64     `json:"failed"`
	Degraded     int64     `json:"degraded"`
	ZeroResult   int64     `json:"zero_result"`
	CacheHits    int64     `json:"cache_hits"`

	// Latency percentiles over the most recent samples. Zero when no
	// successful query has been recorded yet.
	P50 time.Duration `json:"p50_ns"`
	P95 time.Duration `json:"p95_ns"`

	Repositories map[string]RepositoryStats `json:"repositories"`
}

// ErrorRate returns failed queries as a fraction of the total.
func (s *Snapshot) ErrorRate() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.Failed) / float64(s.TotalQueries)
}

// ZeroResultRate returns empty-context queries as a fraction of the total.
func (s *Snapshot) ZeroResultRate() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResult) / float64(s.TotalQueries)
}

// ring is a fixed-capacity overwrite-oldest buffer.
type ring[T any] struct {
	items []T
	next  int
	full  bool
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{items: make([]T, 0, capacity)}
}

func (r *ring[T]) add(item T) {
	if r.full {
		r.items[r.next] = item
		r.next = (r.next + 1) % len(r.items)
		return
	}
	r.items = append(r.items, item)
	if len(r.items) == cap(r.items) {
		r.full = true
	}
}

// values returns the buffered items, unordered.
func (r *ring[T]) values() []T {
	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}

func (r *ring[T]) len() int { return len(r.items) }

// Collector aggregates retrieval events and feeds them to a query log.
// It implements search.Recorder; recording never blocks retrieval.
type Collector struct {
	mu sync.Mutex

	total      int64
	failed     int64
	degraded   int64
	zeroResult int64
	cacheHits  int64
	perRepo    map[string]*RepositoryStats
	samples    *ring[time.Duration]
	pending    *ring[*search.RetrievalEvent]
	started    time.Time

	log    QueryLog
	cfg    Config
	logger *slog.Logger

	ticker *time.Ticker
	stopCh chan struct{}
	closed bool
}

var _ search.Recorder = (*Collector)(nil)

// NewCollector creates a collector. log may be nil, in which case events
// are rolled up in memory only.
func NewCollector(log QueryLog, cfg Config) *Collector {
	cfg = cfg.normalize()
	c := &Collector{
		perRepo: make(map[string]*RepositoryStats),
		samples: newRing[time.Duration](cfg.SampleCapacity),
		pending: newRing[*search.RetrievalEvent](cfg.BufferCapacity),
		started: time.Now(),
		log:     log,
		cfg:     cfg,
		logger:  slog.Default().With("component", "telemetry"),
		stopCh:  make(chan struct{}),
	}
	if cfg.FlushInterval > 0 && log != nil {
		c.ticker = time.NewTicker(cfg.FlushInterval)
		go c.flushLoop()
	}
	return c
}

func (c *Collector) flushLoop() {
	for {
		select {
		case <-c.ticker.C:
			if err := c.Flush(context.Background()); err != nil {
				c.logger.Warn("query_log_flush_failed", slog.String("error", err.Error()))
			}
		case <-c.stopCh:
			return
		}
	}
}

// RecordRetrieval folds one event into the rollups and buffers it for
// the query log.
func (c *Collector) RecordRetrieval(_ context.Context, event *search.RetrievalEvent) {
	if event == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	c.total++
	stats := c.perRepo[event.RepositoryID]
	if stats == nil {
		stats = &RepositoryStats{}
		c.perRepo[event.RepositoryID] = stats
	}
	stats.Queries++

	if event.Failed {
		c.failed++
		stats.Failed++
	} else {
		c.samples.add(event.Duration)
		if event.ChunkCount == 0 {
			c.zeroResult++
		}
	}
	if event.Degraded {
		c.degraded++
	}
	if event.FromCache {
		c.cacheHits++
	}

	if c.log != nil {
		c.pending.add(event)
	}
}

// Snapshot returns the current rollups.
func (c *Collector) Snapshot() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	repos := make(map[string]RepositoryStats, len(c.perRepo))
	for id, stats := range c.perRepo {
		repos[id] = *stats
	}

	snap := &Snapshot{
		Since:        c.started,
		TotalQueries: c.total,
		Failed:       c.failed,
		Degraded:     c.degraded,
		ZeroResult:   c.zeroResult,
		CacheHits:    c.cacheHits,
		Repositories: repos,
	}
	if c.samples.len() > 0 {
		sorted := c.samples.values()
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		snap.P50 = percentile(sorted, 0.50)
		snap.P95 = percentile(sorted, 0.95)
	}
	return snap
}

// percentile picks from a sorted sample set using the nearest-rank rule.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(p*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

// Flush writes buffered events to the query log.
func (c *Collector) Flush(ctx context.Context) error {
	if c.log == nil {
		return nil
	}

	c.mu.Lock()
	events := c.pending.values()
	c.pending = newRing[*search.RetrievalEvent](c.cfg.BufferCapacity)
	c.mu.Unlock()

	if len(events) == 0 {
		return nil
	}
	return c.log.Append(ctx, events)
}

// Close flushes and stops the auto-flush loop. The query log itself is
// owned by the caller.
func (c *Collector) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.ticker != nil {
		c.ticker.Stop()
		close(c.stopCh)
	}
	return c.Flush(context.Background())
}
