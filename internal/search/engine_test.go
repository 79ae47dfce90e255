package search

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/repoqa/repoqa/internal/embed"
	qaerrors "github.com/repoqa/repoqa/internal/errors"
	"github.com/repoqa/repoqa/internal/registry"
	"github.com/repoqa/repoqa/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test Doubles ---

type stubEmbedder struct {
	vec []float32
	err error
}

var _ embed.Embedder = (*stubEmbedder)(nil)

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.vec, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v, err := s.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *stubEmbedder) Dimensions() int                    { return len(s.vec) }
func (s *stubEmbedder) ModelName() string                  { return "stub" }
func (s *stubEmbedder) Available(ctx context.Context) bool { return true }
func (s *stubEmbedder) Close() error                       { return nil }

type failingVector struct{}

var _ store.VectorIndex = (*failingVector)(nil)

func (f *failingVector) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	return nil
}

func (f *failingVector) Search(ctx context.Context, query []float32, k int) ([]*store.VectorResult, error) {
	return nil, errors.New("vector backend offline")
}

func (f *failingVector) Delete(ctx context.Context, ids []string) error { return nil }
func (f *failingVector) AllIDs() []string                               { return nil }
func (f *failingVector) Contains(id string) bool                       { return false }
func (f *failingVector) Count() int                                    { return 0 }
func (f *failingVector) Save(path string) error                        { return nil }
func (f *failingVector) Load(path string) error                        { return nil }
func (f *failingVector) Close() error                                  { return nil }

type failingLexical struct{}

var _ store.LexicalIndex = (*failingLexical)(nil)

func (f *failingLexical) Search(ctx context.Context, query string, limit int) ([]*store.LexicalResult, error) {
	return nil, errors.New("lexical index unreadable")
}

func (f *failingLexical) AllIDs() ([]string, error) { return nil, nil }
func (f *failingLexical) Stats() *store.IndexStats  { return &store.IndexStats{} }
func (f *failingLexical) Close() error              { return nil }

type captureRecorder struct {
	mu     sync.Mutex
	events []*RetrievalEvent
}

func (c *captureRecorder) RecordRetrieval(ctx context.Context, ev *RetrievalEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureRecorder) all() []*RetrievalEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*RetrievalEvent(nil), c.events...)
}

// --- Harness ---

func newEngineRegistry(t *testing.T) *registry.Registry {
	t.Helper()

	meta, err := store.NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	reg := registry.New(meta, registry.Options{
		DataDir:        t.TempDir(),
		LexicalBackend: "memory",
		BM25:           store.DefaultBM25Config(),
		Vector: store.VectorBackendConfig{
			Backend: "hnsw",
			Index:   store.DefaultVectorIndexConfig(4),
		},
	})
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func searchChunk(repoID, id, content string, tokens int) *store.Chunk {
	return &store.Chunk{
		ID:           id,
		RepositoryID: repoID,
		FilePath:     id[:len(id)-len("#0@b1")],
		Content:      content,
		TokenCount:   tokens,
	}
}

// installCorpus builds a memory BM25 index and an HNSW index over chunks and
// installs the snapshot.
func installCorpus(t *testing.T, reg *registry.Registry, repoID, buildID string, chunks []*store.Chunk, vectors map[string][]float32) {
	t.Helper()

	lex, err := store.NewMemoryBM25Index(repoID, chunks, store.DefaultBM25Config())
	require.NoError(t, err)

	vec, err := store.NewHNSWIndex(store.DefaultVectorIndexConfig(4))
	require.NoError(t, err)

	ids := make([]string, 0, len(chunks))
	vecs := make([][]float32, 0, len(chunks))
	for _, c := range chunks {
		ids = append(ids, c.ID)
		vecs = append(vecs, vectors[c.ID])
	}
	require.NoError(t, vec.Add(context.Background(), ids, vecs))

	require.NoError(t, reg.Install(registry.NewSnapshot(repoID, buildID, chunks, lex, vec)))
}

// installWith installs a snapshot over caller-supplied index implementations.
func installWith(t *testing.T, reg *registry.Registry, repoID, buildID string, chunks []*store.Chunk, lex store.LexicalIndex, vec store.VectorIndex) {
	t.Helper()
	require.NoError(t, reg.Install(registry.NewSnapshot(repoID, buildID, chunks, lex, vec)))
}

// hybridCorpus is three chunks with disjoint vocabulary and orthogonal
// vectors, so each query can target a specific chunk through either branch.
func hybridCorpus(repoID string) ([]*store.Chunk, map[string][]float32) {
	chunks := []*store.Chunk{
		searchChunk(repoID, "a.go#0@b1", "retrieval engine ranks chunks", 10),
		searchChunk(repoID, "b.go#0@b1", "vector search embeddings distance", 10),
		searchChunk(repoID, "c.go#0@b1", "lexical scoring statistics idf", 10),
	}
	vectors := map[string][]float32{
		"a.go#0@b1": {1, 0, 0, 0},
		"b.go#0@b1": {0, 1, 0, 0},
		"c.go#0@b1": {0, 0, 1, 0},
	}
	return chunks, vectors
}

// engineCorpus is five chunks all matching the query term "engine" with
// otherwise disjoint vocabulary.
func engineCorpus(repoID string) ([]*store.Chunk, map[string][]float32) {
	contents := []string{
		"engine alpha module handles parsing",
		"engine bravo module handles caching",
		"engine charlie module handles routing",
		"engine delta module handles storage",
		"engine echo module handles logging",
	}
	chunks := make([]*store.Chunk, len(contents))
	vectors := make(map[string][]float32, len(contents))
	for i, content := range contents {
		id := string(rune('a'+i)) + ".go#0@b1"
		chunks[i] = searchChunk(repoID, id, content, 10)
		vectors[id] = []float32{float32(i), 1, 0, 0}
	}
	return chunks, vectors
}

func newTestEngine(t *testing.T, reg *registry.Registry, embedder embed.Embedder, defaults Options, opts ...EngineOption) *Engine {
	t.Helper()
	eng, err := NewEngine(reg, embedder, defaults, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

// --- Construction ---

func TestNewEngine_NilDependencies(t *testing.T) {
	reg := newEngineRegistry(t)

	_, err := NewEngine(nil, &stubEmbedder{vec: []float32{1, 0, 0, 0}}, Options{})
	require.ErrorIs(t, err, ErrNilDependency)

	_, err = NewEngine(reg, nil, Options{})
	require.ErrorIs(t, err, ErrNilDependency)
}

// --- Validation and Readiness ---

func TestEngine_Retrieve_BlankQuestion(t *testing.T) {
	// Given: an engine over an installed corpus
	reg := newEngineRegistry(t)
	chunks, vectors := hybridCorpus("repo-a")
	installCorpus(t, reg, "repo-a", "b1", chunks, vectors)
	eng := newTestEngine(t, reg, &stubEmbedder{vec: []float32{1, 0, 0, 0}}, Options{})

	// When: the question is blank or whitespace
	for _, q := range []string{"", "   ", "\n\t"} {
		_, err := eng.Retrieve(context.Background(), "repo-a", q, Options{})

		// Then: the call is rejected as invalid input
		require.Error(t, err)
		assert.Equal(t, qaerrors.ErrCodeInvalidInput, qaerrors.GetCode(err))
	}
}

func TestEngine_Retrieve_IndexNotReady(t *testing.T) {
	// Given: an engine whose registry has nothing installed
	reg := newEngineRegistry(t)
	eng := newTestEngine(t, reg, &stubEmbedder{vec: []float32{1, 0, 0, 0}}, Options{})

	// When: retrieving against an unknown repository
	_, err := eng.Retrieve(context.Background(), "repo-a", "how does parsing work", Options{})

	// Then: the not-ready error surfaces unwrapped
	require.ErrorIs(t, err, qaerrors.ErrIndexNotReady)
}

// --- Hybrid Flow ---

func TestEngine_Retrieve_SumsBothBranchContributions(t *testing.T) {
	// Given: a corpus where one chunk holds the exact query terms and is
	// also the nearest vector
	reg := newEngineRegistry(t)
	chunks, vectors := hybridCorpus("repo-a")
	installCorpus(t, reg, "repo-a", "b1", chunks, vectors)
	eng := newTestEngine(t, reg, &stubEmbedder{vec: []float32{1, 0, 0, 0}}, Options{})

	// When: retrieving with a question matching chunk a in both branches
	rc, err := eng.Retrieve(context.Background(), "repo-a", "retrieval engine ranks chunks", Options{})
	require.NoError(t, err)

	// Then: chunk a leads with rank 1 in both lists and a fused score that
	// sums both rank-1 terms
	require.NotEmpty(t, rc.Chunks)
	top := rc.Chunks[0]
	assert.Equal(t, "a.go#0@b1", top.Chunk.ID)
	assert.Equal(t, 1, top.VectorRank)
	assert.Equal(t, 1, top.LexicalRank)
	assert.InDelta(t, 2.0/61.0, top.Score, 1e-9)
	assert.Contains(t, top.MatchedTerms, "engine")

	// Then: the context is complete and not degraded
	assert.False(t, rc.Degraded)
	assert.Empty(t, rc.DegradedReason)
	assert.Equal(t, "b1", rc.BuildID)
	assert.Equal(t, 3, rc.Stats.Considered)
	assert.Equal(t, 3, rc.Stats.Included)
	assert.False(t, rc.FromCache)
	assert.Positive(t, rc.Duration)
}

func TestEngine_Retrieve_NeverReturnsUnknownChunksOrExceedsTopK(t *testing.T) {
	// Given: five chunks sharing the term "engine"
	reg := newEngineRegistry(t)
	chunks, vectors := engineCorpus("repo-a")
	installCorpus(t, reg, "repo-a", "b1", chunks, vectors)

	known := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		known[c.ID] = true
	}

	eng := newTestEngine(t, reg, &stubEmbedder{vec: []float32{2, 1, 0, 0}}, Options{})

	// When: both branches are capped below the corpus size
	rc, err := eng.Retrieve(context.Background(), "repo-a", "engine module", Options{
		VectorTopK:  2,
		LexicalTopK: 2,
	})
	require.NoError(t, err)

	// Then: at most topK candidates per branch reached fusion and every
	// returned chunk is from the corpus
	assert.LessOrEqual(t, rc.Stats.Considered, 4)
	assert.LessOrEqual(t, len(rc.Chunks), 4)
	for _, c := range rc.Chunks {
		assert.True(t, known[c.Chunk.ID], "unknown chunk %s", c.Chunk.ID)
		assert.LessOrEqual(t, c.VectorRank, 2)
		assert.LessOrEqual(t, c.LexicalRank, 2)
	}
}

func TestEngine_Retrieve_EngineDefaultsFillCallOptions(t *testing.T) {
	// Given: engine defaults capping lexical results at one
	reg := newEngineRegistry(t)
	chunks, vectors := engineCorpus("repo-a")
	installCorpus(t, reg, "repo-a", "b1", chunks, vectors)
	eng := newTestEngine(t, reg, &stubEmbedder{err: errors.New("embedder down")}, Options{LexicalTopK: 1})

	// When: calling with zero options, vector branch unavailable
	rc, err := eng.Retrieve(context.Background(), "repo-a", "engine", Options{})
	require.NoError(t, err)

	// Then: the engine default bounded the lexical branch
	assert.Len(t, rc.Chunks, 1)
}

// --- Degraded Paths ---

func TestEngine_Retrieve_DegradesWhenEmbedderFails(t *testing.T) {
	// Given: an embedder that always errors
	reg := newEngineRegistry(t)
	chunks, vectors := hybridCorpus("repo-a")
	installCorpus(t, reg, "repo-a", "b1", chunks, vectors)
	eng := newTestEngine(t, reg, &stubEmbedder{err: errors.New("model not loaded")}, Options{})

	// When: retrieving a question that matches chunk c lexically
	rc, err := eng.Retrieve(context.Background(), "repo-a", "lexical scoring statistics", Options{})

	// Then: the call succeeds degraded, built from the lexical branch alone
	require.NoError(t, err)
	assert.True(t, rc.Degraded)
	assert.Equal(t, DegradedVector, rc.DegradedReason)
	require.Len(t, rc.Chunks, 1)
	assert.Equal(t, "c.go#0@b1", rc.Chunks[0].Chunk.ID)
	assert.Zero(t, rc.Chunks[0].VectorRank)

	// When: asking the same question again
	again, err := eng.Retrieve(context.Background(), "repo-a", "lexical scoring statistics", Options{})
	require.NoError(t, err)

	// Then: degraded results were not cached
	assert.False(t, again.FromCache)
}

func TestEngine_Retrieve_DegradesWhenVectorBackendFails(t *testing.T) {
	// Given: a healthy lexical index over five matching chunks and a vector
	// backend that errors on every search
	reg := newEngineRegistry(t)
	chunks, _ := engineCorpus("repo-a")
	lex, err := store.NewMemoryBM25Index("repo-a", chunks, store.DefaultBM25Config())
	require.NoError(t, err)
	installWith(t, reg, "repo-a", "b1", chunks, lex, &failingVector{})

	eng := newTestEngine(t, reg, &stubEmbedder{vec: []float32{1, 0, 0, 0}}, Options{})

	// When: retrieving
	rc, err := eng.Retrieve(context.Background(), "repo-a", "engine module", Options{})

	// Then: a degraded context is built from the five lexical results
	require.NoError(t, err)
	assert.True(t, rc.Degraded)
	assert.Equal(t, DegradedVector, rc.DegradedReason)
	require.Len(t, rc.Chunks, 5)
	for i, c := range rc.Chunks {
		assert.Equal(t, i+1, c.LexicalRank)
		assert.Zero(t, c.VectorRank)
	}
}

func TestEngine_Retrieve_DegradesWhenLexicalFails(t *testing.T) {
	// Given: a healthy vector index and a lexical index that errors
	reg := newEngineRegistry(t)
	chunks, vectors := hybridCorpus("repo-a")

	vec, err := store.NewHNSWIndex(store.DefaultVectorIndexConfig(4))
	require.NoError(t, err)
	ids := make([]string, 0, len(chunks))
	vecs := make([][]float32, 0, len(chunks))
	for _, c := range chunks {
		ids = append(ids, c.ID)
		vecs = append(vecs, vectors[c.ID])
	}
	require.NoError(t, vec.Add(context.Background(), ids, vecs))
	installWith(t, reg, "repo-a", "b1", chunks, &failingLexical{}, vec)

	eng := newTestEngine(t, reg, &stubEmbedder{vec: []float32{0, 1, 0, 0}}, Options{})

	// When: retrieving
	rc, err := eng.Retrieve(context.Background(), "repo-a", "vector search embeddings", Options{})

	// Then: a degraded context comes from the vector branch alone
	require.NoError(t, err)
	assert.True(t, rc.Degraded)
	assert.Equal(t, DegradedLexical, rc.DegradedReason)
	require.NotEmpty(t, rc.Chunks)
	assert.Equal(t, "b.go#0@b1", rc.Chunks[0].Chunk.ID)
	assert.Zero(t, rc.Chunks[0].LexicalRank)
}

func TestEngine_Retrieve_FailsWhenBothBranchesFail(t *testing.T) {
	// Given: both indexes error
	reg := newEngineRegistry(t)
	chunks, _ := hybridCorpus("repo-a")
	installWith(t, reg, "repo-a", "b1", chunks, &failingLexical{}, &failingVector{})

	eng := newTestEngine(t, reg, &stubEmbedder{vec: []float32{1, 0, 0, 0}}, Options{})

	// When: retrieving
	_, err := eng.Retrieve(context.Background(), "repo-a", "anything at all", Options{})

	// Then: the call fails with the combined retrieval error
	require.ErrorIs(t, err, qaerrors.ErrRetrievalFailed)
}

func TestEngine_Retrieve_EmptyContextIsValid(t *testing.T) {
	// Given: the vector branch is down and the question shares no terms
	// with the corpus
	reg := newEngineRegistry(t)
	chunks, vectors := hybridCorpus("repo-a")
	installCorpus(t, reg, "repo-a", "b1", chunks, vectors)
	eng := newTestEngine(t, reg, &stubEmbedder{err: errors.New("embedder down")}, Options{})

	// When: retrieving
	rc, err := eng.Retrieve(context.Background(), "repo-a", "zzzz qqqq wwww", Options{})

	// Then: an empty degraded context, not an error
	require.NoError(t, err)
	require.NotNil(t, rc.Chunks)
	assert.Empty(t, rc.Chunks)
	assert.True(t, rc.Degraded)
	assert.Zero(t, rc.Stats.Considered)
}

// --- Assembly Behavior Through the Engine ---

func TestEngine_Retrieve_DropsNearDuplicateAcrossBranches(t *testing.T) {
	// Given: two chunks that differ in a single word and one distinct
	// chunk, all matching the question
	reg := newEngineRegistry(t)
	chunks := []*store.Chunk{
		searchChunk("repo-a", "a.go#0@b1", baseContent, 30),
		searchChunk("repo-a", "b.go#0@b1", nearContent, 30),
		searchChunk("repo-a", "c.go#0@b1", farContent, 30),
	}
	vectors := map[string][]float32{
		"a.go#0@b1": {1, 0, 0, 0},
		"b.go#0@b1": {0.9, 0.1, 0, 0},
		"c.go#0@b1": {0, 0, 1, 0},
	}
	installCorpus(t, reg, "repo-a", "b1", chunks, vectors)
	eng := newTestEngine(t, reg, &stubEmbedder{vec: []float32{1, 0, 0, 0}}, Options{})

	// When: all three rank high in both branches
	rc, err := eng.Retrieve(context.Background(), "repo-a", "retrieval engine fuses rankings", Options{})
	require.NoError(t, err)

	// Then: only the higher-ranked of the near-duplicate pair is included
	ids := make([]string, len(rc.Chunks))
	for i, c := range rc.Chunks {
		ids[i] = c.Chunk.ID
	}
	assert.Contains(t, ids, "a.go#0@b1")
	assert.NotContains(t, ids, "b.go#0@b1")
	assert.Contains(t, ids, "c.go#0@b1")
	assert.Equal(t, 1, rc.Stats.DuplicatesDropped)
}

func TestEngine_Retrieve_BudgetSkipsOversizedChunk(t *testing.T) {
	// Given: four lexical matches ranked by term frequency, sized so the
	// budget fits ranks 1, 2 and 4 but not rank 3
	reg := newEngineRegistry(t)
	chunks := []*store.Chunk{
		searchChunk("repo-a", "f1.go#0@b1", "engine engine engine engine alpha bravo charlie", 40),
		searchChunk("repo-a", "f2.go#0@b1", "engine engine engine echo foxtrot golf hotel", 40),
		searchChunk("repo-a", "f3.go#0@b1", "engine engine juliet kilo lima mike november", 50),
		searchChunk("repo-a", "f4.go#0@b1", "engine oscar papa quebec romeo sierra tango", 20),
	}
	lex, err := store.NewMemoryBM25Index("repo-a", chunks, store.DefaultBM25Config())
	require.NoError(t, err)
	installWith(t, reg, "repo-a", "b1", chunks, lex, &failingVector{})

	eng := newTestEngine(t, reg, &stubEmbedder{vec: []float32{1, 0, 0, 0}}, Options{})

	// When: retrieving with a budget of 100 token-equivalents
	rc, err := eng.Retrieve(context.Background(), "repo-a", "engine", Options{ContextBudget: 100})
	require.NoError(t, err)

	// Then: rank 3 is skipped whole and rank 4 still fits
	ids := make([]string, len(rc.Chunks))
	for i, c := range rc.Chunks {
		ids[i] = c.Chunk.ID
	}
	assert.Equal(t, []string{"f1.go#0@b1", "f2.go#0@b1", "f4.go#0@b1"}, ids)
	assert.Equal(t, 1, rc.Stats.BudgetSkipped)
	assert.LessOrEqual(t, rc.TotalSize(), 100)
}

// --- Determinism, Cache and Cancellation ---

func TestEngine_Retrieve_Deterministic(t *testing.T) {
	// Given: an engine with caching disabled
	reg := newEngineRegistry(t)
	chunks, vectors := engineCorpus("repo-a")
	installCorpus(t, reg, "repo-a", "b1", chunks, vectors)
	eng := newTestEngine(t, reg, &stubEmbedder{vec: []float32{2, 1, 0, 0}}, Options{}, WithCacheSize(0))

	// When: running the same retrieval three times
	first, err := eng.Retrieve(context.Background(), "repo-a", "engine module handles", Options{})
	require.NoError(t, err)

	for range 2 {
		next, err := eng.Retrieve(context.Background(), "repo-a", "engine module handles", Options{})
		require.NoError(t, err)

		// Then: chunk order, scores and stats are identical
		require.Len(t, next.Chunks, len(first.Chunks))
		for i := range first.Chunks {
			assert.Equal(t, first.Chunks[i].Chunk.ID, next.Chunks[i].Chunk.ID)
			assert.Equal(t, first.Chunks[i].Score, next.Chunks[i].Score)
		}
		assert.Equal(t, first.Stats, next.Stats)
		assert.False(t, next.FromCache)
	}
}

func TestEngine_Retrieve_CachesFullResults(t *testing.T) {
	// Given: an engine with the default cache
	reg := newEngineRegistry(t)
	chunks, vectors := hybridCorpus("repo-a")
	installCorpus(t, reg, "repo-a", "b1", chunks, vectors)
	eng := newTestEngine(t, reg, &stubEmbedder{vec: []float32{1, 0, 0, 0}}, Options{})

	// When: asking the same question twice
	first, err := eng.Retrieve(context.Background(), "repo-a", "retrieval engine ranks chunks", Options{})
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := eng.Retrieve(context.Background(), "repo-a", "retrieval engine ranks chunks", Options{})
	require.NoError(t, err)

	// Then: the second answer is a cache hit with the same chunks
	assert.True(t, second.FromCache)
	require.Len(t, second.Chunks, len(first.Chunks))
	for i := range first.Chunks {
		assert.Equal(t, first.Chunks[i].Chunk.ID, second.Chunks[i].Chunk.ID)
	}

	// When: changing an option that shapes the result
	third, err := eng.Retrieve(context.Background(), "repo-a", "retrieval engine ranks chunks", Options{ContextBudget: 15})
	require.NoError(t, err)

	// Then: the cache is bypassed
	assert.False(t, third.FromCache)

	// When: the engine is closed and reused
	require.NoError(t, eng.Close())
	fourth, err := eng.Retrieve(context.Background(), "repo-a", "retrieval engine ranks chunks", Options{})
	require.NoError(t, err)

	// Then: the purged cache misses
	assert.False(t, fourth.FromCache)
}

func TestEngine_Retrieve_CancelledContext(t *testing.T) {
	// Given: a caller context cancelled before the call
	reg := newEngineRegistry(t)
	chunks, vectors := hybridCorpus("repo-a")
	installCorpus(t, reg, "repo-a", "b1", chunks, vectors)
	eng := newTestEngine(t, reg, &stubEmbedder{vec: []float32{1, 0, 0, 0}}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// When: retrieving
	_, err := eng.Retrieve(ctx, "repo-a", "retrieval engine ranks chunks", Options{})

	// Then: cancellation propagates instead of a degraded result
	require.ErrorIs(t, err, context.Canceled)
}

// --- Telemetry ---

func TestEngine_Retrieve_RecordsEveryCall(t *testing.T) {
	// Given: an engine wired to a capturing recorder
	reg := newEngineRegistry(t)
	chunks, vectors := hybridCorpus("repo-a")
	installCorpus(t, reg, "repo-a", "b1", chunks, vectors)

	rec := &captureRecorder{}
	eng := newTestEngine(t, reg, &stubEmbedder{vec: []float32{1, 0, 0, 0}}, Options{}, WithRecorder(rec))

	// When: a success, a cache hit, and a failure happen
	_, err := eng.Retrieve(context.Background(), "repo-a", "retrieval engine ranks chunks", Options{})
	require.NoError(t, err)
	_, err = eng.Retrieve(context.Background(), "repo-a", "retrieval engine ranks chunks", Options{})
	require.NoError(t, err)
	_, err = eng.Retrieve(context.Background(), "repo-missing", "anything", Options{})
	require.Error(t, err)

	// Then: three events capture the three outcomes in order
	events := rec.all()
	require.Len(t, events, 3)

	assert.Equal(t, "repo-a", events[0].RepositoryID)
	assert.Equal(t, "b1", events[0].BuildID)
	assert.Equal(t, 3, events[0].ChunkCount)
	assert.False(t, events[0].Failed)
	assert.False(t, events[0].FromCache)

	assert.True(t, events[1].FromCache)
	assert.False(t, events[1].Failed)

	assert.True(t, events[2].Failed)
	assert.Equal(t, "repo-missing", events[2].RepositoryID)
	assert.NotEmpty(t, events[2].Error)
}
