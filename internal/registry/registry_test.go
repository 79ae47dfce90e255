package registry

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qaerrors "github.com/repoqa/repoqa/internal/errors"
	"github.com/repoqa/repoqa/internal/store"
)

func regChunk(repoID, id, content string) *store.Chunk {
	return &store.Chunk{
		ID:           id,
		RepositoryID: repoID,
		FilePath:     "src/" + id + ".go",
		Content:      content,
		Language:     "go",
		StartLine:    1,
		EndLine:      5,
	}
}

func testChunks(repoID string) []*store.Chunk {
	return []*store.Chunk{
		regChunk(repoID, "a.go#0@b1", "retrieval engine ranks chunks"),
		regChunk(repoID, "b.go#0@b1", "vector search over embeddings"),
		regChunk(repoID, "c.go#0@b1", "lexical scoring uses term statistics"),
	}
}

// buildTestSnapshot assembles a snapshot the way the ingest pipeline does:
// memory lexical index plus a small HNSW graph.
func buildTestSnapshot(t *testing.T, repoID, buildID string) *Snapshot {
	t.Helper()

	chunks := testChunks(repoID)
	lexical, err := store.NewMemoryBM25Index(repoID, chunks, store.DefaultBM25Config())
	require.NoError(t, err)

	vector, err := store.NewHNSWIndex(store.DefaultVectorIndexConfig(4))
	require.NoError(t, err)
	require.NoError(t, vector.Add(context.Background(),
		[]string{chunks[0].ID, chunks[1].ID, chunks[2].ID},
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}}))

	return NewSnapshot(repoID, buildID, chunks, lexical, vector)
}

func newTestRegistry(t *testing.T) (*Registry, store.MetadataStore, string) {
	t.Helper()

	metadata, err := store.NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = metadata.Close() })

	dataDir := t.TempDir()
	reg := New(metadata, Options{
		DataDir:        dataDir,
		LexicalBackend: store.LexicalBackendMemory,
		BM25:           store.DefaultBM25Config(),
		Vector:         store.VectorBackendConfig{Backend: store.VectorBackendHNSW},
	})
	t.Cleanup(func() { _ = reg.Close() })

	return reg, metadata, dataDir
}

func TestRegistry_AcquireBeforeInstall(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	snap, release, err := reg.Acquire("repo-1")
	require.Error(t, err)
	assert.Nil(t, snap)
	assert.Nil(t, release)
	assert.ErrorIs(t, err, qaerrors.ErrIndexNotReady)
}

func TestRegistry_InstallAndAcquire(t *testing.T) {
	reg, _, dataDir := newTestRegistry(t)

	require.NoError(t, reg.Install(buildTestSnapshot(t, "repo-1", "b1")))

	snap, release, err := reg.Acquire("repo-1")
	require.NoError(t, err)
	defer release()

	assert.Equal(t, "repo-1", snap.RepositoryID)
	assert.Equal(t, "b1", snap.BuildID)
	assert.Equal(t, 3, snap.ChunkCount())
	assert.Equal(t, 3, snap.FileCount())
	assert.False(t, snap.BuiltAt.IsZero())

	chunk, ok := snap.Chunk("a.go#0@b1")
	require.True(t, ok)
	assert.Equal(t, "retrieval engine ranks chunks", chunk.Content)
	_, ok = snap.Chunk("missing")
	assert.False(t, ok)

	// Installing persisted the vector artifact
	_, err = os.Stat(VectorIndexPath(dataDir, "repo-1"))
	assert.NoError(t, err)
}

func TestRegistry_InstallRejectsIncompleteSnapshots(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	assert.Error(t, reg.Install(nil))
	assert.Error(t, reg.Install(&Snapshot{RepositoryID: "repo-1"}), "missing build ID")
	assert.Error(t, reg.Install(&Snapshot{RepositoryID: "repo-1", BuildID: "b1"}), "missing lexical index")
}

func TestRegistry_InstallReplacesPrevious(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	require.NoError(t, reg.Install(buildTestSnapshot(t, "repo-1", "b1")))

	// Given: a reader holding the first build
	oldSnap, releaseOld, err := reg.Acquire("repo-1")
	require.NoError(t, err)
	require.Equal(t, "b1", oldSnap.BuildID)

	// When: a new build lands
	require.NoError(t, reg.Install(buildTestSnapshot(t, "repo-1", "b2")))

	// Then: new readers see the new build
	newSnap, releaseNew, err := reg.Acquire("repo-1")
	require.NoError(t, err)
	defer releaseNew()
	assert.Equal(t, "b2", newSnap.BuildID)

	// And: the held snapshot keeps working until released
	results, err := oldSnap.Vector.Search(context.Background(), []float32{1, 0, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)

	releaseOld()
	releaseOld() // release is idempotent

	_, err = oldSnap.Vector.Search(context.Background(), []float32{1, 0, 0, 0}, 1)
	assert.Error(t, err, "resources are freed once the last reader releases")
}

func TestRegistry_ReadyAndList(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	assert.False(t, reg.Ready("repo-1"))
	assert.Empty(t, reg.List())

	require.NoError(t, reg.Install(buildTestSnapshot(t, "repo-b", "b1")))
	require.NoError(t, reg.Install(buildTestSnapshot(t, "repo-a", "b2")))

	assert.True(t, reg.Ready("repo-a"))
	assert.True(t, reg.Ready("repo-b"))

	infos := reg.List()
	require.Len(t, infos, 2)
	assert.Equal(t, "repo-a", infos[0].RepositoryID, "ordered by repository ID")
	assert.Equal(t, "repo-b", infos[1].RepositoryID)
	assert.Equal(t, "b2", infos[0].BuildID)
	assert.Equal(t, 3, infos[0].ChunkCount)
}

func TestRegistry_Drop(t *testing.T) {
	reg, metadata, dataDir := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, metadata.SaveRepository(ctx, &store.Repository{
		ID:   "repo-1",
		Name: "repo-1",
		Kind: "local",
	}))
	require.NoError(t, reg.Install(buildTestSnapshot(t, "repo-1", "b1")))
	require.FileExists(t, VectorIndexPath(dataDir, "repo-1"))

	require.NoError(t, reg.Drop(ctx, "repo-1"))

	assert.False(t, reg.Ready("repo-1"))
	_, _, err := reg.Acquire("repo-1")
	assert.ErrorIs(t, err, qaerrors.ErrIndexNotReady)

	_, err = os.Stat(VectorIndexPath(dataDir, "repo-1"))
	assert.True(t, os.IsNotExist(err), "artifacts are deleted")

	_, err = metadata.GetRepository(ctx, "repo-1")
	assert.ErrorIs(t, err, store.ErrNotFound, "metadata rows are deleted")
}

func TestRegistry_DropUnknownRepository(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	err := reg.Drop(context.Background(), "never-indexed")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRegistry_LoadRestoresPersistedRepositories(t *testing.T) {
	reg, metadata, dataDir := newTestRegistry(t)
	ctx := context.Background()

	// Given: a completed ingest persisted everything
	chunks := testChunks("repo-1")
	require.NoError(t, metadata.SaveRepository(ctx, &store.Repository{
		ID: "repo-1", Name: "repo-1", Kind: "local",
	}))
	require.NoError(t, metadata.SaveChunks(ctx, chunks))
	require.NoError(t, metadata.UpdateRepositoryBuild(ctx, "repo-1", "b1", 3, 3))
	require.NoError(t, reg.Install(buildTestSnapshot(t, "repo-1", "b1")))
	require.NoError(t, reg.Close())

	// When: a fresh process restores from the same data dir
	fresh := New(metadata, Options{
		DataDir:        dataDir,
		LexicalBackend: store.LexicalBackendMemory,
		BM25:           store.DefaultBM25Config(),
		Vector:         store.VectorBackendConfig{Backend: store.VectorBackendHNSW},
	})
	defer func() { _ = fresh.Close() }()

	restored, err := fresh.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, restored)

	// Then: the snapshot serves both branches again
	snap, release, err := fresh.Acquire("repo-1")
	require.NoError(t, err)
	defer release()
	assert.Equal(t, "b1", snap.BuildID)
	assert.Equal(t, 3, snap.ChunkCount())

	hits, err := snap.Lexical.Search(ctx, "engine", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)

	vecs, err := snap.Vector.Search(ctx, []float32{0, 1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Equal(t, "b.go#0@b1", vecs[0].ChunkID)
}

func TestRegistry_LoadRefusesMixedBuilds(t *testing.T) {
	reg, metadata, dataDir := newTestRegistry(t)
	ctx := context.Background()

	// Given: build b1 fully persisted and its artifact on disk
	require.NoError(t, metadata.SaveRepository(ctx, &store.Repository{
		ID: "repo-1", Name: "repo-1", Kind: "local",
	}))
	require.NoError(t, metadata.SaveChunks(ctx, testChunks("repo-1")))
	require.NoError(t, metadata.UpdateRepositoryBuild(ctx, "repo-1", "b1", 3, 3))
	require.NoError(t, reg.Install(buildTestSnapshot(t, "repo-1", "b1")))
	require.NoError(t, reg.Close())

	// When: a reindex died after replacing the chunk rows but before the
	// b2 artifact and build ID landed
	require.NoError(t, metadata.DeleteChunksByRepository(ctx, "repo-1"))
	require.NoError(t, metadata.SaveChunks(ctx, []*store.Chunk{
		regChunk("repo-1", "a.go#0@b2", "rewritten retrieval engine"),
		regChunk("repo-1", "b.go#0@b2", "rewritten vector search"),
	}))

	fresh := New(metadata, Options{
		DataDir:        dataDir,
		LexicalBackend: store.LexicalBackendMemory,
		BM25:           store.DefaultBM25Config(),
		Vector:         store.VectorBackendConfig{Backend: store.VectorBackendHNSW},
	})
	defer func() { _ = fresh.Close() }()

	restored, err := fresh.Load(ctx)
	require.NoError(t, err, "mixed repositories are skipped, not fatal")

	// Then: the repository stays not-ready instead of serving b2 chunks
	// against the b1 vector artifact
	assert.Zero(t, restored)
	assert.False(t, fresh.Ready("repo-1"))
}

func TestRegistry_LoadSkipsUnindexedRepositories(t *testing.T) {
	reg, metadata, _ := newTestRegistry(t)
	ctx := context.Background()

	// Registered but never finished an ingest: no build ID
	require.NoError(t, metadata.SaveRepository(ctx, &store.Repository{
		ID: "repo-pending", Name: "pending", Kind: "local",
	}))

	restored, err := reg.Load(ctx)
	require.NoError(t, err)
	assert.Zero(t, restored)
	assert.False(t, reg.Ready("repo-pending"))
}

func TestRegistry_LoadSkipsRepositoriesWithoutChunks(t *testing.T) {
	reg, metadata, _ := newTestRegistry(t)
	ctx := context.Background()

	// Build ID says indexed, but the chunk rows are gone
	require.NoError(t, metadata.SaveRepository(ctx, &store.Repository{
		ID: "repo-broken", Name: "broken", Kind: "local",
	}))
	require.NoError(t, metadata.UpdateRepositoryBuild(ctx, "repo-broken", "b1", 3, 3))

	restored, err := reg.Load(ctx)
	require.NoError(t, err, "broken repositories are skipped, not fatal")
	assert.Zero(t, restored)
	assert.False(t, reg.Ready("repo-broken"))
}

func TestRegistry_CloseDrainsSnapshots(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	require.NoError(t, reg.Install(buildTestSnapshot(t, "repo-1", "b1")))
	require.NoError(t, reg.Close())
	require.NoError(t, reg.Close(), "close is idempotent")

	_, _, err := reg.Acquire("repo-1")
	assert.ErrorIs(t, err, qaerrors.ErrIndexNotReady)

	err = reg.Install(buildTestSnapshot(t, "repo-2", "b1"))
	assert.Error(t, err, "closed registry rejects installs")
}

func TestRegistry_ConcurrentAcquireDuringInstalls(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	require.NoError(t, reg.Install(buildTestSnapshot(t, "repo-1", "b0")))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap, release, err := reg.Acquire("repo-1")
				if !assert.NoError(t, err) {
					return
				}
				// A retained snapshot must never observe closed
				// resources, even while installs churn.
				_, searchErr := snap.Vector.Search(context.Background(), []float32{1, 0, 0, 0}, 1)
				assert.NoError(t, searchErr)
				release()
			}
		}()
	}

	for i := 1; i <= 20; i++ {
		require.NoError(t, reg.Install(buildTestSnapshot(t, "repo-1", fmt.Sprintf("b%d", i))))
		time.Sleep(time.Millisecond)
	}
	close(stop)
	wg.Wait()

	snap, release, err := reg.Acquire("repo-1")
	require.NoError(t, err)
	defer release()
	assert.Equal(t, "b20", snap.BuildID)
}
