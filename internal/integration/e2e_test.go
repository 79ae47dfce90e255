// Package integration holds end-to-end scenario tests that wire the real
// components together: ingest pipeline, registry, retrieval engine and the
// HTTP API.
package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repoqa/repoqa/internal/chunk"
	"github.com/repoqa/repoqa/internal/embed"
	"github.com/repoqa/repoqa/internal/ingest"
	"github.com/repoqa/repoqa/internal/registry"
	"github.com/repoqa/repoqa/internal/search"
	"github.com/repoqa/repoqa/internal/store"
)

// stack wires the component graph the way the CLI and servers do.
type stack struct {
	metadata store.MetadataStore
	registry *registry.Registry
	embedder embed.Embedder
	pipeline *ingest.Pipeline
	runner   *ingest.Runner
	engine   *search.Engine
}

func (s *stack) close() {
	_ = s.engine.Close()
	_ = s.runner.Close()
	_ = s.registry.Close()
	_ = s.embedder.Close()
	_ = s.metadata.Close()
}

// newStack builds a full stack rooted at dataDir. Separate calls against
// the same dataDir simulate process restarts.
func newStack(t *testing.T, dataDir string) *stack {
	t.Helper()

	metadata, err := store.NewSQLiteStore(filepath.Join(dataDir, "repoqa.db"))
	require.NoError(t, err)

	reg := registry.New(metadata, registry.Options{
		DataDir: dataDir,
		BM25:    store.DefaultBM25Config(),
	})

	embedder := embed.NewStaticEmbedder()

	pipeline, err := ingest.NewPipeline(metadata, reg, embedder, ingest.Config{
		DataDir: dataDir,
		Chunk:   chunk.Options{ChunkSize: 400, Overlap: 80},
		BM25:    store.DefaultBM25Config(),
	})
	require.NoError(t, err)

	engine, err := search.NewEngine(reg, embedder, search.Options{})
	require.NoError(t, err)

	s := &stack{
		metadata: metadata,
		registry: reg,
		embedder: embedder,
		pipeline: pipeline,
		runner:   ingest.NewRunner(pipeline),
		engine:   engine,
	}
	t.Cleanup(s.close)
	return s
}

// writeProject creates a small source tree with recognizable content.
func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func defaultProject(t *testing.T) string {
	return writeProject(t, map[string]string{
		"auth/session.go": `package auth

// SessionStore persists login sessions in a backing database with a
// sliding expiration window.
type SessionStore struct {
	ttl int
}

// Validate checks a session token and extends its expiration.
func (s *SessionStore) Validate(token string) bool {
	return token != ""
}
`,
		"payment/charge.go": `package payment

// ChargeCard submits a payment intent to the gateway and retries
// transient failures with exponential backoff.
func ChargeCard(amount int, currency string) error {
	return nil
}
`,
		"README.md": `# example service

Handles authentication sessions and card payments.
`,
	})
}

func TestEndToEnd_IngestThenRetrieve(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	dataDir := t.TempDir()
	project := defaultProject(t)

	// Given: an ingested project
	s := newStack(t, dataDir)
	session, err := s.pipeline.Ingest(ctx, ingest.Request{Source: project}, nil)
	require.NoError(t, err)
	require.Equal(t, store.SessionSuccess, session.Status)
	assert.Equal(t, 3, session.FilesProcessed)
	assert.Positive(t, session.ChunksTotal)

	// When: asking about session handling
	rc, err := s.engine.Retrieve(ctx, session.RepositoryID, "how are login sessions persisted?", search.Options{})
	require.NoError(t, err)

	// Then: the auth chunk is retrieved, not degraded
	require.NotEmpty(t, rc.Chunks)
	assert.False(t, rc.Degraded)
	paths := make([]string, 0, len(rc.Chunks))
	for _, cc := range rc.Chunks {
		paths = append(paths, cc.Chunk.FilePath)
	}
	assert.Contains(t, paths, "auth/session.go")
}

func TestEndToEnd_RestartRestoresIndexes(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	dataDir := t.TempDir()
	project := defaultProject(t)

	// Given: a project indexed by a first process
	first := newStack(t, dataDir)
	session, err := first.pipeline.Ingest(ctx, ingest.Request{Source: project}, nil)
	require.NoError(t, err)
	repoID := session.RepositoryID
	buildID := session.BuildID
	first.close()

	// When: a second process starts against the same data dir
	second := newStack(t, dataDir)
	n, err := second.registry.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Then: the restored build answers queries
	require.True(t, second.registry.Ready(repoID))
	rc, err := second.engine.Retrieve(ctx, repoID, "payment gateway retries", search.Options{})
	require.NoError(t, err)
	assert.Equal(t, buildID, rc.BuildID)
	require.NotEmpty(t, rc.Chunks)
}

func TestEndToEnd_ReindexSwapsBuilds(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	dataDir := t.TempDir()
	project := defaultProject(t)
	s := newStack(t, dataDir)

	session1, err := s.pipeline.Ingest(ctx, ingest.Request{Source: project}, nil)
	require.NoError(t, err)

	// Given: the tree changed
	require.NoError(t, os.WriteFile(filepath.Join(project, "refund.go"), []byte(`package payment

// Refund reverses a settled charge back onto the original card.
func Refund(chargeID string) error {
	return nil
}
`), 0o644))

	// When: re-indexing the same source
	session2, err := s.pipeline.Ingest(ctx, ingest.Request{Source: project, Force: true}, nil)
	require.NoError(t, err)

	// Then: a new build replaces the old one and serves the new content
	assert.Equal(t, session1.RepositoryID, session2.RepositoryID)
	assert.NotEqual(t, session1.BuildID, session2.BuildID)

	rc, err := s.engine.Retrieve(ctx, session2.RepositoryID, "reverse a settled charge refund", search.Options{})
	require.NoError(t, err)
	assert.Equal(t, session2.BuildID, rc.BuildID)

	found := false
	for _, cc := range rc.Chunks {
		if cc.Chunk.FilePath == "refund.go" {
			found = true
		}
	}
	assert.True(t, found, "new build should serve the added file")
}

func TestEndToEnd_DropRemovesRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	dataDir := t.TempDir()
	s := newStack(t, dataDir)

	session, err := s.pipeline.Ingest(ctx, ingest.Request{Source: defaultProject(t)}, nil)
	require.NoError(t, err)
	repoID := session.RepositoryID

	require.NoError(t, s.registry.Drop(ctx, repoID))

	// Then: queries fail and the metadata row is gone
	_, err = s.engine.Retrieve(ctx, repoID, "anything", search.Options{})
	assert.Error(t, err)
	_, err = s.metadata.GetRepository(ctx, repoID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// And: artifacts on disk are removed
	_, statErr := os.Stat(filepath.Join(dataDir, "index", repoID))
	assert.True(t, os.IsNotExist(statErr))
}

func TestEndToEnd_RunnerBackgroundIngest(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	s := newStack(t, t.TempDir())

	session, err := s.runner.Start(ctx, ingest.Request{Source: defaultProject(t)})
	require.NoError(t, err)

	// Then: the session reaches success within the deadline
	deadline := time.Now().Add(30 * time.Second)
	for {
		got, err := s.metadata.GetSession(ctx, session.ID)
		require.NoError(t, err)
		if got.IsTerminal() {
			require.Equal(t, store.SessionSuccess, got.Status, got.Error)
			break
		}
		require.True(t, time.Now().Before(deadline), "ingest did not finish in time")
		time.Sleep(50 * time.Millisecond)
	}

	assert.True(t, s.registry.Ready(session.RepositoryID))
}
