package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repoqa/repoqa/internal/ingest"
	"github.com/repoqa/repoqa/internal/search"
	"github.com/repoqa/repoqa/internal/store"
)

// waitForBuildChange polls until the repository carries a build other than
// previous, or the deadline passes.
func waitForBuildChange(t *testing.T, s *stack, repoID, previous string, deadline time.Duration) *store.Repository {
	t.Helper()
	ctx := context.Background()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		repo, err := s.metadata.GetRepository(ctx, repoID)
		require.NoError(t, err)
		if repo.BuildID != previous {
			if active, _ := s.metadata.ActiveSession(ctx, repoID); active == nil {
				return repo
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("repository %s never rebuilt past %s", repoID, previous)
	return nil
}

func TestEndToEnd_WatcherReindexesOnChange(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newStack(t, t.TempDir())
	project := defaultProject(t)

	session, err := s.pipeline.Ingest(ctx, ingest.Request{Source: project}, nil)
	require.NoError(t, err)

	// Given: a watcher wired to re-ingest the tree, the way the api
	// command does with --watch
	watcher, err := ingest.NewWatcher(project, 200*time.Millisecond, nil, func(ctx context.Context) {
		if _, err := s.runner.Start(ctx, ingest.Request{Source: project, Force: true}); err != nil {
			t.Logf("re-ingest: %v", err)
		}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = watcher.Close() })
	go watcher.Run(ctx)

	// When: a file changes
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(project, "webhook.go"), []byte(`package payment

// HandleWebhook verifies the gateway signature and applies the event.
func HandleWebhook(payload []byte) error {
	return nil
}
`), 0o644))

	// Then: a fresh build appears and serves the new file
	repo := waitForBuildChange(t, s, session.RepositoryID, session.BuildID, 30*time.Second)
	assert.NotEqual(t, session.BuildID, repo.BuildID)

	rc, err := s.engine.Retrieve(ctx, session.RepositoryID, "gateway webhook signature", search.Options{})
	require.NoError(t, err)

	found := false
	for _, cc := range rc.Chunks {
		if cc.Chunk.FilePath == "webhook.go" {
			found = true
		}
	}
	assert.True(t, found)
}
