package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	qaerrors "github.com/repoqa/repoqa/internal/errors"
	"github.com/repoqa/repoqa/internal/store"
)

// Runner executes ingest builds on background goroutines, one per
// repository at a time, with panic capture and cancellation. The HTTP API
// starts builds here; the CLI calls the pipeline directly in the
// foreground.
type Runner struct {
	pipeline *Pipeline
	logger   *slog.Logger

	mu      sync.Mutex
	active  map[string]*running // keyed by repository ID
	wg      sync.WaitGroup
	closed  bool
	baseCtx context.Context
	cancel  context.CancelFunc
}

type running struct {
	sessionID string
	cancel    context.CancelFunc

	progMu   sync.Mutex
	progress Progress
}

// NewRunner creates a runner on top of a pipeline.
func NewRunner(pipeline *Pipeline) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		pipeline: pipeline,
		logger:   slog.Default().With("component", "ingest_runner"),
		active:   make(map[string]*running),
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Start launches an ingest build in the background and returns its session.
// A second Start for the same repository while one is running fails with a
// session conflict unless the request forces.
func (r *Runner) Start(ctx context.Context, req Request) (*store.Session, error) {
	fetcher, err := NewFetcher(req.Source, r.pipeline.cfg.CloneDir, r.pipeline.cfg.CloneTimeout, req.Force)
	if err != nil {
		return nil, err
	}
	repoID := fetcher.RepositoryID()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, fmt.Errorf("ingest runner is shut down")
	}
	if prev, busy := r.active[repoID]; busy {
		if !req.Force {
			r.mu.Unlock()
			return nil, qaerrors.New(qaerrors.ErrCodeSessionConflict,
				fmt.Sprintf("repository %s is already being ingested (session %s)", repoID, prev.sessionID), nil).
				WithSuggestion("use --force to supersede the running ingest")
		}
		prev.cancel()
	}

	runCtx, cancel := context.WithCancel(r.baseCtx)
	state := &running{cancel: cancel}
	r.active[repoID] = state
	r.wg.Add(1)
	r.mu.Unlock()

	// The session row is created synchronously so the caller can poll it
	// immediately; the build itself runs detached from the request ctx.
	fetcher, session, err := r.pipeline.Prepare(ctx, req)
	if err != nil {
		cancel()
		r.finish(repoID, state)
		return nil, err
	}
	state.sessionID = session.ID

	go func() {
		defer r.finish(repoID, state)
		defer cancel()
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("ingest_panic",
					slog.String("repository", repoID),
					slog.Any("panic", rec))
				_ = r.pipeline.metadata.UpdateSessionStatus(context.Background(),
					session.ID, store.SessionFailed, fmt.Sprintf("internal panic: %v", rec))
			}
		}()

		if err := r.pipeline.Execute(runCtx, fetcher, session, state.setProgress); err != nil {
			r.logger.Warn("background_ingest_failed",
				slog.String("repository", repoID),
				slog.String("session", session.ID),
				slog.String("error", err.Error()))
		}
	}()

	return session, nil
}

func (r *Runner) finish(repoID string, state *running) {
	r.mu.Lock()
	if r.active[repoID] == state {
		delete(r.active, repoID)
	}
	r.mu.Unlock()
	r.wg.Done()
}

func (s *running) setProgress(p Progress) {
	s.progMu.Lock()
	s.progress = p
	s.progMu.Unlock()
}

// Progress returns the live progress of a running build, if one exists for
// the repository.
func (r *Runner) Progress(repositoryID string) (Progress, bool) {
	r.mu.Lock()
	state, ok := r.active[repositoryID]
	r.mu.Unlock()
	if !ok {
		return Progress{}, false
	}
	state.progMu.Lock()
	defer state.progMu.Unlock()
	return state.progress, true
}

// Running reports whether the repository has a build in flight.
func (r *Runner) Running(repositoryID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[repositoryID]
	return ok
}

// Cancel stops a running build. Returns false when nothing was running.
func (r *Runner) Cancel(repositoryID string) bool {
	r.mu.Lock()
	state, ok := r.active[repositoryID]
	r.mu.Unlock()
	if ok {
		state.cancel()
	}
	return ok
}

// Close cancels every running build and waits for them to wind down.
func (r *Runner) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()
	r.wg.Wait()
	return nil
}
