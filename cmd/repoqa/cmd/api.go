package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/repoqa/repoqa/internal/api"
	"github.com/repoqa/repoqa/internal/config"
	"github.com/repoqa/repoqa/internal/ingest"
	"github.com/repoqa/repoqa/internal/profiling"
)

func newAPICmd() *cobra.Command {
	var (
		addr       string
		watch      bool
		profileDir string
	)

	cmd := &cobra.Command{
		Use:   "api",
		Short: "Run the HTTP API server",
		Long: `Serve the HTTP API: repository ingestion, session status, hybrid
retrieval queries and metrics. Previously indexed repositories are
restored at startup.

With --watch, local-path repositories are re-indexed automatically when
their files change.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runAPI(ctx, addr, watch, profileDir)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Re-index local repositories on file changes")
	cmd.Flags().StringVar(&profileDir, "profile-dir", "", "Write pprof profiles to this directory")

	return cmd
}

func runAPI(ctx context.Context, addr string, watch bool, profileDir string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.API.Addr = addr
	}
	cleanup, err := setupLogging(cfg, true)
	if err != nil {
		return err
	}
	defer cleanup()

	if profileDir != "" {
		session, err := profiling.Start(profileDir)
		if err != nil {
			return err
		}
		defer func() {
			if err := session.Stop(); err != nil {
				slog.Warn("profiling_stop_failed", slog.String("error", err.Error()))
			}
		}()
	}

	a, err := newApp(ctx, cfg, appOptions{AllowOffline: true, Telemetry: true, LoadRegistry: true})
	if err != nil {
		return err
	}
	defer a.close()

	if watch {
		watchers, err := startWatchers(ctx, cfg, a)
		if err != nil {
			return err
		}
		defer func() {
			for _, w := range watchers {
				_ = w.Close()
			}
		}()
	}

	server := api.NewServer(cfg.API, api.Deps{
		Metadata:   a.metadata,
		Registry:   a.registry,
		Runner:     a.runner,
		Engine:     a.engine,
		Answerer:   a.answerer,
		Collector:  a.collector,
		Logger:     slog.Default(),
		AnswerMode: cfg.LLM.Mode,
	})
	return server.Run(ctx)
}

// startWatchers attaches a filesystem watcher to every local-path
// repository known to the metadata store.
func startWatchers(ctx context.Context, cfg *config.Config, a *app) ([]*ingest.Watcher, error) {
	repos, err := a.metadata.ListRepositories(ctx)
	if err != nil {
		return nil, err
	}

	debounce := config.Duration(cfg.Ingest.WatchDebounce, ingest.DefaultWatchDebounce)
	var watchers []*ingest.Watcher
	for _, repo := range repos {
		if repo.Kind != "local" {
			continue
		}
		source := repo.RootPath
		watcher, err := ingest.NewWatcher(source, debounce, cfg.Ingest.ExcludeDirs, func(ctx context.Context) {
			if _, err := a.runner.Start(ctx, ingest.Request{Source: source, Force: true}); err != nil {
				slog.Warn("watch_reindex_failed",
					slog.String("source", source),
					slog.String("error", err.Error()))
			}
		})
		if err != nil {
			for _, w := range watchers {
				_ = w.Close()
			}
			return nil, err
		}
		go watcher.Run(ctx)
		watchers = append(watchers, watcher)
		slog.Info("watching_repository", slog.String("path", source))
	}
	return watchers, nil
}
