package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/repoqa/repoqa/internal/output"
	"github.com/repoqa/repoqa/internal/registry"
	"github.com/repoqa/repoqa/internal/store"
	"github.com/repoqa/repoqa/internal/telemetry"
)

// metricsReplayLimit bounds how much query-log history feeds the metrics
// rollup.
const metricsReplayLimit = 1000

func newStatusCmd() *cobra.Command {
	var (
		repo    string
		metrics bool
		format  string
	)

	cmd := &cobra.Command{
		Use:   "status [session-id]",
		Short: "Show repository, session, or query metrics status",
		Long: `Without arguments, list indexed repositories and any ingest in flight.

With a session ID, show that ingest session's progress and outcome.
With --repo, show recent ingest sessions for one repository.
With --metrics, show retrieval metrics from the query log.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			f, err := output.ParseFormat(format)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cleanup, err := setupLogging(cfg, false)
			if err != nil {
				return err
			}
			defer cleanup()

			if metrics {
				return runStatusMetrics(ctx, cmd, cfg.DataDir, f)
			}

			metadata, err := store.NewSQLiteStore(cfg.DBPath())
			if err != nil {
				return err
			}
			defer metadata.Close()

			if len(args) == 1 {
				return runStatusSession(ctx, cmd, metadata, args[0], f)
			}
			if repo != "" {
				return runStatusRepo(ctx, cmd, metadata, repo, f)
			}
			return runStatusOverview(ctx, cmd, metadata, registryOptionsFrom(cfg), f)
		},
	}

	cmd.Flags().StringVar(&repo, "repo", "", "Show recent sessions for this repository")
	cmd.Flags().BoolVar(&metrics, "metrics", false, "Show retrieval metrics")
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text or json")

	return cmd
}

func runStatusSession(ctx context.Context, cmd *cobra.Command, metadata store.MetadataStore, id string, f output.Format) error {
	session, err := metadata.GetSession(ctx, id)
	if err != nil {
		return fmt.Errorf("session %s: %w", id, err)
	}
	return output.RenderSession(cmd.OutOrStdout(), session, f)
}

func runStatusRepo(ctx context.Context, cmd *cobra.Command, metadata store.MetadataStore, repositoryID string, f output.Format) error {
	sessions, err := metadata.ListSessions(ctx, repositoryID, 5)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No ingest sessions for %s.\n", repositoryID)
		return nil
	}
	for i, session := range sessions {
		if i > 0 {
			fmt.Fprintln(cmd.OutOrStdout())
		}
		if err := output.RenderSession(cmd.OutOrStdout(), session, f); err != nil {
			return err
		}
	}
	return nil
}

func runStatusOverview(ctx context.Context, cmd *cobra.Command, metadata store.MetadataStore, regOpts registry.Options, f output.Format) error {
	reg := registry.New(metadata, regOpts)
	defer reg.Close()
	if _, err := reg.Load(ctx); err != nil {
		return err
	}

	repos, err := metadata.ListRepositories(ctx)
	if err != nil {
		return err
	}
	if err := output.RenderRepositories(cmd.OutOrStdout(), repos, reg.List(), f); err != nil {
		return err
	}

	if f != output.FormatText {
		return nil
	}
	for _, repo := range repos {
		active, err := metadata.ActiveSession(ctx, repo.ID)
		if err != nil || active == nil {
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\nIngest in flight for %s: session %s (%s, %d/%d files)\n",
			repo.ID, active.ID, active.Status, active.FilesProcessed, active.FilesTotal)
	}
	return nil
}

// runStatusMetrics rebuilds the metric rollups from persisted query-log
// events. Live processes expose the same numbers over /api/v1/metrics.
func runStatusMetrics(ctx context.Context, cmd *cobra.Command, dataDir string, f output.Format) error {
	queryLog, err := telemetry.OpenQueryLog(filepath.Join(dataDir, "querylog.db"))
	if err != nil {
		return err
	}
	defer queryLog.Close()

	events, err := queryLog.Recent(ctx, metricsReplayLimit)
	if err != nil {
		return err
	}

	collector := telemetry.NewCollector(nil, telemetry.Config{SampleCapacity: metricsReplayLimit})
	defer collector.Close()
	for _, event := range events {
		collector.RecordRetrieval(ctx, event)
	}

	return output.RenderMetrics(cmd.OutOrStdout(), collector.Snapshot(), f)
}
