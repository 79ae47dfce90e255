package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/repoqa/repoqa/internal/output"
	"github.com/repoqa/repoqa/internal/registry"
	"github.com/repoqa/repoqa/internal/store"
)

func newDropCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drop <repository-id>",
		Short: "Remove an indexed repository and its artifacts",
		Long: `Remove a repository: its metadata, chunks, ingest sessions and the
persisted index artifacts on disk. In-flight queries against the old
snapshot finish; new queries fail with an unknown-repository error.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cleanup, err := setupLogging(cfg, false)
			if err != nil {
				return err
			}
			defer cleanup()

			metadata, err := store.NewSQLiteStore(cfg.DBPath())
			if err != nil {
				return err
			}
			defer metadata.Close()

			repositoryID := args[0]
			if _, err := metadata.GetRepository(ctx, repositoryID); err != nil {
				return fmt.Errorf("repository %s: %w", repositoryID, err)
			}

			reg := registry.New(metadata, registryOptionsFrom(cfg))
			defer reg.Close()
			if _, err := reg.Load(ctx); err != nil {
				return err
			}
			if err := reg.Drop(ctx, repositoryID); err != nil {
				return err
			}

			output.New(cmd.OutOrStdout()).Successf("dropped %s", repositoryID)
			return nil
		},
	}

	return cmd
}
