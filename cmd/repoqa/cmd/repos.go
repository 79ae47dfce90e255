package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/repoqa/repoqa/internal/output"
	"github.com/repoqa/repoqa/internal/registry"
	"github.com/repoqa/repoqa/internal/store"
)

func newReposCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "repos",
		Short: "List indexed repositories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			metadata, err := store.NewSQLiteStore(cfg.DBPath())
			if err != nil {
				return err
			}
			defer metadata.Close()

			reg := registry.New(metadata, registryOptionsFrom(cfg))
			defer reg.Close()
			if _, err := reg.Load(ctx); err != nil {
				return err
			}

			repos, err := metadata.ListRepositories(ctx)
			if err != nil {
				return err
			}
			return output.RenderRepositories(cmd.OutOrStdout(), repos, reg.List(), f)
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "Output format: text or json")

	return cmd
}
