// Package cmd provides the CLI commands for repoqa.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/repoqa/repoqa/internal/config"
	"github.com/repoqa/repoqa/internal/logging"
	"github.com/repoqa/repoqa/pkg/version"
)

// rootFlags are shared across subcommands via PersistentFlags.
type rootFlags struct {
	configDir string
	dataDir   string
	logLevel  string
}

var flags rootFlags

// NewRootCmd creates the root command for the repoqa CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repoqa",
		Short: "Question answering over source-code repositories",
		Long: `repoqa ingests a source-code repository into a searchable knowledge
base and answers free-text questions with retrieved context.

Retrieval is hybrid: BM25 keyword search and embedding similarity run in
parallel and their rankings are fused. When one branch is unavailable the
other still answers, marked as degraded.

Typical flow:

  repoqa index https://github.com/owner/repo
  repoqa query <repository-id> "how are sessions persisted?"
  repoqa ask <repository-id> "how are sessions persisted?"`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.SetVersionTemplate("repoqa version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&flags.configDir, "config", ".", "Directory containing .repoqa.yml")
	cmd.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "", "Override the data directory")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override the log level (debug, info, warn, error)")

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newAskCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newReposCmd())
	cmd.AddCommand(newDropCmd())
	cmd.AddCommand(newAPICmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig loads configuration for the current invocation, applying the
// persistent flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flags.configDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if flags.dataDir != "" {
		cfg.DataDir = flags.dataDir
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	return cfg, nil
}

// setupLogging configures the default slog logger from config. The returned
// cleanup flushes and closes the log file.
func setupLogging(cfg *config.Config, stderr bool) (func(), error) {
	return logging.SetupDefault(logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      cfg.LogPath(),
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxFiles,
		WriteToStderr: stderr && cfg.Logging.Stderr,
	})
}
