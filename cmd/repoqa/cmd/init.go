package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/repoqa/repoqa/configs"
	"github.com/repoqa/repoqa/internal/config"
	"github.com/repoqa/repoqa/internal/output"
)

func newInitCmd() *cobra.Command {
	var (
		user  bool
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file from the annotated template",
		Long: `Write a configuration template to get started.

By default init creates a project-level .repoqa.yaml in the current
project root (retrieval tuning, scan excludes, chunking). With --user
it creates the machine-level config at ~/.config/repoqa/config.yaml
instead (data dir, provider endpoints, API keys).

Existing files are preserved unless --force is given. Overwriting the
user config keeps a timestamped backup alongside it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout())
			if user {
				return runInitUser(out, force)
			}
			return runInitProject(out, force)
		},
	}

	cmd.Flags().BoolVar(&user, "user", false, "Create the user config instead of the project config")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")

	return cmd
}

func runInitProject(out *output.Writer, force bool) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolving current directory: %w", err)
	}
	root, err := config.FindProjectRoot(cwd)
	if err != nil {
		root = cwd
	}

	yamlPath := filepath.Join(root, ".repoqa.yaml")
	if !force {
		// .yml is equally valid, respect either spelling.
		for _, p := range []string{yamlPath, filepath.Join(root, ".repoqa.yml")} {
			if _, err := os.Stat(p); err == nil {
				out.Statusf("existing %s preserved (use --force to overwrite)", p)
				return nil
			}
		}
	}

	if err := os.WriteFile(yamlPath, []byte(configs.ProjectConfigTemplate), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", yamlPath, err)
	}

	out.Successf("created %s", yamlPath)
	out.Detail("Every key is optional; uncomment what you need.")
	return nil
}

func runInitUser(out *output.Writer, force bool) error {
	path := config.GetUserConfigPath()

	if config.UserConfigExists() {
		if !force {
			out.Statusf("existing %s preserved (use --force to overwrite)", path)
			return nil
		}
		backup, err := config.BackupUserConfig()
		if err != nil {
			return fmt.Errorf("backing up user config: %w", err)
		}
		if backup != "" {
			out.Statusf("previous config saved to %s", backup)
		}
	}

	if err := os.MkdirAll(config.GetUserConfigDir(), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(configs.DefaultConfigTemplate), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	out.Successf("created %s", path)
	out.Detail("Machine-level settings: data dir, provider endpoints, API keys.")
	return nil
}
