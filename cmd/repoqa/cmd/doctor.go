package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/repoqa/repoqa/internal/preflight"
)

func newDoctorCmd() *cobra.Command {
	var (
		verbose    bool
		jsonOutput bool
		offline    bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check system requirements and diagnose issues",
		Long: `Run system diagnostics to verify repoqa can operate correctly.

Checks:
  - Data directory writable
  - Disk space (100MB minimum)
  - File descriptor limit (1024 minimum)
  - Embedding provider reachable
  - Vector backend reachable
  - LLM provider reachable

Provider checks are warnings: indexing falls back to keyword-only
retrieval and queries return prompts when providers are missing.`,
		Example: `  repoqa doctor

  # Skip provider probes
  repoqa doctor --offline

  # Machine-readable output
  repoqa doctor --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, verbose, jsonOutput, offline)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show check details")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&offline, "offline", false, "Skip provider reachability probes")

	return cmd
}

func runDoctor(cmd *cobra.Command, verbose, jsonOutput, offline bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	checker := preflight.New(cfg,
		preflight.WithOffline(offline),
		preflight.WithVerbose(verbose),
		preflight.WithOutput(cmd.OutOrStdout()),
	)
	results := checker.RunAll(ctx)

	if jsonOutput {
		if err := doctorJSON(cmd, results); err != nil {
			return err
		}
	} else {
		checker.PrintResults(results)
		if age := preflight.MarkerAge(cfg.DataDir); age > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "\nLast successful check: %s ago\n", age.Round(time.Minute))
		}
	}

	if preflight.HasCriticalFailures(results) {
		return fmt.Errorf("system check failed")
	}
	if err := preflight.MarkPassed(cfg.DataDir); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: could not record check result: %v\n", err)
	}
	return nil
}

type doctorReportJSON struct {
	Status   string                  `json:"status"`
	Checks   []preflight.CheckResult `json:"checks"`
	Warnings []string                `json:"warnings,omitempty"`
	Errors   []string                `json:"errors,omitempty"`
}

func doctorJSON(cmd *cobra.Command, results []preflight.CheckResult) error {
	report := doctorReportJSON{
		Status: preflight.SummaryStatus(results),
		Checks: results,
	}
	for _, r := range results {
		switch {
		case r.IsCritical():
			report.Errors = append(report.Errors, r.Name+": "+r.Message)
		case r.Status == preflight.StatusWarn:
			report.Warnings = append(report.Warnings, r.Name+": "+r.Message)
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
