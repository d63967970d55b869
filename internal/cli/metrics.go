package cli

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/syncmap/internal/harness"
	"github.com/roach88/syncmap/internal/metrics"
)

// NewMetricsCommand creates the metrics command.
func NewMetricsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics <scenario.yaml>",
		Short: "Run a scenario and dump the engine metrics",
		Long: `Run a scenario with metrics enabled and print the collected series in
the Prometheus text exposition format.

Example:
  syncmap metrics ./scenarios/change_rollback.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMetrics(rootOpts, args[0], cmd)
		},
	}
}

func runMetrics(opts *RootOptions, path string, cmd *cobra.Command) error {
	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to register metrics", err)
	}

	result, err := harness.RunWithOptions(scenario, harness.Options{Metrics: m})
	if err != nil {
		return WrapExitError(ExitCommandError, "scenario execution failed", err)
	}
	if !result.Pass {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %d expectation(s) failed\n", len(result.Errors))
	}

	return metrics.WriteText(cmd.OutOrStdout(), reg)
}
