package cli

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/syncmap/internal/harness"
	"github.com/roach88/syncmap/internal/value"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Grace    time.Duration
	Memory   int
}

// RunResult is the JSON payload of the run command.
type RunResult struct {
	Scenario string      `json:"scenario"`
	Pass     bool        `json:"pass"`
	Trace    []value.Map `json:"trace"`
	Errors   []string    `json:"errors,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run one scenario and print its trace",
		Long: `Run a scenario against the in-process sync server.

Every step is applied on the store loop, the loop is drained, and what the
touched store or filter looks like afterwards is printed. The offline cache
and the action journal go to --db; without it an in-memory database is used.

Examples:
  syncmap run ./scenarios/change_rollback.yaml
  syncmap run ./scenarios/drafts.yaml --db ./cache.db --grace 50ms
  syncmap run ./scenarios/drafts.yaml --memory-cache 128`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioFile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database for cache and journal")
	cmd.Flags().DurationVar(&opts.Grace, "grace", 0, "delay before an unreferenced store is torn down")
	cmd.Flags().IntVar(&opts.Memory, "memory-cache", 0, "keep the offline cache in an in-memory LRU of this many entities")

	return cmd
}

func runScenarioFile(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	slog.Debug("running scenario", "name", scenario.Name, "steps", len(scenario.Steps), "db", opts.Database)
	result, err := harness.RunWithOptions(scenario, harness.Options{
		DBPath:      opts.Database,
		GraceDelay:  opts.Grace,
		MemoryCache: opts.Memory,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "scenario execution failed", err)
	}

	out := RunResult{
		Scenario: scenario.Name,
		Pass:     result.Pass,
		Trace:    make([]value.Map, len(result.Trace)),
		Errors:   result.Errors,
	}
	for i, ev := range result.Trace {
		out.Trace[i] = ev.Value()
	}

	if formatter.JSON() {
		if result.Pass {
			return formatter.Success(out)
		}
		_ = formatter.Failure("E_SCENARIO_FAILED", fmt.Sprintf("%d expectation(s) failed", len(result.Errors)), out)
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", scenario.Name))
	}

	w := formatter.Writer
	fmt.Fprintf(w, "Scenario: %s\n", scenario.Name)
	for _, ev := range result.Trace {
		fmt.Fprintln(w, formatTraceLine(ev))
	}
	if !result.Pass {
		fmt.Fprintf(w, "✗ %d expectation(s) failed\n", len(result.Errors))
		for _, e := range result.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", scenario.Name))
	}
	fmt.Fprintln(w, "✓ All expectations passed")
	return nil
}

// formatTraceLine renders one event as "  3 change posts/1 state=confirmed ...".
func formatTraceLine(ev harness.TraceEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%3d %s", ev.Step, ev.Op)
	if ev.Name != "" {
		fmt.Fprintf(&b, " %s", ev.Name)
	}
	if ev.Target != "" {
		fmt.Fprintf(&b, " %s", ev.Target)
	}
	pair := func(k, v string) {
		if v != "" {
			fmt.Fprintf(&b, " %s=%s", k, v)
		}
	}
	pair("action", ev.Action)
	pair("id", ev.ActionID)
	if ev.Seq != 0 {
		fmt.Fprintf(&b, " seq=%d", ev.Seq)
	}
	pair("state", ev.State)
	pair("reason", ev.Reason)
	pair("status", ev.Status)
	pair("error", ev.Error)
	pair("undo", ev.Undo)
	if ev.IDs != nil {
		fmt.Fprintf(&b, " ids=[%s]", strings.Join(ev.IDs, ","))
	}
	if ev.Loading != nil {
		fmt.Fprintf(&b, " loading=%t", *ev.Loading)
	}
	if len(ev.Fields) > 0 {
		if data, err := ev.Fields.MarshalJSON(); err == nil {
			fmt.Fprintf(&b, " %s", data)
		}
	}
	return b.String()
}
