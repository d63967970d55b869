package cli

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/syncmap/internal/store"
	"github.com/roach88/syncmap/internal/value"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Database string
	Template string
	Journal  bool
}

// CachedEntity is one row of the offline cache.
type CachedEntity struct {
	ID     string    `json:"id"`
	Seq    int64     `json:"seq"`
	Fields value.Map `json:"fields"`
}

// JournalRecord is one row of the action journal.
type JournalRecord struct {
	ActionID string    `json:"action_id"`
	Seq      int64     `json:"seq"`
	Type     string    `json:"type"`
	EntityID string    `json:"entity_id"`
	Fields   value.Map `json:"fields"`
	State    string    `json:"state"`
	Reason   string    `json:"reason,omitempty"`
}

// InspectResult is the payload of the inspect command.
type InspectResult struct {
	Entities map[string][]CachedEntity `json:"entities"`
	Journal  []JournalRecord           `json:"journal,omitempty"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the offline cache and action journal",
		Long: `Print what a syncmap database holds.

Lists cached entities grouped by plural, ordered by seq. With --journal the
local actions and their outcomes are listed as well.

Examples:
  syncmap inspect --db ./cache.db
  syncmap inspect --db ./cache.db --template posts --journal`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Template, "template", "", "only show entities of this plural")
	cmd.Flags().BoolVar(&opts.Journal, "journal", false, "include the action journal")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runInspect(opts *InspectOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("database not found: %s", opts.Database), err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := collectInspect(ctx, st, opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read database", err)
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	printInspect(formatter, result, opts)
	return nil
}

func collectInspect(ctx context.Context, st *store.Store, opts *InspectOptions) (InspectResult, error) {
	result := InspectResult{Entities: map[string][]CachedEntity{}}

	plurals := []string{opts.Template}
	if opts.Template == "" {
		var err error
		if plurals, err = st.Plurals(ctx); err != nil {
			return result, err
		}
	}

	for _, plural := range plurals {
		entries, err := st.List(ctx, plural)
		if err != nil {
			return result, err
		}
		list := make([]CachedEntity, len(entries))
		for i, e := range entries {
			list[i] = CachedEntity{ID: e.ID, Seq: e.Seq, Fields: e.Fields}
		}
		result.Entities[plural] = list
	}

	if opts.Journal {
		rows, err := st.ReadJournal(ctx)
		if err != nil {
			return result, err
		}
		result.Journal = make([]JournalRecord, len(rows))
		for i, r := range rows {
			result.Journal[i] = JournalRecord{
				ActionID: r.ActionID,
				Seq:      r.Seq,
				Type:     r.Type,
				EntityID: r.EntityID,
				Fields:   r.Fields,
				State:    r.State,
				Reason:   r.Reason,
			}
		}
	}
	return result, nil
}

func printInspect(formatter *OutputFormatter, result InspectResult, opts *InspectOptions) {
	w := formatter.Writer
	if len(result.Entities) == 0 {
		fmt.Fprintln(w, "No cached entities.")
	}
	for _, plural := range slices.Sorted(maps.Keys(result.Entities)) {
		entities := result.Entities[plural]
		fmt.Fprintf(w, "%s (%d)\n", plural, len(entities))
		for _, e := range entities {
			fields, _ := e.Fields.MarshalJSON()
			fmt.Fprintf(w, "  %s seq=%d %s\n", e.ID, e.Seq, fields)
		}
	}

	if !opts.Journal {
		return
	}
	fmt.Fprintf(w, "journal (%d)\n", len(result.Journal))
	for _, r := range result.Journal {
		line := fmt.Sprintf("  %s seq=%d %s %s %s", r.ActionID, r.Seq, r.Type, r.EntityID, r.State)
		if r.Reason != "" {
			line += " reason=" + r.Reason
		}
		fmt.Fprintln(w, line)
	}
}
