package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/autotest/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Limit int
	Test  string // optional - history of one test instead of runs
}

// RunDetail is one run together with its test records.
type RunDetail struct {
	Run   store.RunRow    `json:"run"`
	Tests []store.TestRow `json:"tests"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded runs",
		Long: `Show runs recorded in the history database.

Without arguments the most recent runs are listed. With a run ID the
run's test records are shown in the order they were reported. With
--test the results of one test across runs are listed.

Examples:
  autotest history --db ./autotest.db
  autotest history --db ./autotest.db 0190a5d2-7c1e-7b3f-9a62-5c0e4f1d2b3a
  autotest history --db ./autotest.db --test /test/lib/StringTest --format json`,
		Args:          usageArgs(cobra.MaximumNArgs(1)),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, args, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of entries (0 for all)")
	cmd.Flags().StringVar(&opts.Test, "test", "", "show the history of one test")

	return cmd
}

func runHistory(opts *HistoryOptions, args []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if opts.Database == "" {
		_ = formatter.Error(ErrCodeDatabase, "no history database: use --db", nil)
		return NewExitError(ExitCommandError, "history requires --db")
	}
	if len(args) == 1 && opts.Test != "" {
		_ = formatter.Error(ErrCodeGeneric, "a run ID and --test are mutually exclusive", nil)
		return NewExitError(ExitCommandError, "a run ID and --test are mutually exclusive")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// Open database
	st, err := store.Open(opts.Database)
	if err != nil {
		_ = formatter.Error(ErrCodeDatabase, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	switch {
	case len(args) == 1:
		return showRun(ctx, st, formatter, args[0])
	case opts.Test != "":
		return showTest(ctx, st, formatter, opts.Test, opts.Limit)
	default:
		return listRuns(ctx, st, formatter, opts.Limit)
	}
}

func listRuns(ctx context.Context, st *store.Store, formatter *OutputFormatter, limit int) error {
	runs, err := st.ListRuns(ctx, limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(formatter.Writer, "No runs recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tMODE\tSTATUS\tITERATIONS\tTESTS\tFAILED\tSTARTED\tDURATION")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%d\t%d\t%s\t%s\n",
			r.ID, r.Mode, r.Status, r.Iterations, r.Target, r.Tests, r.Failed,
			r.StartedAt.Local().Format(time.DateTime), runDuration(r))
	}
	return tw.Flush()
}

func showRun(ctx context.Context, st *store.Store, formatter *OutputFormatter, id string) error {
	run, tests, err := st.ReadRun(ctx, id)
	if errors.Is(err, store.ErrRunNotFound) {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("run not found: %s", id), nil)
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(RunDetail{Run: run, Tests: tests})
	}

	w := formatter.Writer
	fmt.Fprintf(w, "Run %s (%s)\n", run.ID, run.Mode)
	fmt.Fprintf(w, "  Command:    %s\n", run.Command)
	fmt.Fprintf(w, "  Status:     %s\n", run.Status)
	if run.Reason != "" {
		fmt.Fprintf(w, "  Reason:     %s\n", run.Reason)
	}
	fmt.Fprintf(w, "  Iterations: %d/%d\n", run.Iterations, run.Target)
	fmt.Fprintf(w, "  Tests:      %d (%d failed)\n", run.Tests, run.Failed)
	fmt.Fprintf(w, "  Reports:    %s\n", run.OutputDir)
	fmt.Fprintf(w, "  Duration:   %s\n", runDuration(run))
	if len(tests) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	return writeTests(w, tests)
}

func showTest(ctx context.Context, st *store.Store, formatter *OutputFormatter, name string, limit int) error {
	tests, err := st.TestHistory(ctx, name, limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read test history", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(tests)
	}
	if len(tests) == 0 {
		fmt.Fprintf(formatter.Writer, "No results recorded for test: %s\n", name)
		return nil
	}
	return writeTests(formatter.Writer, tests)
}

func writeTests(w io.Writer, tests []store.TestRow) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tRUN\tTEST\tITERATION\tSTATUS\tREPORT")
	for _, t := range tests {
		status := t.Status
		if t.Malformed {
			status += " (malformed)"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\n", t.Seq, t.RunID, t.Name, t.Iteration, status, t.ReportPath)
	}
	return tw.Flush()
}

func runDuration(r store.RunRow) string {
	if r.FinishedAt.IsZero() {
		return "-"
	}
	return r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
}
