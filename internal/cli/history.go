package cli

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/checkonaut/internal/results"
	"github.com/roach88/checkonaut/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	DB    string
	Limit int
	Run   string // show one run in full
	Issue string // list runs that reported this fingerprint
	Prune int    // keep only the newest N runs; negative disables
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect archived runs",
		Long: `Inspect runs archived with --record.

Without flags, lists the newest runs. The archive defaults to the record
path from the configuration file.

Examples:
  checkonaut history --db runs.db
  checkonaut history --db runs.db --run 0190f1c2-...
  checkonaut history --db runs.db --issue 3f2a9c...
  checkonaut history --db runs.db --prune 50`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "", "archive database (default: record from config)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "number of runs to list (0 for all)")
	cmd.Flags().StringVar(&opts.Run, "run", "", "show the run with this ID")
	cmd.Flags().StringVar(&opts.Issue, "issue", "", "list runs that reported the issue with this fingerprint")
	cmd.Flags().IntVar(&opts.Prune, "prune", -1, "delete all but the newest N runs")

	return cmd
}

func runHistory(cmd *cobra.Command, opts *HistoryOptions) error {
	if err := opts.setup(cmd); err != nil {
		return err
	}

	path := opts.DB
	if path == "" {
		path = opts.Config.Record
	}
	if path == "" {
		return NewExitError(ExitCommandError, "no archive: pass --db or set record in the config file")
	}
	if _, err := os.Stat(path); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("archive not found: %s", path), err)
	}

	st, err := store.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open archive", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	f := opts.formatter(cmd)

	switch {
	case opts.Prune >= 0:
		n, err := st.PruneRuns(ctx, opts.Prune)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to prune archive", err)
		}
		if f.Format == "json" {
			return f.Success(map[string]int64{"removed": n})
		}
		fmt.Fprintf(f.Writer, "Removed %d run(s).\n", n)
		return nil

	case opts.Run != "":
		run, err := st.ReadRun(ctx, opts.Run)
		if errors.Is(err, sql.ErrNoRows) {
			return NewExitError(ExitCommandError, fmt.Sprintf("run %s not found", opts.Run))
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read run", err)
		}
		if f.Format == "json" {
			return f.Success(run)
		}
		writeRunDetail(f.Writer, run)
		return nil

	case opts.Issue != "":
		ids, err := st.RunsWithIssue(ctx, opts.Issue)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to query archive", err)
		}
		if f.Format == "json" {
			return f.Success(ids)
		}
		if len(ids) == 0 {
			fmt.Fprintln(f.Writer, "No runs reported this issue.")
		}
		for _, id := range ids {
			fmt.Fprintln(f.Writer, id)
		}
		return nil
	}

	runs, err := st.ListRuns(ctx, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}
	if f.Format == "json" {
		return f.Success(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(f.Writer, "No runs recorded.")
		return nil
	}
	for _, run := range runs {
		fmt.Fprintln(f.Writer, runLine(run))
	}
	return nil
}

func runLine(run store.Run) string {
	s := run.Summary
	return fmt.Sprintf("%s  %-5s  %s  %-8s  errors=%d warnings=%d passed=%d failed=%d exec_errors=%d",
		run.ID, run.Command, run.StartedAt.UTC().Format(time.RFC3339), run.Duration,
		s.Errors, s.Warnings, s.Passed, s.Failed, s.ExecErrors)
}

// shortFingerprint is the prefix shown in text output; --issue takes the
// full fingerprint.
func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

func writeRunDetail(w io.Writer, run store.Run) {
	fmt.Fprintln(w, runLine(run))
	fmt.Fprintf(w, "Args: %s\n", strings.Join(run.Args, " "))
	fmt.Fprintf(w, "Version: %s\n", run.Version)

	for _, issue := range run.Issues {
		icon := "✗"
		if issue.Severity == results.SeverityWarning {
			icon = "!"
		}
		fmt.Fprintf(w, "%s %s#%d: %s (%s) [%s]\n", icon, issue.Document, issue.Index, issue.Message, issue.Check, shortFingerprint(issue.Fingerprint))
	}
	for _, o := range run.Outcomes {
		if o.Passed {
			fmt.Fprintf(w, "✓ %s: %s\n", o.File, o.Name)
		} else {
			fmt.Fprintf(w, "✗ %s: %s\n", o.File, o.Name)
		}
	}
	for _, e := range run.Errors {
		fmt.Fprintf(w, "✗ %s\n", e.Error())
	}
}
