package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/checkonaut/internal/discover"
	"github.com/roach88/checkonaut/internal/harness"
	"github.com/roach88/checkonaut/internal/results"
	"github.com/roach88/checkonaut/internal/store"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	runFlags
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test [paths...]",
		Short: "Run the tests of check scripts",
		Long: `Run every Test* function of every *_test.lua file.

Each test file runs in its own state. In implicit binding mode (the
default) the sibling check script (foo.lua for foo_test.lua) is loaded
first, so tests can call Check directly; in explicit mode test files
require what they need. A test passes when it returns nil without raising
an error.

Exit codes:
  0 - All tests passed
  1 - One or more tests failed, or a test file failed to load
  2 - Command error (invalid paths, bad flags)

Examples:
  checkonaut test
  checkonaut test ./policies --binding explicit
  checkonaut test --format json .`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(cmd, opts, args)
		},
	}

	opts.addDiscoveryFlags(cmd)
	opts.addExecutionFlags(cmd)
	cmd.Flags().StringVar(&opts.Binding, "binding", "", "how tests reach their check: implicit|explicit (default from config, else implicit)")

	return cmd
}

func runTests(cmd *cobra.Command, opts *TestOptions, args []string) error {
	if err := opts.setup(cmd); err != nil {
		return err
	}
	if len(args) == 0 {
		args = []string{"."}
	}

	s, err := resolveSettings(cmd, opts.Config, &opts.runFlags)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid options", err)
	}
	p, err := newPipeline(s, *opts.Logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to initialise", err)
	}

	ctx := cmd.Context()
	started := opts.Now()

	found, err := discover.Find(args, s.discover)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to discover files", err)
	}

	f := opts.formatter(cmd)
	if len(found.Tests) == 0 {
		if opts.Format == "json" {
			return f.Encode(CLIResponse{Status: "ok", Data: newTestReport(results.NewAggregator(), "")})
		}
		fmt.Fprintln(f.Writer, "No test files found.")
		return nil
	}

	agg := results.NewAggregator()
	tests := p.loadScripts(ctx, found.Tests, agg)

	h := harness.New(p.loader,
		harness.WithLogger(p.logger),
		harness.WithTimeout(s.timeout),
		harness.WithWorkers(s.workers),
		harness.WithBinding(s.binding),
	)
	if err := h.Run(ctx, tests, agg); err != nil {
		return WrapExitError(ExitCommandError, "test run interrupted", err)
	}
	finished := opts.Now()

	display := f.Relativize(agg)
	runID, recErr := opts.record(ctx, s.record, store.CommandTest, args, started, finished, display)
	reportErr := writeTestReport(f, newTestReport(display, runID))
	if recErr != nil {
		return WrapExitError(ExitCommandError, "failed to record run", recErr)
	}
	return reportErr
}
