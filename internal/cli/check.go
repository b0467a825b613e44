package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/checkonaut/internal/discover"
	"github.com/roach88/checkonaut/internal/engine"
	"github.com/roach88/checkonaut/internal/results"
	"github.com/roach88/checkonaut/internal/script"
	"github.com/roach88/checkonaut/internal/store"
)

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	*RootOptions
	runFlags
	Watch bool
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check [paths...]",
		Short: "Evaluate checks against data files",
		Long: `Evaluate every check script against every object of every data file.

Paths may be files or directories (default: the current directory).
*.lua files are check scripts when they define a global Check function;
*_test.lua files are ignored. .json, .yaml, .yml, .toml and .cue files are
data files; a YAML stream holds one object per document.

Exit codes:
  0 - No error-severity issues
  1 - Error issues or execution errors
  2 - Command error (no check files, no data files, bad flags)

Examples:
  checkonaut check
  checkonaut check ./policies ./manifests
  checkonaut check --format json --record runs.db .
  checkonaut check --watch .`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, opts, args)
		},
	}

	opts.addDiscoveryFlags(cmd)
	opts.addExecutionFlags(cmd)
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "re-run whenever a check or data file changes")

	return cmd
}

func runCheck(cmd *cobra.Command, opts *CheckOptions, args []string) error {
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

	if opts.Watch {
		return watchChecks(cmd, opts, p, args)
	}
	return checkOnce(cmd, opts, p, args)
}

// checkOnce discovers, loads and evaluates everything under args, then
// reports and optionally records the run.
func checkOnce(cmd *cobra.Command, opts *CheckOptions, p *pipeline, args []string) error {
	ctx := cmd.Context()
	started := opts.Now()

	found, err := discover.Find(args, p.settings.discover)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to discover files", err)
	}
	if len(found.Checks) == 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("no check files found in %v", args))
	}
	if len(found.Data) == 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("no data files found in %v", args))
	}
	opts.Logger.Debug().
		Int("checks", len(found.Checks)).
		Int("data", len(found.Data)).
		Msg("discovered files")

	agg := results.NewAggregator()
	checks := p.loadScripts(ctx, found.Checks, agg)
	if !hasCheck(checks) && len(agg.Errors()) == 0 && ctx.Err() == nil {
		return NewExitError(ExitCommandError, fmt.Sprintf("no check files found in %v: every script is a library without a Check function", args))
	}
	docs := p.loadDocuments(found.Data, agg)

	eng := engine.New(p.loader,
		engine.WithLogger(p.logger),
		engine.WithTimeout(p.settings.timeout),
		engine.WithWorkers(p.settings.workers),
	)
	if err := eng.Run(ctx, checks, docs, agg); err != nil {
		return WrapExitError(ExitCommandError, "check run interrupted", err)
	}
	finished := opts.Now()

	f := opts.formatter(cmd)
	display := f.Relativize(agg)

	runID, recErr := opts.record(ctx, p.settings.record, store.CommandCheck, args, started, finished, display)
	reportErr := writeCheckReport(f, newCheckReport(display, runID))
	if recErr != nil {
		return WrapExitError(ExitCommandError, "failed to record run", recErr)
	}
	return reportErr
}

func hasCheck(scripts []*script.Script) bool {
	for _, s := range scripts {
		if s.Kind == script.KindCheck {
			return true
		}
	}
	return false
}
