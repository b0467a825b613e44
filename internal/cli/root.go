package cli

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/roach88/checkonaut/internal/config"
	"github.com/roach88/checkonaut/internal/ir"
	"github.com/roach88/checkonaut/internal/store"
)

// RootOptions holds global flags for all commands, plus the state they
// resolve to before a subcommand runs.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	LogLevel   string
	ConfigPath string

	// Resolved by setup. Tests may preset any of them.
	Config *config.Config
	Logger *zerolog.Logger
	Now    func() time.Time
	IDs    store.IDGenerator
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the checkonaut CLI.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWithOptions(&RootOptions{})
}

// NewRootCommandWithOptions creates the root command around opts, so callers
// can inject a clock or run ID generator.
func NewRootCommandWithOptions(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "checkonaut",
		Short:   "checkonaut - policy checks for structured data",
		Long:    "Evaluate Lua check scripts against JSON, YAML, TOML and CUE documents, and run the checks' own tests.",
		Version: ir.Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output (debug logging)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (trace|debug|info|warn|error), overrides config")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default ./"+config.DefaultFile+" if present)")

	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))

	return cmd
}

// setup validates global flags and resolves configuration, logger, clock and
// ID generator. It is idempotent so subcommands built without the root
// command can call it themselves.
func (o *RootOptions) setup(cmd *cobra.Command) error {
	if o.Format == "" {
		o.Format = "text"
	}
	if !isValidFormat(o.Format) {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", o.Format, ValidFormats))
	}

	if o.Config == nil {
		cfg, err := config.LoadWithFallback(o.ConfigPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load configuration", err)
		}
		o.Config = cfg
	}

	if o.Logger == nil {
		level := o.Config.Logging.Level
		if o.LogLevel != "" {
			level = o.LogLevel
		}
		if o.Verbose {
			level = "debug"
		}
		logger, err := newLogger(cmd.ErrOrStderr(), level, o.Config.Logging.Format)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid logging configuration", err)
		}
		o.Logger = &logger
	}

	if o.Now == nil {
		o.Now = time.Now
	}
	if o.IDs == nil {
		o.IDs = store.UUIDv7Generator{}
	}
	return nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
