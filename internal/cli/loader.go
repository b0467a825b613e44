package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/roach88/checkonaut/internal/config"
	"github.com/roach88/checkonaut/internal/discover"
	"github.com/roach88/checkonaut/internal/document"
	"github.com/roach88/checkonaut/internal/harness"
	"github.com/roach88/checkonaut/internal/hostapi"
	"github.com/roach88/checkonaut/internal/results"
	"github.com/roach88/checkonaut/internal/script"
)

// runFlags are the flags shared by check and test. Each command registers
// the subset it supports.
type runFlags struct {
	Dotfiles    bool
	Dotdirs     bool
	FollowLinks bool
	Root        string
	Timeout     time.Duration
	Workers     int
	Record      string
	Binding     string
}

func (f *runFlags) addDiscoveryFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.Dotfiles, "dotfiles", false, "include files whose name starts with a period")
	cmd.Flags().BoolVar(&f.Dotdirs, "dotdirs", false, "descend into directories whose name starts with a period")
	cmd.Flags().BoolVar(&f.FollowLinks, "follow-links", false, "follow symbolic links")
}

func (f *runFlags) addExecutionFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.Root, "root", "", "base directory for ReadJSON (default from config, else .)")
	cmd.Flags().DurationVar(&f.Timeout, "timeout", 0, "time limit per script load and per invocation (default 10s)")
	cmd.Flags().IntVar(&f.Workers, "workers", 0, "files evaluated concurrently (default GOMAXPROCS)")
	cmd.Flags().StringVar(&f.Record, "record", "", "archive the run in this SQLite database")
}

// settings are the effective options of one run: configuration first,
// then any flag the user set explicitly.
type settings struct {
	discover  discover.Options
	root      string
	timeout   time.Duration
	workers   int
	cacheSize int
	record    string
	binding   harness.Binding
}

func resolveSettings(cmd *cobra.Command, cfg *config.Config, f *runFlags) (settings, error) {
	s := settings{
		discover: discover.Options{
			Dotfiles:    cfg.Dotfiles,
			Dotdirs:     cfg.Dotdirs,
			FollowLinks: cfg.FollowLinks,
		},
		root:      cfg.Root,
		timeout:   cfg.Timeout,
		workers:   cfg.Workers,
		cacheSize: cfg.CacheSize,
		record:    cfg.Record,
	}
	binding := cfg.Binding

	changed := cmd.Flags().Changed
	if changed("dotfiles") {
		s.discover.Dotfiles = f.Dotfiles
	}
	if changed("dotdirs") {
		s.discover.Dotdirs = f.Dotdirs
	}
	if changed("follow-links") {
		s.discover.FollowLinks = f.FollowLinks
	}
	if changed("root") {
		s.root = f.Root
	}
	if changed("timeout") {
		if f.Timeout <= 0 {
			return settings{}, errors.New("--timeout must be positive")
		}
		s.timeout = f.Timeout
	}
	if changed("workers") {
		if f.Workers < 0 {
			return settings{}, errors.New("--workers must not be negative")
		}
		s.workers = f.Workers
	}
	if changed("record") {
		s.record = f.Record
	}
	if changed("binding") {
		binding = f.Binding
	}

	b, err := harness.ParseBinding(binding)
	if err != nil {
		return settings{}, err
	}
	s.binding = b
	return s, nil
}

// pipeline turns discovered files into scripts and documents. Its loader,
// and therefore the compiled script cache, lives as long as the pipeline.
type pipeline struct {
	settings settings
	loader   *script.Loader
	logger   zerolog.Logger
}

func newPipeline(s settings, logger zerolog.Logger) (*pipeline, error) {
	host, err := hostapi.Default(hostapi.Options{Root: s.root})
	if err != nil {
		return nil, fmt.Errorf("host functions: %w", err)
	}
	loader, err := script.NewLoader(host,
		script.WithCacheSize(s.cacheSize),
		script.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("script loader: %w", err)
	}
	return &pipeline{settings: s, loader: loader, logger: logger}, nil
}

// loadScripts compiles and classifies scripts. A script that fails to load
// is recorded in agg and left out.
func (p *pipeline) loadScripts(ctx context.Context, paths []string, agg *results.Aggregator) []*script.Script {
	scripts := make([]*script.Script, 0, len(paths))
	for _, path := range paths {
		if ctx.Err() != nil {
			break
		}
		loadCtx, cancel := context.WithTimeout(ctx, p.settings.timeout)
		s, err := p.loader.Load(loadCtx, path)
		timedOut := errors.Is(loadCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		cancel()
		if err != nil {
			msg := err.Error()
			if timedOut {
				msg = fmt.Sprintf("loading exceeded time limit of %s", p.settings.timeout)
			}
			p.logger.Warn().Str("path", path).Err(err).Msg("script failed to load")
			agg.AddError(results.ExecError{Kind: results.KindLoad, File: path, Message: msg})
			continue
		}
		scripts = append(scripts, s)
	}
	return scripts
}

// loadDocuments parses data files. A file that fails to parse is recorded
// in agg and left out.
func (p *pipeline) loadDocuments(paths []string, agg *results.Aggregator) []*document.Document {
	docs := make([]*document.Document, 0, len(paths))
	for _, path := range paths {
		doc, err := document.Load(path)
		if err != nil {
			p.logger.Warn().Str("path", path).Err(err).Msg("data file failed to parse")
			agg.AddError(results.ExecError{Kind: results.KindDocument, File: path, Message: err.Error()})
			continue
		}
		p.logger.Debug().Str("path", path).Int("objects", len(doc.Objects)).Msg("loaded document")
		docs = append(docs, doc)
	}
	return docs
}
