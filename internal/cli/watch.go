package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/roach88/checkonaut/internal/discover"
)

// watchQuiet is how long the tree must stay unchanged before a re-run.
const watchQuiet = 150 * time.Millisecond

// watchChecks runs checkOnce, then again after every relevant change, until
// the command's context is cancelled. Failing runs are reported and do not
// stop the loop.
func watchChecks(cmd *cobra.Command, opts *CheckOptions, p *pipeline, args []string) error {
	ctx := cmd.Context()
	log := p.logger

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create watcher", err)
	}
	defer watcher.Close()

	watched := make(map[string]bool)
	for {
		dirs, err := watchDirs(args, p.settings.discover)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to discover files", err)
		}
		for _, dir := range dirs {
			if watched[dir] {
				continue
			}
			// Watch directories, not files: editors that save atomically
			// replace the file.
			if err := watcher.Add(dir); err != nil {
				log.Warn().Err(err).Str("dir", dir).Msg("cannot watch directory")
				continue
			}
			watched[dir] = true
		}

		err = checkOnce(cmd, opts, p, args)
		switch GetExitCode(err) {
		case ExitSuccess, ExitFailure:
		default:
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		}
		log.Info().Int("dirs", len(watched)).Msg("watching for changes")

		if !waitForChange(ctx, watcher, log) {
			return nil
		}
		log.Info().Msg("change detected, re-running checks")
	}
}

// waitForChange blocks until a relevant event is followed by watchQuiet of
// calm. It returns false when ctx is done or the watcher is closed.
func waitForChange(ctx context.Context, w *fsnotify.Watcher, log zerolog.Logger) bool {
	var settle <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return false

		case event, ok := <-w.Events:
			if !ok {
				return false
			}
			if !relevantEvent(event) {
				continue
			}
			log.Debug().
				Str("event", event.Op.String()).
				Str("file", event.Name).
				Msg("file changed")
			settle = time.After(watchQuiet)

		case err, ok := <-w.Errors:
			if !ok {
				return false
			}
			log.Error().Err(err).Msg("file watcher error")

		case <-settle:
			return true
		}
	}
}

// relevantEvent reports whether event can change the outcome of a run: a
// check, test or data file was touched, or a directory was created.
func relevantEvent(event fsnotify.Event) bool {
	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) &&
		!event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
		return false
	}
	if discover.Classify(event.Name) != discover.ClassOther {
		return true
	}
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			return true
		}
	}
	return false
}

// watchDirs lists every directory a run over paths would visit. Files given
// explicitly contribute their parent directory.
func watchDirs(paths []string, opts discover.Options) ([]string, error) {
	seen := make(map[string]bool)
	var dirs []string
	add := func(dir string) {
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}

	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", p, err)
		}
		if !info.IsDir() {
			add(filepath.Dir(abs))
			continue
		}
		err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrPermission) {
					return nil
				}
				return err
			}
			if !d.IsDir() {
				return nil
			}
			if path != abs && strings.HasPrefix(d.Name(), ".") && !opts.Dotdirs {
				return filepath.SkipDir
			}
			add(path)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk directory %s: %w", abs, err)
		}
	}
	return dirs, nil
}
