// Package discover finds check scripts, test scripts and data files.
//
// Files are classified by name only:
//
//	*_test.lua                        test script
//	*.lua                             check script (or library, decided at load)
//	*.json *.yaml *.yml *.toml *.cue  data file
//
// Names starting with a period are skipped unless enabled: dotfiles for
// files, dotdirs for directories. Paths given explicitly are never filtered.
package discover

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/roach88/checkonaut/internal/document"
	"github.com/roach88/checkonaut/internal/script"
)

// Class is the role of a discovered file.
type Class int

const (
	ClassOther Class = iota
	ClassCheck
	ClassTest
	ClassData
)

func (c Class) String() string {
	switch c {
	case ClassCheck:
		return "check"
	case ClassTest:
		return "test"
	case ClassData:
		return "data"
	default:
		return "other"
	}
}

// Classify determines a file's role from its name.
func Classify(path string) Class {
	switch {
	case script.IsTestFile(path):
		return ClassTest
	case strings.EqualFold(filepath.Ext(path), ".lua"):
		return ClassCheck
	}
	if _, ok := document.FormatForPath(path); ok {
		return ClassData
	}
	return ClassOther
}

// Options controls which entries are visited.
type Options struct {
	Dotfiles    bool
	Dotdirs     bool
	FollowLinks bool
}

// Result lists discovered files by class. Paths are absolute, deduplicated
// and sorted.
type Result struct {
	Checks []string
	Tests  []string
	Data   []string
}

// Empty reports whether nothing was found.
func (r *Result) Empty() bool {
	return len(r.Checks) == 0 && len(r.Tests) == 0 && len(r.Data) == 0
}

// Find walks paths and classifies every file found.
func Find(paths []string, opts Options) (*Result, error) {
	f := &finder{
		opts:    opts,
		seen:    make(map[string]bool),
		visited: make(map[string]bool),
		result:  &Result{},
	}

	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", p, err)
		}
		if info.IsDir() {
			if err := f.walk(abs); err != nil {
				return nil, err
			}
			continue
		}
		f.add(abs)
	}

	sort.Strings(f.result.Checks)
	sort.Strings(f.result.Tests)
	sort.Strings(f.result.Data)
	return f.result, nil
}

type finder struct {
	opts    Options
	seen    map[string]bool
	visited map[string]bool // resolved directories, guards symlink cycles
	result  *Result
}

func (f *finder) walk(root string) error {
	if real, err := filepath.EvalSymlinks(root); err == nil {
		if f.visited[real] {
			return nil
		}
		f.visited[real] = true
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}

		dot := strings.HasPrefix(d.Name(), ".")
		switch {
		case d.IsDir():
			if dot && !f.opts.Dotdirs {
				return filepath.SkipDir
			}
			return nil
		case d.Type()&fs.ModeSymlink != 0:
			if !f.opts.FollowLinks {
				return nil
			}
			return f.followLink(path, dot)
		case d.Type().IsRegular():
			if dot && !f.opts.Dotfiles {
				return nil
			}
			f.add(path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk directory %s: %w", root, err)
	}
	return nil
}

func (f *finder) followLink(path string, dot bool) error {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil // dangling link
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		if dot && !f.opts.Dotdirs {
			return nil
		}
		return f.walk(path)
	}
	if dot && !f.opts.Dotfiles {
		return nil
	}
	if info.Mode().IsRegular() {
		f.add(path)
	}
	return nil
}

func (f *finder) add(path string) {
	if f.seen[path] {
		return
	}
	f.seen[path] = true

	switch Classify(path) {
	case ClassCheck:
		f.result.Checks = append(f.result.Checks, path)
	case ClassTest:
		f.result.Tests = append(f.result.Tests, path)
	case ClassData:
		f.result.Data = append(f.result.Data, path)
	}
}
