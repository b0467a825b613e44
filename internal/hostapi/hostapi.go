// Package hostapi defines the host functions visible to check and test
// scripts.
//
// The surface is an explicit registration table: a script can reach nothing
// on the host beyond the functions registered here. New capabilities are
// added by registering a function, never by opening more of the sandbox.
package hostapi

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	lua "github.com/yuin/gopher-lua"

	"github.com/roach88/checkonaut/internal/bridge"
	"github.com/roach88/checkonaut/internal/document"
)

// ModuleName is the name scripts pass to require to get the host module.
const ModuleName = "checkonaut"

// LegacyModuleName is accepted for scripts written against older releases.
const LegacyModuleName = "@checkonaut"

// ErrDuplicateFunction is returned when a name is registered twice.
var ErrDuplicateFunction = errors.New("host function already registered")

// Function is one registered host capability.
type Function struct {
	Name string
	Fn   lua.LGFunction
}

// Registry is an ordered table of host functions.
// Register everything before the registry is shared; Install may then be
// called concurrently for different states.
type Registry struct {
	funcs []Function
	names map[string]bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]bool)}
}

// Register adds a host function. Names must be unique.
func (r *Registry) Register(name string, fn lua.LGFunction) error {
	if name == "" {
		return errors.New("host function name must not be empty")
	}
	if r.names[name] {
		return fmt.Errorf("%w: %s", ErrDuplicateFunction, name)
	}
	r.names[name] = true
	r.funcs = append(r.funcs, Function{Name: name, Fn: fn})
	return nil
}

// Names returns registered function names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.funcs))
	for i, f := range r.funcs {
		names[i] = f.Name
	}
	return names
}

// Install injects every registered function into L as a global and as a
// field of the preloaded host module. It also installs the value bridge,
// whose null sentinel is exported as module field `null`.
func (r *Registry) Install(L *lua.LState) {
	bridge.Install(L)

	for _, f := range r.funcs {
		L.SetGlobal(f.Name, L.NewFunction(f.Fn))
	}

	loader := func(L *lua.LState) int {
		mod := L.NewTable()
		for _, f := range r.funcs {
			mod.RawSetString(f.Name, L.NewFunction(f.Fn))
		}
		mod.RawSetString(bridge.NullName, bridge.Null(L))
		L.Push(mod)
		return 1
	}
	L.PreloadModule(ModuleName, loader)
	L.PreloadModule(LegacyModuleName, loader)
}

// Options configures the default host functions.
type Options struct {
	// Root is the directory ReadJSON resolves relative paths against.
	// Defaults to the working directory.
	Root string

	// PatternCacheSize bounds the compiled-regexp cache used by Matches.
	PatternCacheSize int
}

// DefaultPatternCacheSize is used when Options.PatternCacheSize is zero.
const DefaultPatternCacheSize = 256

// Default returns a registry holding the standard host functions:
//
//	ReadJSON(path) -> value     parse a JSON file under the configured root
//	Matches(str, pattern) -> bool  RE2 regular expression match
func Default(opts Options) (*Registry, error) {
	root := opts.Root
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("determine working directory: %w", err)
		}
		root = wd
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", root, err)
	}

	size := opts.PatternCacheSize
	if size <= 0 {
		size = DefaultPatternCacheSize
	}
	patterns, err := lru.New[string, *regexp.Regexp](size)
	if err != nil {
		return nil, fmt.Errorf("create pattern cache: %w", err)
	}

	r := NewRegistry()
	if err := r.Register("ReadJSON", readJSON(root)); err != nil {
		return nil, err
	}
	if err := r.Register("Matches", matches(patterns)); err != nil {
		return nil, err
	}
	return r, nil
}

// ResolvePath maps a script-supplied path onto the filesystem. Relative
// paths are joined to root; the result must stay inside root, both as
// written and after symlinks are followed. A path that does not exist is
// returned as written so the read reports it missing.
func ResolvePath(root, path string) (string, error) {
	if path == "" {
		return "", errors.New("path must not be empty")
	}
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(root, full)
	}
	full = filepath.Clean(full)

	outside := fmt.Errorf("path %q is outside of root %s", path, root)
	if !within(root, full) {
		return "", outside
	}

	resolved, err := filepath.EvalSymlinks(full)
	if errors.Is(err, os.ErrNotExist) {
		return full, nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", path, err)
	}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("resolve root %s: %w", root, err)
	}
	if !within(realRoot, resolved) {
		return "", outside
	}
	return full, nil
}

func within(root, path string) bool {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, absPath)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func readJSON(root string) lua.LGFunction {
	return func(L *lua.LState) int {
		path := L.CheckString(1)

		full, err := ResolvePath(root, path)
		if err != nil {
			L.RaiseError("ReadJSON: %v", err)
			return 0
		}

		data, err := os.ReadFile(full)
		if err != nil {
			L.RaiseError("ReadJSON: failed to read '%s': %v", full, err)
			return 0
		}

		value, err := document.DecodeJSON(data)
		if err != nil {
			L.RaiseError("ReadJSON: failed to parse JSON in '%s': %v", full, err)
			return 0
		}

		L.Push(bridge.ToLua(L, value))
		return 1
	}
}

func matches(patterns *lru.Cache[string, *regexp.Regexp]) lua.LGFunction {
	return func(L *lua.LState) int {
		str := L.CheckString(1)
		pattern := L.CheckString(2)

		re, ok := patterns.Get(pattern)
		if !ok {
			var err error
			re, err = regexp.Compile(pattern)
			if err != nil {
				L.RaiseError("Matches: invalid regex pattern '%s': %v", pattern, err)
				return 0
			}
			patterns.Add(pattern, re)
		}

		L.Push(lua.LBool(re.MatchString(str)))
		return 1
	}
}
