package script

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/ast"
	"github.com/yuin/gopher-lua/parse"

	"github.com/roach88/checkonaut/internal/hostapi"
	"github.com/roach88/checkonaut/internal/ir"
)

// DefaultCacheSize bounds the compiled-script cache.
const DefaultCacheSize = 512

// removedGlobals are base-library functions that reach the filesystem or
// evaluate arbitrary source.
var removedGlobals = []string{"dofile", "loadfile", "load", "loadstring"}

var sandboxLibs = []struct {
	name string
	open lua.LGFunction
}{
	{lua.LoadLibName, lua.OpenPackage}, // must be first
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
}

type compiled struct {
	proto    *lua.FunctionProto
	declared []string
}

// Loader compiles scripts and creates sandboxed states for them.
// A Loader is safe for concurrent use.
type Loader struct {
	host      *hostapi.Registry
	cache     *lru.Cache[string, *compiled]
	cacheSize int
	logger    zerolog.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithCacheSize sets the number of compiled scripts kept in memory.
func WithCacheSize(n int) LoaderOption {
	return func(l *Loader) {
		l.cacheSize = n
	}
}

// WithLogger sets the loader's logger.
func WithLogger(logger zerolog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// NewLoader creates a Loader whose states expose the functions in host.
// A nil host exposes no host functions beyond the null sentinel.
func NewLoader(host *hostapi.Registry, opts ...LoaderOption) (*Loader, error) {
	if host == nil {
		host = hostapi.NewRegistry()
	}
	l := &Loader{
		host:      host,
		cacheSize: DefaultCacheSize,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.cacheSize <= 0 {
		l.cacheSize = DefaultCacheSize
	}

	cache, err := lru.New[string, *compiled](l.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create script cache: %w", err)
	}
	l.cache = cache
	return l, nil
}

// Compile reads and compiles the script at path without executing it.
// Test files are classified as KindTest; every other file is reported as
// KindLibrary until Load executes it.
func (l *Loader) Compile(path string) (*Script, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	src, err := os.ReadFile(abs)
	if err != nil {
		return nil, &LoadError{Path: abs, Err: err}
	}
	return l.CompileSource(abs, src)
}

// CompileSource compiles src as the script at path. Compiled prototypes are
// cached by path and content digest.
func (l *Loader) CompileSource(path string, src []byte) (*Script, error) {
	digest := ir.ScriptDigest(src)
	key := path + "\x00" + digest

	c, ok := l.cache.Get(key)
	if !ok {
		chunk, err := parse.Parse(bytes.NewReader(src), path)
		if err != nil {
			return nil, &LoadError{Path: path, Err: err}
		}
		proto, err := lua.Compile(chunk, path)
		if err != nil {
			return nil, &LoadError{Path: path, Err: err}
		}
		c = &compiled{proto: proto, declared: declaredFunctions(chunk)}
		l.cache.Add(key, c)
		l.logger.Debug().Str("path", path).Str("digest", digest[:12]).Msg("compiled script")
	}

	kind := KindLibrary
	if IsTestFile(path) {
		kind = KindTest
	}
	return &Script{
		Path:     path,
		Digest:   digest,
		Kind:     kind,
		proto:    c.proto,
		declared: c.declared,
	}, nil
}

// Load compiles the script at path and classifies it. Non-test scripts are
// executed once in a throwaway state to find out whether they define the
// entrypoint; ctx bounds that execution.
func (l *Loader) Load(ctx context.Context, path string) (*Script, error) {
	s, err := l.Compile(path)
	if err != nil {
		return nil, err
	}
	if s.Kind == KindTest {
		return s, nil
	}

	inst, err := l.Instantiate(ctx, s)
	if err != nil {
		return nil, err
	}
	defer inst.Close()

	if inst.HasFunction(EntrypointName) {
		s.Kind = KindCheck
	}
	l.logger.Debug().Str("path", s.Path).Stringer("kind", s.Kind).Msg("classified script")
	return s, nil
}

// NewState creates a sandboxed state. Only the base, package, table, string
// and math libraries are opened, functions that load source are removed,
// and require resolves modules from dir only. Host functions are installed
// as globals and as the checkonaut module.
func (l *Loader) NewState(dir string) (*lua.LState, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	for _, lib := range sandboxLibs {
		err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.open),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name))
		if err != nil {
			L.Close()
			return nil, fmt.Errorf("open %q library: %w", lib.name, err)
		}
	}

	for _, name := range removedGlobals {
		L.SetGlobal(name, lua.LNil)
	}

	pkg, ok := L.GetGlobal("package").(*lua.LTable)
	if !ok {
		L.Close()
		return nil, fmt.Errorf("package library not available")
	}
	// require consults the registry's loader list, which package.loaders
	// aliases. Keep the preload searcher and replace the path searcher with
	// one bound to dir, so reassigning package.path has no effect.
	loaders, ok := L.GetField(L.Get(lua.RegistryIndex), "_LOADERS").(*lua.LTable)
	if !ok {
		L.Close()
		return nil, fmt.Errorf("package loaders not available")
	}
	preload := loaders.RawGetInt(1)
	for i := loaders.Len(); i >= 1; i-- {
		loaders.RawSetInt(i, lua.LNil)
	}
	loaders.RawSetInt(1, preload)
	loaders.RawSetInt(2, L.NewFunction(l.dirSearcher(dir)))

	pkg.RawSetString("path", lua.LString(ModulePath(dir)))
	pkg.RawSetString("cpath", lua.LString(""))
	pkg.RawSetString("loadlib", lua.LNil)

	l.host.Install(L)
	return L, nil
}

// ModulePath returns the search path require uses for scripts in dir. It is
// exposed as package.path for reference only.
func ModulePath(dir string) string {
	return filepath.Join(dir, "?.lua") + ";" + filepath.Join(dir, "?", "init.lua")
}

var moduleName = regexp.MustCompile(`^[A-Za-z0-9_-]+(\.[A-Za-z0-9_-]+)*$`)

// dirSearcher returns a require searcher that resolves name to
// dir/name.lua or dir/name/init.lua, dots in name separating directories.
// Files resolving outside dir, including through symlinks, are not found.
func (l *Loader) dirSearcher(dir string) lua.LGFunction {
	return func(L *lua.LState) int {
		name := L.CheckString(1)
		if !moduleName.MatchString(name) {
			L.Push(lua.LString(fmt.Sprintf("\n\tinvalid module name '%s'", name)))
			return 1
		}
		rel := filepath.FromSlash(strings.ReplaceAll(name, ".", "/"))

		var tried strings.Builder
		for _, candidate := range []string{rel + ".lua", filepath.Join(rel, "init.lua")} {
			path := filepath.Join(dir, candidate)
			if !insideDir(dir, path) {
				fmt.Fprintf(&tried, "\n\tno file '%s'", path)
				continue
			}
			s, err := l.Compile(path)
			if errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(&tried, "\n\tno file '%s'", path)
				continue
			}
			if err != nil {
				L.RaiseError("error loading module '%s': %s", name, err.Error())
				return 0
			}
			L.Push(L.NewFunctionFromProto(s.proto))
			return 1
		}
		L.Push(lua.LString(tried.String()))
		return 1
	}
}

// insideDir reports whether path, with symlinks resolved, lies in dir. A
// path that does not exist is reported as inside so the caller sees
// os.ErrNotExist.
func insideDir(dir, path string) bool {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return errors.Is(err, os.ErrNotExist)
	}
	realDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(realDir, resolved)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Instantiate creates a state in the script's directory and executes the
// script in it.
func (l *Loader) Instantiate(ctx context.Context, s *Script) (*Instance, error) {
	inst, err := l.NewInstance(s)
	if err != nil {
		return nil, err
	}
	if err := inst.Exec(ctx, s); err != nil {
		inst.Close()
		return nil, err
	}
	return inst, nil
}

// NewInstance creates a state in the script's directory without executing
// anything in it. Scripts are then run with Instance.Exec.
func (l *Loader) NewInstance(s *Script) (*Instance, error) {
	L, err := l.NewState(s.Dir())
	if err != nil {
		return nil, &LoadError{Path: s.Path, Err: err}
	}
	return &Instance{Script: s, L: L}, nil
}

// declaredFunctions returns the names of global functions defined at the top
// level of chunk, in source order:
//
//	function Name() ... end
//	Name = function() ... end
func declaredFunctions(chunk []ast.Stmt) []string {
	var names []string
	seen := make(map[string]bool)
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	for _, stmt := range chunk {
		switch st := stmt.(type) {
		case *ast.FuncDefStmt:
			if st.Name == nil || st.Name.Receiver != nil {
				continue
			}
			if id, ok := st.Name.Func.(*ast.IdentExpr); ok {
				add(id.Value)
			}
		case *ast.AssignStmt:
			for i, lhs := range st.Lhs {
				id, ok := lhs.(*ast.IdentExpr)
				if !ok || i >= len(st.Rhs) {
					continue
				}
				if _, isFunc := st.Rhs[i].(*ast.FunctionExpr); isFunc {
					add(id.Value)
				}
			}
		}
	}
	return names
}
