package script

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"

	"github.com/roach88/checkonaut/internal/hostapi"
)

func writeScript(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(src), 0644))
	return path
}

func newLoader(t *testing.T, root string) *Loader {
	t.Helper()
	host, err := hostapi.Default(hostapi.Options{Root: root})
	require.NoError(t, err)
	l, err := NewLoader(host)
	require.NoError(t, err)
	return l
}

func TestIsTestFile(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/a/ns_test.lua", true},
		{"/a/NS_TEST.LUA", true},
		{"/a/ns.lua", false},
		{"/a/test.lua", false},
		{"/a_test.lua/ns.lua", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTestFile(tt.path))
		})
	}
}

func TestSiblingCheckPath(t *testing.T) {
	got, ok := SiblingCheckPath("/checks/namespace_test.lua")
	require.True(t, ok)
	assert.Equal(t, "/checks/namespace.lua", got)

	_, ok = SiblingCheckPath("/checks/namespace.lua")
	assert.False(t, ok)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "library", KindLibrary.String())
	assert.Equal(t, "check", KindCheck.String())
	assert.Equal(t, "test", KindTest.String())
}

func TestLoadClassifies(t *testing.T) {
	dir := t.TempDir()
	l := newLoader(t, dir)

	check := writeScript(t, dir, "ns.lua", `function Check(obj) return nil end`)
	lib := writeScript(t, dir, "util.lua", `local M = {} function M.f() end return M`)
	test := writeScript(t, dir, "ns_test.lua", `
		function Check(obj) return "never called" end
		function TestA() end
	`)

	tests := []struct {
		path string
		want Kind
	}{
		{check, KindCheck},
		{lib, KindLibrary},
		{test, KindTest},
	}
	for _, tt := range tests {
		t.Run(filepath.Base(tt.path), func(t *testing.T) {
			s, err := l.Load(context.Background(), tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Kind)
			assert.Equal(t, tt.path, s.Path)
		})
	}
}

func TestLoadCheckAssignedAsFunction(t *testing.T) {
	dir := t.TempDir()
	l := newLoader(t, dir)
	path := writeScript(t, dir, "assigned.lua", `Check = function() end`)

	s, err := l.Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, KindCheck, s.Kind)
}

func TestLoadNonFunctionCheckIsLibrary(t *testing.T) {
	dir := t.TempDir()
	l := newLoader(t, dir)
	path := writeScript(t, dir, "value.lua", `Check = "not a function"`)

	s, err := l.Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, KindLibrary, s.Kind)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"syntax error", `function Check(`},
		{"runtime error", `error("boom at load")`},
		{"removed global", `dofile("x.lua")`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			l := newLoader(t, dir)
			path := writeScript(t, dir, "bad.lua", tt.src)

			_, err := l.Load(context.Background(), path)
			require.Error(t, err)

			var loadErr *LoadError
			require.True(t, errors.As(err, &loadErr))
			assert.Equal(t, path, loadErr.Path)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	l := newLoader(t, t.TempDir())
	_, err := l.Load(context.Background(), filepath.Join(t.TempDir(), "nope.lua"))

	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestSandboxedState(t *testing.T) {
	dir := t.TempDir()
	l := newLoader(t, dir)

	L, err := l.NewState(dir)
	require.NoError(t, err)
	defer L.Close()

	require.NoError(t, L.DoString(`
		has_io = io ~= nil
		has_os = os ~= nil
		has_dofile = dofile ~= nil
		has_load = load ~= nil
		has_loadstring = loadstring ~= nil
		has_loadfile = loadfile ~= nil
		has_string = string.format("%d", 3) == "3"
		has_math = math.floor(1.5) == 1
		has_table = table.concat({"a", "b"}) == "ab"
		has_read = type(ReadJSON) == "function"
	`))

	for _, name := range []string{"has_io", "has_os", "has_dofile", "has_load", "has_loadstring", "has_loadfile"} {
		assert.Equal(t, lua.LFalse, L.GetGlobal(name), name)
	}
	for _, name := range []string{"has_string", "has_math", "has_table", "has_read"} {
		assert.Equal(t, lua.LTrue, L.GetGlobal(name), name)
	}
}

func TestSandboxedRequire(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	writeScript(t, outside, "secret.lua", `return "leaked"`)
	writeScript(t, dir, "local.lua", `return "local"`)
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret.lua"), filepath.Join(dir, "linked.lua")))

	l := newLoader(t, dir)
	L, err := l.NewState(dir)
	require.NoError(t, err)
	defer L.Close()

	tests := []struct {
		name string
		src  string
	}{
		{"reassigned path", `package.path = "` + filepath.Join(outside, "?.lua") + `"; return require("secret")`},
		{"parent directory", `return require("../` + filepath.Base(outside) + `/secret")`},
		{"absolute name", `return require("` + filepath.Join(outside, "secret") + `")`},
		{"symlink out of directory", `return require("linked")`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := L.DoString(tt.src)
			require.Error(t, err)
			assert.NotContains(t, err.Error(), "leaked")
		})
	}

	t.Run("loadlib removed", func(t *testing.T) {
		require.NoError(t, L.DoString(`has_loadlib = package.loadlib ~= nil`))
		assert.Equal(t, lua.LFalse, L.GetGlobal("has_loadlib"))
	})

	t.Run("directory modules still resolve", func(t *testing.T) {
		require.NoError(t, L.DoString(`package.path = ""; local_value = require("local")`))
		assert.Equal(t, lua.LString("local"), L.GetGlobal("local_value"))
	})
}

func TestRequireFromScriptDirectory(t *testing.T) {
	dir := t.TempDir()
	l := newLoader(t, dir)

	writeScript(t, dir, "helpers.lua", `
		local M = {}
		function M.missing_name(obj) return obj.metadata.name == nil end
		return M
	`)
	writeScript(t, dir, filepath.Join("shared", "init.lua"), `return { answer = 42 }`)
	path := writeScript(t, dir, "ns.lua", `
		local helpers = require("helpers")
		local shared = require("shared")
		function Check(obj)
			if helpers.missing_name(obj) then return "missing" end
			return shared.answer
		end
	`)

	s, err := l.Load(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, KindCheck, s.Kind)
}

func TestCompileCache(t *testing.T) {
	dir := t.TempDir()
	l := newLoader(t, dir)
	path := writeScript(t, dir, "c.lua", `function Check() end`)

	a, err := l.Compile(path)
	require.NoError(t, err)
	b, err := l.Compile(path)
	require.NoError(t, err)
	assert.Same(t, a.proto, b.proto, "unchanged source is served from the cache")

	require.NoError(t, os.WriteFile(path, []byte(`function Check() return "x" end`), 0644))
	c, err := l.Compile(path)
	require.NoError(t, err)
	assert.NotSame(t, a.proto, c.proto)
	assert.NotEqual(t, a.Digest, c.Digest)
}

func TestInstanceStatePersistsAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	l := newLoader(t, dir)
	s, err := l.Compile(writeScript(t, dir, "counter.lua", `
		local count = 0
		function Check()
			count = count + 1
			return count
		end
	`))
	require.NoError(t, err)

	inst, err := l.Instantiate(context.Background(), s)
	require.NoError(t, err)
	defer inst.Close()

	for want := 1; want <= 3; want++ {
		ret, err := inst.Call(context.Background(), EntrypointName)
		require.NoError(t, err)
		assert.Equal(t, lua.LNumber(want), ret)
	}
}

func TestInstancesAreIsolated(t *testing.T) {
	dir := t.TempDir()
	l := newLoader(t, dir)

	a, err := l.Compile(writeScript(t, dir, "a.lua", `shared = "from a"`))
	require.NoError(t, err)
	b, err := l.Compile(writeScript(t, dir, "b.lua", `function Check() return shared end`))
	require.NoError(t, err)

	ia, err := l.Instantiate(context.Background(), a)
	require.NoError(t, err)
	defer ia.Close()
	ib, err := l.Instantiate(context.Background(), b)
	require.NoError(t, err)
	defer ib.Close()

	ret, err := ib.Call(context.Background(), EntrypointName)
	require.NoError(t, err)
	assert.Equal(t, lua.LNil, ret)
}

func TestCallIgnoresSurplusArguments(t *testing.T) {
	dir := t.TempDir()
	l := newLoader(t, dir)
	s, err := l.Compile(writeScript(t, dir, "zero.lua", `function Check() return "ok" end`))
	require.NoError(t, err)

	inst, err := l.Instantiate(context.Background(), s)
	require.NoError(t, err)
	defer inst.Close()

	ret, err := inst.Call(context.Background(), EntrypointName, lua.LString("obj"), inst.L.NewTable())
	require.NoError(t, err)
	assert.Equal(t, lua.LString("ok"), ret)
}

func TestCallRaisedError(t *testing.T) {
	dir := t.TempDir()
	l := newLoader(t, dir)
	s, err := l.Compile(writeScript(t, dir, "raise.lua", `function Check() error("bad object") end`))
	require.NoError(t, err)

	inst, err := l.Instantiate(context.Background(), s)
	require.NoError(t, err)
	defer inst.Close()

	_, err = inst.Call(context.Background(), EntrypointName)
	var raised *RaisedError
	require.True(t, errors.As(err, &raised))
	assert.Contains(t, raised.Message, "bad object")
	assert.NotContains(t, raised.Error(), "stack traceback")

	ret, err := inst.Call(context.Background(), EntrypointName)
	require.Error(t, err, "state stays usable after an error")
	assert.Equal(t, lua.LNil, ret)
}

func TestCallMissingFunction(t *testing.T) {
	dir := t.TempDir()
	l := newLoader(t, dir)
	s, err := l.Compile(writeScript(t, dir, "lib.lua", `x = 1`))
	require.NoError(t, err)

	inst, err := l.Instantiate(context.Background(), s)
	require.NoError(t, err)
	defer inst.Close()

	_, err = inst.Call(context.Background(), EntrypointName)
	require.ErrorIs(t, err, ErrNotFunction)
}

func TestCallTimeout(t *testing.T) {
	dir := t.TempDir()
	l := newLoader(t, dir)
	s, err := l.Compile(writeScript(t, dir, "loop.lua", `function Check() while true do end end`))
	require.NoError(t, err)

	inst, err := l.Instantiate(context.Background(), s)
	require.NoError(t, err)
	defer inst.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = inst.Call(ctx, EntrypointName)
	require.Error(t, err)
	assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
}

func TestFunctionsInDefinitionOrder(t *testing.T) {
	dir := t.TempDir()
	l := newLoader(t, dir)
	s, err := l.Compile(writeScript(t, dir, "order_test.lua", `
		function TestZeta() end
		TestAlpha = function() end
		local function TestLocal() end
		function helper() end
		function TestMiddle() end
		for _, n in ipairs({"TestDynamicB", "TestDynamicA"}) do
			_G[n] = function() end
		end
		TestNotAFunction = 1
	`))
	require.NoError(t, err)

	inst, err := l.Instantiate(context.Background(), s)
	require.NoError(t, err)
	defer inst.Close()

	assert.Equal(t, []string{
		"TestZeta", "TestAlpha", "TestMiddle",
		"TestDynamicA", "TestDynamicB",
	}, inst.Functions(TestPrefix))
}

func TestExecBindsSecondScript(t *testing.T) {
	dir := t.TempDir()
	l := newLoader(t, dir)

	check, err := l.Compile(writeScript(t, dir, "ns.lua", `function Check() return "from check" end`))
	require.NoError(t, err)
	test, err := l.Compile(writeScript(t, dir, "ns_test.lua", `function TestCheck() assert(Check() == "from check") end`))
	require.NoError(t, err)

	inst, err := l.NewInstance(test)
	require.NoError(t, err)
	defer inst.Close()
	assert.Empty(t, inst.Functions(TestPrefix), "nothing runs before Exec")

	require.NoError(t, inst.Exec(context.Background(), check))
	require.NoError(t, inst.Exec(context.Background(), test))

	_, err = inst.Call(context.Background(), "TestCheck")
	require.NoError(t, err)
}
