package script

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// ErrNotFunction is returned when a called global is not a function.
var ErrNotFunction = errors.New("global is not a function")

// Instance is script-instance state: one sandboxed state holding a loaded
// script. Globals set by the script persist across calls on the same
// Instance and are invisible to every other Instance.
//
// An Instance is not safe for concurrent use.
type Instance struct {
	Script *Script
	L      *lua.LState

	// loaded lists the scripts executed in L, in execution order.
	loaded []*Script
}

// Exec runs another compiled script in the instance's state. It is used to
// bind a check script into its test script's environment.
func (i *Instance) Exec(ctx context.Context, s *Script) error {
	i.L.SetContext(ctx)
	defer i.L.RemoveContext()

	fn := i.L.NewFunctionFromProto(s.proto)
	if err := i.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
		return &LoadError{Path: s.Path, Err: luaError(err)}
	}
	i.loaded = append(i.loaded, s)
	return nil
}

// HasFunction reports whether the global name holds a function.
func (i *Instance) HasFunction(name string) bool {
	_, ok := i.L.GetGlobal(name).(*lua.LFunction)
	return ok
}

// Call invokes the global function name with args and returns its first
// result. Surplus arguments are ignored by Lua, so functions declaring fewer
// parameters still work. ctx bounds the call; errors raised by the script
// are returned as *RaisedError.
func (i *Instance) Call(ctx context.Context, name string, args ...lua.LValue) (lua.LValue, error) {
	fn, ok := i.L.GetGlobal(name).(*lua.LFunction)
	if !ok {
		return lua.LNil, fmt.Errorf("%w: %s", ErrNotFunction, name)
	}

	i.L.SetContext(ctx)
	defer i.L.RemoveContext()

	if err := i.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...); err != nil {
		return lua.LNil, luaError(err)
	}
	ret := i.L.Get(-1)
	i.L.Pop(1)
	return ret, nil
}

// Functions returns the global functions whose names start with prefix.
// Functions defined at the top level of a loaded script come first, in
// definition order; functions created dynamically follow, sorted by name.
func (i *Instance) Functions(prefix string) []string {
	var names []string
	seen := make(map[string]bool)

	for _, s := range i.loaded {
		for _, name := range s.declared {
			if seen[name] || !strings.HasPrefix(name, prefix) || !i.HasFunction(name) {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
	}

	var dynamic []string
	i.L.G.Global.ForEach(func(k, v lua.LValue) {
		name, ok := k.(lua.LString)
		if !ok || seen[string(name)] || !strings.HasPrefix(string(name), prefix) {
			return
		}
		if _, isFunc := v.(*lua.LFunction); isFunc {
			dynamic = append(dynamic, string(name))
		}
	})
	sort.Strings(dynamic)

	return append(names, dynamic...)
}

// Close releases the state.
func (i *Instance) Close() {
	i.L.Close()
}

// RaisedError is an error raised by Lua code, without the interpreter's
// stack trace.
type RaisedError struct {
	Message    string
	StackTrace string
}

func (e *RaisedError) Error() string {
	return e.Message
}

func luaError(err error) error {
	var apiErr *lua.ApiError
	if !errors.As(err, &apiErr) {
		return err
	}
	msg := apiErr.Error()
	if apiErr.Object != nil {
		msg = apiErr.Object.String()
	}
	return &RaisedError{Message: msg, StackTrace: apiErr.StackTrace}
}
