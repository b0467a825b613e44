// Package script loads Lua check, library and test scripts into sandboxed
// interpreter states.
//
// A Loader compiles each source file once; the compiled prototype is
// immutable and shared by every state that runs it. Each state is owned by a
// single Instance and must never be used from more than one goroutine.
//
// Classification happens at load time:
//   - a file whose name ends in _test.lua is a test script, whatever it defines
//   - otherwise, a file that defines a global function Check is a check
//   - everything else is a library, available to require but never invoked
package script

import (
	"fmt"
	"path/filepath"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// EntrypointName is the global function a check script must define.
const EntrypointName = "Check"

// TestPrefix marks global functions discovered as tests.
const TestPrefix = "Test"

// TestSuffix marks test scripts. Matching is case-insensitive.
const TestSuffix = "_test.lua"

// Kind is the load-time classification of a script.
type Kind int

const (
	KindLibrary Kind = iota
	KindCheck
	KindTest
)

func (k Kind) String() string {
	switch k {
	case KindLibrary:
		return "library"
	case KindCheck:
		return "check"
	case KindTest:
		return "test"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Script is a compiled source file.
type Script struct {
	// Path is the absolute path of the source file.
	Path string

	// Digest identifies the source content.
	Digest string

	Kind Kind

	proto *lua.FunctionProto

	// declared holds top-level function names in definition order.
	declared []string
}

// Dir returns the directory holding the script.
func (s *Script) Dir() string {
	return filepath.Dir(s.Path)
}

// Declared returns the global function names assigned at the top level of
// the source, in definition order.
func (s *Script) Declared() []string {
	out := make([]string, len(s.declared))
	copy(out, s.declared)
	return out
}

// IsTestFile reports whether path names a test script.
func IsTestFile(path string) bool {
	return strings.HasSuffix(strings.ToLower(filepath.Base(path)), TestSuffix)
}

// SiblingCheckPath returns the check script a test script exercises:
// dir/foo_test.lua maps to dir/foo.lua. ok is false for non-test paths.
func SiblingCheckPath(testPath string) (path string, ok bool) {
	if !IsTestFile(testPath) {
		return "", false
	}
	return testPath[:len(testPath)-len(TestSuffix)] + ".lua", true
}

// LoadError reports a script that could not be read, compiled or executed
// at load time. A script with a load error is excluded from the run.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
