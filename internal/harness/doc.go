// Package harness runs the unit tests that accompany check scripts.
//
// A test script is a file named foo_test.lua. Every global function whose
// name starts with "Test" is a test; tests run with no arguments, in
// definition order, in one shared state so they may share helpers.
//
// A test fails when it raises an error (including a failed assert), exceeds
// its time limit, or returns anything other than nil. The failure is recorded
// for that function alone and the next test still runs. A file without tests
// is idle, not an error.
//
// # Binding
//
// Tests usually exercise the Check defined by the sibling foo.lua. Two
// binding modes exist:
//
//   - implicit (default): foo.lua is executed in the test state before the
//     test file, so Check is already defined when the tests run
//   - explicit: nothing is preloaded; the test file calls require("foo")
//
// In implicit mode a test file may still require the check module itself.
// Its require runs after the implicit binding, so whatever it assigns wins.
package harness
