// Package store archives checkonaut runs in SQLite.
//
// Each recorded run keeps its summary counts plus every issue, test outcome
// and execution error, in report order:
//   - runs: one row per invocation of check or test, keyed by a UUIDv7
//   - issues: check findings, each with a content fingerprint
//   - outcomes: test function results
//   - exec_errors: load, contract, runtime, timeout and document failures
//
// Issue fingerprints are computed by ir.IssueFingerprint, so the same finding
// has the same fingerprint in every run and can be tracked across history.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Child rows cascade with their run
package store
