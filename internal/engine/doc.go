// Package engine runs check scripts against document objects.
//
// Every check script gets its own sandboxed interpreter state, loaded once
// and reused for every object in the run, so state a script keeps outside
// its entrypoint carries over from one object to the next. Scripts never
// share state with each other.
//
// Check files are the unit of parallelism. Objects within one check file are
// evaluated sequentially, in document order, and results are appended to the
// aggregator in check-file order regardless of which worker finished first.
//
// Failure isolation:
//   - a load error excludes the script for the whole run
//   - a raised error, timeout or malformed return value aborts only that
//     (object, check) pair
//
// The entrypoint may return:
//
//	nil                                  no issues
//	"text"                               one Error issue
//	{ r1, r2, ... }                      each element, in order; nil elements skipped
//	{ message = m, severity = "warning" } one issue; m must resolve to one text
//
// Anything else is a contract violation.
package engine
