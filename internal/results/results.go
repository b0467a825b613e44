// Package results collects the outcome of a run: issues found by checks,
// outcomes of test functions, and execution errors.
//
// Workers record into their own Batch and hand it to the Aggregator, which
// appends batches in the order they are submitted. The Aggregator does not
// format anything.
package results

import (
	"fmt"
	"strings"
	"sync"
)

// Severity classifies an Issue.
type Severity int

const (
	// SeverityError issues fail the run.
	SeverityError Severity = iota
	// SeverityWarning issues are reported but never fail the run.
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// MarshalText renders the severity as "error" or "warning".
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses "error" or "warning".
func (s *Severity) UnmarshalText(text []byte) error {
	v, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseSeverity is the inverse of Severity.String.
func ParseSeverity(s string) (Severity, error) {
	switch s {
	case "error":
		return SeverityError, nil
	case "warning":
		return SeverityWarning, nil
	default:
		return SeverityError, fmt.Errorf("unknown severity %q", s)
	}
}

// Issue is a problem a check found in one object.
type Issue struct {
	Document string   `json:"document"`
	Check    string   `json:"check"`
	Index    int      `json:"index"` // 1-based object index within Document
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// TestOutcome is the result of one test function.
type TestOutcome struct {
	File    string `json:"file"`
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}

// ExecErrorKind categorizes execution errors.
type ExecErrorKind string

const (
	// KindLoad: the script failed to read, compile or execute at load time.
	KindLoad ExecErrorKind = "load"
	// KindContract: Check returned a value of unrecognized shape.
	KindContract ExecErrorKind = "contract"
	// KindRuntime: the script raised an error.
	KindRuntime ExecErrorKind = "runtime"
	// KindTimeout: the invocation exceeded its time limit.
	KindTimeout ExecErrorKind = "timeout"
	// KindDocument: a data file could not be parsed.
	KindDocument ExecErrorKind = "document"
)

// ExecError is a failure to evaluate a unit, attributed to the file (and,
// where it applies, the document, object and test function) it came from.
type ExecError struct {
	Kind     ExecErrorKind `json:"kind"`
	File     string        `json:"file"`
	Document string        `json:"document,omitempty"`
	Index    int           `json:"index,omitempty"`
	Test     string        `json:"test,omitempty"`
	Message  string        `json:"message"`
}

func (e ExecError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s error in %s", e.Kind, e.File)
	if e.Test != "" {
		fmt.Fprintf(&b, " (%s)", e.Test)
	}
	if e.Document != "" {
		fmt.Fprintf(&b, " on %s", e.Document)
		if e.Index > 0 {
			fmt.Fprintf(&b, "#%d", e.Index)
		}
	}
	fmt.Fprintf(&b, ": %s", e.Message)
	return b.String()
}

// Batch holds what one unit of work produced. A Batch is owned by a single
// worker and is not safe for concurrent use.
type Batch struct {
	Issues   []Issue
	Outcomes []TestOutcome
	Errors   []ExecError
}

// NewBatch creates an empty batch.
func NewBatch() *Batch {
	return &Batch{}
}

// AddIssue records an issue.
func (b *Batch) AddIssue(issue Issue) {
	b.Issues = append(b.Issues, issue)
}

// AddOutcome records a test outcome.
func (b *Batch) AddOutcome(outcome TestOutcome) {
	b.Outcomes = append(b.Outcomes, outcome)
}

// AddError records an execution error.
func (b *Batch) AddError(err ExecError) {
	b.Errors = append(b.Errors, err)
}

// Aggregator is the append-only sink for a run. It is safe for concurrent
// use.
type Aggregator struct {
	mu       sync.Mutex
	issues   []Issue
	outcomes []TestOutcome
	errors   []ExecError
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Append adds everything in b, preserving its order.
func (a *Aggregator) Append(b *Batch) {
	if b == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.issues = append(a.issues, b.Issues...)
	a.outcomes = append(a.outcomes, b.Outcomes...)
	a.errors = append(a.errors, b.Errors...)
}

// AddError records a single execution error.
func (a *Aggregator) AddError(err ExecError) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errors = append(a.errors, err)
}

// Issues returns a copy of the recorded issues in append order.
func (a *Aggregator) Issues() []Issue {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Issue(nil), a.issues...)
}

// Outcomes returns a copy of the recorded test outcomes in append order.
func (a *Aggregator) Outcomes() []TestOutcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]TestOutcome(nil), a.outcomes...)
}

// Errors returns a copy of the recorded execution errors in append order.
func (a *Aggregator) Errors() []ExecError {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ExecError(nil), a.errors...)
}

// Summary holds the counts reported at the end of a run.
type Summary struct {
	Errors     int `json:"errors"`
	Warnings   int `json:"warnings"`
	Passed     int `json:"passed"`
	Failed     int `json:"failed"`
	ExecErrors int `json:"exec_errors"`
}

// Tests returns the number of test outcomes.
func (s Summary) Tests() int {
	return s.Passed + s.Failed
}

// Summary counts issues by severity, tests by outcome, and execution errors.
func (a *Aggregator) Summary() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	var s Summary
	for _, issue := range a.issues {
		if issue.Severity == SeverityWarning {
			s.Warnings++
		} else {
			s.Errors++
		}
	}
	for _, o := range a.outcomes {
		if o.Passed {
			s.Passed++
		} else {
			s.Failed++
		}
	}
	s.ExecErrors = len(a.errors)
	return s
}

// HasErrors reports whether any Error-severity issue was recorded.
func (a *Aggregator) HasErrors() bool {
	return a.Summary().Errors > 0
}

// Failed reports whether the run failed: any Error-severity issue, any
// failing test, or any execution error.
func (a *Aggregator) Failed() bool {
	s := a.Summary()
	return s.Errors > 0 || s.Failed > 0 || s.ExecErrors > 0
}
