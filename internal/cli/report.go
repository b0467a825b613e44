package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/checkonaut/internal/results"
)

// CheckReport is the JSON payload of the check command.
type CheckReport struct {
	RunID   string              `json:"run_id,omitempty"`
	Summary results.Summary     `json:"summary"`
	Issues  []results.Issue     `json:"issues"`
	Errors  []results.ExecError `json:"errors"`
}

// TestReport is the JSON payload of the test command.
type TestReport struct {
	RunID    string                `json:"run_id,omitempty"`
	Summary  results.Summary       `json:"summary"`
	Outcomes []results.TestOutcome `json:"outcomes"`
	Errors   []results.ExecError   `json:"errors"`
}

// formatter returns an OutputFormatter writing to the command's stdout with
// paths shown relative to the working directory.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	base, err := os.Getwd()
	if err != nil {
		base = ""
	}
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout(), Base: base}
}

// Relativize copies agg with every path, and every path inside a message,
// shown relative to Base.
func (f *OutputFormatter) Relativize(agg *results.Aggregator) *results.Aggregator {
	b := results.NewBatch()
	for _, issue := range agg.Issues() {
		issue.Document = f.Path(issue.Document)
		issue.Check = f.Path(issue.Check)
		issue.Message = f.Message(issue.Message)
		b.AddIssue(issue)
	}
	for _, o := range agg.Outcomes() {
		o.File = f.Path(o.File)
		o.Message = f.Message(o.Message)
		b.AddOutcome(o)
	}
	for _, e := range agg.Errors() {
		e.File = f.Path(e.File)
		e.Document = f.Path(e.Document)
		e.Message = f.Message(e.Message)
		b.AddError(e)
	}

	out := results.NewAggregator()
	out.Append(b)
	return out
}

func newCheckReport(agg *results.Aggregator, runID string) CheckReport {
	r := CheckReport{
		RunID:   runID,
		Summary: agg.Summary(),
		Issues:  agg.Issues(),
		Errors:  agg.Errors(),
	}
	if r.Issues == nil {
		r.Issues = []results.Issue{}
	}
	if r.Errors == nil {
		r.Errors = []results.ExecError{}
	}
	return r
}

func newTestReport(agg *results.Aggregator, runID string) TestReport {
	r := TestReport{
		RunID:    runID,
		Summary:  agg.Summary(),
		Outcomes: agg.Outcomes(),
		Errors:   agg.Errors(),
	}
	if r.Outcomes == nil {
		r.Outcomes = []results.TestOutcome{}
	}
	if r.Errors == nil {
		r.Errors = []results.ExecError{}
	}
	return r
}

func checkFailed(s results.Summary) bool {
	return s.Errors > 0 || s.ExecErrors > 0
}

func testFailed(s results.Summary) bool {
	return s.Failed > 0 || s.ExecErrors > 0
}

// writeCheckReport outputs a check report and returns the ExitError the
// command should end with, if any.
func writeCheckReport(f *OutputFormatter, r CheckReport) error {
	s := r.Summary
	failMsg := fmt.Sprintf("%d error(s), %d execution error(s)", s.Errors, s.ExecErrors)

	if f.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: r}
		if checkFailed(s) {
			resp.Status = "error"
			resp.Error = &CLIError{Code: "E_CHECK_FAILED", Message: failMsg}
		}
		if err := f.Encode(resp); err != nil {
			return err
		}
	} else {
		writeCheckText(f.Writer, r)
	}

	if checkFailed(s) {
		return NewExitError(ExitFailure, failMsg)
	}
	return nil
}

func writeCheckText(w io.Writer, r CheckReport) {
	for _, issue := range r.Issues {
		icon := "✗"
		if issue.Severity == results.SeverityWarning {
			icon = "!"
		}
		fmt.Fprintf(w, "%s %s#%d: %s (%s)\n", icon, issue.Document, issue.Index, issue.Message, issue.Check)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "✗ %s\n", e.Error())
	}

	s := r.Summary
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Check Summary: %d errors, %d warnings, %d execution errors\n", s.Errors, s.Warnings, s.ExecErrors)
	if r.RunID != "" {
		fmt.Fprintf(w, "Recorded run %s\n", r.RunID)
	}
	if !checkFailed(s) {
		fmt.Fprintln(w, "✓ All checks passed")
	}
}

// writeTestReport outputs a test report and returns the ExitError the
// command should end with, if any.
func writeTestReport(f *OutputFormatter, r TestReport) error {
	s := r.Summary
	failMsg := fmt.Sprintf("%d test(s) failed, %d execution error(s)", s.Failed, s.ExecErrors)

	if f.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: r}
		if testFailed(s) {
			resp.Status = "error"
			resp.Error = &CLIError{Code: "E_TEST_FAILED", Message: failMsg}
		}
		if err := f.Encode(resp); err != nil {
			return err
		}
	} else {
		writeTestText(f.Writer, r)
	}

	if testFailed(s) {
		return NewExitError(ExitFailure, failMsg)
	}
	return nil
}

func writeTestText(w io.Writer, r TestReport) {
	for _, o := range r.Outcomes {
		if o.Passed {
			fmt.Fprintf(w, "✓ %s: %s\n", o.File, o.Name)
			continue
		}
		fmt.Fprintf(w, "✗ %s: %s\n", o.File, o.Name)
		if o.Message != "" {
			fmt.Fprintf(w, "  %s\n", o.Message)
		}
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "✗ %s\n", e.Error())
	}

	s := r.Summary
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total, %d execution errors\n", s.Passed, s.Failed, s.Tests(), s.ExecErrors)
	if r.RunID != "" {
		fmt.Fprintf(w, "Recorded run %s\n", r.RunID)
	}
	if !testFailed(s) {
		fmt.Fprintln(w, "✓ All tests passed")
	}
}
