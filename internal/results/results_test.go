package results

import (
	"fmt"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverity(t *testing.T) {
	assert.Equal(t, "error", SeverityError.String())
	assert.Equal(t, "warning", SeverityWarning.String())

	for _, s := range []Severity{SeverityError, SeverityWarning} {
		parsed, err := ParseSeverity(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}

	_, err := ParseSeverity("fatal")
	require.Error(t, err)
}

func TestIssueJSON(t *testing.T) {
	data, err := json.Marshal(Issue{
		Document: "/d.yaml", Check: "/c.lua", Index: 2,
		Message: "missing name", Severity: SeverityWarning,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"document":"/d.yaml","check":"/c.lua","index":2,"message":"missing name","severity":"warning"}`, string(data))

	var decoded Issue
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, SeverityWarning, decoded.Severity)

	require.Error(t, json.Unmarshal([]byte(`{"severity":"fatal"}`), &decoded))
}

func TestExecErrorMessage(t *testing.T) {
	tests := []struct {
		err  ExecError
		want string
	}{
		{
			ExecError{Kind: KindLoad, File: "/c.lua", Message: "syntax error"},
			"load error in /c.lua: syntax error",
		},
		{
			ExecError{Kind: KindRuntime, File: "/c.lua", Document: "/d.yaml", Index: 3, Message: "boom"},
			"runtime error in /c.lua on /d.yaml#3: boom",
		},
		{
			ExecError{Kind: KindTimeout, File: "/c_test.lua", Test: "TestSlow", Message: "timed out"},
			"timeout error in /c_test.lua (TestSlow): timed out",
		},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error())
	}
}

func TestAggregatorPreservesOrder(t *testing.T) {
	agg := NewAggregator()

	first := NewBatch()
	first.AddIssue(Issue{Message: "a"})
	first.AddIssue(Issue{Message: "b"})
	second := NewBatch()
	second.AddIssue(Issue{Message: "c"})
	second.AddOutcome(TestOutcome{Name: "TestA", Passed: true})
	second.AddError(ExecError{Kind: KindRuntime, Message: "x"})

	agg.Append(first)
	agg.Append(second)
	agg.Append(nil)

	var messages []string
	for _, issue := range agg.Issues() {
		messages = append(messages, issue.Message)
	}
	assert.Equal(t, []string{"a", "b", "c"}, messages)
	assert.Len(t, agg.Outcomes(), 1)
	assert.Len(t, agg.Errors(), 1)
}

func TestAggregatorReturnsCopies(t *testing.T) {
	agg := NewAggregator()
	b := NewBatch()
	b.AddIssue(Issue{Message: "original"})
	agg.Append(b)

	issues := agg.Issues()
	issues[0].Message = "changed"
	assert.Equal(t, "original", agg.Issues()[0].Message)
}

func TestSummaryAndFailure(t *testing.T) {
	tests := []struct {
		name      string
		batch     *Batch
		summary   Summary
		hasErrors bool
		failed    bool
	}{
		{
			name:    "empty",
			batch:   NewBatch(),
			summary: Summary{},
		},
		{
			name: "warnings only",
			batch: &Batch{Issues: []Issue{
				{Severity: SeverityWarning}, {Severity: SeverityWarning},
			}},
			summary: Summary{Warnings: 2},
		},
		{
			name: "error issue",
			batch: &Batch{Issues: []Issue{
				{Severity: SeverityError}, {Severity: SeverityWarning},
			}},
			summary:   Summary{Errors: 1, Warnings: 1},
			hasErrors: true,
			failed:    true,
		},
		{
			name: "failing test",
			batch: &Batch{Outcomes: []TestOutcome{
				{Passed: true}, {Passed: false},
			}},
			summary: Summary{Passed: 1, Failed: 1},
			failed:  true,
		},
		{
			name:    "execution error",
			batch:   &Batch{Errors: []ExecError{{Kind: KindContract}}},
			summary: Summary{ExecErrors: 1},
			failed:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := NewAggregator()
			agg.Append(tt.batch)

			assert.Equal(t, tt.summary, agg.Summary())
			assert.Equal(t, tt.hasErrors, agg.HasErrors())
			assert.Equal(t, tt.failed, agg.Failed())
		})
	}
}

func TestSummaryTests(t *testing.T) {
	assert.Equal(t, 5, Summary{Passed: 3, Failed: 2}.Tests())
}

func TestAggregatorConcurrentAppend(t *testing.T) {
	agg := NewAggregator()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b := NewBatch()
			b.AddIssue(Issue{Message: fmt.Sprintf("issue %d", i)})
			agg.Append(b)
			agg.AddError(ExecError{Kind: KindRuntime})
		}(i)
	}
	wg.Wait()

	s := agg.Summary()
	assert.Equal(t, 50, s.Errors)
	assert.Equal(t, 50, s.ExecErrors)
}
