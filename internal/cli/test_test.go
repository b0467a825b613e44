package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/checkonaut/internal/results"
)

type testResponse struct {
	Status string     `json:"status"`
	Data   TestReport `json:"data"`
	Error  *CLIError  `json:"error"`
}

func decodeTest(t *testing.T, out string) testResponse {
	t.Helper()
	var resp testResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	return resp
}

func TestTestCommand_Golden(t *testing.T) {
	out, err := execute(t, newTestOptions(), "test", basicFixture)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	newGoldie(t).Assert(t, "test_basic", []byte(out))
}

func TestTestCommand_JSON(t *testing.T) {
	out, err := execute(t, newTestOptions(), "--format", "json", "test", basicFixture)
	require.Error(t, err)

	resp := decodeTest(t, out)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)
	assert.Equal(t, 2, resp.Data.Summary.Passed)
	assert.Equal(t, 1, resp.Data.Summary.Failed)
	require.Len(t, resp.Data.Outcomes, 3)
	assert.Equal(t, results.TestOutcome{
		File:   "testdata/fixtures/basic/checks/namespace_test.lua",
		Name:   "TestMissingName",
		Passed: true,
	}, resp.Data.Outcomes[0])
}

func TestTestCommand_AllPass(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"named.lua":      `function Check(o) if o.name == nil then return "no name" end end`,
		"named_test.lua": `function TestNamed() assert(Check({name = "x"}) == nil) end`,
	})

	out, err := execute(t, newTestOptions(), "test", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Test Summary: 1 passed, 0 failed, 1 total, 0 execution errors")
	assert.True(t, strings.HasSuffix(out, "✓ All tests passed\n"))
}

func TestTestCommand_NoTests(t *testing.T) {
	dir := writeTree(t, map[string]string{"named.lua": "function Check(o) end"})

	t.Run("text", func(t *testing.T) {
		out, err := execute(t, newTestOptions(), "test", dir)
		require.NoError(t, err)
		assert.Equal(t, "No test files found.\n", out)
	})

	t.Run("json", func(t *testing.T) {
		out, err := execute(t, newTestOptions(), "--format", "json", "test", dir)
		require.NoError(t, err)
		resp := decodeTest(t, out)
		assert.Equal(t, "ok", resp.Status)
		assert.NotNil(t, resp.Data.Outcomes)
		assert.Empty(t, resp.Data.Outcomes)
	})
}

func TestTestCommand_Binding(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"named.lua":      `function Check(o) if o.name == nil then return "no name" end end`,
		"named_test.lua": `function TestNamed() assert(Check({name = "x"}) == nil) end`,
	})

	_, err := execute(t, newTestOptions(), "test", "--binding", "implicit", dir)
	require.NoError(t, err)

	// Without the sibling loaded, Check is undefined.
	out, err := execute(t, newTestOptions(), "--format", "json", "test", "--binding", "explicit", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	resp := decodeTest(t, out)
	assert.Equal(t, 0, resp.Data.Summary.Passed)

	opts := newTestOptions()
	opts.Config.Binding = "explicit"
	_, err = execute(t, opts, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestTestCommand_ExplicitRequire(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"named.lua": `function Check(o) if o.name == nil then return "no name" end end`,
		"named_test.lua": `require("named")
function TestNamed() assert(Check({}) == "no name") end`,
	})

	out, err := execute(t, newTestOptions(), "test", "--binding", "explicit", dir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "1 passed, 0 failed")
}

func TestTestCommand_InvalidBinding(t *testing.T) {
	_, err := execute(t, newTestOptions(), "test", "--binding", "sometimes", basicFixture)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommand_Help(t *testing.T) {
	out := &bytes.Buffer{}
	cmd := NewRootCommandWithOptions(newTestOptions())
	cmd.SetOut(out)
	cmd.SetArgs([]string{"test", "--help"})
	require.NoError(t, cmd.Execute())

	help := out.String()
	assert.Contains(t, help, "Run every Test* function")
	assert.Contains(t, help, "--binding")
	assert.Contains(t, help, "--dotfiles")
	assert.Contains(t, help, "--record")
}
