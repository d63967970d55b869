package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/syncmap/internal/harness"
)

func TestTestCommandMissingArgs(t *testing.T) {
	cmd, _ := subcommand(NewTestCommand(&RootOptions{Format: "text"}))

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	cmd, _ := subcommand(NewTestCommand(&RootOptions{Format: "text"}), "/nonexistent/scenarios")

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommandEmptyDir(t *testing.T) {
	cmd, buf := subcommand(NewTestCommand(&RootOptions{Format: "text"}), t.TempDir())

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "No scenarios found.")
}

func TestTestCommandAllPass(t *testing.T) {
	dir := writeScenarioDir(t, map[string]string{
		"rename.yaml": passingScenario,
		"drafts.yaml": draftsScenario,
	})

	cmd, buf := subcommand(NewTestCommand(&RootOptions{Format: "text"}), dir)
	require.NoError(t, cmd.Execute())

	output := buf.String()
	assert.Contains(t, output, "✓ rename")
	assert.Contains(t, output, "✓ drafts")
	assert.Contains(t, output, "Test Summary: 2 passed, 0 failed, 2 total")
}

func TestTestCommandFailure(t *testing.T) {
	dir := writeScenarioDir(t, map[string]string{
		"rename.yaml": passingScenario,
		"wrong.yaml":  failingScenario,
	})

	cmd, buf := subcommand(NewTestCommand(&RootOptions{Format: "text"}), dir)
	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "✗ wrong")
	assert.Contains(t, buf.String(), "Test Summary: 1 passed, 1 failed, 2 total")
}

func TestTestCommandFilter(t *testing.T) {
	dir := writeScenarioDir(t, map[string]string{
		"rename.yaml": passingScenario,
		"wrong.yaml":  failingScenario,
	})

	cmd, buf := subcommand(NewTestCommand(&RootOptions{Format: "text"}), dir, "--filter", "ren*")
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "1 total")
	assert.NotContains(t, buf.String(), "wrong")
}

func TestTestCommandJSON(t *testing.T) {
	dir := writeScenarioDir(t, map[string]string{"wrong.yaml": failingScenario})

	cmd, buf := subcommand(NewTestCommand(&RootOptions{Format: "json"}), dir)
	require.Error(t, cmd.Execute())

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, 1, resp.Data.Failed)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.NotEmpty(t, resp.Data.Scenarios[0].Errors)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)
}

func TestTestCommandGolden(t *testing.T) {
	dir := writeScenarioDir(t, map[string]string{"rename.yaml": passingScenario})
	golden := filepath.Join(dir, "golden", "rename.golden")

	cmd, _ := subcommand(NewTestCommand(&RootOptions{Format: "text"}), dir, "--update")
	require.NoError(t, cmd.Execute())
	require.FileExists(t, golden)

	scenario, err := harness.LoadScenario(filepath.Join(dir, "rename.yaml"))
	require.NoError(t, err)
	result, err := harness.Run(scenario)
	require.NoError(t, err)
	want, err := harness.EncodeTrace(scenario, result.Trace)
	require.NoError(t, err)
	got, err := os.ReadFile(golden)
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))

	cmd, _ = subcommand(NewTestCommand(&RootOptions{Format: "text"}), dir)
	require.NoError(t, cmd.Execute())

	require.NoError(t, os.WriteFile(golden, []byte("{}\n"), 0644))
	cmd, buf := subcommand(NewTestCommand(&RootOptions{Format: "text"}), dir)
	require.Error(t, cmd.Execute())
	assert.Contains(t, buf.String(), "trace does not match golden file")
}

func TestFindScenarioFiles(t *testing.T) {
	dir := writeScenarioDir(t, map[string]string{
		"a.yaml": passingScenario,
		"b.yml":  passingScenario,
	})
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "golden"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "c.yaml"), []byte("x"), 0644))

	files, err := findScenarioFiles(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.yaml"), filepath.Join(dir, "b.yml")}, files)

	_, err = findScenarioFiles(dir, "[")
	require.Error(t, err)
}

func TestGoldenFilePath(t *testing.T) {
	assert.Equal(t, filepath.Join("s", "golden", "x.golden"), goldenFilePath(filepath.Join("s", "x.yaml")))
}
