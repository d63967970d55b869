package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCommand(t *testing.T) {
	dir := writeScenarioDir(t, map[string]string{"rename.yaml": passingScenario})

	out, err := execute(t, "metrics", filepath.Join(dir, "rename.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "# TYPE syncmap_changes_total counter")
	assert.Contains(t, out, `syncmap_changes_total{outcome="confirmed",plural="posts"} 1`)
	assert.Contains(t, out, `syncmap_live_stores{plural="posts"} 0`)
}

func TestMetricsCommand_MissingScenario(t *testing.T) {
	_, err := execute(t, "metrics", "/nonexistent.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
