package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedDatabase runs the drafts scenario against a file database.
func seedDatabase(t *testing.T) string {
	t.Helper()
	dir := writeScenarioDir(t, map[string]string{"drafts.yaml": draftsScenario})
	db := filepath.Join(t.TempDir(), "cache.db")
	_, err := execute(t, "run", filepath.Join(dir, "drafts.yaml"), "--db", db)
	require.NoError(t, err)
	return db
}

func TestInspectCommand_Text(t *testing.T) {
	db := seedDatabase(t)

	out, err := execute(t, "inspect", "--db", db, "--journal")
	require.NoError(t, err)
	assert.Contains(t, out, "drafts (1)")
	assert.Contains(t, out, `  d2 seq=`)
	assert.Contains(t, out, `{"title":"y"}`)
	assert.NotContains(t, out, "  d1 seq=")
	assert.Contains(t, out, "journal (3)")
	assert.Contains(t, out, "drafts/delete d1 confirmed")
}

func TestInspectCommand_JSON(t *testing.T) {
	db := seedDatabase(t)

	out, err := execute(t, "--format", "json", "inspect", "--db", db, "--template", "drafts")
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   InspectResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Entities["drafts"], 1)
	assert.Equal(t, "d2", resp.Data.Entities["drafts"][0].ID)
	assert.Empty(t, resp.Data.Journal)
}

func TestInspectCommand_UnknownTemplate(t *testing.T) {
	db := seedDatabase(t)

	out, err := execute(t, "inspect", "--db", db, "--template", "posts")
	require.NoError(t, err)
	assert.Contains(t, out, "posts (0)")
}

func TestInspectCommand_MissingDatabase(t *testing.T) {
	_, err := execute(t, "inspect", "--db", filepath.Join(t.TempDir(), "nope.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "database not found")
}

func TestInspectCommand_RequiresDB(t *testing.T) {
	_, err := execute(t, "inspect")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "db" not set`)
}
