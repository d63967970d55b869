package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScenario writes a templates file and a scenario next to it.
func writeScenario(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "templates.cue"), []byte("template: posts: {}\n"), 0644))
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, `
name: valid
description: "Parses every step field"
specs:
  - templates.cue
seed:
  - { template: posts, id: "1", fields: { title: "A" }, seq: 1 }
steps:
  - op: filter
    name: sorted
    template: posts
    where: { projectId: 1 }
    sort_by: title
    descending: true
  - op: expect_filter
    name: sorted
    expect: { ids: ["1"], loading: false }
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "valid", scenario.Name)
	assert.Equal(t, "10", scenario.User)
	assert.Equal(t, []string{filepath.Join(filepath.Dir(path), "templates.cue")}, scenario.Specs)
	require.Len(t, scenario.Seed, 1)
	assert.Equal(t, int64(1), scenario.Seed[0].Seq)

	require.Len(t, scenario.Steps, 2)
	assert.Equal(t, "title", scenario.Steps[0].SortBy)
	assert.True(t, scenario.Steps[0].Descending)
	assert.Equal(t, 1, scenario.Steps[0].Where["projectId"])

	expect := scenario.Steps[1].Expect
	require.NotNil(t, expect)
	assert.Equal(t, []string{"1"}, expect.IDs)
	require.NotNil(t, expect.Loading)
	assert.False(t, *expect.Loading)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "unknown field",
			content: "name: x\ndescription: d\nspecs: [templates.cue]\nsteps: [{op: freeze}]\nflow: []\n",
			want:    "field flow not found",
		},
		{
			name:    "missing name",
			content: "description: d\nspecs: [templates.cue]\nsteps: [{op: freeze}]\n",
			want:    "name is required",
		},
		{
			name:    "missing spec file",
			content: "name: x\ndescription: d\nspecs: [nope.cue]\nsteps: [{op: freeze}]\n",
			want:    "spec file not found",
		},
		{
			name:    "no steps",
			content: "name: x\ndescription: d\nspecs: [templates.cue]\n",
			want:    "steps list is required",
		},
		{
			name:    "unknown op",
			content: "name: x\ndescription: d\nspecs: [templates.cue]\nsteps: [{op: explode}]\n",
			want:    `unknown op "explode"`,
		},
		{
			name:    "change without fields",
			content: "name: x\ndescription: d\nspecs: [templates.cue]\nsteps: [{op: change, template: posts, id: '1'}]\n",
			want:    "fields is required",
		},
		{
			name:    "push with bad verb",
			content: "name: x\ndescription: d\nspecs: [templates.cue]\nsteps: [{op: push, template: posts, id: '1', verb: change, seq: 1}]\n",
			want:    "verb must be created, changed or deleted",
		},
		{
			name:    "expect without body",
			content: "name: x\ndescription: d\nspecs: [templates.cue]\nsteps: [{op: expect_store, name: p}]\n",
			want:    "expect is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
