package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

const testTemplates = `package scenarios

template: posts: {}

template: drafts: {
	offline: true
	remote:  false
}
`

const passingScenario = `name: rename
description: "A confirmed rename"
specs:
  - templates.cue
seed:
  - { template: posts, id: "1", fields: { title: "A" }, seq: 1 }
steps:
  - op: open
    name: p
    template: posts
    id: "1"
  - op: change
    template: posts
    id: "1"
    fields: { title: "B" }
  - op: expect_store
    name: p
    expect:
      status: loaded
      fields: { title: "B" }
`

const failingScenario = `name: wrong
description: "Expects a title the store never has"
specs:
  - templates.cue
seed:
  - { template: posts, id: "1", fields: { title: "A" }, seq: 1 }
steps:
  - op: open
    name: p
    template: posts
    id: "1"
  - op: expect_store
    name: p
    expect:
      fields: { title: "Z" }
`

const draftsScenario = `name: drafts
description: "Local drafts land in the cache"
specs:
  - templates.cue
steps:
  - op: create
    template: drafts
    id: d1
    fields: { title: "x" }
  - op: create
    template: drafts
    id: d2
    fields: { title: "y" }
  - op: delete
    template: drafts
    id: d1
`

// writeScenarioDir writes the shared templates plus the given scenarios
// (file name to content) into a fresh directory.
func writeScenarioDir(t *testing.T, scenarios map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "templates.cue"), []byte(testTemplates), 0644))
	for name, content := range scenarios {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return dir
}

// execute runs a fresh root command and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// subcommand returns a standalone subcommand wired to buffers.
func subcommand(cmd *cobra.Command, args ...string) (*cobra.Command, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	return cmd, buf
}
