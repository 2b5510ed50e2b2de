package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aretw0/espalier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "espalier version "+strings.TrimSpace(espalier.Version)+"\n", out)
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	workflows := filepath.Join(dir, "greet.yaml")
	require.NoError(t, os.WriteFile(workflows, []byte(`
id: greet
goal: Greet someone
final_action: greet
fields:
  - name: name
    required: true
`), 0o644))
	actions := filepath.Join(dir, "actions.yaml")
	require.NoError(t, os.WriteFile(actions, []byte(`
actions:
  - name: greet
    command: echo
    args: ["hi"]
`), 0o644))

	out, err := run(t, "validate", "--workflows", workflows, "--actions", actions)
	require.NoError(t, err)
	assert.Contains(t, out, "1 workflows are valid.")

	_, err = run(t, "validate", "--workflows", workflows, "--actions", filepath.Join(dir, "none.yaml"))
	assert.ErrorContains(t, err, "unregistered actions")
}

func TestLoadConfig_RejectsUnknownStore(t *testing.T) {
	_, err := run(t, "session", "ls", "--workflows", "x.yaml", "--store", "sqlite")
	assert.ErrorContains(t, err, "unknown store driver")
}
