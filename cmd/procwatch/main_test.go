package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	c := newRootCmd()
	buf := new(bytes.Buffer)
	c.SetOut(buf)
	c.SetErr(new(bytes.Buffer))
	c.SetArgs(args)
	err := c.Execute()
	return buf.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execRoot(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "procwatch dev\n", out)

	out, err = execRoot(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "procwatch dev")
}

func TestHelpListsCommands(t *testing.T) {
	out, err := execRoot(t, "--help")
	require.NoError(t, err)
	for _, name := range []string{"ports", "tree", "name", "tools", "run", "health", "check", "logs", "login", "config"} {
		assert.Contains(t, out, name)
	}
}

func TestUnknownArgs(t *testing.T) {
	_, err := execRoot(t, "nonexistent")
	require.Error(t, err)
}

func TestConfigInitShowPath(t *testing.T) {
	dir := t.TempDir()

	out, err := execRoot(t, "--config-dir", dir, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(dir, "config.toml"))

	_, err = execRoot(t, "--config-dir", dir, "config", "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	out, err = execRoot(t, "--config-dir", dir, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "[[tools]]")
	assert.Contains(t, out, "router")
	assert.Contains(t, out, "auth-proxy")

	out, err = execRoot(t, "--config-dir", dir, "config", "path")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(dir, "history.json"))
	assert.Contains(t, out, filepath.Join(dir, "logs"))
}

func TestToolsJSON(t *testing.T) {
	dir := t.TempDir()
	out, err := execRoot(t, "--config-dir", dir, "tools", "--json")
	require.NoError(t, err)

	var rows []struct {
		Name      string `json:"name"`
		Installed bool   `json:"installed"`
		Status    struct {
			State string `json:"state"`
		} `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "router", rows[0].Name)
	assert.Equal(t, "stopped", rows[0].Status.State)
	assert.Equal(t, "auth-proxy", rows[1].Name)
}

func TestLogsUnknownTool(t *testing.T) {
	_, err := execRoot(t, "--config-dir", t.TempDir(), "logs", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tool")
}

func TestInvalidPIDAndPort(t *testing.T) {
	_, err := execRoot(t, "tree", "abc")
	assert.EqualError(t, err, `invalid pid "abc"`)

	_, err = execRoot(t, "check", "70000")
	assert.EqualError(t, err, `invalid port "70000"`)
}

func TestLoginRequiresFlags(t *testing.T) {
	_, err := execRoot(t, "--config-dir", t.TempDir(), "login")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authorize-url")
}
