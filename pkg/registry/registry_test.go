//go:build !windows

package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devports/procwatch/pkg/models"
	"github.com/devports/procwatch/pkg/process"
)

func toolSpec(t *testing.T, name, body string) models.ToolSpec {
	t.Helper()
	path := filepath.Join(t.TempDir(), name+".sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return models.ToolSpec{
		Name:          name,
		Executable:    path,
		PortFlag:      "--port",
		APIKeyFlag:    "--api-key",
		StatusPath:    "/status",
		AuthHeader:    "x-api-key",
		SettleMS:      100,
		StopTimeoutMS: 500,
	}
}

func newTestRegistry(t *testing.T, tools ...models.ToolSpec) *Registry {
	t.Helper()
	dir := t.TempDir()
	r := New(tools, Options{
		LogsDir: filepath.Join(dir, "logs"),
		History: NewHistory(filepath.Join(dir, "history.json")),
	})
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })
	return r
}

func TestRegistryUnknownTool(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)
	_, err := r.Start(context.Background(), "ghost", process.StartOptions{})
	assert.True(t, errors.Is(err, ErrUnknownTool))
}

func TestRegistryStartStopRecordsHistory(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, toolSpec(t, "router", "exec sleep 30"))
	ctx := context.Background()

	st, err := r.Start(ctx, "router", process.StartOptions{})
	require.NoError(t, err)
	require.Equal(t, models.StateRunning, st.State)

	th, ok := r.History().Get("router")
	require.True(t, ok)
	require.NotNil(t, th.LastPID)
	assert.Equal(t, st.PID, *th.LastPID)
	assert.Equal(t, st.RunID, th.LastRunID)

	_, err = r.Stop(ctx, "router")
	require.NoError(t, err)
	th, _ = r.History().Get("router")
	assert.Nil(t, th.LastPID)
	assert.NotNil(t, th.LastStop)
}

func TestRegistrySnapshotRecordsCrash(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t, toolSpec(t, "proxy", "sleep 0.3\nexit 4"))

	_, err := r.Start(context.Background(), "proxy", process.StartOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return r.Snapshot()[0].State == models.StateErrored
	}, 3*time.Second, 20*time.Millisecond)

	th, _ := r.History().Get("proxy")
	assert.Contains(t, th.LastError, "exit status 4")
	assert.Nil(t, th.LastPID)
}

func TestRegistryStartFailureReturnsSentinel(t *testing.T) {
	t.Parallel()
	spec := toolSpec(t, "router", "exec sleep 30")
	spec.Executable = filepath.Join(t.TempDir(), "missing")
	r := newTestRegistry(t, spec)

	st, err := r.Start(context.Background(), "router", process.StartOptions{})
	assert.True(t, errors.Is(err, process.ErrToolNotInstalled))
	assert.Equal(t, models.StateStopped, st.State)

	th, ok := r.History().Get("router")
	require.True(t, ok)
	assert.Contains(t, th.LastError, "not found")
}

func TestRegistryShutdownStopsAll(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t,
		toolSpec(t, "a", "exec sleep 30"),
		toolSpec(t, "b", "exec sleep 30"),
		toolSpec(t, "a", "exit 1"),
	)
	ctx := context.Background()
	require.Len(t, r.List(), 2, "duplicate names are ignored")

	_, err := r.Start(ctx, "a", process.StartOptions{})
	require.NoError(t, err)
	_, err = r.Start(ctx, "b", process.StartOptions{})
	require.NoError(t, err)

	require.NoError(t, r.Shutdown(ctx))
	for _, st := range r.Snapshot() {
		assert.Equal(t, models.StateStopped, st.State, st.Name)
	}
}
