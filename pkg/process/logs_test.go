package process

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTailReadsNewestRunLog(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	older, err := createLogFile(dir, "router", base)
	require.NoError(t, err)
	_, _ = older.WriteString("old\n")
	require.NoError(t, older.Close())

	newer, err := createLogFile(dir, "router", base.Add(time.Minute))
	require.NoError(t, err)
	_, _ = newer.WriteString("one\ntwo\nthree\n")
	require.NoError(t, newer.Close())

	lines, err := Tail(dir, "router", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"two", "three"}, lines)

	path, err := LatestLogPath(dir, "router")
	require.NoError(t, err)
	assert.Equal(t, newer.Name(), path)
}

func TestTailWithoutLogs(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	_, err := Tail(dir, "auth-proxy", 10)
	assert.True(t, errors.Is(err, ErrNoLogs))

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "auth-proxy"), 0o755))
	_, err = Tail(dir, "auth-proxy", 10)
	assert.True(t, errors.Is(err, ErrNoLogs))
}

func TestInferCrashReason(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Error: listen EADDRINUSE: address already in use :::3456",
		inferCrashReason([]string{"starting", "Error: listen EADDRINUSE: address already in use :::3456", "  ", ""}))
	assert.Equal(t, "last words", inferCrashReason([]string{"hello", "last words", ""}))
	assert.Equal(t, "", inferCrashReason(nil))
}
