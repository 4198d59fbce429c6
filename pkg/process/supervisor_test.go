//go:build !windows

package process

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devports/procwatch/pkg/health"
	"github.com/devports/procwatch/pkg/models"
)

type countingProber struct {
	mu    sync.Mutex
	calls []health.Request
	err   error
}

func (p *countingProber) Probe(_ context.Context, req health.Request) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)
	return p.err
}

func (p *countingProber) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func writeScript(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "tool.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func testSpec(exe string) models.ToolSpec {
	return models.ToolSpec{
		Name:          "helper",
		Executable:    exe,
		PortFlag:      "--port",
		APIKeyFlag:    "--api-key",
		NoBrowserFlag: "--no-browser",
		StatusPath:    "/api/status",
		AuthHeader:    "x-api-key",
		SettleMS:      150,
		StopTimeoutMS: 400,
	}
}

func newTestSupervisor(t *testing.T, spec models.ToolSpec, prober health.Prober) *Supervisor {
	t.Helper()
	sup := NewSupervisor(spec, Options{LogsDir: t.TempDir(), Prober: prober})
	t.Cleanup(func() { sup.Stop(context.Background()) })
	return sup
}

func TestStartMissingExecutable(t *testing.T) {
	t.Parallel()
	sup := newTestSupervisor(t, testSpec("/definitely/not/here/helper"), &countingProber{})

	st := sup.Start(context.Background(), StartOptions{})
	assert.Equal(t, models.StateStopped, st.State)
	assert.Equal(t, models.ErrorToolNotInstalled, st.ErrorKind)
	assert.Zero(t, st.PID)
	assert.True(t, errors.Is(Err(st), ErrToolNotInstalled))
}

func TestStartThenStop(t *testing.T) {
	t.Parallel()
	exe := writeScript(t, t.TempDir(), "exec sleep 30")
	sup := newTestSupervisor(t, testSpec(exe), &countingProber{})
	ctx := context.Background()

	st := sup.Start(ctx, StartOptions{})
	require.Equal(t, models.StateRunning, st.State, st.LastError)
	assert.NotZero(t, st.PID)
	assert.NotZero(t, st.Port)
	assert.NotEmpty(t, st.APIKey)
	assert.NotEmpty(t, st.RunID)
	require.NotNil(t, st.StartedAt)

	again := sup.Start(ctx, StartOptions{})
	assert.Equal(t, st.PID, again.PID, "start while running is a no-op")
	assert.Equal(t, st.RunID, again.RunID)

	stopped := sup.Stop(ctx)
	assert.Equal(t, models.StateStopped, stopped.State)
	assert.Zero(t, stopped.PID)
	assert.Zero(t, stopped.Port)
	assert.Empty(t, stopped.APIKey)
	assert.Nil(t, stopped.StartedAt)
	assert.Empty(t, stopped.LastError)
	assert.False(t, Alive(st.PID))

	assert.Equal(t, stopped, sup.Stop(ctx), "stop is idempotent")
}

func TestStartPassesArgumentContract(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args.txt")
	exe := writeScript(t, dir, `echo "$@" > "`+argsFile+`"
exec sleep 30`)
	spec := testSpec(exe)
	spec.Args = []string{"serve"}
	sup := newTestSupervisor(t, spec, &countingProber{})

	st := sup.Start(context.Background(), StartOptions{Port: 45123, APIKey: "k-123", ExtraArgs: []string{"--verbose"}})
	require.Equal(t, models.StateRunning, st.State, st.LastError)
	assert.Equal(t, uint16(45123), st.Port)
	assert.Equal(t, "k-123", st.APIKey)

	data, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Equal(t, "serve --verbose --port 45123 --api-key k-123 --no-browser", strings.TrimSpace(string(data)))
}

func TestExitDuringSettleIsErrored(t *testing.T) {
	t.Parallel()
	exe := writeScript(t, t.TempDir(), `echo "Error: listen EADDRINUSE" >&2
exit 3`)
	sup := newTestSupervisor(t, testSpec(exe), &countingProber{})

	st := sup.Start(context.Background(), StartOptions{})
	assert.Equal(t, models.StateErrored, st.State)
	assert.Equal(t, models.ErrorSpawnFailure, st.ErrorKind)
	assert.Contains(t, st.LastError, "exit status 3")
	assert.Contains(t, st.LastError, "EADDRINUSE")
	assert.Zero(t, st.PID)

	lines, err := sup.Tail(5)
	require.NoError(t, err)
	assert.Equal(t, []string{"Error: listen EADDRINUSE"}, lines)
}

func TestSpawnFailureThenSuccessfulStart(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	exe := filepath.Join(dir, "tool.sh")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\nexec sleep 30\n"), 0o644))
	sup := newTestSupervisor(t, testSpec(exe), &countingProber{})
	ctx := context.Background()

	st := sup.Start(ctx, StartOptions{})
	assert.Equal(t, models.StateErrored, st.State)
	assert.Equal(t, models.ErrorSpawnFailure, st.ErrorKind)
	assert.True(t, errors.Is(Err(st), ErrSpawnFailure))

	require.NoError(t, os.Chmod(exe, 0o755))
	st = sup.Start(ctx, StartOptions{})
	assert.Equal(t, models.StateRunning, st.State)
	assert.Empty(t, st.LastError, "a successful start clears the previous error")
	assert.Equal(t, models.ErrorNone, st.ErrorKind)
}

func TestCrashWhileRunning(t *testing.T) {
	t.Parallel()
	exe := writeScript(t, t.TempDir(), `sleep 0.4
echo "panic: runtime error: invalid memory address"
exit 2`)
	sup := newTestSupervisor(t, testSpec(exe), &countingProber{})

	st := sup.Start(context.Background(), StartOptions{})
	require.Equal(t, models.StateRunning, st.State)

	require.Eventually(t, func() bool {
		return sup.Status().State == models.StateErrored
	}, 3*time.Second, 20*time.Millisecond)

	st = sup.Status()
	assert.Equal(t, models.ErrorCrashedWhileRunning, st.ErrorKind)
	assert.Contains(t, st.LastError, "exit status 2")
	assert.Contains(t, st.LastError, "panic: runtime error")
	assert.Zero(t, st.PID)
	assert.Zero(t, st.Port)
	assert.Empty(t, st.APIKey)
	assert.True(t, errors.Is(Err(st), ErrCrashedWhileRunning))
}

func TestCleanExitWhileRunning(t *testing.T) {
	t.Parallel()
	exe := writeScript(t, t.TempDir(), "sleep 0.4\nexit 0")
	sup := newTestSupervisor(t, testSpec(exe), &countingProber{})

	require.Equal(t, models.StateRunning, sup.Start(context.Background(), StartOptions{}).State)
	require.Eventually(t, func() bool {
		return sup.Status().State == models.StateStopped
	}, 3*time.Second, 20*time.Millisecond)
	assert.Empty(t, sup.Status().LastError)
	assert.NoError(t, Err(sup.Status()))
}

func TestStopForceKillsToolIgnoringTerm(t *testing.T) {
	t.Parallel()
	exe := writeScript(t, t.TempDir(), `trap '' TERM
while :; do sleep 0.05; done`)
	sup := newTestSupervisor(t, testSpec(exe), &countingProber{})
	ctx := context.Background()

	st := sup.Start(ctx, StartOptions{})
	require.Equal(t, models.StateRunning, st.State)

	begin := time.Now()
	stopped := sup.Stop(ctx)
	assert.Equal(t, models.StateStopped, stopped.State)
	assert.GreaterOrEqual(t, time.Since(begin), 400*time.Millisecond)
	assert.False(t, Alive(st.PID))
}

func TestStartQueuesBehindStop(t *testing.T) {
	t.Parallel()
	exe := writeScript(t, t.TempDir(), `trap '' TERM
while :; do sleep 0.05; done`)
	sup := newTestSupervisor(t, testSpec(exe), &countingProber{})
	ctx := context.Background()

	first := sup.Start(ctx, StartOptions{})
	require.Equal(t, models.StateRunning, first.State)

	stopDone := make(chan models.Status, 1)
	go func() { stopDone <- sup.Stop(ctx) }()

	require.Eventually(t, func() bool {
		return sup.Status().State == models.StateStopping
	}, time.Second, 5*time.Millisecond, "status must stay readable during stop")

	second := sup.Start(ctx, StartOptions{})
	assert.Equal(t, models.StateStopped, (<-stopDone).State)
	assert.Equal(t, models.StateRunning, second.State)
	assert.NotEqual(t, first.PID, second.PID)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestCheckHealth(t *testing.T) {
	t.Parallel()
	exe := writeScript(t, t.TempDir(), "exec sleep 30")
	prober := &countingProber{}
	sup := newTestSupervisor(t, testSpec(exe), prober)
	ctx := context.Background()

	assert.False(t, sup.CheckHealth(ctx))
	assert.Equal(t, 0, prober.count(), "no probe unless running")

	st := sup.Start(ctx, StartOptions{APIKey: "secret"})
	require.Equal(t, models.StateRunning, st.State)
	assert.True(t, sup.CheckHealth(ctx))
	require.Equal(t, 1, prober.count())
	assert.Equal(t, health.Request{
		Port:       st.Port,
		Path:       "/api/status",
		AuthHeader: "x-api-key",
		APIKey:     "secret",
		Timeout:    models.DefaultHealthTimeout,
	}, prober.calls[0])

	prober.mu.Lock()
	prober.err = errors.New("connection refused")
	prober.mu.Unlock()
	assert.False(t, sup.CheckHealth(ctx))

	sup.Stop(ctx)
	assert.False(t, sup.CheckHealth(ctx))
	assert.Equal(t, 2, prober.count())
}

func TestRestartSpawnsNewSession(t *testing.T) {
	t.Parallel()
	exe := writeScript(t, t.TempDir(), "exec sleep 30")
	sup := newTestSupervisor(t, testSpec(exe), &countingProber{})
	ctx := context.Background()

	first := sup.Start(ctx, StartOptions{})
	require.Equal(t, models.StateRunning, first.State)
	second := sup.Restart(ctx, StartOptions{})
	assert.Equal(t, models.StateRunning, second.State)
	assert.NotEqual(t, first.PID, second.PID)
	assert.False(t, Alive(first.PID))
}

func TestStartCancelledDuringSettle(t *testing.T) {
	t.Parallel()
	exe := writeScript(t, t.TempDir(), "exec sleep 30")
	spec := testSpec(exe)
	spec.SettleMS = 5000
	sup := newTestSupervisor(t, spec, &countingProber{})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	st := sup.Start(ctx, StartOptions{})
	assert.Equal(t, models.StateStopped, st.State)
	assert.Contains(t, st.LastError, "start cancelled")
	assert.Zero(t, st.PID)
}
