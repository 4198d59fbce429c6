package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devports/procwatch/pkg/config"
	"github.com/devports/procwatch/pkg/health"
	"github.com/devports/procwatch/pkg/logging"
	"github.com/devports/procwatch/pkg/models"
	"github.com/devports/procwatch/pkg/registry"
	"github.com/devports/procwatch/pkg/scanner"
)

type funcRunner func(name string, args ...string) ([]byte, error)

func (f funcRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	return f(name, args...)
}

const lsofOutput = "p100\ncnode\nn127.0.0.1:5173\np200\ncsshd\nn*:22\n"

func darwinRunner(name string, args ...string) ([]byte, error) {
	switch name {
	case "lsof":
		return []byte(lsofOutput), nil
	case "ps":
		return []byte("100 node /app/node_modules/.bin/vite --port 5173\n200 /usr/sbin/sshd -D\n"), nil
	}
	return nil, errors.New("unexpected command " + name)
}

func newTestApp(t *testing.T, runner scanner.Runner, tools ...models.ToolSpec) (*App, *bytes.Buffer) {
	t.Helper()
	paths := models.ConfigPathsAt(t.TempDir())
	require.NoError(t, paths.EnsureDirs())
	out := new(bytes.Buffer)
	opts := scanner.Options{Runner: runner, GOOS: "darwin"}
	return &App{
		paths:    paths,
		config:   config.Default(),
		log:      logging.Discard(),
		scanner:  scanner.NewService(opts),
		tree:     scanner.NewTreeResolver(opts),
		registry: registry.New(tools, registry.Options{LogsDir: paths.LogsDir, History: registry.NewHistory(paths.HistoryFile)}),
		health:   health.NewChecker(time.Second),
		out:      out,
		errOut:   new(bytes.Buffer),
	}, out
}

func TestPortsCmdScopedToPIDs(t *testing.T) {
	t.Parallel()
	app, out := newTestApp(t, funcRunner(darwinRunner))

	require.NoError(t, app.PortsCmd(context.Background(), PortsOptions{PIDs: []int{100}, JSON: true}))
	var records []models.PortRecord
	require.NoError(t, json.Unmarshal(out.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, models.PortRecord{Port: 5173, PID: 100, BindAddress: "127.0.0.1", ProcessName: "node"}, records[0])
}

func TestPortsCmdTableUsesFriendlyNames(t *testing.T) {
	t.Parallel()
	app, out := newTestApp(t, funcRunner(darwinRunner))

	require.NoError(t, app.PortsCmd(context.Background(), PortsOptions{}))
	s := out.String()
	assert.Contains(t, s, "PORT")
	assert.Contains(t, s, "Vite")
	assert.Contains(t, s, "5173")
	assert.Contains(t, s, "0.0.0.0")
}

func TestPortsCmdFailsClosed(t *testing.T) {
	t.Parallel()
	app, out := newTestApp(t, funcRunner(func(string, ...string) ([]byte, error) {
		return nil, errors.New("permission denied")
	}))

	require.NoError(t, app.PortsCmd(context.Background(), PortsOptions{PIDs: []int{100}}))
	assert.Equal(t, "No listening ports found\n", out.String())
}

func TestLoginCmdPrintsCodeAndVerifier(t *testing.T) {
	app, out := newTestApp(t, funcRunner(darwinRunner))
	app.config.Callback.ShutdownDelayMS = 50

	browserErr := make(chan error, 1)
	prev := openBrowser
	openBrowser = func(raw string) error {
		go func() {
			u, err := url.Parse(raw)
			if err != nil {
				browserErr <- err
				return
			}
			q := u.Query()
			resp, err := http.Get(q.Get("redirect_uri") + "?code=the-code&state=" + url.QueryEscape(q.Get("state")))
			if err == nil {
				resp.Body.Close()
			}
			browserErr <- err
		}()
		return nil
	}
	t.Cleanup(func() { openBrowser = prev })

	err := app.LoginCmd(context.Background(), LoginOptions{
		AuthorizeURL: "https://auth.example.com/oauth/authorize",
		ClientID:     "cli",
		Scopes:       []string{"openid"},
		Timeout:      5 * time.Second,
		JSON:         true,
	})
	require.NoError(t, err)
	require.NoError(t, <-browserErr)

	var res loginResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, "the-code", res.Code)
	assert.NotEmpty(t, res.CodeVerifier)
	assert.Contains(t, res.RedirectURI, "http://127.0.0.1:")
}

func TestLoginCmdTimeout(t *testing.T) {
	t.Parallel()
	app, _ := newTestApp(t, funcRunner(darwinRunner))

	err := app.LoginCmd(context.Background(), LoginOptions{
		AuthorizeURL: "https://auth.example.com/oauth/authorize",
		ClientID:     "cli",
		Timeout:      100 * time.Millisecond,
		NoBrowser:    true,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login not completed")
}

func TestLogsCmd(t *testing.T) {
	t.Parallel()
	app, _ := newTestApp(t, funcRunner(darwinRunner), models.ToolSpec{Name: "router", Executable: "/nonexistent"})

	err := app.LogsCmd("nope", 10)
	assert.ErrorIs(t, err, registry.ErrUnknownTool)

	err = app.LogsCmd("router", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no logs")
}

func TestRunCmdRejectsShellArgs(t *testing.T) {
	t.Parallel()
	app, _ := newTestApp(t, funcRunner(darwinRunner), models.ToolSpec{Name: "router", Executable: "/nonexistent"})

	err := app.RunCmd(context.Background(), "router", RunOptions{Args: "--x && rm"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disallowed shell pattern")
}

func TestConfigInitCmd(t *testing.T) {
	t.Parallel()
	app, out := newTestApp(t, funcRunner(darwinRunner))

	require.NoError(t, app.ConfigInitCmd(false))
	assert.FileExists(t, app.paths.ConfigFile)
	assert.Contains(t, out.String(), filepath.Base(app.paths.ConfigFile))

	assert.Error(t, app.ConfigInitCmd(false))
	assert.NoError(t, app.ConfigInitCmd(true))
}
