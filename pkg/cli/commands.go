package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/devports/procwatch/pkg/callback"
	"github.com/devports/procwatch/pkg/config"
	"github.com/devports/procwatch/pkg/health"
	"github.com/devports/procwatch/pkg/models"
	"github.com/devports/procwatch/pkg/process"
	"github.com/devports/procwatch/pkg/scanner"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))

// PortsOptions selects which listening ports the ports command shows.
type PortsOptions struct {
	PIDs []int
	// Tree expands to the given pid and all of its descendants.
	Tree int
	Dev  bool
	JSON bool
}

// RunOptions overrides the session parameters of run and health.
type RunOptions struct {
	Port   uint16
	APIKey string
	Args   string
}

// LoginOptions configures an authorization-code login.
type LoginOptions struct {
	AuthorizeURL string
	ClientID     string
	Scopes       []string
	Timeout      time.Duration
	NoBrowser    bool
	JSON         bool
}

// PortsCmd prints listening ports, either system-wide or for a pid set.
func (a *App) PortsCmd(ctx context.Context, opts PortsOptions) error {
	records, err := a.portRecords(ctx, opts)
	if err != nil {
		return err
	}
	if opts.Dev {
		records = scanner.FilterDevRecords(records)
	}
	if opts.JSON {
		return a.printJSON(records)
	}
	if len(records) == 0 {
		fmt.Fprintln(a.out, "No listening ports found")
		return nil
	}

	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			strconv.Itoa(int(r.Port)),
			strconv.Itoa(r.PID),
			r.BindAddress,
			r.ProcessName,
			orDash(r.Command),
		})
	}
	return a.printTable([]string{"PORT", "PID", "BIND", "PROCESS", "COMMAND"}, rows)
}

func (a *App) portRecords(ctx context.Context, opts PortsOptions) ([]models.PortRecord, error) {
	if opts.Tree == 0 && len(opts.PIDs) == 0 {
		return a.scanner.ListAllListeningPorts(ctx), nil
	}
	pids := append([]int(nil), opts.PIDs...)
	if opts.Tree != 0 {
		if opts.Tree < 0 {
			return nil, fmt.Errorf("invalid pid %d", opts.Tree)
		}
		pids = append(pids, opts.Tree)
		pids = append(pids, a.tree.DescendantsOf(ctx, opts.Tree)...)
	}
	return a.scanner.ListPortsForProcesses(ctx, pids), nil
}

// TreeCmd prints pid and its descendants with their process names.
func (a *App) TreeCmd(ctx context.Context, pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	rows := [][]string{{strconv.Itoa(pid), a.scanner.GetProcessName(ctx, pid), "root"}}
	for _, child := range a.tree.DescendantsOf(ctx, pid) {
		rows = append(rows, []string{strconv.Itoa(child), a.scanner.GetProcessName(ctx, child), "descendant"})
	}
	return a.printTable([]string{"PID", "PROCESS", "RELATION"}, rows)
}

// NameCmd prints the process name of pid, or "unknown".
func (a *App) NameCmd(ctx context.Context, pid int) error {
	fmt.Fprintln(a.out, a.scanner.GetProcessName(ctx, pid))
	return nil
}

type toolRow struct {
	Name       string              `json:"name"`
	Installed  bool                `json:"installed"`
	Executable string              `json:"executable"`
	Status     models.Status       `json:"status"`
	History    *models.ToolHistory `json:"history,omitempty"`
	StalePID   int                 `json:"stale_pid,omitempty"`
}

// ToolsCmd lists configured tools with their install state and last run.
func (a *App) ToolsCmd(jsonOut bool) error {
	var rows []toolRow
	for _, st := range a.registry.Snapshot() {
		sup, err := a.registry.Get(st.Name)
		if err != nil {
			return err
		}
		spec := sup.Spec()
		row := toolRow{
			Name:       spec.Name,
			Installed:  installed(spec.Executable),
			Executable: spec.Executable,
			Status:     st,
		}
		if th, ok := a.registry.History().Get(spec.Name); ok {
			row.History = &th
			// A pid left behind by a previous procwatch that never recorded the stop.
			if th.LastPID != nil && !st.Active() && process.Alive(*th.LastPID) {
				row.StalePID = *th.LastPID
			}
		}
		rows = append(rows, row)
	}
	if jsonOut {
		return a.printJSON(rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(a.out, "No tools configured")
		return nil
	}

	table := make([][]string, 0, len(rows))
	for _, r := range rows {
		inst := "yes"
		if !r.Installed {
			inst = "no"
		}
		lastRun, lastErr := "-", "-"
		if r.History != nil {
			if r.History.LastStart != nil {
				lastRun = r.History.LastStart.Local().Format("2006-01-02 15:04")
			}
			if r.History.LastError != "" {
				lastErr = r.History.LastError
			}
		}
		if r.StalePID != 0 {
			lastErr = fmt.Sprintf("pid %d from an earlier run is still alive", r.StalePID)
		}
		table = append(table, []string{r.Name, inst, string(r.Status.State), lastRun, lastErr})
	}
	return a.printTable([]string{"TOOL", "INSTALLED", "STATE", "LAST START", "LAST ERROR"}, table)
}

func installed(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// RunCmd starts a tool and keeps it in the foreground until ctx is done or
// the tool exits on its own.
func (a *App) RunCmd(ctx context.Context, name string, opts RunOptions) error {
	startOpts, err := a.startOptions(opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Starting %q...\n", name)
	st, err := a.registry.Start(ctx, name, startOpts)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s running on port %d (pid %d, run %s)\n", st.Name, st.Port, st.PID, st.RunID)
	fmt.Fprintf(a.out, "API key: %s\n", st.APIKey)
	fmt.Fprintln(a.out, "Press Ctrl+C to stop")

	sup, err := a.registry.Get(name)
	if err != nil {
		return err
	}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), 2*sup.Spec().StopTimeout())
			st, _ = a.registry.Stop(stopCtx, name)
			cancel()
			fmt.Fprintf(a.out, "%s %s\n", st.Name, st.State)
			return nil
		case <-ticker.C:
			cur := sup.Status()
			if cur.Active() && cur.RunID == st.RunID {
				continue
			}
			// Records the exit in the run history.
			a.registry.Snapshot()
			if err := process.Err(cur); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s exited\n", name)
			return nil
		}
	}
}

// HealthCmd starts a tool, probes its status endpoint once and stops it.
// A tool that was already running is probed and left alone.
func (a *App) HealthCmd(ctx context.Context, name string, opts RunOptions) error {
	sup, err := a.registry.Get(name)
	if err != nil {
		return err
	}
	if !sup.Status().Running() {
		startOpts, err := a.startOptions(opts)
		if err != nil {
			return err
		}
		if _, err := a.registry.Start(ctx, name, startOpts); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 2*sup.Spec().StopTimeout())
			defer cancel()
			_, _ = a.registry.Stop(stopCtx, name)
		}()
	}

	st := sup.Status()
	if !sup.CheckHealth(ctx) {
		fmt.Fprintf(a.out, "%s not reachable on port %d\n", name, st.Port)
		return process.ErrHealthCheckFailed
	}
	fmt.Fprintf(a.out, "%s healthy on port %d\n", name, st.Port)
	return nil
}

// CheckCmd probes an arbitrary local port over HTTP, then TCP.
func (a *App) CheckCmd(ctx context.Context, port uint16) error {
	check := a.health.Check(ctx, port)
	fmt.Fprintf(a.out, "Status:   %s %s\n", health.StatusIcon(check.Status), check.Status)
	fmt.Fprintf(a.out, "Response: %dms\n", check.ResponseMs)
	fmt.Fprintf(a.out, "Message:  %s\n", check.Message)
	if check.Status == health.HealthDown {
		return process.ErrHealthCheckFailed
	}
	return nil
}

// LogsCmd displays recent run logs for a tool
func (a *App) LogsCmd(name string, lines int) error {
	sup, err := a.registry.Get(name)
	if err != nil {
		return err
	}
	logLines, err := sup.Tail(lines)
	if err != nil {
		if errors.Is(err, process.ErrNoLogs) {
			return fmt.Errorf("no logs for %q yet; logs are captured when procwatch starts the tool", name)
		}
		return err
	}
	fmt.Fprintf(a.out, "Logs for tool %q:\n", name)
	for _, line := range logLines {
		fmt.Fprintln(a.out, line)
	}
	return nil
}

type loginResult struct {
	Code         string `json:"code"`
	CodeVerifier string `json:"code_verifier"`
	RedirectURI  string `json:"redirect_uri"`
}

// LoginCmd runs the browser half of an authorization-code login with PKCE
// and prints the code and verifier for the token exchange.
func (a *App) LoginCmd(ctx context.Context, opts LoginOptions) error {
	if opts.AuthorizeURL == "" || opts.ClientID == "" {
		return errors.New("--authorize-url and --client-id are required")
	}
	pkce, err := callback.GeneratePKCE()
	if err != nil {
		return err
	}

	l := callback.NewListener(callback.Options{
		ShutdownDelay: a.config.Callback.ShutdownDelay(),
		Logger:        a.log,
	})
	if _, err := l.Start(); err != nil {
		return err
	}
	defer l.Close()

	authURL, err := callback.AuthorizeURL(opts.AuthorizeURL, opts.ClientID, l.RedirectURI(), opts.Scopes, pkce)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.errOut, "Open this URL to log in:")
	fmt.Fprintln(a.errOut, authURL)
	if !opts.NoBrowser {
		if err := openBrowser(authURL); err != nil {
			a.log.WithError(err).Debug("could not open browser")
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = a.config.Callback.Timeout()
	}
	res, err := l.AwaitResult(ctx, timeout)
	if errors.Is(err, callback.ErrCallbackTimeout) {
		return fmt.Errorf("login not completed: no response within %s", timeout)
	}
	if err != nil {
		return err
	}
	if err := res.Validate(pkce.State); err != nil {
		return err
	}

	out := loginResult{Code: res.Code, CodeVerifier: pkce.Verifier, RedirectURI: l.RedirectURI()}
	if opts.JSON {
		return a.printJSON(out)
	}
	fmt.Fprintf(a.out, "code=%s\ncode_verifier=%s\nredirect_uri=%s\n", out.Code, out.CodeVerifier, out.RedirectURI)
	return nil
}

// ConfigShowCmd prints the effective configuration.
func (a *App) ConfigShowCmd() error {
	var buf bytes.Buffer
	if err := config.Encode(&buf, a.config); err != nil {
		return err
	}
	_, err := a.out.Write(buf.Bytes())
	return err
}

// ConfigPathCmd prints where procwatch keeps its files.
func (a *App) ConfigPathCmd() error {
	rows := [][]string{
		{"config", a.paths.ConfigFile},
		{"history", a.paths.HistoryFile},
		{"logs", a.paths.LogsDir},
		{"log file", a.paths.LogFile},
	}
	return a.printTable([]string{"WHAT", "PATH"}, rows)
}

// ConfigInitCmd writes the default configuration unless one exists.
func (a *App) ConfigInitCmd(force bool) error {
	if _, err := os.Stat(a.paths.ConfigFile); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", a.paths.ConfigFile)
	}
	if err := config.Save(a.paths.ConfigFile, config.Default()); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Wrote %s\n", a.paths.ConfigFile)
	return nil
}

func (a *App) startOptions(opts RunOptions) (process.StartOptions, error) {
	extra, err := process.ParseArgs(opts.Args)
	if err != nil {
		return process.StartOptions{}, err
	}
	if err := validateExtraArgs(extra); err != nil {
		return process.StartOptions{}, err
	}
	return process.StartOptions{Port: opts.Port, APIKey: opts.APIKey, ExtraArgs: extra}, nil
}

// printTable aligns rows with tabwriter and styles the header line.
func (a *App) printTable(header []string, rows [][]string) error {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(header, "\t"))
	for _, r := range rows {
		fmt.Fprintln(w, strings.Join(r, "\t"))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	first, rest, _ := strings.Cut(buf.String(), "\n")
	fmt.Fprintln(a.out, headerStyle.Render(strings.TrimRight(first, " ")))
	_, err := fmt.Fprint(a.out, rest)
	return err
}

func (a *App) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
