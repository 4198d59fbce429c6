package process

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/devports/procwatch/pkg/health"
	"github.com/devports/procwatch/pkg/logging"
	"github.com/devports/procwatch/pkg/models"
)

// StartOptions overrides the port and API key chosen for one session.
// ExtraArgs are placed after the configured args and before the port flag.
type StartOptions struct {
	Port      uint16
	APIKey    string
	ExtraArgs []string
}

// Options configures a Supervisor.
type Options struct {
	LogsDir string
	Prober  health.Prober
	Logger  log.FieldLogger
	Now     func() time.Time
}

// Supervisor owns the lifecycle of one external helper process.
//
// Start, Stop and Restart are serialized on lifecycle, so a Start issued
// while a Stop is in flight runs after it. Session state lives behind mu and
// is only held briefly; Status never waits on a lifecycle operation.
type Supervisor struct {
	spec    models.ToolSpec
	logsDir string
	prober  health.Prober
	log     log.FieldLogger
	now     func() time.Time

	lifecycle sync.Mutex

	mu        sync.RWMutex
	state     models.State
	proc      *os.Process
	pid       int
	port      uint16
	apiKey    string
	runID     string
	startedAt *time.Time
	lastError string
	errorKind models.ErrorKind
	logPath   string
	waitDone  chan struct{}
	stopping  bool
}

// NewSupervisor creates a stopped supervisor for spec.
func NewSupervisor(spec models.ToolSpec, opts Options) *Supervisor {
	if opts.Prober == nil {
		opts.Prober = health.NewChecker(spec.HealthTimeout())
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LogsDir == "" {
		opts.LogsDir = os.TempDir()
	}
	return &Supervisor{
		spec:    spec,
		logsDir: opts.LogsDir,
		prober:  opts.Prober,
		log:     logging.OrDiscard(opts.Logger).WithFields(log.Fields{"component": "supervisor", "tool": spec.Name}),
		now:     opts.Now,
		state:   models.StateStopped,
	}
}

// Name returns the supervised tool's name.
func (s *Supervisor) Name() string {
	return s.spec.Name
}

// Spec returns the tool definition.
func (s *Supervisor) Spec() models.ToolSpec {
	return s.spec
}

// Status returns a snapshot of the session state.
func (s *Supervisor) Status() models.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Supervisor) snapshotLocked() models.Status {
	st := models.Status{
		Name:      s.spec.Name,
		State:     s.state,
		PID:       s.pid,
		Port:      s.port,
		LastError: s.lastError,
		ErrorKind: s.errorKind,
		RunID:     s.runID,
		APIKey:    s.apiKey,
	}
	if s.startedAt != nil {
		t := *s.startedAt
		st.StartedAt = &t
	}
	return st
}

// Start spawns the tool unless it is already running, then waits out the
// settle window. Failures are recorded in the returned status.
func (s *Supervisor) Start(ctx context.Context, opts StartOptions) models.Status {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.startLocked(ctx, opts)
}

// Stop terminates the running tool and returns once the OS confirms exit.
func (s *Supervisor) Stop(ctx context.Context) models.Status {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.stopLocked(ctx)
}

// Restart stops the tool if needed and starts it again.
func (s *Supervisor) Restart(ctx context.Context, opts StartOptions) models.Status {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.stopLocked(ctx)
	return s.startLocked(ctx, opts)
}

// CheckHealth probes the tool's status endpoint. It reports false without
// touching the network unless the tool is running.
func (s *Supervisor) CheckHealth(ctx context.Context) bool {
	st := s.Status()
	if !st.Running() {
		return false
	}
	err := s.prober.Probe(ctx, health.Request{
		Port:       st.Port,
		Path:       s.spec.StatusPath,
		AuthHeader: s.spec.AuthHeader,
		APIKey:     st.APIKey,
		Timeout:    s.spec.HealthTimeout(),
	})
	if err != nil {
		s.log.WithError(err).WithField("port", st.Port).Debug("health probe failed")
		return false
	}
	return true
}

// LogPath returns the log file of the current or most recent run.
func (s *Supervisor) LogPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logPath
}

// Tail returns the last n lines of the tool's most recent run log.
func (s *Supervisor) Tail(n int) ([]string, error) {
	return Tail(s.logsDir, s.spec.Name, n)
}

func (s *Supervisor) startLocked(ctx context.Context, opts StartOptions) models.Status {
	if st := s.Status(); st.Active() {
		return st
	}

	if fi, err := os.Stat(s.spec.Executable); err != nil || fi.IsDir() {
		msg := fmt.Sprintf("%s not found at %s", s.spec.Name, s.spec.Executable)
		s.log.WithField("path", s.spec.Executable).Warn("tool executable missing")
		return s.recordFailure(models.StateStopped, models.ErrorToolNotInstalled, msg)
	}

	port, err := pickPort(opts.Port, s.spec.DefaultPorts)
	if err != nil {
		return s.recordFailure(models.StateErrored, models.ErrorSpawnFailure, err.Error())
	}
	apiKey := opts.APIKey
	if apiKey == "" {
		if apiKey, err = newAPIKey(); err != nil {
			return s.recordFailure(models.StateErrored, models.ErrorSpawnFailure, err.Error())
		}
	}

	logFile, err := createLogFile(s.logsDir, s.spec.Name, s.now())
	if err != nil {
		return s.recordFailure(models.StateErrored, models.ErrorSpawnFailure, fmt.Sprintf("failed to create log file: %v", err))
	}
	defer logFile.Close()

	cmd := exec.Command(s.spec.Executable, s.buildArgs(opts.ExtraArgs, port, apiKey)...)
	cmd.Env = append(os.Environ(), envList(s.spec.Env)...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	configureProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		s.log.WithError(err).Warn("spawn failed")
		return s.recordFailure(models.StateErrored, models.ErrorSpawnFailure, err.Error())
	}

	runID := uuid.NewString()
	startedAt := s.now()
	done := make(chan struct{})

	s.mu.Lock()
	s.state = models.StateStarting
	s.proc = cmd.Process
	s.pid = cmd.Process.Pid
	s.port = port
	s.apiKey = apiKey
	s.runID = runID
	s.startedAt = &startedAt
	s.lastError = ""
	s.errorKind = models.ErrorNone
	s.logPath = logFile.Name()
	s.waitDone = done
	s.stopping = false
	s.mu.Unlock()

	logger := s.log.WithFields(log.Fields{"pid": cmd.Process.Pid, "port": port, "run_id": runID})
	logger.Info("tool spawned")
	go s.monitorExit(cmd, done, runID, logFile.Name(), logger)

	settle := time.NewTimer(s.spec.SettleWindow())
	defer settle.Stop()
	select {
	case <-done:
		// monitorExit already recorded the failure.
	case <-settle.C:
		s.mu.Lock()
		if s.runID == runID && s.state == models.StateStarting {
			s.state = models.StateRunning
		}
		s.mu.Unlock()
		logger.Info("tool running")
	case <-ctx.Done():
		s.stopLocked(context.Background())
		return s.recordFailure(models.StateStopped, models.ErrorNone, "start cancelled: "+ctx.Err().Error())
	}
	return s.Status()
}

func (s *Supervisor) stopLocked(ctx context.Context) models.Status {
	s.mu.Lock()
	if (s.state != models.StateStarting && s.state != models.StateRunning) || s.proc == nil {
		st := s.snapshotLocked()
		s.mu.Unlock()
		return st
	}
	s.state = models.StateStopping
	s.stopping = true
	proc := s.proc
	done := s.waitDone
	logger := s.log.WithFields(log.Fields{"pid": s.pid, "run_id": s.runID})
	s.mu.Unlock()

	logger.Info("stopping tool")
	if err := terminate(proc); err != nil {
		logger.WithError(err).Debug("graceful signal failed")
	}

	timeout := time.NewTimer(s.spec.StopTimeout())
	defer timeout.Stop()
	select {
	case <-done:
	case <-timeout.C:
		logger.Warn("tool ignored graceful stop, killing")
		if err := forceKill(proc); err != nil {
			logger.WithError(err).Warn("force kill failed")
		}
	case <-ctx.Done():
		if err := forceKill(proc); err != nil {
			logger.WithError(err).Warn("force kill failed")
		}
	}
	<-done
	logger.Info("tool stopped")
	return s.Status()
}

// monitorExit is the only caller of cmd.Wait. It records the outcome and
// then closes done.
func (s *Supervisor) monitorExit(cmd *exec.Cmd, done chan struct{}, runID, logPath string, logger log.FieldLogger) {
	waitErr := cmd.Wait()
	desc := "exited"
	code := -1
	if ps := cmd.ProcessState; ps != nil {
		desc = ps.String()
		code = ps.ExitCode()
	} else if waitErr != nil {
		desc = waitErr.Error()
	}

	var hint string
	if code != 0 {
		if lines, err := tailFile(logPath, 40); err == nil {
			hint = inferCrashReason(lines)
		}
	}
	reason := desc
	if hint != "" && hint != desc {
		reason = desc + " (" + hint + ")"
	}

	s.mu.Lock()
	if s.runID == runID {
		switch {
		case s.stopping:
			s.clearSessionLocked(models.StateStopped)
			s.lastError = ""
			s.errorKind = models.ErrorNone
		case s.state == models.StateStarting:
			s.clearSessionLocked(models.StateErrored)
			s.lastError = "exited during startup: " + reason
			s.errorKind = models.ErrorSpawnFailure
		case code == 0:
			s.clearSessionLocked(models.StateStopped)
			s.lastError = ""
			s.errorKind = models.ErrorNone
		default:
			s.clearSessionLocked(models.StateErrored)
			s.lastError = reason
			s.errorKind = models.ErrorCrashedWhileRunning
		}
	}
	s.mu.Unlock()

	logger.WithField("exit", desc).Info("tool exited")
	close(done)
}

func (s *Supervisor) clearSessionLocked(state models.State) {
	s.state = state
	s.proc = nil
	s.pid = 0
	s.port = 0
	s.apiKey = ""
	s.startedAt = nil
	s.stopping = false
}

func (s *Supervisor) recordFailure(state models.State, kind models.ErrorKind, msg string) models.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearSessionLocked(state)
	s.lastError = msg
	s.errorKind = kind
	return s.snapshotLocked()
}

func (s *Supervisor) buildArgs(extra []string, port uint16, apiKey string) []string {
	args := slices.Clone(s.spec.Args)
	args = append(args, extra...)
	args = append(args, s.spec.PortFlag, strconv.Itoa(int(port)), s.spec.APIKeyFlag, apiKey)
	if s.spec.NoBrowserFlag != "" {
		args = append(args, s.spec.NoBrowserFlag)
	}
	return args
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
