package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/devports/procwatch/pkg/health"
	"github.com/devports/procwatch/pkg/logging"
	"github.com/devports/procwatch/pkg/models"
	"github.com/devports/procwatch/pkg/process"
)

var ErrUnknownTool = errors.New("unknown tool")

// Options configures a Registry.
type Options struct {
	LogsDir string
	History *History
	Prober  health.Prober
	Logger  log.FieldLogger
}

// Registry owns one supervisor per configured tool. It is constructed once
// by the application and must be shut down before exit.
type Registry struct {
	supervisors map[string]*process.Supervisor
	order       []string
	history     *History
	log         log.FieldLogger

	mu     sync.Mutex
	active map[string]string
}

// New builds supervisors for tools. Later duplicates of a name are ignored.
func New(tools []models.ToolSpec, opts Options) *Registry {
	logger := logging.OrDiscard(opts.Logger)
	if opts.History == nil {
		opts.History = NewHistory("")
	}
	r := &Registry{
		supervisors: make(map[string]*process.Supervisor, len(tools)),
		history:     opts.History,
		log:         logger.WithField("component", "registry"),
		active:      make(map[string]string),
	}
	for _, spec := range tools {
		if _, dup := r.supervisors[spec.Name]; dup {
			continue
		}
		r.supervisors[spec.Name] = process.NewSupervisor(spec, process.Options{
			LogsDir: opts.LogsDir,
			Prober:  opts.Prober,
			Logger:  logger,
		})
		r.order = append(r.order, spec.Name)
	}
	return r
}

// Get returns the supervisor for name
func (r *Registry) Get(name string) (*process.Supervisor, error) {
	sup, ok := r.supervisors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	return sup, nil
}

// List returns supervisors in configuration order
func (r *Registry) List() []*process.Supervisor {
	out := make([]*process.Supervisor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.supervisors[name])
	}
	return out
}

// History returns the run history store.
func (r *Registry) History() *History {
	return r.history
}

// Start starts the named tool. A failed start is returned both in the
// status and as an error wrapping the process sentinel.
func (r *Registry) Start(ctx context.Context, name string, opts process.StartOptions) (models.Status, error) {
	sup, err := r.Get(name)
	if err != nil {
		return models.Status{}, err
	}
	st := sup.Start(ctx, opts)
	r.observe(st)
	return st, process.Err(st)
}

// Stop stops the named tool.
func (r *Registry) Stop(ctx context.Context, name string) (models.Status, error) {
	sup, err := r.Get(name)
	if err != nil {
		return models.Status{}, err
	}
	st := sup.Stop(ctx)
	r.observe(st)
	return st, nil
}

// Restart restarts the named tool.
func (r *Registry) Restart(ctx context.Context, name string, opts process.StartOptions) (models.Status, error) {
	sup, err := r.Get(name)
	if err != nil {
		return models.Status{}, err
	}
	st := sup.Restart(ctx, opts)
	r.observe(st)
	return st, process.Err(st)
}

// Snapshot returns the status of every tool and records any session that
// ended since the last observation, including crashes.
func (r *Registry) Snapshot() []models.Status {
	out := make([]models.Status, 0, len(r.order))
	for _, sup := range r.List() {
		st := sup.Status()
		r.observe(st)
		out = append(out, st)
	}
	return out
}

// Shutdown stops every active tool concurrently and waits for all of them.
func (r *Registry) Shutdown(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, sup := range r.List() {
		if !sup.Status().Active() {
			continue
		}
		wg.Add(1)
		go func(sup *process.Supervisor) {
			defer wg.Done()
			r.observe(sup.Stop(ctx))
		}(sup)
	}
	wg.Wait()
	r.log.Debug("registry shut down")
	return ctx.Err()
}

// observe writes a history entry when a tool's session starts or ends.
// Sessions are told apart by run id, so a restart counts as a new start.
func (r *Registry) observe(st models.Status) {
	var current string
	if st.Active() {
		current = st.RunID
	}
	r.mu.Lock()
	previous := r.active[st.Name]
	r.active[st.Name] = current
	r.mu.Unlock()

	var err error
	switch {
	case current != "" && current != previous:
		err = r.history.RecordStart(st)
	case current == "" && previous != "":
		err = r.history.RecordStop(st)
	case current == "" && st.LastError != "":
		if th, ok := r.history.Get(st.Name); !ok || th.LastError != st.LastError {
			err = r.history.RecordStop(st)
		}
	}
	if err != nil {
		r.log.WithError(err).WithField("tool", st.Name).Warn("failed to record history")
	}
}
