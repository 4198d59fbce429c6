package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/devports/procwatch/pkg/config"
	"github.com/devports/procwatch/pkg/health"
	"github.com/devports/procwatch/pkg/logging"
	"github.com/devports/procwatch/pkg/models"
	"github.com/devports/procwatch/pkg/registry"
	"github.com/devports/procwatch/pkg/scanner"
)

var warnShellArgsOnce sync.Once

// AppOptions configures NewApp.
type AppOptions struct {
	ConfigDir string
	LogLevel  string
	// LogToFile sends log output to procwatch.log instead of stderr.
	LogToFile bool
	Out       io.Writer
	Err       io.Writer
}

// App is the main application handler
type App struct {
	paths     models.ConfigPaths
	config    *config.Config
	log       *log.Logger
	logCloser io.Closer
	scanner   *scanner.Service
	tree      *scanner.TreeResolver
	registry  *registry.Registry
	health    *health.Checker
	out       io.Writer
	errOut    io.Writer
}

// NewApp creates and initializes the application
func NewApp(opts AppOptions) (*App, error) {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Err == nil {
		opts.Err = os.Stderr
	}

	paths, err := resolvePaths(opts.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("failed to get config paths: %w", err)
	}
	if err := paths.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("failed to create config directories: %w", err)
	}

	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return nil, err
	}

	level := cfg.LogLevel
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	logger := logging.New(level, opts.Err)
	var closer io.Closer
	if opts.LogToFile {
		logger, closer, err = logging.NewFile(level, paths.LogFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
	}

	history := registry.NewHistory(paths.HistoryFile)
	if err := history.Load(); err != nil {
		logger.WithError(err).Warn("failed to load run history")
	}

	runner := scanner.OSRunner{
		Timeout:   cfg.Discovery.CommandTimeout(),
		MaxOutput: cfg.Discovery.OutputLimit(),
		Logger:    logger,
	}
	scanOpts := scanner.Options{
		Runner:  runner,
		PortTTL: cfg.Discovery.PortCacheTTL(),
		NameTTL: cfg.Discovery.NameCacheTTL(),
		Logger:  logger,
	}

	tools := cfg.ResolvedTools()
	warnShellArgsOnce.Do(func() {
		warnShellArgs(tools, opts.Err)
	})

	return &App{
		paths:     paths,
		config:    cfg,
		log:       logger,
		logCloser: closer,
		scanner:   scanner.NewService(scanOpts),
		tree:      scanner.NewTreeResolver(scanOpts),
		registry: registry.New(tools, registry.Options{
			LogsDir: paths.LogsDir,
			History: history,
			Logger:  logger,
		}),
		health: health.NewChecker(0),
		out:    opts.Out,
		errOut: opts.Err,
	}, nil
}

func resolvePaths(dir string) (models.ConfigPaths, error) {
	if dir != "" {
		return models.ConfigPathsAt(config.ExpandHome(dir)), nil
	}
	return models.GetConfigPaths()
}

// Close stops every supervised tool and releases the log file.
func (a *App) Close(ctx context.Context) error {
	err := a.registry.Shutdown(ctx)
	if a.logCloser != nil {
		if cerr := a.logCloser.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// warnShellArgs flags configured tool args that look like shell syntax.
// Tools are exec'd directly, so such args reach the tool verbatim.
func warnShellArgs(tools []models.ToolSpec, out io.Writer) {
	if out == nil {
		return
	}
	var warnings []string
	for _, t := range tools {
		if p, ok := firstBlockedShellPattern(strings.Join(t.Args, " ")); ok {
			warnings = append(warnings, fmt.Sprintf("  - %s (pattern %q)", t.Name, p))
		}
	}
	if len(warnings) == 0 {
		return
	}
	sort.Strings(warnings)
	fmt.Fprintln(out, "Warning: tool args contain shell patterns.")
	fmt.Fprintln(out, "Tools are started without a shell, so these are passed through literally.")
	for _, w := range warnings {
		fmt.Fprintln(out, w)
	}
}
