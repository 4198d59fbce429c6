package scanner

import (
	"context"
	"path"
	"runtime"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/devports/procwatch/pkg/logging"
	"github.com/devports/procwatch/pkg/models"
)

const (
	DefaultPortTTL = 2 * time.Second
	DefaultNameTTL = 10 * time.Second

	// UnknownProcess is reported when a pid's name cannot be resolved.
	UnknownProcess = "unknown"

	allPIDsKey = "*"
)

// Options configures a Service or TreeResolver. Zero values pick defaults.
type Options struct {
	Runner  Runner
	PortTTL time.Duration
	NameTTL time.Duration
	GOOS    string
	Now     func() time.Time
	Logger  log.FieldLogger
}

func (o Options) withDefaults() Options {
	if o.Runner == nil {
		o.Runner = OSRunner{Timeout: 4 * time.Second, MaxOutput: 4 << 20, Logger: o.Logger}
	}
	if o.PortTTL <= 0 {
		o.PortTTL = DefaultPortTTL
	}
	if o.NameTTL <= 0 {
		o.NameTTL = DefaultNameTTL
	}
	if o.GOOS == "" {
		o.GOOS = runtime.GOOS
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	o.Logger = logging.OrDiscard(o.Logger)
	return o
}

// Service discovers listening TCP ports and the processes that own them.
// Every query fails closed: an OS error yields an empty result, never a
// partial or unverified one.
type Service struct {
	runner Runner
	goos   string
	now    func() time.Time
	log    log.FieldLogger

	ports    *ttlCache[[]models.PortRecord]
	names    *ttlCache[string]
	commands *ttlCache[string]
}

// NewService creates a discovery service.
func NewService(opts Options) *Service {
	opts = opts.withDefaults()
	return &Service{
		runner:   opts.Runner,
		goos:     opts.GOOS,
		now:      opts.Now,
		log:      opts.Logger,
		ports:    newTTLCache[[]models.PortRecord](opts.PortTTL),
		names:    newTTLCache[string](opts.NameTTL),
		commands: newTTLCache[string](opts.NameTTL),
	}
}

// ListPortsForProcesses returns the listening sockets owned by pids. Every
// returned record belongs to one of the requested pids.
func (s *Service) ListPortsForProcesses(ctx context.Context, pids []int) []models.PortRecord {
	set := normalizePIDs(pids)
	if len(set) == 0 {
		return []models.PortRecord{}
	}
	key := joinPIDs(set)
	now := s.now()
	if cached, ok := s.ports.get(key, now); ok {
		return slices.Clone(cached)
	}

	records, err := s.queryListeners(ctx, set)
	if err != nil {
		s.log.WithError(err).WithField("pids", key).Debug("port query failed")
		return []models.PortRecord{}
	}
	records = keepPIDs(records, set)
	s.fillNames(ctx, records)
	sortRecords(records)

	s.ports.put(key, records, now)
	return slices.Clone(records)
}

// ListAllListeningPorts returns every listening socket on the machine, with
// a friendly name derived from each owner's command line.
func (s *Service) ListAllListeningPorts(ctx context.Context) []models.PortRecord {
	now := s.now()
	if cached, ok := s.ports.get(allPIDsKey, now); ok {
		return slices.Clone(cached)
	}

	records, err := s.queryListeners(ctx, nil)
	if err != nil {
		s.log.WithError(err).Debug("port query failed")
		return []models.PortRecord{}
	}
	s.fillNames(ctx, records)

	pids := make([]int, 0, len(records))
	for _, r := range records {
		pids = append(pids, r.PID)
	}
	cmdlines := s.commandLines(ctx, normalizePIDs(pids))
	for i := range records {
		cmdline := cmdlines[records[i].PID]
		records[i].Command = cmdline
		records[i].ProcessName = FriendlyName(cmdline, records[i].ProcessName)
	}
	sortRecords(records)

	s.ports.put(allPIDsKey, records, now)
	return slices.Clone(records)
}

// GetProcessName returns the executable name of pid, or "unknown".
func (s *Service) GetProcessName(ctx context.Context, pid int) string {
	if pid <= 0 {
		return UnknownProcess
	}
	key := strconv.Itoa(pid)
	if name, ok := s.names.get(key, s.now()); ok {
		return name
	}

	c := processNameCommand(s.goos, pid)
	out, err := s.runner.Run(ctx, c.name, c.args...)
	if err != nil {
		return UnknownProcess
	}
	var name string
	if s.goos == "windows" {
		name = parseTasklistName(out, pid)
	} else {
		name = strings.TrimSpace(string(out))
	}
	name = baseName(name)
	if name == "" {
		return UnknownProcess
	}
	s.names.put(key, name, s.now())
	return name
}

// GetCommandLine returns the full command line of pid, or "".
func (s *Service) GetCommandLine(ctx context.Context, pid int) string {
	return s.commandLines(ctx, []int{pid})[pid]
}

// Invalidate drops every cached result.
func (s *Service) Invalidate() {
	s.ports.clear()
	s.names.clear()
	s.commands.clear()
}

func (s *Service) queryListeners(ctx context.Context, pids []int) ([]models.PortRecord, error) {
	if s.goos == "windows" {
		return s.queryNetstat(ctx)
	}

	c := lsofListeners(pids)
	out, err := s.runner.Run(ctx, c.name, c.args...)
	// lsof exits 1 when nothing matched or when some pid in -p is gone; the
	// sockets of the remaining pids are still printed.
	if err == nil || exitCode(err) == 1 {
		return parseLsofFields(out), nil
	}
	if s.goos == "linux" && isNotFound(err) {
		c = ssListeners()
		out, err = s.runner.Run(ctx, c.name, c.args...)
		if err != nil && exitCode(err) != 1 {
			return nil, err
		}
		return parseSS(out), nil
	}
	return nil, err
}

func (s *Service) queryNetstat(ctx context.Context) ([]models.PortRecord, error) {
	var records []models.PortRecord
	for _, c := range []command{netstatListeners(), netstatListenersV6()} {
		out, err := s.runner.Run(ctx, c.name, c.args...)
		if err != nil {
			return nil, err
		}
		records = append(records, parseNetstat(out)...)
	}
	return records, nil
}

func (s *Service) fillNames(ctx context.Context, records []models.PortRecord) {
	for i := range records {
		if records[i].ProcessName == "" {
			records[i].ProcessName = s.GetProcessName(ctx, records[i].PID)
		}
	}
}

// commandLines resolves command lines for pids with a single OS query for
// whatever is not cached.
func (s *Service) commandLines(ctx context.Context, pids []int) map[int]string {
	result := make(map[int]string, len(pids))
	now := s.now()
	var missing []int
	for _, pid := range pids {
		if pid <= 0 {
			continue
		}
		if cmd, ok := s.commands.get(strconv.Itoa(pid), now); ok {
			result[pid] = cmd
			continue
		}
		missing = append(missing, pid)
	}
	if len(missing) == 0 {
		return result
	}

	c := commandLinesCommand(s.goos, missing)
	out, err := s.runner.Run(ctx, c.name, c.args...)
	// ps exits 1 when some pids are gone but still prints the rest.
	if err != nil && len(out) == 0 {
		s.log.WithError(err).Debug("command line query failed")
		return result
	}
	found := parsePIDCommands(out)
	for _, pid := range missing {
		if cmd, ok := found[pid]; ok {
			result[pid] = cmd
			s.commands.put(strconv.Itoa(pid), cmd, now)
		}
	}
	return result
}

// normalizePIDs sorts, deduplicates and drops non-positive pids.
func normalizePIDs(pids []int) []int {
	out := make([]int, 0, len(pids))
	for _, pid := range pids {
		if pid > 0 {
			out = append(out, pid)
		}
	}
	sort.Ints(out)
	return slices.Compact(out)
}

func keepPIDs(records []models.PortRecord, pids []int) []models.PortRecord {
	kept := records[:0]
	for _, r := range records {
		if _, ok := slices.BinarySearch(pids, r.PID); ok {
			kept = append(kept, r)
		}
	}
	return kept
}

func sortRecords(records []models.PortRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Port != records[j].Port {
			return records[i].Port < records[j].Port
		}
		if records[i].PID != records[j].PID {
			return records[i].PID < records[j].PID
		}
		return records[i].BindAddress < records[j].BindAddress
	})
}

// baseName strips directories and a Windows .exe suffix from an image name.
func baseName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if strings.HasSuffix(strings.ToLower(name), ".exe") {
		name = name[:len(name)-4]
	}
	return name
}
