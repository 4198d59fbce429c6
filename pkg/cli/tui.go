package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/devports/procwatch/pkg/health"
	"github.com/devports/procwatch/pkg/models"
	"github.com/devports/procwatch/pkg/process"
	"github.com/devports/procwatch/pkg/scanner"
)

// TopCmd starts the interactive TUI mode (like 'top')
func (a *App) TopCmd() error {
	model := newTopModel(a)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

type viewMode int
type viewFocus int
type sortMode int
type portScope int

const (
	viewModeTable viewMode = iota
	viewModeLogs
	viewModeCommand
	viewModeSearch
	viewModeHelp
	viewModeConfirm
)

const (
	focusPorts viewFocus = iota
	focusTools
)

const (
	sortPort sortMode = iota
	sortPID
	sortProcess
	sortModeCount
)

const (
	scopeAll portScope = iota
	scopeDev
	scopeTool
	scopeCount
)

const (
	actionStart   = "start"
	actionStop    = "stop"
	actionRestart = "restart"
)

type confirmState struct {
	prompt string
	tool   string
}

// topModel represents the TUI state.
type topModel struct {
	app        *App
	ports      []models.PortRecord
	tools      []models.Status
	width      int
	height     int
	lastUpdate time.Time
	lastInput  time.Time

	selected int
	toolSel  int
	focus    viewFocus
	mode     viewMode
	scope    portScope
	sortBy   sortMode

	logLines   []string
	logErr     error
	logTool    string
	followLogs bool

	cmdInput    string
	searchQuery string
	cmdStatus   string

	health     map[uint16]string
	toolHealth map[string]bool
	healthBusy bool
	healthLast time.Time
	healthChk  *health.Checker
	scanBusy   bool

	busy    map[string]string
	spinner spinner.Model
	confirm *confirmState
}

func newTopModel(app *App) topModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	m := topModel{
		app:        app,
		lastUpdate: time.Now(),
		lastInput:  time.Now(),
		mode:       viewModeTable,
		focus:      focusTools,
		followLogs: true,
		health:     make(map[uint16]string),
		toolHealth: make(map[string]bool),
		healthChk:  health.NewChecker(800 * time.Millisecond),
		busy:       make(map[string]string),
		spinner:    s,
		scanBusy:   true,
	}
	m.refreshTools()
	return m
}

func (m topModel) Init() tea.Cmd {
	return tea.Batch(tickCmd(), m.spinner.Tick, m.scanCmd())
}

func (m topModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		m.lastInput = time.Now()
		if m.mode == viewModeCommand {
			switch msg.String() {
			case "esc":
				m.mode = viewModeTable
				m.cmdInput = ""
				return m, nil
			case "enter":
				status, cmd := m.runCommand(strings.TrimSpace(m.cmdInput))
				m.cmdStatus = status
				m.cmdInput = ""
				if m.mode == viewModeCommand {
					m.mode = viewModeTable
				}
				return m, cmd
			case "backspace":
				if len(m.cmdInput) > 0 {
					m.cmdInput = m.cmdInput[:len(m.cmdInput)-1]
				}
				return m, nil
			}
			for _, r := range msg.Runes {
				if r >= 32 && r != 127 {
					m.cmdInput += string(r)
				}
			}
			return m, nil
		}
		if m.mode == viewModeSearch {
			switch msg.String() {
			case "esc":
				m.mode = viewModeTable
				m.searchQuery = ""
				return m, nil
			case "enter":
				m.mode = viewModeTable
				return m, nil
			case "backspace":
				if len(m.searchQuery) > 0 {
					m.searchQuery = m.searchQuery[:len(m.searchQuery)-1]
				}
				return m, nil
			}
			for _, r := range msg.Runes {
				if r >= 32 && r != 127 {
					m.searchQuery += string(r)
				}
			}
			return m, nil
		}
		if m.mode == viewModeConfirm {
			switch msg.String() {
			case "y", "enter":
				cmd := m.executeConfirm(true)
				return m, cmd
			case "n", "esc", "q":
				cmd := m.executeConfirm(false)
				return m, cmd
			}
			return m, nil
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab":
			if m.mode == viewModeTable {
				if m.focus == focusPorts {
					m.focus = focusTools
				} else {
					m.focus = focusPorts
				}
			}
			return m, nil
		case "?", "f1":
			if m.mode == viewModeTable {
				m.mode = viewModeHelp
			}
			return m, nil
		case "/":
			if m.mode == viewModeTable {
				m.mode = viewModeSearch
			}
			return m, nil
		case ":":
			if m.mode == viewModeTable {
				m.mode = viewModeCommand
				m.cmdInput = ""
			}
			return m, nil
		case "ctrl+l":
			if m.mode == viewModeTable {
				m.searchQuery = ""
				m.cmdStatus = "Filter cleared"
			}
			return m, nil
		case "s":
			if m.mode == viewModeTable {
				m.sortBy = (m.sortBy + 1) % sortModeCount
			}
			return m, nil
		case "v":
			if m.mode == viewModeTable {
				m.scope = (m.scope + 1) % scopeCount
				m.selected = 0
				m.ports = nil
				m.scanBusy = true
				return m, m.scanCmd()
			}
			return m, nil
		case "f":
			if m.mode == viewModeLogs {
				m.followLogs = !m.followLogs
			}
			return m, nil
		case "l":
			if m.mode == viewModeTable && m.focus == focusTools {
				if st, ok := m.selectedTool(); ok {
					m.mode = viewModeLogs
					m.logTool = st.Name
					return m, m.tailLogsCmd()
				}
			}
			return m, nil
		case "ctrl+r":
			if m.mode == viewModeTable {
				if st, ok := m.selectedTool(); ok {
					cmd := m.toolAction(st.Name, actionRestart, process.StartOptions{})
					return m, cmd
				}
			}
			return m, nil
		case "ctrl+e":
			if m.mode == viewModeTable {
				m.prepareStopConfirm()
			}
			return m, nil
		case "esc", "b":
			switch m.mode {
			case viewModeLogs:
				m.mode = viewModeTable
				m.logLines = nil
				m.logErr = nil
				m.logTool = ""
			case viewModeHelp:
				m.mode = viewModeTable
			}
			return m, nil
		case "up", "k":
			if m.mode == viewModeTable {
				if m.focus == focusPorts && m.selected > 0 {
					m.selected--
				}
				if m.focus == focusTools && m.toolSel > 0 {
					m.toolSel--
					cmd := m.rescopeCmd()
					return m, cmd
				}
			}
			return m, nil
		case "down", "j":
			if m.mode == viewModeTable {
				if m.focus == focusPorts && m.selected < len(m.visiblePorts())-1 {
					m.selected++
				}
				if m.focus == focusTools && m.toolSel < len(m.tools)-1 {
					m.toolSel++
					cmd := m.rescopeCmd()
					return m, cmd
				}
			}
			return m, nil
		case "enter":
			if m.mode != viewModeTable {
				return m, nil
			}
			if m.focus == focusTools {
				st, ok := m.selectedTool()
				if !ok {
					return m, nil
				}
				if st.Active() {
					m.mode = viewModeLogs
					m.logTool = st.Name
					return m, m.tailLogsCmd()
				}
				cmd := m.toolAction(st.Name, actionStart, process.StartOptions{})
				return m, cmd
			}
			visible := m.visiblePorts()
			if m.selected >= 0 && m.selected < len(visible) {
				return m, m.portCheckCmd(visible[m.selected].Port)
			}
			return m, nil
		}
		return m, nil
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tickMsg:
		m.refreshTools()
		cmds := []tea.Cmd{tickCmd()}
		if m.mode == viewModeLogs && m.followLogs {
			cmds = append(cmds, m.tailLogsCmd())
		}
		if !m.scanBusy {
			m.scanBusy = true
			cmds = append(cmds, m.scanCmd())
		}
		if m.mode == viewModeTable && !m.healthBusy && time.Since(m.healthLast) > 2*time.Second && time.Since(m.lastInput) > 900*time.Millisecond {
			m.healthBusy = true
			cmds = append(cmds, m.healthCmd())
		}
		return m, tea.Batch(cmds...)
	case scanMsg:
		m.scanBusy = false
		if msg.scope != m.scope {
			return m, nil
		}
		if st, _ := m.selectedTool(); msg.scope == scopeTool && msg.tool != st.Name {
			return m, nil
		}
		m.ports = msg.records
		m.lastUpdate = time.Now()
		if n := len(m.visiblePorts()); m.selected >= n && n > 0 {
			m.selected = n - 1
		}
		return m, nil
	case logMsg:
		if msg.tool == m.logTool {
			m.logLines = msg.lines
			m.logErr = msg.err
		}
		return m, nil
	case healthMsg:
		m.healthBusy = false
		m.health = msg.icons
		m.toolHealth = msg.tools
		m.healthLast = time.Now()
		return m, nil
	case portCheckMsg:
		m.cmdStatus = fmt.Sprintf("Port %d: %s %s (%dms) %s", msg.check.Port, health.StatusIcon(msg.check.Status),
			msg.check.Status, msg.check.ResponseMs, msg.check.Message)
		m.health[msg.check.Port] = health.StatusIcon(msg.check.Status)
		return m, nil
	case actionMsg:
		delete(m.busy, msg.tool)
		m.refreshTools()
		m.cmdStatus = actionStatus(msg)
		m.scanBusy = true
		return m, m.scanCmd()
	}
	return m, nil
}

// actionStatus renders the outcome of a lifecycle action. Failures show the
// recorded error verbatim.
func actionStatus(msg actionMsg) string {
	if msg.err != nil {
		return fmt.Sprintf("%s %s failed: %v", msg.tool, msg.action, msg.err)
	}
	switch msg.action {
	case actionStop:
		return fmt.Sprintf("Stopped %q", msg.tool)
	case actionRestart:
		return fmt.Sprintf("Restarted %q on port %d", msg.tool, msg.status.Port)
	}
	return fmt.Sprintf("Started %q on port %d", msg.tool, msg.status.Port)
}

func (m *topModel) refreshTools() {
	if m.app == nil {
		return
	}
	m.tools = m.app.registry.Snapshot()
	if m.toolSel >= len(m.tools) && len(m.tools) > 0 {
		m.toolSel = len(m.tools) - 1
	}
}

func (m topModel) selectedTool() (models.Status, bool) {
	if m.toolSel < 0 || m.toolSel >= len(m.tools) {
		return models.Status{}, false
	}
	return m.tools[m.toolSel], true
}

// rescopeCmd rescans when the port list follows the selected tool.
func (m *topModel) rescopeCmd() tea.Cmd {
	if m.scope != scopeTool {
		return nil
	}
	m.ports = nil
	m.selected = 0
	m.scanBusy = true
	return m.scanCmd()
}

func (m topModel) View() string {
	width := m.width
	if width <= 0 {
		width = 120
	}

	var b strings.Builder
	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	mutedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	// Ensure stale lines are removed when viewport shrinks/resizes.
	b.WriteString("\x1b[H\x1b[2J")
	b.WriteString("\n")
	if m.mode == viewModeLogs {
		b.WriteString(headerStyle.Render(fmt.Sprintf("Logs: %s (b back, f follow:%t)", m.logTool, m.followLogs)))
	} else {
		b.WriteString(headerStyle.Render("procwatch - ports and tools (q quit)"))
	}
	b.WriteString("\n\n")
	if m.mode != viewModeLogs && m.mode != viewModeHelp {
		focus := "ports"
		if m.focus == focusTools {
			focus = "tools"
		}
		filter := m.searchQuery
		if strings.TrimSpace(filter) == "" {
			filter = "none"
		}
		line := fmt.Sprintf("Focus: %s | Scope: %s | Sort: %s | Filter: %s", focus, m.scopeLabel(), sortModeLabel(m.sortBy), filter)
		b.WriteString(mutedStyle.Render(fitLine(line, width)))
		b.WriteString("\n\n")
	}

	switch m.mode {
	case viewModeHelp:
		b.WriteString(m.renderHelp(width))
	case viewModeLogs:
		b.WriteString(m.renderLogs(width))
	default:
		b.WriteString(m.renderTools(width))
		b.WriteString("\n")
		rowStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
		b.WriteString(rowStyle.Render(m.renderPorts(width)))
		b.WriteString("\n")
	}

	if m.mode == viewModeCommand {
		b.WriteString("\n")
		b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(fitLine(":"+m.cmdInput, width)))
		b.WriteString("\n")
		b.WriteString(mutedStyle.Render(fitLine("Example: start router --port 3456 | Esc to go back", width)))
		b.WriteString("\n")
	}
	if m.mode == viewModeSearch {
		b.WriteString("\n")
		b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(fitLine("/"+m.searchQuery, width)))
		b.WriteString("\n")
	}
	if m.mode == viewModeConfirm && m.confirm != nil {
		b.WriteString("\n")
		b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true).Render(fitLine(m.confirm.prompt+" [y/N]", width)))
		b.WriteString("\n")
	}
	if m.cmdStatus != "" {
		b.WriteString("\n")
		b.WriteString(mutedStyle.Render(fitLine(m.cmdStatus, width)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	footer := fmt.Sprintf("Last updated: %s | Ports: %d | Tab switch | Enter start/logs/check | v scope | / filter | s sort | ^R restart ^E stop | : command | ? help",
		m.lastUpdate.Format("15:04:05"), len(m.visiblePorts()))
	footerStyle := mutedStyle.Italic(true)
	for _, line := range wrapWords(footer, width) {
		b.WriteString(footerStyle.Render(fitLine(line, width)))
		b.WriteString("\n")
	}
	return b.String()
}

func (m topModel) renderTools(width int) string {
	if len(m.tools) == 0 {
		return fitLine("No tools configured. Run `procwatch config init` to write the defaults.", width) + "\n"
	}
	nameW, stateW, portW, pidW, upW, healthW := 14, 12, 6, 8, 9, 14
	sep := "  "
	errW := width - (nameW + stateW + portW + pidW + upW + healthW + 6*len(sep))
	if errW < 12 {
		errW = 12
	}
	row := func(cells ...string) string {
		widths := []int{nameW, stateW, portW, pidW, upW, healthW, errW}
		parts := make([]string, len(cells))
		for i, c := range cells {
			parts[i] = fixedCell(c, widths[i])
		}
		return strings.Join(parts, sep)
	}

	var b strings.Builder
	b.WriteString(fitLine(row("Tool", "State", "Port", "PID", "Uptime", "Health", "Last error"), width))
	b.WriteString("\n")
	now := time.Now()
	for i, st := range m.tools {
		state := string(st.State)
		if action, ok := m.busy[st.Name]; ok {
			state = m.spinner.View() + " " + action
		}
		port, pid, up, hl := "-", "-", "-", "-"
		if st.Active() {
			port = strconv.Itoa(int(st.Port))
			pid = strconv.Itoa(st.PID)
			up = formatUptime(st.Uptime(now))
		}
		if st.Running() {
			hl = "not reachable"
			if m.toolHealth[st.Name] {
				hl = "ok"
			}
		}
		lastErr := st.LastError
		if lastErr == "" {
			lastErr = "-"
		}
		line := fitLine(row(st.Name, state, port, pid, up, hl, lastErr), width)
		switch {
		case m.focus == focusTools && i == m.toolSel:
			line = lipgloss.NewStyle().Background(lipgloss.Color("57")).Foreground(lipgloss.Color("15")).Render(line)
		case st.State == models.StateErrored:
			line = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func (m topModel) renderPorts(width int) string {
	visible := m.visiblePorts()
	portW, pidW, bindW, nameW, healthW := 6, 8, 16, 18, 7
	sep := 2
	used := portW + sep + pidW + sep + bindW + sep + nameW + sep + healthW + sep
	cmdW := width - used
	if cmdW < 12 {
		cmdW = 12
	}
	gap := strings.Repeat(" ", sep)

	var lines []string
	header := fixedCell("Port", portW) + gap + fixedCell("PID", pidW) + gap + fixedCell("Bind", bindW) + gap +
		fixedCell("Process", nameW) + gap + fixedCell("Command", cmdW) + gap + fixedCell("Health", healthW)
	divider := fixedCell(strings.Repeat("─", portW), portW) + gap + fixedCell(strings.Repeat("─", pidW), pidW) + gap +
		fixedCell(strings.Repeat("─", bindW), bindW) + gap + fixedCell(strings.Repeat("─", nameW), nameW) + gap +
		fixedCell(strings.Repeat("─", cmdW), cmdW) + gap + fixedCell(strings.Repeat("─", healthW), healthW)
	lines = append(lines, fitLine(header, width), fitLine(divider, width))

	if len(visible) == 0 {
		switch {
		case m.searchQuery != "":
			return fitLine("(no matching ports for filter)", width)
		case m.scope == scopeTool:
			return fitLine("(selected tool has no listening ports)", width)
		}
		return fitLine("(no listening ports)", width)
	}

	rowFirstLineIdx := make([]int, len(visible))
	for i, r := range visible {
		icon := "…"
		if cached := m.health[r.Port]; cached != "" {
			icon = cached
		}
		cmd := r.Command
		if cmd == "" {
			cmd = "-"
		}
		rowFirstLineIdx[i] = len(lines)
		for j, c := range wrapRunes(cmd, cmdW) {
			if j == 0 {
				line := fixedCell(strconv.Itoa(int(r.Port)), portW) + gap + fixedCell(strconv.Itoa(r.PID), pidW) + gap +
					fixedCell(r.BindAddress, bindW) + gap + fixedCell(r.ProcessName, nameW) + gap +
					fixedCell(c, cmdW) + gap + fixedCell(icon, healthW)
				lines = append(lines, fitLine(line, width))
				continue
			}
			line := fixedCell("", portW) + gap + fixedCell("", pidW) + gap + fixedCell("", bindW) + gap +
				fixedCell("", nameW) + gap + fixedCell(c, cmdW) + gap + fixedCell("", healthW)
			lines = append(lines, fitLine(line, width))
		}
	}

	if m.focus == focusPorts && m.selected >= 0 && m.selected < len(visible) {
		idx := rowFirstLineIdx[m.selected]
		lines[idx] = lipgloss.NewStyle().Background(lipgloss.Color("57")).Foreground(lipgloss.Color("15")).Render(lines[idx])
	}
	return strings.Join(lines, "\n")
}

func fixedCell(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) > width {
		return runewidth.Truncate(s, width, "")
	}
	return s + strings.Repeat(" ", width-runewidth.StringWidth(s))
}

func wrapRunes(s string, width int) []string {
	if width <= 0 {
		return []string{s}
	}
	if s == "" {
		return []string{""}
	}
	var out []string
	rest := s
	for runewidth.StringWidth(rest) > width {
		chunk := runewidth.Truncate(rest, width, "")
		if chunk == "" {
			break
		}
		out = append(out, chunk)
		rest = strings.TrimPrefix(rest, chunk)
	}
	if rest != "" {
		out = append(out, rest)
	}
	return out
}

func wrapWords(s string, width int) []string {
	if width <= 0 {
		return []string{s}
	}
	words := strings.Fields(s)
	if len(words) == 0 {
		return []string{""}
	}
	lines := make([]string, 0, 4)
	cur := words[0]
	for _, w := range words[1:] {
		candidate := cur + " " + w
		if runewidth.StringWidth(candidate) <= width {
			cur = candidate
			continue
		}
		lines = append(lines, cur)
		// If a single word is longer than width, fall back to rune wrapping.
		if runewidth.StringWidth(w) > width {
			chunks := wrapRunes(w, width)
			lines = append(lines, chunks[:len(chunks)-1]...)
			cur = chunks[len(chunks)-1]
		} else {
			cur = w
		}
	}
	lines = append(lines, cur)
	return lines
}

func (m topModel) renderLogs(width int) string {
	if m.logErr != nil {
		if errors.Is(m.logErr, process.ErrNoLogs) {
			return "No logs for this tool yet.\nLogs are captured when procwatch starts the tool.\n"
		}
		return fmt.Sprintf("Error: %v\n", m.logErr)
	}
	if len(m.logLines) == 0 {
		return "(no logs yet)\n"
	}
	lines := m.logLines
	if m.height > 10 && len(lines) > m.height-8 {
		lines = lines[len(lines)-(m.height-8):]
	}
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(fitLine(line, width))
		b.WriteString("\n")
	}
	return b.String()
}

func (m topModel) renderHelp(width int) string {
	lines := []string{
		"Keymap",
		"q quit, Tab switch panel, / filter, Ctrl+L clear filter, s sort, v cycle port scope (all, dev, tool), ? help",
		"Tools: Enter start (or logs when running), l logs, Ctrl+R restart, Ctrl+E stop",
		"Ports: Enter probe the selected port",
		"Logs: b back, f toggle follow",
		"Commands: start TOOL [--port N] [--api-key K], stop TOOL, restart TOOL, logs TOOL, scope all|dev|tool",
	}
	var out []string
	for _, l := range lines {
		out = append(out, fitLine(l, width))
	}
	return strings.Join(out, "\n")
}

func (m topModel) visiblePorts() []models.PortRecord {
	q := strings.ToLower(strings.TrimSpace(m.searchQuery))
	visible := make([]models.PortRecord, 0, len(m.ports))
	for _, r := range m.ports {
		if q != "" {
			hay := strings.ToLower(fmt.Sprintf("%d %d %s %s %s", r.Port, r.PID, r.BindAddress, r.ProcessName, r.Command))
			if !strings.Contains(hay, q) {
				continue
			}
		}
		visible = append(visible, r)
	}
	m.sortPorts(visible)
	return visible
}

func (m topModel) sortPorts(records []models.PortRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		switch m.sortBy {
		case sortPID:
			if a.PID != b.PID {
				return a.PID < b.PID
			}
		case sortProcess:
			an, bn := strings.ToLower(a.ProcessName), strings.ToLower(b.ProcessName)
			if an != bn {
				return an < bn
			}
		}
		return a.Port < b.Port
	})
}

// runCommand executes a ':' command line and returns the status text.
func (m *topModel) runCommand(input string) (string, tea.Cmd) {
	if input == "" {
		return "", nil
	}
	args, err := process.ParseArgs(input)
	if err != nil {
		return err.Error(), nil
	}
	switch args[0] {
	case "help":
		m.mode = viewModeHelp
		return "", nil
	case "scope":
		if len(args) != 2 {
			return "Usage: scope all|dev|tool", nil
		}
		switch args[1] {
		case "all":
			m.scope = scopeAll
		case "dev":
			m.scope = scopeDev
		case "tool":
			m.scope = scopeTool
		default:
			return fmt.Sprintf("Unknown scope %q", args[1]), nil
		}
		m.ports = nil
		m.selected = 0
		m.scanBusy = true
		return "Scope: " + m.scopeLabel(), m.scanCmd()
	case actionStart, actionRestart:
		if len(args) < 2 {
			return fmt.Sprintf("Usage: %s TOOL [--port N] [--api-key K]", args[0]), nil
		}
		opts, err := parseStartFlags(args[2:])
		if err != nil {
			return err.Error(), nil
		}
		if !m.hasTool(args[1]) {
			return fmt.Sprintf("Unknown tool %q", args[1]), nil
		}
		return "", m.toolAction(args[1], args[0], opts)
	case actionStop:
		if len(args) != 2 {
			return "Usage: stop TOOL", nil
		}
		if !m.hasTool(args[1]) {
			return fmt.Sprintf("Unknown tool %q", args[1]), nil
		}
		return "", m.toolAction(args[1], actionStop, process.StartOptions{})
	case "logs":
		if len(args) != 2 {
			return "Usage: logs TOOL", nil
		}
		if !m.hasTool(args[1]) {
			return fmt.Sprintf("Unknown tool %q", args[1]), nil
		}
		m.mode = viewModeLogs
		m.logTool = args[1]
		return "", m.tailLogsCmd()
	}
	return fmt.Sprintf("Unknown command %q (try help)", args[0]), nil
}

func parseStartFlags(args []string) (process.StartOptions, error) {
	var opts process.StartOptions
	for i := 0; i < len(args); i++ {
		if i+1 >= len(args) {
			return opts, fmt.Errorf("missing value for %s", args[i])
		}
		switch args[i] {
		case "--port":
			p, err := strconv.ParseUint(args[i+1], 10, 16)
			if err != nil || p == 0 {
				return opts, fmt.Errorf("invalid port %q", args[i+1])
			}
			opts.Port = uint16(p)
		case "--api-key":
			opts.APIKey = args[i+1]
		default:
			return opts, fmt.Errorf("unknown flag %q", args[i])
		}
		i++
	}
	return opts, nil
}

func (m topModel) hasTool(name string) bool {
	for _, st := range m.tools {
		if st.Name == name {
			return true
		}
	}
	return false
}

// toolAction runs a lifecycle call off the UI goroutine; the settle window
// and the stop escalation both block.
func (m *topModel) toolAction(name, action string, opts process.StartOptions) tea.Cmd {
	if current, ok := m.busy[name]; ok {
		m.cmdStatus = fmt.Sprintf("%s: %s already in progress", name, current)
		return nil
	}
	m.busy[name] = action + "ing"
	if action == actionStop {
		m.busy[name] = "stopping"
	}
	app := m.app
	return func() tea.Msg {
		sup, err := app.registry.Get(name)
		if err != nil {
			return actionMsg{tool: name, action: action, err: err}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*sup.Spec().StopTimeout()+time.Minute)
		defer cancel()
		var st models.Status
		switch action {
		case actionStop:
			st, err = app.registry.Stop(ctx, name)
		case actionRestart:
			st, err = app.registry.Restart(ctx, name, opts)
		default:
			st, err = app.registry.Start(ctx, name, opts)
		}
		return actionMsg{tool: name, action: action, status: st, err: err}
	}
}

func (m *topModel) prepareStopConfirm() {
	if m.focus != focusTools {
		m.cmdStatus = "Select a tool to stop (Tab to the tools panel)"
		return
	}
	st, ok := m.selectedTool()
	if !ok {
		m.cmdStatus = "No tool selected"
		return
	}
	if !st.Active() {
		m.cmdStatus = fmt.Sprintf("%s is not running", st.Name)
		return
	}
	m.confirm = &confirmState{
		prompt: fmt.Sprintf("Stop %s (pid %d, port %d)?", st.Name, st.PID, st.Port),
		tool:   st.Name,
	}
	m.mode = viewModeConfirm
}

func (m *topModel) executeConfirm(yes bool) tea.Cmd {
	c := m.confirm
	m.confirm = nil
	m.mode = viewModeTable
	if c == nil {
		return nil
	}
	if !yes {
		m.cmdStatus = "Cancelled"
		return nil
	}
	return m.toolAction(c.tool, actionStop, process.StartOptions{})
}

func (m topModel) scanCmd() tea.Cmd {
	app, scope := m.app, m.scope
	pid, tool := 0, ""
	if st, ok := m.selectedTool(); ok {
		tool = st.Name
		if st.Active() {
			pid = st.PID
		}
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		switch scope {
		case scopeDev:
			return scanMsg{scope: scope, records: scanner.FilterDevRecords(app.scanner.ListAllListeningPorts(ctx))}
		case scopeTool:
			if pid <= 0 {
				return scanMsg{scope: scope, tool: tool}
			}
			pids := append([]int{pid}, app.tree.DescendantsOf(ctx, pid)...)
			return scanMsg{scope: scope, tool: tool, records: app.scanner.ListPortsForProcesses(ctx, pids)}
		}
		return scanMsg{scope: scope, records: app.scanner.ListAllListeningPorts(ctx)}
	}
}

func (m topModel) tailLogsCmd() tea.Cmd {
	app, name := m.app, m.logTool
	return func() tea.Msg {
		sup, err := app.registry.Get(name)
		if err != nil {
			return logMsg{tool: name, err: err}
		}
		lines, err := sup.Tail(200)
		return logMsg{tool: name, lines: lines, err: err}
	}
}

func (m topModel) healthCmd() tea.Cmd {
	visible := m.visiblePorts()
	chk := m.healthChk
	var sups []*process.Supervisor
	if m.app != nil {
		sups = m.app.registry.List()
	}
	return func() tea.Msg {
		ctx := context.Background()
		icons := make(map[uint16]string)
		for _, r := range visible {
			if _, done := icons[r.Port]; done {
				continue
			}
			icons[r.Port] = health.StatusIcon(chk.Check(ctx, r.Port).Status)
		}
		tools := make(map[string]bool)
		for _, sup := range sups {
			tools[sup.Name()] = sup.CheckHealth(ctx)
		}
		return healthMsg{icons: icons, tools: tools}
	}
}

func (m topModel) portCheckCmd(port uint16) tea.Cmd {
	chk := m.healthChk
	return func() tea.Msg {
		return portCheckMsg{check: chk.Check(context.Background(), port)}
	}
}

type tickMsg time.Time
type scanMsg struct {
	scope   portScope
	tool    string
	records []models.PortRecord
}
type logMsg struct {
	tool  string
	lines []string
	err   error
}
type healthMsg struct {
	icons map[uint16]string
	tools map[string]bool
}
type portCheckMsg struct {
	check *health.HealthCheck
}
type actionMsg struct {
	tool   string
	action string
	status models.Status
	err    error
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func fitLine(line string, width int) string {
	if width <= 0 {
		return line
	}
	lineWidth := runewidth.StringWidth(line)
	if lineWidth >= width {
		// Let the terminal wrap long lines to the viewport instead of truncating.
		return line
	}
	return line + strings.Repeat(" ", width-lineWidth)
}

func formatUptime(d time.Duration) string {
	d = d.Truncate(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
}

func (m topModel) scopeLabel() string {
	switch m.scope {
	case scopeDev:
		return "dev"
	case scopeTool:
		if st, ok := m.selectedTool(); ok {
			return "tool:" + st.Name
		}
		return "tool"
	}
	return "all"
}

func sortModeLabel(s sortMode) string {
	switch s {
	case sortPID:
		return "pid"
	case sortProcess:
		return "process"
	default:
		return "port"
	}
}
