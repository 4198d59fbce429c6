package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/devports/procwatch/pkg/models"
)

const historyVersion = "1.0"

// History persists the most recent run of each supervised tool
type History struct {
	filePath string
	data     *models.History
	mu       sync.RWMutex
	now      func() time.Time
}

// NewHistory creates a history store backed by filePath
func NewHistory(filePath string) *History {
	return &History{
		filePath: filePath,
		data: &models.History{
			Tools:   make(map[string]*models.ToolHistory),
			Version: historyVersion,
		},
		now: time.Now,
	}
}

// Load reads the history from disk. A missing file is an empty history.
func (h *History) Load() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	content, err := os.ReadFile(h.filePath)
	if os.IsNotExist(err) {
		h.data.Tools = make(map[string]*models.ToolHistory)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read history file: %w", err)
	}

	data := &models.History{}
	if err := json.Unmarshal(content, data); err != nil {
		return fmt.Errorf("failed to parse history: %w", err)
	}
	if data.Tools == nil {
		data.Tools = make(map[string]*models.ToolHistory)
	}
	h.data = data
	return nil
}

// Get returns a copy of the history for name
func (h *History) Get(name string) (models.ToolHistory, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	th, ok := h.data.Tools[name]
	if !ok {
		return models.ToolHistory{}, false
	}
	return *th, true
}

// List returns all entries sorted by tool name
func (h *History) List() []models.ToolHistory {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]models.ToolHistory, 0, len(h.data.Tools))
	for _, th := range h.data.Tools {
		out = append(out, *th)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RecordStart notes a session that reached starting or running.
func (h *History) RecordStart(st models.Status) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	th := h.entry(st.Name)
	pid := st.PID
	th.LastPID = &pid
	th.LastPort = st.Port
	th.LastRunID = st.RunID
	th.LastStart = st.StartedAt
	th.LastStop = nil
	th.LastError = ""
	th.UpdatedAt = h.now()
	return h.save()
}

// RecordStop notes that the session ended, cleanly or not.
func (h *History) RecordStop(st models.Status) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	th := h.entry(st.Name)
	now := h.now()
	th.LastPID = nil
	th.LastStop = &now
	th.LastError = st.LastError
	if st.RunID != "" {
		th.LastRunID = st.RunID
	}
	th.UpdatedAt = now
	return h.save()
}

func (h *History) entry(name string) *models.ToolHistory {
	th, ok := h.data.Tools[name]
	if !ok {
		th = &models.ToolHistory{Name: name}
		h.data.Tools[name] = th
	}
	return th
}

// save (internal) writes the history without taking locks
func (h *History) save() error {
	if h.filePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(h.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}

	content, err := json.MarshalIndent(h.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	tmp := h.filePath + ".tmp"
	if err := os.WriteFile(tmp, content, 0644); err != nil {
		return fmt.Errorf("failed to write history file: %w", err)
	}
	return os.Rename(tmp, h.filePath)
}
