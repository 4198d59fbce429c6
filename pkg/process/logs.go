package process

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// createLogFile creates a new timestamped log file for one run of a tool
func createLogFile(logsDir, toolName string, now time.Time) (*os.File, error) {
	toolLogDir := filepath.Join(logsDir, toolName)
	if err := os.MkdirAll(toolLogDir, 0755); err != nil {
		return nil, err
	}

	timestamp := now.Format("2006-01-02T15-04-05.000")
	return os.Create(filepath.Join(toolLogDir, timestamp+".log"))
}

// LatestLogPath returns the most recent log file path for a tool.
func LatestLogPath(logsDir, toolName string) (string, error) {
	toolLogDir := filepath.Join(logsDir, toolName)
	entries, err := os.ReadDir(toolLogDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoLogs
		}
		return "", fmt.Errorf("failed to read log directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".log") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", ErrNoLogs
	}
	sort.Strings(names)
	return filepath.Join(toolLogDir, names[len(names)-1]), nil
}

// Tail returns the last n lines from the most recent log file of a tool.
func Tail(logsDir, toolName string, n int) ([]string, error) {
	if n <= 0 {
		return []string{}, nil
	}
	logPath, err := LatestLogPath(logsDir, toolName)
	if err != nil {
		return nil, err
	}
	return tailFile(logPath, n)
}

func tailFile(path string, n int) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lines := make([]string, 0, n)
	for scanner.Scan() {
		if len(lines) < n {
			lines = append(lines, scanner.Text())
		} else {
			copy(lines, lines[1:])
			lines[len(lines)-1] = scanner.Text()
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}
	return lines, nil
}

// inferCrashReason picks the most telling line from the end of a log.
func inferCrashReason(lines []string) string {
	keywords := []string{
		"panic",
		"fatal",
		"exception",
		"traceback",
		"error:",
		"eaddrinuse",
		"address already in use",
		"segmentation fault",
		"unauthorized",
		"killed",
	}

	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				return line
			}
		}
	}

	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
