package models

import (
	"os"
	"path/filepath"
)

// ConfigPaths provides paths for config and data directories
type ConfigPaths struct {
	ConfigDir   string
	ConfigFile  string
	HistoryFile string
	LogsDir     string
	LogFile     string
}

// GetConfigPaths returns paths for procwatch configuration.
// PROCWATCH_HOME overrides the default ~/.config/procwatch.
func GetConfigPaths() (ConfigPaths, error) {
	if dir := os.Getenv("PROCWATCH_HOME"); dir != "" {
		return ConfigPathsAt(dir), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ConfigPaths{}, err
	}
	return ConfigPathsAt(filepath.Join(home, ".config", "procwatch")), nil
}

// ConfigPathsAt lays out the standard files under dir.
func ConfigPathsAt(dir string) ConfigPaths {
	return ConfigPaths{
		ConfigDir:   dir,
		ConfigFile:  filepath.Join(dir, "config.toml"),
		HistoryFile: filepath.Join(dir, "history.json"),
		LogsDir:     filepath.Join(dir, "logs"),
		LogFile:     filepath.Join(dir, "procwatch.log"),
	}
}

// EnsureDirs creates necessary configuration directories
func (cp ConfigPaths) EnsureDirs() error {
	dirs := []string{cp.ConfigDir, cp.LogsDir}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
