package config

import (
	"os"
	"path/filepath"
)

// DefaultHomeDir returns ~/.hive, or a directory under the system temp dir
// when the user home cannot be determined.
func DefaultHomeDir() string {
	if home := os.Getenv("HIVE_HOME"); home != "" {
		return home
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".hive")
	}
	return filepath.Join(userHome, ".hive")
}

// DefaultConfigPath returns the default config file path for a given home directory.
func DefaultConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}
