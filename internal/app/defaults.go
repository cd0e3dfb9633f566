package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - CHRON_CONFIG_PATH: config file location (default: ~/.config/chron.toml)
//   - CHRON_HOME: base directory for chron data (default: ~/.local/share/chron)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// getConfigPath returns the config file path, checking CHRON_CONFIG_PATH env
// var first, then falling back to the default ~/.config/chron.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("CHRON_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "chron.toml"), nil
}

// getBaseDir returns the base directory for chron data, checking CHRON_HOME
// env var first, then falling back to the XDG default ~/.local/share/chron.
func getBaseDir() (string, error) {
	if path := os.Getenv("CHRON_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "chron"), nil
}
