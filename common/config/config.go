// Package config provides shared configuration utilities for the telemetry engine
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
)

// FindConfigFile searches for a config file in multiple platform-appropriate locations.
// Returns the path and data if found, or an error if not found in any location.
func FindConfigFile(filename string) (string, []byte, error) {
	for _, path := range GetConfigSearchPaths(filename) {
		if data, err := os.ReadFile(path); err == nil {
			return path, data, nil
		}
	}
	return "", nil, fmt.Errorf("%s not found in any search path", filename)
}

// GetConfigSearchPaths returns an ordered list of paths to search for config files
func GetConfigSearchPaths(filename string) []string {
	var searchPaths []string

	// 1. System directory (highest priority for services)
	switch runtime.GOOS {
	case "windows":
		searchPaths = append(searchPaths, filepath.Join(os.Getenv("ProgramData"), "PrintMaster", "telemetry", filename))
	case "darwin":
		searchPaths = append(searchPaths, filepath.Join("/Library/Application Support", "PrintMaster", "telemetry", filename))
	default:
		searchPaths = append(searchPaths, filepath.Join("/etc/printmaster", "telemetry", filename))
	}

	// 2. User-specific config directory
	if homeDir, err := os.UserHomeDir(); err == nil {
		switch runtime.GOOS {
		case "windows":
			searchPaths = append(searchPaths, filepath.Join(homeDir, "AppData", "Local", "PrintMaster", "telemetry", filename))
		case "darwin":
			searchPaths = append(searchPaths, filepath.Join(homeDir, "Library", "Application Support", "PrintMaster", "telemetry", filename))
		default:
			searchPaths = append(searchPaths, filepath.Join(homeDir, ".config", "printmaster", "telemetry", filename))
		}
	}

	// 3. Executable directory
	if exePath, err := os.Executable(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(filepath.Dir(exePath), filename))
	}

	// 4. Current working directory (lowest priority)
	searchPaths = append(searchPaths, filepath.Join(".", filename))

	return searchPaths
}

// ResolveConfigPath picks the config path from <PREFIX>_CONFIG, <PREFIX>_CONFIG_PATH,
// CONFIG, CONFIG_PATH (in that order) and falls back to the flag value.
func ResolveConfigPath(prefix, flagValue string) string {
	for _, key := range []string{"CONFIG", "CONFIG_PATH"} {
		if val := GetEnvPrefixed(prefix, key); val != "" {
			return val
		}
	}
	return flagValue
}

// GetEnvPrefixed returns <PREFIX>_<KEY> when set, otherwise <KEY>.
func GetEnvPrefixed(prefix, key string) string {
	if prefix != "" {
		if val := os.Getenv(strings.ToUpper(prefix) + "_" + key); val != "" {
			return val
		}
	}
	return os.Getenv(key)
}

// WriteDefaultTOML writes a default TOML configuration file with the provided structure
func WriteDefaultTOML(configPath string, config interface{}) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	if err := toml.NewEncoder(file).Encode(config); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LoadTOML loads a TOML configuration file into the provided structure
func LoadTOML(configPath string, config interface{}) error {
	if _, err := os.Stat(configPath); err != nil {
		return fmt.Errorf("config file not found: %w", err)
	}

	if _, err := toml.DecodeFile(configPath, config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// DatabaseConfig holds database settings.
// Driver is "sqlite" (default, uses Path) or "postgres" (uses DSN).
type DatabaseConfig struct {
	Driver       string `toml:"driver"`
	Path         string `toml:"path"`
	DSN          string `toml:"dsn"`
	MaxOpenConns int    `toml:"max_open_conns"`
}

// IsPostgres reports whether the config selects the PostgreSQL backend.
func (c DatabaseConfig) IsPostgres() bool {
	switch strings.ToLower(strings.TrimSpace(c.Driver)) {
	case "postgres", "postgresql", "pgx":
		return true
	}
	return false
}

// BuildDSN returns the connection string for the configured driver.
func (c DatabaseConfig) BuildDSN() string {
	if c.IsPostgres() {
		return strings.TrimSpace(c.DSN)
	}
	if c.Path == "" {
		return ":memory:"
	}
	return c.Path
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level      string `toml:"level"`
	Dir        string `toml:"dir"`
	MaxSizeMB  int    `toml:"max_size_mb"`  // rotate the log file at this size, 0 disables rotation
	MaxAgeDays int    `toml:"max_age_days"` // prune rotated files older than this
	MaxFiles   int    `toml:"max_files"`    // keep at most this many rotated files
}

// ApplyDatabaseEnvOverrides applies DB_DRIVER, DB_PATH and DB_DSN, honoring a component prefix.
func ApplyDatabaseEnvOverrides(cfg *DatabaseConfig, prefix string) {
	if val := GetEnvPrefixed(prefix, "DB_DRIVER"); val != "" {
		cfg.Driver = val
	}
	if val := GetEnvPrefixed(prefix, "DB_PATH"); val != "" {
		cfg.Path = val
	}
	if val := GetEnvPrefixed(prefix, "DB_DSN"); val != "" {
		cfg.DSN = val
	}
}

// ApplyLoggingEnvOverrides applies LOG_LEVEL and LOG_DIR.
func ApplyLoggingEnvOverrides(cfg *LoggingConfig) {
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.Level = val
	}
	if val := os.Getenv("LOG_DIR"); val != "" {
		cfg.Dir = val
	}
}
