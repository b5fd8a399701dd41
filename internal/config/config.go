package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and socket configuration.
type Paths struct {
	StateDir   string `toml:"state_dir"`
	LogDir     string `toml:"log_dir"`
	SocketPath string `toml:"socket_path"`
}

// Devices contains virtual tuner instance configuration.
type Devices struct {
	// Count is the number of tuner instances created at startup (1-4).
	Count int `toml:"count"`
	// TSCheck rejects pushed TS data unless every packet starts with the sync byte.
	TSCheck bool `toml:"ts_check"`
	// PIDTableSize bounds the number of PIDs tracked per instance.
	PIDTableSize int `toml:"pid_table_size"`
	// Types optionally pre-sets the delivery system per instance index
	// ("DVB-S", "DVB-S2", "DVB-T", "DVB-C"; empty leaves it unset).
	Types []string `toml:"types"`
	// CapabilitiesFile points at a YAML file overriding frontend capabilities.
	CapabilitiesFile string `toml:"capabilities_file"`
	// DVRDir, when set, receives one TS file or FIFO per instance.
	DVRDir string `toml:"dvr_dir"`
	// DVRFIFO creates named pipes in DVRDir instead of regular files.
	DVRFIFO bool `toml:"dvr_fifo"`
}

// Metrics contains Prometheus exporter configuration.
type Metrics struct {
	Enabled bool   `toml:"enabled"`
	Bind    string `toml:"bind"`
	Path    string `toml:"path"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for vtunerd.
//
// Configuration sections by subsystem:
//   - Paths: state, log and socket locations
//   - Devices: tuner instance count, TS checking, PID table size and presets
//   - Metrics: Prometheus exporter
//   - Logging: log format, level, and retention
type Config struct {
	Paths   Paths   `toml:"paths"`
	Devices Devices `toml:"devices"`
	Metrics Metrics `toml:"metrics"`
	Logging Logging `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("vtunerd.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.StateDir, c.Paths.LogDir, filepath.Dir(c.Paths.SocketPath)}
	if c.Devices.DVRDir != "" {
		dirs = append(dirs, c.Devices.DVRDir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "vtunerd.lock")
}

// PIDPath returns the daemon PID file.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "vtunerd.pid")
}

// SessionDBPath returns the control session journal database.
func (c *Config) SessionDBPath() string {
	return filepath.Join(c.Paths.StateDir, "sessions.db")
}

// DeviceType returns the preset delivery system for instance index, if any.
func (c *Config) DeviceType(index int) string {
	if index < 0 || index >= len(c.Devices.Types) {
		return ""
	}
	return c.Devices.Types[index]
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
// When tuner types are given the devices section is pre-filled with one
// instance per type.
func CreateSample(path string, types ...string) error {
	data, err := renderSample(types)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

func renderSample(types []string) (string, error) {
	if len(types) == 0 {
		return sampleConfig, nil
	}
	if len(types) > maxDeviceCount {
		return "", fmt.Errorf("at most %d tuners are supported, got %d", maxDeviceCount, len(types))
	}
	quoted := make([]string, len(types))
	for i, name := range types {
		canonical, ok := CanonicalDeviceType(name)
		if !ok {
			return "", fmt.Errorf("unsupported delivery system %q (want one of %s)", name, strings.Join(knownDeviceTypes, ", "))
		}
		quoted[i] = strconv.Quote(canonical)
	}
	data := strings.Replace(sampleConfig, "\ncount = 1\n", fmt.Sprintf("\ncount = %d\n", len(types)), 1)
	data = strings.Replace(data, "\n# types = [\"DVB-S2\"]\n", "\ntypes = ["+strings.Join(quoted, ", ")+"]\n", 1)
	return data, nil
}
