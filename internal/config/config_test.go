package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"vtunerd/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("VTUNERD_TS_CHECK", "")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "vtunerd")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.Paths.SocketPath != filepath.Join(wantState, "vtunerd.sock") {
		t.Fatalf("unexpected socket path: %q", cfg.Paths.SocketPath)
	}
	if cfg.Devices.Count != 1 {
		t.Fatalf("expected one device by default, got %d", cfg.Devices.Count)
	}
	if cfg.Devices.TSCheck {
		t.Fatal("expected ts_check disabled by default")
	}
	if cfg.Devices.PIDTableSize != config.MaxPIDTableSize {
		t.Fatalf("unexpected pid table size: %d", cfg.Devices.PIDTableSize)
	}
	if cfg.Metrics.Enabled {
		t.Fatal("expected metrics disabled by default")
	}
	if cfg.Logging.Format != "console" || cfg.Logging.Level != "info" {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}
}

func TestLoadCustomConfig(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("VTUNERD_TS_CHECK", "")

	configPath := filepath.Join(tempHome, "config.toml")
	payload := map[string]any{
		"paths": map[string]any{
			"state_dir": "~/state",
		},
		"devices": map[string]any{
			"count":          2,
			"ts_check":       true,
			"pid_table_size": 8,
			"types":          []string{"dvb-s2", "DVB-T"},
			"dvr_dir":        "~/dvr",
		},
		"metrics": map[string]any{
			"enabled": true,
			"bind":    "0.0.0.0:9700",
			"path":    "stats",
		},
		"logging": map[string]any{
			"format": "JSON",
			"level":  "Debug",
		},
	}
	data, err := toml.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("unexpected resolution: %q exists=%v", resolved, exists)
	}
	if cfg.Paths.StateDir != filepath.Join(tempHome, "state") {
		t.Fatalf("unexpected state dir: %q", cfg.Paths.StateDir)
	}
	if cfg.Devices.Count != 2 || !cfg.Devices.TSCheck || cfg.Devices.PIDTableSize != 8 {
		t.Fatalf("unexpected devices section: %+v", cfg.Devices)
	}
	if cfg.DeviceType(0) != "dvb-s2" || cfg.DeviceType(1) != "DVB-T" || cfg.DeviceType(2) != "" {
		t.Fatalf("unexpected device types: %v", cfg.Devices.Types)
	}
	if cfg.Devices.DVRDir != filepath.Join(tempHome, "dvr") {
		t.Fatalf("unexpected dvr dir: %q", cfg.Devices.DVRDir)
	}
	if cfg.Metrics.Path != "/stats" {
		t.Fatalf("expected metrics path to gain a leading slash, got %q", cfg.Metrics.Path)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected logging section: %+v", cfg.Logging)
	}
}

func TestTSCheckEnvironmentOverride(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("VTUNERD_TS_CHECK", "1")

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !cfg.Devices.TSCheck {
		t.Fatal("expected VTUNERD_TS_CHECK to enable ts_check")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"zero devices", func(c *config.Config) { c.Devices.Count = 0 }, "devices.count"},
		{"too many devices", func(c *config.Config) { c.Devices.Count = config.MaxDevices + 1 }, "devices.count"},
		{"pid table too large", func(c *config.Config) { c.Devices.PIDTableSize = 64 }, "devices.pid_table_size"},
		{"unknown type", func(c *config.Config) { c.Devices.Types = []string{"ATSC"} }, "devices.types[0]"},
		{"more types than devices", func(c *config.Config) { c.Devices.Types = []string{"DVB-S", "DVB-T"} }, "devices.types lists"},
		{"fifo without dir", func(c *config.Config) { c.Devices.DVRFIFO = true }, "devices.dvr_dir"},
		{"bad metrics bind", func(c *config.Config) { c.Metrics.Enabled = true; c.Metrics.Bind = "nope" }, "metrics.bind"},
		{"bad log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"negative retention", func(c *config.Config) { c.Logging.RetentionDays = -1 }, "logging.retention_days"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("VTUNERD_TS_CHECK", "")
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	if _, _, exists, err := config.Load(path); err != nil || !exists {
		t.Fatalf("sample config failed to load: exists=%v err=%v", exists, err)
	}
}

func TestCreateSamplePrefillsTuners(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("VTUNERD_TS_CHECK", "")
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := config.CreateSample(path, "dvb-c", "DVB-S2"); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Devices.Count != 2 || cfg.DeviceType(0) != "DVB-C" || cfg.DeviceType(1) != "DVB-S2" {
		t.Fatalf("unexpected devices: %#v", cfg.Devices)
	}

	if err := config.CreateSample(path, "DVB-S", "DVB-S", "DVB-S", "DVB-S", "DVB-S"); err == nil {
		t.Fatal("expected error for five tuners")
	}
	if _, ok := config.CanonicalDeviceType("isdb-t"); ok {
		t.Fatal("expected isdb-t to be unknown")
	}
}
