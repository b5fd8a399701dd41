package testsupport

import (
	"path/filepath"
	"testing"

	"vtunerd/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.SocketPath = filepath.Join(base, "vtunerd.sock")
	cfgVal.Metrics.Bind = "127.0.0.1:0"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithDevices sets the instance count and optional preset types.
func WithDevices(count int, types ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Devices.Count = count
		b.cfg.Devices.Types = types
	}
}

// WithTSCheck toggles sync-byte validation of pushed TS data.
func WithTSCheck(enabled bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Devices.TSCheck = enabled
	}
}

// WithDVRDir routes demuxed packets into per-instance files under the test
// directory.
func WithDVRDir() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Devices.DVRDir = filepath.Join(b.baseDir, "dvr")
	}
}

// WithMetrics enables the Prometheus exporter on an ephemeral port.
func WithMetrics() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Metrics.Enabled = true
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
