package config

const (
	defaultConfigPath         = "~/.config/vtunerd/config.toml"
	defaultStateDir           = "~/.local/share/vtunerd"
	defaultLogDir             = "~/.local/share/vtunerd/logs"
	defaultSocketName         = "vtunerd.sock"
	defaultDeviceCount        = 1
	defaultPIDTableSize       = 30
	defaultMetricsBind        = "127.0.0.1:9624"
	defaultMetricsPath        = "/metrics"
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultLogRetentionDays   = 30
	maxDeviceCount            = 4
	maxPIDTableSize           = 30
	tsCheckEnvironmentVarName = "VTUNERD_TS_CHECK"
)

// MaxDevices is the upper bound on configured tuner instances.
const MaxDevices = maxDeviceCount

// MaxPIDTableSize is the upper bound on tracked PIDs per instance.
const MaxPIDTableSize = maxPIDTableSize

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Devices: Devices{
			Count:        defaultDeviceCount,
			PIDTableSize: defaultPIDTableSize,
		},
		Metrics: Metrics{
			Enabled: false,
			Bind:    defaultMetricsBind,
			Path:    defaultMetricsPath,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
