package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"golang.org/x/text/cases"
)

var knownDeviceTypes = []string{"DVB-S", "DVB-S2", "DVB-T", "DVB-C"}

// CanonicalDeviceType maps a case-insensitive delivery-system name such as
// "dvb-s2" to its canonical spelling.
func CanonicalDeviceType(name string) (string, bool) {
	fold := cases.Fold()
	want := fold.String(strings.TrimSpace(name))
	for _, candidate := range knownDeviceTypes {
		if fold.String(candidate) == want {
			return candidate, true
		}
	}
	return "", false
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDevices(); err != nil {
		return err
	}
	if err := c.validateMetrics(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateDevices() error {
	if c.Devices.Count < 1 || c.Devices.Count > maxDeviceCount {
		return fmt.Errorf("devices.count must be between 1 and %d", maxDeviceCount)
	}
	if c.Devices.PIDTableSize < 1 || c.Devices.PIDTableSize > maxPIDTableSize {
		return fmt.Errorf("devices.pid_table_size must be between 1 and %d", maxPIDTableSize)
	}
	if len(c.Devices.Types) > c.Devices.Count {
		return fmt.Errorf("devices.types lists %d entries but devices.count is %d", len(c.Devices.Types), c.Devices.Count)
	}
	for i, name := range c.Devices.Types {
		if name == "" {
			continue
		}
		if _, ok := CanonicalDeviceType(name); !ok {
			return fmt.Errorf("devices.types[%d]: unsupported delivery system %q (want one of %s)", i, name, strings.Join(knownDeviceTypes, ", "))
		}
	}
	if c.Devices.DVRFIFO && c.Devices.DVRDir == "" {
		return errors.New("devices.dvr_dir must be set when devices.dvr_fifo is true")
	}
	return nil
}

func (c *Config) validateMetrics() error {
	if !c.Metrics.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Metrics.Bind); err != nil {
		return fmt.Errorf("metrics.bind: %w", err)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be zero or positive")
	}
	return nil
}
