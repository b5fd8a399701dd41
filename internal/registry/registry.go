package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"vtunerd/internal/config"
	"vtunerd/internal/demux"
	"vtunerd/internal/frontend"
	"vtunerd/internal/logging"
	"vtunerd/internal/pidtab"
)

var (
	// ErrNoDevice reports an instance index outside the registry.
	ErrNoDevice = errors.New("no such device")
	// ErrUnknownType reports a delivery-system name that cannot be attached.
	ErrUnknownType = errors.New("unknown delivery system type")
	// ErrNoSession reports an unknown control session identifier.
	ErrNoSession = errors.New("no such session")
	// ErrClosing rejects control operations while the device shuts down.
	ErrClosing = errors.New("device closing")
)

// Observer is told about control session lifecycle events.
type Observer interface {
	SessionOpened(sess Session)
	SessionClosed(sess Session, stats Stats)
}

// Options configure New.
type Options struct {
	Count        int
	TSCheck      bool
	PIDTableSize int

	// Types presets the delivery system per index; empty entries stay unset.
	Types    []string
	Profiles frontend.Profiles

	// DVRDir receives adapter<N>.ts per device when set.
	DVRDir  string
	DVRFIFO bool

	Observer Observer
	Logger   *slog.Logger
}

// OptionsFromConfig maps the devices section onto registry options.
func OptionsFromConfig(cfg *config.Config, logger *slog.Logger) (Options, error) {
	opts := Options{
		Count:        cfg.Devices.Count,
		TSCheck:      cfg.Devices.TSCheck,
		PIDTableSize: cfg.Devices.PIDTableSize,
		Types:        append([]string(nil), cfg.Devices.Types...),
		DVRDir:       cfg.Devices.DVRDir,
		DVRFIFO:      cfg.Devices.DVRFIFO,
		Logger:       logger,
	}
	if path := strings.TrimSpace(cfg.Devices.CapabilitiesFile); path != "" {
		profiles, err := frontend.LoadProfiles(path)
		if err != nil {
			return Options{}, err
		}
		opts.Profiles = profiles
	}
	return opts, nil
}

// Registry is the fixed arena of tuner instances.
type Registry struct {
	devices []*Device
	logger  *slog.Logger
	cancel  context.CancelFunc
}

// New creates opts.Count devices, applying preset types and DVR outputs.
func New(opts Options) (*Registry, error) {
	if opts.Count < 1 || opts.Count > config.MaxDevices {
		return nil, fmt.Errorf("device count must be between 1 and %d, got %d", config.MaxDevices, opts.Count)
	}
	if opts.PIDTableSize <= 0 {
		opts.PIDTableSize = pidtab.MaxCapacity
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		logger: logging.NewComponentLogger(opts.Logger, "registry"),
		cancel: cancel,
	}
	for i := 0; i < opts.Count; i++ {
		dev := newDevice(ctx, i, opts)
		r.devices = append(r.devices, dev)
		if err := r.prepare(dev, opts); err != nil {
			_ = r.Close()
			return nil, err
		}
	}
	r.logger.Info("tuner instances ready",
		logging.Int("count", len(r.devices)),
		logging.Bool("ts_check", opts.TSCheck),
		logging.Int("pid_table_size", opts.PIDTableSize),
	)
	return r, nil
}

func (r *Registry) prepare(dev *Device, opts Options) error {
	if dev.index < len(opts.Types) {
		if name := strings.TrimSpace(opts.Types[dev.index]); name != "" {
			if err := dev.SetType(name); err != nil {
				return fmt.Errorf("device %d: %w", dev.index, err)
			}
		}
	}
	if opts.DVRDir != "" {
		path := filepath.Join(opts.DVRDir, fmt.Sprintf("adapter%d.ts", dev.index))
		w, err := demux.OpenDVR(path, opts.DVRFIFO, 0, opts.Logger)
		if err != nil {
			return fmt.Errorf("device %d: %w", dev.index, err)
		}
		dev.demux.AddOutput(w)
	}
	return nil
}

// Get returns the device at index.
func (r *Registry) Get(index int) (*Device, error) {
	if index < 0 || index >= len(r.devices) {
		return nil, fmt.Errorf("%w: %d (have %d)", ErrNoDevice, index, len(r.devices))
	}
	return r.devices[index], nil
}

// Len returns the number of devices.
func (r *Registry) Len() int {
	return len(r.devices)
}

// Devices returns every device in index order.
func (r *Registry) Devices() []*Device {
	return append([]*Device(nil), r.devices...)
}

// Stats returns the stats of every device.
func (r *Registry) Stats() []Stats {
	out := make([]Stats, 0, len(r.devices))
	for _, dev := range r.devices {
		out = append(out, dev.Stats())
	}
	return out
}

// Close closes every session and output. Devices are unusable afterwards.
func (r *Registry) Close() error {
	r.cancel()
	var errs []error
	for _, dev := range r.devices {
		if err := dev.shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("device %d: %w", dev.index, err))
		}
	}
	return errors.Join(errs...)
}
