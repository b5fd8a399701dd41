package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"vtunerd/internal/config"
	"vtunerd/internal/logging"
	"vtunerd/internal/metrics"
	"vtunerd/internal/registry"
	"vtunerd/internal/sessionlog"
)

var (
	// ErrNotRunning rejects device access before Start or after Stop.
	ErrNotRunning = errors.New("daemon not running")
	// ErrAlreadyRunning rejects a second Start.
	ErrAlreadyRunning = errors.New("daemon already running")
)

// Daemon owns the tuner instances, the session journal and the metrics
// exporter, and enforces single-instance execution.
type Daemon struct {
	cfg     *config.Config
	base    *slog.Logger
	logger  *slog.Logger
	logPath string

	lockPath string
	lock     *flock.Flock

	rpc *metrics.RPC

	mu       sync.RWMutex
	registry *registry.Registry
	journal  *sessionlog.Store
	exporter *metrics.Server
	cancel   context.CancelFunc

	running atomic.Bool
	done    chan struct{}
	once    sync.Once
}

// Status represents daemon runtime information.
type Status struct {
	Running     bool             `json:"running"`
	PID         int              `json:"pid"`
	LockPath    string           `json:"lock_path"`
	JournalPath string           `json:"journal_path"`
	LogPath     string           `json:"log_path"`
	MetricsAddr string           `json:"metrics_addr,omitempty"`
	Devices     []registry.Stats `json:"devices"`
}

// New constructs a daemon. Nothing is opened until Start.
func New(cfg *config.Config, logger *slog.Logger, logPath string) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		base:     logger,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		logPath:  logPath,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
		rpc:      metrics.NewRPC(),
		done:     make(chan struct{}),
	}, nil
}

// Start acquires the daemon lock, opens the journal, creates the tuner
// instances and starts the metrics exporter when enabled.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return ErrAlreadyRunning
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another vtunerd instance is already running")
	}

	if err := d.start(ctx); err != nil {
		d.teardown()
		_ = d.lock.Unlock()
		return err
	}

	d.running.Store(true)
	d.logger.Info("vtunerd daemon started",
		logging.String("lock", d.lockPath),
		logging.Int("devices", d.cfg.Devices.Count),
		logging.String(logging.FieldEventType, "daemon_start"),
	)
	return nil
}

func (d *Daemon) start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	journal, err := sessionlog.Open(d.cfg.SessionDBPath())
	if err != nil {
		return fmt.Errorf("open session journal: %w", err)
	}
	d.journal = journal
	if abandoned, err := journal.CloseAbandoned(runCtx); err != nil {
		logging.WarnWithContext(d.logger, "closing abandoned sessions failed", "sessionlog_recover_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale sessions remain marked open"),
		)
	} else if abandoned > 0 {
		d.logger.Info("marked sessions from previous run abandoned", logging.Int64("count", abandoned))
	}
	if days := d.cfg.Logging.RetentionDays; days > 0 {
		cutoff := time.Now().AddDate(0, 0, -days)
		if pruned, err := journal.Prune(runCtx, cutoff); err != nil {
			d.logger.Debug("journal prune failed", logging.Error(err))
		} else if pruned > 0 {
			d.logger.Info("pruned old session records", logging.Int64("count", pruned))
		}
	}

	opts, err := registry.OptionsFromConfig(d.cfg, d.base)
	if err != nil {
		return fmt.Errorf("load device options: %w", err)
	}
	opts.Observer = sessionlog.NewObserver(journal, d.base)
	reg, err := registry.New(opts)
	if err != nil {
		return fmt.Errorf("create tuner instances: %w", err)
	}
	d.registry = reg

	if d.cfg.Metrics.Enabled {
		gatherer, err := metrics.NewRegistry(reg, d.rpc)
		if err != nil {
			return err
		}
		exporter := metrics.NewServer(d.cfg.Metrics.Bind, d.cfg.Metrics.Path, gatherer, d.base)
		if err := exporter.Start(runCtx); err != nil {
			return fmt.Errorf("start metrics exporter: %w", err)
		}
		d.exporter = exporter
	}
	return nil
}

// Stop closes every session and instance and releases the daemon lock. It
// also signals Done so the hosting process can exit.
func (d *Daemon) Stop() {
	defer d.once.Do(func() { close(d.done) })
	if !d.running.Load() {
		return
	}
	d.teardown()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("vtunerd daemon stopped", logging.String(logging.FieldEventType, "daemon_stop"))
}

func (d *Daemon) teardown() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.exporter != nil {
		d.exporter.Stop()
		d.exporter = nil
	}
	if d.registry != nil {
		if err := d.registry.Close(); err != nil {
			d.logger.Warn("closing tuner instances reported errors", logging.Error(err))
		}
		d.registry = nil
	}
	if d.journal != nil {
		if err := d.journal.Close(); err != nil {
			d.logger.Warn("closing session journal failed", logging.Error(err))
		}
		d.journal = nil
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return nil
}

// Done is closed once Stop has been called.
func (d *Daemon) Done() <-chan struct{} {
	return d.done
}

// Running reports whether Start succeeded and Stop has not been called.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Device returns the tuner instance at index.
func (d *Daemon) Device(index int) (*registry.Device, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.registry == nil {
		return nil, ErrNotRunning
	}
	return d.registry.Get(index)
}

// Sessions returns journaled sessions, newest first. A negative device
// selects every device.
func (d *Daemon) Sessions(ctx context.Context, device, limit int) ([]sessionlog.Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.journal == nil {
		return nil, ErrNotRunning
	}
	return d.journal.Recent(ctx, device, limit)
}

// RPC returns the control socket instruments.
func (d *Daemon) RPC() *metrics.RPC {
	return d.rpc
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	status := Status{
		Running:     d.running.Load(),
		PID:         os.Getpid(),
		LockPath:    d.lockPath,
		JournalPath: d.cfg.SessionDBPath(),
		LogPath:     d.logPath,
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.registry != nil {
		status.Devices = d.registry.Stats()
	}
	if d.exporter != nil {
		status.MetricsAddr = d.exporter.Addr()
	}
	return status
}
