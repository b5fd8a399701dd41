package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"vtunerd/internal/demux"
	"vtunerd/internal/frontend"
	"vtunerd/internal/ingest"
	"vtunerd/internal/logging"
	"vtunerd/internal/mailbox"
	"vtunerd/internal/pidtab"
)

// Peer identifies the process behind a control session. Zero values mean
// unknown.
type Peer struct {
	PID int32  `json:"pid,omitempty"`
	UID uint32 `json:"uid,omitempty"`
}

// Session is one control-process attachment.
type Session struct {
	ID       string    `json:"id"`
	Device   int       `json:"device"`
	OpenedAt time.Time `json:"opened_at"`
	Peer     Peer      `json:"peer"`
}

// Device is one virtual tuner. It exclusively owns its mailbox, PID tracker,
// ingest validator and demux.
type Device struct {
	index    int
	logger   *slog.Logger
	observer Observer
	ctx      context.Context

	channel   *mailbox.Channel
	tracker   *pidtab.Tracker
	demux     *demux.Demux
	validator *ingest.Validator

	mu             sync.Mutex
	system         frontend.DeliverySystem
	fe             *frontend.Frontend
	profiles       frontend.Profiles
	name           string
	sessions       map[string]Session
	sessionsOpened uint64
	closing        bool
}

func newDevice(ctx context.Context, index int, opts Options) *Device {
	logger := opts.Logger.With(logging.Device(index))
	channel := mailbox.New(logger)
	dmx := demux.New()
	profiles := make(frontend.Profiles, len(opts.Profiles))
	for system, caps := range opts.Profiles {
		profiles[system] = caps
	}
	return &Device{
		index:     index,
		logger:    logging.NewComponentLogger(logger, "device"),
		observer:  opts.Observer,
		ctx:       ctx,
		channel:   channel,
		tracker:   pidtab.NewTracker(pidtab.NewTable(opts.PIDTableSize), channel, logger),
		demux:     dmx,
		validator: ingest.NewValidator(dmx, opts.TSCheck, logger),
		profiles:  profiles,
		sessions:  make(map[string]Session),
	}
}

// Index returns the instance number.
func (d *Device) Index() int {
	return d.index
}

// Channel returns the mailbox the control process reads requests from.
func (d *Device) Channel() *mailbox.Channel {
	return d.channel
}

// Demux returns the packet sink fed by Ingest.
func (d *Device) Demux() *demux.Demux {
	return d.demux
}

// Validator returns the ingest validator.
func (d *Device) Validator() *ingest.Validator {
	return d.validator
}

// OpenSession attaches a control session. The current PID set is re-sent
// when it is non-empty or when a change never reached a control process, so
// a new consumer learns what the stack wants.
func (d *Device) OpenSession(peer Peer) Session {
	d.mu.Lock()
	sess := Session{ID: uuid.NewString(), Device: d.index, OpenedAt: time.Now().UTC(), Peer: peer}
	d.sessions[sess.ID] = sess
	d.sessionsOpened++
	d.closing = false
	d.validator.SetClosing(false)
	consumers := d.channel.Attach()
	d.mu.Unlock()

	d.logger.Info("control session opened",
		logging.Session(sess.ID),
		logging.Int("sessions", consumers),
		logging.Int("peer_pid", int(peer.PID)),
	)
	if d.observer != nil {
		d.observer.SessionOpened(sess)
	}
	if d.tracker.Pending() || len(d.tracker.Snapshot().PIDs) > 0 {
		go func() {
			if err := d.tracker.Resync(d.ctx); err != nil {
				d.logger.Debug("pid resync failed", logging.Error(err))
			}
		}()
	}
	return sess
}

// CloseSession detaches a control session. Closing the last one marks the
// device as shutting down: waiting producers are released and ingest is
// refused until a new session opens.
func (d *Device) CloseSession(id string) error {
	d.mu.Lock()
	sess, ok := d.sessions[id]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoSession, id)
	}
	delete(d.sessions, id)
	// Closing state and consumer count change under d.mu so a concurrent
	// OpenSession cannot interleave with them.
	if len(d.sessions) == 0 {
		d.closing = true
		d.validator.SetClosing(true)
	}
	remaining := d.channel.Detach()
	d.mu.Unlock()

	d.logger.Info("control session closed",
		logging.Session(id),
		logging.Int("sessions", remaining),
		logging.Duration("duration", time.Since(sess.OpenedAt)),
	)
	if d.observer != nil {
		d.observer.SessionClosed(sess, d.Stats())
	}
	return nil
}

// HasSession reports whether id is open on this device.
func (d *Device) HasSession(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.sessions[id]
	return ok
}

// Sessions returns the open sessions.
func (d *Device) Sessions() []Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Session, 0, len(d.sessions))
	for _, sess := range d.sessions {
		out = append(out, sess)
	}
	return out
}

// SetType configures the delivery system by name and attaches the proxy
// frontend. Repeating the current type keeps the attached frontend; a
// different type re-initializes it. A failed attach leaves the device unset.
func (d *Device) SetType(name string) error {
	system, err := frontend.ParseDeliverySystem(name)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return ErrClosing
	}
	return d.attachLocked(system)
}

func (d *Device) attachLocked(system frontend.DeliverySystem) error {
	if d.fe != nil && !d.fe.Released() && d.system == system {
		return nil
	}
	if d.fe != nil {
		d.fe.Release()
		d.fe = nil
	}
	d.system = system
	fe, err := frontend.Attach(d.channel, system, frontend.Options{Profiles: d.profiles, Logger: d.logger})
	if err != nil {
		d.system = frontend.Unset
		return fmt.Errorf("%w: attach %s frontend: %w", ErrUnknownType, system, err)
	}
	d.fe = fe
	d.logger.Info("delivery system set",
		logging.String("system", system.String()),
		logging.String("frontend", fe.Info().Name),
	)
	return nil
}

// SetName sets the display name reported in status output.
func (d *Device) SetName(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return ErrClosing
	}
	d.name = name
	return nil
}

// SetInfo overrides the capability descriptor advertised for system. It
// takes effect the next time a frontend for system is attached.
func (d *Device) SetInfo(system frontend.DeliverySystem, caps frontend.Capabilities) error {
	if _, err := frontend.DefaultCapabilities(system); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return ErrClosing
	}
	d.profiles[system] = caps
	return nil
}

// System returns the configured delivery system.
func (d *Device) System() frontend.DeliverySystem {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.system
}

// Frontend returns the attached proxy frontend.
func (d *Device) Frontend() (*frontend.Frontend, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fe == nil {
		return nil, fmt.Errorf("%w: device %d has no delivery system", frontend.ErrInvalidConfiguration, d.index)
	}
	return d.fe, nil
}

// StartFeed registers a demux feed for pid.
func (d *Device) StartFeed(ctx context.Context, pid uint16, kind pidtab.FeedKind) error {
	return d.tracker.StartFeed(logging.WithDevice(ctx, d.index), pid, kind)
}

// StopFeed removes the demux feed for pid.
func (d *Device) StopFeed(ctx context.Context, pid uint16) error {
	return d.tracker.StopFeed(logging.WithDevice(ctx, d.index), pid)
}

// PIDs returns the tracked PID set.
func (d *Device) PIDs() []uint16 {
	return d.tracker.Snapshot().PIDs
}

// Ingest pushes TS data from the control process into the demux.
func (d *Device) Ingest(buf []byte) (int, error) {
	return d.validator.Ingest(buf)
}

// Stats is a point-in-time view of one device.
type Stats struct {
	Index          int                 `json:"index"`
	Name           string              `json:"name"`
	Type           string              `json:"type"`
	Frontend       string              `json:"frontend,omitempty"`
	Sessions       int                 `json:"sessions"`
	SessionsOpened uint64              `json:"sessions_opened"`
	Closing        bool                `json:"closing"`
	Exchanges      uint64              `json:"exchanges"`
	PIDs           []uint16            `json:"pids"`
	PIDsDropped    uint64              `json:"pids_dropped"`
	PIDListsSent   uint64              `json:"pid_lists_sent"`
	TSCheck        bool                `json:"ts_check"`
	Ingest         ingest.Stats        `json:"ingest"`
	Packets        uint64              `json:"packets"`
	Outputs        []demux.WriterStats `json:"outputs,omitempty"`
	Streams        []demux.PIDCount    `json:"streams,omitempty"`
}

// Stats collects the counters of every component.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	stats := Stats{
		Index:          d.index,
		Name:           d.name,
		Type:           d.system.String(),
		Sessions:       len(d.sessions),
		SessionsOpened: d.sessionsOpened,
		Closing:        d.closing,
	}
	if d.fe != nil {
		stats.Frontend = d.fe.Info().Name
	}
	d.mu.Unlock()

	stats.Exchanges = d.channel.Exchanges()
	stats.PIDs = d.tracker.Snapshot().PIDs
	stats.PIDsDropped = d.tracker.Dropped()
	stats.PIDListsSent = d.tracker.Sent()
	stats.TSCheck = d.validator.Checking()
	stats.Ingest = d.validator.Stats()
	stats.Packets = d.demux.Counter().Total()
	stats.Outputs = d.demux.Outputs()
	stats.Streams = d.demux.Counter().Snapshot()
	return stats
}

func (d *Device) shutdown() error {
	d.mu.Lock()
	ids := make([]string, 0, len(d.sessions))
	for id := range d.sessions {
		ids = append(ids, id)
	}
	d.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := d.CloseSession(id); err != nil {
			errs = append(errs, err)
		}
	}

	d.mu.Lock()
	if d.fe != nil {
		d.fe.Release()
	}
	d.closing = true
	d.validator.SetClosing(true)
	d.mu.Unlock()
	d.tracker.Reset()
	if err := d.demux.CloseOutputs(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
