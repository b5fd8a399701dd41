package pidtab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"vtunerd/internal/logging"
	"vtunerd/internal/mailbox"
	"vtunerd/internal/message"
)

// MaxPID is the largest valid 13-bit transport stream PID.
const MaxPID = 0x1FFF

var (
	// ErrUnsupportedFeed rejects feed kinds the proxy cannot forward.
	ErrUnsupportedFeed = errors.New("unsupported feed type")
	// ErrInvalidPID rejects values outside the 13-bit PID range.
	ErrInvalidPID = errors.New("invalid pid")
)

// FeedKind is the demux feed type requested by the stack.
type FeedKind int

const (
	FeedTS FeedKind = iota
	FeedSection
	FeedPES
	FeedOther
)

func (k FeedKind) String() string {
	switch k {
	case FeedTS:
		return "ts"
	case FeedSection:
		return "section"
	case FeedPES:
		return "pes"
	default:
		return "other"
	}
}

// ParseFeedKind maps "ts", "section"/"sec" and "pes" to a FeedKind; anything
// else is FeedOther.
func ParseFeedKind(value string) FeedKind {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "ts":
		return FeedTS
	case "section", "sec":
		return FeedSection
	case "pes":
		return FeedPES
	default:
		return FeedOther
	}
}

// Submitter posts messages to the control process.
type Submitter interface {
	Submit(ctx context.Context, msg message.Message, expectResponse bool) (*message.Message, error)
}

// Tracker keeps the control process informed of the PIDs the stack wants.
// Snapshot sends are serialized; a send is skipped when a later one already
// carried the change, so the last message after a burst always matches the
// final table.
type Tracker struct {
	table  *Table
	out    Submitter
	logger *slog.Logger

	sendMu      sync.Mutex
	sentVersion atomic.Uint64

	dropped atomic.Uint64
	sent    atomic.Uint64
}

// NewTracker binds a table to the mailbox it reports through.
func NewTracker(table *Table, out Submitter, logger *slog.Logger) *Tracker {
	return &Tracker{
		table:  table,
		out:    out,
		logger: logging.NewComponentLogger(logger, "pidtab"),
	}
}

// StartFeed adds pid for a TS or section feed and reports the new set.
// A full table is logged and otherwise ignored.
func (t *Tracker) StartFeed(ctx context.Context, pid uint16, kind FeedKind) error {
	switch kind {
	case FeedTS, FeedSection:
	default:
		return fmt.Errorf("%w: %s feed for pid %#x", ErrUnsupportedFeed, kind, pid)
	}
	if pid > MaxPID {
		return fmt.Errorf("%w: %#x", ErrInvalidPID, pid)
	}

	changed, err := t.table.Add(pid)
	if err != nil {
		t.dropped.Add(1)
		logging.WarnWithContext(t.logger, "pid not tracked", "pid_table_full",
			logging.PID(pid),
			logging.Int("capacity", t.table.Capacity()),
			logging.Error(err),
			logging.String(logging.FieldImpact, "the control process will not deliver this pid"),
			logging.String(logging.FieldErrorHint, "stop unused feeds or raise devices.pid_table_size"),
		)
		return nil
	}
	if !changed {
		return nil
	}
	t.logger.DebugContext(ctx, "feed started", logging.PID(pid), logging.String("feed", kind.String()))
	return t.publish(ctx, false)
}

// StopFeed removes pid and reports the new set. Removing an untracked pid
// sends nothing.
func (t *Tracker) StopFeed(ctx context.Context, pid uint16) error {
	if !t.table.Remove(pid) {
		return nil
	}
	t.logger.DebugContext(ctx, "feed stopped", logging.PID(pid))
	return t.publish(ctx, false)
}

// Resync sends the current set regardless of what was sent before. It is
// used when a new control session attaches.
func (t *Tracker) Resync(ctx context.Context) error {
	return t.publish(ctx, true)
}

// Pending reports whether the table changed since the last delivered
// PIDList, including a change to an empty set.
func (t *Tracker) Pending() bool {
	return t.table.Version() > t.sentVersion.Load()
}

// Reset clears the table without notifying the control process.
func (t *Tracker) Reset() {
	t.table.Clear()
}

// Snapshot returns the current set.
func (t *Tracker) Snapshot() Snapshot {
	return t.table.Snapshot()
}

// Dropped returns how many feed starts found the table full.
func (t *Tracker) Dropped() uint64 {
	return t.dropped.Load()
}

// Sent returns how many PIDList messages were posted.
func (t *Tracker) Sent() uint64 {
	return t.sent.Load()
}

func (t *Tracker) publish(ctx context.Context, force bool) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	snap := t.table.Snapshot()
	if !force && snap.Version <= t.sentVersion.Load() {
		return nil
	}
	_, err := t.out.Submit(ctx, snap.Message(), false)
	switch {
	case err == nil:
		t.sentVersion.Store(snap.Version)
		t.sent.Add(1)
		return nil
	case errors.Is(err, mailbox.ErrNoConsumer):
		// Delivered by Resync once a session attaches.
		return nil
	default:
		return fmt.Errorf("send pid list: %w", err)
	}
}
