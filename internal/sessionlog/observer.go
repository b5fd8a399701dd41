package sessionlog

import (
	"context"
	"log/slog"
	"time"

	"vtunerd/internal/logging"
	"vtunerd/internal/registry"
)

const journalTimeout = 5 * time.Second

// Observer journals registry session events into a Store.
type Observer struct {
	store  *Store
	logger *slog.Logger
}

// NewObserver wraps store as a registry.Observer.
func NewObserver(store *Store, logger *slog.Logger) *Observer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Observer{store: store, logger: logging.NewComponentLogger(logger, "sessionlog")}
}

// SessionOpened implements registry.Observer.
func (o *Observer) SessionOpened(sess registry.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	err := o.store.Opened(ctx, Record{
		ID:       sess.ID,
		Device:   sess.Device,
		OpenedAt: sess.OpenedAt,
		PeerPID:  sess.Peer.PID,
		PeerUID:  sess.Peer.UID,
	})
	if err != nil {
		logging.WarnWithContext(o.logger, "journal session open failed", "sessionlog_write_failed",
			logging.Session(sess.ID),
			logging.String(logging.FieldErrorHint, "check journal path and disk space"),
			logging.String(logging.FieldImpact, "session history incomplete"),
			logging.Error(err),
		)
	}
}

// SessionClosed implements registry.Observer.
func (o *Observer) SessionClosed(sess registry.Session, stats registry.Stats) {
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	err := o.store.Closed(ctx, Record{
		ID:             sess.ID,
		DeliverySystem: stats.Type,
		Exchanges:      stats.Exchanges,
		BytesIngested:  stats.Ingest.AcceptedBytes,
		PIDListsSent:   stats.PIDListsSent,
	})
	if err != nil {
		logging.WarnWithContext(o.logger, "journal session close failed", "sessionlog_write_failed",
			logging.Session(sess.ID),
			logging.String(logging.FieldErrorHint, "check journal path and disk space"),
			logging.String(logging.FieldImpact, "session history incomplete"),
			logging.Error(err),
		)
	}
}
