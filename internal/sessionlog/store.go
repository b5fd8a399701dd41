package sessionlog

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes incompatibly.
const schemaVersion = 1

// ErrSchemaMismatch indicates the journal was written by another schema version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// Close reasons recorded in the journal.
const (
	ReasonClosed    = "closed"
	ReasonAbandoned = "abandoned"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// timeLayout keeps stored timestamps fixed width so they order as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Record is one journaled control session.
type Record struct {
	ID             string     `json:"id"`
	Device         int        `json:"device"`
	OpenedAt       time.Time  `json:"opened_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
	CloseReason    string     `json:"close_reason,omitempty"`
	DeliverySystem string     `json:"delivery_system,omitempty"`
	Exchanges      uint64     `json:"exchanges"`
	BytesIngested  uint64     `json:"bytes_ingested"`
	PIDListsSent   uint64     `json:"pid_lists_sent"`
	PeerPID        int32      `json:"peer_pid,omitempty"`
	PeerUID        uint32     `json:"peer_uid,omitempty"`
}

// Open returns true while the session has no close time.
func (r Record) Open() bool {
	return r.ClosedAt == nil
}

// Store persists control session history in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the journal at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: journal has version %d, expected %d (delete %s)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// Opened records a new session.
func (s *Store) Opened(ctx context.Context, rec Record) error {
	if strings.TrimSpace(rec.ID) == "" {
		return errors.New("session id is required")
	}
	return s.execWithRetry(ctx,
		`INSERT INTO sessions (id, device, opened_at, delivery_system, peer_pid, peer_uid)
         VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Device,
		rec.OpenedAt.UTC().Format(timeLayout),
		nullableString(rec.DeliverySystem),
		nullableInt(int64(rec.PeerPID)),
		nullableInt(int64(rec.PeerUID)),
	)
}

// Closed stamps the close time and final counters of a session.
func (s *Store) Closed(ctx context.Context, rec Record) error {
	closedAt := time.Now().UTC()
	if rec.ClosedAt != nil {
		closedAt = rec.ClosedAt.UTC()
	}
	reason := rec.CloseReason
	if reason == "" {
		reason = ReasonClosed
	}
	return s.execWithRetry(ctx,
		`UPDATE sessions
         SET closed_at = ?, close_reason = ?, delivery_system = COALESCE(?, delivery_system),
             exchanges = ?, bytes_ingested = ?, pid_lists_sent = ?
         WHERE id = ?`,
		closedAt.Format(timeLayout),
		reason,
		nullableString(rec.DeliverySystem),
		int64(rec.Exchanges),
		int64(rec.BytesIngested),
		int64(rec.PIDListsSent),
		rec.ID,
	)
}

// CloseAbandoned marks sessions left open by a previous daemon run and
// returns how many were updated.
func (s *Store) CloseAbandoned(ctx context.Context) (int64, error) {
	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE sessions SET closed_at = ?, close_reason = ? WHERE closed_at IS NULL`,
			time.Now().UTC().Format(timeLayout),
			ReasonAbandoned,
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("close abandoned sessions: %w", err)
	}
	return affected, nil
}

// Recent returns up to limit sessions, newest first. A negative device
// selects every device.
func (s *Store) Recent(ctx context.Context, device, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, device, opened_at, closed_at, close_reason, delivery_system,
                     exchanges, bytes_ingested, pid_lists_sent, peer_pid, peer_uid
              FROM sessions`
	args := []any{}
	if device >= 0 {
		query += ` WHERE device = ?`
		args = append(args, device)
	}
	query += ` ORDER BY opened_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

// Prune deletes closed sessions older than cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM sessions WHERE closed_at IS NOT NULL AND closed_at < ?`,
			cutoff.UTC().Format(timeLayout),
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	return affected, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec       Record
		openedAt  string
		closedAt  sql.NullString
		reason    sql.NullString
		system    sql.NullString
		exchanges int64
		ingested  int64
		pidLists  int64
		peerPID   sql.NullInt64
		peerUID   sql.NullInt64
	)
	if err := row.Scan(&rec.ID, &rec.Device, &openedAt, &closedAt, &reason, &system,
		&exchanges, &ingested, &pidLists, &peerPID, &peerUID); err != nil {
		return Record{}, fmt.Errorf("scan session: %w", err)
	}
	opened, err := time.Parse(time.RFC3339Nano, openedAt)
	if err != nil {
		return Record{}, fmt.Errorf("parse opened_at: %w", err)
	}
	rec.OpenedAt = opened
	if closedAt.Valid {
		closed, err := time.Parse(time.RFC3339Nano, closedAt.String)
		if err != nil {
			return Record{}, fmt.Errorf("parse closed_at: %w", err)
		}
		rec.ClosedAt = &closed
	}
	rec.CloseReason = reason.String
	rec.DeliverySystem = system.String
	rec.Exchanges = uint64(exchanges)
	rec.BytesIngested = uint64(ingested)
	rec.PIDListsSent = uint64(pidLists)
	rec.PeerPID = int32(peerPID.Int64)
	rec.PeerUID = uint32(peerUID.Int64)
	return rec, nil
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullableInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}
