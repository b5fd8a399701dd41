package sessionlog_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"vtunerd/internal/registry"
	"vtunerd/internal/sessionlog"
	"vtunerd/internal/testsupport"
)

func TestOpenedAndClosedRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenJournal(t, cfg)

	ctx := context.Background()
	opened := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := store.Opened(ctx, sessionlog.Record{ID: "a", Device: 1, OpenedAt: opened, PeerPID: 4242, PeerUID: 1000}); err != nil {
		t.Fatalf("Opened failed: %v", err)
	}

	records, err := store.Recent(ctx, -1, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(records) != 1 || !records[0].Open() {
		t.Fatalf("expected one open session, got %#v", records)
	}
	if records[0].PeerPID != 4242 || records[0].PeerUID != 1000 || !records[0].OpenedAt.Equal(opened) {
		t.Fatalf("unexpected record: %#v", records[0])
	}

	err = store.Closed(ctx, sessionlog.Record{
		ID:             "a",
		DeliverySystem: "DVB-S2",
		Exchanges:      7,
		BytesIngested:  1880,
		PIDListsSent:   3,
	})
	if err != nil {
		t.Fatalf("Closed failed: %v", err)
	}

	records, err = store.Recent(ctx, 1, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
	rec := records[0]
	if rec.Open() || rec.CloseReason != sessionlog.ReasonClosed {
		t.Fatalf("expected closed record, got %#v", rec)
	}
	if rec.DeliverySystem != "DVB-S2" || rec.Exchanges != 7 || rec.BytesIngested != 1880 || rec.PIDListsSent != 3 {
		t.Fatalf("unexpected counters: %#v", rec)
	}
}

func TestOpenedRequiresID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenJournal(t, cfg)

	if err := store.Opened(context.Background(), sessionlog.Record{Device: 0, OpenedAt: time.Now()}); err == nil {
		t.Fatal("expected error when id missing")
	}
}

func TestRecentFiltersByDeviceNewestFirst(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenJournal(t, cfg)

	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, device := range []int{0, 1, 0, 1, 0} {
		rec := sessionlog.Record{ID: string(rune('a' + i)), Device: device, OpenedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := store.Opened(ctx, rec); err != nil {
			t.Fatalf("Opened %d failed: %v", i, err)
		}
	}

	records, err := store.Recent(ctx, 0, 2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(records) != 2 || records[0].ID != "e" || records[1].ID != "c" {
		t.Fatalf("unexpected records: %#v", records)
	}

	all, err := store.Recent(ctx, -1, 0)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 records, got %d", len(all))
	}
}

func TestCloseAbandonedMarksOpenSessions(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenJournal(t, cfg)

	ctx := context.Background()
	now := time.Now()
	for _, id := range []string{"open-1", "open-2", "done"} {
		if err := store.Opened(ctx, sessionlog.Record{ID: id, OpenedAt: now}); err != nil {
			t.Fatalf("Opened failed: %v", err)
		}
	}
	if err := store.Closed(ctx, sessionlog.Record{ID: "done"}); err != nil {
		t.Fatalf("Closed failed: %v", err)
	}

	affected, err := store.CloseAbandoned(ctx)
	if err != nil {
		t.Fatalf("CloseAbandoned failed: %v", err)
	}
	if affected != 2 {
		t.Fatalf("expected 2 abandoned sessions, got %d", affected)
	}

	records, err := store.Recent(ctx, -1, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	for _, rec := range records {
		want := sessionlog.ReasonAbandoned
		if rec.ID == "done" {
			want = sessionlog.ReasonClosed
		}
		if rec.Open() || rec.CloseReason != want {
			t.Fatalf("session %s: expected reason %q, got %#v", rec.ID, want, rec)
		}
	}
}

func TestPruneRemovesOldClosedSessions(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenJournal(t, cfg)

	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)
	if err := store.Opened(ctx, sessionlog.Record{ID: "old", OpenedAt: old}); err != nil {
		t.Fatalf("Opened failed: %v", err)
	}
	if err := store.Closed(ctx, sessionlog.Record{ID: "old", ClosedAt: &old}); err != nil {
		t.Fatalf("Closed failed: %v", err)
	}
	if err := store.Opened(ctx, sessionlog.Record{ID: "live", OpenedAt: old}); err != nil {
		t.Fatalf("Opened failed: %v", err)
	}

	removed, err := store.Prune(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned session, got %d", removed)
	}
	records, err := store.Recent(ctx, -1, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(records) != 1 || records[0].ID != "live" {
		t.Fatalf("unexpected remaining records: %#v", records)
	}
}

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	store, err := sessionlog.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	_ = store.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("update version: %v", err)
	}
	_ = db.Close()

	if _, err := sessionlog.Open(path); !errors.Is(err, sessionlog.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sessions.db")
	store, err := sessionlog.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := store.Opened(context.Background(), sessionlog.Record{ID: "x", OpenedAt: time.Now()}); err != nil {
		t.Fatalf("Opened failed: %v", err)
	}
	_ = store.Close()

	store, err = sessionlog.Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer store.Close()
	records, err := store.Recent(context.Background(), -1, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(records) != 1 || records[0].ID != "x" {
		t.Fatalf("expected history to survive reopen, got %#v", records)
	}
}

func TestObserverJournalsRegistrySessions(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenJournal(t, cfg)

	reg, err := registry.New(registry.Options{
		Count:    1,
		Types:    []string{"DVB-T"},
		Observer: sessionlog.NewObserver(store, nil),
	})
	if err != nil {
		t.Fatalf("registry.New failed: %v", err)
	}
	defer reg.Close()

	dev, err := reg.Get(0)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	sess := dev.OpenSession(registry.Peer{PID: 77, UID: 1000})
	if _, err := dev.Ingest(testsupport.TSPackets(0x100, 0x101)); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if err := dev.CloseSession(sess.ID); err != nil {
		t.Fatalf("CloseSession failed: %v", err)
	}

	records, err := store.Recent(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one journaled session, got %d", len(records))
	}
	rec := records[0]
	if rec.ID != sess.ID || rec.PeerPID != 77 || rec.Open() {
		t.Fatalf("unexpected record: %#v", rec)
	}
	if rec.DeliverySystem != "DVB-T" || rec.BytesIngested != 376 {
		t.Fatalf("unexpected counters: %#v", rec)
	}
}
