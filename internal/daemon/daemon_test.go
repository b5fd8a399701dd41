package daemon_test

import (
	"context"
	"errors"
	"testing"

	"vtunerd/internal/daemon"
	"vtunerd/internal/registry"
	"vtunerd/internal/testsupport"
)

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithDevices(2, "DVB-S2"))
	d, err := daemon.New(cfg, nil, "")
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})

	if _, err := d.Device(0); !errors.Is(err, daemon.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning before start, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := d.Status()
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if len(status.Devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(status.Devices))
	}
	if status.Devices[0].Type != "DVB-S2" || status.Devices[1].Type != "unset" {
		t.Fatalf("unexpected device types: %q %q", status.Devices[0].Type, status.Devices[1].Type)
	}

	// Second start should fail
	if err := d.Start(ctx); !errors.Is(err, daemon.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	d.Stop()
	select {
	case <-d.Done():
	default:
		t.Fatal("expected Done to be closed after Stop")
	}
	if d.Status().Running {
		t.Fatal("expected daemon to be stopped")
	}
	if _, err := d.Device(0); !errors.Is(err, daemon.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning after stop, got %v", err)
	}
}

func TestSecondDaemonIsLockedOut(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first, err := daemon.New(cfg, nil, "")
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { first.Close() })
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	second, err := daemon.New(cfg, nil, "")
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := second.Start(context.Background()); err == nil {
		second.Close()
		t.Fatal("expected second instance to fail to acquire the lock")
	}
}

func TestSessionsAreJournaledAcrossRestart(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, err := daemon.New(cfg, nil, "")
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	dev, err := d.Device(0)
	if err != nil {
		t.Fatalf("Device failed: %v", err)
	}
	sess := dev.OpenSession(registry.Peer{PID: 10})
	d.Stop()

	restarted, err := daemon.New(cfg, nil, "")
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { restarted.Close() })
	if err := restarted.Start(context.Background()); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	records, err := restarted.Sessions(context.Background(), -1, 10)
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(records) != 1 || records[0].ID != sess.ID {
		t.Fatalf("unexpected journal: %#v", records)
	}
	if records[0].Open() {
		t.Fatal("expected session closed by shutdown")
	}
}

func TestMetricsExporterStartsWhenEnabled(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMetrics())
	d, err := daemon.New(cfg, nil, "")
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if d.Status().MetricsAddr == "" {
		t.Fatal("expected metrics address")
	}
}
