package daemonctl_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"vtunerd/internal/daemon"
	"vtunerd/internal/daemonctl"
	"vtunerd/internal/ipc"
	"vtunerd/internal/sessionlog"
	"vtunerd/internal/testsupport"
)

func TestStopWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctl := daemonctl.New(cfg.Paths.SocketPath, cfg)
	if _, err := ctl.Stop(); !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}

func TestStartWithoutExecutableFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctl := daemonctl.New(cfg.Paths.SocketPath, cfg)
	if _, err := ctl.Start(); err == nil || !strings.Contains(err.Error(), "executable") {
		t.Fatalf("expected executable error, got %v", err)
	}
}

func TestForceKillRefusesCurrentProcess(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "vtunerd.pid")
	testsupport.WriteFile(t, pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"))

	if _, err := daemonctl.ForceKillProcess(pidPath, "", 0); err == nil {
		t.Fatal("expected refusal to kill the current process")
	}
	if _, err := daemonctl.ForceKillProcess(filepath.Join(dir, "missing.pid"), "", 0); err == nil {
		t.Fatal("expected error without pid")
	}

	garbage := filepath.Join(dir, "garbage.pid")
	testsupport.WriteFile(t, garbage, []byte("tuner\n"))
	if _, err := daemonctl.ForceKillProcess(garbage, "", 0); err == nil {
		t.Fatal("expected error for unparsable pid file")
	}
}

func TestStopReportsOpenSessions(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithDevices(2))
	d, err := daemon.New(cfg, nil, "")
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	srv, err := ipc.NewServer(ctx, cfg.Paths.SocketPath, d, nil)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping socket test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(func() { srv.Close() })

	client, err := ipc.Dial(cfg.Paths.SocketPath)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	if _, err := client.OpenSession(1); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	ctl := daemonctl.New(cfg.Paths.SocketPath, cfg)
	ctl.StopGrace = 2 * time.Second
	result, err := ctl.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !result.StopAcknowledged || result.ForcedKill {
		t.Fatalf("unexpected stop result: %#v", result)
	}
	if result.OpenSessions != 1 || result.PID != os.Getpid() {
		t.Fatalf("expected one open session in pid %d, got %#v", os.Getpid(), result)
	}
	select {
	case <-d.Done():
	case <-time.After(time.Second):
		t.Fatal("daemon did not stop")
	}
}

func TestSnapshotReadsJournalOffline(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctl := daemonctl.New(cfg.Paths.SocketPath, cfg)

	snapshot, err := ctl.Snapshot(context.Background(), 10)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snapshot.Running || len(snapshot.Sessions) != 0 {
		t.Fatalf("expected empty offline snapshot, got %#v", snapshot)
	}

	store := testsupport.MustOpenJournal(t, cfg)
	opened := time.Now().UTC().Add(-time.Minute)
	if err := store.Opened(context.Background(), sessionlog.Record{ID: "a", Device: 0, OpenedAt: opened}); err != nil {
		t.Fatalf("Opened: %v", err)
	}
	if err := store.Closed(context.Background(), sessionlog.Record{ID: "a", Exchanges: 4}); err != nil {
		t.Fatalf("Closed: %v", err)
	}

	snapshot, err = ctl.Snapshot(context.Background(), 10)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snapshot.Sessions) != 1 || snapshot.Sessions[0].ID != "a" || snapshot.Sessions[0].Exchanges != 4 {
		t.Fatalf("unexpected sessions: %#v", snapshot.Sessions)
	}
	if snapshot.JournalPath != cfg.SessionDBPath() {
		t.Fatalf("expected journal path %q, got %q", cfg.SessionDBPath(), snapshot.JournalPath)
	}
}
