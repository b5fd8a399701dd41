package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"vtunerd/internal/config"
	"vtunerd/internal/daemon"
	"vtunerd/internal/ipc"
	"vtunerd/internal/sessionlog"
)

const (
	defaultStopGrace    = 5 * time.Second
	defaultStartTimeout = 10 * time.Second
	pollInterval        = 200 * time.Millisecond
)

// ErrDaemonNotRunning indicates daemon IPC is unavailable.
var ErrDaemonNotRunning = errors.New("daemon not running")

// LaunchOptions are passed through to a detached `vtunerd daemon`.
type LaunchOptions struct {
	SocketPath string
	ConfigPath string
	LogLevel   string
}

func (o LaunchOptions) args() []string {
	args := []string{"daemon"}
	for _, flag := range []struct{ name, value string }{
		{"--socket", o.SocketPath},
		{"--config", o.ConfigPath},
		{"--log-level", o.LogLevel},
	} {
		if v := strings.TrimSpace(flag.value); v != "" {
			args = append(args, flag.name, v)
		}
	}
	return args
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult reports what Start found or did.
type StartResult struct {
	State    StartState
	Launched bool
	PID      int
	Tuners   int
}

// StopResult reports how the daemon went down. OpenSessions counts the
// control sessions that were still attached when the stop was requested.
type StopResult struct {
	StopAcknowledged bool
	ForcedKill       bool
	PID              int
	OpenSessions     int
}

// RestartResult combines the stop and start halves of Restart.
type RestartResult struct {
	WasRunning bool
	Stop       StopResult
	Start      StartResult
}

// Snapshot is what `vtunerd status` renders.
type Snapshot struct {
	daemon.Status
	Sessions []sessionlog.Record
}

// Controller manages a vtunerd daemon reachable on SocketPath. Config is
// used for the pid, lock and journal paths when the socket is silent.
type Controller struct {
	SocketPath   string
	Config       *config.Config
	Executable   string
	Launch       LaunchOptions
	StopGrace    time.Duration
	StartTimeout time.Duration
}

// New returns a controller with default timeouts.
func New(socketPath string, cfg *config.Config) *Controller {
	return &Controller{
		SocketPath:   socketPath,
		Config:       cfg,
		StopGrace:    defaultStopGrace,
		StartTimeout: defaultStartTimeout,
	}
}

// probe dials the socket and fetches status. A nil status with a nil error
// means nothing is listening.
func (c *Controller) probe() (*daemon.Status, error) {
	client, err := ipc.Dial(c.SocketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return nil, nil
		}
		return nil, err
	}
	defer client.Close()
	return client.Status()
}

// Start launches a detached daemon unless one already answers.
func (c *Controller) Start() (StartResult, error) {
	status, err := c.probe()
	if err != nil {
		return StartResult{}, err
	}
	launched := false
	if status == nil {
		if err := c.launch(); err != nil {
			return StartResult{}, err
		}
		launched = true
		if status, err = c.waitForStatus(); err != nil {
			return StartResult{}, err
		}
	}
	if !status.Running {
		return StartResult{}, errors.New("daemon answered but reports not running")
	}
	result := StartResult{
		State:    StartStateAlreadyRunning,
		Launched: launched,
		PID:      status.PID,
		Tuners:   len(status.Devices),
	}
	if launched {
		result.State = StartStateStarted
	}
	return result, nil
}

func (c *Controller) launch() error {
	if strings.TrimSpace(c.Executable) == "" {
		return errors.New("resolve executable: executable path is empty")
	}
	proc := exec.Command(c.Executable, c.Launch.args()...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

func (c *Controller) waitForStatus() (*daemon.Status, error) {
	deadline := time.Now().Add(c.StartTimeout)
	lastErr := errors.New("socket never appeared")
	for time.Now().Before(deadline) {
		status, err := c.probe()
		switch {
		case err != nil:
			lastErr = err
		case status != nil:
			return status, nil
		}
		time.Sleep(pollInterval)
	}
	return nil, fmt.Errorf("daemon failed to start: %w", lastErr)
}

// Stop asks the daemon to stop and waits StopGrace for it to report so.
// A daemon that still answers as running afterwards is killed through its
// pid file.
func (c *Controller) Stop() (StopResult, error) {
	client, err := ipc.Dial(c.SocketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return StopResult{}, ErrDaemonNotRunning
		}
		return StopResult{}, err
	}
	var result StopResult
	if status, statusErr := client.Status(); statusErr == nil && status != nil {
		result.PID = status.PID
		for _, dev := range status.Devices {
			result.OpenSessions += dev.Sessions
		}
	}
	resp, err := client.Stop()
	_ = client.Close()
	if err != nil {
		return StopResult{}, err
	}
	result.StopAcknowledged = resp != nil && resp.Stopped

	if c.waitForStop() {
		return result, nil
	}
	status, _ := c.probe()
	if status == nil || !status.Running {
		return result, nil
	}
	if c.Config == nil {
		return result, errors.New("daemon still running and no configuration to locate its pid file")
	}
	fallback := status.PID
	if fallback == 0 {
		fallback = result.PID
	}
	killed, err := ForceKillProcess(c.Config.PIDPath(), c.Config.LockPath(), fallback)
	if err != nil {
		return result, fmt.Errorf("failed to stop daemon process: %w", err)
	}
	_ = os.Remove(c.SocketPath)
	result.ForcedKill = true
	result.PID = killed
	return result, nil
}

// waitForStop reports whether the daemon went silent or reported not
// running within StopGrace.
func (c *Controller) waitForStop() bool {
	deadline := time.Now().Add(c.StopGrace)
	for time.Now().Before(deadline) {
		status, err := c.probe()
		if err == nil && (status == nil || !status.Running) {
			return true
		}
		time.Sleep(pollInterval)
	}
	return false
}

// Restart stops a running daemon, then starts a fresh one.
func (c *Controller) Restart() (RestartResult, error) {
	stopped, err := c.Stop()
	wasRunning := true
	if errors.Is(err, ErrDaemonNotRunning) {
		wasRunning = false
	} else if err != nil {
		return RestartResult{}, err
	}
	started, err := c.Start()
	if err != nil {
		return RestartResult{}, err
	}
	return RestartResult{WasRunning: wasRunning, Stop: stopped, Start: started}, nil
}

// Snapshot asks the daemon for its status. When the daemon is down the
// session history is read from the journal directly.
func (c *Controller) Snapshot(ctx context.Context, limit int) (*Snapshot, error) {
	if c.Config == nil {
		return nil, errors.New("configuration not available")
	}
	snapshot := &Snapshot{}

	if client, err := ipc.Dial(c.SocketPath); err == nil {
		defer client.Close()
		if resp, statusErr := client.Status(); statusErr == nil && resp != nil {
			snapshot.Status = *resp
		}
		if snapshot.Running {
			if sessions, sessErr := client.Sessions(-1, limit); sessErr == nil {
				snapshot.Sessions = sessions.Sessions
			}
			return snapshot, nil
		}
	}

	snapshot.JournalPath = c.Config.SessionDBPath()
	snapshot.LockPath = c.Config.LockPath()
	if _, err := os.Stat(snapshot.JournalPath); err != nil {
		return snapshot, nil
	}
	store, err := sessionlog.Open(snapshot.JournalPath)
	if err != nil {
		return snapshot, nil
	}
	defer store.Close()
	queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	records, err := store.Recent(queryCtx, -1, limit)
	if err != nil {
		return snapshot, fmt.Errorf("read session journal: %w", err)
	}
	snapshot.Sessions = records
	return snapshot, nil
}

// ForceKillProcess sends SIGKILL to the pid recorded in pidPath (or
// fallbackPID when the file is missing) and removes the pid and lock files.
func ForceKillProcess(pidPath, lockPath string, fallbackPID int) (int, error) {
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return 0, err
	}
	if pid == 0 {
		pid = fallbackPID
	}
	if pid <= 0 {
		return 0, fmt.Errorf("unable to determine daemon pid (pid file: %s)", pidPath)
	}
	if pid == os.Getpid() {
		return 0, fmt.Errorf("refusing to kill current process (pid %d)", pid)
	}
	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
		return 0, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("remove pid file %q: %w", pidPath, err)
	}
	if lockPath != "" {
		_ = os.Remove(lockPath)
	}
	return pid, nil
}

// readPIDFile returns 0 without error when the file is absent or empty.
func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read daemon pid file %q: %w", path, err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return 0, nil
	}
	pid, err := strconv.Atoi(text)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("daemon pid file %q holds %q", path, text)
	}
	return pid, nil
}

func isDaemonUnavailable(err error) bool {
	return errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.ECONNREFUSED)
}
