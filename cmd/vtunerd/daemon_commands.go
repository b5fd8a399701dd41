package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"vtunerd/internal/daemonctl"
	"vtunerd/internal/registry"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the vtunerd daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			ctl, err := newController(ctx, true)
			if err != nil {
				return err
			}
			result, err := ctl.Start()
			if err != nil {
				return err
			}

			if result.Launched {
				fmt.Fprintln(stdout, "Daemon not running, launching...")
			}
			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintf(stdout, "Daemon started (pid %d, %d tuners)\n", result.PID, result.Tuners)
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			}
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the vtunerd daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			ctl, err := newController(ctx, false)
			if err != nil {
				return err
			}
			result, err := ctl.Stop()
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			printStopResult(stdout, result)
			return nil
		},
	}

	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the vtunerd daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			ctl, err := newController(ctx, true)
			if err != nil {
				return err
			}
			result, err := ctl.Restart()
			if err != nil {
				return err
			}
			if result.WasRunning {
				printStopResult(stdout, result.Stop)
			}
			fmt.Fprintf(stdout, "Daemon restarted (pid %d)\n", result.Start.PID)
			return nil
		},
	}

	var sessionLimit int
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and tuner status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctl, err := newController(ctx, false)
			if err != nil {
				return err
			}
			snapshot, err := ctl.Snapshot(cmd.Context(), sessionLimit)
			if err != nil {
				return err
			}
			renderStatus(cmd.OutOrStdout(), snapshot, shouldColorize(cmd.OutOrStdout()))
			return nil
		},
	}
	statusCmd.Flags().IntVar(&sessionLimit, "sessions", 5, "Number of recent control sessions to show")

	return []*cobra.Command{startCmd, stopCmd, restartCmd, statusCmd}
}

func printStopResult(out io.Writer, result daemonctl.StopResult) {
	if !result.StopAcknowledged {
		fmt.Fprintln(out, "Stop request sent")
	}
	if result.OpenSessions > 0 {
		fmt.Fprintf(out, "Closed %d control session(s)\n", result.OpenSessions)
	}
	if result.ForcedKill && result.PID > 0 {
		fmt.Fprintf(out, "Killed daemon process (pid %d)\n", result.PID)
	}
	fmt.Fprintln(out, "Daemon stopped")
}

func renderStatus(out io.Writer, snapshot *daemonctl.Snapshot, colorize bool) {
	printSection(out, "Daemon", colorize)
	if snapshot.Running {
		fmt.Fprintln(out, renderStatusLine("vtunerd", statusOK, "Running (pid "+strconv.Itoa(snapshot.PID)+")", colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("vtunerd", statusWarn, "Not running (run `vtunerd start`)", colorize))
	}
	if snapshot.JournalPath != "" {
		fmt.Fprintln(out, renderStatusLine("Journal", statusInfo, snapshot.JournalPath, colorize))
	}
	if snapshot.LogPath != "" {
		fmt.Fprintln(out, renderStatusLine("Log", statusInfo, snapshot.LogPath, colorize))
	}
	if snapshot.MetricsAddr != "" {
		fmt.Fprintln(out, renderStatusLine("Metrics", statusOK, "http://"+snapshot.MetricsAddr, colorize))
	}
	fmt.Fprintln(out)

	if len(snapshot.Devices) > 0 {
		printSection(out, "Tuners", colorize)
		fmt.Fprint(out, deviceTable(snapshot.Devices))
		fmt.Fprintln(out)
	}

	printSection(out, "Recent Sessions", colorize)
	if len(snapshot.Sessions) == 0 {
		fmt.Fprintln(out, "No control sessions recorded")
		return
	}
	fmt.Fprint(out, sessionTable(snapshot.Sessions))
}

func deviceTable(devices []registry.Stats) string {
	tbl := tableSpec{
		headers: []string{"Tuner", "Name", "Type", "Frontend", "Sessions", "Exchanges", "Ingested", "Packets", "PIDs"},
		aligns:  []columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft},
	}
	for _, dev := range devices {
		sessions := strconv.Itoa(dev.Sessions)
		if dev.Closing {
			sessions += " (closing)"
		}
		name := dev.Name
		if name == "" {
			name = "-"
		}
		frontend := dev.Frontend
		if frontend == "" {
			frontend = "-"
		}
		tbl.add(
			strconv.Itoa(dev.Index),
			name,
			dev.Type,
			frontend,
			sessions,
			strconv.FormatUint(dev.Exchanges, 10),
			formatBytes(dev.Ingest.AcceptedBytes),
			strconv.FormatUint(dev.Packets, 10),
			formatPIDs(dev.PIDs),
		)
	}
	return tbl.render()
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// newController binds daemonctl to the resolved socket and config. Start
// and restart also need this binary's path to launch `vtunerd daemon`.
func newController(ctx *commandContext, launch bool) (*daemonctl.Controller, error) {
	ctl := daemonctl.New(ctx.socketPath(), ctx.configValue())
	if !launch {
		return ctl, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	ctl.Executable = exe
	if ctx.socketFlag != nil {
		ctl.Launch.SocketPath = strings.TrimSpace(*ctx.socketFlag)
	}
	ctl.Launch.ConfigPath = ctx.configPath()
	if ctx.logLevelFlag != nil {
		ctl.Launch.LogLevel = strings.TrimSpace(*ctx.logLevelFlag)
	}
	return ctl, nil
}
