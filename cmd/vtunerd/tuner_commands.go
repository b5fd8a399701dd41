package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"vtunerd/internal/dvbapi"
	"vtunerd/internal/frontend"
	"vtunerd/internal/ipc"
)

type tunerFlags struct {
	device  int
	timeout time.Duration
}

func (f *tunerFlags) bind(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&f.device, "device", "d", 0, "Tuner index")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 10*time.Second, "How long to wait for the control process to answer")
}

func (f *tunerFlags) target() ipc.TunerRequest {
	return ipc.TunerRequest{Device: f.device, TimeoutMillis: int(f.timeout / time.Millisecond)}
}

type tuneOptions struct {
	tunerFlags
	frequency  uint32
	symbolRate uint32
	fec        string
	modulation string
	s2         bool
	rolloff    string
	pilot      string
	bandwidth  string
	inversion  string
	tone       string
	voltage    string
	diseqc     string
	waitLock   time.Duration
}

func newTuneCommand(ctx *commandContext) *cobra.Command {
	var opts tuneOptions
	cmd := &cobra.Command{
		Use:   "tune",
		Short: "Tune a virtual tuner as the DVB stack would",
		Long: "Sends LNB setup and a tuning request through the proxy frontend. The parameter\n" +
			"variant is picked from the tuner's configured delivery system.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				target := opts.target()
				info, err := client.Info(target)
				if err != nil {
					return err
				}
				params, err := opts.params(info.System)
				if err != nil {
					return err
				}

				if info.System.Satellite() {
					if err := opts.sendLNBSetup(client, target); err != nil {
						return err
					}
				}
				if err := client.SetFrontend(target, params); err != nil {
					return fmt.Errorf("tune: %w", err)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Tuner %d (%s) tuned to %d\n", opts.device, info.System, params.Frequency)

				if opts.waitLock <= 0 {
					return nil
				}
				deadline := time.Now().Add(opts.waitLock)
				for {
					signal, err := client.ReadSignal(target)
					if err != nil {
						return err
					}
					if signal.Locked {
						fmt.Fprintf(out, "Locked: %s\n", signal.Status)
						return nil
					}
					if time.Now().After(deadline) {
						return fmt.Errorf("no lock within %s (status %s)", opts.waitLock, signal.Status)
					}
					time.Sleep(200 * time.Millisecond)
				}
			})
		},
	}
	opts.bind(cmd)
	flags := cmd.Flags()
	flags.Uint32VarP(&opts.frequency, "frequency", "f", 0, "Frequency (kHz for satellite, Hz otherwise)")
	flags.Uint32Var(&opts.symbolRate, "symbol-rate", 0, "Symbol rate in symbols per second")
	flags.StringVar(&opts.fec, "fec", "auto", "Inner code rate (1/2, 2/3, 3/4, ..., auto)")
	flags.StringVar(&opts.modulation, "modulation", "", "Modulation (qpsk, 8psk, qam64, ...)")
	flags.BoolVar(&opts.s2, "s2", false, "Use DVB-S2 signalling on a DVB-S2 tuner")
	flags.StringVar(&opts.rolloff, "rolloff", "auto", "DVB-S2 roll-off (0.35, 0.25, 0.20, auto)")
	flags.StringVar(&opts.pilot, "pilot", "auto", "DVB-S2 pilot (on, off, auto)")
	flags.StringVar(&opts.bandwidth, "bandwidth", "auto", "DVB-T bandwidth (8, 7, 6, auto)")
	flags.StringVar(&opts.inversion, "inversion", "auto", "Spectral inversion (on, off, auto)")
	flags.StringVar(&opts.tone, "tone", "", "22kHz tone before tuning (on, off)")
	flags.StringVar(&opts.voltage, "voltage", "", "LNB voltage before tuning (13, 18, off)")
	flags.StringVar(&opts.diseqc, "diseqc", "", "Hex DiSEqC master command sent before tuning")
	flags.DurationVar(&opts.waitLock, "wait-lock", 0, "Poll the signal until locked or this long has passed")
	return cmd
}

func (o *tuneOptions) params(system frontend.DeliverySystem) (frontend.Params, error) {
	if o.frequency == 0 {
		return frontend.Params{}, errors.New("--frequency is required")
	}
	inversion, err := parseInversion(o.inversion)
	if err != nil {
		return frontend.Params{}, err
	}
	fec, ok := dvbapi.ParseCodeRate(o.fec)
	if !ok {
		return frontend.Params{}, fmt.Errorf("unknown code rate %q", o.fec)
	}
	var modulation dvbapi.Modulation
	if o.modulation != "" {
		if modulation, ok = dvbapi.ParseModulation(o.modulation); !ok {
			return frontend.Params{}, fmt.Errorf("unknown modulation %q", o.modulation)
		}
	}

	p := frontend.Params{Frequency: o.frequency, Inversion: inversion}
	switch system {
	case frontend.Satellite, frontend.Satellite2:
		sat := &frontend.SatelliteParams{SymbolRate: o.symbolRate, FEC: fec, Modulation: modulation}
		if o.s2 {
			if system != frontend.Satellite2 {
				return frontend.Params{}, errors.New("--s2 needs a DVB-S2 tuner")
			}
			sat.S2 = true
			if o.modulation == "" {
				sat.Modulation = dvbapi.PSK8
			}
			if sat.Rolloff, err = parseRolloff(o.rolloff); err != nil {
				return frontend.Params{}, err
			}
			if sat.Pilot, err = parsePilot(o.pilot); err != nil {
				return frontend.Params{}, err
			}
		}
		p.Satellite = sat
	case frontend.Cable:
		if o.modulation == "" {
			modulation = dvbapi.QAMAuto
		}
		p.Cable = &frontend.CableParams{SymbolRate: o.symbolRate, FEC: fec, Modulation: modulation}
	case frontend.Terrestrial:
		bandwidth, err := parseBandwidth(o.bandwidth)
		if err != nil {
			return frontend.Params{}, err
		}
		if o.modulation == "" {
			modulation = dvbapi.QAMAuto
		}
		p.Terrestrial = &frontend.TerrestrialParams{
			Bandwidth:        bandwidth,
			CodeRateHP:       fec,
			CodeRateLP:       dvbapi.FECAuto,
			Constellation:    modulation,
			TransmissionMode: dvbapi.TransmissionModeAuto,
			GuardInterval:    dvbapi.GuardIntervalAuto,
			Hierarchy:        dvbapi.HierarchyAuto,
		}
	default:
		return frontend.Params{}, fmt.Errorf("tuner has no delivery system; a control process must set one")
	}
	return p, nil
}

func (o *tuneOptions) sendLNBSetup(client *ipc.Client, target ipc.TunerRequest) error {
	if o.voltage != "" {
		voltage, err := parseVoltage(o.voltage)
		if err != nil {
			return err
		}
		if err := client.SetVoltage(target, voltage); err != nil {
			return fmt.Errorf("set voltage: %w", err)
		}
	}
	if o.diseqc != "" {
		raw, err := hex.DecodeString(strings.ReplaceAll(o.diseqc, " ", ""))
		if err != nil {
			return fmt.Errorf("parse --diseqc: %w", err)
		}
		if err := client.SendDiSEqC(target, raw); err != nil {
			return fmt.Errorf("send diseqc: %w", err)
		}
	}
	if o.tone != "" {
		tone, err := parseTone(o.tone)
		if err != nil {
			return err
		}
		if err := client.SetTone(target, tone); err != nil {
			return fmt.Errorf("set tone: %w", err)
		}
	}
	return nil
}

func newSignalCommand(ctx *commandContext) *cobra.Command {
	var flags tunerFlags
	var count int
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "signal",
		Short: "Read lock status and signal quality",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				for i := 0; count <= 0 || i < count; i++ {
					if i > 0 {
						select {
						case <-cmd.Context().Done():
							return cmd.Context().Err()
						case <-time.After(interval):
						}
					}
					signal, err := client.ReadSignal(flags.target())
					if err != nil {
						return err
					}
					fmt.Fprintln(out, renderStatusLine("Status", lockKind(signal.Status), signal.Status.String(), colorize))
					fmt.Fprintf(out, "%s%-*s %s (%#04x)\n", statusIndent, statusLabelWidth, "Strength:", percent(signal.SignalStrength), signal.SignalStrength)
					fmt.Fprintf(out, "%s%-*s %s (%#04x)\n", statusIndent, statusLabelWidth, "SNR:", percent(signal.SNR), signal.SNR)
					fmt.Fprintf(out, "%s%-*s %d\n", statusIndent, statusLabelWidth, "BER:", signal.BER)
					fmt.Fprintf(out, "%s%-*s %d\n", statusIndent, statusLabelWidth, "Uncorrected:", signal.UCBlocks)
				}
				return nil
			})
		},
	}
	flags.bind(cmd)
	cmd.Flags().IntVar(&count, "count", 1, "Number of readings (0 repeats until interrupted)")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Time between readings")
	return cmd
}

func newFeedCommand(ctx *commandContext) *cobra.Command {
	feedCmd := &cobra.Command{
		Use:   "feed",
		Short: "Start or stop demux feeds",
	}

	var startFlags tunerFlags
	var kind string
	startCmd := &cobra.Command{
		Use:   "start <pid>",
		Short: "Start a TS or section feed for a PID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := parsePID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				pids, err := client.StartFeed(startFlags.target(), pid, kind)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Tracked PIDs: %s\n", formatPIDs(pids))
				return nil
			})
		},
	}
	startFlags.bind(startCmd)
	startCmd.Flags().StringVar(&kind, "kind", "ts", "Feed type (ts, section)")

	var stopFlags tunerFlags
	stopCmd := &cobra.Command{
		Use:   "stop <pid>",
		Short: "Stop the feed for a PID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := parsePID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				pids, err := client.StopFeed(stopFlags.target(), pid)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Tracked PIDs: %s\n", formatPIDs(pids))
				return nil
			})
		},
	}
	stopFlags.bind(stopCmd)

	feedCmd.AddCommand(startCmd, stopCmd)
	return feedCmd
}

func parsePID(value string) (uint16, error) {
	pid, err := strconv.ParseUint(strings.TrimSpace(value), 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid pid %q: %w", value, err)
	}
	if pid > 0x1FFF {
		return 0, fmt.Errorf("pid %q out of range (max 0x1fff)", value)
	}
	return uint16(pid), nil
}

func parseInversion(value string) (dvbapi.Inversion, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "off":
		return dvbapi.InversionOff, nil
	case "on":
		return dvbapi.InversionOn, nil
	case "", "auto":
		return dvbapi.InversionAuto, nil
	}
	return 0, fmt.Errorf("unknown inversion %q", value)
}

func parseRolloff(value string) (dvbapi.Rolloff, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "0.35", "35":
		return dvbapi.Rolloff35, nil
	case "0.25", "25":
		return dvbapi.Rolloff25, nil
	case "0.20", "0.2", "20":
		return dvbapi.Rolloff20, nil
	case "", "auto":
		return dvbapi.RolloffAuto, nil
	}
	return 0, fmt.Errorf("unknown roll-off %q", value)
}

func parsePilot(value string) (dvbapi.Pilot, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on":
		return dvbapi.PilotOn, nil
	case "off":
		return dvbapi.PilotOff, nil
	case "", "auto":
		return dvbapi.PilotAuto, nil
	}
	return 0, fmt.Errorf("unknown pilot %q", value)
}

func parseBandwidth(value string) (dvbapi.Bandwidth, error) {
	switch strings.ToLower(strings.TrimSuffix(strings.TrimSpace(value), "mhz")) {
	case "8":
		return dvbapi.Bandwidth8MHz, nil
	case "7":
		return dvbapi.Bandwidth7MHz, nil
	case "6":
		return dvbapi.Bandwidth6MHz, nil
	case "", "auto":
		return dvbapi.BandwidthAuto, nil
	}
	return 0, fmt.Errorf("unknown bandwidth %q", value)
}

func parseTone(value string) (dvbapi.Tone, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on":
		return dvbapi.ToneOn, nil
	case "off":
		return dvbapi.ToneOff, nil
	}
	return 0, fmt.Errorf("unknown tone %q", value)
}

func parseVoltage(value string) (dvbapi.Voltage, error) {
	switch strings.ToLower(strings.TrimSuffix(strings.TrimSpace(value), "v")) {
	case "13":
		return dvbapi.Voltage13, nil
	case "18":
		return dvbapi.Voltage18, nil
	case "off":
		return dvbapi.VoltageOff, nil
	}
	return 0, fmt.Errorf("unknown voltage %q", value)
}
