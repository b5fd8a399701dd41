package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"vtunerd/internal/config"
	"vtunerd/internal/logging"
	"vtunerd/internal/relay"
)

func newRelayCommand(ctx *commandContext) *cobra.Command {
	var opts relay.Options
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run a simulated control process on a tuner",
		Long: "Opens a control session, answers every forwarded request from a simulated\n" +
			"frontend that locks on any tune, and optionally pushes a TS file back.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if opts.TSFile != "" {
				if opts.TSFile, err = config.ExpandPath(opts.TSFile); err != nil {
					return err
				}
				if _, err := os.Stat(opts.TSFile); err != nil {
					return fmt.Errorf("ts file: %w", err)
				}
			}
			logger, err := logging.New(logging.Options{
				Level:       ctx.resolvedLogLevel(cfg),
				Format:      cfg.Logging.Format,
				OutputPaths: []string{"stdout"},
			})
			if err != nil {
				return fmt.Errorf("init relay logger: %w", err)
			}

			client, err := ctx.dialClient()
			if err != nil {
				return err
			}
			defer client.Close()

			runCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			r := relay.New(client, opts, logger)
			if err := r.Run(runCtx); err != nil {
				return err
			}
			state := r.Tuner().State()
			fmt.Fprintf(cmd.OutOrStdout(), "Relay finished: %d requests answered, %d PID lists received\n",
				state.Answered, state.PIDLists)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.IntVarP(&opts.Device, "device", "d", 0, "Tuner index")
	flags.StringVarP(&opts.Type, "type", "t", "", "Delivery system to configure (DVB-S, DVB-S2, DVB-T, DVB-C)")
	flags.StringVar(&opts.Name, "name", "", "Display name for the tuner")
	flags.StringVar(&opts.TSFile, "ts-file", "", "Transport stream file pushed to the tuner")
	flags.BoolVar(&opts.Loop, "loop", false, "Rewind the TS file at end of file")
	flags.IntVar(&opts.ChunkPackets, "chunk", 348, "Packets per TS write")
	flags.DurationVar(&opts.Interval, "interval", 0, "Pause between TS writes")
	flags.DurationVar(&opts.Poll, "poll", 500*time.Millisecond, "Maximum wait per message poll")
	return cmd
}
