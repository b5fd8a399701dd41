package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"vtunerd/internal/ipc"
	"vtunerd/internal/sessionlog"
)

func newSessionsCommand(ctx *commandContext) *cobra.Command {
	var device int
	var limit int
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List journaled control sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Sessions(device, limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(resp.Sessions) == 0 {
					fmt.Fprintln(out, "No control sessions recorded")
					return nil
				}
				fmt.Fprint(out, sessionTable(resp.Sessions))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&device, "device", "d", -1, "Only show sessions of this tuner")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum sessions to list")
	return cmd
}

func sessionTable(records []sessionlog.Record) string {
	tbl := tableSpec{
		headers: []string{"Session", "Tuner", "Type", "Opened", "Duration", "State", "Exchanges", "Ingested", "Peer"},
		aligns:  []columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignRight, alignRight},
	}
	for _, rec := range records {
		id := rec.ID
		if len(id) > 8 {
			id = id[:8]
		}
		system := rec.DeliverySystem
		if system == "" {
			system = "-"
		}
		state := "open"
		duration := time.Since(rec.OpenedAt)
		if !rec.Open() {
			state = rec.CloseReason
			duration = rec.ClosedAt.Sub(rec.OpenedAt)
		}
		peer := "-"
		if rec.PeerPID > 0 {
			peer = strconv.Itoa(int(rec.PeerPID))
		}
		tbl.add(
			id,
			strconv.Itoa(rec.Device),
			system,
			rec.OpenedAt.Local().Format("2006-01-02 15:04:05"),
			duration.Round(time.Second).String(),
			state,
			strconv.FormatUint(rec.Exchanges, 10),
			formatBytes(rec.BytesIngested),
			peer,
		)
	}
	return tbl.render()
}
