package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gradi/internal/ingest"
	"gradi/internal/logging"
)

func newIngestCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest FILE",
		Short: "Enqueue the uploads described by a storage event notification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read notification: %w", err)
			}
			notification, err := ingest.ParseNotification(data)
			if err != nil {
				return err
			}
			_, topo, err := ctx.openTopology(cmd.Context())
			if err != nil {
				return err
			}
			defer topo.Close()

			sent, err := ingest.Enqueue(cmd.Context(), topo.Input, notification, logging.NewNop())
			fmt.Fprintf(cmd.OutOrStdout(), "Enqueued %d of %d record(s) on %s\n", sent, len(notification.Records), topo.Input.Name())
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipped: %v\n", err)
				if sent == 0 {
					return fmt.Errorf("no records enqueued")
				}
			}
			return nil
		},
	}
}
