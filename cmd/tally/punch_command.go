package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tally/internal/ipc"
	"tally/internal/ops"
)

func newPunchCommand(ctx *commandContext) *cobra.Command {
	var worker string
	var direction string
	var site string
	var note string
	var at string
	var priority string

	cmd := &cobra.Command{
		Use:   "punch",
		Short: "Record a clock-in or clock-out and queue it for sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			recordedAt := time.Now().UTC()
			if at != "" {
				parsed, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("parse --at timestamp: %w", err)
				}
				recordedAt = parsed.UTC()
			}

			record := ops.ClockRecord{
				WorkerID:   worker,
				Direction:  direction,
				RecordedAt: recordedAt,
				Site:       site,
				Note:       note,
			}
			payload, err := json.Marshal(record)
			if err != nil {
				return fmt.Errorf("encode clock record: %w", err)
			}

			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Enqueue(ipc.EnqueueRequest{
					Kind:     ops.KindClockRecord,
					Payload:  payload,
					Priority: priority,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued clock-%s for %s (%s)\n", direction, worker, shortID(resp.ID))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&worker, "worker", "w", "", "Worker id (required)")
	cmd.Flags().StringVarP(&direction, "direction", "d", ops.DirectionIn, "Clock direction: in or out")
	cmd.Flags().StringVar(&site, "site", "", "Site or location label")
	cmd.Flags().StringVar(&note, "note", "", "Free-form note attached to the record")
	cmd.Flags().StringVar(&at, "at", "", "Capture time as RFC3339 (defaults to now)")
	cmd.Flags().StringVar(&priority, "priority", "", "Queue priority (defaults to critical for clock records)")
	_ = cmd.MarkFlagRequired("worker")

	return cmd
}
