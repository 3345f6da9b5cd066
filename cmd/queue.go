package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/email-archive/progress"
)

func newQueueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the index queue",
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show how many messages wait in every priority lane",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := setup(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			q, err := dialQueue(ctx, s.cfg, s.logger)
			if err != nil {
				return err
			}
			defer q.Close()

			lengths, err := q.Lengths(ctx)
			if err != nil {
				return err
			}
			table, err := progress.RenderQueue(q.Name(), lengths)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}

	var interval time.Duration
	monitor := &cobra.Command{
		Use:   "monitor",
		Short: "Refresh the queue status until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := setup(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive")
			}

			ctx, stop := signalContext(cmd)
			defer stop()

			q, err := dialQueue(ctx, s.cfg, s.logger)
			if err != nil {
				return err
			}
			defer q.Close()

			return progress.MonitorQueue(ctx, q.Name(), interval, q.Lengths)
		},
	}
	monitor.Flags().DurationVar(&interval, "interval", 2*time.Second, "Refresh interval")

	cmd.AddCommand(status, monitor)
	return cmd
}
