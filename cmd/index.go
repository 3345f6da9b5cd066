package cmd

import (
	"github.com/spf13/cobra"

	"github.com/dhcgn/email-archive/index"
)

func newIndexCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Manage index partitions",
	}

	create := &cobra.Command{
		Use:   "create <YYYYMM>",
		Short: "Create the partition for one month ahead of time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := setup(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.cfg.ValidateIndex(); err != nil {
				return err
			}
			partition, err := index.ParsePartition(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			backend, err := openBackend(ctx, s.cfg, s.logger)
			if err != nil {
				return err
			}
			defer backend.Close()

			if err := backend.CreatePartition(ctx, partition); err != nil {
				return err
			}
			s.logger.Info("Partition ready", "partition", partition, "backend", s.cfg.Index.Backend)
			return nil
		},
	}

	cmd.AddCommand(create)
	return cmd
}
