package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dhcgn/email-archive/archive"
	"github.com/dhcgn/email-archive/model"
)

func newReindexCommand() *cobra.Command {
	var priority int
	cmd := &cobra.Command{
		Use:   "reindex [subtree]",
		Short: "Queue every archived message, or those below subtree, for indexing",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := setup(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			cfg, logger := s.cfg, s.logger

			if err := cfg.ValidateArchive(); err != nil {
				return err
			}
			p := model.Priority(priority)
			if !p.Valid() {
				return fmt.Errorf("invalid priority %d", priority)
			}
			root, err := archive.NewRoot(cfg.Archive.Root)
			if err != nil {
				return err
			}
			var subtree string
			if len(args) == 1 {
				subtree = args[0]
			}

			ctx, stop := signalContext(cmd)
			defer stop()

			q, err := dialQueue(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer q.Close()

			queued := 0
			err = root.Walk(subtree, func(rel string) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				if cfg.DryRun {
					logger.Debug("dry run: would queue", "path", rel)
				} else if err := q.Push(ctx, rel, p); err != nil {
					return err
				}
				queued++
				if queued%1000 == 0 {
					logger.Info("Queueing", "queued", queued)
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("reindex after %d messages: %w", queued, err)
			}
			logger.Info("Reindex queued", "messages", queued, "priority", p, "subtree", subtree, "dryRun", cfg.DryRun)
			return nil
		},
	}
	cmd.Flags().IntVar(&priority, "priority", int(model.PriorityLow), "Queue priority (1=high, 2=normal, 3=low)")
	cmd.Flags().Bool("dry-run", false, "Walk the archive without queueing")
	return cmd
}
