package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dhcgn/email-archive/archive"
	"github.com/dhcgn/email-archive/filter"
	"github.com/dhcgn/email-archive/ingest"
	"github.com/dhcgn/email-archive/model"
	"github.com/dhcgn/email-archive/queue"
)

func newArchiveCommand() *cobra.Command {
	var priority int
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Archive one message read from stdin (MTA pipe delivery)",
		Long: "Reads a single message from stdin. When any To, From, Cc or Bcc address\n" +
			"contains an archived domain the message is stored under the archive root\n" +
			"and queued for indexing. Messages without Message-Id are ignored.",
		Args: cobra.NoArgs,
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
			if len(cfg.Archive.Domains) == 0 {
				return fmt.Errorf("no archived domains configured (--domains)")
			}

			raw, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read message: %w", err)
			}
			msg, err := model.ParseMessage(raw, "stdin")
			if err != nil {
				return fmt.Errorf("parse message: %w", err)
			}
			if msg.ID == "" {
				logger.Debug("No Message-Id, not archiving")
				return nil
			}

			root, err := archive.NewRoot(cfg.Archive.Root)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			var q *queue.Queue
			if !cfg.DryRun {
				q, err = dialQueue(ctx, cfg, logger)
				if err != nil {
					return err
				}
				defer q.Close()
			}

			archiver, err := ingest.New(ingest.Options{
				Root:     root,
				Queue:    enqueuer(q),
				Priority: model.Priority(priority),
				Domains:  filter.NewDomains(cfg.Archive.Domains),
				DryRun:   cfg.DryRun,
				Logger:   logger,
			})
			if err != nil {
				return err
			}

			res, err := archiver.Archive(ctx, raw)
			if errors.Is(err, ingest.ErrNoDomainMatch) {
				logger.Debug("No archived domain, not archiving", "messageId", msg.ID)
				return nil
			}
			if err != nil {
				return err
			}
			logger.Info("Archived", "messageId", msg.ID, "path", res.Path, "domain", res.Domain)
			return nil
		},
	}
	cmd.Flags().IntVar(&priority, "priority", int(model.PriorityNormal), "Queue priority (1=high, 2=normal, 3=low)")
	cmd.Flags().Bool("dry-run", false, "Check the domains without writing or queueing")
	return cmd
}
