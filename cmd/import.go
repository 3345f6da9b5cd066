package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dhcgn/email-archive/archive"
	"github.com/dhcgn/email-archive/config"
	"github.com/dhcgn/email-archive/imap"
	"github.com/dhcgn/email-archive/ingest"
	"github.com/dhcgn/email-archive/mbox"
	"github.com/dhcgn/email-archive/model"
	"github.com/dhcgn/email-archive/progress"
	"github.com/dhcgn/email-archive/queue"
	"github.com/dhcgn/email-archive/runner"
	"github.com/dhcgn/email-archive/stats"
)

func newImportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Bulk import messages into the archive",
	}
	cmd.AddCommand(newImportMboxCommand(), newImportIMAPCommand())
	return cmd
}

func newImportMboxCommand() *cobra.Command {
	var priority int
	cmd := &cobra.Command{
		Use:   "mbox <file>",
		Short: "Import an mbox file (plain or gzip)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := setup(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			reader, err := mbox.NewReader(args[0], s.logger)
			if err != nil {
				return err
			}
			total, err := mbox.CountMessages(args[0])
			if err != nil {
				return fmt.Errorf("count messages: %w", err)
			}

			s.logger.Info("Starting mbox import", "mbox", args[0], "messages", total, "dryRun", s.cfg.DryRun)
			return runImport(cmd, s, stats.StageMbox, model.Priority(priority), total, func(r *runner.Runner) {
				mbox.NewProducer(reader, r)
			})
		},
	}
	registerImportFlags(cmd, &priority)
	return cmd
}

func newImportIMAPCommand() *cobra.Command {
	var priority int
	cmd := &cobra.Command{
		Use:   "imap",
		Short: "Import every message of an IMAP folder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := setup(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			cfg := s.cfg

			if err := cfg.ValidateIMAP(); err != nil {
				return err
			}
			fetcher, err := imap.NewFetcher(imap.Options{
				Host:               cfg.IMAP.Host,
				Port:               cfg.IMAP.Port,
				Username:           cfg.IMAP.Username,
				Password:           cfg.IMAP.Password,
				UseTLS:             cfg.IMAP.UseTLS,
				InsecureSkipVerify: cfg.IMAP.InsecureSkipVerify,
				Folder:             cfg.IMAP.Folder,
			}, s.logger)
			if err != nil {
				return err
			}

			total, err := fetcher.Count(cmd.Context())
			if err != nil {
				s.logger.Warn("Could not count folder messages", "err", err)
			}

			s.logger.Info("Starting IMAP import", "host", cfg.IMAP.Host, "folder", cfg.IMAP.Folder, "dryRun", cfg.DryRun)
			return runImport(cmd, s, stats.StageIMAP, model.Priority(priority), total, func(r *runner.Runner) {
				imap.NewProducer(fetcher, r)
			})
		},
	}
	registerImportFlags(cmd, &priority)
	config.RegisterIMAPFlags(cmd)
	return cmd
}

func registerImportFlags(cmd *cobra.Command, priority *int) {
	config.RegisterImportFlags(cmd)
	cmd.Flags().IntVar(priority, "priority", int(model.PriorityLow), "Queue priority of imported messages (1=high, 2=normal, 3=low)")
}

// runImport wires source -> runner -> archive stage and blocks until the
// import ends.
func runImport(cmd *cobra.Command, s *session, source stats.Stage, priority model.Priority, total int, addSource func(*runner.Runner)) error {
	cfg, logger := s.cfg, s.logger
	if err := cfg.ValidateArchive(); err != nil {
		return err
	}
	root, err := archive.NewRoot(cfg.Archive.Root)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

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
		Priority: priority,
		DryRun:   cfg.DryRun,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	r, err := runner.New(ctx, cfg, source, logger)
	if err != nil {
		return fmt.Errorf("runner.New: %w", err)
	}

	bar := progress.New(total, r.Tracker().Snapshot().Processed, cfg.LogLevel)
	progress.NewReporter(r, bar, quietLogger(bar, logger))

	addSource(r)
	archiver.Stage(r)

	return r.Start()
}

// enqueuer avoids handing a typed nil queue to the archiver in dry runs.
func enqueuer(q *queue.Queue) ingest.Enqueuer {
	if q == nil {
		return nil
	}
	return q
}

// quietLogger keeps info logs from tearing the progress bar apart.
func quietLogger(bar *progress.Bar, logger *slog.Logger) *slog.Logger {
	if bar.Enabled() {
		return slog.New(slog.DiscardHandler)
	}
	return logger
}
