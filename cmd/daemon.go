package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dhcgn/email-archive/archive"
	"github.com/dhcgn/email-archive/config"
	"github.com/dhcgn/email-archive/daemon"
	"github.com/dhcgn/email-archive/decoder"
	"github.com/dhcgn/email-archive/document"
	"github.com/dhcgn/email-archive/retry"
)

func newDaemonCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Drain the index queue and index every archived message",
		Args:  cobra.NoArgs,
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
			if err := cfg.ValidateIndex(); err != nil {
				return err
			}
			root, err := archive.NewRoot(cfg.Archive.Root)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd)
			defer stop()

			backend, err := openBackend(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer backend.Close()

			pipeline := &daemon.Pipeline{
				Root:    root,
				Builder: document.NewBuilder(decoder.New(logger), logger),
				Indexer: document.NewIndexer(backend, retry.Policy{}, logger),
			}
			connect := func(ctx context.Context) (daemon.Conn, error) {
				q, err := dialQueue(ctx, cfg, logger)
				if err != nil {
					return nil, err
				}
				return q, nil
			}

			backendName := cfg.Index.Backend
			if cfg.DryRun {
				backendName = config.BackendMemory
			}
			logger.Info("Starting index daemon",
				"archive", root.Dir(),
				"queue", cfg.Queue.Name,
				"priorities", cfg.Daemon.Priorities,
				"backend", backendName)

			d := daemon.New(connect, pipeline, daemon.Options{
				PopTimeout:        cfg.Daemon.PopTimeout,
				IdleInterval:      cfg.Daemon.IdleInterval,
				ReconnectInterval: cfg.Daemon.ReconnectInterval,
				StatsInterval:     cfg.Daemon.StatsInterval,
				Logger:            logger,
			})
			return d.Run(ctx)
		},
	}
	config.RegisterDaemonFlags(cmd)
	return cmd
}
