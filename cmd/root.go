// Package cmd wires the command line interface.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dhcgn/email-archive/config"
)

// NewRootCommand builds the email-archive command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "email-archive",
		Short:         "Archive email messages and keep them full-text searchable",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.RegisterFlags(root)

	root.AddCommand(
		newArchiveCommand(),
		newDaemonCommand(),
		newReindexCommand(),
		newQueueCommand(),
		newImportCommand(),
		newIndexCommand(),
		newSearchCommand(),
		newInspectCommand(),
		newMboxStatsCommand(),
	)
	return root
}

// Execute runs the command tree and returns the process exit code.
func Execute() int {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// session is the resolved configuration and logger of one invocation.
type session struct {
	cfg     config.Config
	logger  *slog.Logger
	cleanup func() error
}

func setup(cmd *cobra.Command) (*session, error) {
	cfg, err := config.LoadConfig(cmd)
	if err != nil {
		return nil, err
	}

	logger, cleanup, err := setupLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}
	slog.SetDefault(logger)
	return &session{cfg: cfg, logger: logger, cleanup: cleanup}, nil
}

func (s *session) Close() {
	_ = s.cleanup()
}

// signalContext ends on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}
