package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dhcgn/email-archive/config"
	"github.com/dhcgn/email-archive/index"
	"github.com/dhcgn/email-archive/index/elastic"
	"github.com/dhcgn/email-archive/index/memory"
	"github.com/dhcgn/email-archive/index/sqlite"
	"github.com/dhcgn/email-archive/queue"
)

// openBackend opens the configured index backend. A dry run always indexes
// into memory.
func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (index.Backend, error) {
	backend := cfg.Index.Backend
	if cfg.DryRun {
		backend = config.BackendMemory
	}

	switch backend {
	case config.BackendElastic:
		b, err := elastic.New(elastic.Options{
			Addresses:          cfg.Index.Nodes,
			Username:           cfg.Index.Username,
			Password:           cfg.Index.Password,
			InsecureSkipVerify: cfg.Index.InsecureSkipVerify,
			Logger:             logger,
		})
		if err != nil {
			return nil, err
		}
		if err := b.Ping(ctx); err != nil {
			// the daemon retries transient backend errors per message
			logger.Warn("Elasticsearch not reachable yet", "urls", cfg.Index.Nodes, "err", err)
		}
		return b, nil
	case config.BackendSQLite:
		return sqlite.Open(cfg.Index.Path, logger)
	case config.BackendMemory:
		return memory.New(logger), nil
	}
	return nil, fmt.Errorf("unknown index backend %q", backend)
}

func dialQueue(ctx context.Context, cfg config.Config, logger *slog.Logger) (*queue.Queue, error) {
	return queue.Dial(ctx, cfg.Queue.URL, queue.Options{
		Name:       cfg.Queue.Name,
		Priorities: cfg.Daemon.Priorities,
		Logger:     logger,
	})
}
