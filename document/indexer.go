package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dhcgn/email-archive/index"
	"github.com/dhcgn/email-archive/model"
	"github.com/dhcgn/email-archive/retry"
)

// Indexer writes documents to a backend, creating missing partitions on the
// way.
type Indexer struct {
	backend index.Backend
	policy  retry.Policy
	logger  *slog.Logger
}

// NewIndexer retries transient backend errors under policy. A zero policy
// gets the default of three attempts.
func NewIndexer(backend index.Backend, policy retry.Policy, logger *slog.Logger) *Indexer {
	if policy.MaxAttempts == 0 {
		policy = retry.Default(index.IsTransient)
	}
	if policy.Retryable == nil {
		policy.Retryable = index.IsTransient
	}
	return &Indexer{backend: backend, policy: policy, logger: logger}
}

// Index upserts doc. If its partition does not exist yet, the partition is
// created once and the upsert repeated once.
func (i *Indexer) Index(ctx context.Context, doc model.Document) (retry.Outcome, error) {
	return i.policy.Do(ctx, func(ctx context.Context) error {
		return i.upsert(ctx, doc)
	})
}

func (i *Indexer) upsert(ctx context.Context, doc model.Document) error {
	err := i.backend.Upsert(ctx, doc.Partition, doc.ID, doc)
	if !errors.Is(err, index.ErrPartitionNotFound) {
		return err
	}

	if i.logger != nil {
		i.logger.Info("Creating index partition", "partition", doc.Partition)
	}
	if err := i.backend.CreatePartition(ctx, doc.Partition); err != nil {
		return fmt.Errorf("create partition %s: %w", doc.Partition, err)
	}
	return i.backend.Upsert(ctx, doc.Partition, doc.ID, doc)
}
