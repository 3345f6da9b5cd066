// Package memory is an in-process index backend. It backs dry runs of the
// daemon and stands in for a real backend in tests.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/dhcgn/email-archive/index"
	"github.com/dhcgn/email-archive/model"
)

type Backend struct {
	mu         sync.Mutex
	partitions map[string]map[string]model.Document
	logger     *slog.Logger
}

func New(logger *slog.Logger) *Backend {
	return &Backend{
		partitions: make(map[string]map[string]model.Document),
		logger:     logger,
	}
}

func (b *Backend) Upsert(_ context.Context, partition, id string, doc model.Document) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	docs, ok := b.partitions[partition]
	if !ok {
		return fmt.Errorf("%w: %s", index.ErrPartitionNotFound, partition)
	}
	docs[id] = doc
	if b.logger != nil {
		b.logger.Debug("Document stored in memory", "partition", partition, "id", id, "path", doc.Path)
	}
	return nil
}

func (b *Backend) CreatePartition(_ context.Context, partition string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.partitions[partition]; !ok {
		b.partitions[partition] = make(map[string]model.Document)
	}
	return nil
}

func (b *Backend) Close() error { return nil }

// Get returns a stored document.
func (b *Backend) Get(partition, id string) (model.Document, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	doc, ok := b.partitions[partition][id]
	return doc, ok
}

// Count returns the number of documents in partition.
func (b *Backend) Count(partition string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.partitions[partition])
}

// Partitions lists created partitions in name order.
func (b *Backend) Partitions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.partitions))
	for name := range b.partitions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
