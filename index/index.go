// Package index defines the contract between the document builder and the
// full-text backends, and the fixed schema every monthly partition uses.
package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dhcgn/email-archive/model"
)

var (
	// ErrPartitionNotFound is returned by Upsert when the target partition
	// has not been created yet.
	ErrPartitionNotFound = errors.New("index partition not found")
	ErrTransient         = errors.New("transient index error")
)

const PartitionPrefix = "email-message-index-"

// Backend stores documents in monthly partitions.
type Backend interface {
	// Upsert inserts or replaces the document stored under id.
	Upsert(ctx context.Context, partition, id string, doc model.Document) error
	// CreatePartition creates partition with the fixed schema. Creating a
	// partition that already exists is not an error.
	CreatePartition(ctx context.Context, partition string) error
	Close() error
}

// PartitionName returns the partition holding messages dated t, by UTC month.
func PartitionName(t time.Time) string {
	return PartitionPrefix + t.UTC().Format("200601")
}

// ParsePartition accepts either a full partition name or a bare YYYYMM month.
func ParsePartition(s string) (string, error) {
	month := s
	if len(s) > len(PartitionPrefix) && s[:len(PartitionPrefix)] == PartitionPrefix {
		month = s[len(PartitionPrefix):]
	}
	t, err := time.Parse("200601", month)
	if err != nil || len(month) != 6 {
		return "", fmt.Errorf("invalid partition %q, want YYYYMM", s)
	}
	return PartitionName(t), nil
}

// Transient marks err as worth retrying.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
