package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/email-archive/index"
	"github.com/dhcgn/email-archive/model"
)

const partition = "email-message-index-202403"

func openTest(t *testing.T) *Backend {
	t.Helper()
	b, err := Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func sampleDoc(subject, body string) model.Document {
	return model.Document{
		MessageID:      "<1@example.com>",
		Path:           "2024/03/07/1430/1437-a.eml.gz",
		Headers:        []string{"Subject: " + subject},
		From:           []string{"Alice", "alice@example.com"},
		To:             []string{"bob@example.org"},
		Attachments:    []model.AttachmentRef{{Filename: "invoice.pdf", MIMEType: "application/pdf"}},
		HasAttachments: true,
		Subject:        subject,
		Body:           &body,
		Timestamp:      time.Date(2024, 3, 7, 14, 37, 0, 0, time.UTC),
	}
}

func TestUpsertIntoMissingPartition(t *testing.T) {
	b := openTest(t)
	err := b.Upsert(context.Background(), partition, "id", sampleDoc("hi", "there"))
	assert.ErrorIs(t, err, index.ErrPartitionNotFound)
	assert.False(t, index.IsTransient(err))
}

func TestUpsertIsIdempotent(t *testing.T) {
	b := openTest(t)
	ctx := context.Background()

	require.NoError(t, b.CreatePartition(ctx, partition))
	require.NoError(t, b.CreatePartition(ctx, partition))
	require.NoError(t, b.Upsert(ctx, partition, "doc-1", sampleDoc("quarterly report", "numbers attached")))
	require.NoError(t, b.Upsert(ctx, partition, "doc-1", sampleDoc("quarterly report v2", "updated numbers")))

	n, err := b.Count(ctx, partition)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	hits, err := b.Search(ctx, partition, "updated", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc-1", hits[0].DocumentID)
	assert.Equal(t, "quarterly report v2", hits[0].Subject)

	// The replaced row must be gone from the full-text table too.
	hits, err = b.Search(ctx, partition, "attached", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchAddressesAndAttachments(t *testing.T) {
	b, err := Open(filepath.Join(t.TempDir(), "index.db"), nil)
	require.NoError(t, err)
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.CreatePartition(ctx, partition))
	require.NoError(t, b.Upsert(ctx, partition, "doc-1", sampleDoc("hello", "body")))

	for _, q := range []string{`"example.org"`, "alice", "invoice"} {
		hits, err := b.Search(ctx, partition, q, 0)
		require.NoError(t, err, q)
		assert.Len(t, hits, 1, q)
	}
}

func TestNullBodyIsStored(t *testing.T) {
	b := openTest(t)
	ctx := context.Background()
	require.NoError(t, b.CreatePartition(ctx, partition))

	doc := sampleDoc("envelope only", "")
	doc.Body = nil
	require.NoError(t, b.Upsert(ctx, partition, "doc-2", doc))

	hits, err := b.Search(ctx, partition, "envelope", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestRejectsUnsafePartitionNames(t *testing.T) {
	b := openTest(t)
	err := b.CreatePartition(context.Background(), `x"; DROP TABLE y; --`)
	assert.Error(t, err)
}
