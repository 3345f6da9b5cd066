package ingest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/email-archive/archive"
	"github.com/dhcgn/email-archive/config"
	"github.com/dhcgn/email-archive/filter"
	"github.com/dhcgn/email-archive/mbox"
	"github.com/dhcgn/email-archive/model"
	"github.com/dhcgn/email-archive/queue"
	"github.com/dhcgn/email-archive/runner"
	"github.com/dhcgn/email-archive/stats"
)

const archivedMessage = "Message-Id: <1@example.com>\r\n" +
	"Date: Thu, 07 Mar 2024 14:37:05 +0000\r\n" +
	"From: Alice <alice@example.com>\r\n" +
	"To: Bob <bob@archive.example>\r\n" +
	"Subject: hello\r\n\r\nhi\r\n"

func newQueue(t *testing.T) *queue.Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q, err := queue.New(client, queue.Options{Name: "test"})
	require.NoError(t, err)
	return q
}

func newRoot(t *testing.T) archive.Root {
	t.Helper()
	root, err := archive.NewRoot(t.TempDir())
	require.NoError(t, err)
	return root
}

func TestArchiveWritesAndEnqueues(t *testing.T) {
	q := newQueue(t)
	root := newRoot(t)
	a, err := New(Options{Root: root, Queue: q, Domains: filter.NewDomains([]string{"archive.example"})})
	require.NoError(t, err)

	ctx := context.Background()
	res, err := a.Archive(ctx, []byte(archivedMessage))
	require.NoError(t, err)
	assert.Equal(t, "archive.example", res.Domain)
	assert.True(t, strings.HasPrefix(res.Path, "2024/03/07/1430/1437-"), res.Path)

	full, err := root.Resolve(res.Path)
	require.NoError(t, err)
	raw, err := archive.ReadFile(full)
	require.NoError(t, err)
	assert.Equal(t, archivedMessage, string(raw))

	n, err := q.Len(ctx, model.PriorityNormal)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	item, err := q.Pop(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, res.Path, item.Payload)
}

func TestArchiveRequiresDomainMatch(t *testing.T) {
	q := newQueue(t)
	a, err := New(Options{Root: newRoot(t), Queue: q, Domains: filter.NewDomains([]string{"other.example"})})
	require.NoError(t, err)

	_, err = a.Archive(context.Background(), []byte(archivedMessage))
	assert.ErrorIs(t, err, ErrNoDomainMatch)

	total, err := q.TotalLen(context.Background())
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestArchiveWithoutDateUsesCurrentTime(t *testing.T) {
	a, err := New(Options{Root: newRoot(t), Queue: newQueue(t), Priority: model.PriorityHigh})
	require.NoError(t, err)
	a.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

	res, err := a.Archive(context.Background(), []byte("Message-Id: <x@y>\r\nDate: garbage\r\n\r\nbody\r\n"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Path, "2025/01/02/0300/0304-"), res.Path)
}

func TestDryRunWritesNothing(t *testing.T) {
	root := newRoot(t)
	a, err := New(Options{Root: root, DryRun: true})
	require.NoError(t, err)

	res, err := a.Archive(context.Background(), []byte(archivedMessage))
	require.NoError(t, err)
	assert.Empty(t, res.Path)

	var files []string
	require.NoError(t, root.Walk("", func(rel string) error {
		files = append(files, rel)
		return nil
	}))
	assert.Empty(t, files)
}

func TestNewRejectsMissingQueue(t *testing.T) {
	_, err := New(Options{Root: newRoot(t)})
	assert.Error(t, err)

	_, err = New(Options{Root: newRoot(t), Queue: newQueue(t), Priority: model.Priority(9)})
	assert.Error(t, err)
}

const importMbox = "From a@example.com Thu Mar  7 14:37:05 2024\n" +
	"Message-Id: <1@example.com>\n" +
	"Date: Thu, 07 Mar 2024 14:37:05 +0000\n" +
	"Subject: one\n\nfirst\n\n" +
	"From b@example.com Fri Mar  8 10:00:00 2024\n" +
	"Message-Id: <2@example.com>\n" +
	"Date: Fri, 08 Mar 2024 10:00:00 +0000\n" +
	"Subject: two\n\nsecond\n"

func runImport(t *testing.T, cfg config.Config, q *queue.Queue, root archive.Root) stats.Summary {
	t.Helper()
	r, err := runner.New(context.Background(), cfg, stats.StageMbox, nil)
	require.NoError(t, err)

	mbox.NewProducer(mbox.NewStreamReader(strings.NewReader(importMbox), "test.mbox", nil), r)
	a, err := New(Options{Root: root, Queue: q, DryRun: cfg.DryRun})
	require.NoError(t, err)
	a.Stage(r)

	reporter := stats.NewReporter(r, nil)
	require.NoError(t, r.Start())
	return reporter.Summary()
}

func TestImportIsIncremental(t *testing.T) {
	q := newQueue(t)
	root := newRoot(t)
	cfg := config.Default()
	cfg.StateDir = t.TempDir()

	first := runImport(t, cfg, q, root)
	assert.Equal(t, 2, first.Scanned)
	assert.Equal(t, 2, first.Archived)
	assert.Equal(t, 2, first.Enqueued)

	second := runImport(t, cfg, q, root)
	assert.Equal(t, 2, second.Scanned)
	assert.Equal(t, 2, second.Duplicates)
	assert.Zero(t, second.Archived)

	total, err := q.TotalLen(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
}

func TestDryRunImportLeavesStateUntouched(t *testing.T) {
	q := newQueue(t)
	root := newRoot(t)
	cfg := config.Default()
	cfg.StateDir = t.TempDir()
	cfg.DryRun = true

	s := runImport(t, cfg, q, root)
	assert.Equal(t, 2, s.DryRunArchived)
	assert.Zero(t, s.Enqueued)

	cfg.DryRun = false
	s = runImport(t, cfg, q, root)
	assert.Equal(t, 2, s.Archived)
}
