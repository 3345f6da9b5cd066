package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/email-archive/archive"
	"github.com/dhcgn/email-archive/index/sqlite"
)

const pipedMessage = "Message-Id: <piped@example.com>\r\n" +
	"Date: Thu, 07 Mar 2024 14:37:05 +0000\r\n" +
	"From: Alice <alice@example.com>\r\n" +
	"To: Bob <bob@archive.example>\r\n" +
	"Subject: quarterly numbers\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n\r\n" +
	"see attached\r\n"

type env struct {
	root  string
	mr    *miniredis.Miniredis
	flags []string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	t.Chdir(t.TempDir())
	mr := miniredis.RunT(t)
	root := t.TempDir()
	return &env{
		root: root,
		mr:   mr,
		flags: []string{
			"--archive-root", root,
			"--queue-url", "redis://" + mr.Addr() + "/0",
			"--queue-name", "test",
			"--domains", "archive.example",
			"--log-level", "error",
		},
	}
}

func (e *env) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append(args, e.flags...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *env) archived(t *testing.T) []string {
	t.Helper()
	r, err := archive.NewRoot(e.root)
	require.NoError(t, err)
	var files []string
	require.NoError(t, r.Walk("", func(rel string) error {
		files = append(files, rel)
		return nil
	}))
	return files
}

func (e *env) lane(t *testing.T, key string) []string {
	t.Helper()
	if !e.mr.Exists(key) {
		return nil
	}
	items, err := e.mr.List(key)
	require.NoError(t, err)
	return items
}

func TestArchiveCommand(t *testing.T) {
	e := newEnv(t)

	_, err := e.run(t, pipedMessage, "archive")
	require.NoError(t, err)

	files := e.archived(t)
	require.Len(t, files, 1)
	assert.True(t, strings.HasPrefix(files[0], "2024/03/07/1430/1437-"))
	assert.Equal(t, files, e.lane(t, "test:2"))
}

func TestArchiveCommandIgnoresOtherDomainsAndMissingID(t *testing.T) {
	e := newEnv(t)

	other := strings.ReplaceAll(pipedMessage, "archive.example", "elsewhere.example")
	_, err := e.run(t, other, "archive")
	require.NoError(t, err)

	noID := strings.Replace(pipedMessage, "Message-Id: <piped@example.com>\r\n", "", 1)
	_, err = e.run(t, noID, "archive")
	require.NoError(t, err)

	assert.Empty(t, e.archived(t))
	assert.Empty(t, e.lane(t, "test:2"))
}

func TestArchiveDryRunNeedsNoQueueStore(t *testing.T) {
	e := newEnv(t)
	for i, f := range e.flags {
		if f == "--queue-url" {
			e.flags[i+1] = "redis://127.0.0.1:1/0"
		}
	}

	_, err := e.run(t, pipedMessage, "archive", "--dry-run")
	require.NoError(t, err)
	assert.Empty(t, e.archived(t))

	_, err = e.run(t, pipedMessage, "archive")
	assert.Error(t, err)
}

func TestReindexCommand(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, pipedMessage, "archive")
	require.NoError(t, err)
	_, err = e.run(t, strings.Replace(pipedMessage, "2024", "2023", 1), "archive")
	require.NoError(t, err)

	_, err = e.run(t, "", "reindex")
	require.NoError(t, err)
	assert.Len(t, e.lane(t, "test:3"), 2)

	_, err = e.run(t, "", "reindex", filepath.Join(e.root, "2023"), "--priority", "1")
	require.NoError(t, err)
	high := e.lane(t, "test:1")
	require.Len(t, high, 1)
	assert.True(t, strings.HasPrefix(high[0], "2023/"))

	_, err = e.run(t, "", "reindex", t.TempDir())
	assert.ErrorIs(t, err, archive.ErrOutsideRoot)
}

func TestQueueStatusCommand(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, pipedMessage, "archive")
	require.NoError(t, err)

	out, err := e.run(t, "", "queue", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "test:2")
	assert.Contains(t, out, "normal")
}

func TestIndexCreateAndSearchCommands(t *testing.T) {
	e := newEnv(t)
	db := filepath.Join(t.TempDir(), "index.db")
	e.flags = append(e.flags, "--index-backend", "sqlite", "--index-path", db)

	_, err := e.run(t, "", "index", "create", "202403")
	require.NoError(t, err)

	backend, err := sqlite.Open(db, nil)
	require.NoError(t, err)
	n, err := backend.Count(context.Background(), "email-message-index-202403")
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, backend.Close())

	_, err = e.run(t, "", "search", "numbers", "--partition", "202403")
	require.NoError(t, err)

	_, err = e.run(t, "", "index", "create", "2024-3")
	assert.Error(t, err)
}

func TestSearchRequiresSQLite(t *testing.T) {
	e := newEnv(t)
	e.flags = append(e.flags, "--index-backend", "memory")
	_, err := e.run(t, "", "search", "anything")
	assert.Error(t, err)
}

func TestInspectCommand(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, pipedMessage, "archive")
	require.NoError(t, err)
	files := e.archived(t)
	require.Len(t, files, 1)

	out, err := e.run(t, "", "inspect", files[0])
	require.NoError(t, err)

	var doc struct {
		MessageID string
		Path      string
		Subject   string
		Partition string
	}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "<piped@example.com>", doc.MessageID)
	assert.Equal(t, files[0], doc.Path)
	assert.Equal(t, "quarterly numbers", doc.Subject)
	assert.Equal(t, "email-message-index-202403", doc.Partition)
}
