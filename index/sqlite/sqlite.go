// Package sqlite is an index backend on SQLite FTS5. Every partition is a
// plain table holding the document plus an external-content FTS5 table over
// subject, body, address tokens and attachment names.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dhcgn/email-archive/index"
	"github.com/dhcgn/email-archive/model"
)

var partitionRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

type Backend struct {
	db     *sql.DB
	logger *slog.Logger
}

// Hit is one search result.
type Hit struct {
	DocumentID string
	MessageID  string
	Path       string
	Subject    string
	Timestamp  time.Time
	Rank       float64
}

// Open opens or creates the database at path. ":memory:" is accepted and
// pinned to a single connection.
func Open(path string, logger *slog.Logger) (*Backend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", p, err)
		}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}

	if logger != nil {
		logger.Debug("SQLite index opened", "path", path)
	}
	return &Backend{db: db, logger: logger}, nil
}

func (b *Backend) Close() error {
	return b.db.Close()
}

func (b *Backend) CreatePartition(ctx context.Context, partition string) error {
	table, err := tableName(partition)
	if err != nil {
		return err
	}
	if _, err := b.db.ExecContext(ctx, render(partitionSchema, table)); err != nil {
		return classify(fmt.Errorf("create partition %s: %w", partition, err))
	}
	if b.logger != nil {
		b.logger.Info("Index partition created", "partition", partition)
	}
	return nil
}

func (b *Backend) Upsert(ctx context.Context, partition, id string, doc model.Document) error {
	table, err := tableName(partition)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(doc.Attachments))
	for _, a := range doc.Attachments {
		names = append(names, a.Filename)
	}
	tokens := index.AddressTokens(doc.From, doc.To, doc.CC, doc.BCC)

	var body any
	if doc.Body != nil {
		body = *doc.Body
	}

	_, err = b.db.ExecContext(ctx, render(upsertSQL, table),
		id,
		doc.MessageID,
		doc.Path,
		jsonList(doc.Headers),
		jsonList(doc.From),
		jsonList(doc.To),
		jsonList(doc.CC),
		jsonList(doc.BCC),
		strings.Join(tokens, " "),
		jsonList(doc.Attachments),
		strings.Join(names, " "),
		doc.HasAttachments,
		doc.Subject,
		body,
		doc.Timestamp.UTC().Unix(),
	)
	if err != nil {
		return classify(fmt.Errorf("upsert %s into %s: %w", id, partition, err))
	}
	return nil
}

// Search runs an FTS5 MATCH query against one partition, best matches first.
func (b *Backend) Search(ctx context.Context, partition, query string, limit int) ([]Hit, error) {
	table, err := tableName(partition)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := b.db.QueryContext(ctx, render(searchSQL, table), query, limit)
	if err != nil {
		return nil, classify(fmt.Errorf("search %s: %w", partition, err))
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			h  Hit
			ts int64
		)
		if err := rows.Scan(&h.DocumentID, &h.MessageID, &h.Path, &h.Subject, &ts, &h.Rank); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		h.Timestamp = time.Unix(ts, 0).UTC()
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// Count returns the number of documents stored in partition.
func (b *Backend) Count(ctx context.Context, partition string) (int, error) {
	table, err := tableName(partition)
	if err != nil {
		return 0, err
	}
	var n int
	if err := b.db.QueryRowContext(ctx, render(`SELECT COUNT(*) FROM "{{T}}"`, table)).Scan(&n); err != nil {
		return 0, classify(fmt.Errorf("count %s: %w", partition, err))
	}
	return n, nil
}

func tableName(partition string) (string, error) {
	if !partitionRe.MatchString(partition) {
		return "", fmt.Errorf("invalid partition name %q", partition)
	}
	return strings.ReplaceAll(partition, "-", "_"), nil
}

func jsonList(v any) string {
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return "[]"
	}
	return string(data)
}

// classify maps driver errors onto the index error vocabulary.
func classify(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "no such table"):
		return fmt.Errorf("%w: %w", index.ErrPartitionNotFound, err)
	case strings.Contains(msg, "SQLITE_BUSY"),
		strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "database table is locked"):
		return index.Transient(err)
	default:
		return err
	}
}
