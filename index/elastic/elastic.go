// Package elastic is an index backend on Elasticsearch 8. Partitions are
// indices; documents are written with their document id so re-indexing the
// same message replaces it.
//
// The cluster should run with action.auto_create_index disabled for the
// partition prefix, otherwise the first write creates an index with dynamic
// mappings instead of the fixed schema.
package elastic

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/dhcgn/email-archive/index"
	"github.com/dhcgn/email-archive/model"
)

type Options struct {
	Addresses          []string
	Username           string
	Password           string
	InsecureSkipVerify bool
	Logger             *slog.Logger
}

type Backend struct {
	es     *elasticsearch.Client
	logger *slog.Logger
}

// document is the wire form. Attachments are sent as [filename, type] pairs
// so both values land in the attachments text field.
type document struct {
	MessageID      string     `json:"message_id"`
	Path           string     `json:"path"`
	Headers        []string   `json:"headers"`
	From           []string   `json:"from_addr"`
	To             []string   `json:"to_addr"`
	CC             []string   `json:"cc_addr"`
	BCC            []string   `json:"bcc_addr"`
	Attachments    [][]string `json:"attachments"`
	HasAttachments bool       `json:"has_attachments"`
	Subject        string     `json:"subject"`
	Body           *string    `json:"body"`
	Timestamp      string     `json:"@timestamp"`
}

type errorReply struct {
	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
	Status int `json:"status"`
}

func New(opts Options) (*Backend, error) {
	cfg := elasticsearch.Config{
		Addresses: opts.Addresses,
		Username:  opts.Username,
		Password:  opts.Password,
	}
	if opts.InsecureSkipVerify {
		cfg.Transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	}
	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return &Backend{es: es, logger: opts.Logger}, nil
}

func (b *Backend) Close() error { return nil }

func (b *Backend) Upsert(ctx context.Context, partition, id string, doc model.Document) error {
	body, err := json.Marshal(toWire(doc))
	if err != nil {
		return fmt.Errorf("encode document %s: %w", id, err)
	}

	res, err := b.es.Index(partition, bytes.NewReader(body),
		b.es.Index.WithDocumentID(id),
		b.es.Index.WithContext(ctx),
	)
	if err != nil {
		return index.Transient(fmt.Errorf("index %s/%s: %w", partition, id, err))
	}
	defer res.Body.Close()

	if err := replyError(res); err != nil {
		return fmt.Errorf("index %s/%s: %w", partition, id, err)
	}
	if b.logger != nil {
		b.logger.Debug("Document indexed", "partition", partition, "id", id, "status", res.StatusCode)
	}
	return nil
}

func (b *Backend) CreatePartition(ctx context.Context, partition string) error {
	res, err := b.es.Indices.Create(partition,
		b.es.Indices.Create.WithBody(bytes.NewReader(index.Mapping)),
		b.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return index.Transient(fmt.Errorf("create index %s: %w", partition, err))
	}
	defer res.Body.Close()

	err = replyError(res)
	if errType(err) == "resource_already_exists_exception" {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create index %s: %w", partition, err)
	}
	if b.logger != nil {
		b.logger.Info("Index partition created", "partition", partition)
	}
	return nil
}

// Ping checks that the cluster answers.
func (b *Backend) Ping(ctx context.Context) error {
	res, err := b.es.Info(b.es.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch info: %w", err)
	}
	defer res.Body.Close()
	return replyError(res)
}

type replyErr struct {
	status int
	kind   string
	reason string
}

func (e *replyErr) Error() string {
	if e.kind == "" {
		return fmt.Sprintf("elasticsearch status %d", e.status)
	}
	return fmt.Sprintf("elasticsearch status %d: %s: %s", e.status, e.kind, e.reason)
}

func errType(err error) string {
	if e, ok := err.(*replyErr); ok {
		return e.kind
	}
	return ""
}

// replyError decodes an error response and maps it onto the index error
// vocabulary. It returns nil for successful responses.
func replyError(res *esapi.Response) error {
	if !res.IsError() {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	var reply errorReply
	_ = json.Unmarshal(data, &reply)

	err := &replyErr{status: res.StatusCode, kind: reply.Error.Type, reason: reply.Error.Reason}
	switch {
	case reply.Error.Type == "index_not_found_exception":
		return fmt.Errorf("%w: %w", index.ErrPartitionNotFound, err)
	case res.StatusCode == http.StatusTooManyRequests,
		res.StatusCode == http.StatusBadGateway,
		res.StatusCode == http.StatusServiceUnavailable,
		res.StatusCode == http.StatusGatewayTimeout:
		return index.Transient(err)
	default:
		return err
	}
}

func toWire(doc model.Document) document {
	attachments := make([][]string, 0, len(doc.Attachments))
	for _, a := range doc.Attachments {
		attachments = append(attachments, []string{a.Filename, a.MIMEType})
	}
	return document{
		MessageID:      doc.MessageID,
		Path:           doc.Path,
		Headers:        doc.Headers,
		From:           doc.From,
		To:             doc.To,
		CC:             doc.CC,
		BCC:            doc.BCC,
		Attachments:    attachments,
		HasAttachments: doc.HasAttachments,
		Subject:        doc.Subject,
		Body:           doc.Body,
		Timestamp:      doc.Timestamp.UTC().Format(time.RFC3339),
	}
}
