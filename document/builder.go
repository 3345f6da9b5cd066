// Package document builds the index document for an archived message and
// writes it to a backend.
package document

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/dhcgn/email-archive/decoder"
	"github.com/dhcgn/email-archive/index"
	"github.com/dhcgn/email-archive/model"
	"github.com/dhcgn/email-archive/retry"
)

var (
	ErrMissingMessageID = retry.Skip(errors.New("message has no Message-Id"))
	ErrMissingDate      = retry.Skip(errors.New("message has no usable Date"))
)

type Builder struct {
	decoder *decoder.Decoder
	logger  *slog.Logger
}

func NewBuilder(dec *decoder.Decoder, logger *slog.Logger) *Builder {
	if dec == nil {
		dec = decoder.New(logger)
	}
	return &Builder{decoder: dec, logger: logger}
}

// Build turns a parsed message stored at path into its index document.
// Messages without Message-Id or Date cannot be placed in the index and are
// reported with ErrMissingMessageID or ErrMissingDate.
func (b *Builder) Build(path string, msg *decoder.Message) (model.Document, error) {
	h := mail.Header{Header: message.Header{Header: msg.Header}}

	messageID := strings.TrimSpace(h.Get("Message-Id"))
	if messageID == "" {
		return model.Document{}, ErrMissingMessageID
	}
	if strings.TrimSpace(h.Get("Date")) == "" {
		return model.Document{}, ErrMissingDate
	}
	date, err := model.HeaderDate(&h)
	if err != nil {
		return model.Document{}, fmt.Errorf("%w: %v", ErrMissingDate, err)
	}

	subject, err := h.Subject()
	if err != nil {
		subject = h.Get("Subject")
	}

	res := b.decoder.Decode(msg)
	for _, w := range res.Warnings {
		b.warn("Decoding problem", "path", path, "message_id", messageID, "warning", w)
	}
	if res.Body.Text == nil {
		b.warn("No usable body, indexing envelope only", "path", path, "message_id", messageID)
	}

	doc := model.Document{
		Partition:      index.PartitionName(date),
		MessageID:      messageID,
		Path:           path,
		Headers:        headerLines(msg),
		From:           tokenizeAddresses(h.Get("From")),
		To:             tokenizeAddresses(h.Get("To")),
		CC:             tokenizeAddresses(h.Get("Cc")),
		BCC:            tokenizeAddresses(h.Get("Bcc")),
		Attachments:    res.Attachments,
		HasAttachments: len(res.Attachments) > 0,
		Subject:        subject,
		Body:           res.Body.Text,
		Timestamp:      date.UTC(),
	}
	doc.ID = ID(doc.MessageID, doc.From, doc.To, doc.Subject)
	return doc, nil
}

// ID derives the stable document id. The same message always maps to the
// same id, so indexing it again replaces the earlier document.
func ID(messageID string, from, to []string, subject string) string {
	sum := sha256.Sum256([]byte(messageID + joinForID(from) + joinForID(to) + subject))
	return hex.EncodeToString(sum[:])
}

func headerLines(msg *decoder.Message) []string {
	var lines []string
	fields := msg.Header.Fields()
	for fields.Next() {
		lines = append(lines, fields.Key()+": "+fields.Value())
	}
	return lines
}

func (b *Builder) warn(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Warn(msg, args...)
	}
}
