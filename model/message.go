package model

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
)

// Message is one raw email picked up by an importer (mbox file, IMAP folder,
// MTA pipe) on its way into the archive.
type Message struct {
	ID     string
	Hash   string
	Date   time.Time
	Source string
	Raw    []byte
}

// ParseMessage reads the identity of one raw message. A missing Message-Id
// leaves ID empty and an unparsable Date leaves Date zero; only an unreadable
// header is an error.
func ParseMessage(raw []byte, source string) (Message, error) {
	header, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return Message{}, err
	}
	h := mail.Header{Header: message.Header{Header: header}}

	msg := Message{
		ID:     strings.TrimSpace(h.Get("Message-Id")),
		Hash:   Hash(raw),
		Source: source,
		Raw:    raw,
	}
	if date, err := HeaderDate(&h); err == nil {
		msg.Date = date
	}
	return msg, nil
}

// zonelessLayouts are Date forms seen in old mail that carry no zone. They
// are read as UTC.
var zonelessLayouts = []string{
	"Mon, _2 Jan 2006 15:04:05",
	"Mon, _2 Jan 2006 15:04",
	"_2 Jan 2006 15:04:05",
	"_2 Jan 2006 15:04",
}

// HeaderDate parses the Date header. Besides RFC 5322 dates it accepts dates
// without a zone, taken as UTC.
func HeaderDate(h *mail.Header) (time.Time, error) {
	date, err := h.Date()
	if err == nil {
		return date, nil
	}
	value := strings.Join(strings.Fields(h.Get("Date")), " ")
	for _, layout := range zonelessLayouts {
		if t, perr := time.ParseInLocation(layout, value, time.UTC); perr == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

// Hash identifies raw content for incremental imports.
func Hash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Envelope carries either a message or the error that prevented reading it.
type Envelope struct {
	Message Message
	Err     error
}
