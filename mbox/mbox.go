// Package mbox streams the messages of an mbox file into an import pipeline.
// Files may be gzip compressed.
package mbox

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	mboxlib "github.com/emersion/go-mbox"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/dhcgn/email-archive/archive"
	"github.com/dhcgn/email-archive/filter"
	"github.com/dhcgn/email-archive/model"
	"github.com/dhcgn/email-archive/runner"
)

type Reader struct {
	path   string
	open   func() (io.ReadCloser, error)
	logger *slog.Logger
}

// NewReader reads the mbox file at path.
func NewReader(path string, logger *slog.Logger) (*Reader, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("mbox path is empty")
	}
	return &Reader{
		path:   path,
		open:   func() (io.ReadCloser, error) { return archive.Open(path) },
		logger: logger,
	}, nil
}

// NewStreamReader reads mbox data from r; name labels the messages.
func NewStreamReader(r io.Reader, name string, logger *slog.Logger) *Reader {
	return &Reader{
		path:   name,
		open:   func() (io.ReadCloser, error) { return io.NopCloser(r), nil },
		logger: logger,
	}
}

// Stream sends one envelope per message to out. Messages that cannot be read
// are sent as envelopes carrying the error, and streaming continues with the
// next message when the mbox framing allows it.
func (f *Reader) Stream(ctx context.Context, out chan<- model.Envelope) error {
	rc, err := f.open()
	if err != nil {
		return fmt.Errorf("open mbox: %w", err)
	}
	defer rc.Close()
	reader := mboxlib.NewReader(rc)

	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgReader, err := reader.NextMessage()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			// the framing is lost, nothing after this point is reliable
			return f.emitError(ctx, out, fmt.Errorf("message %d: %w", idx, err))
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return f.emitError(ctx, out, fmt.Errorf("message %d read: %w", idx, err))
		}

		msg, err := model.ParseMessage(raw, fmt.Sprintf("%s#%d", f.path, idx))
		if err != nil {
			if err := f.emitEnvelope(ctx, out, model.Envelope{Err: fmt.Errorf("message %d parse: %w", idx, err)}); err != nil {
				return err
			}
			continue
		}

		if err := f.emitEnvelope(ctx, out, model.Envelope{Message: msg}); err != nil {
			return err
		}
	}
}

func (f *Reader) emitError(ctx context.Context, out chan<- model.Envelope, err error) error {
	if f.logger != nil {
		f.logger.Error("mbox stream error", "path", f.path, "err", err)
	}
	return f.emitEnvelope(ctx, out, model.Envelope{Err: err})
}

func (f *Reader) emitEnvelope(ctx context.Context, out chan<- model.Envelope, env model.Envelope) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- env:
		return nil
	}
}

type Producer struct {
	reader *Reader
	runner *runner.Runner
}

// NewProducer registers the mbox stage of r.
func NewProducer(reader *Reader, r *runner.Runner) *Producer {
	producer := &Producer{reader: reader, runner: r}
	r.AddStage("mbox", producer.run)
	return producer
}

func (p *Producer) run(ctx context.Context) error {
	defer p.runner.CloseMailbox()
	return p.reader.Stream(ctx, p.runner.MailboxWriter())
}

// Message is a parsed mbox message for statistics.
type Message struct {
	Header mail.Header
	// RawHeader and Body are the unparsed halves of the message, as the
	// import filters see them.
	RawHeader []byte
	Body      []byte
}

// Read calls fn for every message in the mbox file at path. Messages whose
// header cannot be parsed are skipped.
func Read(path string, fn func(m *Message) error) error {
	rc, err := archive.Open(path)
	if err != nil {
		return fmt.Errorf("open mbox: %w", err)
	}
	defer rc.Close()
	return ReadFrom(rc, fn)
}

func ReadFrom(r io.Reader, fn func(m *Message) error) error {
	reader := mboxlib.NewReader(r)
	for {
		msgReader, err := reader.NextMessage()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			continue
		}
		header, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
		if err != nil {
			continue
		}
		rawHeader, body := filter.SplitRawMessage(raw)

		if err := fn(&Message{
			Header:    mail.Header{Header: message.Header{Header: header}},
			RawHeader: rawHeader,
			Body:      body,
		}); err != nil {
			return err
		}
	}
}

// CountMessages counts the messages in the mbox file at path.
func CountMessages(path string) (int, error) {
	rc, err := archive.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open mbox: %w", err)
	}
	defer rc.Close()

	reader := mboxlib.NewReader(rc)
	count := 0
	for {
		msgReader, err := reader.NextMessage()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return 0, err
		}
		if _, err := io.Copy(io.Discard, msgReader); err != nil {
			return 0, err
		}
		count++
	}
}
