// Package imap streams the messages of an IMAP folder into an import
// pipeline. The folder is opened read-only.
package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/dhcgn/email-archive/model"
	"github.com/dhcgn/email-archive/runner"
)

const defaultBatchSize = 100

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
	Folder             string
	// BatchSize bounds how many messages one FETCH command requests.
	BatchSize int
}

type Fetcher struct {
	opts   Options
	logger *slog.Logger
}

func NewFetcher(opts Options, logger *slog.Logger) (*Fetcher, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Fetcher{opts: opts, logger: logger}, nil
}

func (f *Fetcher) folder() string {
	if f.opts.Folder == "" {
		return "INBOX"
	}
	return f.opts.Folder
}

// Count returns the number of messages in the folder.
func (f *Fetcher) Count(ctx context.Context) (int, error) {
	client, cleanup, err := f.dial(ctx)
	if err != nil {
		return 0, err
	}
	defer cleanup()

	data, err := client.Select(f.folder(), &imapv2.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return 0, fmt.Errorf("select %s: %w", f.folder(), err)
	}
	return int(data.NumMessages), nil
}

// Stream sends one envelope per message of the folder to out, oldest first.
func (f *Fetcher) Stream(ctx context.Context, out chan<- model.Envelope) error {
	client, cleanup, err := f.dial(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	data, err := client.Select(f.folder(), &imapv2.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return fmt.Errorf("select %s: %w", f.folder(), err)
	}
	total := data.NumMessages
	f.logger.Info("imap folder selected", "folder", f.folder(), "messages", total)

	batch := uint32(f.opts.BatchSize)
	for start := uint32(1); start <= total; start += batch {
		stop := min(start+batch-1, total)
		if err := f.fetchRange(ctx, client, start, stop, out); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fetcher) fetchRange(ctx context.Context, client *imapclient.Client, start, stop uint32, out chan<- model.Envelope) error {
	var seqSet imapv2.SeqSet
	seqSet.AddRange(start, stop)

	fetchOptions := &imapv2.FetchOptions{
		UID:          true,
		InternalDate: true,
		BodySection:  []*imapv2.FetchItemBodySection{{Peek: true}},
	}
	cmd := client.Fetch(seqSet, fetchOptions)
	for {
		msg := cmd.Next()
		if msg == nil {
			break
		}

		env := f.readMessage(msg)
		select {
		case <-ctx.Done():
			_ = cmd.Close()
			return ctx.Err()
		case out <- env:
		}
	}

	if err := cmd.Close(); err != nil {
		return fmt.Errorf("fetch %d:%d: %w", start, stop, err)
	}
	return nil
}

func (f *Fetcher) readMessage(msg *imapclient.FetchMessageData) model.Envelope {
	var (
		raw          []byte
		uid          imapv2.UID
		internalDate time.Time
		readErr      error
	)
	for {
		item := msg.Next()
		if item == nil {
			break
		}
		switch item := item.(type) {
		case imapclient.FetchItemDataUID:
			uid = item.UID
		case imapclient.FetchItemDataInternalDate:
			internalDate = item.Time
		case imapclient.FetchItemDataBodySection:
			raw, readErr = io.ReadAll(item.Literal)
		}
	}

	source := fmt.Sprintf("imap://%s/%s;UID=%d", f.opts.Host, f.folder(), uid)
	if readErr != nil {
		return model.Envelope{Err: fmt.Errorf("read %s: %w", source, readErr)}
	}
	if raw == nil {
		return model.Envelope{Err: fmt.Errorf("read %s: no body returned", source)}
	}

	parsed, err := model.ParseMessage(raw, source)
	if err != nil {
		return model.Envelope{Err: fmt.Errorf("parse %s: %w", source, err)}
	}
	if parsed.Date.IsZero() {
		parsed.Date = internalDate
	}
	return model.Envelope{Message: parsed}
}

func (f *Fetcher) dial(ctx context.Context) (*imapclient.Client, func(), error) {
	address := net.JoinHostPort(f.opts.Host, strconv.Itoa(f.opts.Port))
	options := &imapclient.Options{}

	if f.opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         f.opts.Host,
			InsecureSkipVerify: f.opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)

	if f.opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	if err := client.Login(f.opts.Username, f.opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("imap login failed: %w", err)
	}

	f.logger.Debug("imap connection established", "address", address, "user", f.opts.Username, "tls", f.opts.UseTLS)

	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})

	cleanup := func() {
		stopClose()
		if ctx.Err() == nil {
			if err := client.Logout().Wait(); err != nil {
				f.logger.Warn("imap logout failed", "err", err)
			}
		}
		if err := client.Close(); err != nil {
			f.logger.Debug("imap connection closed", "err", err)
		}
	}

	return client, cleanup, nil
}

type Producer struct {
	fetcher *Fetcher
	runner  *runner.Runner
}

// NewProducer registers the imap stage of r.
func NewProducer(fetcher *Fetcher, r *runner.Runner) *Producer {
	producer := &Producer{fetcher: fetcher, runner: r}
	r.AddStage("imap", producer.run)
	return producer
}

func (p *Producer) run(ctx context.Context) error {
	defer p.runner.CloseMailbox()
	return p.fetcher.Stream(ctx, p.runner.MailboxWriter())
}
