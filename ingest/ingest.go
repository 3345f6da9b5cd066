// Package ingest writes accepted messages into the archive and hands their
// archive paths to the index queue.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/dhcgn/email-archive/archive"
	"github.com/dhcgn/email-archive/filter"
	"github.com/dhcgn/email-archive/model"
	"github.com/dhcgn/email-archive/runner"
	"github.com/dhcgn/email-archive/state"
	"github.com/dhcgn/email-archive/stats"
)

var (
	// ErrNoDomainMatch is returned by Archive when archived domains are
	// configured and none of them appears in the address headers.
	ErrNoDomainMatch = errors.New("no archived domain in address headers")
	ErrUnreadable    = errors.New("unreadable message header")
)

// Enqueuer is the producer side of the index queue.
type Enqueuer interface {
	Push(ctx context.Context, payload string, priority model.Priority) error
}

type Options struct {
	Root  archive.Root
	Queue Enqueuer
	// Priority of the enqueued paths; zero means normal.
	Priority model.Priority
	// Domains restricts Archive to messages exchanged with these domains.
	// Empty archives everything.
	Domains *filter.Domains
	DryRun  bool
	Logger  *slog.Logger
}

// Result describes one archived message.
type Result struct {
	Path   string
	Domain string
	Date   time.Time
}

type Archiver struct {
	writer   *archive.Writer
	queue    Enqueuer
	priority model.Priority
	domains  *filter.Domains
	dryRun   bool
	logger   *slog.Logger
	now      func() time.Time
}

func New(opts Options) (*Archiver, error) {
	if !opts.DryRun && opts.Queue == nil {
		return nil, fmt.Errorf("queue must not be nil")
	}
	priority := opts.Priority
	if priority == 0 {
		priority = model.PriorityNormal
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("invalid priority %d", priority)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Archiver{
		writer:   archive.NewWriter(opts.Root, logger),
		queue:    opts.Queue,
		priority: priority,
		domains:  opts.Domains,
		dryRun:   opts.DryRun,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Archive stores raw under the archive root and enqueues its path. The path
// is laid out by the message Date header, or the current time when the
// header is missing or unparsable. In dry run mode nothing is written and
// Result.Path stays empty.
func (a *Archiver) Archive(ctx context.Context, raw []byte) (Result, error) {
	header, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	var res Result
	if !a.domains.Empty() {
		domain, ok := a.domains.Match(header)
		if !ok {
			return Result{}, ErrNoDomainMatch
		}
		res.Domain = domain
	}

	mh := mail.Header{Header: message.Header{Header: header}}
	res.Date, err = model.HeaderDate(&mh)
	if err != nil || res.Date.IsZero() {
		res.Date = a.now()
	}

	if a.dryRun {
		a.logger.Debug("dry run: would archive", "messageId", header.Get("Message-Id"), "date", res.Date)
		return res, nil
	}

	res.Path, err = a.writer.Write(raw, res.Date)
	if err != nil {
		return Result{}, err
	}
	if err := a.queue.Push(ctx, res.Path, a.priority); err != nil {
		return res, fmt.Errorf("enqueue %s: %w", res.Path, err)
	}
	a.logger.Debug("archived", "path", res.Path, "priority", a.priority)
	return res, nil
}

// Stage registers the archive stage of an import pipeline: every message
// the runner accepts is archived, enqueued and recorded in the state so the
// next import skips it.
func (a *Archiver) Stage(r *runner.Runner) {
	r.AddStage("archive", func(ctx context.Context) error {
		return a.consume(ctx, r)
	})
}

func (a *Archiver) consume(ctx context.Context, r *runner.Runner) error {
	tracker := r.Tracker()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-r.Archives():
			if !ok {
				return nil
			}

			res, err := a.Archive(ctx, msg.Raw)
			if errors.Is(err, ErrNoDomainMatch) {
				r.EmitEvent(stats.Event{Stage: stats.StageArchive, Type: stats.EventTypeFiltered, MessageID: msg.ID})
				continue
			}
			if err != nil {
				r.EmitEvent(stats.Event{Stage: stats.StageArchive, Type: stats.EventTypeFailed, MessageID: msg.ID, Err: err})
				if errors.Is(err, ErrUnreadable) {
					a.logger.Warn("archive failed", "messageId", msg.ID, "source", msg.Source, "err", err)
					continue
				}
				return err
			}

			evt := stats.Event{Stage: stats.StageArchive, Type: stats.EventTypeArchived, MessageID: msg.ID, Path: res.Path}
			if a.dryRun {
				evt.Type = stats.EventTypeDryRunArchived
			}
			r.EmitEvent(evt)
			if !a.dryRun {
				r.EmitEvent(stats.Event{Stage: stats.StageQueue, Type: stats.EventTypeEnqueued, MessageID: msg.ID, Path: res.Path})
			}

			if err := tracker.MarkProcessed(state.Record{
				Hash:       msg.Hash,
				MessageID:  msg.ID,
				Path:       res.Path,
				ArchivedAt: a.now().UTC(),
			}); err != nil {
				return fmt.Errorf("mark processed: %w", err)
			}
		}
	}
}
