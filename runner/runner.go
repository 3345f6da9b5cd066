// Package runner joins the stages of an import: a source stage feeding raw
// messages, the bridge that drops filtered and already archived messages,
// and the archive stage that consumes Archives().
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dhcgn/email-archive/config"
	"github.com/dhcgn/email-archive/filter"
	"github.com/dhcgn/email-archive/model"
	"github.com/dhcgn/email-archive/state"
	"github.com/dhcgn/email-archive/stats"
)

var ErrMessageIDMissing = errors.New("message missing Message-Id header")

type StageFunc func(context.Context) error

type Runner struct {
	cfg    config.Config
	logger *slog.Logger

	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc

	source   stats.Stage
	messages chan model.Envelope
	archives chan model.Message
	events   chan stats.Event
	subs     []chan stats.Event

	tracker state.Tracker
	filter  *filter.Filter

	workWG  sync.WaitGroup
	statsWG sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeMailboxOnce  sync.Once
	closeArchivesOnce sync.Once
	closeEventsOnce   sync.Once
	since             time.Time
}

// New prepares an import whose source stage reports as source. The state
// tracker only persists when cfg.DryRun is unset.
func New(parent context.Context, cfg config.Config, source stats.Stage, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	f, err := filter.New(filter.Options{
		IncludeHeader: cfg.Filter.IncludeHeader,
		IncludeBody:   cfg.Filter.IncludeBody,
		ExcludeHeader: cfg.Filter.ExcludeHeader,
		ExcludeBody:   cfg.Filter.ExcludeBody,
	})
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}

	tracker, err := state.NewFileTracker(cfg.StateDir, !cfg.DryRun)
	if err != nil {
		return nil, fmt.Errorf("state tracker: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)
	r := &Runner{
		parent:   parent,
		cfg:      cfg,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		source:   source,
		messages: make(chan model.Envelope, 32),
		archives: make(chan model.Message, 32),
		events:   make(chan stats.Event, 128),
		tracker:  tracker,
		filter:   f,
	}

	r.AddStage("bridge", r.bridge)
	return r, nil
}

func (r *Runner) Tracker() state.Tracker {
	return r.tracker
}

func (r *Runner) MailboxWriter() chan<- model.Envelope {
	return r.messages
}

func (r *Runner) CloseMailbox() {
	r.closeMailboxOnce.Do(func() {
		close(r.messages)
	})
}

// Archives yields the messages that passed the filters and were not
// archived by an earlier import.
func (r *Runner) Archives() <-chan model.Message {
	return r.archives
}

func (r *Runner) EmitEvent(evt stats.Event) {
	select {
	case <-r.ctx.Done():
	case r.events <- evt:
	}
}

// SubscribeStats hands fn its own copy of the event stream. Subscribe before
// calling Start.
func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	ch := make(chan stats.Event, 128)
	r.subs = append(r.subs, ch)
	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		if err := fn(r.ctx, ch); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stats: %w", name, err))
		}
	}()
}

func (r *Runner) AddStage(name string, fn StageFunc) {
	r.workWG.Add(1)
	go func() {
		defer r.workWG.Done()
		if err := fn(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stage: %w", name, err))
		}
	}()
}

// Start waits for every stage, drains the stats subscribers and closes the
// state tracker. It returns the first stage failure.
func (r *Runner) Start() error {
	r.since = time.Now()

	r.statsWG.Add(1)
	go r.fanOut()

	r.workWG.Wait()
	r.closeEvents()
	r.statsWG.Wait()

	r.cancel()

	if err := r.tracker.Close(); err != nil {
		r.fail(fmt.Errorf("close state: %w", err))
	}

	r.errMu.Lock()
	err := r.err
	r.errMu.Unlock()
	if err == nil {
		err = r.parent.Err()
	}

	duration := time.Since(r.since)
	if err != nil {
		r.logger.Error("import failed", "source", r.source, "duration", duration, "err", err)
		return err
	}

	r.logger.Info("import completed", "source", r.source, "duration", duration)
	return nil
}

func (r *Runner) bridge(ctx context.Context) error {
	defer r.closeArchives()
	stage := r.source
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case envelope, ok := <-r.messages:
			if !ok {
				return nil
			}

			if envelope.Err != nil {
				r.logger.Warn("unreadable message", "source", r.source, "err", envelope.Err)
				r.EmitEvent(stats.Event{Stage: stage, Type: stats.EventTypeError, Err: envelope.Err})
				continue
			}

			msg := envelope.Message
			r.EmitEvent(stats.Event{Stage: stage, Type: stats.EventTypeScanned, MessageID: msg.ID})

			if msg.ID == "" {
				r.logger.Warn("skipping message without Message-Id", "source", msg.Source)
				r.EmitEvent(stats.Event{Stage: stage, Type: stats.EventTypeSkipped, Err: ErrMessageIDMissing, Detail: msg.Source})
				continue
			}

			if r.filter.Active() && !r.filter.Allows(msg.Raw) {
				r.EmitEvent(stats.Event{Stage: stage, Type: stats.EventTypeFiltered, MessageID: msg.ID})
				continue
			}

			if msg.Hash != "" && r.tracker.AlreadyProcessed(msg.Hash) {
				r.EmitEvent(stats.Event{Stage: stage, Type: stats.EventTypeDuplicate, MessageID: msg.ID})
				continue
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case r.archives <- msg:
			}
		}
	}
}

func (r *Runner) fanOut() {
	defer r.statsWG.Done()
	defer func() {
		for _, ch := range r.subs {
			close(ch)
		}
	}()
	for evt := range r.events {
		for _, ch := range r.subs {
			select {
			case ch <- evt:
			case <-r.ctx.Done():
			}
		}
	}
}

func (r *Runner) closeArchives() {
	r.closeArchivesOnce.Do(func() {
		close(r.archives)
	})
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		close(r.events)
	})
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
		r.cancel()
	}
	r.errMu.Unlock()
}
