// Package daemon drains the priority queue and indexes every archived message
// it names. It owns one queue connection at a time, replaces it whenever the
// store fails, and never lets a single bad message stop the loop.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/dhcgn/email-archive/archive"
	"github.com/dhcgn/email-archive/decoder"
	"github.com/dhcgn/email-archive/document"
	"github.com/dhcgn/email-archive/model"
	"github.com/dhcgn/email-archive/queue"
	"github.com/dhcgn/email-archive/retry"
	"github.com/dhcgn/email-archive/stats"
)

const (
	DefaultPopTimeout        = 5 * time.Second
	DefaultIdleInterval      = 500 * time.Millisecond
	DefaultReconnectInterval = 5 * time.Second
)

type State int32

const (
	StateDisconnected State = iota
	StateConnected
	StateIdle
	StateProcessing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateIdle:
		return "idle"
	case StateProcessing:
		return "processing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Conn is an open queue connection. *queue.Queue satisfies it.
type Conn interface {
	Pop(ctx context.Context, timeout time.Duration) (model.QueueItem, error)
	Close() error
}

// Connector opens a fresh connection. It is called again after every failure.
type Connector func(ctx context.Context) (Conn, error)

// Processor indexes one queue item.
type Processor interface {
	Process(ctx context.Context, item model.QueueItem) (retry.Outcome, error)
}

type Options struct {
	PopTimeout        time.Duration
	IdleInterval      time.Duration
	ReconnectInterval time.Duration
	// StatsInterval controls periodic stats logging. Zero disables it.
	StatsInterval time.Duration
	Logger        *slog.Logger
}

func (o *Options) setDefaults() {
	if o.PopTimeout <= 0 {
		o.PopTimeout = DefaultPopTimeout
	}
	if o.IdleInterval <= 0 {
		o.IdleInterval = DefaultIdleInterval
	}
	if o.ReconnectInterval <= 0 {
		o.ReconnectInterval = DefaultReconnectInterval
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
}

type Daemon struct {
	connect   Connector
	processor Processor
	opts      Options
	logger    *slog.Logger
	stats     *stats.Collector
	state     atomic.Int32
}

func New(connect Connector, processor Processor, opts Options) *Daemon {
	opts.setDefaults()
	return &Daemon{
		connect:   connect,
		processor: processor,
		opts:      opts,
		logger:    opts.Logger,
		stats:     stats.NewCollector(),
	}
}

func (d *Daemon) State() State {
	return State(d.state.Load())
}

func (d *Daemon) Stats() stats.Summary {
	return d.stats.Snapshot()
}

func (d *Daemon) setState(s State) {
	if old := State(d.state.Swap(int32(s))); old != s {
		d.logger.Debug("Daemon state changed", "from", old, "to", s)
	}
}

// Run consumes the queue until ctx is cancelled. The item being processed
// when cancellation arrives is finished first. Run returns nil on
// cancellation; there is no other way out.
func (d *Daemon) Run(ctx context.Context) error {
	go d.stats.Report(ctx, d.opts.StatsInterval, d.logger)

	var conn Conn
	defer func() {
		if conn != nil {
			_ = conn.Close()
		}
		d.setState(StateDisconnected)
		d.logger.Info("Daemon stopped", d.stats.Snapshot().LogAttrs()...)
	}()

	for ctx.Err() == nil {
		if conn == nil {
			c, err := d.connect(ctx)
			if err != nil {
				if ctx.Err() != nil {
					break
				}
				d.logger.Warn("Queue connection failed", "err", err, "retry_in", d.opts.ReconnectInterval)
				d.stats.Record(stats.Event{Stage: stats.StageQueue, Type: stats.EventTypeReconnect, Err: err})
				sleep(ctx, d.opts.ReconnectInterval)
				continue
			}
			conn = c
			d.setState(StateConnected)
			d.logger.Info("Connected to queue")
		}

		d.setState(StateIdle)
		item, err := conn.Pop(ctx, d.opts.PopTimeout)
		switch {
		case err == nil:
		case errors.Is(err, queue.ErrEmpty):
			sleep(ctx, d.opts.IdleInterval)
			continue
		case ctx.Err() != nil:
			continue
		default:
			d.logger.Error("Queue connection lost", "err", err, "retry_in", d.opts.ReconnectInterval)
			_ = conn.Close()
			conn = nil
			d.setState(StateDisconnected)
			d.stats.Record(stats.Event{Stage: stats.StageQueue, Type: stats.EventTypeReconnect, Err: err})
			sleep(ctx, d.opts.ReconnectInterval)
			continue
		}

		d.setState(StateProcessing)
		d.handle(context.WithoutCancel(ctx), item)
	}
	return nil
}

func (d *Daemon) handle(ctx context.Context, item model.QueueItem) {
	started := time.Now()
	outcome, err := d.safeProcess(ctx, item)

	attrs := []any{"path", item.Payload, "priority", item.Priority, "duration", time.Since(started)}
	switch outcome {
	case retry.Succeeded:
		d.logger.Info("Indexed", attrs...)
		d.stats.Record(stats.Event{Stage: stats.StageIndex, Type: stats.EventTypeIndexed, Path: item.Payload})
	case retry.Skipped:
		d.logger.Warn("Skipped", append(attrs, "reason", err)...)
		d.stats.Record(stats.Event{Stage: stats.StageIndex, Type: stats.EventTypeSkipped, Path: item.Payload, Err: err})
	default:
		d.logger.Error("Indexing failed", append(attrs, "err", err)...)
		d.stats.Record(stats.Event{Stage: stats.StageIndex, Type: stats.EventTypeFailed, Path: item.Payload, Err: err})
	}
}

func (d *Daemon) safeProcess(ctx context.Context, item model.QueueItem) (outcome retry.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Debug("Recovered panic", "path", item.Payload, "stack", string(debug.Stack()))
			outcome, err = retry.Fatal, fmt.Errorf("panic: %v", r)
		}
	}()
	return d.processor.Process(ctx, item)
}

// Pipeline is the default Processor: it reads the archived file, decodes
// it and writes the document to the index.
type Pipeline struct {
	Root    archive.Root
	Builder *document.Builder
	Indexer *document.Indexer
}

func (p *Pipeline) Process(ctx context.Context, item model.QueueItem) (retry.Outcome, error) {
	full, err := p.Root.Resolve(item.Payload)
	if err != nil {
		return retry.Fatal, err
	}
	rel, err := p.Root.Relative(full)
	if err != nil {
		return retry.Fatal, err
	}

	rc, err := archive.Open(full)
	if err != nil {
		return retry.Fatal, err
	}
	defer rc.Close()

	msg, err := decoder.Parse(rc)
	if err != nil {
		return retry.Fatal, fmt.Errorf("parse %s: %w", rel, err)
	}

	doc, err := p.Builder.Build(rel, msg)
	if err != nil {
		return retry.OutcomeOf(err), err
	}
	return p.Indexer.Index(ctx, doc)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
