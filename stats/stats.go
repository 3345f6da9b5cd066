package stats

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type Stage string

const (
	StageMbox    Stage = "mbox"
	StageIMAP    Stage = "imap"
	StageArchive Stage = "archive"
	StageIndex   Stage = "index"
	StageQueue   Stage = "queue"
)

type EventType string

const (
	EventTypeScanned        EventType = "scanned"
	EventTypeFiltered       EventType = "filtered"
	EventTypeDuplicate      EventType = "duplicate"
	EventTypeArchived       EventType = "archived"
	EventTypeDryRunArchived EventType = "dry_run_archived"
	EventTypeEnqueued       EventType = "enqueued"
	EventTypeIndexed        EventType = "indexed"
	EventTypeSkipped        EventType = "skipped"
	EventTypeFailed         EventType = "failed"
	EventTypeReconnect      EventType = "reconnect"
	EventTypeError          EventType = "error"
)

type Event struct {
	Stage     Stage
	Type      EventType
	MessageID string
	Path      string
	Err       error
	Detail    string
}

type Summary struct {
	Scanned        int
	Filtered       int
	Duplicates     int
	Archived       int
	DryRunArchived int
	Enqueued       int
	Indexed        int
	Skipped        int
	Failed         int
	Reconnects     int
	Errors         int
	LastError      error
}

// LogAttrs renders the non-zero counters as slog key/value pairs.
func (s Summary) LogAttrs() []any {
	counters := []struct {
		key string
		n   int
	}{
		{"scanned", s.Scanned},
		{"filtered", s.Filtered},
		{"duplicates", s.Duplicates},
		{"archived", s.Archived},
		{"dryRunArchived", s.DryRunArchived},
		{"enqueued", s.Enqueued},
		{"indexed", s.Indexed},
		{"skipped", s.Skipped},
		{"failed", s.Failed},
		{"reconnects", s.Reconnects},
		{"errors", s.Errors},
	}
	var attrs []any
	for _, c := range counters {
		if c.n != 0 {
			attrs = append(attrs, c.key, c.n)
		}
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

// Processed counts messages that reached a final state in their stage.
func (s Summary) Processed() int {
	return s.Archived + s.DryRunArchived + s.Duplicates + s.Filtered + s.Indexed + s.Skipped + s.Failed
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.Record(evt)
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

// Record applies one event. It is safe for concurrent use.
func (c *Collector) Record(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeScanned:
		c.summary.Scanned++
	case EventTypeFiltered:
		c.summary.Filtered++
	case EventTypeDuplicate:
		c.summary.Duplicates++
	case EventTypeArchived:
		c.summary.Archived++
	case EventTypeDryRunArchived:
		c.summary.DryRunArchived++
	case EventTypeEnqueued:
		c.summary.Enqueued++
	case EventTypeIndexed:
		c.summary.Indexed++
	case EventTypeSkipped:
		c.summary.Skipped++
	case EventTypeFailed:
		c.summary.Failed++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	case EventTypeReconnect:
		c.summary.Reconnects++
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

// Report logs the summary every interval until ctx ends. Intervals without
// new events are not logged.
func (c *Collector) Report(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	if logger == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last Summary
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := c.Snapshot()
			counters := s
			counters.LastError = nil
			if counters == last {
				continue
			}
			last = counters
			logger.Info("stats", s.LogAttrs()...)
		}
	}
}

type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeStats("stats-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	r.collector.Run(ctx, events)
	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if ctx.Err() != nil {
		if r.logger != nil {
			r.logger.Debug("stats collection stopped", append(attrs, "err", ctx.Err())...)
		}
		return ctx.Err()
	}
	if r.logger != nil {
		r.logger.Info("stats summary", attrs...)
	}
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}

// PrintTop writes the limit most frequent keys of m to w, ties by name.
func PrintTop(w io.Writer, m map[string]int, limit int) {
	for i, p := range Top(m, limit) {
		fmt.Fprintf(w, "%d. %s (%d)\n", i+1, p.Key, p.Count)
	}
}

type Count struct {
	Key   string
	Count int
}

// Top returns the limit most frequent keys of m, ties broken by name.
func Top(m map[string]int, limit int) []Count {
	out := make([]Count, 0, len(m))
	for k, v := range m {
		out = append(out, Count{k, v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
