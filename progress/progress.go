// Package progress renders import progress and queue depth in the terminal.
package progress

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/dhcgn/email-archive/model"
	"github.com/dhcgn/email-archive/stats"
)

// Bar manages a progress bar for tracking message processing.
type Bar struct {
	pb             *pterm.ProgressbarPrinter
	total          int
	alreadyDone    int
	currentScanned int
	mu             sync.Mutex
	enabled        bool
}

// New creates a progress bar when logLevel is "info". At other levels the log
// lines would tear the bar apart, so it stays silent.
func New(total int, alreadyDone int, logLevel string) *Bar {
	enabled := logLevel == "info" && total > 0

	bar := &Bar{
		total:       total,
		alreadyDone: alreadyDone,
		enabled:     enabled,
	}

	if enabled {
		pb, _ := pterm.DefaultProgressbar.
			WithTotal(total).
			WithTitle("Importing messages").
			Start()

		bar.pb = pb

		pterm.Info.Printf("Messages in source: %d\n", total)
		pterm.Info.Printf("Already archived: %d\n", alreadyDone)
		pterm.Println()
	}

	return bar
}

// Enabled reports whether the bar is drawn.
func (b *Bar) Enabled() bool {
	return b != nil && b.enabled
}

// Update advances the bar on every scanned message.
func (b *Bar) Update(evt stats.Event) {
	if !b.Enabled() || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeScanned:
		b.currentScanned++
		b.pb.Increment()

		if evt.MessageID != "" {
			displayID := evt.MessageID
			if len(displayID) > 40 {
				displayID = displayID[:37] + "..."
			}
			b.pb.UpdateTitle("Importing: " + displayID)
		}
	case stats.EventTypeError, stats.EventTypeFailed:
		if evt.Err != nil {
			pterm.Error.Printf("Error: %v\n", evt.Err)
		}
	}
}

// Stop finalizes the progress bar.
func (b *Bar) Stop() {
	if !b.Enabled() || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb.Current < b.total {
		b.pb.Current = b.total
	}

	_, _ = b.pb.Stop()
	pterm.Success.Println("Import complete!")
}

// Subscriber feeds the bar from a stats event stream.
func (b *Bar) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				b.Stop()
				return nil
			}
			b.Update(evt)
		}
	}
}

// Reporter prints the final import summary under the progress bar.
type Reporter struct {
	bar       *Bar
	collector *stats.Collector
	logger    *slog.Logger
	started   time.Time
}

// NewReporter subscribes the bar and a summary collector to stream. Without
// an enabled bar it falls back to the plain stats reporter.
func NewReporter(stream stats.EventStream, bar *Bar, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		bar:       bar,
		collector: stats.NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}

	if bar.Enabled() {
		stream.SubscribeStats("progress-bar", bar.Subscriber)
		stream.SubscribeStats("progress-stats", reporter.collectStats)
	} else {
		stats.NewReporter(stream, logger)
	}

	return reporter
}

func (pr *Reporter) collectStats(ctx context.Context, events <-chan stats.Event) error {
	pr.collector.Run(ctx, events)

	summary := pr.collector.Snapshot()
	duration := time.Since(pr.started).Round(time.Millisecond)

	pterm.Println()
	pterm.DefaultSection.Println("Summary")
	pterm.Info.Printf("Duration: %v\n", duration)
	pterm.Info.Printf("Scanned: %d\n", summary.Scanned)
	pterm.Info.Printf("Archived: %d\n", summary.Archived)
	pterm.Info.Printf("Dry-run archived: %d\n", summary.DryRunArchived)
	pterm.Info.Printf("Enqueued for indexing: %d\n", summary.Enqueued)
	pterm.Info.Printf("Duplicates (skipped): %d\n", summary.Duplicates)
	pterm.Info.Printf("Filtered: %d\n", summary.Filtered)
	pterm.Info.Printf("Skipped: %d\n", summary.Skipped)
	pterm.Info.Printf("Errors: %d\n", summary.Errors+summary.Failed)
	if summary.LastError != nil {
		pterm.Error.Printf("Last error: %v\n", summary.LastError)
	}

	return nil
}

// QueueTable lays out the depth of every lane, highest priority first.
func QueueTable(name string, lengths map[model.Priority]int64) pterm.TableData {
	data := pterm.TableData{{"Queue", "Priority", "Waiting"}}
	var total int64
	for _, p := range model.Priorities {
		n, ok := lengths[p]
		if !ok {
			continue
		}
		total += n
		data = append(data, []string{fmt.Sprintf("%s:%d", name, p), p.Label(), strconv.FormatInt(n, 10)})
	}
	data = append(data, []string{name, "total", strconv.FormatInt(total, 10)})
	return data
}

// RenderQueue returns the queue table as a string.
func RenderQueue(name string, lengths map[model.Priority]int64) (string, error) {
	return pterm.DefaultTable.WithHasHeader().WithData(QueueTable(name, lengths)).Srender()
}

// LengthsFunc reads the current lane depths.
type LengthsFunc func(ctx context.Context) (map[model.Priority]int64, error)

// MonitorQueue redraws the queue table every interval until ctx ends.
func MonitorQueue(ctx context.Context, name string, interval time.Duration, lengths LengthsFunc) error {
	area, err := pterm.DefaultArea.Start()
	if err != nil {
		return err
	}
	defer func() { _ = area.Stop() }()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		current, err := lengths(ctx)
		if err != nil && ctx.Err() == nil {
			area.Update(pterm.Error.Sprintf("queue unavailable: %v", err))
		} else if err == nil {
			table, err := RenderQueue(name, current)
			if err != nil {
				return err
			}
			area.Update(table + "\n" + pterm.Gray("updated "+time.Now().Format(time.TimeOnly)))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
