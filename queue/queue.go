// Package queue implements the durable multi-priority FIFO that hands archive
// paths from producers to the index daemon.
//
// Each priority lane is a Redis list named "<name>:<priority>". Producers
// LPUSH, consumers RPOP/BRPOP, so every lane is FIFO and a popped item is
// never visible to another consumer.
//
// Ordering: a non-blocking Pop scans lanes in precedence order and returns the
// first item found. A blocking Pop performs the same scan first and only then
// waits on all lanes at once. Redis serves a multi-key BRPOP from the first
// non-empty key in argument order, so strict precedence holds for everything
// already queued when Pop is called; among items that arrive while the
// consumer is waiting, whichever lands first is served.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dhcgn/email-archive/model"
)

var (
	// ErrEmpty is returned by Pop when no item was available before the timeout.
	ErrEmpty           = errors.New("queue empty")
	ErrInvalidPriority = errors.New("invalid priority")
)

const DefaultName = "email-archive"

type Options struct {
	Name string
	// Priorities restricts which lanes Pop drains. Empty means all lanes.
	Priorities []model.Priority
	Logger     *slog.Logger
}

type Queue struct {
	client     redis.UniversalClient
	name       string
	priorities []model.Priority
	keys       []string
	owned      bool
	logger     *slog.Logger
}

// New wraps an existing client. The caller keeps ownership of the client.
func New(client redis.UniversalClient, opts Options) (*Queue, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client must not be nil")
	}
	name := opts.Name
	if name == "" {
		name = DefaultName
	}

	priorities, err := normalizePriorities(opts.Priorities)
	if err != nil {
		return nil, err
	}

	q := &Queue{
		client:     client,
		name:       name,
		priorities: priorities,
		logger:     opts.Logger,
	}
	for _, p := range priorities {
		q.keys = append(q.keys, q.Key(p))
	}

	if q.logger != nil {
		q.logger.Debug("queue configured", "name", name, "keys", q.keys)
	}
	return q, nil
}

// Dial opens a dedicated connection to the store at url and verifies it.
// Close releases it.
func Dial(ctx context.Context, url string, opts Options) (*Queue, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse queue url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping queue store %s: %w", redisOpts.Addr, err)
	}

	q, err := New(client, opts)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	q.owned = true
	return q, nil
}

func (q *Queue) Name() string {
	return q.name
}

// Key returns the store key backing one priority lane.
func (q *Queue) Key(p model.Priority) string {
	return fmt.Sprintf("%s:%d", q.name, p)
}

// Push appends payload to the tail of the lane for priority.
func (q *Queue) Push(ctx context.Context, payload string, priority model.Priority) error {
	if !priority.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidPriority, priority)
	}
	if err := q.client.LPush(ctx, q.Key(priority), payload).Err(); err != nil {
		return fmt.Errorf("queue push %s: %w", q.Key(priority), err)
	}
	return nil
}

// Pop removes and returns one item. A timeout <= 0 only scans; otherwise Pop
// waits up to timeout for an item on any drained lane. ErrEmpty means nothing
// was available; any other error comes from the store.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (model.QueueItem, error) {
	item, err := q.scan(ctx)
	if err == nil || !errors.Is(err, ErrEmpty) || timeout <= 0 {
		return item, err
	}

	res, err := q.client.BRPop(ctx, timeout, q.keys...).Result()
	if errors.Is(err, redis.Nil) {
		return model.QueueItem{}, ErrEmpty
	}
	if err != nil {
		return model.QueueItem{}, fmt.Errorf("queue blocking pop: %w", err)
	}
	if len(res) != 2 {
		return model.QueueItem{}, fmt.Errorf("queue blocking pop: unexpected reply %v", res)
	}
	return model.QueueItem{Priority: q.priorityForKey(res[0]), Payload: res[1]}, nil
}

func (q *Queue) scan(ctx context.Context) (model.QueueItem, error) {
	for _, p := range q.priorities {
		payload, err := q.client.RPop(ctx, q.Key(p)).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return model.QueueItem{}, fmt.Errorf("queue pop %s: %w", q.Key(p), err)
		}
		return model.QueueItem{Priority: p, Payload: payload}, nil
	}
	return model.QueueItem{}, ErrEmpty
}

// Len returns the number of items waiting in one lane.
func (q *Queue) Len(ctx context.Context, priority model.Priority) (int64, error) {
	if !priority.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidPriority, priority)
	}
	n, err := q.client.LLen(ctx, q.Key(priority)).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length %s: %w", q.Key(priority), err)
	}
	return n, nil
}

// Lengths returns the depth of every drained lane.
func (q *Queue) Lengths(ctx context.Context) (map[model.Priority]int64, error) {
	out := make(map[model.Priority]int64, len(q.priorities))
	for _, p := range q.priorities {
		n, err := q.Len(ctx, p)
		if err != nil {
			return nil, err
		}
		out[p] = n
	}
	return out, nil
}

// TotalLen sums the depth of every drained lane.
func (q *Queue) TotalLen(ctx context.Context) (int64, error) {
	lengths, err := q.Lengths(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, n := range lengths {
		total += n
	}
	return total, nil
}

// Close releases the connection when the queue was opened with Dial.
func (q *Queue) Close() error {
	if !q.owned {
		return nil
	}
	return q.client.Close()
}

func (q *Queue) String() string {
	return fmt.Sprintf("<Queue %q lanes=%v>", q.name, q.priorities)
}

func (q *Queue) priorityForKey(key string) model.Priority {
	for _, p := range q.priorities {
		if q.Key(p) == key {
			return p
		}
	}
	return 0
}

func normalizePriorities(in []model.Priority) ([]model.Priority, error) {
	if len(in) == 0 {
		return append([]model.Priority(nil), model.Priorities...), nil
	}
	wanted := make(map[model.Priority]bool, len(in))
	for _, p := range in {
		if !p.Valid() {
			return nil, fmt.Errorf("%w: %d", ErrInvalidPriority, p)
		}
		wanted[p] = true
	}
	out := make([]model.Priority, 0, len(wanted))
	for _, p := range model.Priorities {
		if wanted[p] {
			out = append(out, p)
		}
	}
	return out, nil
}
