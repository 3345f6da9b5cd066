package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/email-archive/archive"
	"github.com/dhcgn/email-archive/document"
	"github.com/dhcgn/email-archive/index/memory"
	"github.com/dhcgn/email-archive/model"
	"github.com/dhcgn/email-archive/queue"
	"github.com/dhcgn/email-archive/retry"
)

var errConnReset = errors.New("connection reset by peer")

// fakeConn serves scripted Pop results, then reports an empty queue.
type fakeConn struct {
	mu     sync.Mutex
	script []popResult
	closed bool
}

type popResult struct {
	item model.QueueItem
	err  error
}

func (c *fakeConn) Pop(context.Context, time.Duration) (model.QueueItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.script) == 0 {
		return model.QueueItem{}, queue.ErrEmpty
	}
	next := c.script[0]
	c.script = c.script[1:]
	return next.item, next.err
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type recordingProcessor struct {
	mu    sync.Mutex
	seen  []string
	fn    func(item model.QueueItem) (retry.Outcome, error)
	after func(seen int)
}

func (p *recordingProcessor) Process(_ context.Context, item model.QueueItem) (retry.Outcome, error) {
	p.mu.Lock()
	p.seen = append(p.seen, item.Payload)
	n := len(p.seen)
	p.mu.Unlock()
	if p.after != nil {
		defer p.after(n)
	}
	if p.fn != nil {
		return p.fn(item)
	}
	return retry.Succeeded, nil
}

func (p *recordingProcessor) Seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.seen...)
}

func fastOptions() Options {
	return Options{
		PopTimeout:        10 * time.Millisecond,
		IdleInterval:      time.Millisecond,
		ReconnectInterval: 20 * time.Millisecond,
	}
}

func runUntil(t *testing.T, d *Daemon, ctx context.Context) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func item(p string) popResult {
	return popResult{item: model.QueueItem{Priority: model.PriorityNormal, Payload: p}}
}

func TestReconnectsAfterStoreFailure(t *testing.T) {
	first := &fakeConn{script: []popResult{item("a"), {err: errConnReset}}}
	second := &fakeConn{script: []popResult{item("b"), item("c")}}
	conns := []*fakeConn{first, second}

	var (
		mu       sync.Mutex
		dialed   int
		dialedAt []time.Time
	)
	connect := func(context.Context) (Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		dialedAt = append(dialedAt, time.Now())
		c := conns[dialed]
		dialed++
		return c, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proc := &recordingProcessor{after: func(n int) {
		if n == 3 {
			cancel()
		}
	}}

	d := New(connect, proc, fastOptions())
	runUntil(t, d, ctx)

	assert.Equal(t, []string{"a", "b", "c"}, proc.Seen())
	assert.Equal(t, 2, dialed)
	assert.True(t, first.isClosed(), "failed connection must be closed")
	assert.True(t, second.isClosed(), "connection is closed on exit")
	assert.GreaterOrEqual(t, dialedAt[1].Sub(dialedAt[0]), 20*time.Millisecond)

	s := d.Stats()
	assert.Equal(t, 3, s.Indexed)
	assert.Equal(t, 1, s.Reconnects)
	assert.Equal(t, StateDisconnected, d.State())
}

func TestRetriesConnectForever(t *testing.T) {
	conn := &fakeConn{script: []popResult{item("only")}}
	attempts := 0
	connect := func(context.Context) (Conn, error) {
		attempts++
		if attempts < 3 {
			return nil, errConnReset
		}
		return conn, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proc := &recordingProcessor{after: func(int) { cancel() }}

	d := New(connect, proc, fastOptions())
	runUntil(t, d, ctx)

	assert.Equal(t, 3, attempts)
	assert.Equal(t, []string{"only"}, proc.Seen())
	assert.Equal(t, 2, d.Stats().Reconnects)
}

func TestBadItemsDoNotStopTheLoop(t *testing.T) {
	conn := &fakeConn{script: []popResult{item("error"), item("panic"), item("skip"), item("good")}}
	connect := func(context.Context) (Conn, error) { return conn, nil }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proc := &recordingProcessor{
		fn: func(it model.QueueItem) (retry.Outcome, error) {
			switch it.Payload {
			case "error":
				return retry.Fatal, errors.New("corrupt file")
			case "panic":
				var m map[string]int
				m["boom"]++
			case "skip":
				return retry.Skipped, document.ErrMissingMessageID
			}
			return retry.Succeeded, nil
		},
		after: func(n int) {
			if n == 4 {
				cancel()
			}
		},
	}

	d := New(connect, proc, fastOptions())
	runUntil(t, d, ctx)

	assert.Equal(t, []string{"error", "panic", "skip", "good"}, proc.Seen())
	s := d.Stats()
	assert.Equal(t, 2, s.Failed)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, 1, s.Indexed)
}

func TestStopsWhileDisconnected(t *testing.T) {
	connect := func(context.Context) (Conn, error) { return nil, errConnReset }
	opts := fastOptions()
	opts.ReconnectInterval = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	runUntil(t, New(connect, &recordingProcessor{}, opts), ctx)
}

const archivedMessage = "Message-Id: <%s@example.com>\r\n" +
	"Date: Thu, 07 Mar 2024 15:37:05 +0100\r\n" +
	"From: alice@example.com\r\n" +
	"To: bob@example.org\r\n" +
	"Subject: %s\r\n" +
	"\r\n" +
	"hello\r\n"

func TestItemsSurviveQueueStoreRestart(t *testing.T) {
	mr := miniredis.RunT(t)
	url := "redis://" + mr.Addr()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	root, err := archive.NewRoot(t.TempDir())
	require.NoError(t, err)
	writer := archive.NewWriter(root, nil)

	producer, err := queue.Dial(ctx, url, queue.Options{})
	require.NoError(t, err)
	for _, id := range []string{"one", "two"} {
		raw := []byte(fmt.Sprintf(archivedMessage, id, id))
		rel, err := writer.Write(raw, time.Now())
		require.NoError(t, err)
		require.NoError(t, producer.Push(ctx, rel, model.PriorityNormal))
	}
	require.NoError(t, producer.Close())

	// The store goes away before the daemon starts and comes back later.
	mr.Close()
	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = mr.Restart()
	}()

	backend := memory.New(nil)
	pipeline := &Pipeline{
		Root:    root,
		Builder: document.NewBuilder(nil, nil),
		Indexer: document.NewIndexer(backend, retry.Policy{}, nil),
	}
	connect := func(ctx context.Context) (Conn, error) {
		return queue.Dial(ctx, url, queue.Options{})
	}

	d := New(connect, pipeline, fastOptions())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		return backend.Count("email-message-index-202403") == 2
	}, 10*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}
	assert.GreaterOrEqual(t, d.Stats().Reconnects, 1)
	assert.Equal(t, 2, d.Stats().Indexed)
}
