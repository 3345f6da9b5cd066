package elastic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/email-archive/index"
	"github.com/dhcgn/email-archive/model"
)

type request struct {
	method string
	path   string
	body   string
}

// fakeCluster answers like a single Elasticsearch node keeping only the set of
// existing indices.
type fakeCluster struct {
	mu       sync.Mutex
	indices  map[string]bool
	requests []request
	status   int
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, request{r.Method, r.URL.Path, string(body)})

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	if f.status != 0 {
		w.WriteHeader(f.status)
		_, _ = io.WriteString(w, `{"error":{"type":"unavailable","reason":"busy"},"status":503}`)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	name := parts[0]
	switch {
	case r.Method == http.MethodPut && len(parts) == 1:
		if f.indices[name] {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":{"type":"resource_already_exists_exception","reason":"exists"},"status":400}`)
			return
		}
		f.indices[name] = true
		_, _ = io.WriteString(w, `{"acknowledged":true,"index":"`+name+`"}`)
	case len(parts) == 3 && parts[1] == "_doc":
		if !f.indices[name] {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":{"type":"index_not_found_exception","reason":"no such index [`+name+`]"},"status":404}`)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"result":"created"}`)
	default:
		_, _ = io.WriteString(w, `{"version":{"number":"8.15.0"}}`)
	}
}

func newTestBackend(t *testing.T) (*Backend, *fakeCluster) {
	t.Helper()
	fake := &fakeCluster{indices: map[string]bool{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	b, err := New(Options{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return b, fake
}

func testDoc() model.Document {
	body := "hello"
	return model.Document{
		MessageID:   "<1@example.com>",
		Path:        "2024/03/07/1430/1437-a.eml.gz",
		From:        []string{"alice@example.com"},
		Attachments: []model.AttachmentRef{{Filename: "a.pdf", MIMEType: "application/pdf"}},
		Subject:     "hi",
		Body:        &body,
		Timestamp:   time.Date(2024, 3, 7, 14, 37, 0, 0, time.UTC),
	}
}

func TestUpsertMissingIndex(t *testing.T) {
	b, _ := newTestBackend(t)
	err := b.Upsert(context.Background(), "email-message-index-202403", "abc", testDoc())
	assert.ErrorIs(t, err, index.ErrPartitionNotFound)
}

func TestCreateSendsMappingAndUpsertWritesDocument(t *testing.T) {
	b, fake := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.CreatePartition(ctx, "email-message-index-202403"))
	require.NoError(t, b.CreatePartition(ctx, "email-message-index-202403"), "existing index is not an error")
	require.NoError(t, b.Upsert(ctx, "email-message-index-202403", "abc", testDoc()))

	require.Len(t, fake.requests, 3)
	create := fake.requests[0]
	assert.Equal(t, http.MethodPut, create.method)
	assert.JSONEq(t, string(index.Mapping), create.body)

	put := fake.requests[2]
	assert.Equal(t, "/email-message-index-202403/_doc/abc", put.path)

	var sent map[string]any
	require.NoError(t, json.Unmarshal([]byte(put.body), &sent))
	assert.Equal(t, "<1@example.com>", sent["message_id"])
	assert.Equal(t, "2024-03-07T14:37:00Z", sent["@timestamp"])
	assert.Equal(t, []any{[]any{"a.pdf", "application/pdf"}}, sent["attachments"])
	assert.Equal(t, "hello", sent["body"])
}

func TestUnavailableIsTransient(t *testing.T) {
	b, fake := newTestBackend(t)
	fake.status = http.StatusServiceUnavailable

	err := b.Upsert(context.Background(), "email-message-index-202403", "abc", testDoc())
	assert.True(t, index.IsTransient(err), "got %v", err)
	assert.NotErrorIs(t, err, index.ErrPartitionNotFound)
}
