package filter

import (
	"bufio"
	"strings"
	"testing"

	"github.com/emersion/go-message/textproto"
)

func TestFilter_Allows(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		raw  string
		want bool
	}{
		{"no filters", Options{}, "Subject: Any\n\nbody", true},
		{"include header match", Options{IncludeHeader: []string{"Subject: Test"}}, "Subject: Test Message\nFrom: a@example.com\n\nbody", true},
		{"include header miss", Options{IncludeHeader: []string{"Subject: Test"}}, "Subject: Other\n\nbody", false},
		{"include header ignores body", Options{IncludeHeader: []string{"Subject: Test"}}, "Subject: Other\n\nSubject: Test", false},
		{"include body match", Options{IncludeBody: []string{"important"}}, "Subject: x\r\n\r\nan important note", true},
		{"exclude header match", Options{ExcludeHeader: []string{"spam"}}, "Subject: This is spam\n\nbody", false},
		{"exclude header miss", Options{ExcludeHeader: []string{"spam"}}, "Subject: Normal\n\nbody", true},
		{"exclude body match", Options{ExcludeBody: []string{"(?i)unsubscribe"}}, "Subject: x\n\nClick to Unsubscribe", false},
		{"header only message", Options{ExcludeBody: []string{"x"}}, "Subject: x", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := New(tt.opts)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if got := f.Allows([]byte(tt.raw)); got != tt.want {
				t.Errorf("Allows() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilter_MutuallyExclusive(t *testing.T) {
	_, err := New(Options{IncludeHeader: []string{"test"}, ExcludeHeader: []string{"spam"}})
	if err == nil {
		t.Error("Expected error when both include and exclude are specified")
	}
}

func TestFilter_InvalidPattern(t *testing.T) {
	if _, err := New(Options{IncludeBody: []string{"("}}); err == nil {
		t.Error("Expected error for invalid regex")
	}
}

func TestSplitRawMessage(t *testing.T) {
	tests := []struct {
		raw        string
		wantHeader string
		wantBody   string
	}{
		{"A: 1\r\n\r\nbody", "A: 1", "body"},
		{"A: 1\n\nbody", "A: 1", "body"},
		{"A: 1", "A: 1", ""},
		{"", "", ""},
	}
	for _, tt := range tests {
		header, body := SplitRawMessage([]byte(tt.raw))
		if string(header) != tt.wantHeader || string(body) != tt.wantBody {
			t.Errorf("SplitRawMessage(%q) = %q, %q", tt.raw, header, body)
		}
	}
}

func header(t *testing.T, raw string) textproto.Header {
	t.Helper()
	h, err := textproto.ReadHeader(bufio.NewReader(strings.NewReader(raw + "\r\n")))
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func TestDomains_Match(t *testing.T) {
	d := NewDomains([]string{"Example.COM", " ", "archive.org"})

	tests := []struct {
		name   string
		header string
		want   string
		match  bool
	}{
		{"to matches case-insensitively", "To: Bob <bob@EXAMPLE.com>\r\n", "example.com", true},
		{"from matches", "From: alice@archive.org\r\n", "archive.org", true},
		{"cc second entry", "Cc: x@other.net, y@example.com\r\n", "example.com", true},
		{"bcc matches", "Bcc: z@archive.org\r\n", "archive.org", true},
		{"subject is ignored", "Subject: example.com\r\nTo: a@other.net\r\n", "", false},
		{"local part matches too", "To: example.com@other.net\r\n", "example.com", true},
		{"no address headers", "Subject: hi\r\n", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := d.Match(header(t, tt.header))
			if ok != tt.match || got != tt.want {
				t.Errorf("Match() = %q, %v, want %q, %v", got, ok, tt.want, tt.match)
			}
		})
	}
}

func TestDomains_Empty(t *testing.T) {
	var nilDomains *Domains
	if !nilDomains.Empty() || !NewDomains(nil).Empty() {
		t.Error("expected empty matchers")
	}
	if _, ok := NewDomains(nil).Match(header(t, "To: a@example.com\r\n")); ok {
		t.Error("empty matcher must not match")
	}
}
