package filter

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/emersion/go-message/textproto"
)

var benchRaw = []byte("From: test@example.com\r\nTo: user@example.com\r\nSubject: Test\r\n\r\n" +
	strings.Repeat("This is a test message body with some content.\r\n", 200))

func BenchmarkFilter_Allows_NoFilters(b *testing.B) {
	f, err := New(Options{})
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Allows(benchRaw)
	}
}

func BenchmarkFilter_Allows_IncludeHeader(b *testing.B) {
	f, err := New(Options{IncludeHeader: []string{`From:.*@example\.com`}})
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Allows(benchRaw)
	}
}

func BenchmarkFilter_Allows_ExcludeBody(b *testing.B) {
	f, err := New(Options{ExcludeBody: []string{"(?i)unsubscribe", "newsletter"}})
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Allows(benchRaw)
	}
}

func BenchmarkDomains_Match(b *testing.B) {
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(benchRaw)))
	if err != nil {
		b.Fatal(err)
	}
	d := NewDomains([]string{"archive.org", "example.net", "example.com"})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.Match(h)
	}
}
