// Package decoder turns a raw RFC 5322 message into searchable text: it walks
// the MIME tree, picks the body part, undoes transfer encodings, resolves the
// character set through a cascade of fallbacks, strips HTML and lists
// everything else as attachments.
package decoder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/textproto"
)

// maxDepth bounds multipart nesting.
const maxDepth = 32

var ErrUnreadableHeader = errors.New("unreadable message header")

// Part is one MIME entity. Leaf bodies are kept as transmitted, before any
// transfer decoding.
type Part struct {
	Header    textproto.Header
	MediaType string
	Params    map[string]string
	Body      []byte
	// Multipart is set for container parts; their Body is empty.
	Multipart bool
	Depth     int
}

// Message is a parsed message. Parts holds every entity in depth-first order,
// the top-level entity first.
type Message struct {
	Header textproto.Header
	Parts  []*Part
	// Warnings collects structural problems found while parsing.
	Warnings []string
}

// Parse reads a message. Only an unreadable top-level header is an error;
// a damaged multipart structure yields the parts read so far.
func Parse(r io.Reader) (*Message, error) {
	br := bufio.NewReader(r)
	h, err := textproto.ReadHeader(br)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreadableHeader, err)
	}

	m := &Message{Header: h}
	m.walk(h, br, 0)
	return m, nil
}

// IsMultipart reports whether the top-level entity is a multipart container.
func (m *Message) IsMultipart() bool {
	return len(m.Parts) > 0 && m.Parts[0].Multipart
}

func (m *Message) walk(h textproto.Header, body io.Reader, depth int) {
	mediaType, params := contentType(h)
	p := &Part{Header: h, MediaType: mediaType, Params: params, Depth: depth}
	m.Parts = append(m.Parts, p)

	boundary := params["boundary"]
	if strings.HasPrefix(mediaType, "multipart/") && boundary != "" && depth < maxDepth {
		p.Multipart = true
		mr := textproto.NewMultipartReader(body, boundary)
		for {
			sub, err := mr.NextPart()
			if err == io.EOF {
				return
			}
			if err != nil {
				m.Warnings = append(m.Warnings, fmt.Sprintf("multipart %s at depth %d: %v", mediaType, depth, err))
				return
			}
			m.walk(sub.Header, sub, depth+1)
		}
	}

	data, err := io.ReadAll(body)
	if err != nil {
		m.Warnings = append(m.Warnings, fmt.Sprintf("read %s body: %v", mediaType, err))
	}
	p.Body = data
}

// contentType returns the lower-cased media type and its parameters. A missing
// header means text/plain. Malformed parameters are salvaged one by one.
func contentType(h textproto.Header) (string, map[string]string) {
	raw := h.Get("Content-Type")
	if strings.TrimSpace(raw) == "" {
		return "text/plain", map[string]string{}
	}

	mh := message.Header{Header: h}
	t, params, err := mh.ContentType()
	if err != nil {
		t, params = salvageParams(raw)
	}
	if params == nil {
		params = map[string]string{}
	}
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "" || !strings.Contains(t, "/") {
		t = "text/plain"
	}
	return t, params
}

func salvageParams(raw string) (string, map[string]string) {
	pieces := strings.Split(raw, ";")
	params := make(map[string]string)
	for _, piece := range pieces[1:] {
		k, v, ok := strings.Cut(piece, "=")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.Trim(strings.TrimSpace(v), `"'`)
		if k != "" {
			params[k] = v
		}
	}
	return pieces[0], params
}

// filename returns the part's file name from Content-Disposition, falling
// back to the Content-Type name parameter.
func (p *Part) filename() string {
	mh := message.Header{Header: p.Header}
	if _, params, err := mh.ContentDisposition(); err == nil && params["filename"] != "" {
		return params["filename"]
	}
	return p.Params["name"]
}

// isAttachment reports an explicit attachment disposition.
func (p *Part) isAttachment() bool {
	mh := message.Header{Header: p.Header}
	disp, _, err := mh.ContentDisposition()
	if err != nil {
		raw := strings.ToLower(p.Header.Get("Content-Disposition"))
		return strings.HasPrefix(strings.TrimSpace(raw), "attachment")
	}
	return strings.EqualFold(disp, "attachment")
}
