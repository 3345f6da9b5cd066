package decoder

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/microcosm-cc/bluemonday"
	"github.com/saintfish/chardet"

	"github.com/dhcgn/email-archive/model"
)

// sniffLen is how much of an undecodable body is inspected to tell text
// from binary.
const sniffLen = 4096

const defaultAttachmentName = "unknown.bin"

// Body is the decoded text of the body part.
type Body struct {
	// Text is nil when the message has no usable text body.
	Text      *string
	MediaType string
	Charset   string
	Sanitized bool
	Lossy     bool
}

type Result struct {
	Body        Body
	Attachments []model.AttachmentRef
	Warnings    []string
}

type Decoder struct {
	logger   *slog.Logger
	policy   *bluemonday.Policy
	detector *chardet.Detector
}

func New(logger *slog.Logger) *Decoder {
	return &Decoder{
		logger:   logger,
		policy:   newTextPolicy(),
		detector: chardet.NewTextDetector(),
	}
}

// Decode extracts the body text and attachment list of m.
func (d *Decoder) Decode(m *Message) Result {
	res := Result{
		Warnings:    append([]string(nil), m.Warnings...),
		Attachments: m.Attachments(),
	}

	part := m.BodyPart()
	if part == nil {
		return res
	}

	body, reclassified, warnings := d.decodeBody(part)
	res.Body = body
	res.Warnings = append(res.Warnings, warnings...)
	if reclassified != nil {
		res.Attachments = append(res.Attachments, *reclassified)
	}

	if d.logger != nil {
		d.logger.Debug("Body decoded",
			"media_type", body.MediaType,
			"charset", body.Charset,
			"has_text", body.Text != nil,
			"lossy", body.Lossy,
			"attachments", len(res.Attachments))
	}
	return res
}

// decodeBody runs the decoding cascade on the body part. Content that turns
// out to be binary is returned as an attachment instead of text.
func (d *Decoder) decodeBody(p *Part) (Body, *model.AttachmentRef, []string) {
	body := Body{MediaType: p.MediaType}
	if !strings.HasPrefix(p.MediaType, "text/") {
		return body, nil, nil
	}

	var warnings []string
	raw := transferDecode(p.Header.Get("Content-Transfer-Encoding"), p.Body)
	isHTML := p.MediaType == "text/html"

	name := normalizeCharset(p.Params["charset"])
	if name == "" {
		name = d.detectCharset(raw, isHTML)
	}
	enc, canonical := lookupCharset(name)
	if canonical == "" {
		warnings = append(warnings, fmt.Sprintf("unknown charset %q, decoding as utf-8", name))
		canonical = "utf-8"
	}
	body.Charset = canonical

	text, err := decodeStrict(enc, raw)
	if err != nil {
		sniffed := mimetype.Detect(raw[:min(len(raw), sniffLen)])
		if isBinary(sniffed) {
			ref := model.AttachmentRef{Filename: p.filename(), MIMEType: baseType(sniffed)}
			if ref.Filename == "" {
				ref.Filename = "body" + extension(sniffed)
			}
			warnings = append(warnings, fmt.Sprintf("%s body is %s, kept as attachment %s", p.MediaType, ref.MIMEType, ref.Filename))
			empty := ""
			body.Text = &empty
			return body, &ref, warnings
		}
		warnings = append(warnings, fmt.Sprintf("decoding %s as %s failed: %v; using lossy decoding", p.MediaType, canonical, err))
		text = decodeLossy(enc, raw)
		body.Lossy = true
	}

	if isHTML {
		text = d.stripHTML(text)
		body.Sanitized = true
	}
	body.Text = &text
	return body, nil, warnings
}

// isBinary reports whether m names a recognised non-text format. The
// generic octet-stream fallback means nothing was recognised and the part
// is still decoded as text.
func isBinary(m *mimetype.MIME) bool {
	return !m.Is("application/octet-stream") && !isTextual(m)
}

func isTextual(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

func baseType(m *mimetype.MIME) string {
	t, _, _ := strings.Cut(m.String(), ";")
	return strings.TrimSpace(t)
}

func extension(m *mimetype.MIME) string {
	if ext := m.Extension(); ext != "" {
		return ext
	}
	return ".bin"
}
