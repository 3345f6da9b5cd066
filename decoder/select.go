package decoder

import (
	"strings"

	"github.com/dhcgn/email-archive/model"
)

// BodyPart returns the part holding the message text: the top-level entity
// of a single-part message, otherwise the last text/html leaf or, failing
// that, the last text/plain leaf. Parts marked as attachments never qualify.
func (m *Message) BodyPart() *Part {
	if len(m.Parts) == 0 {
		return nil
	}
	if !m.IsMultipart() {
		return m.Parts[0]
	}
	html, plain := m.candidates()
	if html != nil {
		return html
	}
	return plain
}

func (m *Message) candidates() (html, plain *Part) {
	for _, p := range m.Parts {
		if p.Multipart || p.isAttachment() {
			continue
		}
		switch p.MediaType {
		case "text/html":
			html = p
		case "text/plain":
			plain = p
		}
	}
	return html, plain
}

// Attachments lists every leaf that is not body text, in message order.
// Inline text fragments without a file name belong to the body and are left
// out.
func (m *Message) Attachments() []model.AttachmentRef {
	body := m.BodyPart()
	html, plain := m.candidates()

	var out []model.AttachmentRef
	for _, p := range m.Parts {
		if p.Multipart || strings.HasPrefix(p.MediaType, "multipart/") {
			continue
		}
		if p == body && strings.HasPrefix(p.MediaType, "text/") {
			continue
		}
		name := p.filename()
		if m.IsMultipart() {
			if p == html || p == plain {
				continue
			}
			isText := p.MediaType == "text/plain" || p.MediaType == "text/html"
			if isText && name == "" && !p.isAttachment() {
				continue
			}
		}
		if name == "" {
			name = defaultAttachmentName
		}
		out = append(out, model.AttachmentRef{Filename: name, MIMEType: p.MediaType})
	}
	return out
}
