package decoder

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

func newTextPolicy() *bluemonday.Policy {
	p := bluemonday.StrictPolicy()
	p.AddSpaceWhenStrippingTag(true)
	return p
}

// stripHTML reduces markup to its visible text with whitespace collapsed.
// Script and style contents are dropped.
func (d *Decoder) stripHTML(s string) string {
	text := html.UnescapeString(d.policy.Sanitize(s))
	return strings.Join(strings.Fields(text), " ")
}
