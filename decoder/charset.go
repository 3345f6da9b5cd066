package decoder

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

// charsetAliases maps labels seen in the wild that neither the WHATWG nor
// the IANA tables know.
var charsetAliases = map[string]string{
	"we8iso8859p1":      "iso-8859-1",
	"we8mswin1252":      "windows-1252",
	"al32utf8":          "utf-8",
	"utf8":              "utf-8",
	"gb-18030":          "gb18030",
	"x-mac-roman":       "macintosh",
	"iso-8859-8-i":      "iso-8859-8",
	"unicode-1-1-utf-8": "utf-8",
}

var cpDash = regexp.MustCompile(`^cp-(\d+)$`)

var replacementChar = []byte(string(utf8.RuneError))

// normalizeCharset cleans up a declared charset label. The empty string means
// no usable declaration.
func normalizeCharset(label string) string {
	name := strings.ToLower(strings.Trim(strings.TrimSpace(label), `"'`))
	switch name {
	case "", "unknown", "unknown-8bit", "x-unknown", "default":
		return ""
	}
	name = cpDash.ReplaceAllString(name, "cp$1")
	if alias, ok := charsetAliases[name]; ok {
		name = alias
	}
	return name
}

// lookupCharset resolves a normalized label. A nil encoding with canonical
// name "utf-8" means UTF-8; an empty canonical name means unknown.
func lookupCharset(name string) (encoding.Encoding, string) {
	if name == "utf-8" {
		return nil, "utf-8"
	}
	if enc, canonical := charset.Lookup(name); enc != nil {
		if canonical == "utf-8" {
			return nil, canonical
		}
		return enc, canonical
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, ""
	}
	canonical, err := ianaindex.IANA.Name(enc)
	if err != nil || canonical == "" {
		canonical = name
	}
	canonical = strings.ToLower(canonical)
	if canonical == "utf-8" {
		return nil, canonical
	}
	return enc, canonical
}

// detectCharset guesses the charset of undeclared content. Valid UTF-8 wins,
// HTML may name its charset in a meta tag, anything else goes to the
// statistical detector.
func (d *Decoder) detectCharset(raw []byte, isHTML bool) string {
	if utf8.Valid(raw) {
		return "utf-8"
	}
	if isHTML {
		// windows-1252 is what DetermineEncoding falls back to when it
		// found nothing, so only trust other answers.
		if _, name, _ := charset.DetermineEncoding(raw, "text/html"); name != "" && name != "windows-1252" {
			return name
		}
	}
	res, err := d.detector.DetectBest(raw)
	if err != nil || res == nil {
		return "utf-8"
	}
	return normalizeCharset(res.Charset)
}

// decodeStrict converts raw to UTF-8 and fails if any byte sequence was not
// valid in the charset. NUL bytes never occur in mail text and are taken as
// a sign of binary content.
func decodeStrict(enc encoding.Encoding, raw []byte) (string, error) {
	if enc == nil {
		if !utf8.Valid(raw) {
			return "", fmt.Errorf("invalid utf-8 at byte %d", invalidOffset(raw))
		}
		if i := bytes.IndexByte(raw, 0); i >= 0 {
			return "", fmt.Errorf("NUL byte at %d", i)
		}
		return string(raw), nil
	}

	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", err
	}
	if i := bytes.Index(out, replacementChar); i >= 0 {
		return "", fmt.Errorf("undecodable sequence near output byte %d", i)
	}
	if i := bytes.IndexByte(out, 0); i >= 0 {
		return "", fmt.Errorf("NUL byte at %d", i)
	}
	return string(out), nil
}

// decodeLossy always succeeds, substituting U+FFFD for anything undecodable.
func decodeLossy(enc encoding.Encoding, raw []byte) string {
	var s string
	if enc != nil {
		if out, err := enc.NewDecoder().Bytes(raw); err == nil {
			s = string(out)
		}
	}
	if s == "" {
		s = strings.ToValidUTF8(string(raw), string(utf8.RuneError))
	}
	return strings.ReplaceAll(s, "\x00", "")
}

func invalidOffset(b []byte) int {
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size <= 1 {
			return i
		}
		i += size
	}
	return -1
}
