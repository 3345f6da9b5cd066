package index

import (
	"strings"
	"unicode"
)

// AddressTokens splits address field values the way the email_address
// analyzer does, for backends that cannot run it themselves. The result is
// lower-cased and free of duplicates, in first-seen order.
func AddressTokens(values ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(tok string) {
		tok = strings.ToLower(strings.Trim(tok, "<>\"'(),;"))
		if tok == "" || seen[tok] {
			return
		}
		seen[tok] = true
		out = append(out, tok)
	}

	for _, list := range values {
		for _, v := range list {
			for _, word := range strings.Fields(v) {
				add(word)
				word = strings.Trim(word, "<>\"'(),;")
				local, domain, ok := strings.Cut(word, "@")
				if !ok {
					continue
				}
				add(local)
				add(domain)
				for _, piece := range strings.FieldsFunc(local, func(r rune) bool {
					return !unicode.IsLetter(r) && !unicode.IsDigit(r)
				}) {
					add(piece)
				}
			}
		}
	}
	return out
}
