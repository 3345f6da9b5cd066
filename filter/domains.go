package filter

import (
	"strings"

	"github.com/emersion/go-message/textproto"
)

// addressHeaders are the headers consulted by Domains.
var addressHeaders = []string{"To", "From", "Cc", "Bcc"}

// Domains triggers archiving for messages exchanged with archived domains.
// Matching is a case-insensitive substring test on every comma separated
// entry of the address headers, so a domain appearing in a local part or a
// display name matches too.
type Domains struct {
	domains []string
}

func NewDomains(domains []string) *Domains {
	d := &Domains{}
	for _, domain := range domains {
		if domain = strings.ToLower(strings.TrimSpace(domain)); domain != "" {
			d.domains = append(d.domains, domain)
		}
	}
	return d
}

func (d *Domains) Empty() bool {
	return d == nil || len(d.domains) == 0
}

// Match reports the first archived domain found in the address headers.
func (d *Domains) Match(h textproto.Header) (string, bool) {
	if d.Empty() {
		return "", false
	}
	for _, key := range addressHeaders {
		for _, value := range h.Values(key) {
			if domain, ok := d.matchValue(value); ok {
				return domain, true
			}
		}
	}
	return "", false
}

func (d *Domains) matchValue(value string) (string, bool) {
	for _, entry := range strings.Split(strings.ToLower(value), ",") {
		for _, domain := range d.domains {
			if strings.Contains(entry, domain) {
				return domain, true
			}
		}
	}
	return "", false
}
