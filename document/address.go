package document

import (
	"strings"

	"github.com/emersion/go-message/mail"
)

// tokenizeAddresses turns an address header into index tokens: the display
// name and the address of every entry. A display name that merely repeats the
// local part is dropped. Entries that do not parse are skipped. An empty
// header yields nil.
func tokenizeAddresses(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}

	addrs, err := mail.ParseAddressList(value)
	if err != nil {
		addrs = addrs[:0]
		for _, piece := range strings.Split(value, ",") {
			if a, err := mail.ParseAddress(strings.TrimSpace(piece)); err == nil {
				addrs = append(addrs, a)
			}
		}
	}

	var tokens []string
	for _, a := range addrs {
		name := strings.Trim(strings.TrimSpace(a.Name), `'"`)
		address := strings.TrimSpace(a.Address)
		local, _, _ := strings.Cut(address, "@")
		if name != "" && name != local {
			tokens = append(tokens, name)
		}
		if address != "" {
			tokens = append(tokens, address)
		}
	}
	return tokens
}

// joinForID joins address tokens for the document id. An empty list
// contributes "N;o;n;e" so ids stay stable across reindexing of data
// written before this code existed.
func joinForID(tokens []string) string {
	if len(tokens) == 0 {
		return "N;o;n;e"
	}
	return strings.Join(tokens, ";")
}
