package filter

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
)

// Options captures the regex filters applied to imported messages.
type Options struct {
	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
}

// Filter decides which imported messages enter the archive. Include and
// exclude lists are mutually exclusive.
type Filter struct {
	include patternSet
	exclude patternSet
}

type patternSet struct {
	header []*regexp.Regexp
	body   []*regexp.Regexp
}

func (s patternSet) active() bool {
	return len(s.header) > 0 || len(s.body) > 0
}

// match reports whether any header pattern matches header or any body
// pattern matches body.
func (s patternSet) match(header, body []byte) bool {
	for _, re := range s.header {
		if re.Match(header) {
			return true
		}
	}
	for _, re := range s.body {
		if re.Match(body) {
			return true
		}
	}
	return false
}

func New(opts Options) (*Filter, error) {
	var (
		f   Filter
		err error
	)
	lists := []struct {
		name     string
		patterns []string
		dst      *[]*regexp.Regexp
	}{
		{"include-header", opts.IncludeHeader, &f.include.header},
		{"include-body", opts.IncludeBody, &f.include.body},
		{"exclude-header", opts.ExcludeHeader, &f.exclude.header},
		{"exclude-body", opts.ExcludeBody, &f.exclude.body},
	}
	for _, l := range lists {
		if *l.dst, err = compilePatterns(l.patterns); err != nil {
			return nil, fmt.Errorf("compile %s pattern: %w", l.name, err)
		}
	}

	if f.include.active() && f.exclude.active() {
		return nil, fmt.Errorf("include and exclude filters are mutually exclusive")
	}
	return &f, nil
}

// Active reports whether any pattern is configured.
func (f *Filter) Active() bool {
	return f.include.active() || f.exclude.active()
}

// Allows reports whether a raw message passes the filter.
func (f *Filter) Allows(raw []byte) bool {
	if !f.Active() {
		return true
	}
	header, body := SplitRawMessage(raw)
	return f.AllowsParts(header, body)
}

// AllowsParts is Allows for a message already split into header and body.
func (f *Filter) AllowsParts(header, body []byte) bool {
	if f.include.active() {
		return f.include.match(header, body)
	}
	return !f.exclude.match(header, body)
}

// SplitRawMessage splits a raw email message into header and body parts.
func SplitRawMessage(raw []byte) (header, body []byte) {
	if len(raw) == 0 {
		return nil, nil
	}

	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return raw[:idx], raw[idx+4:]
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return raw[:idx], raw[idx+2:]
	}

	return raw, nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}
