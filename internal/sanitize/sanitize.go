// Package sanitize turns the HTML fragments found in feed summaries and
// Crossref JATS abstracts into plain text.
//
// Markup is removed, character entities are kept escaped (so "A &amp; B"
// stays as written) and whitespace is collapsed.
package sanitize

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	// bluemonday policies are safe for concurrent use once built.
	strict = bluemonday.StrictPolicy()

	blockBreak = regexp.MustCompile(`(?i)<\s*br\s*/?\s*>|<\s*/\s*(p|div|li|h[1-6]|jats:p|jats:title|jats:sec)\s*>`)
	spaceRun   = regexp.MustCompile(`[ \t\f\v\r\x{00a0}]+`)

	// The strict policy escapes quotes as numeric entities; feed text reads
	// better with them restored.
	quoteUnescaper = strings.NewReplacer("&#39;", "'", "&#34;", `"`)
)

// Summary strips markup and keeps line structure: block-level closings and
// <br> become line breaks, runs of spaces collapse to one and blank lines
// are dropped.
func Summary(fragment string) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}
	text := blockBreak.ReplaceAllString(fragment, "\n")
	text = quoteUnescaper.Replace(strict.Sanitize(text))

	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(spaceRun.ReplaceAllString(line, " "))
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// Inline strips markup and collapses all whitespace, including line breaks,
// to single spaces.
func Inline(fragment string) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}
	text := blockBreak.ReplaceAllString(fragment, " ")
	text = quoteUnescaper.Replace(strict.Sanitize(text))
	return strings.Join(strings.Fields(text), " ")
}

// AfterFirstBreak returns the part of fragment after its first <br>, or the
// whole fragment when there is no break or nothing follows it. Publisher
// feeds put a citation line before the break and the abstract after it.
func AfterFirstBreak(fragment string) string {
	loc := firstBreak.FindStringIndex(fragment)
	if loc == nil {
		return fragment
	}
	rest := strings.TrimSpace(fragment[loc[1]:])
	if rest == "" {
		return fragment
	}
	return rest
}

var firstBreak = regexp.MustCompile(`(?i)<\s*br\s*/?\s*>`)
