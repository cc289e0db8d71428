package ingest

import (
	"strings"
)

// KeywordFilter is a per-source inclusion gate over an entry's title and
// summary. The zero value admits everything.
type KeywordFilter struct {
	terms []string
}

// ParseKeywordFilter reads a comma-separated list of bare words and quoted
// phrases, e.g. `cancer, "gene therapy"`. Splitting happens on every comma,
// so a quoted phrase cannot itself contain one.
func ParseKeywordFilter(raw string) KeywordFilter {
	var terms []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if len(part) > 1 && strings.HasPrefix(part, `"`) && strings.HasSuffix(part, `"`) {
			part = strings.TrimSpace(part[1 : len(part)-1])
		}
		if part == "" {
			continue
		}
		terms = append(terms, strings.ToLower(part))
	}
	return KeywordFilter{terms: terms}
}

// IsEmpty reports whether the filter has no terms.
func (f KeywordFilter) IsEmpty() bool {
	return len(f.terms) == 0
}

// Terms returns the lower-cased terms.
func (f KeywordFilter) Terms() []string {
	return append([]string(nil), f.terms...)
}

// Match reports whether any term occurs, case-insensitively, in
// title + " " + summary. An empty filter matches everything.
func (f KeywordFilter) Match(title, summary string) bool {
	if f.IsEmpty() {
		return true
	}
	text := strings.ToLower(title + " " + summary)
	for _, term := range f.terms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}
