package identifiers

import (
	"net/url"
	"strings"
)

// RemoveUTM drops utm_* tracking parameters from a link. Links that do not
// parse are returned unchanged.
func RemoveUTM(link string) string {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil || u.RawQuery == "" {
		return strings.TrimSpace(link)
	}

	query := u.Query()
	removed := false
	for key := range query {
		if strings.HasPrefix(strings.ToLower(key), "utm_") {
			query.Del(key)
			removed = true
		}
	}
	if !removed {
		return u.String()
	}
	u.RawQuery = query.Encode()
	return u.String()
}

// CleanTitle trims a title and collapses its runs of whitespace. Titles are
// written in this form, so a title lookup never depends on spacing.
func CleanTitle(title string) string {
	return strings.Join(strings.Fields(title), " ")
}

// TitleKey is the case-insensitive comparison key for title matching. It
// matches the lower(title) comparison and index used in PostgreSQL.
func TitleKey(title string) string {
	return strings.ToLower(title)
}
