package identifiers

import (
	"regexp"
	"strings"
)

var orcidPattern = regexp.MustCompile(`^\d{4}-\d{4}-\d{4}-\d{3}[\dX]$`)

// NormalizeORCID strips the orcid.org URL prefix Crossref returns and
// upper-cases the check digit.
func NormalizeORCID(raw string) string {
	id := strings.TrimSpace(raw)
	lower := strings.ToLower(id)
	for _, p := range []string{"https://orcid.org/", "http://orcid.org/", "orcid.org/"} {
		if strings.HasPrefix(lower, p) {
			id = id[len(p):]
			break
		}
	}
	id = strings.ToUpper(strings.Trim(id, "/"))
	if !orcidPattern.MatchString(id) {
		return ""
	}
	return id
}
