package identifiers

import (
	"strings"
)

var doiPrefixes = []string{
	"https://doi.org/",
	"http://doi.org/",
	"https://dx.doi.org/",
	"http://dx.doi.org/",
	"doi.org/",
	"dx.doi.org/",
	"doi:",
}

// NormalizeDOI returns the bare form of a DOI ("10.1/ABC") from any of the
// URL or label encodings feeds use. Case is preserved.
func NormalizeDOI(raw string) string {
	doi := strings.TrimSpace(raw)
	for {
		stripped := stripDOIPrefix(doi)
		if stripped == doi {
			break
		}
		doi = strings.TrimSpace(stripped)
	}

	doi = strings.TrimRight(doi, ".,; ")
	if !strings.HasPrefix(doi, "10.") || !strings.Contains(doi, "/") {
		return ""
	}
	return doi
}

func stripDOIPrefix(s string) string {
	lower := strings.ToLower(s)
	for _, p := range doiPrefixes {
		if strings.HasPrefix(lower, p) {
			return s[len(p):]
		}
	}
	return s
}

// DOIKey is the comparison key for a DOI. DOIs are case-insensitive, so two
// DOIs that differ only in case identify the same work.
func DOIKey(doi string) string {
	return strings.ToLower(NormalizeDOI(doi))
}
