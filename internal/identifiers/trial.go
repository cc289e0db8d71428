package identifiers

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/helixir/research-feed-service/internal/domain"
)

var (
	nctPattern     = regexp.MustCompile(`^NCT\d{8}$`)
	eudractPattern = regexp.MustCompile(`^\d{4}-\d{6}-\d{2}$`)
	euctPattern    = regexp.MustCompile(`^\d{4}-\d{6}-\d{2}(-\d{2})?$`)

	nctSearch           = regexp.MustCompile(`(?i)\bNCT\d{8}\b`)
	eudractNumberInLink = regexp.MustCompile(`(?i)eudract_number%3A(\d{4}-\d{6}-\d{2})`)
	euctParamInLink     = regexp.MustCompile(`EUCT=(\d{4}-\d{6}-\d{2}(?:-\d{2})?)`)
	eudractParamInLink  = regexp.MustCompile(`EUDRACT=(\d{4}-\d{6}-\d{2})`)
)

// NormalizeTrialID validates and canonicalizes a registry identifier of the
// given kind. It returns "" when raw is not a valid identifier of that kind.
func NormalizeTrialID(kind domain.TrialIDKind, raw string) string {
	id := strings.TrimSpace(raw)
	id = strings.Trim(id, ".,;")
	switch kind {
	case domain.TrialIDNCT:
		id = strings.ToUpper(id)
		if nctPattern.MatchString(id) {
			return id
		}
	case domain.TrialIDEudraCT:
		if eudractPattern.MatchString(id) {
			return id
		}
	case domain.TrialIDEUCT:
		if euctPattern.MatchString(id) {
			return id
		}
	}
	return ""
}

// ExtractTrialIdentifiers finds registry identifiers in an entry's link and
// guid. Only the kinds that were found have entries in the result.
func ExtractTrialIdentifiers(link, guid string) domain.TrialIdentifiers {
	ids := domain.TrialIdentifiers{}

	// The EU register links to its search page with the number URL-encoded
	// in the query; the number is valid under both EU schemes.
	if m := eudractNumberInLink.FindStringSubmatch(link); m != nil {
		ids.Set(domain.TrialIDEudraCT, NormalizeTrialID(domain.TrialIDEudraCT, m[1]))
		ids.Set(domain.TrialIDEUCT, NormalizeTrialID(domain.TrialIDEUCT, m[1]))
	}
	if m := euctParamInLink.FindStringSubmatch(link); m != nil {
		ids.Set(domain.TrialIDEUCT, NormalizeTrialID(domain.TrialIDEUCT, m[1]))
	}
	if m := eudractParamInLink.FindStringSubmatch(link); m != nil {
		ids.Set(domain.TrialIDEudraCT, NormalizeTrialID(domain.TrialIDEudraCT, m[1]))
	}

	if nct := NormalizeTrialID(domain.TrialIDNCT, guid); nct != "" {
		ids.Set(domain.TrialIDNCT, nct)
	} else if isClinicalTrialsGov(link) {
		if m := nctSearch.FindString(guid); m != "" {
			ids.Set(domain.TrialIDNCT, NormalizeTrialID(domain.TrialIDNCT, m))
		} else if m := nctSearch.FindString(link); m != "" {
			ids.Set(domain.TrialIDNCT, NormalizeTrialID(domain.TrialIDNCT, m))
		}
	}

	return ids
}

func isClinicalTrialsGov(link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return strings.Contains(link, "clinicaltrials.gov")
	}
	host := strings.ToLower(u.Hostname())
	return host == "clinicaltrials.gov" || strings.HasSuffix(host, ".clinicaltrials.gov")
}
