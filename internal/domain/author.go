package domain

import "strings"

// Author is a person credited on an article. ORCID, when present, is
// globally unique.
type Author struct {
	ID         int64  `json:"id,omitempty"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	ORCID      string `json:"orcid,omitempty"`
}

// FullName returns "Given Family".
func (a Author) FullName() string {
	return strings.TrimSpace(a.GivenName + " " + a.FamilyName)
}

// IsIdentifiable reports whether the author can be matched: by ORCID, or by
// both given and family name.
func (a Author) IsIdentifiable() bool {
	return a.ORCID != "" || (a.GivenName != "" && a.FamilyName != "")
}
