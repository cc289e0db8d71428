package domain

import "time"

// Candidate is the normalized, not yet persisted form of one feed entry.
type Candidate struct {
	Kind           EntityKind
	Title          string
	RawSummary     string
	CleanedSummary string
	Link           string
	PublishedDate  *time.Time
	// DOI is bare ("10.x/..."), or empty when the entry carries none.
	DOI string
	// TrialIdentifiers holds only the kinds that were found.
	TrialIdentifiers TrialIdentifiers
	// TrialDetails is set for registries that publish structured summaries.
	TrialDetails *TrialDetails
	SourceID     int64
}

// HasDOI reports whether a DOI was extracted.
func (c *Candidate) HasDOI() bool {
	return c.DOI != ""
}
