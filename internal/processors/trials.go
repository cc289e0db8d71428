package processors

import (
	"strings"

	"github.com/helixir/research-feed-service/internal/domain"
	"github.com/helixir/research-feed-service/internal/feeds"
	"github.com/helixir/research-feed-service/internal/identifiers"
	"github.com/helixir/research-feed-service/internal/sanitize"
)

// ClinicalTrialsGov handles clinicaltrials.gov feeds, whose guid is the NCT
// accession number.
type ClinicalTrialsGov struct{ base }

// NewClinicalTrialsGov creates the ClinicalTrials.gov processor.
func NewClinicalTrialsGov() *ClinicalTrialsGov {
	return &ClinicalTrialsGov{base{"clinicaltrials.gov", domain.KindTrial}}
}

func (p *ClinicalTrialsGov) CanProcess(feedURL string) bool {
	return matchesAny(feedURL, "clinicaltrials.gov")
}

func (p *ClinicalTrialsGov) ExtractIdentifier(entry feeds.Entry) Identifiers {
	return Identifiers{Trial: identifiers.ExtractTrialIdentifiers(entry.Link, entry.GUID)}
}

func (p *ClinicalTrialsGov) ExtractSummary(entry feeds.Entry) string {
	return sanitize.Summary(entry.Summary())
}

// EURegister handles the EU Clinical Trials Register, which links each entry
// to a search URL carrying the EudraCT number.
type EURegister struct{ base }

// NewEURegister creates the EU Clinical Trials Register processor.
func NewEURegister() *EURegister {
	return &EURegister{base{"clinicaltrialsregister.eu", domain.KindTrial}}
}

func (p *EURegister) CanProcess(feedURL string) bool {
	return matchesAny(feedURL, "clinicaltrialsregister.eu")
}

func (p *EURegister) ExtractIdentifier(entry feeds.Entry) Identifiers {
	return Identifiers{Trial: identifiers.ExtractTrialIdentifiers(entry.Link, entry.GUID)}
}

func (p *EURegister) ExtractSummary(entry feeds.Entry) string {
	return sanitize.Summary(entry.Summary())
}

// CTIS handles euclinicaltrials.eu, whose summaries are "<b>Label</b>: value"
// blocks that are parsed into TrialDetails.
type CTIS struct{ base }

// NewCTIS creates the EU CTIS processor.
func NewCTIS() *CTIS {
	return &CTIS{base{"euclinicaltrials.eu", domain.KindTrial}}
}

func (p *CTIS) CanProcess(feedURL string) bool {
	return matchesAny(feedURL, "euclinicaltrials.eu")
}

func (p *CTIS) ExtractIdentifier(entry feeds.Entry) Identifiers {
	ids := identifiers.ExtractTrialIdentifiers(entry.Link, entry.GUID)
	details := ParseCTISDetails(entry.Summary())
	if details != nil && ids.Get(domain.TrialIDEUCT) == "" {
		ids.Set(domain.TrialIDEUCT, identifiers.NormalizeTrialID(domain.TrialIDEUCT, details.TrialNumber))
	}
	return Identifiers{Trial: ids, Details: details}
}

func (p *CTIS) ExtractSummary(entry feeds.Entry) string {
	return sanitize.Summary(entry.Summary())
}

// DefaultTrial is the fallback for trial feeds: identifiers come from link
// and guid patterns only.
type DefaultTrial struct{ base }

// NewDefaultTrial creates the generic trial processor.
func NewDefaultTrial() *DefaultTrial {
	return &DefaultTrial{base{"default", domain.KindTrial}}
}

func (p *DefaultTrial) CanProcess(string) bool { return true }

func (p *DefaultTrial) ExtractIdentifier(entry feeds.Entry) Identifiers {
	return Identifiers{Trial: identifiers.ExtractTrialIdentifiers(entry.Link, entry.GUID)}
}

func (p *DefaultTrial) ExtractSummary(entry feeds.Entry) string {
	return sanitize.Summary(entry.Summary())
}

func cleanValue(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, ":")
	return strings.Join(strings.Fields(s), " ")
}
