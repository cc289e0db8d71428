package domain

import (
	"time"

	"github.com/google/uuid"
)

// TrialDetails are structured fields some registries embed in the entry summary.
type TrialDetails struct {
	TrialNumber           string            `json:"trial_number,omitempty"`
	TherapeuticAreas      string            `json:"therapeutic_areas,omitempty"`
	CountryStatus         string            `json:"country_status,omitempty"`
	TrialRegion           string            `json:"trial_region,omitempty"`
	ResultsPosted         bool              `json:"results_posted"`
	Condition             string            `json:"condition,omitempty"`
	OverallStatus         string            `json:"overall_status,omitempty"`
	PrimaryOutcome        string            `json:"primary_outcome,omitempty"`
	SecondaryOutcome      string            `json:"secondary_outcome,omitempty"`
	OverallDecisionDate   string            `json:"overall_decision_date,omitempty"`
	CountriesDecisionDate map[string]string `json:"countries_decision_date,omitempty"`
	Sponsor               string            `json:"sponsor,omitempty"`
	SponsorType           string            `json:"sponsor_type,omitempty"`
}

// Trial is the canonical record of a clinical-trial registration.
// Each populated identifier value identifies at most one Trial.
type Trial struct {
	ID            uuid.UUID
	Title         string
	Summary       string
	Link          string
	PublishedDate *time.Time
	// DiscoveryDate is set when the row is created and never changes.
	DiscoveryDate     time.Time
	Identifiers       TrialIdentifiers
	RecruitmentStatus string
	Details           *TrialDetails
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TrialFields are the values the pipeline wants a trial to have.
type TrialFields struct {
	Title             string
	Summary           string
	Link              string
	PublishedDate     *time.Time
	Identifiers       TrialIdentifiers
	RecruitmentStatus string
	Details           *TrialDetails
}
