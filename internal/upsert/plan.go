package upsert

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/helixir/research-feed-service/internal/domain"
	"github.com/helixir/research-feed-service/internal/repository"
)

const dateLayout = "2006-01-02"

// plan is the set of column writes that moves a stored entity to its
// desired state, with the audit trail of that move.
type plan struct {
	columns map[string]interface{}
	changes []domain.FieldChange
}

func (p *plan) set(column string, value interface{}, oldValue, newValue string) {
	if p.columns == nil {
		p.columns = map[string]interface{}{}
	}
	p.columns[column] = value
	p.changes = append(p.changes, domain.FieldChange{Field: column, OldValue: oldValue, NewValue: newValue})
}

func (p *plan) empty() bool { return len(p.columns) == 0 }

// setString applies the update rule shared by every text column: a desired
// empty value never clears a stored one.
func (p *plan) setString(column, stored, desired string) bool {
	if desired == "" || desired == stored {
		return false
	}
	p.set(column, desired, stored, desired)
	return true
}

func (p *plan) setDate(column string, stored, desired *time.Time) bool {
	if desired == nil || (stored != nil && stored.Equal(*desired)) {
		return false
	}
	p.set(column, desired, formatDate(stored), formatDate(desired))
	return true
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(dateLayout)
}

// planArticle diffs desired against stored and returns the column writes and
// the article as it will read after they are applied.
//
// The DOI is written only when none is stored, access=unknown never replaces
// a known status, and the Crossref check date is written only the first time.
// Title and summary taken from a successful Crossref lookup are not replaced
// by feed values when this run's lookup failed.
func planArticle(stored *domain.Article, desired domain.ArticleFields) (plan, domain.Article) {
	var p plan
	merged := *stored
	feedOnly := stored.CrossrefCheck != nil && desired.CrossrefCheck == nil

	if !feedOnly && p.setString(repository.ArticleColumnTitle, stored.Title, desired.Title) {
		merged.Title = desired.Title
	}
	if !feedOnly && p.setString(repository.ArticleColumnSummary, stored.Summary, desired.Summary) {
		merged.Summary = desired.Summary
	}
	if p.setString(repository.ArticleColumnLink, stored.Link, desired.Link) {
		merged.Link = desired.Link
	}
	if stored.DOI == "" && p.setString(repository.ArticleColumnDOI, stored.DOI, desired.DOI) {
		merged.DOI = desired.DOI
	}
	if p.setDate(repository.ArticleColumnPublishedDate, stored.PublishedDate, desired.PublishedDate) {
		merged.PublishedDate = desired.PublishedDate
	}
	if p.setString(repository.ArticleColumnPublisher, stored.Publisher, desired.Publisher) {
		merged.Publisher = desired.Publisher
	}
	if p.setString(repository.ArticleColumnJournal, stored.Journal, desired.Journal) {
		merged.Journal = desired.Journal
	}
	if desired.Access.IsKnown() && desired.Access != stored.Access {
		p.set(repository.ArticleColumnAccess, desired.Access, string(stored.Access), string(desired.Access))
		merged.Access = desired.Access
	}
	if stored.CrossrefCheck == nil && p.setDate(repository.ArticleColumnCrossrefCheck, nil, desired.CrossrefCheck) {
		merged.CrossrefCheck = desired.CrossrefCheck
	}
	return p, merged
}

// planTrial diffs desired against stored. Identifiers merge add-only and
// details replace the stored document only when they differ.
func planTrial(stored *domain.Trial, desired domain.TrialFields) (plan, domain.Trial, error) {
	var p plan
	merged := *stored

	if p.setString(repository.TrialColumnTitle, stored.Title, desired.Title) {
		merged.Title = desired.Title
	}
	if p.setString(repository.TrialColumnSummary, stored.Summary, desired.Summary) {
		merged.Summary = desired.Summary
	}
	if p.setString(repository.TrialColumnLink, stored.Link, desired.Link) {
		merged.Link = desired.Link
	}
	if p.setDate(repository.TrialColumnPublishedDate, stored.PublishedDate, desired.PublishedDate) {
		merged.PublishedDate = desired.PublishedDate
	}

	ids, added := stored.Identifiers.Merge(desired.Identifiers)
	for _, kind := range added {
		p.set(string(kind), ids.Get(kind), "", ids.Get(kind))
	}
	merged.Identifiers = ids

	if p.setString(repository.TrialColumnRecruitmentStatus, stored.RecruitmentStatus, desired.RecruitmentStatus) {
		merged.RecruitmentStatus = desired.RecruitmentStatus
	}

	if desired.Details != nil {
		oldJSON, err := detailsJSON(stored.Details)
		if err != nil {
			return plan{}, domain.Trial{}, err
		}
		newJSON, err := detailsJSON(desired.Details)
		if err != nil {
			return plan{}, domain.Trial{}, err
		}
		if !bytes.Equal(oldJSON, newJSON) {
			p.set(repository.TrialColumnDetails, desired.Details, string(oldJSON), string(newJSON))
			merged.Details = desired.Details
		}
	}
	return p, merged, nil
}

func detailsJSON(d *domain.TrialDetails) ([]byte, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(d)
}

// createdArticleChanges lists the populated fields of a new article.
func createdArticleChanges(a *domain.Article) []domain.FieldChange {
	var p plan
	p.setString(repository.ArticleColumnTitle, "", a.Title)
	p.setString(repository.ArticleColumnSummary, "", a.Summary)
	p.setString(repository.ArticleColumnLink, "", a.Link)
	p.setString(repository.ArticleColumnDOI, "", a.DOI)
	p.setDate(repository.ArticleColumnPublishedDate, nil, a.PublishedDate)
	p.setString(repository.ArticleColumnPublisher, "", a.Publisher)
	p.setString(repository.ArticleColumnJournal, "", a.Journal)
	if a.Access.IsKnown() {
		p.set(repository.ArticleColumnAccess, a.Access, "", string(a.Access))
	}
	return p.changes
}

// createdTrialChanges lists the populated fields of a new trial.
func createdTrialChanges(t *domain.Trial) []domain.FieldChange {
	var p plan
	p.setString(repository.TrialColumnTitle, "", t.Title)
	p.setString(repository.TrialColumnSummary, "", t.Summary)
	p.setString(repository.TrialColumnLink, "", t.Link)
	p.setDate(repository.TrialColumnPublishedDate, nil, t.PublishedDate)
	for _, kind := range domain.TrialIDKinds {
		p.setString(string(kind), "", t.Identifiers.Get(kind))
	}
	p.setString(repository.TrialColumnRecruitmentStatus, "", t.RecruitmentStatus)
	return p.changes
}
