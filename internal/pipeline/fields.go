package pipeline

import (
	"github.com/helixir/research-feed-service/internal/domain"
	"github.com/helixir/research-feed-service/internal/enrichment"
)

// ArticleFields merges a feed candidate with whatever enrichment returned.
// Crossref supplies the title, abstract, journal, publisher and authors
// when its lookup succeeded; Unpaywall supplies the access status. Feed
// values fill every gap, so a nil or empty result yields a feed-only record.
func ArticleFields(c *domain.Candidate, res *enrichment.Result) domain.ArticleFields {
	f := domain.ArticleFields{
		Title:         c.Title,
		Summary:       c.CleanedSummary,
		Link:          c.Link,
		DOI:           c.DOI,
		PublishedDate: c.PublishedDate,
		Access:        res.Access(),
	}
	if res == nil || res.Work == nil {
		return f
	}

	w := res.Work
	if w.Title != "" {
		f.Title = w.Title
	}
	if w.Abstract != "" {
		f.Summary = w.Abstract
	}
	if f.PublishedDate == nil {
		f.PublishedDate = w.Issued
	}
	f.Journal = w.Journal
	f.Publisher = w.Publisher
	f.Authors = w.Authors
	f.CrossrefCheck = res.CheckedAt
	return f
}

// TrialFields maps a trial candidate. A registry's overall status, when its
// summary carries one, becomes the recruitment status.
func TrialFields(c *domain.Candidate) domain.TrialFields {
	f := domain.TrialFields{
		Title:         c.Title,
		Summary:       c.CleanedSummary,
		Link:          c.Link,
		PublishedDate: c.PublishedDate,
		Identifiers:   c.TrialIdentifiers,
		Details:       c.TrialDetails,
	}
	if c.TrialDetails != nil {
		f.RecruitmentStatus = c.TrialDetails.OverallStatus
	}
	return f
}
