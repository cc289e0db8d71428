package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/helixir/research-feed-service/internal/domain"
	"github.com/helixir/research-feed-service/internal/enrichment"
)

func articleCandidate() *domain.Candidate {
	published := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return &domain.Candidate{
		Kind:           domain.KindArticle,
		Title:          "Feed title",
		CleanedSummary: "Feed summary",
		Link:           "https://journal.example/a/1",
		PublishedDate:  &published,
		DOI:            "10.1000/xyz",
	}
}

func TestArticleFields(t *testing.T) {
	t.Run("feed only without a result", func(t *testing.T) {
		c := articleCandidate()
		f := ArticleFields(c, nil)
		assert.Equal(t, "Feed title", f.Title)
		assert.Equal(t, "Feed summary", f.Summary)
		assert.Equal(t, "10.1000/xyz", f.DOI)
		assert.Equal(t, domain.AccessUnknown, f.Access)
		assert.Nil(t, f.CrossrefCheck)
	})

	t.Run("crossref values win over feed values", func(t *testing.T) {
		checked := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
		res := &enrichment.Result{
			DOI: "10.1000/xyz",
			Work: &enrichment.Work{
				Title:     "Crossref title",
				Abstract:  "Crossref abstract",
				Journal:   "Journal of Examples",
				Publisher: "Example Press",
				Authors:   []domain.Author{{GivenName: "Ada", FamilyName: "Lovelace"}},
			},
			OpenAccess: &enrichment.OpenAccess{IsOA: true},
			CheckedAt:  &checked,
		}
		f := ArticleFields(articleCandidate(), res)
		assert.Equal(t, "Crossref title", f.Title)
		assert.Equal(t, "Crossref abstract", f.Summary)
		assert.Equal(t, "Journal of Examples", f.Journal)
		assert.Equal(t, "Example Press", f.Publisher)
		assert.Equal(t, domain.AccessOpen, f.Access)
		assert.Equal(t, &checked, f.CrossrefCheck)
		assert.Len(t, f.Authors, 1)
		assert.Equal(t, "https://journal.example/a/1", f.Link)
	})

	t.Run("empty crossref fields keep feed values", func(t *testing.T) {
		issued := time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)
		c := articleCandidate()
		c.PublishedDate = nil
		f := ArticleFields(c, &enrichment.Result{Work: &enrichment.Work{Issued: &issued}})
		assert.Equal(t, "Feed title", f.Title)
		assert.Equal(t, "Feed summary", f.Summary)
		assert.Equal(t, &issued, f.PublishedDate)
	})

	t.Run("unpaywall only sets access", func(t *testing.T) {
		f := ArticleFields(articleCandidate(), &enrichment.Result{OpenAccess: &enrichment.OpenAccess{IsOA: false}})
		assert.Equal(t, domain.AccessRestricted, f.Access)
		assert.Equal(t, "Feed title", f.Title)
		assert.Nil(t, f.CrossrefCheck)
	})
}

func TestTrialFields(t *testing.T) {
	c := &domain.Candidate{
		Kind:             domain.KindTrial,
		Title:            "A phase 3 study",
		Link:             "https://clinicaltrials.gov/study/NCT01234567",
		TrialIdentifiers: domain.TrialIdentifiers{domain.TrialIDNCT: "NCT01234567"},
		TrialDetails:     &domain.TrialDetails{OverallStatus: "Recruiting"},
	}
	f := TrialFields(c)
	assert.Equal(t, "Recruiting", f.RecruitmentStatus)
	assert.Equal(t, "NCT01234567", f.Identifiers.Get(domain.TrialIDNCT))

	c.TrialDetails = nil
	assert.Empty(t, TrialFields(c).RecruitmentStatus)
}
