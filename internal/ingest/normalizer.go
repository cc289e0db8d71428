// Package ingest turns raw feed entries into Candidates and applies the
// per-source keyword filter.
package ingest

import (
	"strings"

	"github.com/helixir/research-feed-service/internal/domain"
	"github.com/helixir/research-feed-service/internal/feeds"
	"github.com/helixir/research-feed-service/internal/identifiers"
	"github.com/helixir/research-feed-service/internal/processors"
)

// Normalize builds the Candidate for entry using the processor selected for
// src. Entries without a title or link, and article entries without a
// parsable date, yield a *domain.ParseError.
func Normalize(entry feeds.Entry, src domain.Source, p processors.Processor) (*domain.Candidate, error) {
	title := identifiers.CleanTitle(entry.Title)
	rawLink := strings.TrimSpace(entry.Link)
	if title == "" {
		return nil, domain.NewParseError("title", "missing", rawLink)
	}
	if rawLink == "" {
		return nil, domain.NewParseError("link", "missing", "")
	}
	link := identifiers.RemoveUTM(rawLink)

	published := FirstDate(entry.DateCandidates())
	if published == nil && src.Kind == domain.KindArticle {
		return nil, domain.NewParseError("published_date", "no parsable date field", link)
	}

	ids := p.ExtractIdentifier(entry)
	cand := &domain.Candidate{
		Kind:           src.Kind,
		Title:          title,
		RawSummary:     entry.Summary(),
		CleanedSummary: p.ExtractSummary(entry),
		Link:           link,
		PublishedDate:  published,
		SourceID:       src.ID,
	}

	switch src.Kind {
	case domain.KindArticle:
		cand.DOI = identifiers.NormalizeDOI(ids.DOI)
	case domain.KindTrial:
		cand.TrialIdentifiers = domain.TrialIdentifiers{}
		for kind, v := range ids.Trial {
			cand.TrialIdentifiers.Set(kind, identifiers.NormalizeTrialID(kind, v))
		}
		cand.TrialDetails = ids.Details
	}
	return cand, nil
}
