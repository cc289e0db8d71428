package processors

import (
	"net/url"
	"strings"

	"github.com/helixir/research-feed-service/internal/domain"
	"github.com/helixir/research-feed-service/internal/feeds"
	"github.com/helixir/research-feed-service/internal/identifiers"
	"github.com/helixir/research-feed-service/internal/sanitize"
)

// PubMed reads the DOI from dc:identifier and prefers the full content over
// the description.
type PubMed struct{ base }

// NewPubMed creates the PubMed processor.
func NewPubMed() *PubMed { return &PubMed{base{"pubmed", domain.KindArticle}} }

func (p *PubMed) CanProcess(feedURL string) bool { return matchesAny(feedURL, "pubmed") }

func (p *PubMed) ExtractIdentifier(entry feeds.Entry) Identifiers {
	return Identifiers{DOI: dcDOI(entry)}
}

func (p *PubMed) ExtractSummary(entry feeds.Entry) string {
	return sanitize.Summary(firstNonEmpty(entry.Content, entry.Description))
}

// FASEB journals publish the DOI in prism:doi.
type FASEB struct{ base }

// NewFASEB creates the FASEB processor.
func NewFASEB() *FASEB { return &FASEB{base{"faseb", domain.KindArticle}} }

func (p *FASEB) CanProcess(feedURL string) bool { return matchesAny(feedURL, "faseb") }

func (p *FASEB) ExtractIdentifier(entry feeds.Entry) Identifiers {
	return Identifiers{DOI: prismDOI(entry)}
}

func (p *FASEB) ExtractSummary(entry feeds.Entry) string {
	return sanitize.Summary(entry.Summary())
}

// Preprint covers bioRxiv and medRxiv.
type Preprint struct{ base }

// NewPreprint creates the bioRxiv/medRxiv processor.
func NewPreprint() *Preprint { return &Preprint{base{"biorxiv", domain.KindArticle}} }

func (p *Preprint) CanProcess(feedURL string) bool {
	return matchesAny(feedURL, "biorxiv", "medrxiv")
}

func (p *Preprint) ExtractIdentifier(entry feeds.Entry) Identifiers {
	return Identifiers{DOI: dcDOI(entry)}
}

func (p *Preprint) ExtractSummary(entry feeds.Entry) string {
	return sanitize.Summary(entry.Summary())
}

// PNAS feeds prefix the abstract with a citation line ended by <br/>.
type PNAS struct{ base }

// NewPNAS creates the PNAS processor.
func NewPNAS() *PNAS { return &PNAS{base{"pnas", domain.KindArticle}} }

func (p *PNAS) CanProcess(feedURL string) bool { return matchesAny(feedURL, "pnas.org") }

func (p *PNAS) ExtractIdentifier(entry feeds.Entry) Identifiers {
	return Identifiers{DOI: firstNonEmpty(dcDOI(entry), prismDOI(entry))}
}

func (p *PNAS) ExtractSummary(entry feeds.Entry) string {
	return sanitize.Summary(sanitize.AfterFirstBreak(entry.Description))
}

// Nature feeds carry no DOI field; the article slug is the DOI suffix under
// the 10.1038 prefix.
type Nature struct{ base }

// NewNature creates the Nature processor.
func NewNature() *Nature { return &Nature{base{"nature", domain.KindArticle}} }

func (p *Nature) CanProcess(feedURL string) bool { return matchesAny(feedURL, "nature.com") }

func (p *Nature) ExtractIdentifier(entry feeds.Entry) Identifiers {
	_, slug, ok := strings.Cut(entry.Link, "/articles/")
	if !ok {
		return Identifiers{}
	}
	if i := strings.IndexAny(slug, "?#"); i >= 0 {
		slug = slug[:i]
	}
	slug = strings.Trim(slug, "/")
	if slug == "" {
		return Identifiers{}
	}
	return Identifiers{DOI: identifiers.NormalizeDOI("10.1038/" + slug)}
}

func (p *Nature) ExtractSummary(entry feeds.Entry) string {
	return sanitize.Summary(entry.Summary())
}

// SAGE journals put the citation before a <br/> like PNAS.
type SAGE struct{ base }

// NewSAGE creates the SAGE journals processor.
func NewSAGE() *SAGE { return &SAGE{base{"sage", domain.KindArticle}} }

func (p *SAGE) CanProcess(feedURL string) bool {
	return matchesAny(feedURL, "journals.sagepub.com")
}

func (p *SAGE) ExtractIdentifier(entry feeds.Entry) Identifiers {
	return Identifiers{DOI: firstNonEmpty(dcDOI(entry), prismDOI(entry))}
}

func (p *SAGE) ExtractSummary(entry feeds.Entry) string {
	return sanitize.Summary(sanitize.AfterFirstBreak(entry.Summary()))
}

// Springer search feeds use the bare DOI as guid.
type Springer struct{ base }

// NewSpringer creates the SpringerLink processor.
func NewSpringer() *Springer { return &Springer{base{"springer", domain.KindArticle}} }

// CanProcess matches link.springer.com only; other Springer Nature hosts
// have their own formats.
func (p *Springer) CanProcess(feedURL string) bool {
	return matchesAny(feedURL, "link.springer.com")
}

func (p *Springer) ExtractIdentifier(entry feeds.Entry) Identifiers {
	if doi := identifiers.NormalizeDOI(entry.GUID); doi != "" {
		return Identifiers{DOI: doi}
	}
	u, err := url.Parse(entry.Link)
	if err != nil {
		return Identifiers{}
	}
	if _, rest, ok := strings.Cut(u.Path, "/article/"); ok {
		return Identifiers{DOI: identifiers.NormalizeDOI(rest)}
	}
	return Identifiers{}
}

func (p *Springer) ExtractSummary(entry feeds.Entry) string {
	return sanitize.Inline(entry.Summary())
}

// DefaultArticle is the fallback for feeds without a known DOI encoding.
type DefaultArticle struct{ base }

// NewDefaultArticle creates the generic article processor.
func NewDefaultArticle() *DefaultArticle {
	return &DefaultArticle{base{"default", domain.KindArticle}}
}

func (p *DefaultArticle) CanProcess(string) bool { return true }

func (p *DefaultArticle) ExtractIdentifier(feeds.Entry) Identifiers { return Identifiers{} }

func (p *DefaultArticle) ExtractSummary(entry feeds.Entry) string {
	return sanitize.Summary(entry.Summary())
}
