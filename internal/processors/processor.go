// Package processors holds the per-source-family strategies that know where
// a feed hides its DOI or trial identifiers and how its summary is encoded.
//
// A Registry keeps an ordered list of processors and selects the first one
// whose CanProcess matches a source's feed URL, falling back to a default
// strategy that performs minimal extraction.
package processors

import (
	"strings"

	"github.com/helixir/research-feed-service/internal/domain"
	"github.com/helixir/research-feed-service/internal/feeds"
	"github.com/helixir/research-feed-service/internal/identifiers"
)

// Identifiers are the natural keys a processor extracted from one entry.
type Identifiers struct {
	// DOI is bare, or empty.
	DOI string
	// Trial holds only the registry identifiers that were found.
	Trial domain.TrialIdentifiers
	// Details are structured registry fields, when the summary carries them.
	Details *domain.TrialDetails
}

// Processor is a strategy for one family of sources.
type Processor interface {
	// Name identifies the processor in logs.
	Name() string
	// Kind is the entity kind the processor produces.
	Kind() domain.EntityKind
	// CanProcess reports whether the processor handles feedURL.
	CanProcess(feedURL string) bool
	// ExtractIdentifier returns the entry's DOI or trial identifiers.
	ExtractIdentifier(entry feeds.Entry) Identifiers
	// ExtractSummary returns the entry's summary as plain text.
	ExtractSummary(entry feeds.Entry) string
}

// Includer is implemented by processors that exclude some entries on their
// own, before the source keyword filter is applied.
type Includer interface {
	ShouldInclude(entry feeds.Entry, src domain.Source) bool
}

// ShouldInclude applies p's own inclusion gate, if it has one.
func ShouldInclude(p Processor, entry feeds.Entry, src domain.Source) bool {
	if inc, ok := p.(Includer); ok {
		return inc.ShouldInclude(entry, src)
	}
	return true
}

// base carries the name and kind shared by every processor.
type base struct {
	name string
	kind domain.EntityKind
}

func (b base) Name() string            { return b.name }
func (b base) Kind() domain.EntityKind { return b.kind }

func matchesAny(feedURL string, needles ...string) bool {
	lower := strings.ToLower(feedURL)
	for _, n := range needles {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}

// dcDOI reads the first dc:identifier written as "doi:10.x/...". Other
// schemes such as "pmid:" are skipped.
func dcDOI(entry feeds.Entry) string {
	for _, id := range entry.DCIdentifiers {
		id = strings.TrimSpace(id)
		if !strings.HasPrefix(strings.ToLower(id), "doi:") {
			continue
		}
		if doi := identifiers.NormalizeDOI(id); doi != "" {
			return doi
		}
	}
	return ""
}

func prismDOI(entry feeds.Entry) string {
	return identifiers.NormalizeDOI(entry.PrismDOI)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
