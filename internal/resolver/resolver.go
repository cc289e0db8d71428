// Package resolver decides whether a normalized candidate is new or matches
// an entity that is already stored.
//
// Articles are keyed by DOI and, failing that, by case-insensitive title.
// Trials are keyed by their registry identifiers (nct, eudract, euct, in
// that order) and, failing those, by title. A candidate that matches more
// than one stored entity is ambiguous and is never merged.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/helixir/research-feed-service/internal/domain"
)

// Outcome classifies a resolution.
type Outcome int

const (
	// OutcomeNone means no stored entity matched; the candidate is new.
	OutcomeNone Outcome = iota
	// OutcomeUnique means exactly one stored entity matched.
	OutcomeUnique
	// OutcomeAmbiguous means the candidate matched several entities.
	OutcomeAmbiguous
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeUnique:
		return "unique"
	case OutcomeAmbiguous:
		return "ambiguous"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Resolution is the result of resolving one candidate. Article or Trial is
// set only when Outcome is OutcomeUnique.
type Resolution struct {
	Outcome Outcome
	Article *domain.Article
	Trial   *domain.Trial
	// Matches lists every matched entity ID, for ambiguous outcomes.
	Matches []uuid.UUID
	// Keys names the lookups that matched, e.g. "doi" or "title".
	Keys []string
}

// Err returns an *domain.AmbiguousMatchError for ambiguous resolutions and
// nil otherwise.
func (r Resolution) Err(kind domain.EntityKind) error {
	if r.Outcome != OutcomeAmbiguous {
		return nil
	}
	return domain.NewAmbiguousMatchError(kind, r.Matches, r.Keys...)
}

// ArticleFinder looks articles up by their natural keys. Lookups that find
// nothing return an error matching domain.ErrNotFound or an empty slice.
type ArticleFinder interface {
	FindByDOI(ctx context.Context, doi string) (*domain.Article, error)
	FindByTitle(ctx context.Context, title string) ([]*domain.Article, error)
}

// TrialFinder looks trials up by their natural keys.
type TrialFinder interface {
	FindByIdentifier(ctx context.Context, kind domain.TrialIDKind, value string) (*domain.Trial, error)
	FindByTitle(ctx context.Context, title string) ([]*domain.Trial, error)
}

// ArticleKey is what an article is resolved by.
type ArticleKey struct {
	DOI   string
	Title string
}

// TrialKey is what a trial is resolved by.
type TrialKey struct {
	Identifiers domain.TrialIdentifiers
	Title       string
}

// ResolveArticle matches key against stored articles.
//
// A stored row whose DOI differs from a non-empty key DOI is a different work
// even when the titles agree, so title matches only compete when the row has
// no DOI or the same DOI.
func ResolveArticle(ctx context.Context, finder ArticleFinder, key ArticleKey) (Resolution, error) {
	var byDOI *domain.Article
	if key.DOI != "" {
		a, err := finder.FindByDOI(ctx, key.DOI)
		switch {
		case err == nil:
			byDOI = a
		case !errors.Is(err, domain.ErrNotFound):
			return Resolution{}, fmt.Errorf("resolve article by DOI: %w", err)
		}
	}

	titled, err := finder.FindByTitle(ctx, key.Title)
	if err != nil {
		return Resolution{}, fmt.Errorf("resolve article by title: %w", err)
	}
	var compatible []*domain.Article
	for _, a := range titled {
		if byDOI != nil && a.ID == byDOI.ID {
			continue
		}
		if key.DOI != "" && a.DOI != "" && !strings.EqualFold(a.DOI, key.DOI) {
			continue
		}
		compatible = append(compatible, a)
	}

	switch {
	case byDOI != nil && len(compatible) == 0:
		return Resolution{Outcome: OutcomeUnique, Article: byDOI, Matches: []uuid.UUID{byDOI.ID}, Keys: []string{"doi"}}, nil
	case byDOI != nil:
		ids := append([]uuid.UUID{byDOI.ID}, articleIDs(compatible)...)
		return Resolution{Outcome: OutcomeAmbiguous, Matches: ids, Keys: []string{"doi", "title"}}, nil
	case len(compatible) == 1:
		return Resolution{Outcome: OutcomeUnique, Article: compatible[0], Matches: articleIDs(compatible), Keys: []string{"title"}}, nil
	case len(compatible) > 1:
		return Resolution{Outcome: OutcomeAmbiguous, Matches: articleIDs(compatible), Keys: []string{"title"}}, nil
	default:
		return Resolution{Outcome: OutcomeNone}, nil
	}
}

// ResolveTrial matches key against stored trials. Every populated
// identifier is looked up; distinct hits make the candidate ambiguous. Title
// matches are compatible only when none of their identifiers disagree with
// the candidate's.
func ResolveTrial(ctx context.Context, finder TrialFinder, key TrialKey) (Resolution, error) {
	var (
		byID   []*domain.Trial
		idKeys []string
	)
	for _, kind := range domain.TrialIDKinds {
		value := key.Identifiers.Get(kind)
		if value == "" {
			continue
		}
		tr, err := finder.FindByIdentifier(ctx, kind, value)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return Resolution{}, fmt.Errorf("resolve trial by %s: %w", kind, err)
		}
		idKeys = append(idKeys, string(kind))
		if !containsTrial(byID, tr.ID) {
			byID = append(byID, tr)
		}
	}
	if len(byID) > 1 {
		return Resolution{Outcome: OutcomeAmbiguous, Matches: trialIDs(byID), Keys: idKeys}, nil
	}

	titled, err := finder.FindByTitle(ctx, key.Title)
	if err != nil {
		return Resolution{}, fmt.Errorf("resolve trial by title: %w", err)
	}
	var compatible []*domain.Trial
	for _, tr := range titled {
		if len(byID) == 1 && tr.ID == byID[0].ID {
			continue
		}
		if tr.Identifiers.ConflictsWith(key.Identifiers) {
			continue
		}
		compatible = append(compatible, tr)
	}

	switch {
	case len(byID) == 1 && len(compatible) == 0:
		return Resolution{Outcome: OutcomeUnique, Trial: byID[0], Matches: trialIDs(byID), Keys: idKeys}, nil
	case len(byID) == 1:
		ids := append(trialIDs(byID), trialIDs(compatible)...)
		return Resolution{Outcome: OutcomeAmbiguous, Matches: ids, Keys: append(idKeys, "title")}, nil
	case len(compatible) == 1:
		return Resolution{Outcome: OutcomeUnique, Trial: compatible[0], Matches: trialIDs(compatible), Keys: []string{"title"}}, nil
	case len(compatible) > 1:
		return Resolution{Outcome: OutcomeAmbiguous, Matches: trialIDs(compatible), Keys: []string{"title"}}, nil
	default:
		return Resolution{Outcome: OutcomeNone}, nil
	}
}

func articleIDs(articles []*domain.Article) []uuid.UUID {
	ids := make([]uuid.UUID, len(articles))
	for i, a := range articles {
		ids[i] = a.ID
	}
	return ids
}

func trialIDs(trials []*domain.Trial) []uuid.UUID {
	ids := make([]uuid.UUID, len(trials))
	for i, t := range trials {
		ids[i] = t.ID
	}
	return ids
}

func containsTrial(trials []*domain.Trial, id uuid.UUID) bool {
	for _, t := range trials {
		if t.ID == id {
			return true
		}
	}
	return false
}
