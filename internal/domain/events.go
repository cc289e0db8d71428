package domain

import "github.com/google/uuid"

// Event types published after an upsert commits.
const (
	EventTypeArticleCreated = "article.created"
	EventTypeArticleUpdated = "article.updated"
	EventTypeTrialCreated   = "trial.created"
	EventTypeTrialUpdated   = "trial.updated"
)

// EntityChangedPayload is the body of an article or trial change event.
type EntityChangedPayload struct {
	EntityID    uuid.UUID         `json:"entity_id"`
	Kind        EntityKind        `json:"kind"`
	Title       string            `json:"title"`
	Link        string            `json:"link,omitempty"`
	DOI         string            `json:"doi,omitempty"`
	Identifiers map[string]string `json:"identifiers,omitempty"`
	SourceID    int64             `json:"source_id"`
	Changes     []FieldChange     `json:"changes,omitempty"`
}

// EventTypeFor returns the event type for an entity kind and whether it was created.
func EventTypeFor(kind EntityKind, created bool) string {
	switch {
	case kind == KindArticle && created:
		return EventTypeArticleCreated
	case kind == KindArticle:
		return EventTypeArticleUpdated
	case created:
		return EventTypeTrialCreated
	default:
		return EventTypeTrialUpdated
	}
}
