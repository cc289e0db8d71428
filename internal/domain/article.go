package domain

import (
	"time"

	"github.com/google/uuid"
)

// Article is the canonical record of a published research article.
// A non-empty DOI identifies at most one Article.
type Article struct {
	ID            uuid.UUID
	Title         string
	Summary       string
	Link          string
	DOI           string
	PublishedDate *time.Time
	// DiscoveryDate is set when the row is created and never changes.
	DiscoveryDate time.Time
	Publisher     string
	Journal       string
	Access        Access
	// CrossrefCheck is the last time bibliographic enrichment succeeded.
	CrossrefCheck *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ArticleFields are the values the pipeline wants an article to have, after
// combining feed and enrichment data.
type ArticleFields struct {
	Title         string
	Summary       string
	Link          string
	DOI           string
	PublishedDate *time.Time
	Publisher     string
	Journal       string
	Access        Access
	CrossrefCheck *time.Time
	Authors       []Author
}
