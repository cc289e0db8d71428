package repository

import (
	"context"
	"fmt"

	"github.com/helixir/research-feed-service/internal/domain"
)

// AuthorRepository handles author persistence.
type AuthorRepository interface {
	// GetOrCreate returns the stored author matching a by ORCID, or by
	// given and family name when a has no ORCID, creating it if needed.
	// An author that is not identifiable is rejected with a validation error.
	GetOrCreate(ctx context.Context, a domain.Author) (*domain.Author, error)
}

var _ AuthorRepository = (*PgAuthorRepository)(nil)

// PgAuthorRepository is a PostgreSQL implementation of AuthorRepository.
type PgAuthorRepository struct {
	db DBTX
}

// NewPgAuthorRepository creates a new PostgreSQL author repository.
func NewPgAuthorRepository(db DBTX) *PgAuthorRepository {
	return &PgAuthorRepository{db: db}
}

// GetOrCreate implements AuthorRepository with a single
// INSERT...ON CONFLICT...RETURNING round trip.
func (r *PgAuthorRepository) GetOrCreate(ctx context.Context, a domain.Author) (*domain.Author, error) {
	if !a.IsIdentifiable() {
		return nil, domain.NewValidationError("author", "an ORCID or both given and family name are required")
	}

	var query string
	args := []interface{}{a.GivenName, a.FamilyName}
	if a.ORCID != "" {
		query = `
			INSERT INTO authors (given_name, family_name, orcid)
			VALUES ($1, $2, $3)
			ON CONFLICT (orcid) WHERE orcid IS NOT NULL AND orcid <> '' DO UPDATE SET
				orcid = authors.orcid
			RETURNING id, given_name, family_name, COALESCE(orcid, '')`
		args = append(args, a.ORCID)
	} else {
		query = `
			INSERT INTO authors (given_name, family_name)
			VALUES ($1, $2)
			ON CONFLICT (lower(given_name), lower(family_name)) WHERE orcid IS NULL OR orcid = '' DO UPDATE SET
				given_name = authors.given_name
			RETURNING id, given_name, family_name, COALESCE(orcid, '')`
	}

	var stored domain.Author
	err := r.db.QueryRow(ctx, query, args...).
		Scan(&stored.ID, &stored.GivenName, &stored.FamilyName, &stored.ORCID)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create author: %w", err)
	}
	return &stored, nil
}
