package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/research-feed-service/internal/domain"
)

func TestPgAuthorRepository_GetOrCreate(t *testing.T) {
	ctx := context.Background()
	cols := []string{"id", "given_name", "family_name", "orcid"}

	t.Run("matches on ORCID", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgAuthorRepository(mock)
		mock.ExpectQuery(`ON CONFLICT \(orcid\)`).
			WithArgs("Ada", "Lovelace", "0000-0002-1825-0097").
			WillReturnRows(pgxmock.NewRows(cols).AddRow(int64(7), "A.", "Lovelace", "0000-0002-1825-0097"))

		got, err := repo.GetOrCreate(ctx, domain.Author{GivenName: "Ada", FamilyName: "Lovelace", ORCID: "0000-0002-1825-0097"})
		require.NoError(t, err)
		assert.Equal(t, int64(7), got.ID)
		assert.Equal(t, "A.", got.GivenName, "the stored row wins")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("matches on name without ORCID", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgAuthorRepository(mock)
		mock.ExpectQuery(`ON CONFLICT \(lower\(given_name\), lower\(family_name\)\)`).
			WithArgs("Alan", "Turing").
			WillReturnRows(pgxmock.NewRows(cols).AddRow(int64(8), "Alan", "Turing", ""))

		got, err := repo.GetOrCreate(ctx, domain.Author{GivenName: "Alan", FamilyName: "Turing"})
		require.NoError(t, err)
		assert.Equal(t, int64(8), got.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects unidentifiable author", func(t *testing.T) {
		repo := NewPgAuthorRepository(nil)
		_, err := repo.GetOrCreate(ctx, domain.Author{FamilyName: "Turing"})
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})
}
