package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/research-feed-service/internal/domain"
)

func TestPgTxRunner_InTx(t *testing.T) {
	ctx := context.Background()

	t.Run("repositories share the transaction and commit", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`FROM articles WHERE lower\(doi\) = lower\(\$1\)`).
			WithArgs("10.1000/x").
			WillReturnRows(pgxmock.NewRows(articleRowColumns))
		mock.ExpectCommit()

		runner := NewPgTxRunner(mock, zerolog.Nop())
		err = runner.InTx(ctx, func(ctx context.Context, tx Tx) error {
			assert.NotNil(t, tx.Trials())
			assert.NotNil(t, tx.Authors())
			assert.NotNil(t, tx.ChangeRecords())
			_, err := tx.Articles().FindByDOI(ctx, "10.1000/x")
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			return err
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back when fn fails", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectRollback()

		conflict := domain.NewAlreadyExistsError("article", "10.1000/x")
		runner := NewPgTxRunner(mock, zerolog.Nop())
		err = runner.InTx(ctx, func(context.Context, Tx) error { return conflict })

		assert.ErrorIs(t, err, domain.ErrAlreadyExists)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
