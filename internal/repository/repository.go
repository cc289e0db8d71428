// Package repository provides data access for sources, articles, trials,
// authors and change records.
//
// # Overview
//
// Each PostgreSQL repository is a thin struct over DBTX, so the same code
// runs against the pool or inside a transaction:
//
//	err := database.RunInTx(ctx, db, pgx.TxOptions{}, logger, func(tx pgx.Tx) error {
//	    articles := repository.NewPgArticleRepository(tx)
//	    return articles.Create(ctx, article)
//	})
//
// # Error Handling
//
// Methods return errors from the domain package:
//
//   - domain.ErrNotFound: a lookup by key matched nothing
//   - domain.ErrAlreadyExists: a unique index rejected the write; the
//     *domain.AlreadyExistsError carries the index name
//   - domain.ErrInvalidInput: the caller passed an unusable argument
//
// Other database errors are wrapped with fmt.Errorf and %w.
//
// # Thread Safety
//
// Repositories built on a pool are safe for concurrent use. Repositories
// built on a pgx.Tx must stay on the goroutine that owns the transaction.
package repository

import (
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/helixir/research-feed-service/internal/database"
	"github.com/helixir/research-feed-service/internal/domain"
)

// DBTX is the database interface supporting both pool and transaction contexts.
type DBTX = database.DBTX

// PostgreSQL error codes used for constraint violation detection.
const (
	pgUniqueViolation     = "23505" // unique_violation
	pgForeignKeyViolation = "23503" // foreign_key_violation
)

// psql builds PostgreSQL statements with $n placeholders.
var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// Links are the reference rows an entity is associated with. Zero IDs are
// skipped.
type Links struct {
	SourceID  int64
	TeamID    int64
	SubjectID int64
}

// mapWriteError converts constraint violations into domain errors.
func mapWriteError(err error, entity, id, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			e := domain.NewAlreadyExistsError(entity, id)
			e.Constraint = pgErr.ConstraintName
			return e
		case pgForeignKeyViolation:
			return domain.NewNotFoundError(entity+" reference", pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("failed to %s %s: %w", op, entity, err)
}

// nullIfEmpty stores empty strings as NULL so partial unique indexes ignore them.
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
