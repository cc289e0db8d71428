package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/helixir/research-feed-service/internal/database"
)

// Tx exposes the repositories bound to one transaction.
type Tx interface {
	Articles() ArticleRepository
	Trials() TrialRepository
	Authors() AuthorRepository
	ChangeRecords() ChangeRecordRepository
}

// TxRunner runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

var _ TxRunner = (*PgTxRunner)(nil)

// PgTxRunner starts PostgreSQL transactions with the server default isolation.
type PgTxRunner struct {
	db     database.TxBeginner
	logger zerolog.Logger
}

// NewPgTxRunner creates a TxRunner over a pool.
func NewPgTxRunner(db database.TxBeginner, logger zerolog.Logger) *PgTxRunner {
	return &PgTxRunner{db: db, logger: logger}
}

// InTx implements TxRunner.
func (r *PgTxRunner) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return database.RunInTx(ctx, r.db, pgx.TxOptions{}, r.logger, func(tx pgx.Tx) error {
		return fn(ctx, pgTx{db: tx})
	})
}

type pgTx struct {
	db DBTX
}

func (t pgTx) Articles() ArticleRepository           { return NewPgArticleRepository(t.db) }
func (t pgTx) Trials() TrialRepository               { return NewPgTrialRepository(t.db) }
func (t pgTx) Authors() AuthorRepository             { return NewPgAuthorRepository(t.db) }
func (t pgTx) ChangeRecords() ChangeRecordRepository { return NewPgChangeRecordRepository(t.db) }
