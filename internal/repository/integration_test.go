//go:build integration

package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/helixir/research-feed-service/internal/domain"
	"github.com/helixir/research-feed-service/migrations"
)

// startPostgres runs a disposable PostgreSQL with the schema applied.
func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("feedingest_test"),
		tcpostgres.WithUsername("feedingest"),
		tcpostgres.WithPassword("testpassword"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(ctr) })

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	src, err := iofs.New(migrations.FS, ".")
	require.NoError(t, err)
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	require.NoError(t, err)
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		t.Fatalf("migration failed: %v", err)
	}
	_, _ = m.Close()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestRepositories_Integration(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()

	var sourceID int64
	err := pool.QueryRow(ctx, `
		INSERT INTO sources (name, feed_url, kind) VALUES ('PubMed', 'https://pubmed.ncbi.nlm.nih.gov/rss/x', 'article')
		RETURNING id`).Scan(&sourceID)
	require.NoError(t, err)

	articles := NewPgArticleRepository(pool)
	trials := NewPgTrialRepository(pool)
	authors := NewPgAuthorRepository(pool)
	changes := NewPgChangeRecordRepository(pool)
	sources := NewPgSourceRepository(pool)

	t.Run("sources", func(t *testing.T) {
		got, err := sources.ListIngestible(ctx, []domain.EntityKind{domain.KindArticle})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, sourceID, got[0].ID)
		assert.Equal(t, domain.MethodRSS, got[0].Method)
	})

	t.Run("article lifecycle", func(t *testing.T) {
		published := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
		article := &domain.Article{
			Title:         "Checkpoint inhibitors in melanoma",
			Link:          "https://example.org/a",
			DOI:           "10.1000/Mel.1",
			PublishedDate: &published,
		}
		require.NoError(t, articles.Create(ctx, article))

		got, err := articles.FindByDOI(ctx, "10.1000/mel.1")
		require.NoError(t, err)
		assert.Equal(t, article.ID, got.ID)
		assert.Equal(t, domain.AccessUnknown, got.Access)

		dup := &domain.Article{Title: "Other", DOI: "10.1000/MEL.1"}
		err = articles.Create(ctx, dup)
		var existsErr *domain.AlreadyExistsError
		require.True(t, errors.As(err, &existsErr))
		assert.Equal(t, "uq_articles_doi", existsErr.Constraint)

		byTitle, err := articles.FindByTitle(ctx, "CHECKPOINT INHIBITORS IN MELANOMA")
		require.NoError(t, err)
		require.Len(t, byTitle, 1)

		require.NoError(t, articles.Update(ctx, article.ID, map[string]interface{}{
			ArticleColumnJournal: "Journal of Oncology",
			ArticleColumnAccess:  domain.AccessOpen,
		}))
		got, err = articles.GetByID(ctx, article.ID)
		require.NoError(t, err)
		assert.Equal(t, "Journal of Oncology", got.Journal)
		assert.Equal(t, domain.AccessOpen, got.Access)

		require.NoError(t, articles.AddLinks(ctx, article.ID, Links{SourceID: sourceID}))
		require.NoError(t, articles.AddLinks(ctx, article.ID, Links{SourceID: sourceID}))

		a1, err := authors.GetOrCreate(ctx, domain.Author{GivenName: "Ada", FamilyName: "Lovelace"})
		require.NoError(t, err)
		a2, err := authors.GetOrCreate(ctx, domain.Author{GivenName: "ada", FamilyName: "LOVELACE"})
		require.NoError(t, err)
		assert.Equal(t, a1.ID, a2.ID)
		require.NoError(t, articles.AddAuthor(ctx, article.ID, a1.ID))
		require.NoError(t, articles.AddAuthor(ctx, article.ID, a1.ID))

		rec := &domain.ChangeRecord{
			EntityKind: domain.KindArticle,
			EntityID:   article.ID,
			Changes:    []domain.FieldChange{{Field: "journal", NewValue: "Journal of Oncology"}},
			Reason:     domain.ReasonUpdated,
			SourceID:   sourceID,
		}
		require.NoError(t, changes.Create(ctx, rec))
		history, err := changes.ListByEntity(ctx, domain.KindArticle, article.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, "journal", history[0].Changes[0].Field)
	})

	t.Run("trial identifiers are unique per registry", func(t *testing.T) {
		trial := &domain.Trial{
			Title:       "Drug X versus placebo",
			Identifiers: domain.TrialIdentifiers{domain.TrialIDEUCT: "2023-501234-12-00"},
			Details:     &domain.TrialDetails{OverallStatus: "Ongoing"},
		}
		require.NoError(t, trials.Create(ctx, trial))

		got, err := trials.FindByIdentifier(ctx, domain.TrialIDEUCT, "2023-501234-12-00")
		require.NoError(t, err)
		assert.Equal(t, "Ongoing", got.Details.OverallStatus)

		_, err = trials.FindByIdentifier(ctx, domain.TrialIDNCT, "NCT00000000")
		assert.True(t, errors.Is(err, domain.ErrNotFound))

		other := &domain.Trial{ID: uuid.New(), Title: "Other", Identifiers: domain.TrialIdentifiers{domain.TrialIDEUCT: "2023-501234-12-00"}}
		assert.True(t, errors.Is(trials.Create(ctx, other), domain.ErrAlreadyExists))

		require.NoError(t, trials.Update(ctx, trial.ID, map[string]interface{}{string(domain.TrialIDNCT): "NCT01234567"}))
		got, err = trials.FindByIdentifier(ctx, domain.TrialIDNCT, "NCT01234567")
		require.NoError(t, err)
		assert.Equal(t, trial.ID, got.ID)
	})
}
