package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/research-feed-service/internal/domain"
)

var sourceRowColumns = []string{
	"id", "name", "feed_url", "method", "kind", "active", "ignore_tls_verify",
	"keyword_filter", "team_id", "subject_id",
}

func TestPgSourceRepository_ListIngestible(t *testing.T) {
	ctx := context.Background()

	t.Run("filters by kind", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgSourceRepository(mock)
		mock.ExpectQuery(`FROM sources WHERE active AND method = \$1 AND kind = ANY\(\$2\) ORDER BY id`).
			WithArgs("rss", []string{"trial"}).
			WillReturnRows(pgxmock.NewRows(sourceRowColumns).
				AddRow(int64(2), "CTIS", "https://euclinicaltrials.eu/rss", "rss", "trial", true, true, "", int64(1), int64(0)))

		got, err := repo.ListIngestible(ctx, []domain.EntityKind{domain.KindTrial})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, domain.KindTrial, got[0].Kind)
		assert.Equal(t, domain.MethodRSS, got[0].Method)
		assert.True(t, got[0].IgnoreTLSVerify)
		assert.Equal(t, int64(1), got[0].TeamID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("all kinds", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgSourceRepository(mock)
		mock.ExpectQuery(`FROM sources WHERE active AND method = \$1 ORDER BY id`).
			WithArgs("rss").
			WillReturnRows(pgxmock.NewRows(sourceRowColumns))

		got, err := repo.ListIngestible(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wraps query errors", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgSourceRepository(mock)
		mock.ExpectQuery("FROM sources").WithArgs("rss").WillReturnError(errors.New("down"))

		_, err = repo.ListIngestible(ctx, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to list sources: down")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

const sourcesYAML = `
sources:
  - id: 3
    name: EU register
    feed_url: https://www.clinicaltrialsregister.eu/ctr-search/rest/feed/bydates
    kind: trial
    active: true
  - id: 1
    name: PubMed oncology
    feed_url: https://pubmed.ncbi.nlm.nih.gov/rss/search/abc/
    method: rss
    kind: article
    active: true
    keyword_filter: 'melanoma, "checkpoint inhibitor"'
    team_id: 1
    subject_id: 2
  - id: 2
    name: Inactive
    feed_url: https://example.org/feed
    kind: article
    active: false
  - id: 4
    name: Scraped
    feed_url: https://example.org/news
    method: scrape
    kind: article
    active: true
`

func writeSourceFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestYAMLSourceRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("List orders by ID and defaults method", func(t *testing.T) {
		repo := NewYAMLSourceRepository(writeSourceFile(t, sourcesYAML))
		got, err := repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, got, 4)
		assert.Equal(t, int64(1), got[0].ID)
		assert.Equal(t, `melanoma, "checkpoint inhibitor"`, got[0].KeywordFilter)
		assert.Equal(t, int64(2), got[0].SubjectID)
		assert.Equal(t, domain.MethodRSS, got[2].Method)
	})

	t.Run("ListIngestible keeps active rss sources of the kinds", func(t *testing.T) {
		repo := NewYAMLSourceRepository(writeSourceFile(t, sourcesYAML))

		got, err := repo.ListIngestible(ctx, nil)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, int64(1), got[0].ID)
		assert.Equal(t, int64(3), got[1].ID)

		got, err = repo.ListIngestible(ctx, []domain.EntityKind{domain.KindTrial})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "EU register", got[0].Name)
	})

	t.Run("missing file", func(t *testing.T) {
		repo := NewYAMLSourceRepository(filepath.Join(t.TempDir(), "nope.yaml"))
		_, err := repo.List(ctx)
		assert.Error(t, err)
	})

	t.Run("malformed file", func(t *testing.T) {
		repo := NewYAMLSourceRepository(writeSourceFile(t, "sources: [1, 2"))
		_, err := repo.List(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse source file")
	})
}
