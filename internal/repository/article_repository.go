package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/helixir/research-feed-service/internal/domain"
)

// ArticleRepository handles article persistence.
type ArticleRepository interface {
	// GetByID returns domain.ErrNotFound when no article has id.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Article, error)

	// FindByDOI matches case-insensitively and returns domain.ErrNotFound
	// when no article holds doi.
	FindByDOI(ctx context.Context, doi string) (*domain.Article, error)

	// FindByTitle returns every article whose title equals title, ignoring
	// case. The result may be empty.
	FindByTitle(ctx context.Context, title string) ([]*domain.Article, error)

	// Create inserts a new article. A unique violation on the DOI index
	// yields a *domain.AlreadyExistsError.
	Create(ctx context.Context, article *domain.Article) error

	// Update writes only the given columns, keyed by ArticleColumn names.
	Update(ctx context.Context, id uuid.UUID, columns map[string]interface{}) error

	// AddLinks associates the article with its source, team and subject.
	AddLinks(ctx context.Context, id uuid.UUID, links Links) error

	// AddAuthor associates the article with an author.
	AddAuthor(ctx context.Context, id uuid.UUID, authorID int64) error
}

// Updatable article columns.
const (
	ArticleColumnTitle         = "title"
	ArticleColumnSummary       = "summary"
	ArticleColumnLink          = "link"
	ArticleColumnDOI           = "doi"
	ArticleColumnPublishedDate = "published_date"
	ArticleColumnPublisher     = "publisher"
	ArticleColumnJournal       = "journal"
	ArticleColumnAccess        = "access"
	ArticleColumnCrossrefCheck = "crossref_check"
)

var articleUpdatable = map[string]bool{
	ArticleColumnTitle: true, ArticleColumnSummary: true, ArticleColumnLink: true,
	ArticleColumnDOI: true, ArticleColumnPublishedDate: true, ArticleColumnPublisher: true,
	ArticleColumnJournal: true, ArticleColumnAccess: true, ArticleColumnCrossrefCheck: true,
}

var _ ArticleRepository = (*PgArticleRepository)(nil)

// PgArticleRepository is a PostgreSQL implementation of ArticleRepository.
type PgArticleRepository struct {
	db DBTX
}

// NewPgArticleRepository creates a new PostgreSQL article repository.
func NewPgArticleRepository(db DBTX) *PgArticleRepository {
	return &PgArticleRepository{db: db}
}

const articleColumns = `id, title, summary, link, COALESCE(doi, ''), published_date, discovery_date,
	publisher, journal, access, crossref_check, created_at, updated_at`

// GetByID implements ArticleRepository.
func (r *PgArticleRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Article, error) {
	query := `SELECT ` + articleColumns + ` FROM articles WHERE id = $1`

	article, err := scanArticle(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("article", id.String())
		}
		return nil, fmt.Errorf("failed to get article by ID: %w", err)
	}
	return article, nil
}

// FindByDOI implements ArticleRepository.
func (r *PgArticleRepository) FindByDOI(ctx context.Context, doi string) (*domain.Article, error) {
	if doi == "" {
		return nil, domain.NewValidationError("doi", "DOI is required")
	}
	query := `SELECT ` + articleColumns + ` FROM articles WHERE lower(doi) = lower($1)`

	article, err := scanArticle(r.db.QueryRow(ctx, query, doi))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("article", doi)
		}
		return nil, fmt.Errorf("failed to find article by DOI: %w", err)
	}
	return article, nil
}

// FindByTitle implements ArticleRepository.
func (r *PgArticleRepository) FindByTitle(ctx context.Context, title string) ([]*domain.Article, error) {
	if title == "" {
		return nil, nil
	}
	query := `SELECT ` + articleColumns + ` FROM articles WHERE lower(title) = lower($1) ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, title)
	if err != nil {
		return nil, fmt.Errorf("failed to find articles by title: %w", err)
	}
	defer rows.Close()

	var articles []*domain.Article
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan article: %w", err)
		}
		articles = append(articles, article)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating articles: %w", err)
	}
	return articles, nil
}

// Create implements ArticleRepository. ID, timestamps and an unknown access
// value are filled in when unset.
func (r *PgArticleRepository) Create(ctx context.Context, article *domain.Article) error {
	if article == nil {
		return domain.NewValidationError("article", "article cannot be nil")
	}
	if article.Title == "" {
		return domain.NewValidationError("title", "title is required")
	}

	now := time.Now().UTC()
	if article.ID == uuid.Nil {
		article.ID = uuid.New()
	}
	if article.DiscoveryDate.IsZero() {
		article.DiscoveryDate = now
	}
	if article.Access == "" {
		article.Access = domain.AccessUnknown
	}

	query := `
		INSERT INTO articles (
			id, title, summary, link, doi, published_date, discovery_date,
			publisher, journal, access, crossref_check, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		article.ID,
		article.Title,
		article.Summary,
		article.Link,
		nullIfEmpty(article.DOI),
		article.PublishedDate,
		article.DiscoveryDate,
		article.Publisher,
		article.Journal,
		string(article.Access),
		article.CrossrefCheck,
		now,
	).Scan(&article.CreatedAt, &article.UpdatedAt)
	if err != nil {
		return mapWriteError(err, "article", article.ID.String(), "create")
	}
	return nil
}

// Update implements ArticleRepository.
func (r *PgArticleRepository) Update(ctx context.Context, id uuid.UUID, columns map[string]interface{}) error {
	if len(columns) == 0 {
		return nil
	}
	values := make(map[string]interface{}, len(columns))
	for col, v := range columns {
		if !articleUpdatable[col] {
			return domain.NewValidationError(col, "column is not updatable")
		}
		switch val := v.(type) {
		case domain.Access:
			v = string(val)
		case string:
			if col == ArticleColumnDOI {
				v = nullIfEmpty(val)
			}
		}
		values[col] = v
	}

	query, args, err := psql.Update("articles").
		SetMap(values).
		Set("updated_at", time.Now().UTC()).
		Where("id = ?", id).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build article update: %w", err)
	}

	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return mapWriteError(err, "article", id.String(), "update")
	}
	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("article", id.String())
	}
	return nil
}

// AddLinks implements ArticleRepository. The inserts are sent as one batch.
func (r *PgArticleRepository) AddLinks(ctx context.Context, id uuid.UUID, links Links) error {
	return addLinks(ctx, r.db, "article", id, links)
}

// AddAuthor implements ArticleRepository.
func (r *PgArticleRepository) AddAuthor(ctx context.Context, id uuid.UUID, authorID int64) error {
	query := `
		INSERT INTO article_authors (article_id, author_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`

	if _, err := r.db.Exec(ctx, query, id, authorID); err != nil {
		return mapWriteError(err, "article author", id.String(), "link")
	}
	return nil
}

// addLinks inserts the {kind}_sources, {kind}_teams and {kind}_subjects rows
// for an entity, ignoring ones that already exist.
func addLinks(ctx context.Context, db DBTX, kind string, id uuid.UUID, links Links) error {
	batch := &pgx.Batch{}
	queue := func(table, column string, refID int64) {
		if refID <= 0 {
			return
		}
		batch.Queue(fmt.Sprintf(
			`INSERT INTO %s_%s (%s_id, %s) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			kind, table, kind, column), id, refID)
	}
	queue("sources", "source_id", links.SourceID)
	queue("teams", "team_id", links.TeamID)
	queue("subjects", "subject_id", links.SubjectID)
	if batch.Len() == 0 {
		return nil
	}

	br := db.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return mapWriteError(err, kind+" link", id.String(), "add")
		}
	}
	return nil
}

// scanArticle scans a row selected with articleColumns.
func scanArticle(row pgx.Row) (*domain.Article, error) {
	var (
		a      domain.Article
		access string
	)
	err := row.Scan(&a.ID, &a.Title, &a.Summary, &a.Link, &a.DOI, &a.PublishedDate,
		&a.DiscoveryDate, &a.Publisher, &a.Journal, &access, &a.CrossrefCheck,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Access = domain.Access(access)
	return &a, nil
}
