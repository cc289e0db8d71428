package repository

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/jackc/pgx/v5"
	"gopkg.in/yaml.v3"

	"github.com/helixir/research-feed-service/internal/domain"
)

// SourceRepository reads feed source configuration.
type SourceRepository interface {
	// ListIngestible returns active RSS sources of the given kinds, ordered
	// by ID. An empty kinds slice means every kind.
	ListIngestible(ctx context.Context, kinds []domain.EntityKind) ([]domain.Source, error)

	// List returns every configured source, ordered by ID.
	List(ctx context.Context) ([]domain.Source, error)
}

var (
	_ SourceRepository = (*PgSourceRepository)(nil)
	_ SourceRepository = (*YAMLSourceRepository)(nil)
)

// PgSourceRepository reads sources from the sources table.
type PgSourceRepository struct {
	db DBTX
}

// NewPgSourceRepository creates a new PostgreSQL source repository.
func NewPgSourceRepository(db DBTX) *PgSourceRepository {
	return &PgSourceRepository{db: db}
}

const sourceColumns = `id, name, feed_url, method, kind, active, ignore_tls_verify,
	keyword_filter, COALESCE(team_id, 0), COALESCE(subject_id, 0)`

// ListIngestible implements SourceRepository.
func (r *PgSourceRepository) ListIngestible(ctx context.Context, kinds []domain.EntityKind) ([]domain.Source, error) {
	q := psql.Select(sourceColumns).
		From("sources").
		Where("active").
		Where("method = ?", string(domain.MethodRSS)).
		OrderBy("id")
	if len(kinds) > 0 {
		names := make([]string, len(kinds))
		for i, k := range kinds {
			names[i] = string(k)
		}
		q = q.Where("kind = ANY(?)", names)
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build source query: %w", err)
	}
	return r.query(ctx, query, args...)
}

// List implements SourceRepository.
func (r *PgSourceRepository) List(ctx context.Context) ([]domain.Source, error) {
	return r.query(ctx, `SELECT `+sourceColumns+` FROM sources ORDER BY id`)
}

func (r *PgSourceRepository) query(ctx context.Context, query string, args ...interface{}) ([]domain.Source, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var sources []domain.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sources: %w", err)
	}
	return sources, nil
}

func scanSource(row pgx.Row) (domain.Source, error) {
	var (
		src    domain.Source
		method string
		kind   string
	)
	err := row.Scan(&src.ID, &src.Name, &src.FeedURL, &method, &kind, &src.Active,
		&src.IgnoreTLSVerify, &src.KeywordFilter, &src.TeamID, &src.SubjectID)
	if err != nil {
		return domain.Source{}, err
	}
	src.Method = domain.FetchMethod(method)
	src.Kind = domain.EntityKind(kind)
	return src, nil
}

// YAMLSourceRepository reads sources from a YAML file of the form
//
//	sources:
//	  - id: 1
//	    name: PubMed oncology
//	    feed_url: https://pubmed.ncbi.nlm.nih.gov/rss/search/...
//	    method: rss
//	    kind: article
//	    active: true
//
// The file is read on every call so edits apply on the next run.
type YAMLSourceRepository struct {
	path string
}

// NewYAMLSourceRepository creates a repository backed by the file at path.
func NewYAMLSourceRepository(path string) *YAMLSourceRepository {
	return &YAMLSourceRepository{path: path}
}

type sourceFile struct {
	Sources []domain.Source `yaml:"sources"`
}

// List implements SourceRepository.
func (r *YAMLSourceRepository) List(_ context.Context) ([]domain.Source, error) {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read source file: %w", err)
	}

	var file sourceFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse source file %s: %w", r.path, err)
	}
	for i := range file.Sources {
		if file.Sources[i].Method == "" {
			file.Sources[i].Method = domain.MethodRSS
		}
	}
	slices.SortStableFunc(file.Sources, func(a, b domain.Source) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return file.Sources, nil
}

// ListIngestible implements SourceRepository.
func (r *YAMLSourceRepository) ListIngestible(ctx context.Context, kinds []domain.EntityKind) ([]domain.Source, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, src := range all {
		if !src.IsIngestible() {
			continue
		}
		if len(kinds) > 0 && !slices.Contains(kinds, src.Kind) {
			continue
		}
		out = append(out, src)
	}
	return out, nil
}
