package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/helixir/research-feed-service/internal/domain"
)

// TrialRepository handles clinical trial persistence.
type TrialRepository interface {
	// GetByID returns domain.ErrNotFound when no trial has id.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Trial, error)

	// FindByIdentifier returns the trial holding value for the given
	// registry, or domain.ErrNotFound.
	FindByIdentifier(ctx context.Context, kind domain.TrialIDKind, value string) (*domain.Trial, error)

	// FindByTitle returns every trial whose title equals title, ignoring case.
	FindByTitle(ctx context.Context, title string) ([]*domain.Trial, error)

	// Create inserts a new trial. A unique violation on any identifier
	// index yields a *domain.AlreadyExistsError.
	Create(ctx context.Context, trial *domain.Trial) error

	// Update writes only the given columns, keyed by TrialColumn names.
	Update(ctx context.Context, id uuid.UUID, columns map[string]interface{}) error

	// AddLinks associates the trial with its source, team and subject.
	AddLinks(ctx context.Context, id uuid.UUID, links Links) error
}

// Updatable trial columns. Identifier columns are named after the
// domain.TrialIDKind values.
const (
	TrialColumnTitle             = "title"
	TrialColumnSummary           = "summary"
	TrialColumnLink              = "link"
	TrialColumnPublishedDate     = "published_date"
	TrialColumnRecruitmentStatus = "recruitment_status"
	TrialColumnDetails           = "details"
)

var trialUpdatable = map[string]bool{
	TrialColumnTitle: true, TrialColumnSummary: true, TrialColumnLink: true,
	TrialColumnPublishedDate: true, TrialColumnRecruitmentStatus: true, TrialColumnDetails: true,
	string(domain.TrialIDNCT): true, string(domain.TrialIDEudraCT): true, string(domain.TrialIDEUCT): true,
}

var _ TrialRepository = (*PgTrialRepository)(nil)

// PgTrialRepository is a PostgreSQL implementation of TrialRepository.
type PgTrialRepository struct {
	db DBTX
}

// NewPgTrialRepository creates a new PostgreSQL trial repository.
func NewPgTrialRepository(db DBTX) *PgTrialRepository {
	return &PgTrialRepository{db: db}
}

const trialColumns = `id, title, summary, link, published_date, discovery_date,
	COALESCE(nct, ''), COALESCE(eudract, ''), COALESCE(euct, ''),
	recruitment_status, details, created_at, updated_at`

// GetByID implements TrialRepository.
func (r *PgTrialRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Trial, error) {
	query := `SELECT ` + trialColumns + ` FROM trials WHERE id = $1`

	trial, err := scanTrial(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("trial", id.String())
		}
		return nil, fmt.Errorf("failed to get trial by ID: %w", err)
	}
	return trial, nil
}

// FindByIdentifier implements TrialRepository.
func (r *PgTrialRepository) FindByIdentifier(ctx context.Context, kind domain.TrialIDKind, value string) (*domain.Trial, error) {
	if !isTrialIDColumn(kind) {
		return nil, domain.NewValidationError("kind", fmt.Sprintf("unknown trial identifier kind %q", kind))
	}
	if value == "" {
		return nil, domain.NewValidationError(string(kind), "identifier value is required")
	}

	// kind is one of three fixed column names, checked above.
	query := fmt.Sprintf(`SELECT %s FROM trials WHERE %s = $1`, trialColumns, kind)

	trial, err := scanTrial(r.db.QueryRow(ctx, query, value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("trial", fmt.Sprintf("%s:%s", kind, value))
		}
		return nil, fmt.Errorf("failed to find trial by identifier: %w", err)
	}
	return trial, nil
}

// FindByTitle implements TrialRepository.
func (r *PgTrialRepository) FindByTitle(ctx context.Context, title string) ([]*domain.Trial, error) {
	if title == "" {
		return nil, nil
	}
	query := `SELECT ` + trialColumns + ` FROM trials WHERE lower(title) = lower($1) ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, title)
	if err != nil {
		return nil, fmt.Errorf("failed to find trials by title: %w", err)
	}
	defer rows.Close()

	var trials []*domain.Trial
	for rows.Next() {
		trial, err := scanTrial(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trial: %w", err)
		}
		trials = append(trials, trial)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trials: %w", err)
	}
	return trials, nil
}

// Create implements TrialRepository.
func (r *PgTrialRepository) Create(ctx context.Context, trial *domain.Trial) error {
	if trial == nil {
		return domain.NewValidationError("trial", "trial cannot be nil")
	}
	if trial.Title == "" {
		return domain.NewValidationError("title", "title is required")
	}

	details, err := marshalDetails(trial.Details)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if trial.ID == uuid.Nil {
		trial.ID = uuid.New()
	}
	if trial.DiscoveryDate.IsZero() {
		trial.DiscoveryDate = now
	}

	query := `
		INSERT INTO trials (
			id, title, summary, link, published_date, discovery_date,
			nct, eudract, euct, recruitment_status, details, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		RETURNING created_at, updated_at`

	err = r.db.QueryRow(ctx, query,
		trial.ID,
		trial.Title,
		trial.Summary,
		trial.Link,
		trial.PublishedDate,
		trial.DiscoveryDate,
		nullIfEmpty(trial.Identifiers.Get(domain.TrialIDNCT)),
		nullIfEmpty(trial.Identifiers.Get(domain.TrialIDEudraCT)),
		nullIfEmpty(trial.Identifiers.Get(domain.TrialIDEUCT)),
		trial.RecruitmentStatus,
		details,
		now,
	).Scan(&trial.CreatedAt, &trial.UpdatedAt)
	if err != nil {
		return mapWriteError(err, "trial", trial.ID.String(), "create")
	}
	return nil
}

// Update implements TrialRepository.
func (r *PgTrialRepository) Update(ctx context.Context, id uuid.UUID, columns map[string]interface{}) error {
	if len(columns) == 0 {
		return nil
	}
	values := make(map[string]interface{}, len(columns))
	for col, v := range columns {
		if !trialUpdatable[col] {
			return domain.NewValidationError(col, "column is not updatable")
		}
		switch val := v.(type) {
		case *domain.TrialDetails:
			raw, err := marshalDetails(val)
			if err != nil {
				return err
			}
			v = raw
		case string:
			if isTrialIDColumn(domain.TrialIDKind(col)) {
				v = nullIfEmpty(val)
			}
		}
		values[col] = v
	}

	query, args, err := psql.Update("trials").
		SetMap(values).
		Set("updated_at", time.Now().UTC()).
		Where("id = ?", id).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build trial update: %w", err)
	}

	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return mapWriteError(err, "trial", id.String(), "update")
	}
	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("trial", id.String())
	}
	return nil
}

// AddLinks implements TrialRepository.
func (r *PgTrialRepository) AddLinks(ctx context.Context, id uuid.UUID, links Links) error {
	return addLinks(ctx, r.db, "trial", id, links)
}

func isTrialIDColumn(kind domain.TrialIDKind) bool {
	switch kind {
	case domain.TrialIDNCT, domain.TrialIDEudraCT, domain.TrialIDEUCT:
		return true
	}
	return false
}

func marshalDetails(d *domain.TrialDetails) ([]byte, error) {
	if d == nil {
		return nil, nil
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal trial details: %w", err)
	}
	return raw, nil
}

// scanTrial scans a row selected with trialColumns.
func scanTrial(row pgx.Row) (*domain.Trial, error) {
	var (
		t                  domain.Trial
		nct, eudract, euct string
		detailsJSON        []byte
	)
	err := row.Scan(&t.ID, &t.Title, &t.Summary, &t.Link, &t.PublishedDate, &t.DiscoveryDate,
		&nct, &eudract, &euct, &t.RecruitmentStatus, &detailsJSON, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	t.Identifiers = domain.TrialIdentifiers{}
	t.Identifiers.Set(domain.TrialIDNCT, nct)
	t.Identifiers.Set(domain.TrialIDEudraCT, eudract)
	t.Identifiers.Set(domain.TrialIDEUCT, euct)

	if len(detailsJSON) > 0 {
		var details domain.TrialDetails
		if err := json.Unmarshal(detailsJSON, &details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trial details: %w", err)
		}
		t.Details = &details
	}
	return &t, nil
}
