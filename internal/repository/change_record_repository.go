package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/research-feed-service/internal/domain"
)

// ChangeRecordRepository stores the audit trail of entity changes.
type ChangeRecordRepository interface {
	// Create inserts rec and fills in its ID and CreatedAt. The reason is
	// truncated to domain.MaxChangeReasonLength.
	Create(ctx context.Context, rec *domain.ChangeRecord) error

	// ListByEntity returns the records of one entity, newest first.
	ListByEntity(ctx context.Context, kind domain.EntityKind, id uuid.UUID) ([]domain.ChangeRecord, error)
}

var _ ChangeRecordRepository = (*PgChangeRecordRepository)(nil)

// PgChangeRecordRepository is a PostgreSQL implementation of ChangeRecordRepository.
type PgChangeRecordRepository struct {
	db DBTX
}

// NewPgChangeRecordRepository creates a new PostgreSQL change record repository.
func NewPgChangeRecordRepository(db DBTX) *PgChangeRecordRepository {
	return &PgChangeRecordRepository{db: db}
}

// Create implements ChangeRecordRepository.
func (r *PgChangeRecordRepository) Create(ctx context.Context, rec *domain.ChangeRecord) error {
	if rec == nil {
		return domain.NewValidationError("change_record", "change record cannot be nil")
	}
	if !rec.EntityKind.IsValid() {
		return domain.NewValidationError("entity_kind", fmt.Sprintf("unknown entity kind %q", rec.EntityKind))
	}

	changes := rec.Changes
	if changes == nil {
		changes = []domain.FieldChange{}
	}
	changesJSON, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("failed to marshal changes: %w", err)
	}

	rec.Reason = domain.TruncateReason(rec.Reason)
	var sourceID *int64
	if rec.SourceID > 0 {
		sourceID = &rec.SourceID
	}

	query := `
		INSERT INTO change_records (entity_kind, entity_id, changes, reason, source_id, run_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	err = r.db.QueryRow(ctx, query,
		string(rec.EntityKind),
		rec.EntityID,
		changesJSON,
		rec.Reason,
		sourceID,
		rec.RunID,
		time.Now().UTC(),
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return mapWriteError(err, "change record", rec.EntityID.String(), "create")
	}
	return nil
}

// ListByEntity implements ChangeRecordRepository.
func (r *PgChangeRecordRepository) ListByEntity(ctx context.Context, kind domain.EntityKind, id uuid.UUID) ([]domain.ChangeRecord, error) {
	query := `
		SELECT id, entity_kind, entity_id, changes, reason, COALESCE(source_id, 0), run_id, created_at
		FROM change_records
		WHERE entity_kind = $1 AND entity_id = $2
		ORDER BY created_at DESC, id DESC`

	rows, err := r.db.Query(ctx, query, string(kind), id)
	if err != nil {
		return nil, fmt.Errorf("failed to list change records: %w", err)
	}
	defer rows.Close()

	var records []domain.ChangeRecord
	for rows.Next() {
		var (
			rec         domain.ChangeRecord
			entityKind  string
			changesJSON []byte
		)
		if err := rows.Scan(&rec.ID, &entityKind, &rec.EntityID, &changesJSON, &rec.Reason,
			&rec.SourceID, &rec.RunID, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan change record: %w", err)
		}
		rec.EntityKind = domain.EntityKind(entityKind)
		if err := json.Unmarshal(changesJSON, &rec.Changes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal changes: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating change records: %w", err)
	}
	return records, nil
}
