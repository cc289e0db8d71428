package domain

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxChangeReasonLength bounds the stored change reason.
const MaxChangeReasonLength = 100

// Change reasons recorded by the feed pipeline.
const (
	ReasonCreated = "Created from RSS feed."
	ReasonUpdated = "Updated from RSS feed."
)

// FieldChange is one field modified by an upsert.
type FieldChange struct {
	Field    string `json:"field"`
	OldValue string `json:"old_value"`
	NewValue string `json:"new_value"`
}

// ChangeRecord is the audit entry written by every mutating upsert.
type ChangeRecord struct {
	ID         int64
	EntityKind EntityKind
	EntityID   uuid.UUID
	Changes    []FieldChange
	Reason     string
	SourceID   int64
	RunID      string
	CreatedAt  time.Time
}

// TruncateReason shortens reason to MaxChangeReasonLength characters.
func TruncateReason(reason string) string {
	if utf8.RuneCountInString(reason) <= MaxChangeReasonLength {
		return reason
	}
	runes := []rune(reason)
	return string(runes[:MaxChangeReasonLength])
}
