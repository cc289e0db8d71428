package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for common error conditions.
var (
	// ErrNotFound indicates that a requested entity was not found.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that a uniqueness constraint was violated.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates that the input data is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRateLimited indicates that the request was rate limited.
	ErrRateLimited = errors.New("rate limited")

	// ErrServiceUnavailable indicates that an external service is unavailable.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrFetch indicates that a feed could not be retrieved or decoded.
	ErrFetch = errors.New("feed fetch failed")

	// ErrParse indicates that an entry lacks a required field or has an
	// unparseable date.
	ErrParse = errors.New("entry parse failed")

	// ErrEnrichment indicates that an external metadata lookup failed.
	ErrEnrichment = errors.New("enrichment failed")

	// ErrAmbiguousMatch indicates that a candidate matched more than one
	// stored entity.
	ErrAmbiguousMatch = errors.New("ambiguous match")

	// ErrCancelled indicates that an operation was cancelled.
	ErrCancelled = errors.New("cancelled")
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NotFoundError provides details about a not found entity.
type NotFoundError struct {
	Entity string
	ID     string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// AlreadyExistsError provides details about a duplicate entity.
type AlreadyExistsError struct {
	Entity     string
	ID         string
	Constraint string
}

// Error implements the error interface.
func (e *AlreadyExistsError) Error() string {
	if e.Constraint != "" {
		return fmt.Sprintf("%s already exists: %s (%s)", e.Entity, e.ID, e.Constraint)
	}
	return fmt.Sprintf("%s already exists: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *AlreadyExistsError) Unwrap() error {
	return ErrAlreadyExists
}

// RateLimitError provides details about a rate limit error.
type RateLimitError struct {
	Source     string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by %s: retry after %s", e.Source, e.RetryAfter)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// ExternalAPIError provides details about an external API error.
type ExternalAPIError struct {
	Source     string
	StatusCode int
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *ExternalAPIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Source, e.StatusCode, e.Message)
}

// Unwrap returns the underlying cause error.
func (e *ExternalAPIError) Unwrap() error {
	return e.Cause
}

// FetchError describes a feed that could not be retrieved.
type FetchError struct {
	Source     string
	URL        string
	StatusCode int
	Cause      error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "fetch %s (%s)", e.Source, e.URL)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap exposes both ErrFetch and the cause.
func (e *FetchError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrFetch}
	}
	return []error{ErrFetch, e.Cause}
}

// ParseError describes an entry that could not be normalized.
type ParseError struct {
	Field  string
	Reason string
	Link   string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Link != "" {
		return fmt.Sprintf("parse entry %s: %s: %s", e.Link, e.Field, e.Reason)
	}
	return fmt.Sprintf("parse entry: %s: %s", e.Field, e.Reason)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ParseError) Unwrap() error {
	return ErrParse
}

// EnrichmentError describes a failed Crossref or Unpaywall lookup.
type EnrichmentError struct {
	Service string
	DOI     string
	Cause   error
}

// Error implements the error interface.
func (e *EnrichmentError) Error() string {
	return fmt.Sprintf("%s lookup for %s: %v", e.Service, e.DOI, e.Cause)
}

// Unwrap exposes both ErrEnrichment and the cause.
func (e *EnrichmentError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrEnrichment}
	}
	return []error{ErrEnrichment, e.Cause}
}

// AmbiguousMatchError reports the stored entities a candidate matched.
type AmbiguousMatchError struct {
	Kind    EntityKind
	Matches []uuid.UUID
	Keys    []string
}

// Error implements the error interface.
func (e *AmbiguousMatchError) Error() string {
	ids := make([]string, len(e.Matches))
	for i, id := range e.Matches {
		ids[i] = id.String()
	}
	return fmt.Sprintf("ambiguous %s match on [%s]: %s",
		e.Kind, strings.Join(e.Keys, ", "), strings.Join(ids, ", "))
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *AmbiguousMatchError) Unwrap() error {
	return ErrAmbiguousMatch
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{
		Entity: entity,
		ID:     id,
	}
}

// NewAlreadyExistsError creates a new AlreadyExistsError.
func NewAlreadyExistsError(entity, id string) *AlreadyExistsError {
	return &AlreadyExistsError{
		Entity: entity,
		ID:     id,
	}
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewRateLimitError creates a new RateLimitError.
func NewRateLimitError(source string, retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{
		Source:     source,
		RetryAfter: retryAfter,
	}
}

// NewExternalAPIError creates a new ExternalAPIError.
func NewExternalAPIError(source string, statusCode int, message string, cause error) *ExternalAPIError {
	return &ExternalAPIError{
		Source:     source,
		StatusCode: statusCode,
		Message:    message,
		Cause:      cause,
	}
}

// NewParseError creates a new ParseError.
func NewParseError(field, reason, link string) *ParseError {
	return &ParseError{Field: field, Reason: reason, Link: link}
}

// NewAmbiguousMatchError creates a new AmbiguousMatchError.
func NewAmbiguousMatchError(kind EntityKind, matches []uuid.UUID, keys ...string) *AmbiguousMatchError {
	return &AmbiguousMatchError{Kind: kind, Matches: matches, Keys: keys}
}
