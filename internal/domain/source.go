package domain

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Source is an operator-managed feed configuration record. The pipeline only
// reads it, and links the entities it creates back to it.
type Source struct {
	ID              int64       `json:"id" yaml:"id" validate:"required,gt=0"`
	Name            string      `json:"name" yaml:"name" validate:"required,max=255"`
	FeedURL         string      `json:"feed_url" yaml:"feed_url" validate:"required,url"`
	Method          FetchMethod `json:"method" yaml:"method" validate:"required,oneof=rss scrape"`
	Kind            EntityKind  `json:"kind" yaml:"kind" validate:"required,oneof=article trial"`
	Active          bool        `json:"active" yaml:"active"`
	IgnoreTLSVerify bool        `json:"ignore_tls_verify" yaml:"ignore_tls_verify"`
	// KeywordFilter is the raw comma-separated list of words and quoted phrases.
	KeywordFilter string `json:"keyword_filter,omitempty" yaml:"keyword_filter"`
	TeamID        int64  `json:"team_id,omitempty" yaml:"team_id" validate:"gte=0"`
	SubjectID     int64  `json:"subject_id,omitempty" yaml:"subject_id" validate:"gte=0"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func sourceValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the record before it is processed. The first failing
// field is reported as a ValidationError.
func (s Source) Validate() error {
	err := sourceValidator().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("validate source %d: %w", s.ID, err)
	}

	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return NewValidationError(field, "is required")
	case "url":
		return NewValidationError(field, "must be a valid URL")
	case "oneof":
		return NewValidationError(field, fmt.Sprintf("must be one of [%s]", fe.Param()))
	default:
		return NewValidationError(field, fmt.Sprintf("failed %q constraint", fe.Tag()))
	}
}

// IsIngestible reports whether the feed pipeline handles this source.
func (s Source) IsIngestible() bool {
	return s.Active && s.Method == MethodRSS
}
