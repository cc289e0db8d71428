// Package upsert persists resolved candidates as articles and trials.
//
// Each candidate is resolved and written inside one transaction: a new
// entity is created with its associations, or the stored entity is updated
// with only the fields whose desired value differs, and a change record is
// appended. A unique violation raised by a concurrent writer is treated as a
// late match: the transaction is retried, the candidate re-resolves to the
// winning row, and the retry updates it.
package upsert

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/research-feed-service/internal/domain"
	"github.com/helixir/research-feed-service/internal/identifiers"
	"github.com/helixir/research-feed-service/internal/observability"
	"github.com/helixir/research-feed-service/internal/outbox"
	"github.com/helixir/research-feed-service/internal/repository"
	"github.com/helixir/research-feed-service/internal/resolver"
)

// DefaultMaxAttempts bounds the transactions tried per candidate.
const DefaultMaxAttempts = 3

// Action is what an upsert did to the stored entity.
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionUnchanged Action = "unchanged"
)

// Outcome describes a committed upsert.
type Outcome struct {
	Action   Action
	EntityID uuid.UUID
	// Changes lists the fields written, for created and updated entities.
	Changes []domain.FieldChange
}

// ArticleInput is the desired state of one article and the rows it links to.
type ArticleInput struct {
	Fields domain.ArticleFields
	Links  repository.Links
}

// TrialInput is the desired state of one trial and the rows it links to.
type TrialInput struct {
	Fields domain.TrialFields
	Links  repository.Links
}

// Recorder receives upsert measurements. *observability.Metrics implements it.
type Recorder interface {
	RecordIntegrityConflict(kind string)
	RecordEventPublished(eventType, status string)
}

type noopRecorder struct{}

func (noopRecorder) RecordIntegrityConflict(string)      {}
func (noopRecorder) RecordEventPublished(string, string) {}

// Engine writes candidates through a repository.TxRunner.
type Engine struct {
	tx          repository.TxRunner
	emitter     *outbox.Emitter
	publisher   outbox.Publisher
	recorder    Recorder
	logger      zerolog.Logger
	maxAttempts int
}

// Option customizes an Engine.
type Option func(*Engine)

// WithPublisher publishes a change event after every committed create or
// update.
func WithPublisher(emitter *outbox.Emitter, publisher outbox.Publisher) Option {
	return func(e *Engine) {
		e.emitter = emitter
		e.publisher = publisher
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithMaxAttempts overrides DefaultMaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// New creates an Engine.
func New(tx repository.TxRunner, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		tx:          tx,
		recorder:    noopRecorder{},
		logger:      logger.With().Str("component", "upsert").Logger(),
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// UpsertArticle creates or updates the article described by in. An
// ambiguous resolution returns a *domain.AmbiguousMatchError and writes
// nothing.
func (e *Engine) UpsertArticle(ctx context.Context, in ArticleInput) (*Outcome, error) {
	in.Fields.Title = identifiers.CleanTitle(in.Fields.Title)
	if in.Fields.Title == "" {
		return nil, domain.NewValidationError("title", "title is required")
	}

	var (
		out     *Outcome
		payload domain.EntityChangedPayload
	)
	err := e.withRetry(ctx, domain.KindArticle, func(ctx context.Context, tx repository.Tx) error {
		res, err := resolver.ResolveArticle(ctx, tx.Articles(), resolver.ArticleKey{
			DOI:   in.Fields.DOI,
			Title: in.Fields.Title,
		})
		if err != nil {
			return err
		}

		var article domain.Article
		switch res.Outcome {
		case resolver.OutcomeAmbiguous:
			return res.Err(domain.KindArticle)
		case resolver.OutcomeNone:
			out, article, err = e.createArticle(ctx, tx, in)
		default:
			out, article, err = e.updateArticle(ctx, tx, res.Article, in)
		}
		if err != nil {
			return err
		}
		payload = articlePayload(&article, in.Links.SourceID, out.Changes)
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, domain.KindArticle, out, payload)
	return out, nil
}

func (e *Engine) createArticle(ctx context.Context, tx repository.Tx, in ArticleInput) (*Outcome, domain.Article, error) {
	f := in.Fields
	article := &domain.Article{
		Title:         f.Title,
		Summary:       f.Summary,
		Link:          f.Link,
		DOI:           f.DOI,
		PublishedDate: f.PublishedDate,
		Publisher:     f.Publisher,
		Journal:       f.Journal,
		Access:        f.Access,
		CrossrefCheck: f.CrossrefCheck,
	}
	if err := tx.Articles().Create(ctx, article); err != nil {
		return nil, domain.Article{}, err
	}
	if err := e.linkArticle(ctx, tx, article.ID, in); err != nil {
		return nil, domain.Article{}, err
	}

	changes := createdArticleChanges(article)
	if err := e.record(ctx, tx, domain.KindArticle, article.ID, changes, domain.ReasonCreated, in.Links.SourceID); err != nil {
		return nil, domain.Article{}, err
	}
	return &Outcome{Action: ActionCreated, EntityID: article.ID, Changes: changes}, *article, nil
}

func (e *Engine) updateArticle(ctx context.Context, tx repository.Tx, stored *domain.Article, in ArticleInput) (*Outcome, domain.Article, error) {
	p, merged := planArticle(stored, in.Fields)
	out := &Outcome{Action: ActionUnchanged, EntityID: stored.ID}

	if !p.empty() {
		if err := tx.Articles().Update(ctx, stored.ID, p.columns); err != nil {
			return nil, domain.Article{}, err
		}
		if err := e.record(ctx, tx, domain.KindArticle, stored.ID, p.changes, domain.ReasonUpdated, in.Links.SourceID); err != nil {
			return nil, domain.Article{}, err
		}
		out.Action = ActionUpdated
		out.Changes = p.changes
	}

	if err := e.linkArticle(ctx, tx, stored.ID, in); err != nil {
		return nil, domain.Article{}, err
	}
	return out, merged, nil
}

// linkArticle adds the reference links and authors. Both are additive.
func (e *Engine) linkArticle(ctx context.Context, tx repository.Tx, id uuid.UUID, in ArticleInput) error {
	if err := tx.Articles().AddLinks(ctx, id, in.Links); err != nil {
		return fmt.Errorf("link article: %w", err)
	}
	for _, a := range in.Fields.Authors {
		if !a.IsIdentifiable() {
			e.logger.Debug().Str("article_id", id.String()).Str("author", a.FullName()).
				Msg("skipping author without ORCID or full name")
			continue
		}
		author, err := tx.Authors().GetOrCreate(ctx, a)
		if err != nil {
			return fmt.Errorf("get or create author: %w", err)
		}
		if err := tx.Articles().AddAuthor(ctx, id, author.ID); err != nil {
			return fmt.Errorf("link author: %w", err)
		}
	}
	return nil
}

// UpsertTrial creates or updates the trial described by in.
func (e *Engine) UpsertTrial(ctx context.Context, in TrialInput) (*Outcome, error) {
	in.Fields.Title = identifiers.CleanTitle(in.Fields.Title)
	if in.Fields.Title == "" {
		return nil, domain.NewValidationError("title", "title is required")
	}

	var (
		out     *Outcome
		payload domain.EntityChangedPayload
	)
	err := e.withRetry(ctx, domain.KindTrial, func(ctx context.Context, tx repository.Tx) error {
		res, err := resolver.ResolveTrial(ctx, tx.Trials(), resolver.TrialKey{
			Identifiers: in.Fields.Identifiers,
			Title:       in.Fields.Title,
		})
		if err != nil {
			return err
		}

		var trial domain.Trial
		switch res.Outcome {
		case resolver.OutcomeAmbiguous:
			return res.Err(domain.KindTrial)
		case resolver.OutcomeNone:
			out, trial, err = e.createTrial(ctx, tx, in)
		default:
			out, trial, err = e.updateTrial(ctx, tx, res.Trial, in)
		}
		if err != nil {
			return err
		}
		payload = trialPayload(&trial, in.Links.SourceID, out.Changes)
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, domain.KindTrial, out, payload)
	return out, nil
}

func (e *Engine) createTrial(ctx context.Context, tx repository.Tx, in TrialInput) (*Outcome, domain.Trial, error) {
	f := in.Fields
	ids := make(domain.TrialIdentifiers, len(f.Identifiers))
	for _, kind := range domain.TrialIDKinds {
		ids.Set(kind, f.Identifiers.Get(kind))
	}
	trial := &domain.Trial{
		Title:             f.Title,
		Summary:           f.Summary,
		Link:              f.Link,
		PublishedDate:     f.PublishedDate,
		Identifiers:       ids,
		RecruitmentStatus: f.RecruitmentStatus,
		Details:           f.Details,
	}
	if err := tx.Trials().Create(ctx, trial); err != nil {
		return nil, domain.Trial{}, err
	}
	if err := tx.Trials().AddLinks(ctx, trial.ID, in.Links); err != nil {
		return nil, domain.Trial{}, fmt.Errorf("link trial: %w", err)
	}

	changes := createdTrialChanges(trial)
	if err := e.record(ctx, tx, domain.KindTrial, trial.ID, changes, domain.ReasonCreated, in.Links.SourceID); err != nil {
		return nil, domain.Trial{}, err
	}
	return &Outcome{Action: ActionCreated, EntityID: trial.ID, Changes: changes}, *trial, nil
}

func (e *Engine) updateTrial(ctx context.Context, tx repository.Tx, stored *domain.Trial, in TrialInput) (*Outcome, domain.Trial, error) {
	p, merged, err := planTrial(stored, in.Fields)
	if err != nil {
		return nil, domain.Trial{}, err
	}
	out := &Outcome{Action: ActionUnchanged, EntityID: stored.ID}

	if !p.empty() {
		if err := tx.Trials().Update(ctx, stored.ID, p.columns); err != nil {
			return nil, domain.Trial{}, err
		}
		if err := e.record(ctx, tx, domain.KindTrial, stored.ID, p.changes, domain.ReasonUpdated, in.Links.SourceID); err != nil {
			return nil, domain.Trial{}, err
		}
		out.Action = ActionUpdated
		out.Changes = p.changes
	}

	if err := tx.Trials().AddLinks(ctx, stored.ID, in.Links); err != nil {
		return nil, domain.Trial{}, fmt.Errorf("link trial: %w", err)
	}
	return out, merged, nil
}

func (e *Engine) record(ctx context.Context, tx repository.Tx, kind domain.EntityKind, id uuid.UUID,
	changes []domain.FieldChange, reason string, sourceID int64) error {
	rec := &domain.ChangeRecord{
		EntityKind: kind,
		EntityID:   id,
		Changes:    changes,
		Reason:     reason,
		SourceID:   sourceID,
		RunID:      observability.RunIDFromContext(ctx),
	}
	if err := tx.ChangeRecords().Create(ctx, rec); err != nil {
		return fmt.Errorf("record %s change: %w", kind, err)
	}
	return nil
}

// withRetry runs fn in a fresh transaction until it commits, fails with
// something other than a unique violation, or runs out of attempts.
func (e *Engine) withRetry(ctx context.Context, kind domain.EntityKind, fn func(context.Context, repository.Tx) error) error {
	var err error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		err = e.tx.InTx(ctx, fn)
		if err == nil || !errors.Is(err, domain.ErrAlreadyExists) {
			return err
		}

		e.recorder.RecordIntegrityConflict(kind.String())
		e.logger.Warn().
			Err(err).
			Str("category", "integrity").
			Str("kind", kind.String()).
			Int("attempt", attempt).
			Msg("unique violation on write, re-resolving")
	}
	return fmt.Errorf("upsert %s: gave up after %d attempts: %w", kind, e.maxAttempts, err)
}

// publish emits the change event of a committed upsert. Failures are
// logged only; the stored change stands.
func (e *Engine) publish(ctx context.Context, kind domain.EntityKind, out *Outcome, payload domain.EntityChangedPayload) {
	if e.publisher == nil || out.Action == ActionUnchanged {
		return
	}
	eventType := domain.EventTypeFor(kind, out.Action == ActionCreated)

	event, err := e.emitter.Emit(outbox.EmitParams{
		AggregateID: out.EntityID.String(),
		Kind:        kind,
		EventType:   eventType,
		Payload:     payload,
		RunID:       observability.RunIDFromContext(ctx),
	})
	if err == nil {
		err = e.publisher.Publish(ctx, event)
	}
	if err != nil {
		e.recorder.RecordEventPublished(eventType, "failed")
		e.logger.Warn().Err(err).
			Str("event_type", eventType).
			Str("entity_id", out.EntityID.String()).
			Msg("failed to publish change event")
		return
	}
	e.recorder.RecordEventPublished(eventType, "success")
}

func articlePayload(a *domain.Article, sourceID int64, changes []domain.FieldChange) domain.EntityChangedPayload {
	return domain.EntityChangedPayload{
		EntityID: a.ID,
		Kind:     domain.KindArticle,
		Title:    a.Title,
		Link:     a.Link,
		DOI:      a.DOI,
		SourceID: sourceID,
		Changes:  changes,
	}
}

func trialPayload(t *domain.Trial, sourceID int64, changes []domain.FieldChange) domain.EntityChangedPayload {
	ids := make(map[string]string, len(t.Identifiers))
	for kind, v := range t.Identifiers {
		if v != "" {
			ids[string(kind)] = v
		}
	}
	return domain.EntityChangedPayload{
		EntityID:    t.ID,
		Kind:        domain.KindTrial,
		Title:       t.Title,
		Link:        t.Link,
		Identifiers: ids,
		SourceID:    sourceID,
		Changes:     changes,
	}
}
