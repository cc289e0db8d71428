// Package pipeline runs one ingestion pass over every active RSS source.
//
// For each source the orchestrator validates the record, selects its
// processor, fetches the feed and walks its entries in order. Each entry is
// normalized, filtered, enriched (articles with a DOI), resolved and
// upserted. A failing entry never stops its source and a failing source
// never stops the run; both are logged and counted.
//
// Sources are processed by a bounded pool of workers. A run deadline stops
// scheduling new sources and entries, while work already in flight finishes
// on a context detached from the deadline.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/helixir/research-feed-service/internal/domain"
	"github.com/helixir/research-feed-service/internal/enrichment"
	"github.com/helixir/research-feed-service/internal/feeds"
	"github.com/helixir/research-feed-service/internal/ingest"
	"github.com/helixir/research-feed-service/internal/observability"
	"github.com/helixir/research-feed-service/internal/processors"
	"github.com/helixir/research-feed-service/internal/repository"
	"github.com/helixir/research-feed-service/internal/upsert"
)

// SourceLister lists the sources a run processes.
type SourceLister interface {
	ListIngestible(ctx context.Context, kinds []domain.EntityKind) ([]domain.Source, error)
}

// FeedFetcher retrieves a source's feed. *feeds.Fetcher implements it.
type FeedFetcher interface {
	Fetch(ctx context.Context, src domain.Source) (*feeds.Feed, error)
}

// Upserter persists candidates. *upsert.Engine implements it.
type Upserter interface {
	UpsertArticle(ctx context.Context, in upsert.ArticleInput) (*upsert.Outcome, error)
	UpsertTrial(ctx context.Context, in upsert.TrialInput) (*upsert.Outcome, error)
}

// Recorder receives run measurements. *observability.Metrics implements it.
type Recorder interface {
	RecordRunCompleted(status string, durationSeconds float64)
	RecordSourceProcessed(kind string, fetchSeconds float64)
	RecordSourceFailed(kind, category string)
	RecordEntry(kind, outcome string)
}

type noopRecorder struct{}

func (noopRecorder) RecordRunCompleted(string, float64)    {}
func (noopRecorder) RecordSourceProcessed(string, float64) {}
func (noopRecorder) RecordSourceFailed(string, string)     {}
func (noopRecorder) RecordEntry(string, string)            {}

var (
	_ FeedFetcher = (*feeds.Fetcher)(nil)
	_ Upserter    = (*upsert.Engine)(nil)
	_ Recorder    = (*observability.Metrics)(nil)
)

// Config configures an Orchestrator.
type Config struct {
	// Workers bounds the sources processed concurrently.
	Workers int
	// RunTimeout stops scheduling new work once elapsed. Zero disables it.
	RunTimeout time.Duration
	// Kinds selects the source kinds to process.
	Kinds []domain.EntityKind
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if len(c.Kinds) == 0 {
		c.Kinds = []domain.EntityKind{domain.KindArticle, domain.KindTrial}
	}
}

// Dependencies are the collaborators of an Orchestrator. Enricher,
// Recorder and Ping may be nil.
type Dependencies struct {
	Sources    SourceLister
	Fetcher    FeedFetcher
	Registries processors.Registries
	Enricher   enrichment.Enricher
	Upserter   Upserter
	Recorder   Recorder
	// Ping checks the store before a run starts.
	Ping func(ctx context.Context) error
}

// Orchestrator runs ingestion passes. It is safe to call Run repeatedly,
// but not concurrently with itself.
type Orchestrator struct {
	cfg  Config
	deps Dependencies
	log  zerolog.Logger
	now  func() time.Time
}

// New creates an Orchestrator.
func New(cfg Config, deps Dependencies, logger zerolog.Logger) *Orchestrator {
	cfg.applyDefaults()
	if deps.Recorder == nil {
		deps.Recorder = noopRecorder{}
	}
	if deps.Registries == nil {
		deps.Registries = processors.DefaultRegistries()
	}
	return &Orchestrator{
		cfg:  cfg,
		deps: deps,
		log:  logger.With().Str("component", "pipeline").Logger(),
		now:  time.Now,
	}
}

// Run performs one pass. It returns an error only when the run could not
// start: the store is unreachable or the sources could not be listed.
// Everything else is reported in RunStats.
func (o *Orchestrator) Run(ctx context.Context) (*RunStats, error) {
	stats := &RunStats{RunID: uuid.NewString(), StartedAt: o.now().UTC()}
	logger := observability.WithRunContext(o.log, stats.RunID)
	ctx = observability.WithRunID(ctx, stats.RunID)

	// sched governs scheduling only; in-flight work runs on work.
	sched := ctx
	if o.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		sched, cancel = context.WithTimeout(ctx, o.cfg.RunTimeout)
		defer cancel()
	}
	work := context.WithoutCancel(ctx)

	if o.deps.Ping != nil {
		if err := o.deps.Ping(sched); err != nil {
			o.finish(logger, stats, "failed")
			return nil, fmt.Errorf("store unavailable: %w", err)
		}
	}

	sources, err := o.deps.Sources.ListIngestible(sched, o.cfg.Kinds)
	if err != nil {
		o.finish(logger, stats, "failed")
		return nil, fmt.Errorf("list sources: %w", err)
	}
	logger.Info().Int("sources", len(sources)).Int("workers", o.cfg.Workers).Msg("starting ingestion run")

	var (
		t       totals
		g       errgroup.Group
		results = make([]SourceStats, len(sources))
		started = make([]bool, len(sources))
	)
	g.SetLimit(o.cfg.Workers)
	for i, src := range sources {
		if sched.Err() != nil {
			stats.Interrupted = true
			logger.Warn().Int("unscheduled_sources", len(sources)-i).Msg("run deadline reached, not scheduling remaining sources")
			break
		}
		started[i] = true
		g.Go(func() error {
			results[i] = o.processSource(sched, work, logger, src, &t)
			return nil
		})
	}
	_ = g.Wait()

	for i, st := range results {
		if !started[i] {
			continue
		}
		if st.Interrupted {
			stats.Interrupted = true
		}
		stats.Sources = append(stats.Sources, st)
	}
	sort.Slice(stats.Sources, func(i, j int) bool { return stats.Sources[i].SourceID < stats.Sources[j].SourceID })

	stats.Counts = t.counts()
	stats.SourcesProcessed = t.sourcesProcessed.Load()
	stats.SourcesFailed = t.sourcesFailed.Load()
	o.finish(logger, stats, stats.Status())
	return stats, nil
}

func (o *Orchestrator) finish(logger zerolog.Logger, stats *RunStats, status string) {
	stats.Duration = o.now().Sub(stats.StartedAt)
	o.deps.Recorder.RecordRunCompleted(status, stats.Duration.Seconds())
	logger.Info().EmbedObject(stats).Str("status", status).Msg("ingestion run finished")
}

// processSource fetches one source and walks its entries. Failures are
// recorded in the returned stats.
func (o *Orchestrator) processSource(sched, work context.Context, runLogger zerolog.Logger, src domain.Source, t *totals) (st SourceStats) {
	st = SourceStats{SourceID: src.ID, Name: src.Name, Kind: src.Kind}
	logger := observability.WithSourceContext(runLogger, src.ID, src.Name, src.Kind.String())
	work = observability.WithSource(work, src.ID, src.Name)

	fail := func(category string, err error) {
		st.Error = err.Error()
		t.sourcesFailed.Add(1)
		o.deps.Recorder.RecordSourceFailed(src.Kind.String(), category)
		logger.Error().Err(err).Str("category", category).Msg("source skipped")
	}
	defer func() {
		if r := recover(); r != nil {
			fail("panic", fmt.Errorf("panic: %v", r))
			logger.Error().Str("stack", string(debug.Stack())).Msg("recovered from source panic")
		}
	}()

	if sched.Err() != nil {
		st.Interrupted = true
		return st
	}
	if err := src.Validate(); err != nil {
		fail("validation", err)
		return st
	}
	proc := o.deps.Registries.Select(src)
	if proc == nil {
		fail("validation", domain.NewValidationError("kind", fmt.Sprintf("no processor for kind %q", src.Kind)))
		return st
	}
	st.Processor = proc.Name()
	filter := ingest.ParseKeywordFilter(src.KeywordFilter)

	start := time.Now()
	feed, err := o.deps.Fetcher.Fetch(work, src)
	if err != nil {
		fail("fetch", err)
		return st
	}
	t.sourcesProcessed.Add(1)
	o.deps.Recorder.RecordSourceProcessed(src.Kind.String(), time.Since(start).Seconds())
	logger.Debug().Str("processor", proc.Name()).Int("entries", len(feed.Entries)).Msg("feed fetched")

	for _, entry := range feed.Entries {
		if sched.Err() != nil {
			st.Interrupted = true
			logger.Warn().Int64("entries_done", st.Seen).Msg("run deadline reached, leaving remaining entries")
			break
		}
		outcome, enrichFailed := o.processEntry(work, logger, src, proc, filter, entry)
		st.add(outcome, enrichFailed)
		t.addEntry(outcome, enrichFailed)
		o.deps.Recorder.RecordEntry(src.Kind.String(), outcome.String())
	}

	logger.Info().
		Int64("seen", st.Seen).
		Int64("created", st.Created).
		Int64("updated", st.Updated).
		Int64("skipped_by_filter", st.SkippedByFilter).
		Int64("failed", st.Failed).
		Int64("ambiguous", st.Ambiguous).
		Msg("source processed")
	return st
}

// processEntry takes one entry from feed item to stored entity.
func (o *Orchestrator) processEntry(ctx context.Context, srcLogger zerolog.Logger, src domain.Source,
	proc processors.Processor, filter ingest.KeywordFilter, entry feeds.Entry) (outcome entryOutcome, enrichFailed bool) {
	logger := observability.WithEntryContext(srcLogger, entry.Title, entry.Link)
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("recovered from entry panic")
			outcome = outcomeFailed
		}
	}()

	if !processors.ShouldInclude(proc, entry, src) {
		logger.Debug().Str("processor", proc.Name()).Msg("entry excluded by processor")
		return outcomeFiltered, false
	}

	cand, err := ingest.Normalize(entry, src, proc)
	if err != nil {
		logger.Warn().Err(err).Str("category", "parse").Msg("entry skipped")
		return outcomeFailed, false
	}
	if !filter.Match(cand.Title, cand.CleanedSummary) {
		logger.Debug().Msg("entry excluded by keyword filter")
		return outcomeFiltered, false
	}

	links := repository.Links{SourceID: src.ID, TeamID: src.TeamID, SubjectID: src.SubjectID}
	var out *upsert.Outcome
	switch cand.Kind {
	case domain.KindArticle:
		var res *enrichment.Result
		if cand.HasDOI() && o.deps.Enricher != nil {
			res, err = o.deps.Enricher.Enrich(ctx, cand.DOI)
			if err != nil {
				enrichFailed = true
				logger.Warn().Err(err).Str("category", "enrichment").Str("doi", cand.DOI).
					Msg("enrichment incomplete, keeping feed values")
			}
		}
		out, err = o.deps.Upserter.UpsertArticle(ctx, upsert.ArticleInput{Fields: ArticleFields(cand, res), Links: links})
	case domain.KindTrial:
		out, err = o.deps.Upserter.UpsertTrial(ctx, upsert.TrialInput{Fields: TrialFields(cand), Links: links})
	default:
		err = domain.NewValidationError("kind", fmt.Sprintf("unknown entity kind %q", cand.Kind))
	}

	switch {
	case errors.Is(err, domain.ErrAmbiguousMatch):
		logger.Warn().Err(err).Str("category", "ambiguous").Msg("entry matches several stored entities, skipped")
		return outcomeAmbiguous, enrichFailed
	case errors.Is(err, domain.ErrAlreadyExists):
		logger.Error().Err(err).Str("category", "integrity").Msg("entry could not be stored")
		return outcomeFailed, enrichFailed
	case err != nil:
		logger.Error().Err(err).Str("category", "storage").Msg("entry could not be stored")
		return outcomeFailed, enrichFailed
	}

	entity := observability.WithEntityContext(logger, cand.Kind.String(), out.EntityID.String())
	switch out.Action {
	case upsert.ActionCreated:
		entity.Info().Msg("entity created")
		return outcomeCreated, enrichFailed
	case upsert.ActionUpdated:
		entity.Info().Int("changes", len(out.Changes)).Msg("entity updated")
		return outcomeUpdated, enrichFailed
	default:
		return outcomeUnchanged, enrichFailed
	}
}
