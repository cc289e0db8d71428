package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/research-feed-service/internal/domain"
	"github.com/helixir/research-feed-service/internal/enrichment"
	"github.com/helixir/research-feed-service/internal/feeds"
	"github.com/helixir/research-feed-service/internal/processors"
	"github.com/helixir/research-feed-service/internal/repository/memory"
	"github.com/helixir/research-feed-service/internal/upsert"
)

// doiProcessor reads the DOI from dc:identifier and panics on entries
// titled "boom".
type doiProcessor struct{}

func (doiProcessor) Name() string                        { return "doi-test" }
func (doiProcessor) Kind() domain.EntityKind             { return domain.KindArticle }
func (doiProcessor) CanProcess(string) bool              { return true }
func (doiProcessor) ExtractSummary(e feeds.Entry) string { return e.Description }
func (doiProcessor) ExtractIdentifier(e feeds.Entry) processors.Identifiers {
	if e.Title == "boom" {
		panic("processor bug")
	}
	var doi string
	if len(e.DCIdentifiers) > 0 {
		doi = e.DCIdentifiers[0]
	}
	return processors.Identifiers{DOI: doi}
}

type staticLister struct {
	sources []domain.Source
	err     error
}

func (l *staticLister) ListIngestible(context.Context, []domain.EntityKind) ([]domain.Source, error) {
	return l.sources, l.err
}

type mapFetcher struct {
	mu    sync.Mutex
	feeds map[string]*feeds.Feed
	errs  map[string]error
	calls int
}

func (f *mapFetcher) Fetch(_ context.Context, src domain.Source) (*feeds.Feed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[src.FeedURL]; err != nil {
		return nil, &domain.FetchError{Source: src.Name, URL: src.FeedURL, Cause: err}
	}
	feed, ok := f.feeds[src.FeedURL]
	if !ok {
		return &feeds.Feed{}, nil
	}
	return feed, nil
}

type enrichResponse struct {
	res *enrichment.Result
	err error
}

type fakeEnricher struct {
	mu        sync.Mutex
	responses map[string]enrichResponse
	calls     []string
}

func (e *fakeEnricher) Enrich(_ context.Context, doi string) (*enrichment.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, doi)
	if r, ok := e.responses[doi]; ok {
		if r.res == nil {
			r.res = &enrichment.Result{DOI: doi}
		}
		return r.res, r.err
	}
	return &enrichment.Result{DOI: doi}, nil
}

type countingRecorder struct {
	mu       sync.Mutex
	runs     []string
	entries  map[string]int
	failures map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{entries: map[string]int{}, failures: map[string]int{}}
}

func (r *countingRecorder) RecordRunCompleted(status string, _ float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, status)
}

func (r *countingRecorder) RecordSourceProcessed(string, float64) {}

func (r *countingRecorder) RecordSourceFailed(_ string, category string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[category]++
}

func (r *countingRecorder) RecordEntry(_ string, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[outcome]++
}

type fixture struct {
	store    *memory.Store
	lister   *staticLister
	fetcher  *mapFetcher
	enricher *fakeEnricher
	recorder *countingRecorder
	deps     Dependencies
}

func newFixture() *fixture {
	f := &fixture{
		store:    memory.NewStore(),
		lister:   &staticLister{},
		fetcher:  &mapFetcher{feeds: map[string]*feeds.Feed{}, errs: map[string]error{}},
		enricher: &fakeEnricher{responses: map[string]enrichResponse{}},
		recorder: newCountingRecorder(),
	}
	f.deps = Dependencies{
		Sources: f.lister,
		Fetcher: f.fetcher,
		Registries: processors.Registries{
			domain.KindArticle: processors.NewRegistry(doiProcessor{}),
			domain.KindTrial:   processors.DefaultTrialRegistry(),
		},
		Enricher: f.enricher,
		Upserter: upsert.New(f.store, zerolog.Nop()),
		Recorder: f.recorder,
	}
	return f
}

func (f *fixture) orchestrator(cfg Config) *Orchestrator {
	return New(cfg, f.deps, zerolog.Nop())
}

func (f *fixture) addSource(src domain.Source, entries ...feeds.Entry) {
	if src.Method == "" {
		src.Method = domain.MethodRSS
	}
	if src.Kind == "" {
		src.Kind = domain.KindArticle
	}
	src.Active = true
	f.lister.sources = append(f.lister.sources, src)
	f.fetcher.feeds[src.FeedURL] = &feeds.Feed{Entries: entries}
}

func articleEntry(title, link, doi string) feeds.Entry {
	entry := feeds.Entry{
		Title:       title,
		Link:        link,
		Description: "<p>Summary of " + title + "</p>",
		Published:   "2024-03-01",
	}
	if doi != "" {
		entry.DCIdentifiers = []string{doi}
	}
	return entry
}

func source(id int64, name, url string) domain.Source {
	return domain.Source{ID: id, Name: name, FeedURL: url}
}

func TestRun_CreatesAndIsIdempotent(t *testing.T) {
	f := newFixture()
	f.addSource(source(1, "Oncology", "https://journal.example/rss"),
		articleEntry("Adjuvant therapy in colon cancer", "https://journal.example/a/1", "10.1000/a1"),
		articleEntry("Immunotherapy outcomes", "https://journal.example/a/2", ""),
	)
	o := f.orchestrator(Config{Workers: 2})

	first, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), first.Seen)
	assert.Equal(t, int64(2), first.Created)
	assert.Equal(t, int64(1), first.SourcesProcessed)
	assert.Equal(t, "success", first.Status())
	require.Len(t, first.Sources, 1)
	assert.Equal(t, "doi-test", first.Sources[0].Processor)
	assert.NotEmpty(t, first.RunID)

	discovered := make(map[uuid.UUID]time.Time)
	for _, a := range f.store.Articles() {
		require.False(t, a.DiscoveryDate.IsZero())
		discovered[a.ID] = a.DiscoveryDate
	}
	records := len(f.store.ChangeRecords())

	second, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Created)
	assert.Zero(t, second.Updated)
	assert.Equal(t, int64(2), second.Unchanged)
	assert.NotEqual(t, first.RunID, second.RunID)

	after := f.store.Articles()
	assert.Len(t, after, 2)
	for _, a := range after {
		assert.Equal(t, discovered[a.ID], a.DiscoveryDate, "discovery date of %s", a.Title)
	}
	assert.Len(t, f.store.ChangeRecords(), records, "an unchanged run writes no change records")
	assert.Equal(t, []string{"10.1000/a1", "10.1000/a1"}, f.enricher.calls, "only entries with a DOI are enriched")
	assert.Equal(t, []string{"success", "success"}, f.recorder.runs)
}

func TestRun_SameDOIAcrossSourcesConverges(t *testing.T) {
	f := newFixture()
	f.addSource(source(1, "Publisher", "https://publisher.example/rss"),
		articleEntry("Gene therapy for hemophilia", "https://publisher.example/a/9", "10.1000/gt"))
	f.addSource(source(2, "Aggregator", "https://aggregator.example/rss"),
		articleEntry("Gene therapy for hemophilia B", "https://aggregator.example/item/77", "10.1000/GT"))

	stats, err := f.orchestrator(Config{Workers: 1}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Created)
	assert.Equal(t, int64(1), stats.Updated+stats.Unchanged)

	articles := f.store.Articles()
	require.Len(t, articles, 1)
	assert.Equal(t, []int64{1, 2}, f.store.SourceIDs(domain.KindArticle, articles[0].ID))
}

func TestRun_TitleFallbackWithoutDOI(t *testing.T) {
	f := newFixture()
	f.addSource(source(1, "Publisher", "https://publisher.example/rss"),
		articleEntry("Same Title", "https://publisher.example/a/1", "10.1000/st"))
	withoutDOI := articleEntry("Same  Title", "https://aggregator.example/item/5", "")
	withoutDOI.Description = "<p>A longer abstract from the aggregator.</p>"
	f.addSource(source(2, "Aggregator", "https://aggregator.example/rss"), withoutDOI)

	stats, err := f.orchestrator(Config{Workers: 1}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Created)
	assert.Equal(t, int64(1), stats.Updated)

	articles := f.store.Articles()
	require.Len(t, articles, 1)
	assert.Equal(t, "10.1000/st", articles[0].DOI)
	assert.Equal(t, "A longer abstract from the aggregator.", articles[0].Summary)
	assert.Equal(t, []int64{1, 2}, f.store.SourceIDs(domain.KindArticle, articles[0].ID))
}

func TestRun_EnrichmentValuesAreStored(t *testing.T) {
	f := newFixture()
	checked := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	f.enricher.responses["10.1000/cr"] = enrichResponse{res: &enrichment.Result{
		DOI:        "10.1000/cr",
		Work:       &enrichment.Work{Title: "Canonical title", Journal: "Journal of Examples", Authors: []domain.Author{{GivenName: "Ada", FamilyName: "Lovelace"}}},
		OpenAccess: &enrichment.OpenAccess{IsOA: true},
		CheckedAt:  &checked,
	}}
	f.addSource(source(1, "Feed", "https://journal.example/rss"),
		articleEntry("Feed title", "https://journal.example/a/1", "10.1000/cr"))

	_, err := f.orchestrator(Config{}).Run(context.Background())
	require.NoError(t, err)

	articles := f.store.Articles()
	require.Len(t, articles, 1)
	a := articles[0]
	assert.Equal(t, "Canonical title", a.Title)
	assert.Equal(t, "Journal of Examples", a.Journal)
	assert.Equal(t, domain.AccessOpen, a.Access)
	require.NotNil(t, a.CrossrefCheck)
	assert.Len(t, f.store.ArticleAuthors(a.ID), 1)
}

func TestRun_EnrichmentFailureKeepsFeedValues(t *testing.T) {
	f := newFixture()
	f.enricher.responses["10.1000/down"] = enrichResponse{err: errors.New("crossref: 503")}
	f.addSource(source(1, "Feed", "https://journal.example/rss"),
		articleEntry("Feed title", "https://journal.example/a/1", "10.1000/down"))

	stats, err := f.orchestrator(Config{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Created)
	assert.Equal(t, int64(1), stats.EnrichmentFailed)

	articles := f.store.Articles()
	require.Len(t, articles, 1)
	assert.Equal(t, "Feed title", articles[0].Title)
	assert.Equal(t, "10.1000/down", articles[0].DOI)
	assert.Equal(t, domain.AccessUnknown, articles[0].Access)
	assert.Nil(t, articles[0].CrossrefCheck)
}

func TestRun_WithoutEnricher(t *testing.T) {
	f := newFixture()
	f.deps.Enricher = nil
	f.addSource(source(1, "Feed", "https://journal.example/rss"),
		articleEntry("Feed title", "https://journal.example/a/1", "10.1000/x"))

	stats, err := f.orchestrator(Config{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Created)
	assert.Zero(t, stats.EnrichmentFailed)
}

func TestRun_KeywordFilter(t *testing.T) {
	f := newFixture()
	src := source(1, "Filtered", "https://journal.example/rss")
	src.KeywordFilter = `melanoma, "gene therapy"`
	f.addSource(src,
		articleEntry("Advances in Gene Therapy", "https://journal.example/a/1", ""),
		articleEntry("Cardiology roundup", "https://journal.example/a/2", ""),
		feeds.Entry{Title: "Skin cancer", Link: "https://journal.example/a/3", Description: "A melanoma cohort", Published: "2024-03-01"},
	)

	stats, err := f.orchestrator(Config{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Seen)
	assert.Equal(t, int64(2), stats.Created)
	assert.Equal(t, int64(1), stats.SkippedByFilter)
	assert.Equal(t, 1, f.recorder.entries["filtered"])
}

func TestRun_EntryFailuresAreIsolated(t *testing.T) {
	f := newFixture()
	f.addSource(source(1, "Mixed", "https://journal.example/rss"),
		feeds.Entry{Title: "No date", Link: "https://journal.example/a/0"},
		articleEntry("boom", "https://journal.example/a/1", ""),
		feeds.Entry{Link: "https://journal.example/a/2", Published: "2024-03-01"},
		articleEntry("Valid entry", "https://journal.example/a/3", ""),
	)

	stats, err := f.orchestrator(Config{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Seen)
	assert.Equal(t, int64(3), stats.Failed)
	assert.Equal(t, int64(1), stats.Created)
	assert.Equal(t, "partial", stats.Status())
	require.Len(t, f.store.Articles(), 1)
	assert.Equal(t, "Valid entry", f.store.Articles()[0].Title)
}

func TestRun_SourceFailuresAreIsolated(t *testing.T) {
	f := newFixture()
	f.addSource(source(1, "Broken", "https://down.example/rss"))
	f.fetcher.errs["https://down.example/rss"] = errors.New("connection refused")
	f.addSource(source(2, "", "https://nameless.example/rss"),
		articleEntry("Never read", "https://nameless.example/a/1", ""))
	f.addSource(source(3, "Healthy", "https://journal.example/rss"),
		articleEntry("Healthy entry", "https://journal.example/a/1", ""))

	stats, err := f.orchestrator(Config{Workers: 3}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.SourcesProcessed)
	assert.Equal(t, int64(2), stats.SourcesFailed)
	assert.Equal(t, int64(1), stats.Created)
	assert.Equal(t, "partial", stats.Status())

	require.Len(t, stats.Sources, 3)
	assert.Contains(t, stats.Sources[0].Error, "connection refused")
	assert.Contains(t, stats.Sources[1].Error, "name")
	assert.Empty(t, stats.Sources[2].Error)
	assert.Equal(t, 1, f.recorder.failures["fetch"])
	assert.Equal(t, 1, f.recorder.failures["validation"])
}

func TestRun_AllSourcesFailing(t *testing.T) {
	f := newFixture()
	f.addSource(source(1, "Broken", "https://down.example/rss"))
	f.fetcher.errs["https://down.example/rss"] = errors.New("timeout")

	stats, err := f.orchestrator(Config{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "failed", stats.Status())
}

func TestRun_ListFailure(t *testing.T) {
	f := newFixture()
	f.lister.err = errors.New("relation \"sources\" does not exist")

	stats, err := f.orchestrator(Config{}).Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, stats)
	assert.Contains(t, err.Error(), "list sources")
	assert.Equal(t, []string{"failed"}, f.recorder.runs)
}

func TestRun_StoreUnavailable(t *testing.T) {
	f := newFixture()
	f.deps.Ping = func(context.Context) error { return errors.New("dial tcp: connection refused") }

	_, err := f.orchestrator(Config{}).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store unavailable")
	assert.Zero(t, f.fetcher.calls)
}

func TestRun_CancelledRunSchedulesNothing(t *testing.T) {
	f := newFixture()
	f.addSource(source(1, "Feed", "https://journal.example/rss"),
		articleEntry("Entry", "https://journal.example/a/1", ""))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := f.orchestrator(Config{}).Run(ctx)
	require.NoError(t, err)
	assert.True(t, stats.Interrupted)
	assert.Empty(t, stats.Sources)
	assert.Zero(t, f.fetcher.calls)
	assert.Equal(t, "partial", stats.Status())
}

// slowUpserter blocks each upsert until the run deadline has passed.
type slowUpserter struct {
	Upserter
	delay time.Duration
}

func (s slowUpserter) UpsertArticle(ctx context.Context, in upsert.ArticleInput) (*upsert.Outcome, error) {
	time.Sleep(s.delay)
	return s.Upserter.UpsertArticle(ctx, in)
}

func TestRun_DeadlineFinishesInFlightEntry(t *testing.T) {
	f := newFixture()
	f.deps.Upserter = slowUpserter{Upserter: f.deps.Upserter, delay: 150 * time.Millisecond}
	f.addSource(source(1, "Feed", "https://journal.example/rss"),
		articleEntry("First", "https://journal.example/a/1", ""),
		articleEntry("Second", "https://journal.example/a/2", ""),
	)

	stats, err := f.orchestrator(Config{RunTimeout: 40 * time.Millisecond}).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, stats.Interrupted)
	assert.Equal(t, int64(1), stats.Created, "the in-flight entry is committed")
	require.Len(t, f.store.Articles(), 1)
	assert.Equal(t, "First", f.store.Articles()[0].Title)
}

func TestRun_Trials(t *testing.T) {
	f := newFixture()
	f.addSource(domain.Source{ID: 7, Name: "Registry", FeedURL: "https://trials.example/feed", Kind: domain.KindTrial},
		feeds.Entry{Title: "A phase 3 study of drug X", Link: "https://trials.example/t/1", GUID: "NCT01234567"},
		feeds.Entry{Title: "A phase 3 study of drug X (update)", Link: "https://trials.example/t/1?rev=2", GUID: "nct01234567"},
	)

	stats, err := f.orchestrator(Config{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Created)
	assert.Equal(t, int64(1), stats.Updated)

	trials := f.store.Trials()
	require.Len(t, trials, 1)
	assert.Equal(t, "NCT01234567", trials[0].Identifiers.Get(domain.TrialIDNCT))
	assert.True(t, strings.HasSuffix(trials[0].Link, "rev=2"))
	assert.Empty(t, f.enricher.calls, "trials are never enriched")
}

func TestRun_UnknownKindHasNoProcessor(t *testing.T) {
	f := newFixture()
	delete(f.deps.Registries, domain.KindTrial)
	f.addSource(domain.Source{ID: 1, Name: "Registry", FeedURL: "https://trials.example/feed", Kind: domain.KindTrial},
		feeds.Entry{Title: "Trial", Link: "https://trials.example/t/1", GUID: "NCT01234567"})

	stats, err := f.orchestrator(Config{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.SourcesFailed)
	assert.Zero(t, f.fetcher.calls)
}
