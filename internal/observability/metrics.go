package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the ingestion service.
// Metrics are organized by subsystem: runs, sources, entries, enrichment and
// storage. All collectors are registered via promauto with the default
// Prometheus registry.
type Metrics struct {
	// RunsTotal counts ingestion runs, labeled by final status (success, failed).
	RunsTotal *prometheus.CounterVec

	// RunDuration observes the end-to-end duration of runs in seconds.
	RunDuration prometheus.Histogram

	// SourcesProcessed counts sources whose feed was fetched and walked, labeled by kind.
	SourcesProcessed *prometheus.CounterVec

	// SourceFailures counts sources skipped for a run, labeled by kind and failure category.
	SourceFailures *prometheus.CounterVec

	// SourceFetchDuration observes feed fetch duration in seconds, labeled by kind.
	SourceFetchDuration *prometheus.HistogramVec

	// EntriesTotal counts feed entries by kind and outcome
	// (created, updated, unchanged, filtered, failed, ambiguous).
	EntriesTotal *prometheus.CounterVec

	// EnrichmentRequests counts enrichment lookups, labeled by service and status.
	EnrichmentRequests *prometheus.CounterVec

	// EnrichmentDuration observes enrichment lookup duration, labeled by service.
	EnrichmentDuration *prometheus.HistogramVec

	// EnrichmentCacheHits counts enrichment results served from cache.
	EnrichmentCacheHits prometheus.Counter

	// IntegrityConflicts counts unique violations resolved as late matches, labeled by kind.
	IntegrityConflicts *prometheus.CounterVec

	// EventsPublished counts change events published, labeled by event type and status.
	EventsPublished *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Runs
		RunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of ingestion runs by status",
		}, []string{"status"}),
		RunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of ingestion runs in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		}),

		// Sources
		SourcesProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sources_processed_total",
			Help:      "Total number of sources processed",
		}, []string{"kind"}),
		SourceFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_failures_total",
			Help:      "Total number of sources skipped because of a failure",
		}, []string{"kind", "category"}),
		SourceFetchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_fetch_duration_seconds",
			Help:      "Duration of feed fetches in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"kind"}),

		// Entries
		EntriesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_total",
			Help:      "Total number of feed entries by outcome",
		}, []string{"kind", "outcome"}),

		// Enrichment
		EnrichmentRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrichment_requests_total",
			Help:      "Total number of enrichment lookups by service and status",
		}, []string{"service", "status"}),
		EnrichmentDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "enrichment_duration_seconds",
			Help:      "Duration of enrichment lookups in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"service"}),
		EnrichmentCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrichment_cache_hits_total",
			Help:      "Total number of enrichment results served from cache",
		}),

		// Storage
		IntegrityConflicts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integrity_conflicts_total",
			Help:      "Total number of unique violations resolved by re-resolution",
		}, []string{"kind"}),
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of change events published",
		}, []string{"event_type", "status"}),
	}
}

// RecordRunCompleted records a finished run with its status and duration.
func (m *Metrics) RecordRunCompleted(status string, durationSeconds float64) {
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.Observe(durationSeconds)
}

// RecordSourceProcessed records a source that was fetched and walked.
func (m *Metrics) RecordSourceProcessed(kind string, fetchSeconds float64) {
	m.SourcesProcessed.WithLabelValues(kind).Inc()
	m.SourceFetchDuration.WithLabelValues(kind).Observe(fetchSeconds)
}

// RecordSourceFailed records a source skipped for the current run.
func (m *Metrics) RecordSourceFailed(kind, category string) {
	m.SourceFailures.WithLabelValues(kind, category).Inc()
}

// RecordEntry records the outcome of a single feed entry.
func (m *Metrics) RecordEntry(kind, outcome string) {
	m.EntriesTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordEnrichment records an enrichment lookup.
func (m *Metrics) RecordEnrichment(service, status string, durationSeconds float64) {
	m.EnrichmentRequests.WithLabelValues(service, status).Inc()
	m.EnrichmentDuration.WithLabelValues(service).Observe(durationSeconds)
}

// RecordEnrichmentCacheHit records an enrichment result served from cache.
func (m *Metrics) RecordEnrichmentCacheHit() {
	m.EnrichmentCacheHits.Inc()
}

// RecordIntegrityConflict records a unique violation resolved as a late match.
func (m *Metrics) RecordIntegrityConflict(kind string) {
	m.IntegrityConflicts.WithLabelValues(kind).Inc()
}

// RecordEventPublished records the result of publishing a change event.
func (m *Metrics) RecordEventPublished(eventType, status string) {
	m.EventsPublished.WithLabelValues(eventType, status).Inc()
}
