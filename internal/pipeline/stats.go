package pipeline

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/research-feed-service/internal/domain"
)

// entryOutcome is the terminal state of one feed entry.
type entryOutcome int

const (
	outcomeCreated entryOutcome = iota
	outcomeUpdated
	outcomeUnchanged
	outcomeFiltered
	outcomeFailed
	outcomeAmbiguous
)

func (o entryOutcome) String() string {
	switch o {
	case outcomeCreated:
		return "created"
	case outcomeUpdated:
		return "updated"
	case outcomeUnchanged:
		return "unchanged"
	case outcomeFiltered:
		return "filtered"
	case outcomeAmbiguous:
		return "ambiguous"
	default:
		return "failed"
	}
}

// Counts are the entry tallies of a run or of one source.
type Counts struct {
	Seen             int64 `json:"seen"`
	Created          int64 `json:"created"`
	Updated          int64 `json:"updated"`
	Unchanged        int64 `json:"unchanged"`
	SkippedByFilter  int64 `json:"skipped_by_filter"`
	Failed           int64 `json:"failed"`
	Ambiguous        int64 `json:"ambiguous"`
	EnrichmentFailed int64 `json:"enrichment_failed"`
}

func (c *Counts) add(o entryOutcome, enrichmentFailed bool) {
	c.Seen++
	switch o {
	case outcomeCreated:
		c.Created++
	case outcomeUpdated:
		c.Updated++
	case outcomeUnchanged:
		c.Unchanged++
	case outcomeFiltered:
		c.SkippedByFilter++
	case outcomeAmbiguous:
		c.Ambiguous++
	default:
		c.Failed++
	}
	if enrichmentFailed {
		c.EnrichmentFailed++
	}
}

// SourceStats is the per-source breakdown of a run.
type SourceStats struct {
	SourceID  int64             `json:"source_id"`
	Name      string            `json:"name"`
	Kind      domain.EntityKind `json:"kind"`
	Processor string            `json:"processor,omitempty"`
	Counts
	// Error is set when the source was skipped or aborted.
	Error string `json:"error,omitempty"`
	// Interrupted is set when the run deadline stopped the source early.
	Interrupted bool `json:"interrupted,omitempty"`
}

// RunStats summarizes one run.
type RunStats struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Counts
	SourcesProcessed int64 `json:"sources_processed"`
	SourcesFailed    int64 `json:"sources_failed"`
	// Interrupted is set when the run deadline left work unscheduled.
	Interrupted bool          `json:"interrupted"`
	Sources     []SourceStats `json:"sources"`
}

// Status classifies the run for metrics.
func (s *RunStats) Status() string {
	switch {
	case s.SourcesFailed > 0 && s.SourcesProcessed == 0:
		return "failed"
	case s.SourcesFailed > 0 || s.Failed > 0 || s.Interrupted:
		return "partial"
	default:
		return "success"
	}
}

// MarshalZerologObject writes the summary fields of s.
func (s *RunStats) MarshalZerologObject(e *zerolog.Event) {
	e.Str("run_id", s.RunID).
		Dur("duration", s.Duration).
		Int64("seen", s.Seen).
		Int64("created", s.Created).
		Int64("updated", s.Updated).
		Int64("unchanged", s.Unchanged).
		Int64("skipped_by_filter", s.SkippedByFilter).
		Int64("failed", s.Failed).
		Int64("ambiguous", s.Ambiguous).
		Int64("enrichment_failed", s.EnrichmentFailed).
		Int64("sources_processed", s.SourcesProcessed).
		Int64("sources_failed", s.SourcesFailed).
		Bool("interrupted", s.Interrupted)
}

// totals are the run-wide counters shared by source workers.
type totals struct {
	seen, created, updated, unchanged atomic.Int64
	filtered, failed, ambiguous       atomic.Int64
	enrichmentFailed                  atomic.Int64
	sourcesProcessed, sourcesFailed   atomic.Int64
}

func (t *totals) addEntry(o entryOutcome, enrichmentFailed bool) {
	t.seen.Add(1)
	switch o {
	case outcomeCreated:
		t.created.Add(1)
	case outcomeUpdated:
		t.updated.Add(1)
	case outcomeUnchanged:
		t.unchanged.Add(1)
	case outcomeFiltered:
		t.filtered.Add(1)
	case outcomeAmbiguous:
		t.ambiguous.Add(1)
	default:
		t.failed.Add(1)
	}
	if enrichmentFailed {
		t.enrichmentFailed.Add(1)
	}
}

func (t *totals) counts() Counts {
	return Counts{
		Seen:             t.seen.Load(),
		Created:          t.created.Load(),
		Updated:          t.updated.Load(),
		Unchanged:        t.unchanged.Load(),
		SkippedByFilter:  t.filtered.Load(),
		Failed:           t.failed.Load(),
		Ambiguous:        t.ambiguous.Load(),
		EnrichmentFailed: t.enrichmentFailed.Load(),
	}
}
