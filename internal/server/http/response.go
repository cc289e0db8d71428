package httpserver

import (
	"sync"
	"time"

	"github.com/helixir/research-feed-service/internal/pipeline"
)

// RunTracker remembers the outcome of the most recent run. It is safe for
// concurrent use.
type RunTracker struct {
	mu   sync.RWMutex
	last *RunRecord
}

// RunRecord is one finished run as seen by the status endpoint.
type RunRecord struct {
	Stats      *pipeline.RunStats
	Err        error
	FinishedAt time.Time
}

// NewRunTracker creates an empty tracker.
func NewRunTracker() *RunTracker {
	return &RunTracker{}
}

// Record stores the outcome of a run. stats is nil when the run could not
// start.
func (t *RunTracker) Record(stats *pipeline.RunStats, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = &RunRecord{Stats: stats, Err: err, FinishedAt: time.Now()}
}

// Last returns the most recent run, if any.
func (t *RunTracker) Last() (RunRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.last == nil {
		return RunRecord{}, false
	}
	return *t.last, true
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
	Error    string `json:"error,omitempty"`
}

type runStatusResponse struct {
	RunID      string                 `json:"run_id,omitempty"`
	Status     string                 `json:"status"`
	Error      string                 `json:"error,omitempty"`
	StartedAt  *time.Time             `json:"started_at,omitempty"`
	FinishedAt time.Time              `json:"finished_at"`
	Duration   string                 `json:"duration,omitempty"`
	Counts     *pipeline.Counts       `json:"counts,omitempty"`
	Sources    []pipeline.SourceStats `json:"sources,omitempty"`
}

func runStatusFrom(rec RunRecord) runStatusResponse {
	resp := runStatusResponse{FinishedAt: rec.FinishedAt}
	if rec.Err != nil {
		resp.Error = rec.Err.Error()
	}
	if rec.Stats == nil {
		resp.Status = "failed"
		return resp
	}

	st := rec.Stats
	counts := st.Counts
	started := st.StartedAt
	resp.RunID = st.RunID
	resp.Status = st.Status()
	resp.StartedAt = &started
	resp.Duration = st.Duration.String()
	resp.Counts = &counts
	resp.Sources = st.Sources
	return resp
}
