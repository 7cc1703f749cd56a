package models

import "time"

// StopReason tags why a run ended, so that a zero count is never ambiguous
type StopReason string

const (
	ReasonCompleted     StopReason = "completed"      // Source reported no further pages
	ReasonMaxPages      StopReason = "max_pages"      // Configured page bound reached
	ReasonGateStopped   StopReason = "gate_stopped"   // Freshness or relevance fell below threshold
	ReasonServicePaused StopReason = "service_paused" // Service paused before the run started
	ReasonScraperBusy   StopReason = "scraper_busy"   // Another run holds the scraper, or it is paused
	ReasonPaused        StopReason = "paused"         // Pause observed at a page boundary
	ReasonCancelled     StopReason = "cancelled"
	ReasonError         StopReason = "error"
)

// Thresholds are the quality gate settings for one run.
// A zero value for either threshold selects deep ingest (no gating).
type Thresholds struct {
	Freshness float64 `json:"freshness" validate:"gte=0,lte=1"`
	Relevance float64 `json:"relevance" validate:"gte=0,lte=1"`
}

// Deep reports whether the thresholds select deep ingest
func (t Thresholds) Deep() bool {
	return t.Freshness == 0 || t.Relevance == 0
}

// RunResult is the tagged outcome of one controller run
type RunResult struct {
	RunID      string     `json:"run_id"`
	Source     string     `json:"source"`
	Count      int        `json:"count"`
	Reason     StopReason `json:"reason"`
	Pages      int        `json:"pages"`
	Batches    int        `json:"batches"`
	Skipped    int        `json:"skipped"` // Items that failed extraction
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
}

// Duration returns the wall time of the run
func (r *RunResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
