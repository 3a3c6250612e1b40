package model

import "time"

// SourceState is the per-source health record kept by the ingestion coordinator.
type SourceState struct {
	SourceID            string    `json:"source_id"`
	LastFetchAt         time.Time `json:"last_fetch_at"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	IsEnabled           bool      `json:"is_enabled"`
	LastError           string    `json:"last_error,omitempty"`
}

// NewSourceState returns the state of a source that has never been fetched.
func NewSourceState(sourceID string) SourceState {
	return SourceState{SourceID: sourceID, IsEnabled: true}
}

// RunStatus represents the current state of a pipeline run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one recorded pipeline pass.
type Run struct {
	ID         string      `json:"id"`
	Status     RunStatus   `json:"status"`
	Forced     bool        `json:"forced"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	Summary    *RunSummary `json:"summary,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// SourceOutcomeStatus classifies how one source resolved within a run.
type SourceOutcomeStatus string

const (
	SourceOK          SourceOutcomeStatus = "ok"
	SourceFailed      SourceOutcomeStatus = "failed"
	SourceSkipped     SourceOutcomeStatus = "skipped"
	SourceCircuitOpen SourceOutcomeStatus = "circuit_open"
	SourceDisabled    SourceOutcomeStatus = "disabled"
	SourceCancelled   SourceOutcomeStatus = "cancelled"
)

// SourceOutcome is the per-source line of a run summary.
type SourceOutcome struct {
	SourceID string              `json:"source_id"`
	Status   SourceOutcomeStatus `json:"status"`
	Records  int                 `json:"records"`
	Attempts int                 `json:"attempts"`
	Error    string              `json:"error,omitempty"`
}

// RunSummary aggregates per-stage results of a run.
type RunSummary struct {
	RunID            string          `json:"run_id"`
	DryRun           bool            `json:"dry_run"`
	Sources          []SourceOutcome `json:"sources"`
	Fetched          int             `json:"fetched"`
	Invalid          int             `json:"invalid"`
	Duplicates       int             `json:"duplicates"`
	Normalized       int             `json:"normalized"`
	Updates          int             `json:"updates"`
	EnrichedAI       int             `json:"enriched_ai"`
	EnrichedFallback int             `json:"enriched_fallback"`
	EnrichErrors     []string        `json:"enrich_errors,omitempty"`
	CostUSD          float64         `json:"cost_usd"`
	Persisted        int64           `json:"persisted"`
	PersistedUpdates int64           `json:"persisted_updates"`
	PersistFailed    int             `json:"persist_failed"`
	PersistErrors    []string        `json:"persist_errors,omitempty"`
	FinalBatchSize   int             `json:"final_batch_size"`
	DeadlineExceeded bool            `json:"deadline_exceeded"`
	Duration         time.Duration   `json:"duration"`
}

// SourcesOK counts sources that finished with a successful fetch.
func (s *RunSummary) SourcesOK() int {
	n := 0
	for _, o := range s.Sources {
		if o.Status == SourceOK {
			n++
		}
	}
	return n
}
