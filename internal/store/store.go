// Package store persists items, source health and the run log.
package store

import (
	"context"
	"time"

	"github.com/sells-group/saas-radar/internal/model"
)

// ItemFilter specifies criteria for listing stored items.
type ItemFilter struct {
	Category model.Category `json:"category,omitempty"`
	// Since limits results to items updated at or after this time.
	Since time.Time `json:"since,omitempty"`
	Limit int       `json:"limit,omitempty"`
}

// Store defines the persistence interface for the pipeline.
type Store interface {
	// Items
	UpsertItems(ctx context.Context, recs []model.EnrichedRecord) (int64, error)
	ExistingVotes(ctx context.Context, fingerprints []string) (map[string]int, error)
	ListItems(ctx context.Context, filter ItemFilter) ([]model.StoredItem, error)

	// Source health
	LoadSourceStates(ctx context.Context) ([]model.SourceState, error)
	SaveSourceStates(ctx context.Context, states []model.SourceState) error

	// Run log
	CreateRun(ctx context.Context, forced bool) (*model.Run, error)
	FinishRun(ctx context.Context, runID string, status model.RunStatus, summary *model.RunSummary, runErr string) error
	LastCompletedRun(ctx context.Context) (*model.Run, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
