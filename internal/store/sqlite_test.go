package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/saas-radar/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func enrichedRecord(fp string, votes int, source model.EnrichmentSource) model.EnrichedRecord {
	rec := model.EnrichedRecord{
		NormalizedRecord: model.NormalizedRecord{
			RawRecord: model.RawRecord{
				SourceID:     "producthunt",
				Title:        "Tool " + fp,
				Description:  "does things",
				ExternalLink: "https://example.com/" + fp,
				PublishedAt:  time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
			},
			Fingerprint: fp,
			Category:    model.CategoryProductivity,
			Votes:       votes,
		},
		TrendSignal:      model.TrendRising,
		PainPoint:        "slow workflows",
		Ideas:            []string{"idea one", "idea two"},
		EnrichmentSource: source,
	}
	if source == model.EnrichmentFallback {
		rec.TrendSignal = model.TrendStable
		rec.PainPoint = ""
		rec.Ideas = []string{"placeholder"}
	}
	return rec
}

func TestSQLite_Migrate_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
}

func TestSQLite_UpsertItems_InsertAndList(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	n, err := st.UpsertItems(ctx, []model.EnrichedRecord{
		enrichedRecord("a", 10, model.EnrichmentAI),
		enrichedRecord("b", 30, model.EnrichmentAI),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	items, err := st.ListItems(ctx, ItemFilter{})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "b", items[0].Fingerprint, "ordered by votes")
	assert.Equal(t, 30, items[0].Votes)
	assert.Equal(t, model.CategoryProductivity, items[0].Category)
	assert.Equal(t, model.TrendRising, items[0].TrendSignal)
	assert.Equal(t, []string{"idea one", "idea two"}, items[0].Ideas)
	assert.Equal(t, "https://example.com/b", items[0].Link)
	assert.Equal(t, model.EnrichmentAI, items[0].EnrichmentSource)
	assert.NotEmpty(t, items[0].ID)
	assert.True(t, items[0].PublishedAt.Equal(time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)))
}

func TestSQLite_UpsertItems_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	batch := []model.EnrichedRecord{
		enrichedRecord("a", 10, model.EnrichmentAI),
		enrichedRecord("b", 30, model.EnrichmentAI),
	}
	_, err := st.UpsertItems(ctx, batch)
	require.NoError(t, err)
	first, err := st.ListItems(ctx, ItemFilter{})
	require.NoError(t, err)

	_, err = st.UpsertItems(ctx, batch)
	require.NoError(t, err)
	second, err := st.ListItems(ctx, ItemFilter{})
	require.NoError(t, err)

	require.Len(t, second, 2)
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID, "id is stable across upserts")
		assert.Equal(t, first[i].Votes, second[i].Votes)
		assert.True(t, first[i].FirstSeenAt.Equal(second[i].FirstSeenAt))
	}
}

func TestSQLite_UpsertItems_VotesKeepMax(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.UpsertItems(ctx, []model.EnrichedRecord{enrichedRecord("a", 50, model.EnrichmentAI)})
	require.NoError(t, err)

	lower := enrichedRecord("a", 20, model.EnrichmentAI)
	lower.TrendSignal = model.TrendDeclining
	_, err = st.UpsertItems(ctx, []model.EnrichedRecord{lower})
	require.NoError(t, err)

	items, err := st.ListItems(ctx, ItemFilter{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 50, items[0].Votes)
	assert.Equal(t, model.TrendDeclining, items[0].TrendSignal, "trend follows the latest enrichment")

	_, err = st.UpsertItems(ctx, []model.EnrichedRecord{enrichedRecord("a", 75, model.EnrichmentAI)})
	require.NoError(t, err)
	items, err = st.ListItems(ctx, ItemFilter{})
	require.NoError(t, err)
	assert.Equal(t, 75, items[0].Votes)
}

func TestSQLite_UpsertItems_FallbackKeepsAIEnrichment(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.UpsertItems(ctx, []model.EnrichedRecord{enrichedRecord("a", 10, model.EnrichmentAI)})
	require.NoError(t, err)

	fb := enrichedRecord("a", 40, model.EnrichmentFallback)
	fb.Category = model.CategoryOther
	_, err = st.UpsertItems(ctx, []model.EnrichedRecord{fb})
	require.NoError(t, err)

	items, err := st.ListItems(ctx, ItemFilter{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 40, items[0].Votes)
	assert.Equal(t, model.EnrichmentAI, items[0].EnrichmentSource)
	assert.Equal(t, model.TrendRising, items[0].TrendSignal)
	assert.Equal(t, model.CategoryProductivity, items[0].Category)
	assert.Equal(t, []string{"idea one", "idea two"}, items[0].Ideas)
}

func TestSQLite_UpsertItems_Empty(t *testing.T) {
	st := newTestSQLiteStore(t)
	n, err := st.UpsertItems(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestSQLite_ExistingVotes(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.UpsertItems(ctx, []model.EnrichedRecord{
		enrichedRecord("a", 10, model.EnrichmentAI),
		enrichedRecord("b", 30, model.EnrichmentFallback),
	})
	require.NoError(t, err)

	got, err := st.ExistingVotes(ctx, []string{"a", "b", "zzz"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 10, "b": 30}, got)

	got, err = st.ExistingVotes(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLite_ListItems_Filter(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	audio := enrichedRecord("c", 5, model.EnrichmentAI)
	audio.Category = model.CategoryAudio
	_, err := st.UpsertItems(ctx, []model.EnrichedRecord{
		enrichedRecord("a", 10, model.EnrichmentAI),
		enrichedRecord("b", 30, model.EnrichmentAI),
		audio,
	})
	require.NoError(t, err)

	items, err := st.ListItems(ctx, ItemFilter{Category: model.CategoryAudio})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "c", items[0].Fingerprint)

	items, err = st.ListItems(ctx, ItemFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "b", items[0].Fingerprint)
}

func TestSQLite_SourceStates_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	states, err := st.LoadSourceStates(ctx)
	require.NoError(t, err)
	assert.Empty(t, states)

	fetched := time.Date(2026, 10, 16, 8, 30, 0, 0, time.UTC)
	require.NoError(t, st.SaveSourceStates(ctx, []model.SourceState{
		{SourceID: "reddit-saas", LastFetchAt: fetched, ConsecutiveFailures: 0, IsEnabled: true},
		{SourceID: "hn", LastFetchAt: fetched, ConsecutiveFailures: 6, IsEnabled: false, LastError: "503"},
	}))

	states, err = st.LoadSourceStates(ctx)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "hn", states[0].SourceID)
	assert.False(t, states[0].IsEnabled)
	assert.Equal(t, 6, states[0].ConsecutiveFailures)
	assert.Equal(t, "503", states[0].LastError)
	assert.True(t, states[0].LastFetchAt.Equal(fetched))
	assert.True(t, states[1].IsEnabled)

	require.NoError(t, st.SaveSourceStates(ctx, []model.SourceState{
		{SourceID: "hn", LastFetchAt: fetched.Add(time.Hour), IsEnabled: true},
	}))
	states, err = st.LoadSourceStates(ctx)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.True(t, states[0].IsEnabled)
	assert.Equal(t, 0, states[0].ConsecutiveFailures)
	assert.Empty(t, states[0].LastError)

	require.NoError(t, st.SaveSourceStates(ctx, nil))
}

func TestSQLite_Runs(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	last, err := st.LastCompletedRun(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	run, err := st.CreateRun(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, run.Status)

	last, err = st.LastCompletedRun(ctx)
	require.NoError(t, err)
	assert.Nil(t, last, "running runs are not completed")

	summary := &model.RunSummary{RunID: run.ID, Fetched: 12, Persisted: 10}
	require.NoError(t, st.FinishRun(ctx, run.ID, model.RunStatusComplete, summary, ""))

	last, err = st.LastCompletedRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, run.ID, last.ID)
	assert.True(t, last.Forced)
	assert.Equal(t, model.RunStatusComplete, last.Status)
	require.NotNil(t, last.FinishedAt)
	require.NotNil(t, last.Summary)
	assert.Equal(t, 12, last.Summary.Fetched)
	assert.Equal(t, int64(10), last.Summary.Persisted)

	failed, err := st.CreateRun(ctx, false)
	require.NoError(t, err)
	require.NoError(t, st.FinishRun(ctx, failed.ID, model.RunStatusFailed, nil, "ingest: no enabled sources"))

	last, err = st.LastCompletedRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, run.ID, last.ID, "failed runs do not count")
}

func TestSQLite_FinishRun_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.FinishRun(context.Background(), "missing", model.RunStatusComplete, nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
}

func TestChunks(t *testing.T) {
	assert.Nil(t, chunks(nil, 3))
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, chunks([]string{"a", "b", "c"}, 2))
}
