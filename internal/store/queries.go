package store

import (
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/saas-radar/internal/model"
)

const (
	defaultListLimit = 50
	// lookupChunk caps the fingerprints bound into one IN list.
	lookupChunk = 500
)

var itemColumns = []string{
	"id", "fingerprint", "title", "description", "link", "source_id",
	"category", "votes", "trend_signal", "pain_point", "ideas",
	"enrichment_source", "published_at", "first_seen_at", "updated_at",
}

// itemUpdateCols are rewritten when a fingerprint already exists. id,
// first_seen_at and the descriptive fields of the first sighting are kept.
var itemUpdateCols = []string{
	"category", "votes", "trend_signal", "pain_point", "ideas",
	"enrichment_source", "updated_at",
}

// keepAI keeps the stored value of col when an AI enrichment would be
// replaced by a fallback one. target names the existing row.
func keepAI(target, col string) string {
	return "CASE WHEN EXCLUDED.enrichment_source = '" + string(model.EnrichmentFallback) +
		"' AND " + target + ".enrichment_source = '" + string(model.EnrichmentAI) +
		"' THEN " + target + "." + col + " ELSE EXCLUDED." + col + " END"
}

// itemUpdateExprs returns the SET expressions for itemUpdateCols. greatest is
// the dialect's two-argument maximum function.
func itemUpdateExprs(target, greatest string) map[string]string {
	return map[string]string{
		"votes":             greatest + "(" + target + ".votes, EXCLUDED.votes)",
		"category":          keepAI(target, "category"),
		"trend_signal":      keepAI(target, "trend_signal"),
		"pain_point":        keepAI(target, "pain_point"),
		"ideas":             keepAI(target, "ideas"),
		"enrichment_source": keepAI(target, "enrichment_source"),
	}
}

// itemRow flattens rec into itemColumns order. ideas is JSON encoded.
func itemRow(rec model.EnrichedRecord, now time.Time) ([]any, error) {
	ideas, err := json.Marshal(rec.Ideas)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal ideas")
	}
	return []any{
		uuid.New().String(),
		rec.Fingerprint,
		rec.Title,
		rec.Description,
		rec.ExternalLink,
		rec.SourceID,
		string(rec.Category),
		rec.Votes,
		string(rec.TrendSignal),
		rec.PainPoint,
		ideas,
		string(rec.EnrichmentSource),
		rec.PublishedAt.UTC(),
		now,
		now,
	}, nil
}

func listItemsQuery(b sq.StatementBuilderType, f ItemFilter) sq.SelectBuilder {
	q := b.Select(itemColumns...).From("items")
	if f.Category != "" {
		q = q.Where(sq.Eq{"category": string(f.Category)})
	}
	if !f.Since.IsZero() {
		q = q.Where(sq.GtOrEq{"updated_at": f.Since.UTC()})
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	return q.OrderBy("votes DESC", "updated_at DESC").Limit(uint64(limit))
}

func loadStatesQuery(b sq.StatementBuilderType) sq.SelectBuilder {
	return b.Select("source_id", "last_fetch_at", "consecutive_failures", "is_enabled", "last_error").
		From("source_states").
		OrderBy("source_id")
}

func saveStatesQuery(b sq.StatementBuilderType, states []model.SourceState) sq.InsertBuilder {
	q := b.Insert("source_states").
		Columns("source_id", "last_fetch_at", "consecutive_failures", "is_enabled", "last_error")
	for _, s := range states {
		q = q.Values(s.SourceID, s.LastFetchAt.UTC(), s.ConsecutiveFailures, s.IsEnabled, s.LastError)
	}
	return q.Suffix(`ON CONFLICT (source_id) DO UPDATE SET
		last_fetch_at = EXCLUDED.last_fetch_at,
		consecutive_failures = EXCLUDED.consecutive_failures,
		is_enabled = EXCLUDED.is_enabled,
		last_error = EXCLUDED.last_error`)
}

var runColumns = []string{"id", "status", "forced", "started_at", "finished_at", "summary", "error"}

func lastCompletedRunQuery(b sq.StatementBuilderType) sq.SelectBuilder {
	return b.Select(runColumns...).
		From("runs").
		Where(sq.Eq{"status": string(model.RunStatusComplete)}).
		OrderBy("started_at DESC").
		Limit(1)
}

func finishRunQuery(b sq.StatementBuilderType, runID string, status model.RunStatus, summary []byte, runErr string, now time.Time) sq.UpdateBuilder {
	return b.Update("runs").
		Set("status", string(status)).
		Set("finished_at", now).
		Set("summary", summary).
		Set("error", runErr).
		Where(sq.Eq{"id": runID})
}

func chunks(fps []string, size int) [][]string {
	var out [][]string
	for lo := 0; lo < len(fps); lo += size {
		out = append(out, fps[lo:min(lo+size, len(fps))])
	}
	return out
}
