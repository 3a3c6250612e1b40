package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/saas-radar/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	sb  sq.StatementBuilderType
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer at a time; concurrent persistence workers queue on the pool.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{
		db:  db,
		sb:  sq.StatementBuilder.PlaceholderFormat(sq.Question),
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS items (
	id                TEXT PRIMARY KEY,
	fingerprint       TEXT NOT NULL UNIQUE,
	title             TEXT NOT NULL,
	description       TEXT NOT NULL DEFAULT '',
	link              TEXT NOT NULL,
	source_id         TEXT NOT NULL,
	category          TEXT NOT NULL DEFAULT 'Other',
	votes             INTEGER NOT NULL DEFAULT 0 CHECK (votes >= 0),
	trend_signal      TEXT NOT NULL DEFAULT 'Stable',
	pain_point        TEXT NOT NULL DEFAULT '',
	ideas             TEXT NOT NULL DEFAULT '[]',
	enrichment_source TEXT NOT NULL DEFAULT 'Fallback',
	published_at      DATETIME NOT NULL,
	first_seen_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_items_category_votes ON items(category, votes DESC);
CREATE INDEX IF NOT EXISTS idx_items_updated_at ON items(updated_at);

CREATE TABLE IF NOT EXISTS source_states (
	source_id            TEXT PRIMARY KEY,
	last_fetch_at        DATETIME,
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	is_enabled           BOOLEAN NOT NULL DEFAULT 1,
	last_error           TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL DEFAULT 'running',
	forced      BOOLEAN NOT NULL DEFAULT 0,
	started_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at DATETIME,
	summary     TEXT,
	error       TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_runs_status_started ON runs(status, started_at DESC);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqliteBatchRows keeps one multi-row INSERT under SQLite's bound-variable
// limit.
const sqliteBatchRows = 500

func (s *SQLiteStore) UpsertItems(ctx context.Context, recs []model.EnrichedRecord) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}

	now := s.now()
	setClauses := make([]string, 0, len(itemUpdateCols))
	exprs := itemUpdateExprs("items", "MAX")
	for _, col := range itemUpdateCols {
		expr, ok := exprs[col]
		if !ok {
			expr = "EXCLUDED." + col
		}
		setClauses = append(setClauses, col+" = "+expr)
	}
	suffix := "ON CONFLICT (fingerprint) DO UPDATE SET " + strings.Join(setClauses, ", ")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert items: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var total int64
	for lo := 0; lo < len(recs); lo += sqliteBatchRows {
		q := s.sb.Insert("items").Columns(itemColumns...)
		for _, rec := range recs[lo:min(lo+sqliteBatchRows, len(recs))] {
			row, err := itemRow(rec, now)
			if err != nil {
				return 0, err
			}
			row[10] = string(row[10].([]byte))
			q = q.Values(row...)
		}
		query, args, err := q.Suffix(suffix).ToSql()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: build upsert items")
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: upsert items")
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert items: commit tx")
	}
	return total, nil
}

func (s *SQLiteStore) ExistingVotes(ctx context.Context, fingerprints []string) (map[string]int, error) {
	out := make(map[string]int, len(fingerprints))
	for _, chunk := range chunks(fingerprints, lookupChunk) {
		query, args, err := s.sb.Select("fingerprint", "votes").
			From("items").
			Where(sq.Eq{"fingerprint": chunk}).
			ToSql()
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: build existing votes query")
		}

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: existing votes")
		}
		for rows.Next() {
			var fp string
			var votes int
			if err := rows.Scan(&fp, &votes); err != nil {
				rows.Close() //nolint:errcheck
				return nil, eris.Wrap(err, "sqlite: scan existing votes")
			}
			out[fp] = votes
		}
		rows.Close() //nolint:errcheck
		if err := rows.Err(); err != nil {
			return nil, eris.Wrap(err, "sqlite: existing votes iterate")
		}
	}
	return out, nil
}

func (s *SQLiteStore) ListItems(ctx context.Context, filter ItemFilter) ([]model.StoredItem, error) {
	query, args, err := listItemsQuery(s.sb, filter).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build list items query")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list items")
	}
	defer rows.Close() //nolint:errcheck

	var items []model.StoredItem
	for rows.Next() {
		var it model.StoredItem
		var category, trend, source, ideas string
		if err := rows.Scan(&it.ID, &it.Fingerprint, &it.Title, &it.Description, &it.Link, &it.SourceID,
			&category, &it.Votes, &trend, &it.PainPoint, &ideas, &source,
			&it.PublishedAt, &it.FirstSeenAt, &it.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan item")
		}
		if err := json.Unmarshal([]byte(ideas), &it.Ideas); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal ideas for %s", it.Fingerprint)
		}
		it.Category = model.Category(category)
		it.TrendSignal = model.TrendSignal(trend)
		it.EnrichmentSource = model.EnrichmentSource(source)
		items = append(items, it)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: list items iterate")
}

func (s *SQLiteStore) LoadSourceStates(ctx context.Context) ([]model.SourceState, error) {
	query, args, err := loadStatesQuery(s.sb).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build load states query")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load source states")
	}
	defer rows.Close() //nolint:errcheck

	var states []model.SourceState
	for rows.Next() {
		var st model.SourceState
		var lastFetch sql.NullTime
		if err := rows.Scan(&st.SourceID, &lastFetch, &st.ConsecutiveFailures, &st.IsEnabled, &st.LastError); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan source state")
		}
		if lastFetch.Valid {
			st.LastFetchAt = lastFetch.Time.UTC()
		}
		states = append(states, st)
	}
	return states, eris.Wrap(rows.Err(), "sqlite: load source states iterate")
}

func (s *SQLiteStore) SaveSourceStates(ctx context.Context, states []model.SourceState) error {
	if len(states) == 0 {
		return nil
	}
	query, args, err := saveStatesQuery(s.sb, states).ToSql()
	if err != nil {
		return eris.Wrap(err, "sqlite: build save states query")
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return eris.Wrap(err, "sqlite: save source states")
}

func (s *SQLiteStore) CreateRun(ctx context.Context, forced bool) (*model.Run, error) {
	run := &model.Run{
		ID:        uuid.New().String(),
		Status:    model.RunStatusRunning,
		Forced:    forced,
		StartedAt: s.now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, forced, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, string(run.Status), run.Forced, run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return run, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, summary *model.RunSummary, runErr string) error {
	var summaryJSON []byte
	if summary != nil {
		var err error
		if summaryJSON, err = json.Marshal(summary); err != nil {
			return eris.Wrap(err, "sqlite: marshal summary")
		}
	}

	query, args, err := finishRunQuery(s.sb, runID, status, summaryJSON, runErr, s.now()).ToSql()
	if err != nil {
		return eris.Wrap(err, "sqlite: build finish run query")
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) LastCompletedRun(ctx context.Context) (*model.Run, error) {
	query, args, err := lastCompletedRunQuery(s.sb).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build last run query")
	}

	var r model.Run
	var status string
	var finished sql.NullTime
	var summary sql.NullString
	err = s.db.QueryRowContext(ctx, query, args...).
		Scan(&r.ID, &status, &r.Forced, &r.StartedAt, &finished, &summary, &r.Error)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: last completed run")
	}
	r.Status = model.RunStatus(status)
	if finished.Valid {
		t := finished.Time.UTC()
		r.FinishedAt = &t
	}
	if summary.Valid && summary.String != "" {
		r.Summary = &model.RunSummary{}
		if err := json.Unmarshal([]byte(summary.String), r.Summary); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal summary")
		}
	}
	return &r, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: rows affected for %s %s", entity, id)
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
