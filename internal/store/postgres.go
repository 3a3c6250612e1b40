package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/saas-radar/internal/db"
	"github.com/sells-group/saas-radar/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	sb      sq.StatementBuilderType
	now     func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	s := newPostgresStore(pool)
	s.closeFn = pool.Close
	return s, nil
}

func newPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{
		pool: pool,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS items (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	fingerprint       TEXT NOT NULL UNIQUE,
	title             TEXT NOT NULL,
	description       TEXT NOT NULL DEFAULT '',
	link              TEXT NOT NULL,
	source_id         TEXT NOT NULL,
	category          TEXT NOT NULL DEFAULT 'Other',
	votes             INTEGER NOT NULL DEFAULT 0 CHECK (votes >= 0),
	trend_signal      TEXT NOT NULL DEFAULT 'Stable',
	pain_point        TEXT NOT NULL DEFAULT '',
	ideas             JSONB NOT NULL DEFAULT '[]'::jsonb,
	enrichment_source TEXT NOT NULL DEFAULT 'Fallback',
	published_at      TIMESTAMPTZ NOT NULL,
	first_seen_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_items_category_votes ON items(category, votes DESC);
CREATE INDEX IF NOT EXISTS idx_items_updated_at ON items(updated_at);

CREATE TABLE IF NOT EXISTS source_states (
	source_id            TEXT PRIMARY KEY,
	last_fetch_at        TIMESTAMPTZ,
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	is_enabled           BOOLEAN NOT NULL DEFAULT true,
	last_error           TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL DEFAULT 'running',
	forced      BOOLEAN NOT NULL DEFAULT false,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ,
	summary     JSONB,
	error       TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_runs_status_started ON runs(status, started_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) UpsertItems(ctx context.Context, recs []model.EnrichedRecord) (int64, error) {
	now := s.now()
	rows := make([][]any, 0, len(recs))
	for _, rec := range recs {
		row, err := itemRow(rec, now)
		if err != nil {
			return 0, err
		}
		rows = append(rows, row)
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "items",
		Columns:      itemColumns,
		ConflictKeys: []string{"fingerprint"},
		UpdateCols:   itemUpdateCols,
		UpdateExprs:  itemUpdateExprs("t", "GREATEST"),
	}, rows)
	return n, eris.Wrap(err, "postgres: upsert items")
}

func (s *PostgresStore) ExistingVotes(ctx context.Context, fingerprints []string) (map[string]int, error) {
	out := make(map[string]int, len(fingerprints))
	for _, chunk := range chunks(fingerprints, lookupChunk) {
		sql, args, err := s.sb.Select("fingerprint", "votes").
			From("items").
			Where("fingerprint = ANY(?)", chunk).
			ToSql()
		if err != nil {
			return nil, eris.Wrap(err, "postgres: build existing votes query")
		}

		rows, err := s.pool.Query(ctx, sql, args...)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: existing votes")
		}
		for rows.Next() {
			var fp string
			var votes int
			if err := rows.Scan(&fp, &votes); err != nil {
				rows.Close()
				return nil, eris.Wrap(err, "postgres: scan existing votes")
			}
			out[fp] = votes
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, eris.Wrap(err, "postgres: existing votes iterate")
		}
	}
	return out, nil
}

func (s *PostgresStore) ListItems(ctx context.Context, filter ItemFilter) ([]model.StoredItem, error) {
	sql, args, err := listItemsQuery(s.sb, filter).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build list items query")
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list items")
	}
	defer rows.Close()

	var items []model.StoredItem
	for rows.Next() {
		var it model.StoredItem
		var category, trend, source string
		var ideas []byte
		if err := rows.Scan(&it.ID, &it.Fingerprint, &it.Title, &it.Description, &it.Link, &it.SourceID,
			&category, &it.Votes, &trend, &it.PainPoint, &ideas, &source,
			&it.PublishedAt, &it.FirstSeenAt, &it.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan item")
		}
		if err := json.Unmarshal(ideas, &it.Ideas); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal ideas for %s", it.Fingerprint)
		}
		it.Category = model.Category(category)
		it.TrendSignal = model.TrendSignal(trend)
		it.EnrichmentSource = model.EnrichmentSource(source)
		items = append(items, it)
	}
	return items, eris.Wrap(rows.Err(), "postgres: list items iterate")
}

func (s *PostgresStore) LoadSourceStates(ctx context.Context) ([]model.SourceState, error) {
	sql, args, err := loadStatesQuery(s.sb).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build load states query")
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load source states")
	}
	defer rows.Close()

	var states []model.SourceState
	for rows.Next() {
		var st model.SourceState
		var lastFetch *time.Time
		if err := rows.Scan(&st.SourceID, &lastFetch, &st.ConsecutiveFailures, &st.IsEnabled, &st.LastError); err != nil {
			return nil, eris.Wrap(err, "postgres: scan source state")
		}
		if lastFetch != nil {
			st.LastFetchAt = lastFetch.UTC()
		}
		states = append(states, st)
	}
	return states, eris.Wrap(rows.Err(), "postgres: load source states iterate")
}

func (s *PostgresStore) SaveSourceStates(ctx context.Context, states []model.SourceState) error {
	if len(states) == 0 {
		return nil
	}
	sql, args, err := saveStatesQuery(s.sb, states).ToSql()
	if err != nil {
		return eris.Wrap(err, "postgres: build save states query")
	}
	_, err = s.pool.Exec(ctx, sql, args...)
	return eris.Wrap(err, "postgres: save source states")
}

func (s *PostgresStore) CreateRun(ctx context.Context, forced bool) (*model.Run, error) {
	run := &model.Run{
		ID:        uuid.New().String(),
		Status:    model.RunStatusRunning,
		Forced:    forced,
		StartedAt: s.now(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, status, forced, started_at) VALUES ($1, $2, $3, $4)`,
		run.ID, string(run.Status), run.Forced, run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return run, nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, summary *model.RunSummary, runErr string) error {
	var summaryJSON []byte
	if summary != nil {
		var err error
		if summaryJSON, err = json.Marshal(summary); err != nil {
			return eris.Wrap(err, "postgres: marshal summary")
		}
	}

	sql, args, err := finishRunQuery(s.sb, runID, status, summaryJSON, runErr, s.now()).ToSql()
	if err != nil {
		return eris.Wrap(err, "postgres: build finish run query")
	}
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) LastCompletedRun(ctx context.Context) (*model.Run, error) {
	sql, args, err := lastCompletedRunQuery(s.sb).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build last run query")
	}

	var r model.Run
	var status string
	var summary []byte
	err = s.pool.QueryRow(ctx, sql, args...).
		Scan(&r.ID, &status, &r.Forced, &r.StartedAt, &r.FinishedAt, &summary, &r.Error)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: last completed run")
	}
	r.Status = model.RunStatus(status)
	if len(summary) > 0 {
		r.Summary = &model.RunSummary{}
		if err := json.Unmarshal(summary, r.Summary); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal summary")
		}
	}
	return &r, nil
}
