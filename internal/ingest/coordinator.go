// Package ingest fans out to every configured source, retries transient
// failures and tracks per-source health across runs.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/saas-radar/internal/model"
	"github.com/sells-group/saas-radar/internal/resilience"
	"github.com/sells-group/saas-radar/internal/source"
)

// StateRepository loads and saves SourceState rows. Only the Coordinator
// writes them.
type StateRepository interface {
	LoadSourceStates(ctx context.Context) ([]model.SourceState, error)
	SaveSourceStates(ctx context.Context, states []model.SourceState) error
}

// Source is one adapter plus its catalog switches.
type Source struct {
	Adapter source.Adapter
	Enabled bool
	Limit   int
}

// Options tune the Coordinator.
type Options struct {
	// MaxInFlight bounds concurrent fetches. Zero means one per source.
	MaxInFlight int
	// FailureThreshold opens a source's circuit once its consecutive
	// failures exceed it.
	FailureThreshold int
	// DefaultLimit applies to sources without their own limit.
	DefaultLimit int
	Retry        resilience.RetryConfig
	Now          func() time.Time
}

// ExhaustedError reports a run in which no source produced output.
type ExhaustedError struct {
	Failures map[string]error
}

func (e *ExhaustedError) Error() string {
	if len(e.Failures) == 0 {
		return "ingest: no enabled sources"
	}
	ids := make([]string, 0, len(e.Failures))
	for id := range e.Failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s: %v", id, e.Failures[id]))
	}
	return fmt.Sprintf("ingest: all %d sources failed: %s", len(ids), strings.Join(parts, "; "))
}

// Result is the merged output of one ingestion pass.
type Result struct {
	Records  []model.RawRecord
	Outcomes []model.SourceOutcome
	Failures map[string]error
}

// Coordinator runs all enabled adapters per run.
type Coordinator struct {
	sources []Source
	states  StateRepository
	opts    Options
}

// New creates a Coordinator.
func New(sources []Source, states StateRepository, opts Options) *Coordinator {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = len(sources)
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 1
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 5
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 50
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{sources: sources, states: states, opts: opts}
}

type fetchResult struct {
	records  []model.RawRecord
	attempts int
	err      error
}

// Run fetches every enabled source, updates their states and returns the
// concatenated records in source order. It fails with *ExhaustedError only
// when no source succeeded.
func (c *Coordinator) Run(ctx context.Context) (*Result, error) {
	loaded, err := c.states.LoadSourceStates(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: load source states")
	}
	states := make(map[string]model.SourceState, len(loaded))
	for _, s := range loaded {
		states[s.SourceID] = s
	}

	results := make([]fetchResult, len(c.sources))
	dispatched := make([]bool, len(c.sources))
	outcomes := make([]model.SourceOutcome, len(c.sources))

	g := new(errgroup.Group)
	g.SetLimit(c.opts.MaxInFlight)

	for i, src := range c.sources {
		id := src.Adapter.ID()
		outcomes[i] = model.SourceOutcome{SourceID: id}

		if !src.Enabled {
			outcomes[i].Status = model.SourceDisabled
			continue
		}
		if st, ok := states[id]; ok && !st.IsEnabled {
			outcomes[i].Status = model.SourceCircuitOpen
			zap.L().Warn("ingest: source circuit open, skipping",
				zap.String("source", id),
				zap.Int("consecutive_failures", st.ConsecutiveFailures),
			)
			continue
		}

		dispatched[i] = true
		g.Go(func() error {
			results[i] = c.fetch(ctx, src)
			return nil
		})
	}
	_ = g.Wait()

	now := c.opts.Now().UTC()
	res := &Result{Failures: make(map[string]error)}
	var changed []model.SourceState
	succeeded := 0

	for i, src := range c.sources {
		if !dispatched[i] {
			continue
		}
		id := src.Adapter.ID()
		r := results[i]
		outcomes[i].Attempts = r.attempts

		st, ok := states[id]
		if !ok {
			st = model.NewSourceState(id)
		}
		st.LastFetchAt = now

		switch {
		case r.err == nil:
			succeeded++
			st.ConsecutiveFailures = 0
			st.LastError = ""
			outcomes[i].Status = model.SourceOK
			outcomes[i].Records = len(r.records)
			res.Records = append(res.Records, r.records...)
		case isCancellation(ctx, r.err):
			// The run deadline cut the fetch short; the source is not at fault.
			outcomes[i].Status = model.SourceCancelled
			outcomes[i].Error = r.err.Error()
			res.Failures[id] = r.err
		default:
			st.ConsecutiveFailures++
			st.LastError = r.err.Error()
			outcomes[i].Status = model.SourceFailed
			if !source.IsRetryable(r.err) {
				outcomes[i].Status = model.SourceSkipped
			}
			outcomes[i].Error = r.err.Error()
			res.Failures[id] = r.err
			if st.ConsecutiveFailures > c.opts.FailureThreshold && st.IsEnabled {
				st.IsEnabled = false
				zap.L().Warn("ingest: source circuit opened",
					zap.String("source", id),
					zap.Int("consecutive_failures", st.ConsecutiveFailures),
					zap.Int("threshold", c.opts.FailureThreshold),
				)
			}
		}
		changed = append(changed, st)
	}
	res.Outcomes = outcomes

	if len(changed) > 0 {
		// A deadline-cancelled run still records what it learned.
		if err := c.states.SaveSourceStates(context.WithoutCancel(ctx), changed); err != nil {
			zap.L().Error("ingest: save source states", zap.Error(err))
		}
	}

	zap.L().Info("ingest: complete",
		zap.Int("sources", len(c.sources)),
		zap.Int("succeeded", succeeded),
		zap.Int("failed", len(res.Failures)),
		zap.Int("records", len(res.Records)),
	)

	if succeeded == 0 {
		return res, &ExhaustedError{Failures: res.Failures}
	}
	return res, nil
}

// isCancellation reports whether err came from the run context ending rather
// than from the source itself. A per-request timeout while ctx is live is a
// source failure.
func isCancellation(ctx context.Context, err error) bool {
	if ctx.Err() == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (c *Coordinator) fetch(ctx context.Context, src Source) fetchResult {
	id := src.Adapter.ID()
	limit := src.Limit
	if limit <= 0 {
		limit = c.opts.DefaultLimit
	}

	var attempts atomic.Int32
	retryCfg := c.opts.Retry
	retryCfg.ShouldRetry = source.IsRetryable
	retryCfg.OnRetry = resilience.RetryLogger("source", id)

	start := time.Now()
	records, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) ([]model.RawRecord, error) {
		attempts.Add(1)
		recs, err := src.Adapter.Fetch(ctx, limit)
		if err != nil {
			return nil, source.NewFetchError(id, err)
		}
		return recs, nil
	})

	if err != nil {
		zap.L().Warn("ingest: source failed",
			zap.String("source", id),
			zap.Int32("attempts", attempts.Load()),
			zap.Bool("retryable", source.IsRetryable(err)),
			zap.Error(err),
		)
	} else {
		zap.L().Debug("ingest: source fetched",
			zap.String("source", id),
			zap.Int("records", len(records)),
			zap.Duration("duration", time.Since(start)),
		)
	}
	return fetchResult{records: records, attempts: int(attempts.Load()), err: err}
}

// Reset re-enables a source and clears its failure count.
func Reset(ctx context.Context, repo StateRepository, sourceID string) (model.SourceState, error) {
	loaded, err := repo.LoadSourceStates(ctx)
	if err != nil {
		return model.SourceState{}, eris.Wrap(err, "ingest: load source states")
	}
	st := model.NewSourceState(sourceID)
	for _, s := range loaded {
		if s.SourceID == sourceID {
			st = s
			break
		}
	}
	st.ConsecutiveFailures = 0
	st.IsEnabled = true
	st.LastError = ""
	if err := repo.SaveSourceStates(ctx, []model.SourceState{st}); err != nil {
		return model.SourceState{}, eris.Wrapf(err, "ingest: reset source %s", sourceID)
	}
	zap.L().Info("ingest: source reset", zap.String("source", sourceID))
	return st, nil
}
