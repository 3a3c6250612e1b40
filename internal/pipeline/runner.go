// Package pipeline runs one ingestion, normalization, enrichment and
// persistence pass and records it in the run log.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/saas-radar/internal/cost"
	"github.com/sells-group/saas-radar/internal/enrich"
	"github.com/sells-group/saas-radar/internal/ingest"
	"github.com/sells-group/saas-radar/internal/metrics"
	"github.com/sells-group/saas-radar/internal/model"
	"github.com/sells-group/saas-radar/internal/normalize"
	"github.com/sells-group/saas-radar/internal/persist"
	"github.com/sells-group/saas-radar/internal/resilience"
	"github.com/sells-group/saas-radar/internal/store"
)

// ErrTooSoon is returned when the previous completed run started less than
// the minimum interval ago and the run was not forced.
var ErrTooSoon = eris.New("pipeline: minimum interval since last run has not elapsed")

// Deps are the collaborators of a Runner.
type Deps struct {
	Store     store.Store
	Sources   []ingest.Source
	Ingest    ingest.Options
	Normalize normalize.Options

	// Backend is nil when enrichment runs on the fallback only.
	Backend    enrich.Backend
	Calculator *cost.Calculator
	Breaker    *resilience.CircuitBreaker
	Enrich     enrich.Options
	// BudgetUSD is the per-run inference ceiling. Zero is unlimited.
	BudgetUSD float64

	Persist persist.Options

	Metrics        *metrics.Recorder
	PushgatewayURL string
	MetricsJob     string
}

// Options control one run.
type Options struct {
	DryRun bool
	Force  bool
	// Deadline bounds ingestion and enrichment. Zero disables it.
	Deadline    time.Duration
	MinInterval time.Duration
	// FlushTimeout bounds persistence, which runs even after the deadline.
	FlushTimeout time.Duration
}

// Runner wires the pipeline stages together.
type Runner struct {
	deps       Deps
	coord      *ingest.Coordinator
	normalizer *normalize.Normalizer
	optimizer  *persist.Optimizer
	now        func() time.Time
}

// New creates a Runner.
func New(deps Deps) *Runner {
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Calculator == nil {
		deps.Calculator = cost.NewCalculator(cost.DefaultRates())
	}

	persistOpts := deps.Persist
	onBatch := persistOpts.OnBatch
	rec := deps.Metrics
	persistOpts.OnBatch = func(size int, took time.Duration, err error) {
		rec.ObserveBatch(size, took, err)
		if onBatch != nil {
			onBatch(size, took, err)
		}
	}

	return &Runner{
		deps:       deps,
		coord:      ingest.New(deps.Sources, deps.Store, deps.Ingest),
		normalizer: normalize.New(deps.Normalize),
		optimizer:  persist.New(deps.Store, persistOpts),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run executes one pass. The returned summary is non-nil whenever the run
// got past the minimum-interval guard, including failed runs.
func (r *Runner) Run(ctx context.Context, opts Options) (*model.RunSummary, error) {
	start := r.now()

	if !opts.DryRun && !opts.Force && opts.MinInterval > 0 {
		if err := r.checkInterval(ctx, start, opts.MinInterval); err != nil {
			return nil, err
		}
	}

	summary := &model.RunSummary{DryRun: opts.DryRun}
	if opts.DryRun {
		summary.RunID = uuid.New().String()
	} else {
		run, err := r.deps.Store.CreateRun(ctx, opts.Force)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: create run")
		}
		summary.RunID = run.ID
	}

	log := zap.L().With(zap.String("run_id", summary.RunID), zap.Bool("dry_run", opts.DryRun))
	log.Info("pipeline: starting run", zap.Bool("forced", opts.Force))

	runErr := r.execute(ctx, opts, summary, log)
	summary.Duration = time.Since(start)

	status := model.RunStatusComplete
	errText := ""
	if runErr != nil {
		status = model.RunStatusFailed
		errText = runErr.Error()
		log.Error("pipeline: run failed", zap.Error(runErr), zap.Duration("duration", summary.Duration))
	} else {
		log.Info("pipeline: run complete",
			zap.Int("fetched", summary.Fetched),
			zap.Int("normalized", summary.Normalized),
			zap.Int("enriched_ai", summary.EnrichedAI),
			zap.Int("enriched_fallback", summary.EnrichedFallback),
			zap.Int64("persisted", summary.Persisted),
			zap.Int64("persisted_updates", summary.PersistedUpdates),
			zap.Int("persist_failed", summary.PersistFailed),
			zap.Float64("cost_usd", summary.CostUSD),
			zap.Bool("deadline_exceeded", summary.DeadlineExceeded),
			zap.Duration("duration", summary.Duration),
		)
	}

	// The run log and metrics are written even when ctx is already done.
	detached := context.WithoutCancel(ctx)
	if !opts.DryRun {
		if err := r.deps.Store.FinishRun(detached, summary.RunID, status, summary, errText); err != nil {
			log.Error("pipeline: finish run", zap.Error(err))
		}
	}
	r.deps.Metrics.ObserveSummary(summary, runErr == nil)
	pushCtx, cancel := context.WithTimeout(detached, 10*time.Second)
	if err := r.deps.Metrics.Push(pushCtx, r.deps.PushgatewayURL, r.deps.MetricsJob); err != nil {
		log.Warn("pipeline: metrics push failed", zap.Error(err))
	}
	cancel()

	return summary, runErr
}

func (r *Runner) checkInterval(ctx context.Context, now time.Time, minInterval time.Duration) error {
	last, err := r.deps.Store.LastCompletedRun(ctx)
	if err != nil {
		return eris.Wrap(err, "pipeline: last completed run")
	}
	if last == nil {
		return nil
	}
	if elapsed := now.Sub(last.StartedAt); elapsed < minInterval {
		return eris.Wrapf(ErrTooSoon, "last run %s started %s ago, next allowed in %s",
			last.ID, elapsed.Round(time.Second), (minInterval - elapsed).Round(time.Second))
	}
	return nil
}

func (r *Runner) execute(ctx context.Context, opts Options, summary *model.RunSummary, log *zap.Logger) error {
	runCtx := ctx
	if opts.Deadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opts.Deadline)
		defer cancel()
	}

	// Ingest
	ires, err := r.coord.Run(runCtx)
	if ires != nil {
		summary.Sources = ires.Outcomes
		summary.Fetched = len(ires.Records)
	}
	if err != nil {
		return err
	}

	// Normalize
	nres := r.normalizer.Process(runCtx, ires.Records, r.deps.Store)
	summary.Invalid = len(nres.Invalid)
	summary.Duplicates = nres.Duplicates
	summary.Updates = nres.Updates
	summary.Normalized = len(nres.Records)

	// Enrich
	enricher := enrich.New(r.deps.Backend, enrich.NewBudget(r.deps.BudgetUSD), r.deps.Breaker, r.deps.Calculator, r.deps.Enrich)
	eres := enricher.Enrich(runCtx, nres.Records)
	summary.EnrichedAI = eres.AI
	summary.EnrichedFallback = eres.Fallback
	summary.CostUSD = eres.CostUSD
	for _, e := range eres.Errors {
		summary.EnrichErrors = append(summary.EnrichErrors, e.Error())
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		summary.DeadlineExceeded = true
		log.Warn("pipeline: run deadline exceeded, flushing enriched records", zap.Duration("deadline", opts.Deadline))
	}

	if opts.DryRun {
		log.Info("pipeline: dry run, skipping persistence", zap.Int("records", len(eres.Records)))
		return nil
	}

	// Persist
	flushCtx := context.WithoutCancel(ctx)
	if opts.FlushTimeout > 0 {
		var cancel context.CancelFunc
		flushCtx, cancel = context.WithTimeout(flushCtx, opts.FlushTimeout)
		defer cancel()
	}
	pres := r.optimizer.Persist(flushCtx, eres.Records)
	summary.Persisted = pres.RowsAffected
	summary.PersistedUpdates = pres.Updated
	summary.PersistFailed = pres.Failed
	summary.FinalBatchSize = pres.FinalBatchSize
	for _, e := range pres.Errors {
		summary.PersistErrors = append(summary.PersistErrors, e.Error())
	}
	return nil
}
