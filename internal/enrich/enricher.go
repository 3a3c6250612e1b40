// Package enrich attaches classification, trend and idea data to normalized
// records, falling back to deterministic local values when the inference
// service fails, is circuit-open or the run's budget is spent.
package enrich

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/saas-radar/internal/cost"
	"github.com/sells-group/saas-radar/internal/model"
	"github.com/sells-group/saas-radar/internal/resilience"
)

// ServiceError reports that one batch could not be enriched by the inference
// service. Its records were routed to the fallback path.
type ServiceError struct {
	Batch int
	Size  int
	Cause error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("enrich: batch %d (%d items): %v", e.Batch, e.Size, e.Cause)
}

func (e *ServiceError) Unwrap() error { return e.Cause }

// Options tunes the Enricher.
type Options struct {
	BatchSize   int
	Concurrency int
	// Timeout bounds one inference call.
	Timeout   time.Duration
	MaxTokens int
	// EstimatedInputPerItem and EstimatedOutputPerItem size budget
	// reservations before a call.
	EstimatedInputPerItem  int
	EstimatedOutputPerItem int
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 3
	}
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 4000
	}
	if o.EstimatedInputPerItem <= 0 {
		o.EstimatedInputPerItem = 120
	}
	if o.EstimatedOutputPerItem <= 0 {
		o.EstimatedOutputPerItem = 150
	}
	return o
}

// Result is the outcome of one Enrich call.
type Result struct {
	// Records is aligned with the input slice.
	Records  []model.EnrichedRecord
	AI       int
	Fallback int
	// Rejected counts items whose response entry was missing or invalid.
	Rejected int
	Batches  int
	Errors   []*ServiceError
	CostUSD  float64
}

// Enricher runs normalized records through an inference Backend.
type Enricher struct {
	backend Backend
	budget  *Budget
	breaker *resilience.CircuitBreaker
	calc    *cost.Calculator
	opts    Options
}

// New creates an Enricher. A nil backend enriches every record with the
// fallback. A nil budget is unlimited and a nil breaker uses the defaults.
func New(backend Backend, budget *Budget, breaker *resilience.CircuitBreaker, calc *cost.Calculator, opts Options) *Enricher {
	if budget == nil {
		budget = NewBudget(0)
	}
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{})
	}
	if calc == nil {
		calc = cost.NewCalculator(cost.DefaultRates())
	}
	return &Enricher{backend: backend, budget: budget, breaker: breaker, calc: calc, opts: opts.withDefaults()}
}

// Enrich returns one EnrichedRecord per input record. It never fails: service
// errors are reported per batch in Result.Errors.
func (e *Enricher) Enrich(ctx context.Context, recs []model.NormalizedRecord) *Result {
	res := &Result{Records: make([]model.EnrichedRecord, len(recs))}
	if len(recs) == 0 {
		return res
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(e.opts.Concurrency)

	for n, lo := 0, 0; lo < len(recs); n, lo = n+1, lo+e.opts.BatchSize {
		hi := min(lo+e.opts.BatchSize, len(recs))
		res.Batches++
		g.Go(func() error {
			out := e.enrichBatch(ctx, n, recs[lo:hi])

			mu.Lock()
			defer mu.Unlock()
			copy(res.Records[lo:hi], out.records)
			res.AI += out.ai
			res.Fallback += len(out.records) - out.ai
			res.Rejected += out.rejected
			res.CostUSD += out.cost
			if out.err != nil {
				res.Errors = append(res.Errors, out.err)
			}
			return nil
		})
	}
	_ = g.Wait()

	zap.L().Info("enrich: complete",
		zap.Int("records", len(recs)),
		zap.Int("batches", res.Batches),
		zap.Int("ai", res.AI),
		zap.Int("fallback", res.Fallback),
		zap.Int("rejected", res.Rejected),
		zap.Int("failed_batches", len(res.Errors)),
		zap.Float64("cost_usd", res.CostUSD),
	)
	return res
}

type batchOutcome struct {
	records  []model.EnrichedRecord
	ai       int
	rejected int
	cost     float64
	err      *ServiceError
}

type reply struct {
	text  string
	usage Usage
}

func (e *Enricher) enrichBatch(ctx context.Context, n int, batch []model.NormalizedRecord) batchOutcome {
	out := batchOutcome{records: make([]model.EnrichedRecord, len(batch))}
	fail := func(cause error) batchOutcome {
		for i, r := range batch {
			out.records[i] = Fallback(r)
		}
		out.ai = 0
		out.err = &ServiceError{Batch: n, Size: len(batch), Cause: cause}
		zap.L().Warn("enrich: batch routed to fallback",
			zap.Int("batch", n),
			zap.Int("batch_size", len(batch)),
			zap.Error(cause),
		)
		return out
	}

	if e.backend == nil {
		for i, r := range batch {
			out.records[i] = Fallback(r)
		}
		return out
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	user, err := buildUserPrompt(batch)
	if err != nil {
		return fail(err)
	}

	estimate := e.estimate(len(batch))
	if err := e.budget.Reserve(estimate); err != nil {
		return fail(err)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	start := time.Now()
	rep, err := resilience.ExecuteVal(callCtx, e.breaker, func(ctx context.Context) (reply, error) {
		text, usage, err := e.backend.Complete(ctx, systemPrompt, user, e.opts.MaxTokens)
		return reply{text: text, usage: usage}, err
	})

	out.cost = e.backend.Cost(e.calc, rep.usage)
	e.budget.Settle(estimate, out.cost)
	zap.L().Info("enrich: cost attribution",
		zap.Int("batch", n),
		zap.String("provider", e.backend.Name()),
		zap.String("model", e.backend.Model()),
		zap.Int("input_tokens", rep.usage.InputTokens),
		zap.Int("output_tokens", rep.usage.OutputTokens),
		zap.Int("cache_write_tokens", rep.usage.CacheWriteTokens),
		zap.Int("cache_read_tokens", rep.usage.CacheReadTokens),
		zap.Float64("cost_usd", out.cost),
		zap.Duration("duration", time.Since(start)),
	)
	if err != nil {
		return fail(err)
	}

	entries, err := parseResponse(rep.text)
	if err != nil {
		return fail(err)
	}

	for i, r := range batch {
		key := nameKey(r.Title)
		queue := entries[key]
		if len(queue) == 0 {
			out.records[i] = Fallback(r)
			out.rejected++
			zap.L().Debug("enrich: no response entry for item",
				zap.String("fingerprint", r.Fingerprint),
				zap.String("title", r.Title),
			)
			continue
		}
		entries[key] = queue[1:]

		enriched, err := validate(queue[0])
		if err != nil {
			out.records[i] = Fallback(r)
			out.rejected++
			zap.L().Debug("enrich: response entry rejected",
				zap.String("fingerprint", r.Fingerprint),
				zap.Error(err),
			)
			continue
		}
		category := enriched.Category
		enriched.NormalizedRecord = r
		enriched.Category = category
		out.records[i] = enriched
		out.ai++
	}
	return out
}

// estimate prices a batch of n items before the call is made.
func (e *Enricher) estimate(n int) float64 {
	return e.backend.Cost(e.calc, Usage{
		InputTokens:  promptOverheadTokens + n*e.opts.EstimatedInputPerItem,
		OutputTokens: n * e.opts.EstimatedOutputPerItem,
	})
}
