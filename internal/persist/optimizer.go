// Package persist writes enriched records to the store in adaptively sized,
// concurrency-bounded batches.
package persist

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/saas-radar/internal/model"
)

// Writer upserts one batch of records keyed by fingerprint.
type Writer interface {
	UpsertItems(ctx context.Context, recs []model.EnrichedRecord) (int64, error)
}

// WriterFunc adapts a function to Writer.
type WriterFunc func(ctx context.Context, recs []model.EnrichedRecord) (int64, error)

func (f WriterFunc) UpsertItems(ctx context.Context, recs []model.EnrichedRecord) (int64, error) {
	return f(ctx, recs)
}

// PersistenceError reports records that could not be written after the
// half-size retry.
type PersistenceError struct {
	Records []model.EnrichedRecord
	Cause   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist: %d records not written: %v", len(e.Records), e.Cause)
}

func (e *PersistenceError) Unwrap() error { return e.Cause }

// Fingerprints lists the fingerprints of the failed records.
func (e *PersistenceError) Fingerprints() []string {
	out := make([]string, len(e.Records))
	for i, r := range e.Records {
		out[i] = r.Fingerprint
	}
	return out
}

// Options tunes the Optimizer.
type Options struct {
	Workers int
	// WriteTimeout bounds a single batch write.
	WriteTimeout time.Duration
	Controller   ControllerConfig
	// OnBatch is called after every write attempt.
	OnBatch func(size int, took time.Duration, err error)
}

// Result is the outcome of one Persist call.
type Result struct {
	// Written counts records whose batch committed.
	Written int64
	// Updated counts written records that refreshed an existing item.
	Updated int64
	// RowsAffected is the store's own count for the committed batches.
	RowsAffected   int64
	Failed         int
	Batches        int
	Retries        int
	Errors         []*PersistenceError
	FinalBatchSize int
}

// Optimizer writes records through a Writer.
type Optimizer struct {
	writer Writer
	ctrl   *Controller
	opts   Options
}

// New creates an Optimizer.
func New(w Writer, opts Options) *Optimizer {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 30 * time.Second
	}
	return &Optimizer{writer: w, ctrl: NewController(opts.Controller), opts: opts}
}

// Controller exposes the batch size controller.
func (o *Optimizer) Controller() *Controller {
	return o.ctrl
}

// Persist writes recs in batches. Batch failures are retried once as two
// half-size writes; records that still fail are reported in Result.Errors and
// never abort the other batches.
func (o *Optimizer) Persist(ctx context.Context, recs []model.EnrichedRecord) *Result {
	res := &Result{}
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(o.opts.Workers)

	for off := 0; off < len(recs); {
		if err := ctx.Err(); err != nil {
			rest := recs[off:]
			res.Failed += len(rest)
			res.Errors = append(res.Errors, &PersistenceError{Records: rest, Cause: err})
			break
		}

		size := o.ctrl.Size()
		end := min(off+size, len(recs))
		batch := recs[off:end]
		off = end

		// Blocks while all workers are busy, so the next size reflects
		// the writes that completed meanwhile.
		g.Go(func() error {
			out := o.writeWithRetry(ctx, batch)

			mu.Lock()
			defer mu.Unlock()
			res.Batches++
			res.Written += out.written
			res.Updated += out.updated
			res.RowsAffected += out.rows
			res.Retries += out.retries
			for _, pe := range out.errs {
				res.Failed += len(pe.Records)
				res.Errors = append(res.Errors, pe)
			}
			return nil
		})
	}
	_ = g.Wait()

	res.FinalBatchSize = o.ctrl.Size()
	zap.L().Info("persist: complete",
		zap.Int("records", len(recs)),
		zap.Int64("written", res.Written),
		zap.Int64("updated", res.Updated),
		zap.Int("failed", res.Failed),
		zap.Int("batches", res.Batches),
		zap.Int("retries", res.Retries),
		zap.Int("final_batch_size", res.FinalBatchSize),
	)
	return res
}

type batchOutcome struct {
	written int64
	updated int64
	rows    int64
	retries int
	errs    []*PersistenceError
}

func (o *Optimizer) writeWithRetry(ctx context.Context, batch []model.EnrichedRecord) batchOutcome {
	var out batchOutcome

	rows, err := o.write(ctx, batch)
	if err == nil {
		out.written = int64(len(batch))
		out.updated = countUpdates(batch)
		out.rows = rows
		return out
	}

	zap.L().Warn("persist: batch failed, retrying at half size",
		zap.Int("batch_size", len(batch)),
		zap.Error(err),
	)

	half := max(1, (len(batch)+1)/2)
	for lo := 0; lo < len(batch); lo += half {
		chunk := batch[lo:min(lo+half, len(batch))]
		out.retries++
		rows, err := o.write(ctx, chunk)
		if err != nil {
			zap.L().Error("persist: batch failed after retry",
				zap.Int("batch_size", len(chunk)),
				zap.Error(err),
			)
			out.errs = append(out.errs, &PersistenceError{Records: chunk, Cause: err})
			continue
		}
		out.written += int64(len(chunk))
		out.updated += countUpdates(chunk)
		out.rows += rows
	}
	return out
}

func countUpdates(batch []model.EnrichedRecord) int64 {
	var n int64
	for _, r := range batch {
		if r.Update {
			n++
		}
	}
	return n
}

func (o *Optimizer) write(ctx context.Context, batch []model.EnrichedRecord) (int64, error) {
	writeCtx, cancel := context.WithTimeout(ctx, o.opts.WriteTimeout)
	defer cancel()

	start := time.Now()
	rows, err := o.writer.UpsertItems(writeCtx, batch)
	took := time.Since(start)

	o.ctrl.Observe(len(batch), took, err)
	if o.opts.OnBatch != nil {
		o.opts.OnBatch(len(batch), took, err)
	}
	return rows, err
}
