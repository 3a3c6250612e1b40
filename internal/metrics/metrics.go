// Package metrics holds the Prometheus collectors for a pipeline run and
// pushes them to a Pushgateway when the run ends.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/saas-radar/internal/model"
)

const namespace = "saas_radar"

// Recorder holds the run collectors on its own registry.
type Recorder struct {
	reg *prometheus.Registry

	SourceFetches    *prometheus.CounterVec
	SourceRecords    *prometheus.CounterVec
	NormalizeRecords *prometheus.CounterVec
	EnrichItems      *prometheus.CounterVec
	EnrichErrors     prometheus.Counter
	EnrichCostUSD    prometheus.Counter
	PersistBatches   *prometheus.CounterVec
	PersistDuration  prometheus.Histogram
	PersistBatchSize prometheus.Gauge
	PersistedRows    prometheus.Counter
	PersistedUpdates prometheus.Counter
	RunDuration      prometheus.Gauge
	RunLastSuccess   prometheus.Gauge
}

// New creates a Recorder with every collector registered.
func New() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		SourceFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_fetches_total",
			Help:      "Source fetch outcomes, labeled by source and status.",
		}, []string{"source", "status"}),
		SourceRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_records_total",
			Help:      "Raw records returned per source.",
		}, []string{"source"}),
		NormalizeRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "normalize_records_total",
			Help:      "Normalizer results, labeled by outcome (kept, invalid, duplicate, update).",
		}, []string{"outcome"}),
		EnrichItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrich_items_total",
			Help:      "Enriched items, labeled by enrichment source.",
		}, []string{"enrichment_source"}),
		EnrichErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrich_batch_errors_total",
			Help:      "Enrichment batches that fell back because the service failed.",
		}),
		EnrichCostUSD: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrich_cost_usd_total",
			Help:      "Inference spend in USD.",
		}),
		PersistBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_batches_total",
			Help:      "Store write batches, labeled by result.",
		}, []string{"result"}),
		PersistDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "persist_batch_duration_seconds",
			Help:      "Duration of one store write batch.",
			Buckets:   prometheus.DefBuckets,
		}),
		PersistBatchSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "persist_batch_size",
			Help:      "Most recent adaptive batch size.",
		}),
		PersistedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persisted_rows_total",
			Help:      "Rows affected by store writes.",
		}),
		PersistedUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persisted_updates_total",
			Help:      "Written records that refreshed an existing item.",
		}),
		RunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
		RunLastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_last_success_timestamp_seconds",
			Help:      "Unix time of the last run that completed.",
		}),
	}

	r.reg.MustRegister(
		r.SourceFetches,
		r.SourceRecords,
		r.NormalizeRecords,
		r.EnrichItems,
		r.EnrichErrors,
		r.EnrichCostUSD,
		r.PersistBatches,
		r.PersistDuration,
		r.PersistBatchSize,
		r.PersistedRows,
		r.PersistedUpdates,
		r.RunDuration,
		r.RunLastSuccess,
	)
	return r
}

// Registry exposes the underlying registry for gathering.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.reg
}

// ObserveBatch records one persistence write. It matches the persist
// Options.OnBatch hook.
func (r *Recorder) ObserveBatch(size int, took time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.PersistBatches.WithLabelValues(result).Inc()
	r.PersistDuration.Observe(took.Seconds())
	r.PersistBatchSize.Set(float64(size))
}

// ObserveSummary folds a finished run summary into the collectors.
func (r *Recorder) ObserveSummary(s *model.RunSummary, ok bool) {
	if s == nil {
		return
	}
	for _, o := range s.Sources {
		r.SourceFetches.WithLabelValues(o.SourceID, string(o.Status)).Inc()
		if o.Records > 0 {
			r.SourceRecords.WithLabelValues(o.SourceID).Add(float64(o.Records))
		}
	}

	r.NormalizeRecords.WithLabelValues("kept").Add(float64(s.Normalized))
	r.NormalizeRecords.WithLabelValues("invalid").Add(float64(s.Invalid))
	r.NormalizeRecords.WithLabelValues("duplicate").Add(float64(s.Duplicates))
	r.NormalizeRecords.WithLabelValues("update").Add(float64(s.Updates))

	r.EnrichItems.WithLabelValues(string(model.EnrichmentAI)).Add(float64(s.EnrichedAI))
	r.EnrichItems.WithLabelValues(string(model.EnrichmentFallback)).Add(float64(s.EnrichedFallback))
	r.EnrichErrors.Add(float64(len(s.EnrichErrors)))
	if s.CostUSD > 0 {
		r.EnrichCostUSD.Add(s.CostUSD)
	}

	if s.Persisted > 0 {
		r.PersistedRows.Add(float64(s.Persisted))
	}
	if s.PersistedUpdates > 0 {
		r.PersistedUpdates.Add(float64(s.PersistedUpdates))
	}
	r.RunDuration.Set(s.Duration.Seconds())
	if ok {
		r.RunLastSuccess.SetToCurrentTime()
	}
}

// Push sends every collector to the Pushgateway at url under job. An empty
// url disables the push.
func (r *Recorder) Push(ctx context.Context, url, job string) error {
	if url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(r.reg).PushContext(ctx); err != nil {
		return eris.Wrapf(err, "metrics: push to %s", url)
	}
	zap.L().Debug("metrics: pushed", zap.String("url", url), zap.String("job", job))
	return nil
}
