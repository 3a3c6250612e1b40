package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/saas-radar/internal/model"
)

func TestObserveBatch(t *testing.T) {
	r := New()

	r.ObserveBatch(50, 120*time.Millisecond, nil)
	r.ObserveBatch(25, 3*time.Second, errors.New("timeout"))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.PersistBatches.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.PersistBatches.WithLabelValues("error")))
	assert.Equal(t, 25.0, testutil.ToFloat64(r.PersistBatchSize))
	assert.Equal(t, 1, testutil.CollectAndCount(r.PersistDuration))
}

func TestObserveSummary(t *testing.T) {
	r := New()

	r.ObserveSummary(&model.RunSummary{
		Sources: []model.SourceOutcome{
			{SourceID: "hn", Status: model.SourceOK, Records: 12},
			{SourceID: "reddit-saas", Status: model.SourceFailed},
		},
		Normalized:       10,
		Invalid:          1,
		Duplicates:       1,
		Updates:          3,
		EnrichedAI:       8,
		EnrichedFallback: 2,
		EnrichErrors:     []string{"enrich: batch 1 (2 items): timeout"},
		CostUSD:          0.0042,
		Persisted:        10,
		PersistedUpdates: 3,
		Duration:         90 * time.Second,
	}, true)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.SourceFetches.WithLabelValues("hn", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.SourceFetches.WithLabelValues("reddit-saas", "failed")))
	assert.Equal(t, 12.0, testutil.ToFloat64(r.SourceRecords.WithLabelValues("hn")))
	assert.Equal(t, 10.0, testutil.ToFloat64(r.NormalizeRecords.WithLabelValues("kept")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.NormalizeRecords.WithLabelValues("update")))
	assert.Equal(t, 8.0, testutil.ToFloat64(r.EnrichItems.WithLabelValues("AI")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.EnrichItems.WithLabelValues("Fallback")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.EnrichErrors))
	assert.InDelta(t, 0.0042, testutil.ToFloat64(r.EnrichCostUSD), 1e-9)
	assert.Equal(t, 10.0, testutil.ToFloat64(r.PersistedRows))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.PersistedUpdates))
	assert.Equal(t, 90.0, testutil.ToFloat64(r.RunDuration))
	assert.Greater(t, testutil.ToFloat64(r.RunLastSuccess), 0.0)
}

func TestObserveSummary_FailedRunKeepsLastSuccess(t *testing.T) {
	r := New()
	r.ObserveSummary(&model.RunSummary{}, false)
	assert.Equal(t, 0.0, testutil.ToFloat64(r.RunLastSuccess))

	r.ObserveSummary(nil, true)
	assert.Equal(t, 0.0, testutil.ToFloat64(r.RunLastSuccess))
}

func TestPush(t *testing.T) {
	var gotMethod, gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotMethod = req.Method
		gotPath = req.URL.Path
		body, _ := io.ReadAll(req.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := New()
	r.ObserveBatch(10, time.Second, nil)

	require.NoError(t, r.Push(context.Background(), srv.URL, "saas_radar"))
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/metrics/job/saas_radar", gotPath)
	assert.NotEmpty(t, gotBody)
}

func TestPush_Disabled(t *testing.T) {
	require.NoError(t, New().Push(context.Background(), "", "saas_radar"))
}

func TestPush_GatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := New().Push(context.Background(), srv.URL, "saas_radar")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrics: push")
}
