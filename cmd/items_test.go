//go:build !integration

package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/saas-radar/internal/model"
)

func TestItemFilter(t *testing.T) {
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

	f, err := itemFilter("productivity", 5, 24*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, model.CategoryProductivity, f.Category)
	assert.Equal(t, 5, f.Limit)
	assert.Equal(t, now.Add(-24*time.Hour), f.Since)

	f, err = itemFilter("", 0, 0, now)
	require.NoError(t, err)
	assert.Empty(t, f.Category)
	assert.True(t, f.Since.IsZero())
}

func TestItemFilter_UnknownCategory(t *testing.T) {
	_, err := itemFilter("Gaming", 10, 0, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown category")
}

func TestFormatItems(t *testing.T) {
	items := []model.StoredItem{
		{
			Title:            "AI Resume Optimizer",
			SourceID:         "hn",
			Category:         model.CategoryProductivity,
			Votes:            120,
			TrendSignal:      model.TrendRising,
			Ideas:            []string{"Cover letter add-on"},
			EnrichmentSource: model.EnrichmentAI,
		},
		{
			Title:            "Podcast Clipper",
			SourceID:         "betalist",
			Category:         model.CategoryOther,
			Votes:            4,
			TrendSignal:      model.TrendStable,
			EnrichmentSource: model.EnrichmentFallback,
		},
	}

	var buf bytes.Buffer
	formatItems(&buf, items)

	out := buf.String()
	assert.Contains(t, out, "VOTES")
	assert.Contains(t, out, "AI Resume Optimizer")
	assert.Contains(t, out, "Rising")
	assert.Contains(t, out, "Cover letter add-on")
	assert.Contains(t, out, "Stable*")
}
