package model

import (
	"strings"
	"time"
)

// Category is the fixed classification set for discovered tools.
type Category string

const (
	CategoryVideo        Category = "Video"
	CategoryText         Category = "Text"
	CategoryProductivity Category = "Productivity"
	CategoryMarketing    Category = "Marketing"
	CategoryEducation    Category = "Education"
	CategoryAudio        Category = "Audio"
	CategoryOther        Category = "Other"
)

// Categories lists every valid category in display order.
var Categories = []Category{
	CategoryVideo,
	CategoryText,
	CategoryProductivity,
	CategoryMarketing,
	CategoryEducation,
	CategoryAudio,
	CategoryOther,
}

// ParseCategory maps an arbitrary string onto the category set by
// case-insensitive exact match. Anything else becomes CategoryOther.
func ParseCategory(s string) Category {
	s = strings.TrimSpace(s)
	for _, c := range Categories {
		if strings.EqualFold(s, string(c)) {
			return c
		}
	}
	return CategoryOther
}

// Valid reports whether c is a member of the category set.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// TrendSignal is a coarse momentum classification.
type TrendSignal string

const (
	TrendRising    TrendSignal = "Rising"
	TrendStable    TrendSignal = "Stable"
	TrendDeclining TrendSignal = "Declining"
)

// ParseTrendSignal matches s case-insensitively against the trend set.
func ParseTrendSignal(s string) (TrendSignal, bool) {
	s = strings.TrimSpace(s)
	for _, t := range []TrendSignal{TrendRising, TrendStable, TrendDeclining} {
		if strings.EqualFold(s, string(t)) {
			return t, true
		}
	}
	return "", false
}

// EnrichmentSource records which path produced an item's enrichment.
type EnrichmentSource string

const (
	EnrichmentAI       EnrichmentSource = "AI"
	EnrichmentFallback EnrichmentSource = "Fallback"
)

// RawRecord is one item as returned by a source adapter.
type RawRecord struct {
	SourceID       string    `json:"source_id"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	ExternalLink   string    `json:"external_link"`
	RawScore       int       `json:"raw_score"`
	PublishedAt    time.Time `json:"published_at"`
	SourceCategory string    `json:"source_category,omitempty"`
}

// NormalizedRecord is a canonicalized RawRecord with its fingerprint.
type NormalizedRecord struct {
	RawRecord
	Fingerprint string   `json:"fingerprint"`
	Category    Category `json:"category"`
	Votes       int      `json:"votes"`
	// Update is set when the fingerprint already exists in the store.
	Update bool `json:"update,omitempty"`
}

// EnrichedRecord is a NormalizedRecord with classification and idea data.
type EnrichedRecord struct {
	NormalizedRecord
	TrendSignal      TrendSignal      `json:"trend_signal"`
	PainPoint        string           `json:"pain_point"`
	Ideas            []string         `json:"ideas"`
	EnrichmentSource EnrichmentSource `json:"enrichment_source"`
}

// StoredItem is the durable row for one fingerprint.
type StoredItem struct {
	ID               string           `json:"id"`
	Fingerprint      string           `json:"fingerprint"`
	Title            string           `json:"title"`
	Description      string           `json:"description"`
	Link             string           `json:"link"`
	SourceID         string           `json:"source_id"`
	Category         Category         `json:"category"`
	Votes            int              `json:"votes"`
	TrendSignal      TrendSignal      `json:"trend_signal"`
	PainPoint        string           `json:"pain_point"`
	Ideas            []string         `json:"ideas"`
	EnrichmentSource EnrichmentSource `json:"enrichment_source"`
	PublishedAt      time.Time        `json:"published_at"`
	FirstSeenAt      time.Time        `json:"first_seen_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}
