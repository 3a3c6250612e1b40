// Package normalize canonicalizes raw source records, fingerprints them and
// collapses duplicates within a run and against the store.
package normalize

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/saas-radar/internal/model"
)

// ValidationError drops a single malformed record.
type ValidationError struct {
	SourceID string
	Field    string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("normalize: %s record: %s %s", e.SourceID, e.Field, e.Reason)
}

// VoteLookup returns the stored votes of the fingerprints that already exist.
type VoteLookup interface {
	ExistingVotes(ctx context.Context, fingerprints []string) (map[string]int, error)
}

// Options are the canonicalization limits.
type Options struct {
	MaxTitleLen       int
	MaxDescriptionLen int
	MaxVotes          int
	Now               func() time.Time
}

// Result is the output of one normalization pass.
type Result struct {
	Records    []model.NormalizedRecord
	Invalid    []*ValidationError
	Duplicates int
	Updates    int
}

// Normalizer maps RawRecords to NormalizedRecords.
type Normalizer struct {
	opts Options
}

// New creates a Normalizer. Zero limits take the defaults 100, 500 and 10000.
func New(opts Options) *Normalizer {
	if opts.MaxTitleLen <= 0 {
		opts.MaxTitleLen = 100
	}
	if opts.MaxDescriptionLen <= 0 {
		opts.MaxDescriptionLen = 500
	}
	if opts.MaxVotes <= 0 {
		opts.MaxVotes = 10000
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Normalizer{opts: opts}
}

// Normalize canonicalizes one record.
func (n *Normalizer) Normalize(raw model.RawRecord) (model.NormalizedRecord, error) {
	title := CleanTitle(raw.Title)
	if title == "" {
		return model.NormalizedRecord{}, &ValidationError{SourceID: raw.SourceID, Field: "title", Reason: "is empty"}
	}
	link, err := CanonicalLink(raw.ExternalLink)
	if err != nil {
		return model.NormalizedRecord{}, &ValidationError{SourceID: raw.SourceID, Field: "external_link", Reason: err.Error()}
	}

	now := n.opts.Now().UTC()
	published := raw.PublishedAt
	if published.IsZero() || published.After(now) {
		published = now
	}

	votes := raw.RawScore
	if votes < 0 {
		votes = 0
	}
	if votes > n.opts.MaxVotes {
		votes = n.opts.MaxVotes
	}

	out := model.NormalizedRecord{
		RawRecord: model.RawRecord{
			SourceID:       raw.SourceID,
			Title:          Clamp(title, n.opts.MaxTitleLen),
			Description:    Clamp(StripHTML(raw.Description), n.opts.MaxDescriptionLen),
			ExternalLink:   link,
			RawScore:       raw.RawScore,
			PublishedAt:    published.UTC(),
			SourceCategory: Collapse(raw.SourceCategory),
		},
		Fingerprint: Fingerprint(title, link),
		Category:    model.ParseCategory(raw.SourceCategory),
		Votes:       votes,
	}
	return out, nil
}

// Process normalizes raws, drops invalid records, collapses duplicates and
// marks records whose fingerprint is already stored as updates with the
// larger of the two vote counts. lookup may be nil. A failed lookup is
// logged and every record is treated as new.
func (n *Normalizer) Process(ctx context.Context, raws []model.RawRecord, lookup VoteLookup) *Result {
	res := &Result{}
	normalized := make([]model.NormalizedRecord, 0, len(raws))
	for _, raw := range raws {
		rec, err := n.Normalize(raw)
		if err != nil {
			verr := err.(*ValidationError)
			res.Invalid = append(res.Invalid, verr)
			zap.L().Debug("normalize: dropping record",
				zap.String("source", raw.SourceID),
				zap.String("title", raw.Title),
				zap.Error(verr),
			)
			continue
		}
		normalized = append(normalized, rec)
	}

	res.Records = Dedup(normalized)
	res.Duplicates = len(normalized) - len(res.Records)

	if lookup != nil && len(res.Records) > 0 {
		fps := make([]string, len(res.Records))
		for i, r := range res.Records {
			fps[i] = r.Fingerprint
		}
		existing, err := lookup.ExistingVotes(ctx, fps)
		if err != nil {
			zap.L().Warn("normalize: existing votes lookup failed, treating all as new", zap.Error(err))
		}
		for i := range res.Records {
			stored, ok := existing[res.Records[i].Fingerprint]
			if !ok {
				continue
			}
			res.Records[i].Update = true
			res.Records[i].Votes = max(res.Records[i].Votes, stored)
			res.Updates++
		}
	}

	zap.L().Info("normalize: complete",
		zap.Int("input", len(raws)),
		zap.Int("invalid", len(res.Invalid)),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("updates", res.Updates),
		zap.Int("output", len(res.Records)),
	)
	return res
}

// Dedup keeps one record per fingerprint: the one with more votes, or on a
// tie the one published earlier. Survivors keep the position of the first
// record seen with their fingerprint.
func Dedup(recs []model.NormalizedRecord) []model.NormalizedRecord {
	index := make(map[string]int, len(recs))
	out := make([]model.NormalizedRecord, 0, len(recs))
	for _, r := range recs {
		i, seen := index[r.Fingerprint]
		if !seen {
			index[r.Fingerprint] = len(out)
			out = append(out, r)
			continue
		}
		if better(r, out[i]) {
			out[i] = r
		}
	}
	return out
}

func better(a, b model.NormalizedRecord) bool {
	if a.Votes != b.Votes {
		return a.Votes > b.Votes
	}
	return a.PublishedAt.Before(b.PublishedAt)
}
