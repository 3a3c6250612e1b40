package source

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/saas-radar/internal/fetcher"
	"github.com/sells-group/saas-radar/internal/model"
)

// feedEntry covers both RSS <item> and Atom <entry> elements.
type feedEntry struct {
	Title       string         `xml:"title"`
	Links       []feedLink     `xml:"link"`
	GUID        string         `xml:"guid"`
	Description string         `xml:"description"`
	Summary     string         `xml:"summary"`
	Content     string         `xml:"content"`
	Encoded     string         `xml:"encoded"`
	PubDate     string         `xml:"pubDate"`
	Published   string         `xml:"published"`
	Updated     string         `xml:"updated"`
	Categories  []feedCategory `xml:"category"`
}

type feedLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
	Text string `xml:",chardata"`
}

type feedCategory struct {
	Term string `xml:"term,attr"`
	Text string `xml:",chardata"`
}

var votesPattern = regexp.MustCompile(`(?i)(\d[\d,]*)\s*(?:votes?|upvotes?)`)

var feedTimeLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	time.RFC3339Nano,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// FeedAdapter reads an RSS or Atom feed.
type FeedAdapter struct {
	entry   Entry
	fetcher fetcher.Fetcher
}

// NewFeedAdapter creates a feed adapter.
func NewFeedAdapter(e Entry, f fetcher.Fetcher) *FeedAdapter {
	return &FeedAdapter{entry: e, fetcher: f}
}

func (a *FeedAdapter) ID() string { return a.entry.ID }

// Fetch returns up to limit entries in feed order.
func (a *FeedAdapter) Fetch(ctx context.Context, limit int) ([]model.RawRecord, error) {
	body, err := a.fetcher.Download(ctx, a.entry.URL)
	if err != nil {
		return nil, NewFetchError(a.entry.ID, err)
	}
	defer body.Close() //nolint:errcheck

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	entries, errCh := fetcher.StreamXML[feedEntry](streamCtx, body, "item", "entry")

	var out []model.RawRecord
	for fe := range entries {
		if len(out) >= limit {
			cancel()
			break
		}
		out = append(out, a.toRecord(fe))
	}
	for range entries {
	}
	if err := <-errCh; err != nil && len(out) < limit {
		return nil, &FetchError{SourceID: a.entry.ID, Cause: eris.Wrap(err, "source: parse feed"), Retryable: false}
	}
	return out, nil
}

func (a *FeedAdapter) toRecord(fe feedEntry) model.RawRecord {
	desc := firstNonEmpty(fe.Description, fe.Summary, fe.Content, fe.Encoded)
	rec := model.RawRecord{
		SourceID:       a.entry.ID,
		Title:          strings.TrimSpace(fe.Title),
		Description:    desc,
		ExternalLink:   feedLinkURL(fe),
		RawScore:       extractVotes(desc),
		PublishedAt:    parseFeedTime(firstNonEmpty(fe.PubDate, fe.Published, fe.Updated)),
		SourceCategory: a.entry.Category,
	}
	if len(fe.Categories) > 0 {
		rec.SourceCategory = strings.TrimSpace(firstNonEmpty(fe.Categories[0].Term, fe.Categories[0].Text))
	}
	return rec
}

func feedLinkURL(fe feedEntry) string {
	for _, l := range fe.Links {
		if l.Href != "" && (l.Rel == "" || l.Rel == "alternate") {
			return strings.TrimSpace(l.Href)
		}
		if t := strings.TrimSpace(l.Text); t != "" {
			return t
		}
	}
	if strings.HasPrefix(fe.GUID, "http") {
		return strings.TrimSpace(fe.GUID)
	}
	return ""
}

// extractVotes pulls "N votes" or "N upvotes" out of a feed description.
func extractVotes(s string) int {
	m := votesPattern.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
	if err != nil {
		return 0
	}
	return n
}

// parseFeedTime returns the zero time when s matches no known layout; the
// normalizer substitutes the fetch time.
func parseFeedTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range feedTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
