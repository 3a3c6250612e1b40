package source

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/sells-group/saas-radar/internal/fetcher"
	"github.com/sells-group/saas-radar/internal/model"
)

const (
	hnPageSize = 50
	hnMaxPages = 4
	hnItemURL  = "https://news.ycombinator.com/item?id="
)

type hnSearchResponse struct {
	Hits    []hnHit `json:"hits"`
	Page    int     `json:"page"`
	NbPages int     `json:"nbPages"`
}

type hnHit struct {
	ObjectID    string `json:"objectID"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	StoryText   string `json:"story_text"`
	Points      int    `json:"points"`
	CreatedAtI  int64  `json:"created_at_i"`
	NumComments int    `json:"num_comments"`
}

// HackerNewsAdapter queries the Hacker News search API for recent stories and
// keeps the ones that look like product launches.
type HackerNewsAdapter struct {
	entry   Entry
	fetcher fetcher.Fetcher
}

// NewHackerNewsAdapter creates a Hacker News search adapter.
func NewHackerNewsAdapter(e Entry, f fetcher.Fetcher) *HackerNewsAdapter {
	return &HackerNewsAdapter{entry: e, fetcher: f}
}

func (a *HackerNewsAdapter) ID() string { return a.entry.ID }

// Fetch pages through search results newest first.
func (a *HackerNewsAdapter) Fetch(ctx context.Context, limit int) ([]model.RawRecord, error) {
	var out []model.RawRecord
	for page := 0; page < hnMaxPages && len(out) < limit; page++ {
		var resp hnSearchResponse
		if err := a.fetcher.DownloadJSON(ctx, a.pageURL(page), &resp); err != nil {
			return nil, NewFetchError(a.entry.ID, err)
		}

		for _, h := range resp.Hits {
			if strings.TrimSpace(h.Title) == "" || !relevant(h.Title, h.StoryText+" "+h.URL, a.entry.Keywords) {
				continue
			}
			out = append(out, a.toRecord(h))
			if len(out) >= limit {
				break
			}
		}

		if page+1 >= resp.NbPages {
			break
		}
	}
	return out, nil
}

func (a *HackerNewsAdapter) pageURL(page int) string {
	q := url.Values{}
	q.Set("tags", "story")
	q.Set("hitsPerPage", fmt.Sprint(hnPageSize))
	q.Set("page", fmt.Sprint(page))
	if a.entry.Query != "" {
		q.Set("query", a.entry.Query)
	}
	return strings.TrimRight(a.entry.URL, "/") + "/search_by_date?" + q.Encode()
}

func (a *HackerNewsAdapter) toRecord(h hnHit) model.RawRecord {
	link := h.URL
	if link == "" {
		link = hnItemURL + h.ObjectID
	}
	return model.RawRecord{
		SourceID:       a.entry.ID,
		Title:          h.Title,
		Description:    h.StoryText,
		ExternalLink:   link,
		RawScore:       h.Points,
		PublishedAt:    unixTime(h.CreatedAtI),
		SourceCategory: a.entry.Category,
	}
}
