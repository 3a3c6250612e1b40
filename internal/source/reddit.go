package source

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sells-group/saas-radar/internal/fetcher"
	"github.com/sells-group/saas-radar/internal/model"
)

const (
	redditPageSize = 100
	redditMaxPages = 5
)

type redditListing struct {
	Data struct {
		After    string `json:"after"`
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	Title      string  `json:"title"`
	Selftext   string  `json:"selftext"`
	URL        string  `json:"url"`
	Permalink  string  `json:"permalink"`
	Score      int     `json:"score"`
	Ups        int     `json:"ups"`
	CreatedUTC float64 `json:"created_utc"`
	Flair      string  `json:"link_flair_text"`
	Stickied   bool    `json:"stickied"`
	Over18     bool    `json:"over_18"`
}

// RedditAdapter pages through a subreddit listing.
type RedditAdapter struct {
	entry   Entry
	fetcher fetcher.Fetcher
}

// NewRedditAdapter creates a reddit adapter.
func NewRedditAdapter(e Entry, f fetcher.Fetcher) *RedditAdapter {
	if e.Sort == "" {
		e.Sort = "hot"
	}
	return &RedditAdapter{entry: e, fetcher: f}
}

func (a *RedditAdapter) ID() string { return a.entry.ID }

// Fetch follows the listing's "after" cursor until limit posts are collected
// or the listing ends. Stickied, NSFW and off-topic posts are skipped.
func (a *RedditAdapter) Fetch(ctx context.Context, limit int) ([]model.RawRecord, error) {
	var out []model.RawRecord
	after := ""
	for page := 0; page < redditMaxPages && len(out) < limit; page++ {
		var listing redditListing
		if err := a.fetcher.DownloadJSON(ctx, a.pageURL(limit-len(out), after), &listing); err != nil {
			return nil, NewFetchError(a.entry.ID, err)
		}

		for _, child := range listing.Data.Children {
			p := child.Data
			if p.Stickied || p.Over18 || strings.TrimSpace(p.Title) == "" || !relevant(p.Title, p.Selftext, a.entry.Keywords) {
				continue
			}
			out = append(out, a.toRecord(p))
			if len(out) >= limit {
				break
			}
		}

		after = listing.Data.After
		if after == "" {
			break
		}
	}
	return out, nil
}

func (a *RedditAdapter) pageURL(want int, after string) string {
	if want > redditPageSize {
		want = redditPageSize
	}
	q := url.Values{}
	q.Set("limit", fmt.Sprint(want))
	q.Set("raw_json", "1")
	if after != "" {
		q.Set("after", after)
	}
	base := strings.TrimRight(a.entry.URL, "/")
	return fmt.Sprintf("%s/r/%s/%s.json?%s", base, url.PathEscape(a.entry.Subreddit), a.entry.Sort, q.Encode())
}

func (a *RedditAdapter) toRecord(p redditPost) model.RawRecord {
	link := p.URL
	if link == "" || strings.HasPrefix(link, "/r/") {
		link = "https://www.reddit.com" + p.Permalink
	}
	score := p.Score
	if p.Ups > score {
		score = p.Ups
	}
	cat := p.Flair
	if cat == "" {
		cat = a.entry.Category
	}
	return model.RawRecord{
		SourceID:       a.entry.ID,
		Title:          p.Title,
		Description:    p.Selftext,
		ExternalLink:   link,
		RawScore:       score,
		PublishedAt:    unixTime(int64(p.CreatedUTC)),
		SourceCategory: cat,
	}
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
