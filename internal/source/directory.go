package source

import (
	"context"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/sells-group/saas-radar/internal/fetcher"
	"github.com/sells-group/saas-radar/internal/model"
)

// Selectors locate tool cards and their fields on a directory page. Field
// selectors are evaluated inside each item.
type Selectors struct {
	Item        string `yaml:"item"`
	Title       string `yaml:"title"`
	Link        string `yaml:"link"`
	Description string `yaml:"description"`
	Category    string `yaml:"category"`
	Votes       string `yaml:"votes"`
}

var digitsPattern = regexp.MustCompile(`\d[\d,]*`)

// DirectoryAdapter scrapes a listing page of newly added tools.
type DirectoryAdapter struct {
	entry   Entry
	fetcher fetcher.Fetcher
	robots  *fetcher.RobotsChecker
}

// NewDirectoryAdapter creates a directory scraper. robots may be nil.
func NewDirectoryAdapter(e Entry, f fetcher.Fetcher, robots *fetcher.RobotsChecker) *DirectoryAdapter {
	return &DirectoryAdapter{entry: e, fetcher: f, robots: robots}
}

func (a *DirectoryAdapter) ID() string { return a.entry.ID }

// Fetch returns up to limit tool cards in page order. A page disallowed by
// robots.txt is a permanent failure.
func (a *DirectoryAdapter) Fetch(ctx context.Context, limit int) ([]model.RawRecord, error) {
	if a.robots != nil {
		ok, err := a.robots.Allowed(ctx, a.entry.URL)
		if err != nil {
			return nil, &FetchError{SourceID: a.entry.ID, Cause: err}
		}
		if !ok {
			return nil, &FetchError{SourceID: a.entry.ID, Cause: eris.Errorf("source: %s disallowed by robots.txt", a.entry.URL)}
		}
	}

	body, err := a.fetcher.Download(ctx, a.entry.URL)
	if err != nil {
		return nil, NewFetchError(a.entry.ID, err)
	}
	defer body.Close() //nolint:errcheck

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, NewFetchError(a.entry.ID, eris.Wrap(err, "source: parse directory page"))
	}

	base, _ := url.Parse(a.entry.URL)
	sel := a.entry.Selectors

	var out []model.RawRecord
	doc.Find(sel.Item).EachWithBreak(func(_ int, card *goquery.Selection) bool {
		title := collapse(card.Find(sel.Title).First().Text())
		if title == "" {
			return true
		}
		rec := model.RawRecord{
			SourceID:       a.entry.ID,
			Title:          title,
			ExternalLink:   a.cardLink(card, base),
			SourceCategory: a.entry.Category,
		}
		if sel.Description != "" {
			rec.Description = collapse(card.Find(sel.Description).First().Text())
		}
		if sel.Category != "" {
			if c := collapse(card.Find(sel.Category).First().Text()); c != "" {
				rec.SourceCategory = c
			}
		}
		if sel.Votes != "" {
			rec.RawScore = parseCount(card.Find(sel.Votes).First().Text())
		}
		out = append(out, rec)
		return len(out) < limit
	})
	return out, nil
}

func (a *DirectoryAdapter) cardLink(card *goquery.Selection, base *url.URL) string {
	link := card
	if a.entry.Selectors.Link != "" {
		link = card.Find(a.entry.Selectors.Link).First()
	}
	href, ok := link.Attr("href")
	if !ok {
		return ""
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

func parseCount(s string) int {
	m := digitsPattern.FindString(s)
	if m == "" {
		return 0
	}
	n, _ := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
	return n
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
