package source

import (
	"net/http"
	"net/url"
	"os"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/saas-radar/internal/fetcher"
)

// Kind selects the adapter implementation for a catalog entry.
type Kind string

const (
	KindFeed       Kind = "feed"
	KindReddit     Kind = "reddit"
	KindHackerNews Kind = "hackernews"
	KindDirectory  Kind = "directory"
)

// Entry configures one source.
type Entry struct {
	ID         string    `yaml:"id"`
	Kind       Kind      `yaml:"kind"`
	URL        string    `yaml:"url"`
	Enabled    *bool     `yaml:"enabled,omitempty"`
	Limit      int       `yaml:"limit,omitempty"`
	RatePerSec float64   `yaml:"rate_per_sec,omitempty"`
	Burst      int       `yaml:"burst,omitempty"`
	Category   string    `yaml:"category,omitempty"`
	Query      string    `yaml:"query,omitempty"`
	Subreddit  string    `yaml:"subreddit,omitempty"`
	Sort       string    `yaml:"sort,omitempty"`
	Keywords   []string  `yaml:"keywords,omitempty"`
	Selectors  Selectors `yaml:"selectors,omitempty"`
}

// IsEnabled reports the configured switch. Entries are enabled by default.
func (e Entry) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// Catalog is the list of configured sources.
type Catalog struct {
	Sources []Entry `yaml:"sources"`
}

// LoadCatalog reads a YAML catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: read catalog %s", path)
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, eris.Wrapf(err, "source: parse catalog %s", path)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects catalogs the coordinator cannot track: missing or
// duplicate ids. Per-entry problems surface later as permanent fetch errors.
func (c *Catalog) Validate() error {
	if len(c.Sources) == 0 {
		return eris.New("source: catalog has no sources")
	}
	seen := make(map[string]bool, len(c.Sources))
	for i, e := range c.Sources {
		if e.ID == "" {
			return eris.Errorf("source: catalog entry %d has no id", i)
		}
		if seen[e.ID] {
			return eris.Errorf("source: duplicate source id %q", e.ID)
		}
		seen[e.ID] = true
	}
	return nil
}

// Lookup returns the entry with the given id.
func (c *Catalog) Lookup(id string) (Entry, bool) {
	for _, e := range c.Sources {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// DefaultCatalog returns the built-in launch and discussion sources.
func DefaultCatalog() *Catalog {
	return &Catalog{Sources: []Entry{
		{ID: "producthunt", Kind: KindFeed, URL: "https://www.producthunt.com/feed", RatePerSec: 1, Burst: 1},
		{
			ID: "futurepedia", Kind: KindDirectory, URL: "https://www.futurepedia.io/new", RatePerSec: 0.5, Burst: 1,
			Selectors: Selectors{
				Item:        "div.tool-card, article",
				Title:       "h2, h3",
				Link:        "a[href]",
				Description: "p",
				Category:    ".tag, .category",
				Votes:       ".votes, .upvotes",
			},
		},
		{ID: "reddit-saas", Kind: KindReddit, URL: "https://www.reddit.com", Subreddit: "SaaS", Sort: "hot", RatePerSec: 0.5, Burst: 1},
		{ID: "reddit-sideproject", Kind: KindReddit, URL: "https://www.reddit.com", Subreddit: "SideProject", Sort: "hot", RatePerSec: 0.5, Burst: 1},
		{ID: "reddit-microsaas", Kind: KindReddit, URL: "https://www.reddit.com", Subreddit: "MicroSaaS", Sort: "hot", RatePerSec: 0.5, Burst: 1},
		{ID: "reddit-indiehackers", Kind: KindReddit, URL: "https://www.reddit.com", Subreddit: "IndieHackers", Sort: "hot", RatePerSec: 0.5, Burst: 1},
		{ID: "hackernews", Kind: KindHackerNews, URL: "https://hn.algolia.com/api/v1", Query: "Show HN", RatePerSec: 2, Burst: 2},
	}}
}

// Deps are the shared collaborators adapters are built with.
type Deps struct {
	Client    *http.Client
	UserAgent string
	Robots    *fetcher.RobotsChecker
}

// Build constructs the adapter for e. An entry that cannot be built yields an
// adapter whose fetches fail with a non-retryable FetchError.
func Build(e Entry, deps Deps) Adapter {
	if err := validateEntry(e); err != nil {
		return &misconfigured{id: e.ID, err: err}
	}

	ratePerSec := e.RatePerSec
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent: deps.UserAgent,
		Accept:    acceptFor(e.Kind),
		Limiter:   fetcher.NewAdaptiveLimiter(rate.Limit(ratePerSec), e.Burst),
		Client:    deps.Client,
	})

	switch e.Kind {
	case KindFeed:
		return NewFeedAdapter(e, f)
	case KindReddit:
		return NewRedditAdapter(e, f)
	case KindHackerNews:
		return NewHackerNewsAdapter(e, f)
	default:
		return NewDirectoryAdapter(e, f, deps.Robots)
	}
}

// BuildAll constructs adapters for every entry in catalog order.
func BuildAll(c *Catalog, deps Deps) []Adapter {
	out := make([]Adapter, 0, len(c.Sources))
	for _, e := range c.Sources {
		out = append(out, Build(e, deps))
	}
	return out
}

func validateEntry(e Entry) error {
	switch e.Kind {
	case KindFeed, KindReddit, KindHackerNews, KindDirectory:
	default:
		return eris.Errorf("source: unknown kind %q", e.Kind)
	}
	u, err := url.Parse(e.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return eris.Errorf("source: invalid url %q", e.URL)
	}
	if e.Kind == KindReddit && e.Subreddit == "" {
		return eris.New("source: reddit entry needs a subreddit")
	}
	if e.Kind == KindDirectory && (e.Selectors.Item == "" || e.Selectors.Title == "") {
		return eris.New("source: directory entry needs item and title selectors")
	}
	return nil
}

func acceptFor(k Kind) string {
	switch k {
	case KindFeed:
		return "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.5"
	case KindDirectory:
		return "text/html, application/xhtml+xml"
	default:
		return "application/json"
	}
}
