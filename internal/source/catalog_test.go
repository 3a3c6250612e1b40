package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadCatalog(t *testing.T) {
	path := writeCatalog(t, `
sources:
  - id: ph
    kind: feed
    url: https://www.producthunt.com/feed
    rate_per_sec: 2
  - id: reddit-saas
    kind: reddit
    url: https://www.reddit.com
    subreddit: SaaS
    enabled: false
    keywords: [saas, tool]
  - id: dir
    kind: directory
    url: https://tools.example.com/new
    selectors:
      item: div.card
      title: h2
`)
	c, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, c.Sources, 3)

	assert.True(t, c.Sources[0].IsEnabled())
	assert.Equal(t, 2.0, c.Sources[0].RatePerSec)
	assert.False(t, c.Sources[1].IsEnabled())
	assert.Equal(t, []string{"saas", "tool"}, c.Sources[1].Keywords)
	assert.Equal(t, "div.card", c.Sources[2].Selectors.Item)

	e, ok := c.Lookup("dir")
	require.True(t, ok)
	assert.Equal(t, KindDirectory, e.Kind)
	_, ok = c.Lookup("missing")
	assert.False(t, ok)
}

func TestLoadCatalog_Errors(t *testing.T) {
	_, err := LoadCatalog(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)

	_, err = LoadCatalog(writeCatalog(t, "sources: [oops"))
	assert.Error(t, err)

	_, err = LoadCatalog(writeCatalog(t, "sources: []"))
	assert.ErrorContains(t, err, "no sources")

	_, err = LoadCatalog(writeCatalog(t, `
sources:
  - id: a
    kind: feed
    url: https://a.example.com
  - id: a
    kind: feed
    url: https://b.example.com
`))
	assert.ErrorContains(t, err, "duplicate")

	_, err = LoadCatalog(writeCatalog(t, `
sources:
  - kind: feed
    url: https://a.example.com
`))
	assert.ErrorContains(t, err, "no id")
}

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog()
	require.NoError(t, c.Validate())
	for _, e := range c.Sources {
		assert.NoError(t, validateEntry(e), e.ID)
	}
}

func TestBuild(t *testing.T) {
	deps := Deps{UserAgent: "radar-test"}
	tests := []struct {
		entry Entry
		want  any
	}{
		{Entry{ID: "f", Kind: KindFeed, URL: "https://f.example.com"}, &FeedAdapter{}},
		{Entry{ID: "r", Kind: KindReddit, URL: "https://www.reddit.com", Subreddit: "SaaS"}, &RedditAdapter{}},
		{Entry{ID: "h", Kind: KindHackerNews, URL: "https://hn.algolia.com/api/v1"}, &HackerNewsAdapter{}},
		{Entry{ID: "d", Kind: KindDirectory, URL: "https://d.example.com", Selectors: Selectors{Item: "li", Title: "h2"}}, &DirectoryAdapter{}},
	}
	for _, tt := range tests {
		t.Run(tt.entry.ID, func(t *testing.T) {
			a := Build(tt.entry, deps)
			assert.IsType(t, tt.want, a)
			assert.Equal(t, tt.entry.ID, a.ID())
		})
	}
}

func TestBuild_Misconfigured(t *testing.T) {
	tests := []struct {
		name  string
		entry Entry
		msg   string
	}{
		{"unknown kind", Entry{ID: "x", Kind: "smoke-signal", URL: "https://x.example.com"}, "unknown kind"},
		{"bad url", Entry{ID: "x", Kind: KindFeed, URL: "ftp://x"}, "invalid url"},
		{"no subreddit", Entry{ID: "x", Kind: KindReddit, URL: "https://www.reddit.com"}, "subreddit"},
		{"no selectors", Entry{ID: "x", Kind: KindDirectory, URL: "https://d.example.com"}, "selectors"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Build(tt.entry, Deps{})
			assert.Equal(t, "x", a.ID())
			_, err := a.Fetch(context.Background(), 10)
			require.Error(t, err)
			assert.False(t, IsRetryable(err))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestBuildAll(t *testing.T) {
	adapters := BuildAll(DefaultCatalog(), Deps{})
	require.Len(t, adapters, len(DefaultCatalog().Sources))
	assert.Equal(t, "producthunt", adapters[0].ID())
}
