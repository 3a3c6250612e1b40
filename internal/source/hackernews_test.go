package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHackerNewsAdapter_Hits(t *testing.T) {
	var pages []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages = append(pages, r.URL.Query().Get("page"))
		assert.Equal(t, "Show HN", r.URL.Query().Get("query"))
		fmt.Fprint(w, `{"nbPages":1,"page":0,"hits":[
			{"objectID":"1","title":"Show HN: Clipboard sync app","url":"https://clip.example.com","points":88,"created_at_i":1700000000},
			{"objectID":"2","title":"Show HN: My AI meeting notes","url":"","story_text":"Built with an LLM","points":15,"created_at_i":1700000100},
			{"objectID":"3","title":"The history of typewriters","url":"https://typewriters.example.com","points":300},
			{"objectID":"4","title":"","url":"https://blank.example.com","points":3}
		]}`) //nolint:errcheck
	}))
	defer srv.Close()

	a := NewHackerNewsAdapter(Entry{ID: "hackernews", URL: srv.URL + "/", Query: "Show HN", Category: "Other"}, testFetcher())
	recs, err := a.Fetch(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, []string{"0"}, pages)

	assert.Equal(t, "https://clip.example.com", recs[0].ExternalLink)
	assert.Equal(t, 88, recs[0].RawScore)
	assert.Equal(t, int64(1700000000), recs[0].PublishedAt.Unix())

	assert.Equal(t, "https://news.ycombinator.com/item?id=2", recs[1].ExternalLink)
	assert.Equal(t, "Built with an LLM", recs[1].Description)
}

func TestHackerNewsAdapter_Pages(t *testing.T) {
	var pages []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		pages = append(pages, page)
		fmt.Fprintf(w, `{"nbPages":2,"page":%s,"hits":[{"objectID":"p%s","title":"Launch of tool %s","url":"https://t%s.example.com","points":1}]}`, page, page, page, page) //nolint:errcheck
	}))
	defer srv.Close()

	a := NewHackerNewsAdapter(Entry{ID: "hn", URL: srv.URL}, testFetcher())
	recs, err := a.Fetch(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
	assert.Equal(t, []string{"0", "1"}, pages)
}

func TestHackerNewsAdapter_Malformed(t *testing.T) {
	srv := serve(t, `{"hits": [`)
	a := NewHackerNewsAdapter(Entry{ID: "hn", URL: srv.URL}, testFetcher())

	_, err := a.Fetch(context.Background(), 10)
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
}
