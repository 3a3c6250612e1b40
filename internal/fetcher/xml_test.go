package fetcher

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEntry struct {
	Title string `xml:"title"`
	Link  struct {
		Href string `xml:"href,attr"`
		Text string `xml:",chardata"`
	} `xml:"link"`
}

func collect[T any](t *testing.T, ch <-chan T, errCh <-chan error) []T {
	t.Helper()
	var out []T
	for v := range ch {
		out = append(out, v)
	}
	for err := range errCh {
		require.NoError(t, err)
	}
	return out
}

func TestStreamXML_RSSItems(t *testing.T) {
	input := `<?xml version="1.0"?>
<rss version="2.0"><channel>
	<title>Launches</title>
	<item><title>Clipwise</title><link>https://clipwise.app</link></item>
	<item><title>Notely</title><link>https://notely.io</link></item>
</channel></rss>`

	ch, errCh := StreamXML[testEntry](context.Background(), strings.NewReader(input), "item", "entry")
	items := collect(t, ch, errCh)

	require.Len(t, items, 2)
	assert.Equal(t, "Clipwise", items[0].Title)
	assert.Equal(t, "https://clipwise.app", items[0].Link.Text)
	assert.Equal(t, "Notely", items[1].Title)
}

func TestStreamXML_AtomEntries(t *testing.T) {
	input := `<feed xmlns="http://www.w3.org/2005/Atom">
	<title>Feed title is not an entry</title>
	<entry><title>Voicely</title><link href="https://voicely.ai"/></entry>
</feed>`

	ch, errCh := StreamXML[testEntry](context.Background(), strings.NewReader(input), "item", "entry")
	items := collect(t, ch, errCh)

	require.Len(t, items, 1)
	assert.Equal(t, "Voicely", items[0].Title)
	assert.Equal(t, "https://voicely.ai", items[0].Link.Href)
}

func TestStreamXML_Charset(t *testing.T) {
	// "Café" encoded as ISO-8859-1.
	input := "<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?><rss><item><title>Caf\xe9 AI</title></item></rss>"

	ch, errCh := StreamXML[testEntry](context.Background(), strings.NewReader(input), "item")
	items := collect(t, ch, errCh)

	require.Len(t, items, 1)
	assert.Equal(t, "Café AI", items[0].Title)
}

func TestStreamXML_EmptyInput(t *testing.T) {
	ch, errCh := StreamXML[testEntry](context.Background(), strings.NewReader(""), "item")
	assert.Empty(t, collect(t, ch, errCh))
}

func TestStreamXML_NoMatchingElements(t *testing.T) {
	input := `<root><other>data</other></root>`
	ch, errCh := StreamXML[testEntry](context.Background(), strings.NewReader(input), "item")
	assert.Empty(t, collect(t, ch, errCh))
}

func TestStreamXML_MalformedReportsError(t *testing.T) {
	input := `<rss><item><title>ok</title></item><item><title>broken`
	ch, errCh := StreamXML[testEntry](context.Background(), strings.NewReader(input), "item")

	var n int
	for range ch {
		n++
	}
	var gotErr error
	for err := range errCh {
		gotErr = err
	}
	assert.Equal(t, 1, n)
	require.Error(t, gotErr)
}

func TestStreamXML_ContextCancellation(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("<rss>")
	for range 10000 {
		sb.WriteString("<item><title>launch</title></item>")
	}
	sb.WriteString("</rss>")

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	time.Sleep(5 * time.Millisecond)

	ch, errCh := StreamXML[testEntry](ctx, strings.NewReader(sb.String()), "item")
	for range ch {
	}

	var gotErr error
	for err := range errCh {
		gotErr = err
	}
	require.Error(t, gotErr)
	assert.Contains(t, gotErr.Error(), "context")
}
