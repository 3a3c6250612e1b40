// Package fetcher downloads source documents at a per-source request cadence.
package fetcher

import (
	"context"
	"fmt"
	"io"
)

// Fetcher defines the interface adapters use to download remote data.
// Implementations make a single attempt; retries belong to the caller.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadJSON fetches the URL and decodes the JSON body into v.
	DownloadJSON(ctx context.Context, url string, v any) error
}

// StatusError reports a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d from %s", e.StatusCode, e.URL)
}
