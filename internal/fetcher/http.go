package fetcher

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/saas-radar/internal/resilience"
)

// maxBodyBytes bounds how much of a response body is read.
const maxBodyBytes = 16 << 20

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration
	Accept    string
	// Limiter paces requests for one source. Nil means unlimited.
	Limiter *AdaptiveLimiter
	// Client is shared between sources when set.
	Client *http.Client
}

// AdaptiveLimiter wraps a rate.Limiter with adaptive rate adjustment.
// On success it increases the rate by 20% (up to 2x initial).
// On 429 it halves the rate (down to initial/4 minimum).
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive rate limiter that auto-tunes.
func NewAdaptiveLimiter(initialRate rate.Limit, burst int) *AdaptiveLimiter {
	if burst < 1 {
		burst = 1
	}
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initialRate, burst),
		maxRate:     initialRate * 2,
		minRate:     initialRate / 4,
		currentRate: initialRate,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess increases the rate by 20%, up to 2x initial.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	newRate := a.currentRate * 1.2
	if newRate > a.maxRate {
		newRate = a.maxRate
	}
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
}

// OnRateLimit halves the rate on 429 responses.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	newRate := a.currentRate * 0.5
	if newRate < a.minRate {
		newRate = a.minRate
	}
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
	zap.L().Warn("adaptive rate limit: reducing rate after 429",
		zap.Float64("new_rate", float64(newRate)),
	)
}

// Limit returns the current rate limit.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// HTTPFetcher implements Fetcher over net/http for a single source.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions
}

var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPClient returns the client shared by all source fetchers.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 10,
			MaxConnsPerHost:     20,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.UserAgent == "" {
		opts.UserAgent = "saas-radar/1.0"
	}
	client := opts.Client
	if client == nil {
		client = NewHTTPClient(opts.Timeout)
	}
	return &HTTPFetcher{client: client, opts: opts}
}

// Download fetches the URL and returns the response body. 408, 429 and 5xx
// responses and network timeouts come back as resilience.TransientError;
// other non-2xx statuses as a plain *StatusError.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	if f.opts.Accept != "" {
		req.Header.Set("Accept", f.opts.Accept)
	}

	if f.opts.Limiter != nil {
		if err := f.opts.Limiter.Wait(ctx); err != nil {
			// The limiter fails early when the wait would outlast the deadline.
			cause := ctx.Err()
			if cause == nil {
				cause = context.DeadlineExceeded
			}
			return nil, eris.Wrapf(cause, "fetcher: rate limiter wait: %v", err)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "fetcher: request cancelled")
		}
		return nil, resilience.NewTransientError(eris.Wrapf(err, "fetcher: get %s", rawURL), 0)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		statusErr := &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
		if resp.StatusCode == http.StatusTooManyRequests && f.opts.Limiter != nil {
			f.opts.Limiter.OnRateLimit()
		}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return nil, statusErr
	}

	if f.opts.Limiter != nil {
		f.opts.Limiter.OnSuccess()
	}
	return &limitedBody{Reader: io.LimitReader(resp.Body, maxBodyBytes), closer: resp.Body}, nil
}

// DownloadJSON fetches the URL and decodes the JSON body into v.
func (f *HTTPFetcher) DownloadJSON(ctx context.Context, rawURL string, v any) error {
	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return err
	}
	defer body.Close() //nolint:errcheck

	if err := json.NewDecoder(body).Decode(v); err != nil {
		return eris.Wrapf(err, "fetcher: decode json from %s", rawURL)
	}
	return nil
}

type limitedBody struct {
	io.Reader
	closer io.Closer
}

func (b *limitedBody) Close() error { return b.closer.Close() }
