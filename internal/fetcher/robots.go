package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rotisserie/eris"
	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// RobotsChecker answers robots.txt questions for scraped directory pages.
// Parsed files are cached per host.
type RobotsChecker struct {
	client    *http.Client
	userAgent string
	cache     *gocache.Cache
}

// NewRobotsChecker creates a checker whose cached entries expire after ttl.
func NewRobotsChecker(client *http.Client, userAgent string, ttl time.Duration) *RobotsChecker {
	if client == nil {
		client = NewHTTPClient(10 * time.Second)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RobotsChecker{
		client:    client,
		userAgent: userAgent,
		cache:     gocache.New(ttl, ttl*2),
	}
}

// Allowed reports whether rawURL may be fetched. An unreachable robots.txt
// allows the fetch.
func (r *RobotsChecker) Allowed(ctx context.Context, rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, eris.Wrapf(err, "robots: parse %s", rawURL)
	}

	data, err := r.robotsFor(ctx, u)
	if err != nil {
		zap.L().Debug("robots: fetch failed, allowing", zap.String("host", u.Host), zap.Error(err))
		return true, nil
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return data.TestAgent(path, productToken(r.userAgent)), nil
}

func (r *RobotsChecker) robotsFor(ctx context.Context, u *url.URL) (*robotstxt.RobotsData, error) {
	key := u.Scheme + "://" + u.Host
	if v, ok := r.cache.Get(key); ok {
		return v.(*robotstxt.RobotsData), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, key+"/robots.txt", nil)
	if err != nil {
		return nil, eris.Wrap(err, "robots: create request")
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "robots: fetch")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512<<10))
	if err != nil {
		return nil, eris.Wrap(err, "robots: read")
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, eris.Wrap(err, "robots: parse")
	}
	r.cache.SetDefault(key, data)
	return data, nil
}

// productToken reduces "saas-radar/1.0 (+url)" to "saas-radar".
func productToken(ua string) string {
	fields := strings.Fields(ua)
	if len(fields) == 0 {
		return ua
	}
	return strings.SplitN(fields[0], "/", 2)[0]
}
