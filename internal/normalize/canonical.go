package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
)

// trackingParams are query keys removed from links before fingerprinting.
// Any key starting with "utm_" is removed as well.
var trackingParams = map[string]bool{
	"utm":     true,
	"ref":     true,
	"ref_src": true,
	"fbclid":  true,
	"gclid":   true,
	"mc_cid":  true,
	"mc_eid":  true,
	"igshid":  true,
}

var (
	leadingBullet = regexp.MustCompile(`^[\s\-\*•·–—>|]+`)
	leadingNumber = regexp.MustCompile(`^(?:#\d+|\(?\d{1,3}[.)])\s+`)
	leadingTag    = regexp.MustCompile(`^\[[^\]]{0,40}\]\s*`)
	hnPrefix      = regexp.MustCompile(`(?i)^(?:show|launch|ask|tell)\s+hn\s*[:\-–—]\s*`)
)

// Collapse trims s and replaces every whitespace run with a single space.
func Collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// StripHTML returns the text content of s with entities decoded and
// whitespace collapsed.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return Collapse(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return Collapse(s)
	}
	return Collapse(doc.Text())
}

// CleanTitle strips list bullets, numbering, bracketed tags and Hacker News
// "Show HN:" style prefixes from the front of a title.
func CleanTitle(s string) string {
	s = StripHTML(s)
	for {
		before := s
		s = leadingBullet.ReplaceAllString(s, "")
		s = leadingNumber.ReplaceAllString(s, "")
		s = leadingTag.ReplaceAllString(s, "")
		s = hnPrefix.ReplaceAllString(s, "")
		s = strings.TrimSpace(s)
		if s == before {
			return s
		}
	}
}

// Clamp truncates s to at most limit runes without splitting a rune.
func Clamp(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit]))
}

// CanonicalLink lowercases scheme and host, drops "www.", the fragment,
// tracking parameters and a trailing slash, and sorts the remaining query.
// A link without a scheme is assumed to be https.
func CanonicalLink(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", eris.New("normalize: empty link")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + strings.TrimPrefix(raw, "//")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", eris.Wrapf(err, "normalize: parse link %q", raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", eris.Errorf("normalize: unsupported scheme %q", u.Scheme)
	}
	u.Host = strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	if u.Host == "" {
		return "", eris.Errorf("normalize: link %q has no host", raw)
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil

	q := u.Query()
	for key := range q {
		lk := strings.ToLower(key)
		if trackingParams[lk] || strings.HasPrefix(lk, "utm_") {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()
	u.ForceQuery = false

	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String(), nil
}

// Fingerprint identifies an item by its case-folded cleaned title and its
// canonical link. Links that cannot be canonicalized are used trimmed and
// lowercased.
func Fingerprint(title, link string) string {
	key := cases.Fold().String(CleanTitle(title))
	canon, err := CanonicalLink(link)
	if err != nil {
		canon = strings.ToLower(strings.TrimSpace(link))
	}
	sum := sha256.Sum256([]byte(key + "\n" + canon))
	return hex.EncodeToString(sum[:])
}
