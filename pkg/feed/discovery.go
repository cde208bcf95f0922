package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-pkgz/lgr"
	"golang.org/x/net/html"
)

// feed content types looked for in <link> tags
var feedLinkTypes = []string{"rss+xml", "atom+xml", "feed+json"}

// well-known feed paths probed as a last resort
var wellKnownPaths = []string{
	"/feed",
	"/feed.xml",
	"/rss.xml",
	"/atom.xml",
	"/rss",
	"/index.xml",
	"/feed.json",
	"/blog/feed",
}

// ErrFeedNotFound is returned when discovery exhausts all strategies
type ErrFeedNotFound struct {
	URL string
}

func (e *ErrFeedNotFound) Error() string {
	return fmt.Sprintf("no feed found at %s", e.URL)
}

// Discoverer resolves an arbitrary page URL to a feed URL. It is a one-shot
// helper for the admin layer and shares nothing with the poll path.
type Discoverer struct {
	client    *http.Client
	userAgent string
	maxBody   int64
}

// NewDiscoverer creates a feed discoverer
func NewDiscoverer(timeout time.Duration, userAgent string, maxBody int64) *Discoverer {
	return &Discoverer{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		maxBody:   maxBody,
	}
}

// Discover finds the feed URL for a given URL. It tries direct parsing,
// HTML link-tag autodiscovery and well-known path probing, in that order.
func (d *Discoverer) Discover(ctx context.Context, pageURL string) (string, error) {
	// step 1: the URL may already be a feed
	contentType, body, err := d.get(ctx, pageURL)
	if err != nil {
		return "", &ErrFeedNotFound{URL: pageURL}
	}

	if _, err := ParseItems(body); err == nil {
		return pageURL, nil
	}

	// step 2: HTML autodiscovery via <link rel="alternate"> tags
	if looksLikeHTML(contentType, body) {
		for _, link := range findFeedLinks(body, pageURL) {
			if _, probeBody, err := d.get(ctx, link); err == nil {
				if _, err := ParseItems(probeBody); err == nil {
					lgr.Printf("[DEBUG] discovered feed via link tag: %s -> %s", pageURL, link)
					return link, nil
				}
			}
		}
	}

	// step 3: probe well-known paths on the site root
	parsed, err := url.Parse(pageURL)
	if err != nil || parsed.Host == "" {
		return "", &ErrFeedNotFound{URL: pageURL}
	}
	base := parsed.Scheme + "://" + parsed.Host

	for _, path := range wellKnownPaths {
		probeURL := base + path
		contentType, probeBody, err := d.get(ctx, probeURL)
		if err != nil || !contentTypeFeedish(contentType) {
			continue
		}
		if _, err := ParseItems(probeBody); err == nil {
			lgr.Printf("[DEBUG] discovered feed via well-known path: %s -> %s", pageURL, probeURL)
			return probeURL, nil
		}
	}

	return "", &ErrFeedNotFound{URL: pageURL}
}

// get fetches a URL returning its content type and size-capped body
func (d *Discoverer) get(ctx context.Context, rawURL string) (contentType string, body []byte, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return "", nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, rawURL)
	}

	body, err = io.ReadAll(io.LimitReader(resp.Body, d.maxBody))
	if err != nil {
		return "", nil, fmt.Errorf("read body: %w", err)
	}

	return resp.Header.Get("Content-Type"), body, nil
}

// findFeedLinks extracts feed URLs from <link rel="alternate"> tags,
// resolving relative hrefs against the page URL
func findFeedLinks(body []byte, pageURL string) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	var links []string
	tokenizer := html.NewTokenizer(strings.NewReader(string(body)))
	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}

		token := tokenizer.Token()
		if token.Data != "link" {
			continue
		}

		var rel, linkType, href string
		for _, attr := range token.Attr {
			switch strings.ToLower(attr.Key) {
			case "rel":
				rel = strings.ToLower(attr.Val)
			case "type":
				linkType = strings.ToLower(attr.Val)
			case "href":
				href = attr.Val
			}
		}

		if rel != "alternate" || href == "" {
			continue
		}

		for _, ft := range feedLinkTypes {
			if strings.Contains(linkType, ft) {
				if resolved, err := base.Parse(href); err == nil {
					links = append(links, resolved.String())
				}
				break
			}
		}
	}

	return links
}

// looksLikeHTML checks content type header or body prefix
func looksLikeHTML(contentType string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "html") {
		return true
	}
	prefix := strings.ToLower(strings.TrimSpace(string(body[:min(len(body), 100)])))
	return strings.HasPrefix(prefix, "<!doctype") || strings.HasPrefix(prefix, "<html")
}

// contentTypeFeedish checks whether a content type suggests feed content
func contentTypeFeedish(contentType string) bool {
	ct := strings.ToLower(contentType)
	for _, kw := range []string{"xml", "rss", "atom", "json"} {
		if strings.Contains(ct, kw) {
			return true
		}
	}
	return false
}
