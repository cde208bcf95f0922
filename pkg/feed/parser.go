package feed

import (
	"bytes"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
	"github.com/mmcdole/gofeed/rss"

	"github.com/feedcourier/feedcourier/pkg/domain"
)

const maxSummaryLen = 300

var (
	stripPolicy = bluemonday.StrictPolicy()
	imgRe       = regexp.MustCompile(`(?i)<img[^>]+src=["']([^"']+)["']`)
)

// ParseItems parses a raw RSS/Atom payload into items. Returns an error when
// the payload is not valid feed content.
func ParseItems(raw []byte) ([]domain.Item, error) {
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	items := make([]domain.Item, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		parsedItem := domain.Item{
			Title:    item.Title,
			Link:     item.Link,
			Summary:  cleanSummary(item.Description),
			ImageURL: extractImage(item),
		}

		// set GUID, falling back to link for feeds without explicit identifiers
		switch {
		case item.GUID != "":
			parsedItem.GUID = item.GUID
		case item.Link != "":
			parsedItem.GUID = item.Link
		default:
			parsedItem.GUID = fmt.Sprintf("%s-%s", parsed.Title, item.Title)
		}

		// set author
		if item.Author != nil {
			parsedItem.Author = item.Author.Name
		}

		// set published time
		if item.PublishedParsed != nil {
			parsedItem.Published = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			parsedItem.Published = *item.UpdatedParsed
		}

		items = append(items, parsedItem)
	}

	return items, nil
}

// ParseInfo extracts feed-level metadata from a raw RSS/Atom payload
func ParseInfo(raw []byte) (*domain.FeedInfo, error) {
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	info := &domain.FeedInfo{
		Title:       parsed.Title,
		Link:        parsed.Link,
		Description: parsed.Description,
		TTLMinutes:  parseTTL(raw, parsed.FeedType),
	}

	if parsed.Image != nil {
		info.ImageURL = parsed.Image.URL
	}

	return info, nil
}

// parseTTL pulls the <ttl> element from RSS feeds. The universal gofeed
// model drops it, so RSS payloads get a second pass with the rss parser.
func parseTTL(raw []byte, feedType string) int {
	if !strings.Contains(strings.ToLower(feedType), "rss") {
		return 0
	}

	rssFeed, err := (&rss.Parser{}).Parse(bytes.NewReader(raw))
	if err != nil || rssFeed.TTL == "" {
		return 0
	}

	ttl, err := strconv.Atoi(strings.TrimSpace(rssFeed.TTL))
	if err != nil || ttl < 0 {
		return 0
	}
	return ttl
}

// cleanSummary strips HTML tags, decodes entities and truncates at a word
// boundary
func cleanSummary(s string) string {
	stripped := strings.TrimSpace(html.UnescapeString(stripPolicy.Sanitize(s)))
	return truncate(stripped, maxSummaryLen)
}

// truncate shortens text at a word boundary, appending "..." if cut
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}

	cut := string(runes[:maxLen])
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "..."
}

// extractImage finds an item image from enclosures or embedded <img> tags
func extractImage(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}

	for _, enc := range item.Enclosures {
		if enc == nil {
			continue
		}
		if strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
			return enc.URL
		}
	}

	// media extensions (media:content / media:thumbnail)
	if media, ok := item.Extensions["media"]; ok {
		for _, name := range []string{"content", "thumbnail"} {
			for _, ext := range media[name] {
				if url := ext.Attrs["url"]; url != "" {
					return url
				}
			}
		}
	}

	// fallback: first <img> in the raw description HTML
	for _, raw := range []string{item.Description, item.Content} {
		if m := imgRe.FindStringSubmatch(raw); m != nil {
			return m[1]
		}
	}

	return ""
}
