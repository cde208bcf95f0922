package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/feedcourier/feedcourier/pkg/domain"
)

// FormatItem renders a feed item as a compact message:
//
//	**Source Name** · [Item Title](<url>) · 2h ago
//	> Summary text...
//
// URLs are wrapped in <> to suppress link previews in chat clients.
// When the item carries an image its URL replaces the summary.
func FormatItem(item domain.Item, sourceName string) string {
	parts := []string{fmt.Sprintf("**%s**", sourceName)}
	parts = append(parts, fmt.Sprintf("[%s](<%s>)", item.Title, item.Link))
	if date := relativeDate(item.Published, time.Now()); date != "" {
		parts = append(parts, date)
	}
	header := strings.Join(parts, " · ")

	if item.ImageURL != "" {
		return header + "\n" + item.ImageURL
	}

	if item.Summary != "" {
		lines := strings.Split(item.Summary, "\n")
		for i, line := range lines {
			lines[i] = "> " + line
		}
		return header + "\n" + strings.Join(lines, "\n")
	}

	return header
}

// FormatGone renders the one-time notice sent when a feed is removed after
// reporting itself permanently gone
func FormatGone(source *domain.Source) string {
	return fmt.Sprintf("Feed **%s** (`%s`) returned HTTP 410 Gone. Removing it automatically.",
		source.Name, source.URL)
}

// relativeDate formats a publish time relative to now ("5m ago", "3h ago"),
// switching to an absolute date beyond a week. Empty for zero times.
func relativeDate(published, now time.Time) string {
	if published.IsZero() {
		return ""
	}

	delta := now.Sub(published)
	switch {
	case delta < 0:
		return published.Format("2 Jan 2006")
	case delta < time.Minute:
		return "just now"
	case delta < time.Hour:
		return fmt.Sprintf("%dm ago", int(delta.Minutes()))
	case delta < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(delta.Hours()))
	case delta < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(delta.Hours()/24))
	}
	return published.Format("2 Jan 2006")
}
