package feed

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseItems(t *testing.T) {
	raw := []byte(`<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Example Blog</title>
  <link>https://example.com</link>
  <description>desc</description>
  <item>
    <title>With GUID</title>
    <link>https://example.com/a</link>
    <guid>guid-a</guid>
    <pubDate>Mon, 03 Jun 2024 10:00:00 GMT</pubDate>
    <description>&lt;p&gt;Hello &amp;amp; welcome&lt;/p&gt;</description>
    <author>alice@example.com (Alice)</author>
  </item>
  <item>
    <title>Link Only</title>
    <link>https://example.com/b</link>
    <pubDate>Mon, 03 Jun 2024 11:00:00 GMT</pubDate>
  </item>
  <item>
    <title>Bare Item</title>
  </item>
</channel>
</rss>`)

	items, err := ParseItems(raw)
	require.NoError(t, err)
	require.Len(t, items, 3)

	t.Run("explicit guid", func(t *testing.T) {
		assert.Equal(t, "guid-a", items[0].GUID)
		assert.Equal(t, "With GUID", items[0].Title)
		assert.Equal(t, "Hello & welcome", items[0].Summary, "tags stripped, entities decoded")
		assert.Equal(t, time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC), items[0].Published.UTC())
	})

	t.Run("guid falls back to link", func(t *testing.T) {
		assert.Equal(t, "https://example.com/b", items[1].GUID)
	})

	t.Run("guid falls back to titles", func(t *testing.T) {
		assert.Equal(t, "Example Blog-Bare Item", items[2].GUID)
		assert.True(t, items[2].Published.IsZero())
	})
}

func TestParseItems_InvalidPayload(t *testing.T) {
	_, err := ParseItems([]byte("<html><body>not a feed</body></html>"))
	assert.Error(t, err)

	_, err = ParseItems([]byte(""))
	assert.Error(t, err)
}

func TestParseItems_Atom(t *testing.T) {
	raw := []byte(`<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom Feed</title>
  <link href="https://example.com/"/>
  <updated>2024-06-03T10:00:00Z</updated>
  <id>urn:uuid:feed</id>
  <entry>
    <title>Entry One</title>
    <link href="https://example.com/one"/>
    <id>urn:uuid:one</id>
    <updated>2024-06-03T10:00:00Z</updated>
  </entry>
</feed>`)

	items, err := ParseItems(raw)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "urn:uuid:one", items[0].GUID)
	assert.Equal(t, time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC), items[0].Published.UTC(),
		"updated stands in for a missing published date")
}

func TestParseItems_SummaryTruncation(t *testing.T) {
	long := strings.Repeat("word ", 100) // 500 chars
	raw := []byte(`<?xml version="1.0"?>
<rss version="2.0"><channel><title>t</title>
<item><title>long</title><link>https://example.com/l</link><description>` + long + `</description></item>
</channel></rss>`)

	items, err := ParseItems(raw)
	require.NoError(t, err)
	require.Len(t, items, 1)

	assert.True(t, strings.HasSuffix(items[0].Summary, "..."))
	assert.LessOrEqual(t, len([]rune(items[0].Summary)), maxSummaryLen+3)
	assert.NotContains(t, strings.TrimSuffix(items[0].Summary, "..."), "wor...", "cut lands on a word boundary")
}

func TestParseItems_ImageExtraction(t *testing.T) {
	raw := []byte(`<?xml version="1.0"?>
<rss version="2.0" xmlns:media="http://search.yahoo.com/mrss/"><channel><title>t</title>
<item>
  <title>enclosure</title><link>https://example.com/1</link>
  <enclosure url="https://example.com/pic.jpg" type="image/jpeg" length="1000"/>
</item>
<item>
  <title>media</title><link>https://example.com/2</link>
  <media:thumbnail url="https://example.com/thumb.png"/>
</item>
<item>
  <title>embedded</title><link>https://example.com/3</link>
  <description>&lt;p&gt;text &lt;img src="https://example.com/inline.gif"&gt;&lt;/p&gt;</description>
</item>
<item>
  <title>none</title><link>https://example.com/4</link>
  <description>plain text</description>
</item>
</channel></rss>`)

	items, err := ParseItems(raw)
	require.NoError(t, err)
	require.Len(t, items, 4)

	assert.Equal(t, "https://example.com/pic.jpg", items[0].ImageURL)
	assert.Equal(t, "https://example.com/thumb.png", items[1].ImageURL)
	assert.Equal(t, "https://example.com/inline.gif", items[2].ImageURL)
	assert.Empty(t, items[3].ImageURL)
}

func TestParseInfo(t *testing.T) {
	t.Run("rss with ttl", func(t *testing.T) {
		raw := []byte(`<?xml version="1.0"?>
<rss version="2.0"><channel>
  <title>Example Blog</title>
  <link>https://example.com</link>
  <description>a blog</description>
  <ttl>90</ttl>
</channel></rss>`)

		info, err := ParseInfo(raw)
		require.NoError(t, err)
		assert.Equal(t, "Example Blog", info.Title)
		assert.Equal(t, "https://example.com", info.Link)
		assert.Equal(t, 90, info.TTLMinutes)
	})

	t.Run("rss without ttl", func(t *testing.T) {
		raw := []byte(`<?xml version="1.0"?>
<rss version="2.0"><channel><title>t</title><link>https://example.com</link><description>d</description></channel></rss>`)

		info, err := ParseInfo(raw)
		require.NoError(t, err)
		assert.Zero(t, info.TTLMinutes)
	})

	t.Run("atom has no ttl", func(t *testing.T) {
		raw := []byte(`<?xml version="1.0"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom Feed</title>
  <id>urn:uuid:feed</id>
  <updated>2024-06-03T10:00:00Z</updated>
</feed>`)

		info, err := ParseInfo(raw)
		require.NoError(t, err)
		assert.Equal(t, "Atom Feed", info.Title)
		assert.Zero(t, info.TTLMinutes)
	})

	t.Run("garbage ttl ignored", func(t *testing.T) {
		raw := []byte(`<?xml version="1.0"?>
<rss version="2.0"><channel><title>t</title><link>https://example.com</link><description>d</description><ttl>soon</ttl></channel></rss>`)

		info, err := ParseInfo(raw)
		require.NoError(t, err)
		assert.Zero(t, info.TTLMinutes)
	})
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "exactly ten", truncate("exactly ten", 11))

	got := truncate("one two three four", 9)
	assert.Equal(t, "one two...", got)

	// no space to cut at, hard cut
	assert.Equal(t, "aaaaa...", truncate("aaaaaaaaaa", 5))
}
