package domain

import "time"

// Item represents a single entry parsed from a feed payload.
// Items are transient: they exist between parse and forward, only their
// GUIDs are persisted for dedup.
type Item struct {
	Title     string
	Link      string
	GUID      string
	Summary   string
	Author    string
	Published time.Time
	ImageURL  string
}

// FeedInfo holds feed-level metadata extracted from a payload
type FeedInfo struct {
	Title       string
	Link        string
	Description string
	TTLMinutes  int // feed-declared minimum poll interval, 0 when absent
	ImageURL    string
}
