package domain

import "time"

// Source represents one tracked feed with its scheduling and caching state
type Source struct {
	ID                int64
	URL               string
	Name              string
	WebhookURL        string // opaque delivery destination, not interpreted by the scheduler
	ETag              string
	LastModified      string
	PollInterval      int // seconds, clamped to [min, max] poll interval
	NextPollAt        *time.Time
	LastPollAt        *time.Time
	ConsecutiveErrors int
	LastError         string
	WarmupRemaining   int
	CreatedAt         time.Time
}

// ForwardedItem records that one item from one source has been delivered
type ForwardedItem struct {
	SourceID    int64
	GUID        string
	ForwardedAt time.Time
	MessageRef  string
}
