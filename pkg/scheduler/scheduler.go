package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"

	"github.com/feedcourier/feedcourier/pkg/domain"
	"github.com/feedcourier/feedcourier/pkg/feed"
	"github.com/feedcourier/feedcourier/pkg/notify"
	"github.com/feedcourier/feedcourier/pkg/repository"
)

// rateLimitFloor is the minimum delay after a 429/403, regardless of the
// source's own interval
const rateLimitFloor = 4 * time.Hour

// SourceStore is the scheduler's view of persisted sources
type SourceStore interface {
	GetSource(ctx context.Context, id int64) (*domain.Source, error)
	GetDueSources(ctx context.Context, now time.Time) ([]*domain.Source, error)
	UpdateSourceURL(ctx context.Context, id int64, newURL string) error
	UpdateOnSuccess(ctx context.Context, id int64, state repository.PollSuccess) error
	UpdateOnFailure(ctx context.Context, id int64, errMsg string, nextPollAt time.Time) error
	DeleteSource(ctx context.Context, id int64) error
}

// ForwardedStore tracks delivered items
type ForwardedStore interface {
	Record(ctx context.Context, sourceID int64, guid, messageRef string) error
	SeenGUIDs(ctx context.Context, sourceID int64, guids []string) (map[string]bool, error)
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Fetcher performs one classified conditional fetch
type Fetcher interface {
	Fetch(ctx context.Context, r feed.Request) feed.Result
}

// Notifier delivers rendered messages to a destination
type Notifier interface {
	Send(ctx context.Context, webhookURL, text string) (msgRef string, err error)
}

// Config holds scheduler configuration. Intervals are in seconds to match
// what the store persists per source.
type Config struct {
	Tick            time.Duration
	DefaultInterval int
	MinInterval     int
	MaxInterval     int
	MaxItemsPerPoll int
	Retention       time.Duration
}

// Scheduler runs the perpetual poll loop: every tick it finds due sources,
// polls each concurrently and re-derives its next poll time from the fetch
// outcome. One instance owns all scheduling state transitions.
type Scheduler struct {
	sources   SourceStore
	forwarded ForwardedStore
	fetcher   Fetcher
	notifier  Notifier
	sink      *Sink

	tick            time.Duration
	defaultInterval int
	minInterval     int
	maxInterval     int
	maxItemsPerPoll int
	retention       time.Duration

	wg     sync.WaitGroup
	cancel context.CancelFunc

	lastPrune time.Time
}

// NewScheduler creates a scheduler with its dependencies injected
func NewScheduler(sources SourceStore, forwarded ForwardedStore, fetcher Fetcher, notifier Notifier, cfg Config) *Scheduler {
	if cfg.Tick == 0 {
		cfg.Tick = 30 * time.Second
	}
	if cfg.DefaultInterval == 0 {
		cfg.DefaultInterval = 900
	}
	if cfg.MinInterval == 0 {
		cfg.MinInterval = 300
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 43200
	}
	if cfg.MaxItemsPerPoll == 0 {
		cfg.MaxItemsPerPoll = 5
	}
	if cfg.Retention == 0 {
		cfg.Retention = 90 * 24 * time.Hour
	}

	return &Scheduler{
		sources:         sources,
		forwarded:       forwarded,
		fetcher:         fetcher,
		notifier:        notifier,
		sink:            NewSink(forwarded, notifier),
		tick:            cfg.Tick,
		defaultInterval: cfg.DefaultInterval,
		minInterval:     cfg.MinInterval,
		maxInterval:     cfg.MaxInterval,
		maxItemsPerPoll: cfg.MaxItemsPerPoll,
		retention:       cfg.Retention,
	}
}

// Start begins the poll loop
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run(ctx)

	lgr.Printf("[INFO] scheduler started, tick %v, default interval %ds", s.tick, s.defaultInterval)
}

// Stop halts scheduling of new work and waits for in-flight polls to finish
func (s *Scheduler) Stop() {
	lgr.Printf("[INFO] stopping scheduler...")
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	lgr.Printf("[INFO] scheduler stopped")
}

// run wakes on a fixed cadence independent of any source's interval
func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	// poll immediately on start
	s.pollDue(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollDue(ctx)
			s.maybePrune(ctx)
		}
	}
}

// pollDue fans out one processing unit per due source. Failures in one
// source never abort or delay the others; the only concurrency bound is the
// fetcher's per-host gate.
func (s *Scheduler) pollDue(ctx context.Context) {
	due, err := s.sources.GetDueSources(ctx, time.Now())
	if err != nil {
		lgr.Printf("[ERROR] failed to get due sources: %v", err)
		return
	}
	if len(due) == 0 {
		return
	}

	lgr.Printf("[INFO] polling %d due sources", len(due))

	var wg sync.WaitGroup
	for _, src := range due {
		wg.Add(1)
		go func(src *domain.Source) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					lgr.Printf("[ERROR] panic polling source %d (%s): %v", src.ID, src.URL, r)
				}
			}()
			s.processSource(ctx, src)
		}(src)
	}
	wg.Wait()
}

// PollNow polls a single source immediately, outside the due-time schedule
func (s *Scheduler) PollNow(ctx context.Context, sourceID int64) error {
	src, err := s.sources.GetSource(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("get source: %w", err)
	}

	s.wg.Add(1)
	defer s.wg.Done()
	s.processSource(ctx, src)
	return nil
}

// processSource runs one full poll cycle for one source: fetch, classify,
// forward, persist the next poll time
func (s *Scheduler) processSource(ctx context.Context, src *domain.Source) {
	lgr.Printf("[DEBUG] polling source %d: %s", src.ID, src.URL)

	res := s.fetcher.Fetch(ctx, feed.Request{URL: src.URL, ETag: src.ETag, LastModified: src.LastModified})

	// a permanent redirect rewrites the URL, then the cycle continues with
	// a fresh fetch at the new location
	if res.Kind == feed.OutcomeMoved {
		lgr.Printf("[INFO] source %d moved: %s -> %s", src.ID, src.URL, res.NewURL)
		if err := s.sources.UpdateSourceURL(ctx, src.ID, res.NewURL); err != nil {
			lgr.Printf("[ERROR] failed to update source %d url: %v", src.ID, err)
			return
		}
		src.URL = res.NewURL
		res = s.fetcher.Fetch(ctx, feed.Request{URL: src.URL, ETag: src.ETag, LastModified: src.LastModified})
		if res.Kind == feed.OutcomeMoved {
			res = feed.Result{Kind: feed.OutcomeTransportError, Err: fmt.Errorf("redirect loop at %s", src.URL)}
		}
	}

	switch res.Kind {
	case feed.OutcomeSuccess:
		s.handleSuccess(ctx, src, res)
	case feed.OutcomeNotModified:
		s.handleNotModified(ctx, src)
	case feed.OutcomeGone:
		s.handleGone(ctx, src)
	case feed.OutcomeRateLimited:
		s.handleRateLimited(ctx, src, res.RetryAfter)
	default:
		s.handleFailure(ctx, src, res.Err)
	}
}

// handleSuccess forwards unseen items oldest-first (capped per cycle),
// re-estimates the poll cadence and persists fresh caching validators
func (s *Scheduler) handleSuccess(ctx context.Context, src *domain.Source, res feed.Result) {
	guids := make([]string, len(res.Items))
	for i, item := range res.Items {
		guids[i] = item.GUID
	}

	seen, err := s.forwarded.SeenGUIDs(ctx, src.ID, guids)
	if err != nil {
		lgr.Printf("[ERROR] failed to check forwarded items for source %d: %v", src.ID, err)
		return
	}

	newItems := make([]domain.Item, 0, len(res.Items))
	for _, item := range res.Items {
		if !seen[item.GUID] {
			newItems = append(newItems, item)
		}
	}

	// oldest first; anything beyond the cap stays unseen and is picked up
	// on the next due cycle
	sort.SliceStable(newItems, func(i, j int) bool { return newItems[i].Published.Before(newItems[j].Published) })
	if len(newItems) > s.maxItemsPerPoll {
		newItems = newItems[:s.maxItemsPerPoll]
	}

	for _, item := range newItems {
		s.sink.Forward(ctx, src, item)
	}

	interval := s.nextInterval(src, res)
	next := time.Now().Add(withJitter(time.Duration(interval) * time.Second))

	state := repository.PollSuccess{
		ETag:         res.ETag,
		LastModified: res.LastModified,
		PollInterval: interval,
		NextPollAt:   next,
	}
	if err := s.sources.UpdateOnSuccess(ctx, src.ID, state); err != nil {
		lgr.Printf("[ERROR] failed to update source %d after poll: %v", src.ID, err)
		return
	}

	if len(newItems) > 0 {
		lgr.Printf("[INFO] forwarded %d new items from source %d (%s), next interval %ds",
			len(newItems), src.ID, src.Name, interval)
	}
}

// nextInterval picks the poll interval after a successful fetch. Sources in
// warmup stick to the default until enough cycles accumulate signal; a
// feed-declared ttl floors the result.
func (s *Scheduler) nextInterval(src *domain.Source, res feed.Result) int {
	if src.WarmupRemaining > 0 {
		return s.defaultInterval
	}

	interval := src.PollInterval
	if interval == 0 {
		interval = s.defaultInterval
	}

	timestamps := make([]time.Time, 0, len(res.Items))
	for _, item := range res.Items {
		timestamps = append(timestamps, item.Published)
	}
	if est, ok := EstimateInterval(timestamps,
		time.Duration(s.minInterval)*time.Second, time.Duration(s.maxInterval)*time.Second); ok {
		interval = int(est / time.Second)
	}

	// a feed must not be polled more often than its declared ttl
	if res.Info != nil && res.Info.TTLMinutes > 0 {
		if ttl := res.Info.TTLMinutes * 60; interval < ttl {
			interval = ttl
		}
	}

	if interval < s.minInterval {
		interval = s.minInterval
	}
	if interval > s.maxInterval {
		interval = s.maxInterval
	}
	return interval
}

// handleNotModified keeps the current interval - cadence is not re-estimated
// without new items - and resets the error count
func (s *Scheduler) handleNotModified(ctx context.Context, src *domain.Source) {
	interval := src.PollInterval
	if interval == 0 {
		interval = s.defaultInterval
	}
	next := time.Now().Add(withJitter(time.Duration(interval) * time.Second))

	state := repository.PollSuccess{
		ETag:         src.ETag,
		LastModified: src.LastModified,
		PollInterval: interval,
		NextPollAt:   next,
	}
	if err := s.sources.UpdateOnSuccess(ctx, src.ID, state); err != nil {
		lgr.Printf("[ERROR] failed to update source %d after 304: %v", src.ID, err)
	}
}

// handleGone deletes the source (cascading its forwarded records) and sends
// a one-time notice through the routing handle
func (s *Scheduler) handleGone(ctx context.Context, src *domain.Source) {
	lgr.Printf("[WARN] source %d (%s) is gone, removing", src.ID, src.URL)

	if _, err := s.notifier.Send(ctx, src.WebhookURL, notify.FormatGone(src)); err != nil {
		lgr.Printf("[WARN] failed to notify about gone source %d: %v", src.ID, err)
	}

	if err := s.sources.DeleteSource(ctx, src.ID); err != nil {
		lgr.Printf("[ERROR] failed to delete gone source %d: %v", src.ID, err)
	}
}

// handleRateLimited schedules no sooner than the rate-limit floor, honoring
// a larger explicit retry hint
func (s *Scheduler) handleRateLimited(ctx context.Context, src *domain.Source, retryAfter time.Duration) {
	delay := rateLimitFloor
	if retryAfter > delay {
		delay = retryAfter
	}
	lgr.Printf("[WARN] source %d (%s) rate limited, backing off %v", src.ID, src.URL, delay)

	if err := s.sources.UpdateOnFailure(ctx, src.ID, "rate limited", time.Now().Add(delay)); err != nil {
		lgr.Printf("[ERROR] failed to update rate-limited source %d: %v", src.ID, err)
	}
}

// handleFailure applies exponential backoff for server and transport errors
func (s *Scheduler) handleFailure(ctx context.Context, src *domain.Source, fetchErr error) {
	errMsg := "fetch failed"
	if fetchErr != nil {
		errMsg = fetchErr.Error()
	}

	base := src.PollInterval
	if base == 0 {
		base = s.defaultInterval
	}
	delay := Backoff(time.Duration(base)*time.Second, src.ConsecutiveErrors+1)
	next := time.Now().Add(withJitter(delay))

	lgr.Printf("[WARN] source %d (%s) poll failed (%d consecutive): %v, retry in %v",
		src.ID, src.URL, src.ConsecutiveErrors+1, fetchErr, delay)

	if err := s.sources.UpdateOnFailure(ctx, src.ID, errMsg, next); err != nil {
		lgr.Printf("[ERROR] failed to update failed source %d: %v", src.ID, err)
	}
}

// maybePrune sweeps expired forwarded records once per day
func (s *Scheduler) maybePrune(ctx context.Context) {
	if time.Since(s.lastPrune) < 24*time.Hour {
		return
	}
	s.lastPrune = time.Now()

	count, err := s.forwarded.Prune(ctx, s.retention)
	if err != nil {
		lgr.Printf("[ERROR] failed to prune forwarded items: %v", err)
		return
	}
	if count > 0 {
		lgr.Printf("[INFO] pruned %d forwarded items older than %v", count, s.retention)
	}
}

// withJitter adds a uniform random 0-25% to a delay so sources sharing
// similar intervals don't synchronize
func withJitter(d time.Duration) time.Duration {
	return d + time.Duration(rand.Float64()*0.25*float64(d)) //nolint:gosec // scheduling jitter, not crypto
}
