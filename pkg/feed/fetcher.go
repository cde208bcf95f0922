package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/feedcourier/feedcourier/pkg/domain"
)

// OutcomeKind classifies the result of a single fetch attempt
type OutcomeKind int

// Fetch outcomes, one per HTTP-level condition the scheduler reacts to
const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeNotModified
	OutcomeMoved
	OutcomeGone
	OutcomeRateLimited
	OutcomeServerError
	OutcomeTransportError
)

// String returns a short name for logging
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeNotModified:
		return "not-modified"
	case OutcomeMoved:
		return "moved"
	case OutcomeGone:
		return "gone"
	case OutcomeRateLimited:
		return "rate-limited"
	case OutcomeServerError:
		return "server-error"
	case OutcomeTransportError:
		return "transport-error"
	}
	return "unknown"
}

// Request describes one conditional fetch: the URL plus the caching
// validators from the previous successful fetch
type Request struct {
	URL          string
	ETag         string
	LastModified string
}

// Result is the classified outcome of one fetch attempt. Fields beyond Kind
// are populated per outcome: Items/Info/validators on success, NewURL on
// moved, RetryAfter on rate-limited, Err on the failure kinds.
type Result struct {
	Kind         OutcomeKind
	Items        []domain.Item
	Info         *domain.FeedInfo
	ETag         string
	LastModified string
	NewURL       string
	RetryAfter   time.Duration
	Err          error
}

// Fetcher performs single conditional GET attempts against feed URLs,
// bounding concurrency per origin host. It never retries and never touches
// the store - interpreting outcomes is the scheduler's job.
type Fetcher struct {
	client      *http.Client
	userAgent   string
	maxBodySize int64

	perHost int64
	gates   map[string]*semaphore.Weighted
	mu      sync.Mutex
}

// FetcherConfig holds fetcher construction parameters
type FetcherConfig struct {
	Timeout      time.Duration
	UserAgent    string
	MaxBodySize  int64
	PerHostLimit int64
}

// NewFetcher creates a feed fetcher. Permanent redirects are not followed so
// they can be classified as moved; temporary ones are followed transparently.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	client := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if req.Response != nil {
				switch req.Response.StatusCode {
				case http.StatusMovedPermanently, http.StatusPermanentRedirect:
					return http.ErrUseLastResponse
				}
			}
			if len(via) >= 10 {
				return errors.New("too many redirects")
			}
			return nil
		},
	}

	return &Fetcher{
		client:      client,
		userAgent:   cfg.UserAgent,
		maxBodySize: cfg.MaxBodySize,
		perHost:     cfg.PerHostLimit,
		gates:       make(map[string]*semaphore.Weighted),
	}
}

// Fetch performs one conditional GET and classifies the response.
// A third concurrent request to the same host queues behind the host gate.
func (f *Fetcher) Fetch(ctx context.Context, r Request) Result {
	gate := f.hostGate(r.URL)
	if err := gate.Acquire(ctx, 1); err != nil {
		return Result{Kind: OutcomeTransportError, Err: fmt.Errorf("acquire host gate: %w", err)}
	}
	defer gate.Release(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, http.NoBody)
	if err != nil {
		return Result{Kind: OutcomeTransportError, Err: fmt.Errorf("create request: %w", err)}
	}

	req.Header.Set("User-Agent", f.userAgent)
	// gzip acceptance and transparent decompression are handled by the
	// transport as long as Accept-Encoding is not set explicitly
	if r.ETag != "" {
		req.Header.Set("If-None-Match", r.ETag)
	}
	if r.LastModified != "" {
		req.Header.Set("If-Modified-Since", r.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Result{Kind: OutcomeTransportError, Err: fmt.Errorf("fetch %s: %w", r.URL, err)}
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return Result{Kind: OutcomeNotModified}

	case resp.StatusCode == http.StatusMovedPermanently || resp.StatusCode == http.StatusPermanentRedirect:
		loc, err := resp.Location()
		if err != nil {
			return Result{Kind: OutcomeTransportError, Err: fmt.Errorf("moved without location: %w", err)}
		}
		return Result{Kind: OutcomeMoved, NewURL: loc.String()}

	case resp.StatusCode == http.StatusGone:
		return Result{Kind: OutcomeGone}

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden:
		return Result{Kind: OutcomeRateLimited, RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}

	case resp.StatusCode >= 500:
		return Result{Kind: OutcomeServerError, Err: fmt.Errorf("server error %d from %s", resp.StatusCode, r.URL)}

	case resp.StatusCode != http.StatusOK:
		return Result{Kind: OutcomeTransportError, Err: fmt.Errorf("unexpected status %d from %s", resp.StatusCode, r.URL)}
	}

	// cap body size without buffering past the limit
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize+1))
	if err != nil {
		return Result{Kind: OutcomeTransportError, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(body)) > f.maxBodySize {
		return Result{Kind: OutcomeTransportError, Err: fmt.Errorf("response from %s exceeds %d bytes", r.URL, f.maxBodySize)}
	}

	items, err := ParseItems(body)
	if err != nil {
		// a 200 with garbage is indistinguishable from a temporarily broken feed
		return Result{Kind: OutcomeTransportError, Err: err}
	}

	info, err := ParseInfo(body)
	if err != nil {
		info = &domain.FeedInfo{}
	}

	return Result{
		Kind:         OutcomeSuccess,
		Items:        items,
		Info:         info,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}
}

// hostGate returns the concurrency gate for a URL's host, creating it on
// first use. Gates are kept forever - the number of distinct hosts is small.
func (f *Fetcher) hostGate(rawURL string) *semaphore.Weighted {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	gate, ok := f.gates[host]
	if !ok {
		gate = semaphore.NewWeighted(f.perHost)
		f.gates[host] = gate
	}
	return gate
}

// parseRetryAfter reads a Retry-After header given in seconds, 0 when absent
// or malformed
func parseRetryAfter(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
