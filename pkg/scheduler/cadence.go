package scheduler

import (
	"sort"
	"time"
)

// EstimateInterval computes a recommended poll interval from the publish
// timestamps observed in one fetch: half the average gap between consecutive
// timestamps, clamped to [minInterval, maxInterval]. Polling at half the
// inter-post gap bounds expected detection latency to roughly half a gap.
//
// Returns ok=false when fewer than two usable timestamps are present - the
// caller falls back to its current interval. Non-positive gaps (duplicate or
// out-of-order timestamps) are discarded, not averaged in as zero.
func EstimateInterval(timestamps []time.Time, minInterval, maxInterval time.Duration) (interval time.Duration, ok bool) {
	usable := make([]time.Time, 0, len(timestamps))
	for _, ts := range timestamps {
		if !ts.IsZero() {
			usable = append(usable, ts)
		}
	}
	if len(usable) < 2 {
		return 0, false
	}

	sort.Slice(usable, func(i, j int) bool { return usable[i].After(usable[j]) })

	var total time.Duration
	var count int
	for i := 0; i < len(usable)-1; i++ {
		gap := usable[i].Sub(usable[i+1])
		if gap <= 0 {
			continue
		}
		total += gap
		count++
	}
	if count == 0 {
		return 0, false
	}

	interval = total / time.Duration(count) / 2
	if interval < minInterval {
		interval = minInterval
	}
	if interval > maxInterval {
		interval = maxInterval
	}
	return interval, true
}
