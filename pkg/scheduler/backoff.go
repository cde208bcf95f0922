package scheduler

import "time"

// MaxBackoff caps retry delays for persistently failing sources
const MaxBackoff = 24 * time.Hour

// Backoff returns the retry delay for a source after consecutiveErrors
// failed polls: base * 2^consecutiveErrors, capped at MaxBackoff.
// The caller adds jitter before persisting the next poll time.
func Backoff(base time.Duration, consecutiveErrors int) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 0; i < consecutiveErrors; i++ {
		delay *= 2
		if delay >= MaxBackoff {
			return MaxBackoff
		}
	}
	if delay > MaxBackoff {
		return MaxBackoff
	}
	return delay
}
