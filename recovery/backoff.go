package recovery

import (
	"math"
	"time"
)

// Backoff returns the delay before the recovery tx of a tx retried retryCount times can be submitted
func (c Config) Backoff(retryCount uint64) time.Duration {
	base := float64(c.BackoffBase.Duration)
	if base <= 0 {
		return 0
	}
	multiplier := c.BackoffMultiplier
	if multiplier < 1 {
		multiplier = 1
	}

	delay := base * math.Pow(multiplier, float64(retryCount))
	if limit := float64(c.BackoffMax.Duration); limit > 0 && (delay > limit || math.IsInf(delay, 1)) {
		return c.BackoffMax.Duration
	}
	if delay >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}
