package retry

import (
	"math"
	"time"
)

// Policy bounds retries of transient failures.
type Policy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:   30 * time.Second,
		MaxDelay:    30 * time.Minute,
		MaxAttempts: 5,
	}
}

// Backoff returns base * 2^attempts, capped at MaxDelay. Without a cap the
// delay saturates at the largest representable duration.
func (p Policy) Backoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	limit := p.MaxDelay
	if limit <= 0 {
		limit = time.Duration(math.MaxInt64)
	}
	delay := p.BaseDelay
	if delay >= limit {
		return limit
	}
	for i := 0; i < attempts && delay > 0; i++ {
		if delay > limit/2 {
			return limit
		}
		delay *= 2
	}
	return delay
}

// Exhausted reports whether a record with this many failed attempts is out of retries.
func (p Policy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}
