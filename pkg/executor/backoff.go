package executor

import (
	"math/rand"
	"time"
)

// RetryConfig shapes the bounded exponential backoff used for both trigger
// re-races and commit-conflict retries: 1s initial, 30s cap, ±25% jitter.
type RetryConfig struct {
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	Jitter            float64
}

// DefaultRetryConfig returns the executor's standard retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.25,
	}
}

// backoffDuration computes the delay before retry attempt n (0-indexed),
// with jitter applied as a uniform +/-Jitter fraction of the unjittered
// value.
func (c RetryConfig) backoffDuration(attempt int) time.Duration {
	d := float64(c.InitialBackoff)
	for i := 0; i < attempt; i++ {
		d *= c.BackoffMultiplier
		if d > float64(c.MaxBackoff) {
			d = float64(c.MaxBackoff)
			break
		}
	}
	if c.Jitter > 0 {
		delta := d * c.Jitter
		d = d - delta + rand.Float64()*2*delta
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
