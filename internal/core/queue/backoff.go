package queue

import (
	"math"
	"math/rand"
	"time"
)

// backoff implements spec §4.6's formula:
//
//	backoff(attempts) = min(max_delay, base_delay * 2^(attempts-1))
//
// with jitter of ±20%, adapted from the teacher's
// internal/core/resilience.calculateNextDelay (which uses the same
// exponential-with-cap shape but a different jitter magnitude — the queue's
// jitter window is wider because reservations are cheap and the spec calls
// for ±20%, not the resilience package's ±10%).
func backoff(attempts int, p Policy) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	raw := float64(p.BaseDelay) * math.Pow(2, float64(attempts-1))
	capped := math.Min(raw, float64(p.MaxDelay))

	jitterFactor := 1 + (rand.Float64()*0.4 - 0.2) // in [0.8, 1.2]
	d := time.Duration(capped * jitterFactor)
	if d < 0 {
		d = 0
	}
	return d
}
