package dispatch

import (
	"math/rand/v2"
	"time"
)

// BackoffFor returns the redelivery delay before the given attempt
// (1-based): full jitter over an exponential window growing from
// BackoffBase by BackoffMultiplier, capped at BackoffCap.
func (p Policy) BackoffFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	window := float64(p.BackoffBase)
	for i := 1; i < attempt; i++ {
		window *= p.BackoffMultiplier
		if window >= float64(p.BackoffCap) {
			window = float64(p.BackoffCap)
			break
		}
	}
	if window > float64(p.BackoffCap) {
		window = float64(p.BackoffCap)
	}
	if window <= 0 {
		return 0
	}
	return rand.N(time.Duration(window)) + time.Millisecond
}
