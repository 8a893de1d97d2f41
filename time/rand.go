// Package time adds small randomized-duration helpers on top of the
// standard time package. Orcha's Admission worker uses DurationRange
// directly for its anti-tight-spin backoff: when a round admits nothing
// and the ready queue's tail hasn't moved, it sleeps a random interval in
// [500ms, 5s) before looping again, rather than a fixed delay that would
// synchronize with other periodic work.
package time

import (
	rand "math/rand/v2"
	"time"
)

// DurationRange gets a random time interval between these two values: [low,high).
func DurationRange(low time.Duration, high time.Duration) time.Duration {
	delta := int64(high - low)
	mid := time.Duration(rand.Int64N(int64(delta)))

	return low + mid
}
