package persistence

import "time"

// Decision is the outcome of a mutation for the flush scheduler.
type Decision struct {
	// FlushNow requests an immediate flush.
	FlushNow bool
	// Delay is the trailing timer delay when FlushNow is false.
	Delay time.Duration
}

// Decide returns what to do when a mutation arrives at now.
// Flush immediately once maxWait has elapsed since the last flush, otherwise
// (re)arm the trailing timer for debounce, never past lastFlush+maxWait.
func Decide(now, lastFlush time.Time, debounce, maxWait time.Duration) Decision {
	elapsed := now.Sub(lastFlush)
	if elapsed >= maxWait {
		return Decision{FlushNow: true}
	}

	return Decision{Delay: min(debounce, maxWait-elapsed)}
}
