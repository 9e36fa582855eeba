package match

import (
	"peerline/internal/registry"
)

// Wait heuristic constants. The estimate is advisory only, not a
// correctness guarantee.
const (
	// WaitCeilingSeconds is returned when no responder is available. A fixed
	// ceiling, not a derived value.
	WaitCeilingSeconds = 900

	// AverageSessionSeconds is the fixed average session duration the wait
	// heuristic multiplies by.
	AverageSessionSeconds = 600
)

// SelectorFunc picks a responder from the available pool. Returns false when
// the pool is empty or no candidate qualifies.
type SelectorFunc func(available []registry.Connection) (registry.Connection, bool)

// EstimatorFunc converts queue depth and responder availability into an
// advisory wait estimate in seconds.
type EstimatorFunc func(queueLen, availableResponders int) int

// EarliestJoined is the default selector: the responder with the earliest
// joined-at among available responders, for rotation fairness. Not random,
// not by load.
func EarliestJoined(available []registry.Connection) (registry.Connection, bool) {
	if len(available) == 0 {
		return registry.Connection{}, false
	}
	best := available[0]
	for _, c := range available[1:] {
		if c.JoinedAt.Before(best.JoinedAt) {
			best = c
		}
	}
	return best, true
}

// DefaultEstimate is the source heuristic: a fixed ceiling with no
// responders, otherwise floor(queueLen/available) times the average session
// duration.
func DefaultEstimate(queueLen, availableResponders int) int {
	if availableResponders == 0 {
		return WaitCeilingSeconds
	}
	return (queueLen / availableResponders) * AverageSessionSeconds
}
