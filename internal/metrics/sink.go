package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations must not block or
// propagate errors.
type Sink interface {
	// Cache metrics, labelled by cache name.
	CacheHit(cache string)
	CacheMiss(cache string)
	CacheFetchCompleted(cache string, duration time.Duration, err error)

	// Sweep metrics
	SweepCompleted(duration time.Duration, advanced, failed int, err error)

	// Notification metrics
	NotifyPublished(err error)
}

// Outcome label values for fetch and publish counters.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// Outcome maps an error onto an outcome label.
func Outcome(err error) string {
	if err != nil {
		return OutcomeFailed
	}
	return OutcomeSuccess
}
