package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) CacheHit(cache string) {}

func (n *NoopSink) CacheMiss(cache string) {}

func (n *NoopSink) CacheFetchCompleted(cache string, d time.Duration, err error) {}

func (n *NoopSink) SweepCompleted(d time.Duration, advanced, failed int, err error) {}

func (n *NoopSink) NotifyPublished(err error) {}
