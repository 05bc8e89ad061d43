package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSink(t *testing.T) (*PrometheusSink, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewPrometheusSink(reg), reg
}

func TestPrometheusSink_CacheLookups(t *testing.T) {
	sink, _ := newTestSink(t)

	sink.CacheHit("media")
	sink.CacheHit("media")
	sink.CacheMiss("media")
	sink.CacheMiss("events")

	assert.Equal(t, 2.0, testutil.ToFloat64(sink.cacheLookupsTotal.WithLabelValues("media", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.cacheLookupsTotal.WithLabelValues("media", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.cacheLookupsTotal.WithLabelValues("events", "miss")))
}

func TestPrometheusSink_CacheFetchOutcome(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.CacheFetchCompleted("media", 120*time.Millisecond, nil)
	sink.CacheFetchCompleted("media", 2*time.Second, errors.New("quota exceeded"))

	assert.Equal(t, 1.0, testutil.ToFloat64(sink.cacheFetchesTotal.WithLabelValues("media", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.cacheFetchesTotal.WithLabelValues("media", OutcomeFailed)))

	n, err := testutil.GatherAndCount(reg, "rtsda_cache_fetch_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPrometheusSink_Sweep(t *testing.T) {
	sink, _ := newTestSink(t)

	sink.SweepCompleted(50*time.Millisecond, 3, 1, nil)
	sink.SweepCompleted(10*time.Millisecond, 0, 0, errors.New("database is locked"))

	assert.Equal(t, 1.0, testutil.ToFloat64(sink.sweepsTotal.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.sweepsTotal.WithLabelValues(OutcomeFailed)))
	assert.Equal(t, 3.0, testutil.ToFloat64(sink.sweepAdvancedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.sweepFailedTotal))
	assert.Greater(t, testutil.ToFloat64(sink.sweepLastSuccessTime), 0.0)
}

func TestPrometheusSink_Notify(t *testing.T) {
	sink, _ := newTestSink(t)

	sink.NotifyPublished(nil)
	sink.NotifyPublished(errors.New("nats: connection closed"))

	assert.Equal(t, 1.0, testutil.ToFloat64(sink.notificationsTotal.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.notificationsTotal.WithLabelValues(OutcomeFailed)))
}

func TestPrometheusSink_DuplicateRegistrationDoesNotPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = NewPrometheusSink(reg)

	assert.NotPanics(t, func() {
		sink := NewPrometheusSink(reg)
		sink.CacheHit("media")
		sink.SweepCompleted(time.Millisecond, 1, 0, nil)
	})
}

func TestNoopSink(t *testing.T) {
	var s Sink = NewNoopSink()
	assert.NotPanics(t, func() {
		s.CacheHit("x")
		s.CacheMiss("x")
		s.CacheFetchCompleted("x", time.Second, errors.New("boom"))
		s.SweepCompleted(time.Second, 1, 1, nil)
		s.NotifyPublished(nil)
	})
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, OutcomeSuccess, Outcome(nil))
	assert.Equal(t, OutcomeFailed, Outcome(errors.New("x")))
}
