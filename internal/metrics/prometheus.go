package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	appLog "github.com/RTSDA/RTSDA-Android-sub001/internal/log"
)

// PrometheusSink implements Sink using the Prometheus client library.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Cache metrics
	cacheLookupsTotal  *prometheus.CounterVec
	cacheFetchesTotal  *prometheus.CounterVec
	cacheFetchDuration *prometheus.HistogramVec

	// Sweep metrics
	sweepsTotal          *prometheus.CounterVec
	sweepAdvancedTotal   prometheus.Counter
	sweepFailedTotal     prometheus.Counter
	sweepDuration        prometheus.Histogram
	sweepLastSuccessTime prometheus.Gauge

	// Notification metrics
	notificationsTotal *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink registered on reg.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initCacheMetrics(reg)
	s.initSweepMetrics(reg)
	s.initNotifyMetrics(reg)
	return s
}

func (s *PrometheusSink) initCacheMetrics(reg prometheus.Registerer) {
	s.cacheLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rtsda_cache_lookups_total",
		Help: "Total number of cache lookups by result (hit or miss).",
	}, []string{"cache", "result"})
	s.cacheFetchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rtsda_cache_fetches_total",
		Help: "Total number of upstream fetches performed by a cache.",
	}, []string{"cache", "outcome"})
	s.cacheFetchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rtsda_cache_fetch_duration_seconds",
		Help:    "Upstream fetch latency in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"cache"})

	s.register(reg, s.cacheLookupsTotal, "rtsda_cache_lookups_total")
	s.register(reg, s.cacheFetchesTotal, "rtsda_cache_fetches_total")
	s.register(reg, s.cacheFetchDuration, "rtsda_cache_fetch_duration_seconds")
}

func (s *PrometheusSink) initSweepMetrics(reg prometheus.Registerer) {
	s.sweepsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rtsda_sweep_runs_total",
		Help: "Total number of roll-forward sweeps by outcome.",
	}, []string{"outcome"})
	s.sweepAdvancedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rtsda_sweep_events_advanced_total",
		Help: "Total number of lapsed events rolled forward.",
	})
	s.sweepFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rtsda_sweep_events_failed_total",
		Help: "Total number of lapsed events that could not be rolled forward.",
	})
	s.sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rtsda_sweep_duration_seconds",
		Help:    "Duration of each sweep in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})
	s.sweepLastSuccessTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rtsda_sweep_last_success_timestamp_seconds",
		Help: "Unix time of the last sweep that completed without error.",
	})

	s.register(reg, s.sweepsTotal, "rtsda_sweep_runs_total")
	s.register(reg, s.sweepAdvancedTotal, "rtsda_sweep_events_advanced_total")
	s.register(reg, s.sweepFailedTotal, "rtsda_sweep_events_failed_total")
	s.register(reg, s.sweepDuration, "rtsda_sweep_duration_seconds")
	s.register(reg, s.sweepLastSuccessTime, "rtsda_sweep_last_success_timestamp_seconds")
}

func (s *PrometheusSink) initNotifyMetrics(reg prometheus.Registerer) {
	s.notificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rtsda_notifications_published_total",
		Help: "Total number of change notifications published by outcome.",
	}, []string{"outcome"})

	s.register(reg, s.notificationsTotal, "rtsda_notifications_published_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		appLog.Warn("metrics: failed to register collector", "name", name, "error", err.Error())
	}
}

// Cache metrics implementation

func (s *PrometheusSink) CacheHit(cache string) {
	s.cacheLookupsTotal.WithLabelValues(cache, "hit").Inc()
}

func (s *PrometheusSink) CacheMiss(cache string) {
	s.cacheLookupsTotal.WithLabelValues(cache, "miss").Inc()
}

func (s *PrometheusSink) CacheFetchCompleted(cache string, duration time.Duration, err error) {
	s.cacheFetchesTotal.WithLabelValues(cache, Outcome(err)).Inc()
	s.cacheFetchDuration.WithLabelValues(cache).Observe(duration.Seconds())
}

// Sweep metrics implementation

func (s *PrometheusSink) SweepCompleted(duration time.Duration, advanced, failed int, err error) {
	s.sweepsTotal.WithLabelValues(Outcome(err)).Inc()
	s.sweepAdvancedTotal.Add(float64(advanced))
	s.sweepFailedTotal.Add(float64(failed))
	s.sweepDuration.Observe(duration.Seconds())
	if err == nil {
		s.sweepLastSuccessTime.SetToCurrentTime()
	}
}

// Notification metrics implementation

func (s *PrometheusSink) NotifyPublished(err error) {
	s.notificationsTotal.WithLabelValues(Outcome(err)).Inc()
}
