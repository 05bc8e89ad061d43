package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/RTSDA/RTSDA-Android-sub001/internal/cache"
	"github.com/RTSDA/RTSDA-Android-sub001/internal/config"
	"github.com/RTSDA/RTSDA-Android-sub001/internal/ics"
	appLog "github.com/RTSDA/RTSDA-Android-sub001/internal/log"
	"github.com/RTSDA/RTSDA-Android-sub001/internal/media"
	"github.com/RTSDA/RTSDA-Android-sub001/internal/metrics"
	"github.com/RTSDA/RTSDA-Android-sub001/internal/notify"
	"github.com/RTSDA/RTSDA-Android-sub001/internal/recurrence"
	"github.com/RTSDA/RTSDA-Android-sub001/internal/store"
	"github.com/RTSDA/RTSDA-Android-sub001/internal/sweep"
)

// app holds the components shared by the subcommands.
type app struct {
	cfg      *config.Config
	sched    *recurrence.Scheduler
	store    *store.Store
	registry *prometheus.Registry
	sink     metrics.Sink
	notifier notify.Notifier
	media    *media.Service

	closers []func() error
}

// newApp opens the store and notifier. Media lookups are built only when a
// channel is configured.
func newApp(ctx context.Context, c *config.Config) (*app, error) {
	loc, err := c.Location()
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:   c,
		sched: recurrence.New(loc),
		sink:  metrics.NewNoopSink(),
	}

	if c.Metrics {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.sink = metrics.NewPrometheusSink(a.registry)
	}

	st, err := store.Open(c.Database)
	if err != nil {
		return nil, err
	}
	a.store = st
	a.closers = append(a.closers, st.Close)

	if c.NATS.URL != "" {
		n, err := notify.Connect(c.NATS.URL, c.NATS.Subject, a.sink)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.notifier = n
		a.closers = append(a.closers, n.Close)
	} else {
		bus := notify.NewBus()
		a.notifier = bus
		a.closers = append(a.closers, func() error { bus.Close(); return nil })
	}

	if c.YouTube.ChannelID != "" {
		yt, err := media.NewYouTube(ctx, media.YouTubeConfig{
			APIKey:            c.YouTube.APIKey,
			ChannelID:         c.YouTube.ChannelID,
			MinSermonDuration: c.YouTube.SermonMinDuration,
			SermonKeywords:    c.YouTube.SermonKeywords,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.media = media.NewService(yt, c.YouTube.CacheTTL, cache.WithMetrics("media", a.sink))
	} else {
		appLog.Info("youtube channel not configured; media lookups disabled")
	}

	return a, nil
}

func (a *app) sweeper() *sweep.Sweeper {
	return sweep.New(a.store, a.sched,
		sweep.WithNotifier(a.notifier),
		sweep.WithMetrics(a.sink),
	)
}

func (a *app) importer() *ics.Importer {
	client := &http.Client{Timeout: 30 * time.Second}
	return ics.NewImporter(ics.NewFetcher(a.cfg.ICSCacheDir, client), a.store, a.sched.Location(), a.notifier)
}

func (a *app) icsSources() []ics.Source {
	out := make([]ics.Source, 0, len(a.cfg.ICS))
	for _, s := range a.cfg.ICS {
		if s.URL == "" {
			continue
		}
		out = append(out, ics.Source{ID: s.SourceID(), Name: s.Name, URL: s.URL})
	}
	return out
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		appLog.Error("shutdown: close failed", err)
	}
}

func requireMedia(a *app) error {
	if a.media == nil {
		return fmt.Errorf("%w: set youtube.channel_id or RTSDA_YOUTUBE_CHANNEL_ID", media.ErrNoChannel)
	}
	return nil
}
