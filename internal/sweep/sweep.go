// Package sweep rolls lapsed recurring events forward on a schedule.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	appLog "github.com/RTSDA/RTSDA-Android-sub001/internal/log"
	"github.com/RTSDA/RTSDA-Android-sub001/internal/metrics"
	"github.com/RTSDA/RTSDA-Android-sub001/internal/model"
	"github.com/RTSDA/RTSDA-Android-sub001/internal/notify"
	"github.com/RTSDA/RTSDA-Android-sub001/internal/recurrence"
	"github.com/RTSDA/RTSDA-Android-sub001/internal/store"
)

// Store is the part of the event store a sweep needs.
type Store interface {
	Lapsed(ctx context.Context, asOf time.Time) ([]model.ScheduledEvent, error)
	Advance(ctx context.Context, oldID string, next *model.ScheduledEvent) error
}

// Result summarises one sweep.
type Result struct {
	Lapsed   int
	Advanced int
	// Skipped counts events another sweep advanced first.
	Skipped int
	Failed  int
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithNotifier publishes one change signal after a sweep that advanced
// anything.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Sweeper) { s.notifier = n }
}

// WithMetrics reports sweep outcomes to sink.
func WithMetrics(sink metrics.Sink) Option {
	return func(s *Sweeper) { s.sink = sink }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// Sweeper advances every lapsed recurring event to its first upcoming
// occurrence.
type Sweeper struct {
	store    Store
	sched    *recurrence.Scheduler
	notifier notify.Notifier
	sink     metrics.Sink
	now      func() time.Time

	// runMu keeps manual and scheduled runs from overlapping.
	runMu sync.Mutex

	cronMu sync.Mutex
	cron   *cron.Cron
}

// New returns a Sweeper over st using sched for the calendar arithmetic.
func New(st Store, sched *recurrence.Scheduler, opts ...Option) *Sweeper {
	s := &Sweeper{
		store: st,
		sched: sched,
		sink:  metrics.NewNoopSink(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunOnce performs a single sweep. Per-event failures are logged and counted
// in the result; the returned error is reserved for failures that stop the
// whole sweep.
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	start := time.Now()
	res, err := s.run(ctx)
	s.sink.SweepCompleted(time.Since(start), res.Advanced, res.Failed, err)

	if err != nil {
		appLog.Error("sweep failed", err, "advanced", res.Advanced)
		return res, err
	}
	appLog.Info("sweep completed",
		"lapsed", res.Lapsed,
		"advanced", res.Advanced,
		"skipped", res.Skipped,
		"failed", res.Failed,
		"duration", time.Since(start).String(),
	)
	return res, nil
}

func (s *Sweeper) run(ctx context.Context) (Result, error) {
	var res Result
	asOf := s.now()

	lapsed, err := s.store.Lapsed(ctx, asOf)
	if err != nil {
		return res, fmt.Errorf("list lapsed events: %w", err)
	}
	res.Lapsed = len(lapsed)

	for _, e := range lapsed {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		next, err := s.sched.RollForward(e, asOf)
		if err != nil {
			res.Failed++
			appLog.Error("sweep: roll forward failed", err, "id", e.ID, "rule", string(e.Recurrence))
			continue
		}
		next.ID = uuid.NewString()

		err = s.store.Advance(ctx, e.ID, &next)
		switch {
		case err == nil:
			res.Advanced++
			appLog.Debug("sweep: advanced event",
				"id", e.ID,
				"next_id", next.ID,
				"title", e.Title,
				"next_start", next.Start.Format(time.RFC3339),
			)
		case errors.Is(err, store.ErrConflict):
			res.Skipped++
			appLog.Debug("sweep: event already advanced", "id", e.ID)
		default:
			res.Failed++
			appLog.Error("sweep: advance failed", err, "id", e.ID)
		}
	}

	if res.Advanced > 0 && s.notifier != nil {
		if err := s.notifier.Publish(ctx); err != nil {
			appLog.Error("sweep: change notification failed", err)
		}
	}
	return res, nil
}

// Start runs RunOnce on spec, a standard five-field cron expression
// evaluated in the scheduler's pinned zone. A run that is still going when
// the next one is due is skipped.
func (s *Sweeper) Start(spec string) error {
	s.cronMu.Lock()
	defer s.cronMu.Unlock()
	if s.cron != nil {
		return errors.New("sweep: already started")
	}

	logger := &cronLogger{logger: appLog.Named("cron")}
	c := cron.New(
		cron.WithLocation(s.sched.Location()),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(spec, func() {
		_, _ = s.RunOnce(context.Background())
	}); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}

	c.Start()
	s.cron = c
	appLog.Info("sweep scheduled", "spec", spec, "timezone", s.sched.Location().String())
	return nil
}

// Stop stops the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.cronMu.Lock()
	c := s.cron
	s.cron = nil
	s.cronMu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
