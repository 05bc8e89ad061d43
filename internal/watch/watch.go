// Package watch turns a load function into a stream of snapshots, the way a
// screen keeps a live query open: one snapshot on subscribe, another after
// every change signal or poll tick.
package watch

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	appLog "github.com/RTSDA/RTSDA-Android-sub001/internal/log"
	"github.com/RTSDA/RTSDA-Android-sub001/internal/notify"
)

// LoadFunc produces the current full snapshot.
type LoadFunc[T any] func(ctx context.Context) (T, error)

// Option configures a subscription.
type Option func(*options)

type options struct {
	name       string
	notifier   notify.Notifier
	interval   time.Duration
	minBackoff time.Duration
	maxBackoff time.Duration
}

// WithNotifier reloads after every signal from n.
func WithNotifier(n notify.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithInterval reloads every d in addition to change signals.
func WithInterval(d time.Duration) Option {
	return func(o *options) { o.interval = d }
}

// WithBackoff bounds the delay between retries of a failing load.
func WithBackoff(initial, limit time.Duration) Option {
	return func(o *options) {
		o.minBackoff = initial
		o.maxBackoff = limit
	}
}

// WithName labels log lines for this subscription.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// Subscribe starts loading snapshots and returns them on a channel together
// with a function that stops the subscription. Nothing is loaded before
// Subscribe is called. The channel holds at most one pending snapshot; a
// newer one replaces it. The channel is closed once ctx is done or stop is
// called.
func Subscribe[T any](ctx context.Context, load LoadFunc[T], opts ...Option) (<-chan T, func()) {
	o := options{
		name:       "watch",
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxBackoff < o.minBackoff {
		o.maxBackoff = o.minBackoff
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan T, 1)

	var signals <-chan struct{}
	if o.notifier != nil {
		ch, err := o.notifier.Subscribe(ctx)
		if err != nil {
			appLog.Error("watch: notifier subscribe failed; relying on polling", err, "name", o.name)
		} else {
			signals = ch
		}
	}

	go run(ctx, load, o, signals, out)
	return out, cancel
}

func run[T any](ctx context.Context, load LoadFunc[T], o options, signals <-chan struct{}, out chan T) {
	defer close(out)

	var tick <-chan time.Time
	if o.interval > 0 {
		t := time.NewTicker(o.interval)
		defer t.Stop()
		tick = t.C
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.minBackoff
	bo.MaxInterval = o.maxBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()
	var retry <-chan time.Time

	attempt := func() {
		v, err := load(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := bo.NextBackOff()
			appLog.Warn("watch: load failed; retrying", "name", o.name, "in", wait.String(), "error", err.Error())
			retry = time.After(wait)
			return
		}
		retry = nil
		bo.Reset()
		emit(ctx, out, v)
	}

	attempt()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			attempt()
		case <-tick:
			attempt()
		case <-retry:
			attempt()
		}
	}
}

// emit replaces any unread snapshot with v.
func emit[T any](ctx context.Context, out chan T, v T) {
	for {
		select {
		case out <- v:
			return
		case <-ctx.Done():
			return
		default:
		}
		select {
		case <-out:
		default:
		}
	}
}
