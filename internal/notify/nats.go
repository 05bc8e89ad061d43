package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	appLog "github.com/RTSDA/RTSDA-Android-sub001/internal/log"
	"github.com/RTSDA/RTSDA-Android-sub001/internal/metrics"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "rtsda.events.changed"

// Change is the message body published on the subject.
type Change struct {
	ChangedAt time.Time `json:"changed_at"`
}

// NATS is a Notifier over core NATS publish/subscribe, so that several
// processes (a sweep job and an API server) share change signals.
type NATS struct {
	nc      *nats.Conn
	subject string
	sink    metrics.Sink
	now     func() time.Time
}

// Connect dials url and returns a notifier that owns the connection.
func Connect(url, subject string, sink metrics.Sink) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name("rtsda"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				appLog.Warn("nats: disconnected", "error", err.Error())
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			appLog.Info("nats: reconnected", "url", c.ConnectedUrlRedacted())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return NewNATS(nc, subject, sink), nil
}

// NewNATS wraps an existing connection. An empty subject uses DefaultSubject
// and a nil sink records nothing.
func NewNATS(nc *nats.Conn, subject string, sink metrics.Sink) *NATS {
	if subject == "" {
		subject = DefaultSubject
	}
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	return &NATS{nc: nc, subject: subject, sink: sink, now: time.Now}
}

// Subject returns the subject signals are published on.
func (n *NATS) Subject() string { return n.subject }

// Publish sends a Change message and flushes it to the server.
func (n *NATS) Publish(ctx context.Context) error {
	data, err := json.Marshal(Change{ChangedAt: n.now().UTC()})
	if err != nil {
		return err
	}

	err = n.nc.Publish(n.subject, data)
	if err == nil {
		err = n.flush(ctx)
	}
	n.sink.NotifyPublished(err)
	if err != nil {
		appLog.Error("nats: failed to publish change", err, "subject", n.subject)
		return fmt.Errorf("publish change: %w", err)
	}
	appLog.Debug("nats: change published", "subject", n.subject)
	return nil
}

// Subscribe delivers a signal for every Change received on the subject.
// Malformed messages are logged and dropped.
func (n *NATS) Subscribe(ctx context.Context) (<-chan struct{}, error) {
	out := make(chan struct{}, 1)
	msgs := make(chan *nats.Msg, 64)

	sub, err := n.nc.ChanSubscribe(n.subject, msgs)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", n.subject, err)
	}
	if err := n.flush(ctx); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("subscribe %s: %w", n.subject, err)
	}

	go func() {
		defer close(out)
		defer func() {
			if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
				appLog.Warn("nats: unsubscribe failed", "subject", n.subject, "error", err.Error())
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-msgs:
				var c Change
				if err := json.Unmarshal(msg.Data, &c); err != nil {
					appLog.Warn("nats: dropping malformed change", "subject", n.subject, "error", err.Error())
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out, nil
}

// flushTimeout bounds a flush when ctx carries no deadline of its own.
const flushTimeout = 5 * time.Second

// flush waits for the server to acknowledge everything sent so far.
// FlushWithContext rejects contexts without a deadline.
func (n *NATS) flush(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flushTimeout)
		defer cancel()
	}
	return n.nc.FlushWithContext(ctx)
}

// Close drains the connection.
func (n *NATS) Close() error {
	return n.nc.Drain()
}
