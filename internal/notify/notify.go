// Package notify carries "the event set changed" signals from writers (the
// sweep, the importer) to readers that keep a snapshot open.
package notify

import (
	"context"
	"sync"
)

// Notifier publishes and delivers change signals. Signals carry no payload:
// a subscriber reacts by reloading its snapshot.
type Notifier interface {
	Publish(ctx context.Context) error
	// Subscribe returns a channel that receives a value after every publish.
	// Signals may be coalesced. The channel is closed when ctx is done.
	Subscribe(ctx context.Context) (<-chan struct{}, error)
}

// Bus is an in-process Notifier. Each subscriber has a one-slot buffer, so a
// slow subscriber sees at most one pending signal no matter how many
// publishes it missed.
type Bus struct {
	mu     sync.Mutex
	subs   map[chan struct{}]struct{}
	closed bool
}

// NewBus returns an empty in-process bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[chan struct{}]struct{})}
}

// Publish signals every current subscriber without blocking.
func (b *Bus) Publish(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber until ctx is done.
func (b *Bus) Subscribe(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, nil
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}()
	return ch, nil
}

// Close closes every subscriber channel. Later subscriptions get a closed
// channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}
