package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case _, ok := <-ch:
		require.True(t, ok, "channel closed")
	case <-time.After(2 * time.Second):
		t.Fatal("no signal received")
	}
}

func assertQuiet(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
		t.Fatal("unexpected signal")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_FanOutAndCoalesce(t *testing.T) {
	b := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := b.Subscribe(ctx)
	require.NoError(t, err)
	c, err := b.Subscribe(ctx)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish(ctx))
	}

	receive(t, a)
	receive(t, c)
	assertQuiet(t, a)
}

func TestBus_UnsubscribeOnCancel(t *testing.T) {
	b := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := b.Subscribe(ctx)
	require.NoError(t, err)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	assert.NoError(t, b.Publish(context.Background()))
}

func TestBus_Close(t *testing.T) {
	b := NewBus()
	ch, err := b.Subscribe(context.Background())
	require.NoError(t, err)
	b.Close()

	_, ok := <-ch
	assert.False(t, ok)

	late, err := b.Subscribe(context.Background())
	require.NoError(t, err)
	_, ok = <-late
	assert.False(t, ok)
}
