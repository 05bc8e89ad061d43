package watch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RTSDA/RTSDA-Android-sub001/internal/notify"
)

func next[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "snapshot channel closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot received")
	}
	var zero T
	return zero
}

func TestSubscribe_IsLazy(t *testing.T) {
	var calls atomic.Int32
	load := func(context.Context) (int32, error) { return calls.Add(1), nil }

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())

	ch, stop := Subscribe(context.Background(), load)
	defer stop()
	assert.Equal(t, int32(1), next(t, ch))
}

func TestSubscribe_ReloadsOnSignal(t *testing.T) {
	bus := notify.NewBus()
	var calls atomic.Int32
	load := func(context.Context) (int32, error) { return calls.Add(1), nil }

	ch, stop := Subscribe(context.Background(), load, WithNotifier(bus))
	defer stop()

	assert.Equal(t, int32(1), next(t, ch))
	require.NoError(t, bus.Publish(context.Background()))
	assert.Equal(t, int32(2), next(t, ch))
}

func TestSubscribe_Polls(t *testing.T) {
	var calls atomic.Int32
	load := func(context.Context) (int32, error) { return calls.Add(1), nil }

	ch, stop := Subscribe(context.Background(), load, WithInterval(10*time.Millisecond))
	defer stop()

	first := next(t, ch)
	second := next(t, ch)
	assert.Greater(t, second, first)
}

func TestSubscribe_RetriesFailedLoad(t *testing.T) {
	var calls atomic.Int32
	load := func(context.Context) (string, error) {
		if calls.Add(1) < 3 {
			return "", errors.New("database is locked")
		}
		return "ok", nil
	}

	ch, stop := Subscribe(context.Background(), load, WithBackoff(5*time.Millisecond, 20*time.Millisecond))
	defer stop()

	assert.Equal(t, "ok", next(t, ch))
	assert.Equal(t, int32(3), calls.Load())
}

func TestSubscribe_BackoffGrowsToLimit(t *testing.T) {
	var (
		mu    sync.Mutex
		times []time.Time
	)
	load := func(context.Context) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		times = append(times, time.Now())
		if len(times) < 5 {
			return "", errors.New("database is locked")
		}
		return "ok", nil
	}

	ch, stop := Subscribe(context.Background(), load, WithBackoff(10*time.Millisecond, 20*time.Millisecond))
	defer stop()
	assert.Equal(t, "ok", next(t, ch))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, times, 5)
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 20 * time.Millisecond, 20 * time.Millisecond}
	for i, w := range want {
		assert.GreaterOrEqual(t, times[i+1].Sub(times[i]), w, "retry %d", i+1)
	}
}

func TestSubscribe_StopClosesChannel(t *testing.T) {
	load := func(context.Context) (int, error) { return 1, nil }
	ch, stop := Subscribe(context.Background(), load)
	_ = next(t, ch)

	stop()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestSubscribe_ParentCancelClosesChannel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	load := func(context.Context) (int, error) { return 1, nil }
	ch, stop := Subscribe(ctx, load)
	defer stop()
	_ = next(t, ch)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}
