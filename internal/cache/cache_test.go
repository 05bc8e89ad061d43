package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingSink struct {
	hits, misses, fetches, failures atomic.Int32
}

func (s *recordingSink) CacheHit(string)  { s.hits.Add(1) }
func (s *recordingSink) CacheMiss(string) { s.misses.Add(1) }
func (s *recordingSink) CacheFetchCompleted(_ string, _ time.Duration, err error) {
	s.fetches.Add(1)
	if err != nil {
		s.failures.Add(1)
	}
}
func (s *recordingSink) SweepCompleted(time.Duration, int, int, error) {}
func (s *recordingSink) NotifyPublished(error)                         {}

func TestGet_FreshEntryIsReused(t *testing.T) {
	clock := newFakeClock()
	var calls atomic.Int32
	c := New(15*time.Minute, func(_ context.Context, key string) (string, error) {
		calls.Add(1)
		return "sermon-" + key, nil
	}, WithClock(clock.Now))

	v, err := c.Get(context.Background(), "latest")
	require.NoError(t, err)
	assert.Equal(t, "sermon-latest", v)

	clock.Advance(14*time.Minute + 59*time.Second)
	v, err = c.Get(context.Background(), "latest")
	require.NoError(t, err)
	assert.Equal(t, "sermon-latest", v)

	assert.Equal(t, int32(1), calls.Load())
}

func TestGet_ExpiresAtTTL(t *testing.T) {
	clock := newFakeClock()
	var calls atomic.Int32
	c := New(time.Minute, func(_ context.Context, _ int) (int32, error) {
		return calls.Add(1), nil
	}, WithClock(clock.Now))

	v, err := c.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int32(1), v)

	clock.Advance(time.Minute)
	v, err = c.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int32(2), v)

	e, ok := c.Peek(1)
	require.True(t, ok)
	assert.Equal(t, int32(2), e.Value)
	assert.Equal(t, clock.Now(), e.FetchedAt)
}

func TestGet_ConcurrentStaleCallersShareOneFetch(t *testing.T) {
	clock := newFakeClock()
	var calls atomic.Int32
	started := make(chan struct{}, 1)
	release := make(chan struct{})

	c := New(15*time.Minute, func(_ context.Context, _ string) (int32, error) {
		n := calls.Add(1)
		if n > 1 {
			started <- struct{}{}
			<-release
		}
		return n, nil
	}, WithClock(clock.Now))

	_, err := c.Get(context.Background(), "livestream")
	require.NoError(t, err)
	clock.Advance(16 * time.Minute)

	const callers = 10
	results := make([]int32, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Get(context.Background(), "livestream")
		}(i)
	}

	<-started
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(2), calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, int32(2), results[i])
	}
}

func TestGet_FailureIsReturnedAndNotCached(t *testing.T) {
	clock := newFakeClock()
	upstream := errors.New("youtube: quota exceeded")
	var calls atomic.Int32
	var fail atomic.Bool

	c := New(15*time.Minute, func(_ context.Context, _ string) (string, error) {
		calls.Add(1)
		if fail.Load() {
			return "", upstream
		}
		return "v1", nil
	}, WithClock(clock.Now))

	_, err := c.Get(context.Background(), "sermon")
	require.NoError(t, err)

	clock.Advance(20 * time.Minute)
	fail.Store(true)

	v, err := c.Get(context.Background(), "sermon")
	require.Error(t, err)
	assert.Empty(t, v)
	assert.ErrorIs(t, err, upstream)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "sermon", fe.Key)

	// The stale entry is untouched.
	e, ok := c.Peek("sermon")
	require.True(t, ok)
	assert.Equal(t, "v1", e.Value)
	assert.True(t, c.Stale(e))

	// Still inside the expired window: the next Get fetches again.
	_, err = c.Get(context.Background(), "sermon")
	assert.ErrorIs(t, err, upstream)
	assert.Equal(t, int32(3), calls.Load())

	fail.Store(false)
	v, err = c.Get(context.Background(), "sermon")
	require.NoError(t, err)
	assert.Equal(t, "v1", v)
	assert.Equal(t, int32(4), calls.Load())
}

func TestGet_MissWithFailureLeavesNoEntry(t *testing.T) {
	c := New(time.Minute, func(_ context.Context, _ string) (string, error) {
		return "", errors.New("dial tcp: connection refused")
	})

	_, err := c.Get(context.Background(), "k")
	require.Error(t, err)
	_, ok := c.Peek("k")
	assert.False(t, ok)
}

func TestGet_FreshReadDoesNotWaitForRefresh(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	c := New(time.Hour, func(_ context.Context, key string) (string, error) {
		if key == "slow" {
			close(started)
			<-release
		}
		return key, nil
	})
	defer close(release)

	_, err := c.Get(context.Background(), "fast")
	require.NoError(t, err)

	go func() { _, _ = c.Get(context.Background(), "slow") }()
	<-started

	done := make(chan string, 1)
	go func() {
		v, _ := c.Get(context.Background(), "fast")
		done <- v
	}()

	select {
	case v := <-done:
		assert.Equal(t, "fast", v)
	case <-time.After(time.Second):
		t.Fatal("fresh read blocked behind an in-flight refresh")
	}
}

func TestGet_WaiterHonoursContext(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	c := New(time.Hour, func(_ context.Context, key string) (string, error) {
		if key == "slow" {
			close(started)
			<-release
		}
		return key, nil
	})
	defer close(release)

	go func() { _, _ = c.Get(context.Background(), "slow") }()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Get(ctx, "other")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInvalidate(t *testing.T) {
	var calls atomic.Int32
	c := New(time.Hour, func(_ context.Context, _ string) (int32, error) {
		return calls.Add(1), nil
	})

	_, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	c.Invalidate("k")
	_, ok := c.Peek("k")
	assert.False(t, ok)

	v, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, int32(2), v)
}

func TestWithMetrics(t *testing.T) {
	clock := newFakeClock()
	sink := &recordingSink{}
	var fail atomic.Bool
	c := New(time.Minute, func(_ context.Context, _ string) (string, error) {
		if fail.Load() {
			return "", errors.New("boom")
		}
		return "ok", nil
	}, WithClock(clock.Now), WithMetrics("media", sink))

	_, _ = c.Get(context.Background(), "k")
	_, _ = c.Get(context.Background(), "k")
	clock.Advance(time.Minute)
	fail.Store(true)
	_, _ = c.Get(context.Background(), "k")

	assert.Equal(t, int32(1), sink.hits.Load())
	assert.Equal(t, int32(2), sink.misses.Load())
	assert.Equal(t, int32(2), sink.fetches.Load())
	assert.Equal(t, int32(1), sink.failures.Load())
}

func TestNewPanicsOnBadArguments(t *testing.T) {
	fetch := func(context.Context, string) (string, error) { return "", nil }
	assert.Panics(t, func() { New(0, fetch) })
	assert.Panics(t, func() { New[string, string](time.Minute, nil) })
}
