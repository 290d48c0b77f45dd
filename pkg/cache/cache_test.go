package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestCache_GetWithinTTL(t *testing.T) {
	clock := newFakeClock()
	c := New(Config{Now: clock.Now}, nil)
	ctx := context.Background()

	require.NoError(t, Set(ctx, c, "file:abc", map[string]int{"nodes": 3}, time.Minute))

	clock.Advance(59 * time.Second)
	got, ok := Get[map[string]int](ctx, c, "file:abc")
	require.True(t, ok)
	assert.Equal(t, 3, got["nodes"])
}

func TestCache_ExpiredIsAbsent(t *testing.T) {
	clock := newFakeClock()
	c := New(Config{Now: clock.Now}, nil)
	ctx := context.Background()

	c.Set(ctx, "k", []byte(`"v"`), time.Minute)
	clock.Advance(time.Minute)

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry should be dropped on read")
	assert.EqualValues(t, 1, c.Stats().Expired)

	// silently replaced by the next set
	c.Set(ctx, "k", []byte(`"w"`), time.Minute)
	got, ok := Get[string](ctx, c, "k")
	require.True(t, ok)
	assert.Equal(t, "w", got)
}

func TestCache_ZeroTTLNeverExpires(t *testing.T) {
	clock := newFakeClock()
	c := New(Config{Now: clock.Now}, nil)

	c.Set(context.Background(), "k", []byte("1"), 0)
	clock.Advance(24 * time.Hour)
	_, ok := c.Get(context.Background(), "k")
	assert.True(t, ok)
}

func TestCache_BoundEvictsColdest(t *testing.T) {
	c := New(Config{MaxEntries: 2}, nil)
	ctx := context.Background()

	c.Set(ctx, "a", []byte("1"), time.Minute)
	c.Set(ctx, "b", []byte("2"), time.Minute)
	_, _ = c.Get(ctx, "a") // a is now warmer than b
	c.Set(ctx, "c", []byte("3"), time.Minute)

	_, okA := c.Get(ctx, "a")
	_, okB := c.Get(ctx, "b")
	_, okC := c.Get(ctx, "c")
	assert.True(t, okA)
	assert.False(t, okB)
	assert.True(t, okC)
	assert.Equal(t, 2, c.Len())
	assert.EqualValues(t, 1, c.Stats().Evictions)
}

func TestCache_ValuesAreCopies(t *testing.T) {
	c := New(Config{}, nil)
	ctx := context.Background()

	require.NoError(t, Set(ctx, c, "colors", []string{"red", "blue"}, time.Minute))
	first, ok := Get[[]string](ctx, c, "colors")
	require.True(t, ok)
	first[0] = "mutated"

	second, ok := Get[[]string](ctx, c, "colors")
	require.True(t, ok)
	assert.Equal(t, []string{"red", "blue"}, second)
}

func TestCache_SweepAndClear(t *testing.T) {
	clock := newFakeClock()
	c := New(Config{Now: clock.Now}, nil)
	ctx := context.Background()

	c.Set(ctx, "short", []byte("1"), time.Second)
	c.Set(ctx, "long", []byte("2"), time.Hour)
	clock.Advance(2 * time.Second)

	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())

	require.NoError(t, c.Clear(ctx))
	assert.Equal(t, 0, c.Len())
	_, ok := c.Get(ctx, "long")
	assert.False(t, ok)
}

func TestGetOrLoad_CollapsesConcurrentLoads(t *testing.T) {
	c := New(Config{}, nil)
	ctx := context.Background()

	var calls atomic.Int32
	release := make(chan struct{})
	load := func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "tokens", nil
	}

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := GetOrLoad(ctx, c, "tokens:abc", time.Minute, load)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	for _, v := range results {
		assert.Equal(t, "tokens", v)
	}
}

func TestGetOrLoad_CancelledCallerDoesNotFailOthers(t *testing.T) {
	c := New(Config{}, nil)

	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	load := func(ctx context.Context) (string, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		select {
		case <-release:
			return "doc", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	first, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := GetOrLoad(first, c, "file:abc", time.Minute, load)
		firstErr <- err
	}()
	<-started

	type result struct {
		v   string
		err error
	}
	second := make(chan result, 1)
	go func() {
		v, err := GetOrLoad(context.Background(), c, "file:abc", time.Minute, load)
		second <- result{v, err}
	}()

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(release)
	select {
	case r := <-second:
		require.NoError(t, r.err)
		assert.Equal(t, "doc", r.v)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller never returned")
	}
	assert.EqualValues(t, 1, calls.Load())

	got, ok := Get[string](context.Background(), c, "file:abc")
	require.True(t, ok)
	assert.Equal(t, "doc", got)
}

func TestGetOrLoad_FailuresNotCached(t *testing.T) {
	c := New(Config{}, nil)
	ctx := context.Background()

	var calls int
	failing := func(context.Context) (int, error) {
		calls++
		return 0, errors.New("upstream down")
	}

	_, err := GetOrLoad(ctx, c, "k", time.Minute, failing)
	require.Error(t, err)
	_, err = GetOrLoad(ctx, c, "k", time.Minute, failing)
	require.Error(t, err)
	assert.Equal(t, 2, calls)

	v, err := GetOrLoad(ctx, c, "k", time.Minute, func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestCache_RedisSecondLevel(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	writer := New(Config{Redis: client}, nil)
	require.NoError(t, Set(ctx, writer, "file:abc", "doc", time.Minute))

	assert.True(t, mr.Exists("designflow:file:abc"))
	assert.InDelta(t, time.Minute.Seconds(), mr.TTL("designflow:file:abc").Seconds(), 1)

	// A fresh process with an empty memory level reads through to Redis.
	reader := New(Config{Redis: client}, nil)
	got, ok := Get[string](ctx, reader, "file:abc")
	require.True(t, ok)
	assert.Equal(t, "doc", got)
	assert.EqualValues(t, 1, reader.Stats().L2Hits)
	assert.Equal(t, 1, reader.Len())

	mr.FastForward(2 * time.Minute)
	_, ok = Get[string](ctx, New(Config{Redis: client}, nil), "file:abc")
	assert.False(t, ok)
}

func TestCache_ClearRemovesRedisKeys(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	c := New(Config{Redis: client}, nil)
	for i := range 150 {
		c.Set(ctx, fmt.Sprintf("k%d", i), []byte("1"), time.Minute)
	}
	require.NoError(t, mr.Set("other:k", "kept"))

	require.NoError(t, c.Clear(ctx))
	assert.Equal(t, 0, c.Len())

	_, ok := c.Get(ctx, "k0")
	assert.False(t, ok, "cleared key must not come back from redis")
	assert.False(t, mr.Exists("designflow:k149"))
	assert.True(t, mr.Exists("other:k"))
	assert.Equal(t, []string{"other:k"}, mr.Keys())
}

func TestCache_RedisDownDegradesToMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	c := New(Config{Redis: client}, nil)
	ctx := context.Background()

	_, ok := c.Get(ctx, "missing")
	assert.False(t, ok)

	c.Set(ctx, "k", []byte(`"v"`), time.Minute)
	got, ok := Get[string](ctx, c, "k")
	require.True(t, ok, "memory level keeps working without Redis")
	assert.Equal(t, "v", got)
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), mr.Addr())
	require.NoError(t, err)
	require.NoError(t, client.Close())

	addr := mr.Addr()
	mr.Close()
	_, err = NewRedisClient(context.Background(), addr)
	assert.Error(t, err)
}
