package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

func newClockedMemory() (*MemoryCache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)}
	c := NewMemoryCache()
	c.now = clock.Now
	return c, clock
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c, clock := newClockedMemory()

	require.NoError(t, c.Set(ctx, "quote:SPY", point{"SPY", 500}, time.Minute))

	var got point
	require.NoError(t, c.Get(ctx, "quote:SPY", &got))
	assert.Equal(t, point{"SPY", 500}, got)

	clock.Advance(time.Minute)
	assert.ErrorIs(t, c.Get(ctx, "quote:SPY", &got), ErrMiss)
	assert.Equal(t, 0, c.Len(), "expired entry is removed on read")
}

func TestMemoryCacheZeroTTLNeverExpires(t *testing.T) {
	ctx := context.Background()
	c, clock := newClockedMemory()

	require.NoError(t, c.Set(ctx, "k", 1, 0))
	clock.Advance(24 * 365 * time.Hour)

	var v int
	require.NoError(t, c.Get(ctx, "k", &v))
	assert.Equal(t, 1, v)
}

func TestMemoryCacheSweepAndDelete(t *testing.T) {
	ctx := context.Background()
	c, clock := newClockedMemory()

	require.NoError(t, c.Set(ctx, "a", 1, time.Second))
	require.NoError(t, c.Set(ctx, "b", 2, time.Hour))
	require.NoError(t, c.Set(ctx, "c", 3, time.Hour))
	clock.Advance(2 * time.Second)

	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 2, c.Len())

	require.NoError(t, c.Delete(ctx, "b", "missing"))
	var v int
	assert.ErrorIs(t, c.Get(ctx, "b", &v), ErrMiss)
	require.NoError(t, c.Get(ctx, "c", &v))
}

func TestMemoryCacheReturnsCopies(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	src := []point{{"SPY", 1}}
	require.NoError(t, c.Set(ctx, "k", src, time.Minute))
	src[0].Price = 99

	var got []point
	require.NoError(t, c.Get(ctx, "k", &got))
	assert.Equal(t, 1.0, got[0].Price)
}

func TestMemoryCacheConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = c.Set(ctx, "k", i, time.Millisecond)
			var v int
			_ = c.Get(ctx, "k", &v)
			c.Sweep()
		}(i)
	}
	wg.Wait()
}

// mapCache is an in-memory L2 stand-in that can be told to fail.
type mapCache struct {
	mu   sync.Mutex
	data map[string]any
	err  error
	sets int
}

func newMapCache() *mapCache { return &mapCache{data: map[string]any{}} }

func (m *mapCache) Get(_ context.Context, key string, dest any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	v, ok := m.data[key]
	if !ok {
		return ErrMiss
	}
	tmp := NewMemoryCache()
	_ = tmp.Set(context.Background(), key, v, 0)
	return tmp.Get(context.Background(), key, dest)
}

func (m *mapCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sets++
	m.data[key] = value
	return nil
}

func (m *mapCache) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return m.err
}

func TestLayeredBackfillsL1(t *testing.T) {
	ctx := context.Background()
	l1, clock := newClockedMemory()
	l2 := newMapCache()
	l2.data["quote:SPY"] = point{"SPY", 501}
	c := NewLayered(l1, l2)

	var got point
	require.NoError(t, c.Get(ctx, "quote:SPY", &got))
	assert.Equal(t, 501.0, got.Price)
	assert.Equal(t, 1, l1.Len())

	// L1 copy outlives an L2 delete until the backfill TTL passes
	delete(l2.data, "quote:SPY")
	require.NoError(t, c.Get(ctx, "quote:SPY", &got))
	clock.Advance(DefaultBackfillTTL)
	assert.ErrorIs(t, c.Get(ctx, "quote:SPY", &got), ErrMiss)
}

func TestLayeredDegradesOnL2Failure(t *testing.T) {
	ctx := context.Background()
	l2 := newMapCache()
	l2.err = errors.New("connection refused")
	c := NewLayered(NewMemoryCache(), l2)

	require.NoError(t, c.Set(ctx, "k", 7, time.Minute), "L2 write errors are not fatal")

	var v int
	require.NoError(t, c.Get(ctx, "k", &v))
	assert.Equal(t, 7, v)

	require.NoError(t, c.Delete(ctx, "k"))
	assert.ErrorIs(t, c.Get(ctx, "k", &v), ErrMiss)
}

func TestLayeredWritesBothLevels(t *testing.T) {
	ctx := context.Background()
	l2 := newMapCache()
	c := NewLayered(NewMemoryCache(), l2)

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	assert.Equal(t, 1, l2.sets)
}

func TestLayeredWithoutL2(t *testing.T) {
	ctx := context.Background()
	c := NewLayered(NewMemoryCache(), nil)

	var v string
	assert.ErrorIs(t, c.Get(ctx, "k", &v), ErrMiss)
	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	require.NoError(t, c.Get(ctx, "k", &v))
	assert.Equal(t, "v", v)
}
