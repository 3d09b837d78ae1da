package loginattempt

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestCache(cfg Config) (*Cache, *fakeClock) {
	clk := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewCache(cfg).WithClock(clk.Now), clk
}

func TestThresholdAndRemove(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(Config{})

	exceeded, err := c.HasExceeded(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, exceeded, "unknown principal counts as zero")

	for i := 0; i < DefaultMaxAttempts-1; i++ {
		require.NoError(t, c.RecordFailure(ctx, "alice"))
	}
	exceeded, _ = c.HasExceeded(ctx, "alice")
	assert.False(t, exceeded)

	require.NoError(t, c.RecordFailure(ctx, "alice"))
	exceeded, _ = c.HasExceeded(ctx, "alice")
	assert.True(t, exceeded)

	require.NoError(t, c.Remove(ctx, "alice"))
	exceeded, _ = c.HasExceeded(ctx, "alice")
	assert.False(t, exceeded)
}

func TestEntryExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	c, clk := newTestCache(Config{MaxAttempts: 2, TTL: time.Minute})

	require.NoError(t, c.RecordFailure(ctx, "bob"))
	require.NoError(t, c.RecordFailure(ctx, "bob"))
	exceeded, _ := c.HasExceeded(ctx, "bob")
	assert.True(t, exceeded)

	clk.Advance(time.Minute)
	exceeded, _ = c.HasExceeded(ctx, "bob")
	assert.False(t, exceeded)
	assert.Equal(t, 0, c.Len())

	// a failure after expiry starts a new count
	require.NoError(t, c.RecordFailure(ctx, "bob"))
	assert.Equal(t, 1, c.Attempts("bob"))
}

func TestWriteRestartsTTL(t *testing.T) {
	ctx := context.Background()
	c, clk := newTestCache(Config{TTL: time.Minute})

	require.NoError(t, c.RecordFailure(ctx, "carol"))
	clk.Advance(50 * time.Second)
	require.NoError(t, c.RecordFailure(ctx, "carol"))
	clk.Advance(50 * time.Second)
	assert.Equal(t, 2, c.Attempts("carol"))
}

func TestCapacityEvictsOldest(t *testing.T) {
	ctx := context.Background()
	c, clk := newTestCache(Config{Capacity: 3})

	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, c.RecordFailure(ctx, p))
		clk.Advance(time.Second)
	}
	require.NoError(t, c.RecordFailure(ctx, "d"))

	assert.Equal(t, 3, c.Len())
	assert.Equal(t, 0, c.Attempts("a"))
	assert.Equal(t, 1, c.Attempts("d"))
}

func TestConcurrentFailures(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(Config{MaxAttempts: 1000})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = c.RecordFailure(ctx, "shared")
				_ = c.RecordFailure(ctx, fmt.Sprintf("user-%d", i%5))
				_, _ = c.HasExceeded(ctx, "shared")
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 500, c.Attempts("shared"))
	assert.Equal(t, 100, c.Attempts("user-0"))
}

func TestCapacityFromEnvKeepsCounterThroughFlood(t *testing.T) {
	t.Setenv("LOGIN_ATTEMPT_CAPACITY", "1000")
	cfg := ConfigFromEnv()
	require.Equal(t, 1000, cfg.Capacity)

	ctx := context.Background()
	c, clk := newTestCache(cfg)
	require.NoError(t, c.RecordFailure(ctx, "alice"))
	for i := 0; i < 150; i++ {
		clk.Advance(time.Second)
		require.NoError(t, c.RecordFailure(ctx, fmt.Sprintf("ghost-%d", i)))
	}
	assert.Equal(t, 1, c.Attempts("alice"))

	// With the default bound the same flood pushes alice out.
	small, clk := newTestCache(Config{})
	require.NoError(t, small.RecordFailure(ctx, "alice"))
	for i := 0; i < DefaultCapacity; i++ {
		clk.Advance(time.Second)
		require.NoError(t, small.RecordFailure(ctx, fmt.Sprintf("ghost-%d", i)))
	}
	assert.Equal(t, 0, small.Attempts("alice"))
}
