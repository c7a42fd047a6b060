package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewhall1124/backtest-test/pkg/config"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := &config.Config{
		Redis: config.RedisConfig{
			Host:    mr.Host(),
			Port:    mr.Port(),
			Enabled: true,
		},
	}
	client, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestNewClient_Disabled(t *testing.T) {
	client, err := New(context.Background(), &config.Config{})
	require.NoError(t, err)
	assert.False(t, client.Enabled())
	assert.NoError(t, client.Close())
}

func TestNewClient_Unreachable(t *testing.T) {
	cfg := &config.Config{
		Redis: config.RedisConfig{Host: "127.0.0.1", Port: "1", Enabled: true},
	}
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestCache_Disabled(t *testing.T) {
	client, _ := New(context.Background(), &config.Config{})
	cache := NewCache(client, "test")
	ctx := context.Background()

	// When Redis is disabled, cache operations should be no-ops
	var result string
	found, err := cache.Get(ctx, "key", &result)
	require.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, cache.Set(ctx, "key", "value", time.Minute))
	assert.NoError(t, cache.Delete(ctx, "key"))

	calls := 0
	err = cache.GetOrSet(ctx, "key", &result, time.Minute, func() (interface{}, error) {
		calls++
		return "fresh", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", result)
	assert.Equal(t, 1, calls)
}

func TestCache_RoundTrip(t *testing.T) {
	client, mr := newTestClient(t)
	cache := NewCache(client, "backtest")
	ctx := context.Background()

	type payload struct {
		RunID  string  `json:"run_id"`
		Weight float64 `json:"weight"`
	}

	require.NoError(t, cache.Set(ctx, RunKey("abc"), payload{RunID: "abc", Weight: 0.25}, time.Minute))
	assert.True(t, mr.Exists("backtest:cache:run:abc"))

	var got payload
	found, err := cache.Get(ctx, RunKey("abc"), &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, payload{RunID: "abc", Weight: 0.25}, got)

	mr.FastForward(2 * time.Minute)
	found, err = cache.Get(ctx, RunKey("abc"), &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCache_GetOrSet(t *testing.T) {
	client, _ := newTestClient(t)
	cache := NewCache(client, "backtest")
	ctx := context.Background()

	calls := 0
	fill := func() (interface{}, error) {
		calls++
		return []float64{0.1, -0.1}, nil
	}

	var first, second []float64
	require.NoError(t, cache.GetOrSet(ctx, WeightsKey("abc", ""), &first, time.Minute, fill))
	require.NoError(t, cache.GetOrSet(ctx, WeightsKey("abc", ""), &second, time.Minute, fill))

	assert.Equal(t, []float64{0.1, -0.1}, first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)

	require.NoError(t, cache.Delete(ctx, WeightsKey("abc", "")))
	require.NoError(t, cache.GetOrSet(ctx, WeightsKey("abc", ""), &second, time.Minute, fill))
	assert.Equal(t, 2, calls)
}

func TestRateLimiter_Disabled(t *testing.T) {
	client, _ := New(context.Background(), &config.Config{})
	limiter := NewRateLimiter(client, "test")

	// When Redis is disabled, all requests should be allowed
	cfg := APIRateLimit("10.0.0.1", 5, time.Second)
	allowed, remaining, err := limiter.Allow(context.Background(), cfg)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 5, remaining)
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	client, _ := newTestClient(t)
	limiter := NewRateLimiter(client, "backtest")
	cfg := APIRateLimit("10.0.0.1", 3, time.Minute)
	ctx := context.Background()

	for want := 2; want >= 0; want-- {
		allowed, remaining, err := limiter.Allow(ctx, cfg)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, want, remaining)
	}

	allowed, _, err := limiter.Allow(ctx, cfg)
	require.NoError(t, err)
	assert.False(t, allowed)

	// another client has its own window
	allowed, _, err = limiter.Allow(ctx, APIRateLimit("10.0.0.2", 3, time.Minute))
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestCacheKeys(t *testing.T) {
	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{name: "RunKey", got: RunKey("abc"), expected: "run:abc"},
		{name: "RunsKey", got: RunsKey(20), expected: "runs:20"},
		{name: "WeightsKey all", got: WeightsKey("abc", ""), expected: "weights:abc:all"},
		{name: "WeightsKey date", got: WeightsKey("abc", "2024-01-02"), expected: "weights:abc:2024-01-02"},
		{name: "APIRateLimit", got: APIRateLimit("10.0.0.1", 1, time.Second).Key, expected: "api:10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.got)
		})
	}
}
