package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/upload"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a miniredis instance for testing
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: s.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })
	return s, client
}

func TestRateLimitFilter_Local(t *testing.T) {
	env := newTestEnv(t, func(c *Config, _ *upload.Config) {
		c.RateLimitEnabled = true
		c.RateLimit = RateLimitConfig{RPS: 0.001, Burst: 2}
	})
	path := basePath + "/missing/status?clientId=client-1"

	assert.Equal(t, http.StatusNotFound, env.get(t, path).Code)
	assert.Equal(t, http.StatusNotFound, env.get(t, path).Code)

	rec := env.get(t, path)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", decode[ErrorResponse](t, rec).Code)
	retry, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Positive(t, retry)

	// Other clients have their own budget and health is never limited.
	assert.Equal(t, http.StatusNotFound, env.get(t, basePath+"/missing/status?clientId=client-2").Code)
	assert.Equal(t, http.StatusOK, env.get(t, "/health").Code)
}

func TestRateLimitFilter_CleanupDropsIdleClients(t *testing.T) {
	f := NewRateLimitFilter(RateLimitConfig{RPS: 1, Burst: 1, CleanupInterval: time.Minute}, nil)
	now := time.Unix(1_700_000_000, 0)
	f.now = func() time.Time { return now }
	f.lastCleanup.Store(now.UnixNano())

	f.limiterFor("client:a")
	now = now.Add(2 * time.Minute)
	f.limiterFor("client:b")

	_, okA := f.limiters.Load("client:a")
	_, okB := f.limiters.Load("client:b")
	assert.False(t, okA)
	assert.True(t, okB)
}

func TestRateLimitKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x?clientId=q", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	d := NewData(context.Background(), httptest.NewRecorder(), req)
	assert.Equal(t, "client:q", rateLimitKey(d))

	d.Subject = "sub"
	assert.Equal(t, "client:sub", rateLimitKey(d))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	d = NewData(context.Background(), httptest.NewRecorder(), req)
	assert.Equal(t, "ip:10.0.0.1", rateLimitKey(d))
}

func TestRateLimitFilter_Redis(t *testing.T) {
	_, client := setupTestRedis(t)
	cfg := DefaultRedisRateLimitConfig()
	cfg.KeyTTL = time.Minute
	limiter := NewRedisRateLimiterWithClient(client, cfg)

	env := newTestEnv(t, func(c *Config, _ *upload.Config) {
		c.RateLimitEnabled = true
		c.RateLimit = RateLimitConfig{RPS: 1, Burst: 2}
		c.RedisLimiter = limiter
	})
	path := basePath + "/missing/status?clientId=client-1"

	assert.Equal(t, http.StatusNotFound, env.get(t, path).Code)
	assert.Equal(t, http.StatusNotFound, env.get(t, path).Code)
	rec := env.get(t, path)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	require.NoError(t, limiter.Reset(context.Background(), "client:client-1"))
	assert.Equal(t, http.StatusNotFound, env.get(t, path).Code)
}
