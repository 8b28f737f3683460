package api

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

const FilterTypeRateLimit = "RateLimitFilter"

var rateLimitedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "uploader",
	Subsystem: "api",
	Name:      "rate_limited_total",
	Help:      "Requests rejected by the rate limiter",
}, []string{"backend"})

func init() {
	debug.Registry().MustRegister(rateLimitedTotal)
}

// RateLimitConfig holds per-client request limits.
type RateLimitConfig struct {
	RPS   float64
	Burst int

	// CleanupInterval bounds how long an idle client's limiter is kept.
	CleanupInterval time.Duration
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RPS:             20,
		Burst:           40,
		CleanupInterval: 5 * time.Minute,
	}
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastUsed atomic.Int64
}

// RateLimitFilter limits requests per client. With a Redis limiter the
// budget is shared across replicas; otherwise an in-process token bucket is
// kept per client.
type RateLimitFilter struct {
	config RateLimitConfig
	redis  *RedisRateLimiter

	limiters    sync.Map // key -> *clientLimiter
	lastCleanup atomic.Int64
	now         func() time.Time
}

// NewRateLimitFilter creates the filter. redis may be nil.
func NewRateLimitFilter(config RateLimitConfig, redis *RedisRateLimiter) *RateLimitFilter {
	if config.RPS <= 0 {
		config.RPS = DefaultRateLimitConfig().RPS
	}
	if config.Burst <= 0 {
		config.Burst = int(math.Ceil(config.RPS))
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultRateLimitConfig().CleanupInterval
	}
	f := &RateLimitFilter{config: config, redis: redis, now: time.Now}
	f.lastCleanup.Store(f.now().UnixNano())
	return f
}

func (f *RateLimitFilter) Run(d *Data) (Response, error) {
	if isPublicPath(d.Req.URL.Path) {
		return Next{}, nil
	}
	key := rateLimitKey(d)

	if f.redis != nil {
		res, err := f.redis.AllowN(d.Ctx, key, 1, int64(math.Ceil(f.config.RPS)), int64(f.config.Burst))
		if err != nil {
			return nil, err
		}
		d.ResponseWriter.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
		if !res.Allowed {
			rateLimitedTotal.WithLabelValues("redis").Inc()
			f.reject(d, res.ResetAfter)
			return End{}, nil
		}
		return Next{}, nil
	}

	l := f.limiterFor(key)
	if !l.Allow() {
		rateLimitedTotal.WithLabelValues("local").Inc()
		f.reject(d, time.Duration(float64(time.Second)/f.config.RPS))
		return End{}, nil
	}
	d.ResponseWriter.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(l.Tokens())))
	return Next{}, nil
}

func (f *RateLimitFilter) limiterFor(key string) *rate.Limiter {
	now := f.now()
	f.cleanup(now)

	v, ok := f.limiters.Load(key)
	if !ok {
		v, _ = f.limiters.LoadOrStore(key, &clientLimiter{
			limiter: rate.NewLimiter(rate.Limit(f.config.RPS), f.config.Burst),
		})
	}
	cl := v.(*clientLimiter)
	cl.lastUsed.Store(now.UnixNano())
	return cl.limiter
}

// cleanup drops limiters idle for longer than CleanupInterval. It runs at
// most once per interval, on the request path.
func (f *RateLimitFilter) cleanup(now time.Time) {
	last := f.lastCleanup.Load()
	if now.UnixNano()-last < int64(f.config.CleanupInterval) {
		return
	}
	if !f.lastCleanup.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	cutoff := now.Add(-f.config.CleanupInterval).UnixNano()
	f.limiters.Range(func(k, v any) bool {
		if v.(*clientLimiter).lastUsed.Load() < cutoff {
			f.limiters.Delete(k)
		}
		return true
	})
}

func (f *RateLimitFilter) reject(d *Data, retryAfter time.Duration) {
	secs := max(1, int(math.Ceil(retryAfter.Seconds())))
	d.ResponseWriter.Header().Set("Retry-After", strconv.Itoa(secs))
	writeErrorBody(d.ResponseWriter, d, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
}

func (f *RateLimitFilter) Type() string {
	return FilterTypeRateLimit
}

// rateLimitKey identifies the caller: the authenticated subject, then the
// clientId query parameter or header, then the remote address.
func rateLimitKey(d *Data) string {
	if d.Subject != "" {
		return "client:" + d.Subject
	}
	if id := d.Req.URL.Query().Get("clientId"); id != "" {
		return "client:" + id
	}
	if id := d.Req.Header.Get(HeaderClientID); id != "" {
		return "client:" + id
	}
	host, _, err := net.SplitHostPort(d.Req.RemoteAddr)
	if err != nil {
		host = d.Req.RemoteAddr
	}
	return "ip:" + host
}
