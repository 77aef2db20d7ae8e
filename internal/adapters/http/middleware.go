package http

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dkeye/callbridge/internal/metrics"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Observe records request count and latency per matched route.
func Observe(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

const (
	limiterSweepSize = 1024
	limiterIdle      = 10 * time.Minute
)

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

// KeyedLimiter keeps one token bucket per client key.
type KeyedLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

func NewKeyedLimiter(perSecond float64, burst int) *KeyedLimiter {
	return &KeyedLimiter{
		entries: make(map[string]*limiterEntry),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		now:     time.Now,
	}
}

func (kl *KeyedLimiter) Allow(key string) bool {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	now := kl.now()
	if len(kl.entries) >= limiterSweepSize {
		for k, e := range kl.entries {
			if now.Sub(e.seen) > limiterIdle {
				delete(kl.entries, k)
			}
		}
	}

	e, ok := kl.entries[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(kl.limit, kl.burst)}
		kl.entries[key] = e
	}
	e.seen = now
	return e.lim.AllowN(now, 1)
}

// RateLimit rejects clients over their budget with 429.
func RateLimit(kl *KeyedLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !kl.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limited"})
			return
		}
		c.Next()
	}
}
