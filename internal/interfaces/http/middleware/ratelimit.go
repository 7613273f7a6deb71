package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// TenantRateLimiter keeps one token bucket per tenant for the inbound API
type TenantRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*tenantLimiter
	rps      rate.Limit
	burst    int
	idleTTL  time.Duration
	now      func() time.Time
}

type tenantLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewTenantRateLimiter creates a limiter allowing rps requests per second with the given burst
func NewTenantRateLimiter(rps float64, burst int) *TenantRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &TenantRateLimiter{
		limiters: make(map[string]*tenantLimiter),
		rps:      rate.Limit(rps),
		burst:    burst,
		idleTTL:  10 * time.Minute,
		now:      time.Now,
	}
}

// Allow reports whether a request for key may proceed
func (l *TenantRateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	tl, ok := l.limiters[key]
	if !ok {
		tl = &tenantLimiter{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.limiters[key] = tl
		l.evictIdle(now)
	}
	tl.lastSeen = now
	return tl.limiter.AllowN(now, 1)
}

// evictIdle drops buckets that have not been used for a while; caller holds mu
func (l *TenantRateLimiter) evictIdle(now time.Time) {
	for key, tl := range l.limiters {
		if now.Sub(tl.lastSeen) > l.idleTTL {
			delete(l.limiters, key)
		}
	}
}

// RateLimit throttles requests per authenticated tenant, falling back to client IP
func RateLimit(limiter *TenantRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if tenantID := GetTenantID(c); tenantID != uuid.Nil {
			key = tenantID.String()
		}

		if !limiter.Allow(key) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "RATE_LIMIT_EXCEEDED",
					"message": "Too many requests. Please try again later.",
				},
			})
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.burst))
		c.Next()
	}
}
