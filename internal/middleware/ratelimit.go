package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter manages rate limiting for API requests
type RateLimiter struct {
	limiters map[string]*clientLimiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	now      func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(rps int, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*clientLimiter),
		rate:     rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
	}
}

// getLimiter returns a rate limiter for a specific key
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cl, exists := rl.limiters[key]
	if !exists {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = cl
	}
	cl.lastSeen = rl.now()

	return cl.limiter
}

// Prune drops limiters idle for longer than maxIdle and returns how many were removed
func (rl *RateLimiter) Prune(maxIdle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-maxIdle)
	removed := 0
	for key, cl := range rl.limiters {
		if cl.lastSeen.Before(cutoff) {
			delete(rl.limiters, key)
			removed++
		}
	}
	return removed
}

// Cleanup prunes idle limiters every interval until ctx is done
func (rl *RateLimiter) Cleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Prune(interval)
		}
	}
}

// clientKey identifies the caller by owner id, falling back to IP address
func clientKey(c *gin.Context) string {
	if owner, ok := GetOwnerID(c); ok {
		return fmt.Sprintf("owner:%s", owner)
	}
	return fmt.Sprintf("ip:%s", c.ClientIP())
}

// RateLimit middleware limits requests per owner or IP
func RateLimit(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		limiter := rl.getLimiter(clientKey(c))
		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// QuotaChecker counts one use against key and reports whether it is within quota
type QuotaChecker interface {
	CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (bool, error)
}

// QuotaLimit middleware enforces a shared quota per owner or IP, e.g. on export creation
func QuotaLimit(checker QuotaChecker, name string, limit int64, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit <= 0 {
			c.Next()
			return
		}

		key := fmt.Sprintf("%s:%s", name, clientKey(c))
		allowed, err := checker.CheckRateLimit(c.Request.Context(), key, limit, window)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check quota"})
			c.Abort()
			return
		}

		if !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Quota exceeded. Please try again later.",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
