package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/checkvibe/threatwatch/internal/ratelimit"
)

// RateLimit applies guard per caller address. Whether a backend failure
// allows or rejects the request is the guard's own policy.
func RateLimit(guard ratelimit.Guard, keyPrefix string) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := guard.Allow(c.Request.Context(), keyPrefix+ClientIP(c), 1)
		if err == nil && res.Allowed {
			c.Next()
			return
		}
		SetRateLimitHeaders(c, res)
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
	}
}

// SetRateLimitHeaders writes Retry-After and the X-RateLimit-* family.
func SetRateLimitHeaders(c *gin.Context, res ratelimit.Result) {
	now := time.Now()
	if res.Limit > 0 {
		remaining := res.Limit - res.Count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
	}
	if !res.ResetAt.IsZero() {
		c.Header("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	}
	if !res.Allowed {
		c.Header("Retry-After", strconv.Itoa(int(res.RetryAfter(now)/time.Second)))
	}
}
