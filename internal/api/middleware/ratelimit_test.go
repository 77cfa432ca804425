package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/checkvibe/threatwatch/internal/ratelimit"
)

type downLimiter struct{}

func (downLimiter) Take(context.Context, string, int64, int64, time.Duration) (ratelimit.Result, error) {
	return ratelimit.Result{}, errors.New("backend down")
}

func limitedRouter(guard ratelimit.Guard) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimit(guard, "internal:"))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func hit(r *gin.Engine) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimit_DeniesOverBudget(t *testing.T) {
	r := limitedRouter(ratelimit.Guard{Limiter: ratelimit.NewMemoryLimiter(), Site: "internal", Limit: 2, Window: time.Minute})

	assert.Equal(t, http.StatusOK, hit(r).Code)
	assert.Equal(t, http.StatusOK, hit(r).Code)
	w := hit(r)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimit_BackendPolicy(t *testing.T) {
	open := limitedRouter(ratelimit.Guard{Limiter: downLimiter{}, Site: "internal", Limit: 2, Window: time.Minute, FailOpen: true})
	assert.Equal(t, http.StatusOK, hit(open).Code)

	closed := limitedRouter(ratelimit.Guard{Limiter: downLimiter{}, Site: "internal", Limit: 2, Window: time.Minute})
	assert.Equal(t, http.StatusTooManyRequests, hit(closed).Code)
}
