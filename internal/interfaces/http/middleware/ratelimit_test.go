package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loyalty/points/internal/infrastructure/cache"
	"github.com/loyalty/points/internal/interfaces/http/dto"
	"github.com/stretchr/testify/assert"
)

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, int, time.Duration) (bool, int, error) {
	return false, 0, errors.New("redis down")
}

func TestRateLimit(t *testing.T) {
	limiter := cache.NewInMemoryRequestLimiter()
	t.Cleanup(func() { _ = limiter.Close() })

	router := gin.New()
	router.Use(RateLimit(RateLimitConfig{
		Limiter: limiter,
		Limit:   2,
		Window:  24 * time.Hour,
		KeyFunc: func(c *gin.Context) string { return c.GetHeader("X-Client") },
	}))
	router.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	call := func(client string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("X-Client", client)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	first := call("a")
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, http.StatusOK, call("a").Code)

	blocked := call("a")
	assert.Equal(t, http.StatusTooManyRequests, blocked.Code)
	assert.Equal(t, dto.ErrCodeRateLimited, decodeError(t, blocked).Code)

	assert.Equal(t, http.StatusOK, call("b").Code)
}

func TestRateLimit_FailsOpen(t *testing.T) {
	router := gin.New()
	router.Use(RateLimit(RateLimitConfig{Limiter: failingLimiter{}, Limit: 1, Window: time.Second}))
	router.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
