package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loyalty/points/internal/infrastructure/cache"
	"github.com/loyalty/points/internal/infrastructure/logger"
	"github.com/loyalty/points/internal/interfaces/http/dto"
	"go.uber.org/zap"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Limiter cache.RequestLimiter
	Limit   int
	Window  time.Duration
	// KeyFunc picks the bucket; defaults to the client IP
	KeyFunc func(*gin.Context) string
	Logger  *zap.Logger
}

// RateLimit rejects requests above Limit per Window. A failing limiter lets the
// request through.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(c *gin.Context) string { return c.ClientIP() }
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	limit := strconv.Itoa(cfg.Limit)

	return func(c *gin.Context) {
		ok, remaining, err := cfg.Limiter.Allow(c.Request.Context(), cfg.KeyFunc(c), cfg.Limit, cfg.Window)
		if err != nil {
			cfg.Logger.Warn("Rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", limit)
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeRateLimited, "Too many requests. Please try again later.", c.GetString(logger.GinRequestIDKey)))
			return
		}
		c.Next()
	}
}
