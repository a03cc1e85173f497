package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/loyalty/points/internal/infrastructure/logger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracingConfig holds configuration for the tracing middleware.
type TracingConfig struct {
	ServiceName string
	Enabled     bool
}

// TracingWithConfig returns otelgin's middleware, or a pass-through when disabled
func TracingWithConfig(cfg TracingConfig, opts ...otelgin.Option) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) { c.Next() }
	}
	return otelgin.Middleware(cfg.ServiceName, opts...)
}

// SpanAttributes copies the request id and operator onto the active span and
// marks server errors. Place it after TracingWithConfig and the auth middleware.
func SpanAttributes() gin.HandlerFunc {
	return func(c *gin.Context) {
		span := trace.SpanFromContext(c.Request.Context())
		if !span.IsRecording() {
			c.Next()
			return
		}
		if id := c.GetString(logger.GinRequestIDKey); id != "" {
			span.SetAttributes(attribute.String("request_id", id))
		}
		if op := GetOperator(c); op != "" {
			span.SetAttributes(attribute.String("operator", op))
		}

		c.Next()

		if status := c.Writer.Status(); status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}
