package middleware

import (
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/loyalty/points/internal/infrastructure/auth"
	"github.com/loyalty/points/internal/infrastructure/logger"
	"github.com/loyalty/points/internal/interfaces/http/dto"
	"go.uber.org/zap"
)

// JWT context keys
const (
	JWTClaimsKey  = "jwt_claims"
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
	// OperatorHeader names the operator when authentication is disabled
	OperatorHeader = "X-Operator"
)

// JWTMiddlewareConfig holds configuration for JWT middleware
type JWTMiddlewareConfig struct {
	JWTService       *auth.JWTService
	SkipPaths        []string
	SkipPathPrefixes []string
	Logger           *zap.Logger
}

// JWTAuthMiddlewareWithConfig requires a valid operator token and records the
// operator on the request
func JWTAuthMiddlewareWithConfig(cfg JWTMiddlewareConfig) gin.HandlerFunc {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		for _, p := range cfg.SkipPaths {
			if path == p {
				c.Next()
				return
			}
		}
		for _, prefix := range cfg.SkipPathPrefixes {
			if strings.HasPrefix(path, prefix) {
				c.Next()
				return
			}
		}

		header := c.GetHeader(AuthHeaderKey)
		if !strings.HasPrefix(header, BearerPrefix) || strings.TrimPrefix(header, BearerPrefix) == "" {
			abortUnauthorized(c, log, auth.ErrInvalidToken, "Missing bearer token")
			return
		}

		claims, err := cfg.JWTService.Validate(strings.TrimPrefix(header, BearerPrefix))
		if err != nil {
			abortUnauthorized(c, log, err, "Token validation failed")
			return
		}

		c.Set(JWTClaimsKey, claims)
		setOperator(c, claims.Subject)
		c.Next()
	}
}

// AnonymousOperator stands in for JWT when authentication is disabled. The
// operator is taken from X-Operator so audit fields are still filled.
func AnonymousOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		operator := strings.TrimSpace(c.GetHeader(OperatorHeader))
		if operator == "" {
			operator = "anonymous"
		}
		setOperator(c, operator)
		c.Next()
	}
}

// RequireRole rejects authenticated operators lacking role. Requests without
// claims pass, which only happens when authentication is disabled.
func RequireRole(role string) gin.HandlerFunc {
	return RequireAnyRole(role)
}

// RequireAnyRole passes when the operator holds at least one of roles
func RequireAnyRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetJWTClaims(c)
		if claims != nil && !slices.ContainsFunc(roles, claims.HasRole) {
			c.AbortWithStatusJSON(http.StatusForbidden,
				dto.NewErrorResponseWithRequestID(dto.ErrCodeForbidden, "Operator lacks role "+strings.Join(roles, " or "), c.GetString(logger.GinRequestIDKey)))
			return
		}
		c.Next()
	}
}

func setOperator(c *gin.Context, operator string) {
	c.Set(logger.GinOperatorKey, operator)
	c.Request = c.Request.WithContext(logger.WithOperator(c.Request.Context(), operator))
}

func abortUnauthorized(c *gin.Context, log *zap.Logger, err error, message string) {
	log.Warn("JWT authentication failed",
		zap.Error(err),
		zap.String("message", message),
		zap.String("path", c.Request.URL.Path),
	)

	code, msg := dto.ErrCodeUnauthorized, "Authentication required"
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		code, msg = dto.ErrCodeTokenExpired, "Token has expired"
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrTokenNotYetValid), errors.Is(err, auth.ErrMissingSubject):
		code, msg = dto.ErrCodeTokenInvalid, "Invalid token"
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized,
		dto.NewErrorResponseWithRequestID(code, msg, c.GetString(logger.GinRequestIDKey)))
}

// GetJWTClaims retrieves JWT claims from gin.Context
func GetJWTClaims(c *gin.Context) *auth.Claims {
	if v, ok := c.Get(JWTClaimsKey); ok {
		if claims, ok := v.(*auth.Claims); ok {
			return claims
		}
	}
	return nil
}

// GetOperator returns the operator recorded by JWTAuthMiddlewareWithConfig or AnonymousOperator
func GetOperator(c *gin.Context) string {
	return c.GetString(logger.GinOperatorKey)
}
