package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/loyalty/points/internal/domain/points"
	"github.com/loyalty/points/internal/domain/shared"
	"github.com/loyalty/points/internal/infrastructure/logger"
	"github.com/loyalty/points/internal/interfaces/http/dto"
	"github.com/loyalty/points/internal/interfaces/http/middleware"
	"go.uber.org/zap"
)

// retryAfterSeconds is advertised on 503 responses for retryable failures
const retryAfterSeconds = "1"

// BaseHandler provides common handler utilities
type BaseHandler struct{}

func getRequestID(c *gin.Context) string {
	if id := c.GetString(logger.GinRequestIDKey); id != "" {
		return id
	}
	return c.GetHeader(middleware.RequestIDHeader)
}

// operator is the authenticated operator, or the X-Operator stand-in when
// authentication is disabled
func operator(c *gin.Context) string {
	return middleware.GetOperator(c)
}

// Success sends a 200 response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// Created sends a 201 response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// Page sends a page of items with pagination meta
func Page[T any](c *gin.Context, p shared.Paginated[T]) {
	items := p.Items
	if items == nil {
		items = []T{}
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponseWithMeta(items, p.Total, p.Page, p.PageSize))
}

// Error sends an error response with an explicit status
func (h *BaseHandler) Error(c *gin.Context, status int, code, message string) {
	c.JSON(status, dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// BadRequest sends a 400 response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// BindError answers a failed ShouldBind call: field details for validator
// errors, a plain 400 for malformed input
func (h *BaseHandler) BindError(c *gin.Context, err error) {
	if details := middleware.ValidationDetails(err); len(details) > 0 {
		c.JSON(http.StatusBadRequest, dto.NewValidationErrorResponse("Request validation failed", getRequestID(c), details))
		return
	}
	h.BadRequest(c, "Malformed request: "+err.Error())
}

// HandleError maps application errors to responses. Domain codes pick the
// status, validation errors carry field details, anything else is a 500.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	requestID := getRequestID(c)

	var ve *shared.ValidationError
	if errors.As(err, &ve) {
		details := make([]dto.ValidationDetail, len(ve.Fields))
		for i, f := range ve.Fields {
			details[i] = dto.ValidationDetail{Field: f.Field, Message: f.Message}
		}
		c.JSON(http.StatusBadRequest, dto.NewValidationErrorResponse("Request validation failed", requestID, details))
		return
	}

	var de *shared.DomainError
	if errors.As(err, &de) {
		status := dto.GetHTTPStatus(de.Code)
		if status >= http.StatusInternalServerError {
			logger.GetGinLogger(c).Error("Request failed", zap.String("code", de.Code), zap.Error(err))
		}
		if de.Code == shared.CodePersistenceFailure {
			c.Header("Retry-After", retryAfterSeconds)
		}
		c.JSON(status, dto.NewErrorResponseWithRequestID(de.Code, de.Message, requestID))
		return
	}

	logger.GetGinLogger(c).Error("Unexpected error", zap.Error(err))
	c.JSON(http.StatusInternalServerError, dto.NewErrorResponseWithRequestID(
		dto.ErrCodeInternal, "An unexpected error occurred", requestID))
}

// pathID parses a uuid path parameter, answering 400 when it is malformed
func (h *BaseHandler) pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		h.BadRequest(c, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// parseTime accepts RFC 3339 timestamps or YYYY-MM-DD dates in loc. With
// endOfDay a bare date means the start of the following day, so it can be
// used as an exclusive upper bound.
func parseTime(value string, loc *time.Location, endOfDay bool) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	d, err := time.ParseInLocation(time.DateOnly, value, loc)
	if err != nil {
		return nil, fmt.Errorf("%q is neither RFC 3339 nor YYYY-MM-DD", value)
	}
	if endOfDay {
		d = d.AddDate(0, 0, 1)
	}
	return &d, nil
}

// parseBool reads an optional boolean query parameter
func parseBool(value string) (*bool, error) {
	if value == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// optional returns nil for the zero value so query strings map onto filter pointers
func optional[T ~string](v string) *T {
	if v == "" {
		return nil
	}
	t := T(v)
	return &t
}

// statusParam reads the status query parameter as 0/1 or enabled/disabled
func (h *BaseHandler) statusParam(c *gin.Context) (*points.Status, bool) {
	var s points.Status
	switch c.Query("status") {
	case "":
		return nil, true
	case "1", "enabled":
		s = points.StatusEnabled
	case "0", "disabled":
		s = points.StatusDisabled
	default:
		h.BadRequest(c, "Invalid status")
		return nil, false
	}
	return &s, true
}
