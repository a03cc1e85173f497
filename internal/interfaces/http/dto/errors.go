package dto

import (
	"net/http"

	"github.com/loyalty/points/internal/domain/shared"
)

// Error codes that only exist at the HTTP edge. Domain codes are passed
// through unchanged.
const (
	ErrCodeInternal     = "INTERNAL_ERROR"
	ErrCodeValidation   = shared.CodeValidation
	ErrCodeBadRequest   = "BAD_REQUEST"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeForbidden    = "FORBIDDEN"
	ErrCodeRateLimited  = "RATE_LIMIT_EXCEEDED"
	ErrCodeTooLarge     = "REQUEST_TOO_LARGE"
	ErrCodeTokenExpired = "TOKEN_EXPIRED"
	ErrCodeTokenInvalid = "INVALID_TOKEN"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal: http.StatusInternalServerError,

	// 400
	ErrCodeValidation:         http.StatusBadRequest,
	ErrCodeBadRequest:         http.StatusBadRequest,
	shared.CodeInvalidInput:   http.StatusBadRequest,
	shared.CodeConfiguration:  http.StatusBadRequest,
	ErrCodeTooLarge:           http.StatusRequestEntityTooLarge,
	ErrCodeUnauthorized:       http.StatusUnauthorized,
	shared.CodeUnauthorized:   http.StatusUnauthorized,
	ErrCodeTokenExpired:       http.StatusUnauthorized,
	ErrCodeTokenInvalid:       http.StatusUnauthorized,
	ErrCodeForbidden:          http.StatusForbidden,
	shared.CodeNotFound:       http.StatusNotFound,
	ErrCodeRateLimited:        http.StatusTooManyRequests,

	// 409
	shared.CodeAlreadyExists:       http.StatusConflict,
	shared.CodeConcurrencyConflict: http.StatusConflict,
	shared.CodeInvalidState:        http.StatusConflict,

	// 422
	shared.CodeInsufficientBalance: http.StatusUnprocessableEntity,

	// 503: the caller should retry
	shared.CodePersistenceFailure: http.StatusServiceUnavailable,
}

// GetHTTPStatus returns the HTTP status code for an error code.
// Unknown codes map to 500.
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
