package dto

import (
	"net/http"
	"strings"
)

// API-level error codes. Domain errors keep their own codes (JOB_NOT_FOUND, INVALID_STATE, ...).
const (
	ErrCodeInternal     = "INTERNAL_ERROR"
	ErrCodeValidation   = "VALIDATION_ERROR"
	ErrCodeBadRequest   = "BAD_REQUEST"
	ErrCodeInvalidJSON  = "INVALID_JSON"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeForbidden    = "FORBIDDEN"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeConflict     = "CONFLICT"
	ErrCodeRateLimited  = "RATE_LIMIT_EXCEEDED"
	ErrCodeTooLarge     = "REQUEST_TOO_LARGE"
	ErrCodeUnavailable  = "SERVICE_UNAVAILABLE"
)

// ErrorCodeHTTPStatus maps error codes that do not follow the naming rules of GetHTTPStatus
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal:     http.StatusInternalServerError,
	ErrCodeValidation:   http.StatusBadRequest,
	ErrCodeBadRequest:   http.StatusBadRequest,
	ErrCodeInvalidJSON:  http.StatusBadRequest,
	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeForbidden:    http.StatusForbidden,
	ErrCodeConflict:     http.StatusConflict,
	ErrCodeRateLimited:  http.StatusTooManyRequests,
	ErrCodeTooLarge:     http.StatusRequestEntityTooLarge,
	ErrCodeUnavailable:  http.StatusServiceUnavailable,

	"INVALID_STATE":           http.StatusUnprocessableEntity,
	"PLATFORM_NOT_CONFIGURED": http.StatusUnprocessableEntity,
	"NO_ENTITY_TYPES":         http.StatusBadRequest,
	"DUPLICATE_ENTITY_TYPE":   http.StatusBadRequest,
	"ALREADY_EXISTS":          http.StatusConflict,
	"CONCURRENCY_CONFLICT":    http.StatusConflict,
	"JOB_ALREADY_ACTIVE":      http.StatusConflict,
	"JOB_LOCKED":              http.StatusConflict,
	"MAPPING_CONFLICT":        http.StatusConflict,
}

// GetHTTPStatus returns the HTTP status for an error code.
// Codes ending in _NOT_FOUND map to 404 and codes starting with INVALID_ to 400;
// anything else unknown is a 500.
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	switch {
	case code == ErrCodeNotFound || strings.HasSuffix(code, "_NOT_FOUND"):
		return http.StatusNotFound
	case strings.HasPrefix(code, "INVALID_"):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
