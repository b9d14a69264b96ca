package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/coin-tracker/internal/errors"
	"github.com/coin-tracker/internal/logging"
	"github.com/coin-tracker/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	_ = json.NewEncoder(w).Encode(response)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Common error codes
const (
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeRateLimited        = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// respondServiceError maps a service error to a status code and writes it.
// Server-side failures are logged and reported without their cause.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	catErr := apperrors.Categorize(err)

	switch catErr.Category {
	case apperrors.CategoryNotFound:
		respondError(w, http.StatusNotFound, ErrCodeNotFound, catErr.Message, catErr.Details)
	case apperrors.CategoryValidation:
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, catErr.Message, catErr.Details)
	case apperrors.CategoryDatabase, apperrors.CategoryCache:
		logging.FromContext(r.Context()).WithError(err).WithField("path", r.URL.Path).Error("Storage unavailable")
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Storage is unavailable", nil)
	default:
		logging.FromContext(r.Context()).WithError(err).WithField("path", r.URL.Path).Error("Request failed")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "An internal error occurred", nil)
	}
}
