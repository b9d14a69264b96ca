// Package errors classifies tracker failures so callers can decide between
// retrying, skipping a unit of work, or aborting a run.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	CategoryValidation    ErrorCategory = "validation"
	CategoryProvider      ErrorCategory = "provider"
	CategoryDatabase      ErrorCategory = "database"
	CategoryCache         ErrorCategory = "cache"
	CategoryNotFound      ErrorCategory = "not_found"
	CategoryDataIntegrity ErrorCategory = "data_integrity"
	CategoryPublisher     ErrorCategory = "publisher"
	// CategorySystem is anything that was not classified where it happened
	CategorySystem ErrorCategory = "system"
)

// Detail keys read back by the helpers below
const (
	detailStatus     = "status"
	detailRetryAfter = "retryAfter"
)

// CategorizedError carries a category, a stable code for API bodies, and the HTTP
// status the read API answers with
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

func (e *CategorizedError) Error() string {
	if e.Cause == nil {
		return e.Code + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
}

func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

func newError(category ErrorCategory, status int, code, message string, cause error, details map[string]interface{}) *CategorizedError {
	return &CategorizedError{
		Category:   category,
		StatusCode: status,
		Code:       code,
		Message:    message,
		Details:    details,
		Cause:      cause,
	}
}

// NewConfigError names the environment variable that failed validation
func NewConfigError(field, reason string) *CategorizedError {
	return newError(CategoryValidation, http.StatusBadRequest, "INVALID_CONFIG",
		fmt.Sprintf("invalid configuration '%s': %s", field, reason), nil,
		map[string]interface{}{"field": field, "reason": reason})
}

// NewInvalidParameterError reports a bad request parameter
func NewInvalidParameterError(param, reason string) *CategorizedError {
	return newError(CategoryValidation, http.StatusBadRequest, "INVALID_PARAMETER",
		fmt.Sprintf("invalid parameter '%s': %s", param, reason), nil,
		map[string]interface{}{"parameter": param, "reason": reason})
}

func NewNotFoundError(resource, id string) *CategorizedError {
	return newError(CategoryNotFound, http.StatusNotFound, "NOT_FOUND",
		fmt.Sprintf("%s not found: %s", resource, id), nil,
		map[string]interface{}{"resource": resource, "id": id})
}

// NewDataIntegrityError reports stored data that cannot be valued, such as a zero
// invested amount. The run that meets it stops.
func NewDataIntegrityError(resource, id, reason string) *CategorizedError {
	return newError(CategoryDataIntegrity, http.StatusInternalServerError, "DATA_INTEGRITY",
		fmt.Sprintf("%s %s: %s", resource, id, reason), nil,
		map[string]interface{}{"resource": resource, "id": id})
}

func NewInternalError(message string, cause error) *CategorizedError {
	return newError(CategorySystem, http.StatusInternalServerError, "INTERNAL_ERROR", message, cause, nil)
}

// NewDatabaseError wraps a Postgres or ClickHouse failure. The read API maps it to 503.
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return newError(CategoryDatabase, http.StatusInternalServerError, "DATABASE_ERROR",
		"database error during "+operation, cause,
		map[string]interface{}{"operation": operation})
}

// NewCacheError wraps a Redis failure
func NewCacheError(operation string, cause error) *CategorizedError {
	return newError(CategoryCache, http.StatusInternalServerError, "CACHE_ERROR",
		"cache error during "+operation, cause,
		map[string]interface{}{"operation": operation})
}

// NewProviderError wraps a transport or decoding failure talking to a market source
func NewProviderError(provider string, cause error) *CategorizedError {
	return newError(CategoryProvider, http.StatusBadGateway, "PROVIDER_ERROR",
		"market source error: "+provider, cause,
		map[string]interface{}{"provider": provider})
}

// NewProviderStatusError reports a non-success HTTP answer from a market source
func NewProviderStatusError(provider string, status int, body string) *CategorizedError {
	return newError(CategoryProvider, http.StatusBadGateway, "PROVIDER_STATUS",
		fmt.Sprintf("market source %s returned status %d: %s", provider, status, body), nil,
		map[string]interface{}{"provider": provider, detailStatus: status})
}

// NewProviderRateLimitError reports a 429. retryAfter is what the source asked for, zero if it did not say.
func NewProviderRateLimitError(provider string, retryAfter time.Duration) *CategorizedError {
	return newError(CategoryProvider, http.StatusTooManyRequests, "PROVIDER_RATE_LIMIT",
		"market source rate limit exceeded: "+provider, nil,
		map[string]interface{}{"provider": provider, detailStatus: http.StatusTooManyRequests, detailRetryAfter: retryAfter})
}

// NewPublisherError wraps a channel failure that carries no API status
func NewPublisherError(operation string, cause error) *CategorizedError {
	return newError(CategoryPublisher, http.StatusBadGateway, "PUBLISHER_ERROR",
		"publisher error during "+operation, cause,
		map[string]interface{}{"operation": operation})
}

// NewPublisherStatusError wraps a channel API rejection with its error code
func NewPublisherStatusError(operation string, status int, cause error) *CategorizedError {
	err := NewPublisherError(operation, cause)
	err.Details[detailStatus] = status
	return err
}

// NewPublisherRateLimitError reports flood control on the channel API
func NewPublisherRateLimitError(retryAfter time.Duration, cause error) *CategorizedError {
	return newError(CategoryPublisher, http.StatusTooManyRequests, "PUBLISHER_RATE_LIMIT",
		fmt.Sprintf("publisher rate limited, retry after %s", retryAfter), cause,
		map[string]interface{}{detailStatus: http.StatusTooManyRequests, detailRetryAfter: retryAfter})
}

// Categorize finds the categorized error in err's chain, or wraps err as an internal error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}
	return NewInternalError("unexpected error", err)
}

// GetHTTPStatusCode returns the status the read API answers err with
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable reports whether another attempt may succeed. Upstream answers in the
// 4xx range other than 429 are final.
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryProvider, CategoryPublisher:
		status, _ := catErr.Details[detailStatus].(int)
		return status == 0 || status == http.StatusTooManyRequests || status >= 500
	case CategoryDatabase, CategoryCache:
		return true
	}
	return false
}

// RetryAfter returns the wait an upstream asked for, or zero
func RetryAfter(err error) time.Duration {
	var catErr *CategorizedError
	if !stderrors.As(err, &catErr) {
		return 0
	}
	wait, _ := catErr.Details[detailRetryAfter].(time.Duration)
	return wait
}

func IsNotFound(err error) bool {
	return hasCategory(err, CategoryNotFound)
}

func IsDataIntegrity(err error) bool {
	return hasCategory(err, CategoryDataIntegrity)
}

// IsUserError reports whether err maps to a 4xx answer
func IsUserError(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.StatusCode >= 400 && catErr.StatusCode < 500
}

func hasCategory(err error, category ErrorCategory) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Category == category
}
