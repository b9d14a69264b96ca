package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategorize_FindsWrappedError(t *testing.T) {
	base := NewNotFoundError("portfolio", "p1")
	wrapped := fmt.Errorf("loading: %w", base)

	catErr := Categorize(wrapped)
	require.NotNil(t, catErr)
	assert.Same(t, base, catErr)
	assert.True(t, IsNotFound(wrapped))
	assert.Equal(t, http.StatusNotFound, GetHTTPStatusCode(wrapped))
}

func TestCategorize_PlainError(t *testing.T) {
	plain := stderrors.New("boom")

	catErr := Categorize(plain)
	assert.Equal(t, CategorySystem, catErr.Category)
	assert.ErrorIs(t, catErr, plain)
	assert.Nil(t, Categorize(nil))
}

func TestNewConfigError_NamesField(t *testing.T) {
	err := NewConfigError("BUY_AMOUNT", "must be greater than zero")

	assert.Contains(t, err.Error(), "BUY_AMOUNT")
	assert.Equal(t, CategoryValidation, err.Category)
	assert.True(t, IsUserError(err))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transport failure", NewProviderError("coingecko", stderrors.New("reset")), true},
		{"rate limited", NewProviderRateLimitError("coingecko", 0), true},
		{"publisher timeout", NewPublisherError("edit message", stderrors.New("timeout")), true},
		{"publisher rejected", NewPublisherStatusError("edit message", 400, stderrors.New("not found")), false},
		{"publisher flood control", NewPublisherRateLimitError(3*time.Second, nil), true},
		{"server error", NewProviderStatusError("coingecko", 503, "unavailable"), true},
		{"client error", NewProviderStatusError("coingecko", 401, "bad key"), false},
		{"database", NewDatabaseError("update", stderrors.New("conn")), true},
		{"integrity", NewDataIntegrityError("holding", "btc", "zero invested value"), false},
		{"config", NewConfigError("PAGE_SIZE", "must be greater than zero"), false},
		{"plain", stderrors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestIsDataIntegrity(t *testing.T) {
	err := fmt.Errorf("revalue: %w", NewDataIntegrityError("holding", "btc", "zero invested value"))

	assert.True(t, IsDataIntegrity(err))
	assert.False(t, IsDataIntegrity(NewDatabaseError("select", nil)))
}

func TestRetryAfter(t *testing.T) {
	wrapped := fmt.Errorf("publish: %w", NewPublisherRateLimitError(3*time.Second, nil))

	assert.Equal(t, 3*time.Second, RetryAfter(wrapped))
	assert.Equal(t, 10*time.Second, RetryAfter(NewProviderRateLimitError("coingecko", 10*time.Second)))
	assert.Zero(t, RetryAfter(NewProviderRateLimitError("coingecko", 0)))
	assert.Zero(t, RetryAfter(NewDatabaseError("select", nil)))
	assert.Zero(t, RetryAfter(stderrors.New("boom")))
}
