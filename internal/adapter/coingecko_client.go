package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coin-tracker/internal/circuitbreaker"
	"github.com/coin-tracker/internal/config"
	apperrors "github.com/coin-tracker/internal/errors"
	"github.com/coin-tracker/internal/logging"
	"github.com/coin-tracker/internal/types"
	"golang.org/x/time/rate"
)

const coinGeckoProvider = "coingecko"

// maxErrorBody bounds how much of an error response is kept in the error message
const maxErrorBody = 256

// CoinGeckoClient fetches /coins/markets pages from the CoinGecko API.
// Requests are paced by a token bucket and guarded by a circuit breaker; a failed
// request is reported to the caller and never retried here.
type CoinGeckoClient struct {
	baseURL      string
	apiKey       string
	apiKeyHeader string
	currency     string
	client       *http.Client
	limiter      *rate.Limiter
	breaker      *circuitbreaker.CircuitBreaker
	budget       RequestBudget
}

// RequestBudget paces requests across every process sharing the API key
type RequestBudget interface {
	Wait(ctx context.Context) error
}

// NewCoinGeckoClient creates a client quoting prices in currency
func NewCoinGeckoClient(cfg *config.CoinGeckoConfig, currency string) *CoinGeckoClient {
	burst := int(cfg.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}

	breakerCfg := circuitbreaker.DefaultConfig(coinGeckoProvider)
	breakerCfg.IsFailure = countsAgainstBreaker

	return &CoinGeckoClient{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		apiKeyHeader: cfg.APIKeyHeader,
		currency:     currency,
		client:       &http.Client{Timeout: cfg.Timeout},
		limiter:      rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		breaker:      circuitbreaker.NewCircuitBreaker(breakerCfg),
	}
}

// WithBudget makes every request draw on a shared budget first
func (c *CoinGeckoClient) WithBudget(budget RequestBudget) *CoinGeckoClient {
	c.budget = budget
	return c
}

// FetchPage fetches one page of markets ordered by market cap descending. Pages start at 1.
func (c *CoinGeckoClient) FetchPage(ctx context.Context, pageSize, page int) (*types.MarketPage, error) {
	var result *types.MarketPage

	if c.budget != nil {
		if err := c.budget.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, apperrors.NewProviderError(coinGeckoProvider, err)
			}
			// the local limiter still paces this process
			logging.FromContext(ctx).WithError(err).Warn("Shared request budget unavailable")
		}
	}

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return apperrors.NewProviderError(coinGeckoProvider, err)
		}

		body, err := c.doRequest(ctx, c.marketsURL(pageSize, page))
		if err != nil {
			return err
		}

		decoded, err := types.DecodeMarketPage(body)
		if err != nil {
			return apperrors.NewProviderError(coinGeckoProvider, fmt.Errorf("page %d: %w", page, err))
		}
		result = decoded
		return nil
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			return nil, apperrors.NewProviderError(coinGeckoProvider, err)
		}
		return nil, err
	}

	logger := logging.FromContext(ctx)
	for _, bad := range result.Malformed {
		logger.WithError(bad.Err).WithFields(map[string]interface{}{
			"page":   page,
			"index":  bad.Index,
			"coinId": bad.ID,
		}).Warn("Skipping malformed market record")
	}

	logger.WithFields(map[string]interface{}{
		"page":      page,
		"records":   len(result.Records),
		"malformed": len(result.Malformed),
	}).Debug("Fetched market page")

	return result, nil
}

func (c *CoinGeckoClient) marketsURL(pageSize, page int) string {
	q := url.Values{}
	q.Set("vs_currency", c.currency)
	q.Set("order", "market_cap_desc")
	q.Set("per_page", strconv.Itoa(pageSize))
	q.Set("page", strconv.Itoa(page))
	return c.baseURL + "/coins/markets?" + q.Encode()
}

func (c *CoinGeckoClient) doRequest(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, apperrors.NewProviderError(coinGeckoProvider, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(c.apiKeyHeader, c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperrors.NewProviderError(coinGeckoProvider, fmt.Errorf("failed to make request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewProviderError(coinGeckoProvider, fmt.Errorf("failed to read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, apperrors.NewProviderRateLimitError(coinGeckoProvider, retryAfter(resp.Header))
	case resp.StatusCode != http.StatusOK:
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, apperrors.NewProviderStatusError(coinGeckoProvider, resp.StatusCode, string(body))
	}

	return body, nil
}

// retryAfter reads a Retry-After header given in seconds
func retryAfter(h http.Header) time.Duration {
	seconds, err := strconv.Atoi(h.Get("Retry-After"))
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// countsAgainstBreaker keeps caller cancellation and client errors from opening the circuit
func countsAgainstBreaker(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return apperrors.IsRetryable(err)
}
