package config

import (
	"bytes"
	"strings"
	"testing"
	"time"

	apperrors "github.com/coin-tracker/internal/errors"
	"github.com/coin-tracker/internal/logging"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("BUY_AMOUNT", "")
	t.Setenv("PAGE_SIZE", "")
	t.Setenv("MAX_CONCURRENT_PAGES", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.True(t, cfg.Tracker.BuyAmount.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, 250, cfg.Tracker.PageSize)
	assert.Equal(t, 30, cfg.Tracker.MaxConcurrentPages)
	assert.Equal(t, "usd", cfg.Tracker.Currency)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("BUY_AMOUNT", "25.5")
	t.Setenv("MIN_MARKET_CAP", "500_000_000")
	t.Setenv("MARKET_DATA_INTERVAL", "90")
	t.Setenv("PUBLISH_INTERVAL", "2m")
	t.Setenv("AUTO_ADD_NEW_COINS", "true")
	t.Setenv("TELEGRAM_CHANNEL_ID", "-1001234")
	t.Setenv("CURRENCY", "EUR")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "25.5", cfg.Tracker.BuyAmount.String())
	assert.Equal(t, int64(500_000_000), cfg.Tracker.MinMarketCap)
	assert.Equal(t, 90*time.Second, cfg.Tracker.MarketDataInterval)
	assert.Equal(t, 2*time.Minute, cfg.Tracker.PublishInterval)
	assert.True(t, cfg.Tracker.AutoAddNewCoins)
	assert.Equal(t, int64(-1001234), cfg.Telegram.ChannelID)
	assert.Equal(t, "eur", cfg.Tracker.Currency)
}

func TestLoadConfig_MalformedBuyAmount(t *testing.T) {
	t.Setenv("BUY_AMOUNT", "ten")

	_, err := LoadConfig()
	require.Error(t, err)

	catErr := apperrors.Categorize(err)
	assert.Equal(t, apperrors.CategoryValidation, catErr.Category)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Tracker: TrackerConfig{
				BuyAmount:          decimal.NewFromInt(10),
				MinMarketCap:       100_000_000,
				MarketDataInterval: time.Minute,
				PublishInterval:    time.Minute,
				PageSize:           250,
				MaxConcurrentPages: 30,
				TopHoldings:        5,
			},
			CoinGecko: CoinGeckoConfig{RequestsPerSecond: 1},
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"zero buy amount", func(c *Config) { c.Tracker.BuyAmount = decimal.Zero }, "BUY_AMOUNT"},
		{"negative buy amount", func(c *Config) { c.Tracker.BuyAmount = decimal.NewFromInt(-1) }, "BUY_AMOUNT"},
		{"negative threshold", func(c *Config) { c.Tracker.MinMarketCap = -1 }, "MIN_MARKET_CAP"},
		{"zero page size", func(c *Config) { c.Tracker.PageSize = 0 }, "PAGE_SIZE"},
		{"zero concurrency", func(c *Config) { c.Tracker.MaxConcurrentPages = 0 }, "MAX_CONCURRENT_PAGES"},
		{"zero market interval", func(c *Config) { c.Tracker.MarketDataInterval = 0 }, "MARKET_DATA_INTERVAL"},
		{"zero publish interval", func(c *Config) { c.Tracker.PublishInterval = 0 }, "PUBLISH_INTERVAL"},
		{"zero top holdings", func(c *Config) { c.Tracker.TopHoldings = 0 }, "TOP_HOLDINGS"},
		{"zero request rate", func(c *Config) { c.CoinGecko.RequestsPerSecond = 0 }, "COINGECKO_REQUESTS_PER_SECOND"},
		{"negative shared budget", func(c *Config) { c.CoinGecko.RequestsPerMinute = -1 }, "COINGECKO_REQUESTS_PER_MINUTE"},
	}

	require.NoError(t, valid().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestFields_MasksSecrets(t *testing.T) {
	cfg := &Config{
		CoinGecko: CoinGeckoConfig{APIKey: "CG-abcdefgh"},
		Telegram:  TelegramConfig{BotToken: "12345:secret-token"},
	}

	var apiKey, token string
	for _, f := range cfg.Fields() {
		switch f.Name {
		case "CoinGecko.APIKey":
			apiKey = f.Value
		case "Telegram.BotToken":
			token = f.Value
		}
	}

	assert.Equal(t, "CG****gh", apiKey)
	assert.NotContains(t, token, "secret")
	assert.Equal(t, "<unset>", mask(""))
	assert.Equal(t, "****", mask("abc"))
}

func TestLogSummary(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(logging.LevelInfo, logging.FormatText)
	logger.SetOutput(&buf)

	cfg := &Config{Tracker: TrackerConfig{Currency: "usd", BuyAmount: decimal.NewFromInt(10)}}
	cfg.LogSummary(logger)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, len(cfg.Fields()))
	assert.Contains(t, buf.String(), "config Tracker.BuyAmount")
}

func TestPostgresURL(t *testing.T) {
	cfg := &Config{Database: DatabaseConfig{Postgres: PostgresConfig{
		Host: "db", Port: "5432", Database: "coins", User: "u", Password: "p",
	}}}

	assert.Equal(t, "postgres://u:p@db:5432/coins?sslmode=disable", cfg.PostgresURL())

	cfg.Database.Postgres.Password = "p@ss/word"
	assert.Equal(t, "postgres://u:p%40ss%2Fword@db:5432/coins?sslmode=disable", cfg.PostgresURL())
}
