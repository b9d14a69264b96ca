// Package config provides configuration management for the coin tracker.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/coin-tracker/internal/errors"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration
type Config struct {
	Tracker   TrackerConfig
	CoinGecko CoinGeckoConfig
	Telegram  TelegramConfig
	Database  DatabaseConfig
	Server    ServerConfig
	Logging   LoggingConfig
}

// TrackerConfig holds the synchronizer and valuation settings
type TrackerConfig struct {
	PortfolioID        string
	Currency           string
	BuyAmount          decimal.Decimal
	MinMarketCap       int64
	MarketDataInterval time.Duration
	PublishInterval    time.Duration
	PageSize           int
	MaxConcurrentPages int
	AutoAddNewCoins    bool
	TopHoldings        int
}

// CoinGeckoConfig holds market source configuration
type CoinGeckoConfig struct {
	APIKey            string
	APIKeyHeader      string
	BaseURL           string
	RequestsPerSecond float64
	// RequestsPerMinute is shared through Redis by every process using the key; 0 disables it
	RequestsPerMinute int
	Timeout           time.Duration
}

// TelegramConfig holds publisher configuration
type TelegramConfig struct {
	BotToken         string
	ChannelID        int64
	ChannelMessageID int
}

// Enabled reports whether a bot token is configured
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != ""
}

// ServerConfig holds read API configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration.
// History recording is skipped when Enabled is false.
type ClickHouseConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env is optional, environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	buyAmount, err := getEnvAsDecimal("BUY_AMOUNT", decimal.NewFromInt(10))
	if err != nil {
		return nil, err
	}

	config := &Config{
		Tracker: TrackerConfig{
			PortfolioID:        getEnv("PORTFOLIO_ID", ""),
			Currency:           strings.ToLower(getEnv("CURRENCY", "usd")),
			BuyAmount:          buyAmount,
			MinMarketCap:       getEnvAsInt64("MIN_MARKET_CAP", 100_000_000),
			MarketDataInterval: getEnvAsDuration("MARKET_DATA_INTERVAL", 5*time.Minute),
			PublishInterval:    getEnvAsDuration("PUBLISH_INTERVAL", 5*time.Minute),
			PageSize:           getEnvAsInt("PAGE_SIZE", 250),
			MaxConcurrentPages: getEnvAsInt("MAX_CONCURRENT_PAGES", 30),
			AutoAddNewCoins:    getEnvAsBool("AUTO_ADD_NEW_COINS", false),
			TopHoldings:        getEnvAsInt("TOP_HOLDINGS", 5),
		},
		CoinGecko: CoinGeckoConfig{
			APIKey:            getEnv("COINGECKO_API_KEY", ""),
			APIKeyHeader:      getEnv("COINGECKO_API_KEY_HEADER", "x-cg-demo-api-key"),
			BaseURL:           getEnv("COINGECKO_BASE_URL", "https://api.coingecko.com/api/v3"),
			RequestsPerSecond: getEnvAsFloat("COINGECKO_REQUESTS_PER_SECOND", 0.5),
			RequestsPerMinute: getEnvAsInt("COINGECKO_REQUESTS_PER_MINUTE", 0),
			Timeout:           getEnvAsDuration("COINGECKO_TIMEOUT", 30*time.Second),
		},
		Telegram: TelegramConfig{
			BotToken:         getEnv("TELEGRAM_BOT_TOKEN", ""),
			ChannelID:        getEnvAsInt64("TELEGRAM_CHANNEL_ID", 0),
			ChannelMessageID: getEnvAsInt("TELEGRAM_CHANNEL_MESSAGE_ID", 0),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "coin_tracker"),
				User:           getEnv("POSTGRES_USER", "tracker"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			ClickHouse: ClickHouseConfig{
				Enabled:  getEnvAsBool("CLICKHOUSE_ENABLED", false),
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "coin_tracker"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 10),
			},
		},
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// Validate rejects configurations the tracker cannot run with
func (c *Config) Validate() error {
	t := c.Tracker
	switch {
	case !t.BuyAmount.IsPositive():
		return apperrors.NewConfigError("BUY_AMOUNT", "must be greater than zero")
	case t.MinMarketCap < 0:
		return apperrors.NewConfigError("MIN_MARKET_CAP", "must not be negative")
	case t.PageSize <= 0:
		return apperrors.NewConfigError("PAGE_SIZE", "must be greater than zero")
	case t.MaxConcurrentPages <= 0:
		return apperrors.NewConfigError("MAX_CONCURRENT_PAGES", "must be greater than zero")
	case t.MarketDataInterval <= 0:
		return apperrors.NewConfigError("MARKET_DATA_INTERVAL", "must be a positive duration")
	case t.PublishInterval <= 0:
		return apperrors.NewConfigError("PUBLISH_INTERVAL", "must be a positive duration")
	case t.TopHoldings <= 0:
		return apperrors.NewConfigError("TOP_HOLDINGS", "must be greater than zero")
	case c.CoinGecko.RequestsPerSecond <= 0:
		return apperrors.NewConfigError("COINGECKO_REQUESTS_PER_SECOND", "must be greater than zero")
	case c.CoinGecko.RequestsPerMinute < 0:
		return apperrors.NewConfigError("COINGECKO_REQUESTS_PER_MINUTE", "must not be negative")
	}
	return nil
}

// URL renders the settings as a postgres:// URL. extra query parameters are added
// after sslmode; credentials are escaped.
func (p PostgresConfig) URL(extra url.Values) string {
	q := url.Values{"sslmode": {"disable"}}
	for k, v := range extra {
		q[k] = v
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     net.JoinHostPort(p.Host, p.Port),
		Path:     "/" + p.Database,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// PostgresURL returns the connection URL used by the migration runner
func (c *Config) PostgresURL() string {
	return c.Database.Postgres.URL(nil)
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 gets an environment variable as an int64 with a default value.
// Underscores are accepted as digit separators.
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := strings.ReplaceAll(getEnv(key, ""), "_", "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value.
// A bare integer is read as seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	if seconds, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(seconds) * time.Second
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDecimal returns an error on malformed input instead of the default
func getEnvAsDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue, nil
	}

	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return decimal.Zero, apperrors.NewConfigError(key, fmt.Sprintf("not a decimal: %q", valueStr))
	}
	return value, nil
}
