package config

import (
	"fmt"
	"strconv"

	"github.com/coin-tracker/internal/logging"
)

// Field is one named configuration value, as shown in startup logs
type Field struct {
	Name  string
	Value string
}

// Fields enumerates the effective configuration in a fixed order. Secrets are masked.
func (c *Config) Fields() []Field {
	t := c.Tracker
	pg := c.Database.Postgres
	ch := c.Database.ClickHouse
	rd := c.Database.Redis

	return []Field{
		{"Tracker.PortfolioID", t.PortfolioID},
		{"Tracker.Currency", t.Currency},
		{"Tracker.BuyAmount", t.BuyAmount.String()},
		{"Tracker.MinMarketCap", strconv.FormatInt(t.MinMarketCap, 10)},
		{"Tracker.MarketDataInterval", t.MarketDataInterval.String()},
		{"Tracker.PublishInterval", t.PublishInterval.String()},
		{"Tracker.PageSize", strconv.Itoa(t.PageSize)},
		{"Tracker.MaxConcurrentPages", strconv.Itoa(t.MaxConcurrentPages)},
		{"Tracker.AutoAddNewCoins", strconv.FormatBool(t.AutoAddNewCoins)},
		{"Tracker.TopHoldings", strconv.Itoa(t.TopHoldings)},
		{"CoinGecko.APIKey", mask(c.CoinGecko.APIKey)},
		{"CoinGecko.BaseURL", c.CoinGecko.BaseURL},
		{"CoinGecko.RequestsPerSecond", strconv.FormatFloat(c.CoinGecko.RequestsPerSecond, 'f', -1, 64)},
		{"CoinGecko.RequestsPerMinute", strconv.Itoa(c.CoinGecko.RequestsPerMinute)},
		{"CoinGecko.Timeout", c.CoinGecko.Timeout.String()},
		{"Telegram.BotToken", mask(c.Telegram.BotToken)},
		{"Telegram.ChannelID", strconv.FormatInt(c.Telegram.ChannelID, 10)},
		{"Telegram.ChannelMessageID", strconv.Itoa(c.Telegram.ChannelMessageID)},
		{"Database.Postgres", fmt.Sprintf("%s@%s:%s/%s", pg.User, pg.Host, pg.Port, pg.Database)},
		{"Database.Postgres.Password", mask(pg.Password)},
		{"Database.Redis", fmt.Sprintf("%s:%s/%d", rd.Host, rd.Port, rd.DB)},
		{"Database.Redis.Password", mask(rd.Password)},
		{"Database.ClickHouse.Enabled", strconv.FormatBool(ch.Enabled)},
		{"Database.ClickHouse", fmt.Sprintf("%s@%s:%s/%s", ch.User, ch.Host, ch.Port, ch.Database)},
		{"Server", fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)},
		{"Logging.Level", c.Logging.Level},
		{"Logging.Format", c.Logging.Format},
	}
}

// LogSummary writes one info line per configuration field
func (c *Config) LogSummary(logger *logging.Logger) {
	for _, f := range c.Fields() {
		logger.WithField("value", f.Value).Infof("config %s", f.Name)
	}
}

func mask(secret string) string {
	switch {
	case secret == "":
		return "<unset>"
	case len(secret) <= 4:
		return "****"
	default:
		return secret[:2] + "****" + secret[len(secret)-2:]
	}
}
