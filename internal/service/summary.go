package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	apperrors "github.com/coin-tracker/internal/errors"
	"github.com/coin-tracker/internal/logging"
	"github.com/coin-tracker/internal/models"
	"github.com/coin-tracker/internal/retry"
	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

// loserFloor excludes wiped-out holdings from the losers list
var loserFloor = decimal.NewFromInt(-99)

// SummaryLine is one ranked holding of a summary
type SummaryLine struct {
	CoinID        string          `json:"coinId"`
	Symbol        string          `json:"symbol"`
	QuoteValue    decimal.Decimal `json:"quoteValue"`
	PNLQuoteValue decimal.Decimal `json:"pnlQuoteValue"`
	PNLPercentage decimal.Decimal `json:"pnlPercentage"`
}

// Summary is the published view of one portfolio
type Summary struct {
	PortfolioID        string          `json:"portfolioId"`
	QuoteValue         decimal.Decimal `json:"quoteValue"`
	QuoteValueInvested decimal.Decimal `json:"quoteValueInvested"`
	PNLPercentage      decimal.Decimal `json:"pnlPercentage"`
	PNLQuoteValueATH   decimal.Decimal `json:"pnlQuoteValueAth"`
	PNLPercentageATH   decimal.Decimal `json:"pnlPercentageAth"`
	PNLQuoteValueATL   decimal.Decimal `json:"pnlQuoteValueAtl"`
	PNLPercentageATL   decimal.Decimal `json:"pnlPercentageAtl"`
	Tokens             int             `json:"tokens"`
	Gainers            []SummaryLine   `json:"gainers"`
	Losers             []SummaryLine   `json:"losers"`
}

// TopGainers returns up to n holdings with the highest quote value, highest first
func TopGainers(holdings []models.PortfolioHolding, n int) []models.PortfolioHolding {
	ranked := append([]models.PortfolioHolding(nil), holdings...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if c := ranked[i].QuoteValue.Cmp(ranked[j].QuoteValue); c != 0 {
			return c > 0
		}
		return ranked[i].CoinID < ranked[j].CoinID
	})
	return head(ranked, n)
}

// TopLosers returns up to n holdings with the lowest quote value, lowest first.
// Holdings at or below -99% PNL are left out.
func TopLosers(holdings []models.PortfolioHolding, n int) []models.PortfolioHolding {
	ranked := make([]models.PortfolioHolding, 0, len(holdings))
	for _, h := range holdings {
		if h.PNLPercentage.GreaterThan(loserFloor) {
			ranked = append(ranked, h)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if c := ranked[i].QuoteValue.Cmp(ranked[j].QuoteValue); c != 0 {
			return c < 0
		}
		return ranked[i].CoinID < ranked[j].CoinID
	})
	return head(ranked, n)
}

func head(h []models.PortfolioHolding, n int) []models.PortfolioHolding {
	if n < 0 {
		n = 0
	}
	if len(h) > n {
		return h[:n]
	}
	return h
}

// SummaryBuilder assembles summaries from stored portfolios and snapshots
type SummaryBuilder struct {
	portfolios PortfolioStore
	snapshots  SnapshotReader
}

// NewSummaryBuilder creates a summary builder
func NewSummaryBuilder(portfolios PortfolioStore, snapshots SnapshotReader) *SummaryBuilder {
	return &SummaryBuilder{portfolios: portfolios, snapshots: snapshots}
}

// Build loads a portfolio and ranks its top n gainers and losers
func (b *SummaryBuilder) Build(ctx context.Context, portfolioID string, n int) (*Summary, error) {
	p, err := b.portfolios.GetByID(ctx, portfolioID)
	if err != nil {
		return nil, err
	}

	gainers, err := b.lines(ctx, TopGainers(p.Holdings, n))
	if err != nil {
		return nil, err
	}
	losers, err := b.lines(ctx, TopLosers(p.Holdings, n))
	if err != nil {
		return nil, err
	}

	return &Summary{
		PortfolioID:        p.ID,
		QuoteValue:         p.QuoteValue,
		QuoteValueInvested: p.QuoteValueInvested,
		PNLPercentage:      p.PNLPercentage,
		PNLQuoteValueATH:   p.PNLQuoteValueATH,
		PNLPercentageATH:   p.PNLPercentageATH,
		PNLQuoteValueATL:   p.PNLQuoteValueATL,
		PNLPercentageATL:   p.PNLPercentageATL,
		Tokens:             len(p.Holdings),
		Gainers:            gainers,
		Losers:             losers,
	}, nil
}

func (b *SummaryBuilder) lines(ctx context.Context, holdings []models.PortfolioHolding) ([]SummaryLine, error) {
	lines := make([]SummaryLine, 0, len(holdings))
	for _, h := range holdings {
		symbol := h.CoinID
		snapshot, err := b.snapshots.GetByID(ctx, h.CoinID)
		if err != nil {
			return nil, fmt.Errorf("failed to load snapshot %s: %w", h.CoinID, err)
		}
		if snapshot != nil && snapshot.Symbol != "" {
			symbol = snapshot.Symbol
		}

		lines = append(lines, SummaryLine{
			CoinID:        h.CoinID,
			Symbol:        strings.ToUpper(symbol),
			QuoteValue:    h.QuoteValue,
			PNLQuoteValue: h.QuoteValue.Sub(h.QuoteValueInvested),
			PNLPercentage: h.PNLPercentage,
		})
	}
	return lines, nil
}

// RenderSummary formats a summary as the plain-text channel message
func RenderSummary(s *Summary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Balance: %s$ (%s%%)\n\n", amount(s.QuoteValue), signed("+####.##", s.PNLPercentage))

	fmt.Fprintf(&b, "Top %d gainers:\n", len(s.Gainers))
	writeLines(&b, s.Gainers)
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Top %d losers:\n", len(s.Losers))
	writeLines(&b, s.Losers)
	b.WriteString("\n\n")

	b.WriteString("Total:\n")
	fmt.Fprintf(&b, "\tInvested %s$\n", amount(s.QuoteValueInvested))
	fmt.Fprintf(&b, "\tTokens %d\n", s.Tokens)
	fmt.Fprintf(&b, "\tATH profit %s$ (%s%%)\n", signedAmount(s.PNLQuoteValueATH), signedAmount(s.PNLPercentageATH))
	fmt.Fprintf(&b, "\tATL profit %s$ (%s%%)\n\n", signedAmount(s.PNLQuoteValueATL), signedAmount(s.PNLPercentageATL))

	return b.String()
}

func writeLines(b *strings.Builder, lines []SummaryLine) {
	for i, l := range lines {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(b, "\t$%s %s$ (%s$)", l.Symbol, amount(l.QuoteValue), signedAmount(l.PNLQuoteValue))
	}
}

func amount(d decimal.Decimal) string {
	return humanize.FormatFloat("#,###.##", d.InexactFloat64())
}

func signedAmount(d decimal.Decimal) string {
	return signed("+#,###.##", d)
}

// signed renders d with an explicit sign, zero included
func signed(format string, d decimal.Decimal) string {
	s := humanize.FormatFloat(format, d.InexactFloat64())
	if !strings.HasPrefix(s, "+") && !strings.HasPrefix(s, "-") {
		s = "+" + s
	}
	return s
}

// Publisher delivers a rendered summary
type Publisher interface {
	Publish(ctx context.Context, text string) error
}

// DigestCache remembers the digest of the last published message
type DigestCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// SummaryPublisherConfig holds publishing settings
type SummaryPublisherConfig struct {
	PortfolioID string
	TopHoldings int
	// DigestTTL bounds how long an unchanged message is suppressed
	DigestTTL time.Duration
	Retry     *retry.RetryConfig
}

// SummaryPublisher renders a portfolio summary and pushes it when it changed
type SummaryPublisher struct {
	builder   *SummaryBuilder
	publisher Publisher
	cache     DigestCache
	cfg       SummaryPublisherConfig
}

// NewSummaryPublisher creates a summary publisher. cache may be nil.
func NewSummaryPublisher(builder *SummaryBuilder, publisher Publisher, cache DigestCache, cfg SummaryPublisherConfig) *SummaryPublisher {
	if cfg.TopHoldings <= 0 {
		cfg.TopHoldings = 5
	}
	if cfg.DigestTTL <= 0 {
		cfg.DigestTTL = 24 * time.Hour
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.DefaultRetryConfig()
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = apperrors.IsRetryable
	}
	return &SummaryPublisher{builder: builder, publisher: publisher, cache: cache, cfg: cfg}
}

// Publish builds and delivers the summary. It reports whether a message was sent;
// an unchanged summary is not sent again.
func (p *SummaryPublisher) Publish(ctx context.Context) (bool, error) {
	logger := logging.FromContext(ctx).WithField("portfolioId", p.cfg.PortfolioID)

	summary, err := p.builder.Build(ctx, p.cfg.PortfolioID, p.cfg.TopHoldings)
	if err != nil {
		return false, fmt.Errorf("failed to build summary: %w", err)
	}
	text := RenderSummary(summary)
	digest := digestOf(text)
	key := "summary:digest:" + p.cfg.PortfolioID

	if p.cache != nil {
		last, err := p.cache.Get(ctx, key)
		if err != nil {
			logger.WithError(err).Warn("Failed to read summary digest, publishing anyway")
		} else if last == digest {
			logger.Debug("Summary unchanged, not publishing")
			return false, nil
		}
	}

	err = retry.Do(ctx, p.cfg.Retry, func(ctx context.Context, attempt int) error {
		return p.publisher.Publish(ctx, text)
	})
	if err != nil {
		return false, fmt.Errorf("failed to publish summary: %w", err)
	}

	if p.cache != nil {
		if err := p.cache.Set(ctx, key, digest, p.cfg.DigestTTL); err != nil {
			logger.WithError(err).Warn("Failed to store summary digest")
		}
	}

	logger.WithFields(map[string]interface{}{
		"gainers": len(summary.Gainers),
		"losers":  len(summary.Losers),
	}).Info("Summary published")
	return true, nil
}

func digestOf(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
