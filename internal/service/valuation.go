package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/coin-tracker/internal/errors"
	"github.com/coin-tracker/internal/logging"
	"github.com/coin-tracker/internal/models"
	"github.com/shopspring/decimal"
)

// PNLFloor is the lowest PNL percentage ever reported
var PNLFloor = decimal.RequireFromString("-99.9999")

var hundred = decimal.NewFromInt(100)

// ErrNonPositiveInvested is returned when a position has no cost basis to measure PNL against
var ErrNonPositiveInvested = errors.New("invested value must be greater than zero")

// PortfolioStore is the portfolio side of the storage contract
type PortfolioStore interface {
	Create(ctx context.Context, portfolio *models.Portfolio) error
	GetByID(ctx context.Context, id string) (*models.Portfolio, error)
	GetAll(ctx context.Context) ([]*models.Portfolio, error)
	CreateHoldings(ctx context.Context, holdings []models.PortfolioHolding, portfolio *models.PortfolioPatch) error
	UpdateHoldings(ctx context.Context, patches []models.HoldingPatch, portfolio *models.PortfolioPatch) error
}

// SnapshotReader is the read side of the snapshot store
type SnapshotReader interface {
	GetAll(ctx context.Context) ([]*models.MarketSnapshot, error)
	GetByID(ctx context.Context, id string) (*models.MarketSnapshot, error)
}

// HistoryRecorder receives valuation history after each portfolio pass
type HistoryRecorder interface {
	Record(ctx context.Context, records []models.ValuationRecord) error
}

// Revalue applies a new quote value to a valuation: running extrema of the quote value,
// PNL percentage floored at PNLFloor, absolute PNL, and the extrema of both PNL figures.
// The cost basis is carried over unchanged.
func Revalue(prev models.Valuation, quoteValue decimal.Decimal) (models.Valuation, error) {
	invested := prev.QuoteValueInvested
	if !invested.IsPositive() {
		return prev, ErrNonPositiveInvested
	}

	pnlValue := quoteValue.Sub(invested)
	pnlPct := decimal.Max(pnlValue.Div(invested).Mul(hundred), PNLFloor)

	next := prev
	next.QuoteValue = quoteValue
	next.QuoteValueATH = decimal.Max(prev.QuoteValueATH, quoteValue)
	next.QuoteValueATL = decimal.Min(prev.QuoteValueATL, quoteValue)
	next.PNLPercentage = pnlPct
	next.PNLPercentageATH = decimal.Max(prev.PNLPercentageATH, pnlPct)
	next.PNLPercentageATL = decimal.Min(prev.PNLPercentageATL, pnlPct)
	next.PNLQuoteValue = pnlValue
	next.PNLQuoteValueATH = decimal.Max(prev.PNLQuoteValueATH, pnlValue)
	next.PNLQuoteValueATL = decimal.Min(prev.PNLQuoteValueATL, pnlValue)
	return next, nil
}

// RevaluationResult summarises one RevalueAll pass
type RevaluationResult struct {
	Portfolios       int `json:"portfolios"`
	HoldingsRevalued int `json:"holdingsRevalued"`
	HoldingsSkipped  int `json:"holdingsSkipped"`
}

// ReconcileResult summarises one AddNewCoins pass
type ReconcileResult struct {
	Portfolios    int `json:"portfolios"`
	HoldingsAdded int `json:"holdingsAdded"`
	// SnapshotsSkipped counts snapshots left out for having no positive price
	SnapshotsSkipped int `json:"snapshotsSkipped"`
}

// Engine recomputes portfolio valuations from stored market snapshots
type Engine struct {
	portfolios PortfolioStore
	snapshots  SnapshotReader
	history    HistoryRecorder
	buyAmount  decimal.Decimal
	now        func() time.Time
}

// NewEngine creates a valuation engine. buyAmount sizes holdings created by AddNewCoins.
func NewEngine(portfolios PortfolioStore, snapshots SnapshotReader, buyAmount decimal.Decimal) *Engine {
	return &Engine{
		portfolios: portfolios,
		snapshots:  snapshots,
		buyAmount:  buyAmount,
		now:        time.Now,
	}
}

// WithHistory sets the recorder that receives valuation history
func (e *Engine) WithHistory(history HistoryRecorder) *Engine {
	e.history = history
	return e
}

// RevalueAll revalues every holding of every portfolio against the current snapshots,
// then each portfolio against the sum of its revalued holdings.
func (e *Engine) RevalueAll(ctx context.Context) (*RevaluationResult, error) {
	logger := logging.FromContext(ctx).WithComponent("valuation")

	snapshots, err := e.snapshots.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshots: %w", err)
	}
	byID := snapshotsByID(snapshots)

	portfolios, err := e.portfolios.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load portfolios: %w", err)
	}

	result := &RevaluationResult{}
	for _, p := range portfolios {
		revalued, skipped, err := e.revaluePortfolio(ctx, p, byID)
		if err != nil {
			return nil, err
		}
		result.Portfolios++
		result.HoldingsRevalued += revalued
		result.HoldingsSkipped += skipped
	}

	logger.WithFields(map[string]interface{}{
		"portfolios": result.Portfolios,
		"revalued":   result.HoldingsRevalued,
		"skipped":    result.HoldingsSkipped,
	}).Info("Portfolios revalued")

	return result, nil
}

func (e *Engine) revaluePortfolio(ctx context.Context, p *models.Portfolio, snapshots map[string]*models.MarketSnapshot) (int, int, error) {
	logger := logging.FromContext(ctx).WithField("portfolioId", p.ID)

	updated := make([]models.PortfolioHolding, 0, len(p.Holdings))
	positions := make([]int, 0, len(p.Holdings))
	patches := make([]models.HoldingPatch, 0, len(p.Holdings))
	total := decimal.Zero
	skipped := 0

	for i, h := range p.Holdings {
		snapshot, ok := snapshots[h.CoinID]
		if !ok {
			skipped++
			logger.WithField("coinId", h.CoinID).Info("No market snapshot for holding, skipping")
			continue
		}

		quoteValue := h.Quantity.Mul(snapshot.CurrentPrice)
		next, err := Revalue(h.Valuation, quoteValue)
		if err != nil {
			return 0, 0, apperrors.NewDataIntegrityError("holding", h.ID, err.Error())
		}

		h.Valuation = next
		updated = append(updated, h)
		positions = append(positions, i)
		patches = append(patches, models.HoldingPatch{
			HoldingID: h.ID,
			Valuation: models.PatchFromValuation(next),
		})
		total = total.Add(quoteValue)
	}

	if len(patches) == 0 {
		return 0, skipped, nil
	}

	next, err := Revalue(p.Valuation, total)
	if err != nil {
		return 0, 0, apperrors.NewDataIntegrityError("portfolio", p.ID, err.Error())
	}

	portfolioPatch := models.PortfolioPatch{
		PortfolioID: p.ID,
		Valuation:   models.PatchFromValuation(next),
	}
	if err := e.portfolios.UpdateHoldings(ctx, patches, &portfolioPatch); err != nil {
		return 0, 0, fmt.Errorf("failed to persist portfolio %s: %w", p.ID, err)
	}

	p.Valuation = next
	for i, h := range updated {
		p.Holdings[positions[i]] = h
	}
	e.recordHistory(ctx, p, updated)

	return len(patches), skipped, nil
}

func (e *Engine) recordHistory(ctx context.Context, p *models.Portfolio, holdings []models.PortfolioHolding) {
	if e.history == nil {
		return
	}

	at := e.now().UTC()
	records := make([]models.ValuationRecord, 0, len(holdings)+1)
	for _, h := range holdings {
		records = append(records, models.HoldingRecord(h, at))
	}
	records = append(records, models.PortfolioRecord(*p, at))

	if err := e.history.Record(ctx, records); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("portfolioId", p.ID).Warn("Failed to record valuation history")
	}
}

// AddNewCoins buys buyAmount worth of every snapshot a portfolio does not hold yet.
// Existing holdings are never touched.
func (e *Engine) AddNewCoins(ctx context.Context) (*ReconcileResult, error) {
	snapshots, err := e.snapshots.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshots: %w", err)
	}

	portfolios, err := e.portfolios.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load portfolios: %w", err)
	}

	result := &ReconcileResult{}
	for _, p := range portfolios {
		added, skipped, err := e.addNewCoins(ctx, p, snapshots)
		if err != nil {
			return nil, err
		}
		result.Portfolios++
		result.HoldingsAdded += added
		result.SnapshotsSkipped += skipped
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"portfolios": result.Portfolios,
		"added":      result.HoldingsAdded,
		"skipped":    result.SnapshotsSkipped,
	}).Info("New coins added to portfolios")

	return result, nil
}

func (e *Engine) addNewCoins(ctx context.Context, p *models.Portfolio, snapshots []*models.MarketSnapshot) (int, int, error) {
	held := p.CoinIDs()
	buy := e.buyAmount

	var holdings []models.PortfolioHolding
	skipped := 0
	for _, s := range snapshots {
		if _, ok := held[s.ID]; ok {
			continue
		}
		if !s.CurrentPrice.IsPositive() {
			skipped++
			logging.FromContext(ctx).WithField("coinId", s.ID).Debug("Snapshot has no price, not buying")
			continue
		}

		quantity := buy.Div(s.CurrentPrice)
		holdings = append(holdings, models.PortfolioHolding{
			PortfolioID: p.ID,
			CoinID:      s.ID,
			Quantity:    quantity,
			QuantityATH: quantity,
			QuantityATL: quantity,
			Valuation: models.Valuation{
				QuoteValue:         buy,
				QuoteValueATH:      buy,
				QuoteValueATL:      buy,
				QuoteValueInvested: buy,
			},
		})
	}

	if len(holdings) == 0 {
		return 0, skipped, nil
	}

	added := buy.Mul(decimal.NewFromInt(int64(len(holdings))))
	next := p.Valuation
	next.QuoteValue = p.QuoteValue.Add(added)
	next.QuoteValueInvested = p.QuoteValueInvested.Add(added)
	if p.QuoteValueInvested.IsPositive() {
		next.QuoteValueATH = decimal.Max(p.QuoteValueATH, next.QuoteValue)
		next.QuoteValueATL = decimal.Min(p.QuoteValueATL, next.QuoteValue)
	} else {
		next.QuoteValueATH = next.QuoteValue
		next.QuoteValueATL = next.QuoteValue
	}

	patch := models.PortfolioPatch{
		PortfolioID: p.ID,
		Valuation: models.ValuationPatch{
			QuoteValue:         &next.QuoteValue,
			QuoteValueATH:      &next.QuoteValueATH,
			QuoteValueATL:      &next.QuoteValueATL,
			QuoteValueInvested: &next.QuoteValueInvested,
		},
	}
	if err := e.portfolios.CreateHoldings(ctx, holdings, &patch); err != nil {
		return 0, 0, fmt.Errorf("failed to add holdings to portfolio %s: %w", p.ID, err)
	}

	p.Valuation = next
	p.Holdings = append(p.Holdings, holdings...)

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"portfolioId": p.ID,
		"added":       len(holdings),
		"invested":    added.String(),
	}).Info("Bought new coins")

	return len(holdings), skipped, nil
}
