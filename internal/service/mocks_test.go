package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "github.com/coin-tracker/internal/errors"
	"github.com/coin-tracker/internal/models"
	"github.com/coin-tracker/internal/types"
	"github.com/shopspring/decimal"
)

// Mock collaborators for testing

type mockMarketSource struct {
	mu       sync.Mutex
	pages    map[int][]types.MarketRecord
	failures map[int]error
	delay    time.Duration
	inFlight int
	peak     int
	calls    []int
}

func newMockMarketSource() *mockMarketSource {
	return &mockMarketSource{
		pages:    make(map[int][]types.MarketRecord),
		failures: make(map[int]error),
	}
}

func (m *mockMarketSource) FetchPage(ctx context.Context, pageSize, page int) (*types.MarketPage, error) {
	m.mu.Lock()
	m.inFlight++
	if m.inFlight > m.peak {
		m.peak = m.inFlight
	}
	m.calls = append(m.calls, page)
	m.mu.Unlock()

	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight--

	if err, ok := m.failures[page]; ok {
		return nil, err
	}
	return &types.MarketPage{Records: m.pages[page]}, nil
}

type mockSnapshotStore struct {
	mu        sync.Mutex
	snapshots map[string]*models.MarketSnapshot
	failOn    string
	creates   int
	updates   int
}

func newMockSnapshotStore() *mockSnapshotStore {
	return &mockSnapshotStore{snapshots: make(map[string]*models.MarketSnapshot)}
}

func (m *mockSnapshotStore) put(s *models.MarketSnapshot) {
	m.snapshots[s.ID] = s
}

func (m *mockSnapshotStore) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snapshots), nil
}

func (m *mockSnapshotStore) GetByID(ctx context.Context, id string) (*models.MarketSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.snapshots[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (m *mockSnapshotStore) GetAll(ctx context.Context) ([]*models.MarketSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.MarketSnapshot, 0, len(m.snapshots))
	for _, s := range m.snapshots {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MarketCap != out[j].MarketCap {
			return out[i].MarketCap > out[j].MarketCap
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *mockSnapshotStore) Create(ctx context.Context, s *models.MarketSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == m.failOn {
		return apperrors.NewDatabaseError("create market snapshot", fmt.Errorf("connection reset"))
	}
	cp := *s
	m.snapshots[s.ID] = &cp
	m.creates++
	return nil
}

func (m *mockSnapshotStore) Update(ctx context.Context, s *models.MarketSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == m.failOn {
		return apperrors.NewDatabaseError("update market snapshot", fmt.Errorf("connection reset"))
	}
	if _, ok := m.snapshots[s.ID]; !ok {
		return apperrors.NewNotFoundError("market snapshot", s.ID)
	}
	cp := *s
	m.snapshots[s.ID] = &cp
	m.updates++
	return nil
}

type mockPortfolioStore struct {
	portfolios map[string]*models.Portfolio
	failWrites error
	nextID     int
	holdingOps int
}

func newMockPortfolioStore(portfolios ...*models.Portfolio) *mockPortfolioStore {
	m := &mockPortfolioStore{portfolios: make(map[string]*models.Portfolio)}
	for _, p := range portfolios {
		m.portfolios[p.ID] = p
	}
	return m
}

func clonePortfolio(p *models.Portfolio) *models.Portfolio {
	cp := *p
	cp.Holdings = append([]models.PortfolioHolding(nil), p.Holdings...)
	return &cp
}

func (m *mockPortfolioStore) Create(ctx context.Context, p *models.Portfolio) error {
	if m.failWrites != nil {
		return m.failWrites
	}
	m.portfolios[p.ID] = clonePortfolio(p)
	return nil
}

func (m *mockPortfolioStore) GetByID(ctx context.Context, id string) (*models.Portfolio, error) {
	if p, ok := m.portfolios[id]; ok {
		return clonePortfolio(p), nil
	}
	return nil, apperrors.NewNotFoundError("portfolio", id)
}

func (m *mockPortfolioStore) GetAll(ctx context.Context) ([]*models.Portfolio, error) {
	ids := make([]string, 0, len(m.portfolios))
	for id := range m.portfolios {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*models.Portfolio, 0, len(ids))
	for _, id := range ids {
		out = append(out, clonePortfolio(m.portfolios[id]))
	}
	return out, nil
}

func (m *mockPortfolioStore) CreateHoldings(ctx context.Context, holdings []models.PortfolioHolding, patch *models.PortfolioPatch) error {
	if m.failWrites != nil {
		return m.failWrites
	}
	m.holdingOps++
	for _, h := range holdings {
		p, ok := m.portfolios[h.PortfolioID]
		if !ok {
			return apperrors.NewNotFoundError("portfolio", h.PortfolioID)
		}
		if h.ID == "" {
			m.nextID++
			h.ID = fmt.Sprintf("h%d", m.nextID)
		}
		p.Holdings = append(p.Holdings, h)
	}
	return m.applyPortfolioPatch(patch)
}

func (m *mockPortfolioStore) UpdateHoldings(ctx context.Context, patches []models.HoldingPatch, patch *models.PortfolioPatch) error {
	if m.failWrites != nil {
		return m.failWrites
	}
	m.holdingOps++
	for _, hp := range patches {
		h := m.findHolding(hp.HoldingID)
		if h == nil {
			return apperrors.NewNotFoundError("holding", hp.HoldingID)
		}
		for _, f := range hp.Fields() {
			setColumn(&h.Valuation, f)
		}
	}
	return m.applyPortfolioPatch(patch)
}

func (m *mockPortfolioStore) applyPortfolioPatch(patch *models.PortfolioPatch) error {
	if patch == nil {
		return nil
	}
	p, ok := m.portfolios[patch.PortfolioID]
	if !ok {
		return apperrors.NewNotFoundError("portfolio", patch.PortfolioID)
	}
	for _, f := range patch.Fields() {
		setColumn(&p.Valuation, f)
	}
	return nil
}

func (m *mockPortfolioStore) findHolding(id string) *models.PortfolioHolding {
	for _, p := range m.portfolios {
		for i := range p.Holdings {
			if p.Holdings[i].ID == id {
				return &p.Holdings[i]
			}
		}
	}
	return nil
}

func setColumn(v *models.Valuation, f models.PatchField) {
	switch f.Column {
	case "quote_value":
		v.QuoteValue = f.Value
	case "quote_value_ath":
		v.QuoteValueATH = f.Value
	case "quote_value_atl":
		v.QuoteValueATL = f.Value
	case "quote_value_invested":
		v.QuoteValueInvested = f.Value
	case "pnl_percentage":
		v.PNLPercentage = f.Value
	case "pnl_percentage_ath":
		v.PNLPercentageATH = f.Value
	case "pnl_percentage_atl":
		v.PNLPercentageATL = f.Value
	case "pnl_quote_value":
		v.PNLQuoteValue = f.Value
	case "pnl_quote_value_ath":
		v.PNLQuoteValueATH = f.Value
	case "pnl_quote_value_atl":
		v.PNLQuoteValueATL = f.Value
	}
}

type mockHistoryRecorder struct {
	records []models.ValuationRecord
	err     error
}

func (m *mockHistoryRecorder) Record(ctx context.Context, records []models.ValuationRecord) error {
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, records...)
	return nil
}

type mockPublisher struct {
	texts    []string
	failures []error
}

func (m *mockPublisher) Publish(ctx context.Context, text string) error {
	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		return err
	}
	m.texts = append(m.texts, text)
	return nil
}

// Test fixtures

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func f64(v float64) *float64 {
	return &v
}

func str(v string) *string {
	return &v
}

func marketRecord(id string, price, marketCap float64) types.MarketRecord {
	return types.MarketRecord{
		ID:           id,
		Symbol:       id,
		CurrentPrice: f64(price),
		MarketCap:    f64(marketCap),
		ATHDate:      str("2021-11-10T14:24:11.849Z"),
		ATLDate:      str("2013-07-06T00:00:00.000Z"),
	}
}

func snapshot(id, price string, marketCap int64) *models.MarketSnapshot {
	return &models.MarketSnapshot{
		ID:           id,
		Symbol:       id,
		CurrentPrice: dec(price),
		MarketCap:    marketCap,
	}
}

// boughtHolding is a holding as AddNewCoins creates it
func boughtHolding(id, portfolioID, coinID, quantity, invested string) models.PortfolioHolding {
	return models.PortfolioHolding{
		ID:          id,
		PortfolioID: portfolioID,
		CoinID:      coinID,
		Quantity:    dec(quantity),
		QuantityATH: dec(quantity),
		QuantityATL: dec(quantity),
		Valuation: models.Valuation{
			QuoteValue:         dec(invested),
			QuoteValueATH:      dec(invested),
			QuoteValueATL:      dec(invested),
			QuoteValueInvested: dec(invested),
		},
	}
}
