package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coin-tracker/internal/adapter"
	"github.com/coin-tracker/internal/logging"
	"github.com/coin-tracker/internal/models"
	"github.com/coin-tracker/internal/types"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// SentinelDate replaces ATH/ATL dates the market source leaves out
var SentinelDate = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// SnapshotStore is the storage contract of the synchronizer
type SnapshotStore interface {
	Count(ctx context.Context) (int, error)
	GetByID(ctx context.Context, id string) (*models.MarketSnapshot, error)
	Create(ctx context.Context, snapshot *models.MarketSnapshot) error
	Update(ctx context.Context, snapshot *models.MarketSnapshot) error
}

// SyncConfig holds synchronizer settings
type SyncConfig struct {
	PageSize           int
	MaxConcurrentPages int
	MinMarketCap       int64
}

// SyncResult summarises one synchronization run
type SyncResult struct {
	PagesRequested  int           `json:"pagesRequested"`
	PagesFailed     int           `json:"pagesFailed"`
	RecordsFetched  int           `json:"recordsFetched"`
	RecordsFiltered int           `json:"recordsFiltered"`
	RecordsSkipped  int           `json:"recordsSkipped"`
	RecordsAccepted int           `json:"recordsAccepted"`
	Created         int           `json:"created"`
	Updated         int           `json:"updated"`
	Duration        time.Duration `json:"duration"`
}

// MarketSynchronizer mirrors the market source into the snapshot store
type MarketSynchronizer struct {
	source       adapter.MarketSource
	store        SnapshotStore
	pageSize     int
	minMarketCap int64
	// sem bounds in-flight page requests across every run sharing this synchronizer
	sem *semaphore.Weighted
	now func() time.Time
}

// NewMarketSynchronizer creates a synchronizer. Non-positive sizes fall back to 250 records
// per page and 30 concurrent pages.
func NewMarketSynchronizer(source adapter.MarketSource, store SnapshotStore, cfg SyncConfig) *MarketSynchronizer {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 250
	}
	maxPages := cfg.MaxConcurrentPages
	if maxPages <= 0 {
		maxPages = 30
	}

	return &MarketSynchronizer{
		source:       source,
		store:        store,
		pageSize:     pageSize,
		minMarketCap: cfg.MinMarketCap,
		sem:          semaphore.NewWeighted(int64(maxPages)),
		now:          time.Now,
	}
}

// Synchronize fetches every page, keeps records above the market cap threshold and upserts
// them. Page and record failures are logged and dropped; a store failure aborts the run.
func (s *MarketSynchronizer) Synchronize(ctx context.Context) (*SyncResult, error) {
	logger := logging.FromContext(ctx).WithComponent("market-sync")
	start := time.Now()

	known, err := s.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count snapshots: %w", err)
	}

	result := &SyncResult{PagesRequested: known/s.pageSize + 1}

	records, malformed, failed := s.fetchPages(ctx, result.PagesRequested)
	result.PagesFailed = failed
	// rows the source could not decode were already logged there; they count as skipped
	result.RecordsFetched = len(records) + malformed
	result.RecordsSkipped = malformed

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("synchronization cancelled: %w", err)
	}

	for i := range records {
		rec := &records[i]
		if rec.MarketCapValue() <= float64(s.minMarketCap) {
			result.RecordsFiltered++
			continue
		}

		snapshot, err := Normalize(rec)
		if err != nil {
			result.RecordsSkipped++
			logger.WithError(err).WithField("coinId", rec.ID).Warn("Skipping malformed market record")
			continue
		}
		result.RecordsAccepted++

		created, err := s.upsert(ctx, snapshot)
		if err != nil {
			return nil, err
		}
		if created {
			result.Created++
		} else {
			result.Updated++
		}
	}

	result.Duration = time.Since(start)

	logger.WithFields(map[string]interface{}{
		"pages":       result.PagesRequested,
		"pagesFailed": result.PagesFailed,
		"fetched":     result.RecordsFetched,
		"filtered":    result.RecordsFiltered,
		"skipped":     result.RecordsSkipped,
		"created":     result.Created,
		"updated":     result.Updated,
		"duration":    result.Duration,
	}).Info("Market snapshots synchronized")

	return result, nil
}

// fetchPages requests pages 1..n concurrently and joins them in page order. It also
// returns the number of malformed rows and of failed pages; a failed page contributes
// no records.
func (s *MarketSynchronizer) fetchPages(ctx context.Context, n int) ([]types.MarketRecord, int, int) {
	logger := logging.FromContext(ctx).WithComponent("market-sync")
	pages := make([]*types.MarketPage, n)
	errs := make([]error, n)

	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if err := s.sem.Acquire(ctx, 1); err != nil {
				errs[i] = err
				return nil
			}
			defer s.sem.Release(1)

			pages[i], errs[i] = s.source.FetchPage(ctx, s.pageSize, i+1)
			return nil
		})
	}
	_ = g.Wait()

	var records []types.MarketRecord
	malformed, failed := 0, 0
	for i, page := range pages {
		if errs[i] != nil {
			failed++
			logger.WithError(errs[i]).WithField("page", i+1).Warn("Market page fetch failed")
			continue
		}
		if page == nil {
			continue
		}
		records = append(records, page.Records...)
		malformed += len(page.Malformed)
	}
	return records, malformed, failed
}

func (s *MarketSynchronizer) upsert(ctx context.Context, snapshot *models.MarketSnapshot) (bool, error) {
	existing, err := s.store.GetByID(ctx, snapshot.ID)
	if err != nil {
		return false, fmt.Errorf("failed to load snapshot %s: %w", snapshot.ID, err)
	}

	now := s.now().UTC()
	if existing == nil {
		snapshot.CreatedAt = now
		snapshot.UpdatedAt = now
		if err := s.store.Create(ctx, snapshot); err != nil {
			return false, fmt.Errorf("failed to create snapshot %s: %w", snapshot.ID, err)
		}
		return true, nil
	}

	snapshot.CreatedAt = existing.CreatedAt
	snapshot.UpdatedAt = now
	if err := s.store.Update(ctx, snapshot); err != nil {
		return false, fmt.Errorf("failed to update snapshot %s: %w", snapshot.ID, err)
	}
	return false, nil
}

// Normalize maps a raw record to a snapshot. Missing numbers become zero and missing
// dates become SentinelDate. Timestamps are left for the caller to set.
func Normalize(rec *types.MarketRecord) (*models.MarketSnapshot, error) {
	if strings.TrimSpace(rec.ID) == "" {
		return nil, fmt.Errorf("record has no id")
	}

	athDate, err := parseMarketDate(rec.ATHDate)
	if err != nil {
		return nil, fmt.Errorf("invalid ath_date: %w", err)
	}
	atlDate, err := parseMarketDate(rec.ATLDate)
	if err != nil {
		return nil, fmt.Errorf("invalid atl_date: %w", err)
	}

	return &models.MarketSnapshot{
		ID:                           rec.ID,
		Symbol:                       rec.Symbol,
		CurrentPrice:                 decimalOrZero(rec.CurrentPrice),
		MarketCap:                    decimalOrZero(rec.MarketCap).IntPart(),
		PriceChange24h:               decimalOrZero(rec.PriceChange24h),
		PriceChangePercentage24h:     decimalOrZero(rec.PriceChangePercentage24h),
		MarketCapChange24h:           decimalOrZero(rec.MarketCapChange24h),
		MarketCapChangePercentage24h: decimalOrZero(rec.MarketCapChangePercentage24h),
		ATH:                          decimalOrZero(rec.ATH),
		ATHChangePercentage:          decimalOrZero(rec.ATHChangePercentage),
		ATHDate:                      athDate,
		ATL:                          decimalOrZero(rec.ATL),
		ATLChangePercentage:          decimalOrZero(rec.ATLChangePercentage),
		ATLDate:                      atlDate,
	}, nil
}

func decimalOrZero(v *float64) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromFloat(*v)
}

func parseMarketDate(v *string) (time.Time, error) {
	if v == nil || *v == "" {
		return SentinelDate, nil
	}
	t, err := time.Parse(time.RFC3339Nano, *v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// snapshotsByID indexes snapshots for joins against holdings
func snapshotsByID(snapshots []*models.MarketSnapshot) map[string]*models.MarketSnapshot {
	out := make(map[string]*models.MarketSnapshot, len(snapshots))
	for _, s := range snapshots {
		out[s.ID] = s
	}
	return out
}
