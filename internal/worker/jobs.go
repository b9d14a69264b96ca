package worker

import (
	"context"
	"fmt"

	"github.com/coin-tracker/internal/service"
)

// Job names
const (
	JobMarket  = "market"
	JobPublish = "publish"
)

// Synchronizer refreshes market snapshots
type Synchronizer interface {
	Synchronize(ctx context.Context) (*service.SyncResult, error)
}

// Valuator maintains portfolio holdings and valuations
type Valuator interface {
	AddNewCoins(ctx context.Context) (*service.ReconcileResult, error)
	RevalueAll(ctx context.Context) (*service.RevaluationResult, error)
}

// SummaryPublisher pushes the portfolio summary
type SummaryPublisher interface {
	Publish(ctx context.Context) (bool, error)
}

// MarketJob synchronizes snapshots, optionally buys newly listed coins, then revalues
// every portfolio. A failed step ends the run.
func MarketJob(sync Synchronizer, valuator Valuator, addNewCoins bool) JobFunc {
	return func(ctx context.Context) error {
		if _, err := sync.Synchronize(ctx); err != nil {
			return fmt.Errorf("synchronize: %w", err)
		}
		if addNewCoins {
			if _, err := valuator.AddNewCoins(ctx); err != nil {
				return fmt.Errorf("add new coins: %w", err)
			}
		}
		if _, err := valuator.RevalueAll(ctx); err != nil {
			return fmt.Errorf("revalue: %w", err)
		}
		return nil
	}
}

// PublishJob publishes the portfolio summary
func PublishJob(publisher SummaryPublisher) JobFunc {
	return func(ctx context.Context) error {
		_, err := publisher.Publish(ctx)
		return err
	}
}
