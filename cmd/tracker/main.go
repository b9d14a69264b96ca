// Package main provides the tracker entry point: it keeps market snapshots fresh,
// revalues the portfolio and publishes its summary on a schedule.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coin-tracker/internal/adapter"
	"github.com/coin-tracker/internal/config"
	"github.com/coin-tracker/internal/logging"
	"github.com/coin-tracker/internal/ratelimit"
	"github.com/coin-tracker/internal/retry"
	"github.com/coin-tracker/internal/service"
	"github.com/coin-tracker/internal/storage"
	"github.com/coin-tracker/internal/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()

	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}
	cfg.LogSummary(logger)

	ctx, cancel := context.WithCancel(logging.WithLogger(context.Background(), logger))
	defer cancel()

	// Connect to stores, retrying while they come up
	connectRetry := &retry.RetryConfig{
		MaxAttempts:  10,
		InitialDelay: time.Second,
		MaxDelay:     15 * time.Second,
		Multiplier:   2,
	}

	var postgres *storage.PostgresDB
	err = retry.Do(ctx, connectRetry, func(ctx context.Context, attempt int) error {
		db, err := storage.NewPostgresDB(&cfg.Database.Postgres)
		if err != nil {
			logger.WithError(err).WithField("attempt", attempt).Warn("Postgres not ready")
			return err
		}
		postgres = db
		return nil
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	var redis *storage.RedisCache
	err = retry.Do(ctx, connectRetry, func(ctx context.Context, attempt int) error {
		cache, err := storage.NewRedisCache(&cfg.Database.Redis)
		if err != nil {
			logger.WithError(err).WithField("attempt", attempt).Warn("Redis not ready")
			return err
		}
		redis = cache
		return nil
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer func() {
		if err := redis.Close(); err != nil {
			logger.WithError(err).Warn("Error closing Redis connection")
		}
	}()

	if err := storage.RunMigrations(cfg.PostgresURL()); err != nil {
		logger.WithError(err).Fatal("Failed to run Postgres migrations")
	}

	marketRepo := storage.NewMarketRepository(postgres)
	portfolioRepo := storage.NewPortfolioRepository(postgres)

	// Wire the services
	source := adapter.NewCoinGeckoClient(&cfg.CoinGecko, cfg.Tracker.Currency)
	if cfg.CoinGecko.RequestsPerMinute > 0 {
		budget, err := ratelimit.NewBudgetTracker(&ratelimit.BudgetTrackerConfig{
			Redis:  redis.Client(),
			Name:   "coingecko",
			Budget: cfg.CoinGecko.RequestsPerMinute,
		})
		if err != nil {
			logger.WithError(err).Fatal("Failed to create CoinGecko request budget")
		}
		source.WithBudget(budget)
	}
	synchronizer := service.NewMarketSynchronizer(source, marketRepo, service.SyncConfig{
		PageSize:           cfg.Tracker.PageSize,
		MaxConcurrentPages: cfg.Tracker.MaxConcurrentPages,
		MinMarketCap:       cfg.Tracker.MinMarketCap,
	})
	engine := service.NewEngine(portfolioRepo, marketRepo, cfg.Tracker.BuyAmount)

	if cfg.Database.ClickHouse.Enabled {
		clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to ClickHouse")
		}
		defer func() {
			if err := clickhouse.Close(); err != nil {
				logger.WithError(err).Warn("Error closing ClickHouse connection")
			}
		}()
		if err := storage.RunClickHouseMigrations(ctx, clickhouse); err != nil {
			logger.WithError(err).Fatal("Failed to run ClickHouse migrations")
		}
		engine = engine.WithHistory(storage.NewValuationHistoryRepository(clickhouse))
		logger.Info("Valuation history enabled")
	}

	jobs := []worker.Job{{
		Name:      worker.JobMarket,
		Interval:  cfg.Tracker.MarketDataInterval,
		Run:       worker.MarketJob(synchronizer, engine, cfg.Tracker.AutoAddNewCoins),
		Exclusive: true,
	}}

	if cfg.Telegram.Enabled() && cfg.Tracker.PortfolioID != "" {
		telegram, err := adapter.NewTelegramPublisher(&cfg.Telegram)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Telegram publisher")
		}
		summaries := service.NewSummaryPublisher(
			service.NewSummaryBuilder(portfolioRepo, marketRepo),
			telegram,
			redis,
			service.SummaryPublisherConfig{
				PortfolioID: cfg.Tracker.PortfolioID,
				TopHoldings: cfg.Tracker.TopHoldings,
			},
		)
		jobs = append(jobs, worker.Job{
			Name:     worker.JobPublish,
			Interval: cfg.Tracker.PublishInterval,
			Run:      worker.PublishJob(summaries),
		})
	} else {
		logger.Info("Telegram publishing disabled")
	}

	scheduler, err := worker.NewScheduler(&worker.SchedulerConfig{
		Jobs:   jobs,
		Locker: redis,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create scheduler")
	}

	if err := scheduler.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start scheduler")
	}
	logger.WithField("jobs", len(jobs)).Info("Tracker started")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.WithField("signal", sig.String()).Info("Shutting down tracker")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Scheduler did not stop cleanly")
	}

	for _, st := range scheduler.Status() {
		logger.WithFields(map[string]interface{}{
			"job":       st.Name,
			"runs":      st.Runs,
			"failures":  st.Failures,
			"skipped":   st.Skipped,
			"lastError": st.LastError,
		}).Info("Job totals")
	}

	logger.Info("Tracker stopped")
}
