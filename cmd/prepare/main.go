// Package main prepares a fresh installation: it migrates the database, loads the
// market once, creates a portfolio, buys every eligible coin and records the new
// portfolio id in the env file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coin-tracker/internal/adapter"
	"github.com/coin-tracker/internal/config"
	"github.com/coin-tracker/internal/logging"
	"github.com/coin-tracker/internal/ratelimit"
	"github.com/coin-tracker/internal/service"
	"github.com/coin-tracker/internal/storage"
	"github.com/joho/godotenv"
)

func main() {
	envFile := flag.String("env", ".env", "Env file to record PORTFOLIO_ID in")
	force := flag.Bool("force", false, "Create a new portfolio even if PORTFOLIO_ID is already set")
	flag.Parse()

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
	if cfg.Tracker.PortfolioID != "" && !*force {
		logger.WithField("portfolioId", cfg.Tracker.PortfolioID).Fatal("PORTFOLIO_ID is already set, pass -force to create another portfolio")
	}

	ctx, stop := signal.NotifyContext(logging.WithLogger(context.Background(), logger), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := storage.RunMigrations(cfg.PostgresURL()); err != nil {
		logger.WithError(err).Fatal("Failed to run Postgres migrations")
	}

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	marketRepo := storage.NewMarketRepository(postgres)
	portfolioRepo := storage.NewPortfolioRepository(postgres)

	source := adapter.NewCoinGeckoClient(&cfg.CoinGecko, cfg.Tracker.Currency)
	if cfg.CoinGecko.RequestsPerMinute > 0 {
		// share the budget with a tracker that may already be running
		redis, err := storage.NewRedisCache(&cfg.Database.Redis)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer func() {
			_ = redis.Close() // nolint:errcheck // cleanup in defer
		}()
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

	synchronizer := service.NewMarketSynchronizer(
		source,
		marketRepo,
		service.SyncConfig{
			PageSize:           cfg.Tracker.PageSize,
			MaxConcurrentPages: cfg.Tracker.MaxConcurrentPages,
			MinMarketCap:       cfg.Tracker.MinMarketCap,
		},
	)
	syncResult, err := synchronizer.Synchronize(ctx)
	if err != nil {
		logger.WithError(err).Fatal("Initial market synchronization failed")
	}
	if syncResult.RecordsAccepted == 0 {
		logger.Fatal("Market synchronization stored no coins, nothing to buy")
	}

	portfolio, err := service.NewPortfolioSetup(portfolioRepo).CreatePortfolio(ctx)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create portfolio")
	}

	reconcile, err := service.NewEngine(portfolioRepo, marketRepo, cfg.Tracker.BuyAmount).AddNewCoins(ctx)
	if err != nil {
		logger.WithError(err).Fatal("Failed to buy initial holdings")
	}

	if err := recordPortfolioID(*envFile, portfolio.ID); err != nil {
		logger.WithError(err).WithField("portfolioId", portfolio.ID).Fatal("Failed to record PORTFOLIO_ID")
	}

	logger.WithFields(map[string]interface{}{
		"portfolioId": portfolio.ID,
		"holdings":    reconcile.HoldingsAdded,
		"envFile":     *envFile,
	}).Info("Portfolio prepared")
}

// recordPortfolioID sets PORTFOLIO_ID in the env file, keeping every other entry
func recordPortfolioID(path, id string) error {
	env, err := godotenv.Read(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		env = map[string]string{}
	}

	env["PORTFOLIO_ID"] = id

	if err := godotenv.Write(env, path); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
