// Command server serves the read-only tracker API: portfolios, summaries, valuation
// history and market snapshots.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/coin-tracker/internal/api"
	"github.com/coin-tracker/internal/config"
	"github.com/coin-tracker/internal/logging"
	"github.com/coin-tracker/internal/service"
	"github.com/coin-tracker/internal/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger().WithComponent("server")

	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}
	cfg.LogSummary(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("Server stopped with error")
	}
	logger.Info("Server exited")
}

// run serves until ctx is cancelled, then drains in-flight requests
func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		return err
	}
	defer postgres.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		return err
	}
	defer func() {
		_ = redis.Close() // nolint:errcheck // closing on the way out
	}()

	markets := storage.NewMarketRepository(postgres)
	portfolios := storage.NewPortfolioRepository(postgres)

	deps := api.Dependencies{
		Portfolios: portfolios,
		Market:     markets,
		Summaries:  service.NewSummaryBuilder(portfolios, markets),
		Checks: map[string]api.Pinger{
			"postgres": postgres,
			"redis":    redis,
		},
	}

	if cfg.Database.ClickHouse.Enabled {
		clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
		if err != nil {
			return err
		}
		defer func() {
			_ = clickhouse.Close() // nolint:errcheck // closing on the way out
		}()
		deps.History = storage.NewValuationHistoryRepository(clickhouse)
		deps.Checks["clickhouse"] = clickhouse
	}

	serverConfig := api.DefaultServerConfig(cfg.Server.Host, cfg.Server.Port)
	serverConfig.TopHoldings = cfg.Tracker.TopHoldings
	server := api.NewServer(serverConfig, deps)

	serveErr := make(chan error, 1)
	go func() {
		logger.WithFields(map[string]interface{}{
			"host":    cfg.Server.Host,
			"port":    cfg.Server.Port,
			"history": deps.History != nil,
		}).Info("Listening")
		serveErr <- server.Start()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
