// Package api provides the read-only HTTP API of the coin tracker.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/coin-tracker/internal/logging"
	"github.com/coin-tracker/internal/models"
	"github.com/coin-tracker/internal/service"
	"github.com/gorilla/mux"
)

// Service interfaces for dependency injection and testing

// PortfolioReader reads portfolios with their holdings
type PortfolioReader interface {
	GetAll(ctx context.Context) ([]*models.Portfolio, error)
	GetByID(ctx context.Context, id string) (*models.Portfolio, error)
	// GetHolding returns nil and no error when the portfolio holds no such coin
	GetHolding(ctx context.Context, portfolioID, coinID string) (*models.PortfolioHolding, error)
}

// MarketReader reads market snapshots
type MarketReader interface {
	GetTop(ctx context.Context, limit int) ([]*models.MarketSnapshot, error)
	GetByID(ctx context.Context, id string) (*models.MarketSnapshot, error)
}

// SummaryReader builds portfolio summaries
type SummaryReader interface {
	Build(ctx context.Context, portfolioID string, n int) (*service.Summary, error)
}

// HistoryReader reads valuation history
type HistoryReader interface {
	GetPortfolioHistory(ctx context.Context, portfolioID string, since time.Time, limit int) ([]models.ValuationRecord, error)
}

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the stores and services behind the API. History and Checks are optional.
type Dependencies struct {
	Portfolios PortfolioReader
	Market     MarketReader
	Summaries  SummaryReader
	History    HistoryReader
	Checks     map[string]Pinger
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	deps       Dependencies
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	RequestsPerSecond int
	Burst             int
	TopHoldings       int // default summary size
}

// DefaultServerConfig returns timeouts and limits suitable for a small read API
func DefaultServerConfig(host, port string) *ServerConfig {
	return &ServerConfig{
		Host:              host,
		Port:              port,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		RequestsPerSecond: 10,
		Burst:             20,
		TopHoldings:       5,
	}
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, deps Dependencies) *Server {
	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
		config: config,
	}

	s.setupRouter()

	return s
}

// Handler returns the routed handler with every middleware applied
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSecond, s.config.Burst)

	// Set up middleware (order matters!)
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodOptions)

	api := s.router.PathPrefix("/api").Subrouter()

	// Portfolio endpoints
	api.HandleFunc("/portfolios", s.handleListPortfolios).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/portfolios/{id}", s.handleGetPortfolio).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/portfolios/{id}/summary", s.handleGetSummary).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/portfolios/{id}/history", s.handleGetHistory).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/portfolios/{id}/holdings/{coinId}", s.handleGetHolding).Methods(http.MethodGet, http.MethodOptions)

	// Market endpoints
	api.HandleFunc("/market", s.handleListMarket).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/market/{id}", s.handleGetMarket).Methods(http.MethodGet, http.MethodOptions)
}

// handleHealth pings every configured store. Any failure turns the status to degraded.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(s.deps.Checks))
	for name := range s.deps.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "healthy"
	code := http.StatusOK
	checks := make(map[string]string, len(names))
	for _, name := range names {
		if err := s.deps.Checks[name].Ping(ctx); err != nil {
			checks[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	respondJSON(w, code, map[string]interface{}{
		"status":  status,
		"service": "coin-tracker",
		"checks":  checks,
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
