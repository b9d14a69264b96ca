package service

import (
	"context"
	"fmt"

	"github.com/coin-tracker/internal/logging"
	"github.com/coin-tracker/internal/models"
	"github.com/google/uuid"
)

// PortfolioSetup creates tracked portfolios
type PortfolioSetup struct {
	portfolios PortfolioStore
}

// NewPortfolioSetup creates a portfolio setup service
func NewPortfolioSetup(portfolios PortfolioStore) *PortfolioSetup {
	return &PortfolioSetup{portfolios: portfolios}
}

// CreatePortfolio stores a new empty portfolio. Holdings are bought by Engine.AddNewCoins.
func (s *PortfolioSetup) CreatePortfolio(ctx context.Context) (*models.Portfolio, error) {
	portfolio := &models.Portfolio{ID: uuid.New().String()}

	if err := s.portfolios.Create(ctx, portfolio); err != nil {
		return nil, fmt.Errorf("failed to create portfolio: %w", err)
	}

	logging.FromContext(ctx).WithField("portfolioId", portfolio.ID).Info("Portfolio created")
	return portfolio, nil
}
