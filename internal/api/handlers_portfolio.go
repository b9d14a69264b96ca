package api

import (
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/coin-tracker/internal/errors"
	"github.com/gorilla/mux"
)

const (
	maxSummaryHoldings = 50
	defaultHistoryRows = 500
	maxHistoryRows     = 5000
)

// handleListPortfolios handles GET /api/portfolios
func (s *Server) handleListPortfolios(w http.ResponseWriter, r *http.Request) {
	portfolios, err := s.deps.Portfolios.GetAll(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"portfolios": portfolios,
		"count":      len(portfolios),
	})
}

// handleGetPortfolio handles GET /api/portfolios/{id}
func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	portfolio, err := s.deps.Portfolios.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, portfolio)
}

// handleGetHolding handles GET /api/portfolios/{id}/holdings/{coinId}
func (s *Server) handleGetHolding(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	holding, err := s.deps.Portfolios.GetHolding(r.Context(), vars["id"], vars["coinId"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if holding == nil {
		respondServiceError(w, r, apperrors.NewNotFoundError("holding", vars["id"]+"/"+vars["coinId"]))
		return
	}

	respondJSON(w, http.StatusOK, holding)
}

// handleGetSummary handles GET /api/portfolios/{id}/summary?limit=N
func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, s.config.TopHoldings, maxSummaryHoldings)
	if !ok {
		return
	}

	summary, err := s.deps.Summaries.Build(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, summary)
}

// handleGetHistory handles GET /api/portfolios/{id}/history?since=RFC3339&limit=N
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Valuation history is not enabled", nil)
		return
	}

	limit, ok := parseLimit(w, r, defaultHistoryRows, maxHistoryRows)
	if !ok {
		return
	}

	since := time.Now().UTC().Add(-7 * 24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "since must be an RFC 3339 timestamp", map[string]interface{}{
				"since": raw,
			})
			return
		}
		since = parsed
	}

	portfolioID := mux.Vars(r)["id"]
	records, err := s.deps.History.GetPortfolioHistory(r.Context(), portfolioID, since, limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"portfolioId": portfolioID,
		"since":       since,
		"records":     records,
	})
}

// parseLimit reads ?limit, falling back to def and rejecting values outside 1..max
func parseLimit(w http.ResponseWriter, r *http.Request, def, max int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > max {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid limit", map[string]interface{}{
			"limit": raw,
			"max":   max,
		})
		return 0, false
	}
	return limit, true
}
