package api

import (
	"net/http"

	apperrors "github.com/coin-tracker/internal/errors"
	"github.com/gorilla/mux"
)

const (
	defaultMarketRows = 100
	maxMarketRows     = 1000
)

// handleListMarket handles GET /api/market?limit=N, largest market cap first
func (s *Server) handleListMarket(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, defaultMarketRows, maxMarketRows)
	if !ok {
		return
	}

	snapshots, err := s.deps.Market.GetTop(r.Context(), limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"coins": snapshots,
		"count": len(snapshots),
	})
}

// handleGetMarket handles GET /api/market/{id}
func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	snapshot, err := s.deps.Market.GetByID(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if snapshot == nil {
		respondServiceError(w, r, apperrors.NewNotFoundError("market snapshot", id))
		return
	}

	respondJSON(w, http.StatusOK, snapshot)
}
