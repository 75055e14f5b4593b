// Package handlers provides HTTP handlers for positions and the portfolio summary.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/aristath/fundtrack/internal/domain"
	"github.com/aristath/fundtrack/internal/modules/portfolio"
	"github.com/aristath/fundtrack/internal/utils"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// PositionReader is the read side of the position service
type PositionReader interface {
	GetPosition(ctx context.Context, assetCode string) (*domain.Position, error)
	ListPositions(ctx context.Context, includeClosed bool) ([]domain.Position, error)
	GetSummary(ctx context.Context) (portfolio.Summary, error)
}

// Handler handles portfolio HTTP requests
type Handler struct {
	positions PositionReader
	log       zerolog.Logger
}

// NewHandler creates a new portfolio handler
func NewHandler(positions PositionReader, log zerolog.Logger) *Handler {
	return &Handler{
		positions: positions,
		log:       log.With().Str("handler", "portfolio").Logger(),
	}
}

// HandleListPositions returns open positions, or every position with ?include_closed=true
func (h *Handler) HandleListPositions(w http.ResponseWriter, r *http.Request) {
	includeClosed := false
	if raw := r.URL.Query().Get("include_closed"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "include_closed must be a boolean")
			return
		}
		includeClosed = v
	}

	positions, err := h.positions.ListPositions(r.Context(), includeClosed)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list positions")
		h.writeError(w, utils.HTTPStatus(err), err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"positions": positions,
		"count":     len(positions),
	})
}

// HandleGetPosition returns the position for one asset
func (h *Handler) HandleGetPosition(w http.ResponseWriter, r *http.Request) {
	assetCode := utils.NormalizeAssetCode(chi.URLParam(r, "asset"))
	if assetCode == "" {
		h.writeError(w, http.StatusBadRequest, "asset code is required")
		return
	}

	pos, err := h.positions.GetPosition(r.Context(), assetCode)
	if err != nil {
		h.writeError(w, utils.HTTPStatus(err), err.Error())
		return
	}
	if pos.OperationCount == 0 {
		h.writeError(w, http.StatusNotFound, "no operations recorded for "+assetCode)
		return
	}

	h.writeJSON(w, http.StatusOK, pos)
}

// HandleGetSummary returns portfolio totals
func (h *Handler) HandleGetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.positions.GetSummary(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to build summary")
		h.writeError(w, utils.HTTPStatus(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
