// Package handlers provides HTTP handlers for dividend resolution.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/aristath/fundtrack/internal/domain"
	"github.com/aristath/fundtrack/internal/modules/dividends"
	"github.com/aristath/fundtrack/internal/utils"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// DividendResolver is the resolver surface the handlers need
type DividendResolver interface {
	ListUnresolved(ctx context.Context, assetCode string) ([]domain.Operation, error)
	Resolve(ctx context.Context, id int64, mode domain.DividendMode) (*dividends.Resolution, error)
}

// Handler handles dividend HTTP requests
type Handler struct {
	resolver DividendResolver
	log      zerolog.Logger
}

// NewHandler creates a new dividends handler
func NewHandler(resolver DividendResolver, log zerolog.Logger) *Handler {
	return &Handler{
		resolver: resolver,
		log:      log.With().Str("handler", "dividends").Logger(),
	}
}

type resolveRequest struct {
	Mode domain.DividendMode `json:"mode"`
}

// HandleListUnresolved returns dividends waiting for a mode, optionally for one ?asset=
func (h *Handler) HandleListUnresolved(w http.ResponseWriter, r *http.Request) {
	pending, err := h.resolver.ListUnresolved(r.Context(), utils.NormalizeAssetCode(r.URL.Query().Get("asset")))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list unresolved dividends")
		h.writeError(w, utils.HTTPStatus(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"dividends": pending,
		"count":     len(pending),
	})
}

// HandleResolve applies {"mode": "reinvest"|"withdraw"|"skip"} to a dividend
func (h *Handler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid operation id")
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := h.resolver.Resolve(r.Context(), id, req.Mode)
	if err != nil {
		h.writeError(w, utils.HTTPStatus(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, res)
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
