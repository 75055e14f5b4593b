// Package handlers provides HTTP handlers for the operation ledger.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/fundtrack/internal/domain"
	"github.com/aristath/fundtrack/internal/modules/operations"
	"github.com/aristath/fundtrack/internal/utils"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const defaultPageSize = 100

// Handler handles operation HTTP requests
type Handler struct {
	service *operations.Service
	log     zerolog.Logger
}

// NewHandler creates a new operations handler
func NewHandler(service *operations.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "operations").Logger(),
	}
}

// operationRequest is the wire form of a manual operation. Dates are YYYY-MM-DD.
type operationRequest struct {
	Amount        *decimal.Decimal       `json:"amount"`
	Quantity      *decimal.Decimal       `json:"quantity"`
	NAV           *decimal.Decimal       `json:"nav"`
	Fee           *decimal.Decimal       `json:"fee"`
	AssetCode     string                 `json:"asset_code"`
	Type          domain.OperationType   `json:"operation_type"`
	OperationDate string                 `json:"operation_date"`
	Status        domain.OperationStatus `json:"status"`
	SellMode      domain.SellMode        `json:"sell_mode"`
	Notes         string                 `json:"notes"`
}

func (req operationRequest) toInput() (operations.OperationInput, error) {
	in := operations.OperationInput{
		Amount:    req.Amount,
		Quantity:  req.Quantity,
		NAV:       req.NAV,
		Fee:       req.Fee,
		AssetCode: req.AssetCode,
		Type:      req.Type,
		Status:    req.Status,
		SellMode:  req.SellMode,
		Notes:     req.Notes,
	}
	if req.OperationDate == "" {
		return in, &domain.ValidationError{Field: "operation_date", Message: "is required"}
	}
	day, err := utils.ParseDay(req.OperationDate)
	if err != nil {
		return in, &domain.ValidationError{Field: "operation_date", Message: err.Error()}
	}
	in.OperationDate = day
	return in, nil
}

// HandleList returns operations filtered by asset, type, status, plan and date range
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ops, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list operations")
		h.writeError(w, utils.HTTPStatus(err), err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"operations": ops,
		"total":      total,
		"limit":      filter.Limit,
		"offset":     filter.Offset,
	})
}

// HandleGet returns one operation
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	op, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, utils.HTTPStatus(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, op)
}

// HandleCreate records a manual operation
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodeInput(w, r)
	if !ok {
		return
	}

	op, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.writeError(w, utils.HTTPStatus(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusCreated, op)
}

// HandleUpdate replaces an operation
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	in, ok := h.decodeInput(w, r)
	if !ok {
		return
	}

	op, err := h.service.Update(r.Context(), id, in)
	if err != nil {
		h.writeError(w, utils.HTTPStatus(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, op)
}

// HandleDelete removes an operation
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		h.writeError(w, utils.HTTPStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleConfirm settles a pending operation
func (h *Handler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	op, err := h.service.Confirm(r.Context(), id)
	if err != nil {
		h.writeError(w, utils.HTTPStatus(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, op)
}

// HandleCancel voids an operation
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	op, err := h.service.Cancel(r.Context(), id)
	if err != nil {
		h.writeError(w, utils.HTTPStatus(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, op)
}

func (h *Handler) decodeInput(w http.ResponseWriter, r *http.Request) (operations.OperationInput, bool) {
	var req operationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return operations.OperationInput{}, false
	}
	in, err := req.toInput()
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return in, false
	}
	return in, true
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid operation id")
		return 0, false
	}
	return id, true
}

func parseFilter(r *http.Request) (operations.Filter, error) {
	q := r.URL.Query()
	f := operations.Filter{
		AssetCode: utils.NormalizeAssetCode(q.Get("asset")),
		Type:      domain.OperationType(q.Get("type")),
		Status:    domain.OperationStatus(q.Get("status")),
		Limit:     defaultPageSize,
	}

	if f.Type != "" && !f.Type.Valid() {
		return f, &domain.ValidationError{Field: "type", Message: "unknown operation type"}
	}
	if f.Status != "" && !f.Status.Valid() {
		return f, &domain.ValidationError{Field: "status", Message: "unknown status"}
	}
	if raw := q.Get("plan_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return f, &domain.ValidationError{Field: "plan_id", Message: "must be an integer"}
		}
		f.DCAPlanID = &id
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{
		{"from", &f.From},
		{"to", &f.To},
	} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		day, err := utils.ParseDay(raw)
		if err != nil {
			return f, &domain.ValidationError{Field: p.name, Message: err.Error()}
		}
		*p.dst = &day
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return f, &domain.ValidationError{Field: "limit", Message: "must be a non-negative integer"}
		}
		f.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return f, &domain.ValidationError{Field: "offset", Message: "must be a non-negative integer"}
		}
		f.Offset = n
	}
	return f, nil
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
