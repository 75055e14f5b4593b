// Package handlers provides HTTP handlers for DCA plans.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/fundtrack/internal/domain"
	"github.com/aristath/fundtrack/internal/modules/dca"
	"github.com/aristath/fundtrack/internal/utils"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const defaultExecutionsLimit = 50

// Handler handles DCA plan HTTP requests
type Handler struct {
	service  *dca.Service
	executor *dca.Executor
	log      zerolog.Logger
	now      func() time.Time
}

// NewHandler creates a new DCA handler
func NewHandler(service *dca.Service, executor *dca.Executor, log zerolog.Logger) *Handler {
	return &Handler{
		service:  service,
		executor: executor,
		log:      log.With().Str("handler", "dca").Logger(),
		now:      time.Now,
	}
}

// planRequest is the wire form of a plan. Dates are YYYY-MM-DD.
type planRequest struct {
	Name           string           `json:"name"`
	AssetCode      string           `json:"asset_code"`
	Amount         decimal.Decimal  `json:"amount"`
	Fee            decimal.Decimal  `json:"fee"`
	Frequency      domain.Frequency `json:"frequency"`
	FrequencyValue int              `json:"frequency_value"`
	StartDate      string           `json:"start_date"`
	EndDate        string           `json:"end_date"`
	ExcludeDates   []string         `json:"exclude_dates"`
	SkipHolidays   bool             `json:"skip_holidays"`
	SmartDCA       bool             `json:"smart_dca"`
	BaseAmount     decimal.Decimal  `json:"base_amount"`
	MaxAmount      decimal.Decimal  `json:"max_amount"`
	IncreaseRate   decimal.Decimal  `json:"increase_rate"`
	MinNAV         decimal.Decimal  `json:"min_nav"`
	MaxNAV         decimal.Decimal  `json:"max_nav"`
}

func (req planRequest) toInput() (dca.PlanInput, error) {
	in := dca.PlanInput{
		Name:           req.Name,
		AssetCode:      req.AssetCode,
		Amount:         req.Amount,
		Fee:            req.Fee,
		Frequency:      req.Frequency,
		FrequencyValue: req.FrequencyValue,
		SkipHolidays:   req.SkipHolidays,
		SmartDCA:       req.SmartDCA,
		BaseAmount:     req.BaseAmount,
		MaxAmount:      req.MaxAmount,
		IncreaseRate:   req.IncreaseRate,
		MinNAV:         req.MinNAV,
		MaxNAV:         req.MaxNAV,
	}

	if req.StartDate == "" {
		return in, &domain.ValidationError{Field: "start_date", Message: "is required"}
	}
	start, err := utils.ParseDay(req.StartDate)
	if err != nil {
		return in, &domain.ValidationError{Field: "start_date", Message: err.Error()}
	}
	in.StartDate = start

	if req.EndDate != "" {
		end, err := utils.ParseDay(req.EndDate)
		if err != nil {
			return in, &domain.ValidationError{Field: "end_date", Message: err.Error()}
		}
		in.EndDate = &end
	}

	in.ExcludeDates, err = parseDays("exclude_dates", req.ExcludeDates)
	return in, err
}

type executeRequest struct {
	Date string `json:"date"`
}

type backfillRequest struct {
	From         string   `json:"from"`
	To           string   `json:"to"`
	ExcludeDates []string `json:"exclude_dates"`
}

type regenerateRequest struct {
	Confirm bool `json:"confirm"`
}

// HandleList returns plans, optionally filtered by ?status=
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	plans, err := h.service.List(r.Context(), domain.PlanStatus(r.URL.Query().Get("status")))
	if err != nil {
		h.writeError(w, utils.HTTPStatus(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"plans": plans,
		"count": len(plans),
	})
}

// HandleGet returns one plan
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	plan, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, utils.HTTPStatus(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, plan)
}

// HandleCreate creates a plan
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodePlan(w, r)
	if !ok {
		return
	}

	plan, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.writeError(w, utils.HTTPStatus(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusCreated, plan)
}

// HandleUpdate replaces a plan's configuration
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	in, ok := h.decodePlan(w, r)
	if !ok {
		return
	}

	result, err := h.service.Update(r.Context(), id, in)
	if err != nil {
		h.writeError(w, utils.HTTPStatus(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// HandleDelete removes a plan. ?delete_operations=true removes its operations too.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	deleteOps, _ := strconv.ParseBool(r.URL.Query().Get("delete_operations"))

	if err := h.service.Delete(r.Context(), id, deleteOps); err != nil {
		h.writeError(w, utils.HTTPStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandlePause pauses an active plan
func (h *Handler) HandlePause(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, h.service.Pause)
}

// HandleResume resumes a paused plan
func (h *Handler) HandleResume(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, h.service.Resume)
}

// HandleStop stops a plan for good
func (h *Handler) HandleStop(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, h.service.Stop)
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, id int64) (*domain.DCAPlan, error)) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	plan, err := fn(r.Context(), id)
	if err != nil {
		h.writeError(w, utils.HTTPStatus(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, plan)
}

// HandleExecute runs a plan's due dates now. An optional {"date"} sets "today".
func (h *Handler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	today, ok := h.decodeToday(w, r)
	if !ok {
		return
	}

	report, err := h.executor.ExecuteDue(r.Context(), id, today)
	if err != nil {
		h.writeError(w, utils.HTTPStatus(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"report":  report,
		"message": report.Summary(),
	})
}

// HandleExecuteAll runs every active plan
func (h *Handler) HandleExecuteAll(w http.ResponseWriter, r *http.Request) {
	today, ok := h.decodeToday(w, r)
	if !ok {
		return
	}

	batch, err := h.executor.ExecuteAllDue(r.Context(), today)
	if err != nil {
		h.log.Error().Err(err).Msg("Batch execution failed")
		h.writeError(w, utils.HTTPStatus(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, batch)
}

// HandleBackfill records historical plan dates in [from, to]
func (h *Handler) HandleBackfill(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	var req backfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	from, err := utils.ParseDay(req.From)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid from: "+err.Error())
		return
	}
	to := utils.Day(h.now().UTC())
	if req.To != "" {
		if to, err = utils.ParseDay(req.To); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid to: "+err.Error())
			return
		}
	}
	exclude, err := parseDays("exclude_dates", req.ExcludeDates)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.executor.Backfill(r.Context(), id, from, to, exclude)
	if err != nil {
		h.writeError(w, utils.HTTPStatus(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"report":  report,
		"message": report.Summary(),
	})
}

// HandleRegenerate rebuilds a plan's history. Without {"confirm": true} it
// answers 409 with the number of operations that would be removed.
func (h *Handler) HandleRegenerate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	var req regenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	report, err := h.executor.RegenerateHistory(r.Context(), id, req.Confirm)
	var confirm *domain.ConfirmationRequiredError
	if errors.As(err, &confirm) {
		h.writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":    err.Error(),
			"affected": confirm.Affected,
		})
		return
	}
	if err != nil {
		h.writeError(w, utils.HTTPStatus(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// HandleDeleteOperations removes every operation the plan produced
func (h *Handler) HandleDeleteOperations(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	n, err := h.executor.DeletePlanOperations(r.Context(), id)
	if err != nil {
		h.writeError(w, utils.HTTPStatus(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": n})
}

// HandleRecompute rebuilds the plan's counters from its operations
func (h *Handler) HandleRecompute(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	plan, err := h.executor.RecomputeStats(r.Context(), id)
	if err != nil {
		h.writeError(w, utils.HTTPStatus(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, plan)
}

// HandleStatistics returns cost and profit figures for a plan
func (h *Handler) HandleStatistics(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	stats, err := h.service.Statistics(r.Context(), id)
	if err != nil {
		h.writeError(w, utils.HTTPStatus(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// HandleExecutions returns the plan's execution log
func (h *Handler) HandleExecutions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	limit := defaultExecutionsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := h.service.ListExecutions(r.Context(), id, limit)
	if err != nil {
		h.writeError(w, utils.HTTPStatus(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"executions": records,
		"count":      len(records),
	})
}

func (h *Handler) decodePlan(w http.ResponseWriter, r *http.Request) (dca.PlanInput, bool) {
	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return dca.PlanInput{}, false
	}
	in, err := req.toInput()
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return in, false
	}
	return in, true
}

// decodeToday reads an optional {"date"} body, defaulting to the current day
func (h *Handler) decodeToday(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return time.Time{}, false
	}
	if req.Date == "" {
		return utils.Day(h.now().UTC()), true
	}
	day, err := utils.ParseDay(req.Date)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid date: "+err.Error())
		return time.Time{}, false
	}
	return day, true
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid plan id")
		return 0, false
	}
	return id, true
}

func parseDays(field string, raw []string) ([]time.Time, error) {
	days := make([]time.Time, 0, len(raw))
	for _, s := range raw {
		d, err := utils.ParseDay(s)
		if err != nil {
			return nil, &domain.ValidationError{Field: field, Message: err.Error()}
		}
		days = append(days, d)
	}
	return days, nil
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
