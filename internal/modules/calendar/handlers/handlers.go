// Package handlers provides HTTP handlers for the holiday calendar.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/aristath/fundtrack/internal/modules/calendar"
	"github.com/aristath/fundtrack/internal/utils"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler handles holiday calendar HTTP requests
type Handler struct {
	repo *calendar.Repository
	log  zerolog.Logger
}

// NewHandler creates a new calendar handler
func NewHandler(repo *calendar.Repository, log zerolog.Logger) *Handler {
	return &Handler{
		repo: repo,
		log:  log.With().Str("handler", "calendar").Logger(),
	}
}

type holidayRequest struct {
	Day  string `json:"day"`
	Name string `json:"name"`
}

// HandleList handles GET /calendar/holidays?from=&to=
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	var from, to *time.Time
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{
		{"from", &from},
		{"to", &to},
	} {
		raw := r.URL.Query().Get(p.name)
		if raw == "" {
			continue
		}
		day, err := utils.ParseDay(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid "+p.name+": "+err.Error())
			return
		}
		*p.dst = &day
	}

	holidays, err := h.repo.List(r.Context(), from, to)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list holidays")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"holidays": holidays,
		"count":    len(holidays),
	})
}

// HandleAdd handles POST /calendar/holidays
func (h *Handler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	var req holidayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	day, err := utils.ParseDay(req.Day)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid day: "+err.Error())
		return
	}

	holiday, err := h.repo.Add(r.Context(), day, req.Name)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusCreated, holiday)
}

// HandleImport handles POST /calendar/holidays/import with a JSON array
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	var reqs []holidayRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	holidays := make([]calendar.Holiday, 0, len(reqs))
	for _, req := range reqs {
		day, err := utils.ParseDay(req.Day)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid day "+req.Day+": "+err.Error())
			return
		}
		holidays = append(holidays, calendar.Holiday{Day: day, Name: req.Name})
	}

	n, err := h.repo.Import(r.Context(), holidays)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"imported": n})
}

// HandleDelete handles DELETE /calendar/holidays/{day}
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	day, err := utils.ParseDay(chi.URLParam(r, "day"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid day: "+err.Error())
		return
	}

	deleted, err := h.repo.Delete(r.Context(), day)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !deleted {
		h.writeError(w, http.StatusNotFound, "holiday not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleCheck handles GET /calendar/check/{day}
func (h *Handler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	day, err := utils.ParseDay(chi.URLParam(r, "day"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid day: "+err.Error())
		return
	}

	holiday, err := h.repo.IsHoliday(r.Context(), day)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"day":     utils.FormatDay(day),
		"holiday": holiday,
	})
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
