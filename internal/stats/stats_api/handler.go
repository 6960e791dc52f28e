package stats_api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"ms-bolao/internal/logger"
	"ms-bolao/internal/stats"
	"ms-bolao/internal/utils"
)

const defaultWindowDays = 30

type Handler struct {
	Service *stats.Service
	Logger  *logger.Logger
}

func NewHandler(service *stats.Service, log *logger.Logger) *Handler {
	return &Handler{Service: service, Logger: log}
}

// GetOverview serves the admin dashboard aggregates. The optional "days"
// query parameter bounds the daily-sales window.
func (h *Handler) GetOverview(w http.ResponseWriter, r *http.Request) {
	days := defaultWindowDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid days parameter", raw))
			return
		}
		days = parsed
	}

	since := time.Now().AddDate(0, 0, -days)
	overview, err := h.Service.GetOverview(r.Context(), since)
	if err != nil {
		h.Logger.Error("STATS", fmt.Sprintf("Failed to build overview: %v", err))
		h.writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Could not build overview", err.Error()))
		return
	}

	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Stats overview", overview))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body utils.APIResponse) {
	if err := utils.WriteJSON(w, status, body); err != nil {
		h.Logger.Error("STATS", fmt.Sprintf("Failed to encode response: %v", err))
	}
}
