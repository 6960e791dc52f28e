package webhook_api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-bolao/internal/errs"
	"ms-bolao/internal/logger"
	"ms-bolao/internal/models"
	"ms-bolao/internal/reconcile"
	"ms-bolao/internal/utils"
)

const (
	SourceWebhook = "webhook"
	SourcePoll    = "poll"
)

type Handler struct {
	Engine *reconcile.Engine
	Logger *logger.Logger
}

func NewHandler(engine *reconcile.Engine, log *logger.Logger) *Handler {
	return &Handler{Engine: engine, Logger: log}
}

// HandleWebhook receives provider callbacks. The notification body only
// tells us which charges to look at; the engine re-queries the provider
// for the authoritative status before changing anything.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.Logger.Error("Webhook", fmt.Sprintf("Failed to read webhook body: %v", err))
		h.writeError(w, "Could not read request body", err.Error(), http.StatusBadRequest)
		return
	}

	var notif models.PixNotification
	if err := json.Unmarshal(body, &notif); err != nil {
		h.Logger.Error("Webhook", fmt.Sprintf("Malformed webhook payload: %v", err))
		h.writeError(w, "Malformed notification payload", err.Error(), http.StatusBadRequest)
		return
	}

	ids := notif.TxIDs()
	if len(ids) == 0 {
		h.Logger.Warn("Webhook", "Notification carried no transaction identifiers")
		h.writeError(w, "Notification carried no txid", "", http.StatusBadRequest)
		return
	}

	results := make([]*reconcile.Result, 0, len(ids))
	var firstErr error
	for _, id := range ids {
		res, err := h.Engine.Reconcile(r.Context(), id, SourceWebhook, string(body))
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if res != nil {
			results = append(results, res)
		}
	}

	if firstErr != nil {
		h.Logger.Error("Webhook", fmt.Sprintf("Reconcile failed: %v", firstErr))
		h.writeError(w, "Could not process notification", firstErr.Error(), errs.HTTPStatus(firstErr))
		return
	}

	h.Logger.Info("Webhook", fmt.Sprintf("Processed notification for %d charge(s)", len(results)))
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Notification processed", results))
}

// CheckCharge runs the same reconciliation path on demand, for the
// frontend polling loop and for operators chasing a stuck payment.
func (h *Handler) CheckCharge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "txid")

	res, err := h.Engine.Reconcile(r.Context(), id, SourcePoll, "")
	if err != nil {
		h.Logger.Error("Reconcile", fmt.Sprintf("CheckCharge %s: %v", id, err))
		h.writeError(w, "Could not check charge", err.Error(), errs.HTTPStatus(err))
		return
	}

	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Charge checked", res))
}

func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "txid")

	entries, err := h.Engine.Notifications(r.Context(), id)
	if err != nil {
		h.Logger.Error("Reconcile", fmt.Sprintf("ListNotifications %s: %v", id, err))
		h.writeError(w, "Could not list notifications", err.Error(), errs.HTTPStatus(err))
		return
	}

	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Notification log", entries))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body utils.APIResponse) {
	if err := utils.WriteJSON(w, status, body); err != nil {
		h.Logger.Error("Webhook", fmt.Sprintf("Failed to encode response: %v", err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, message, details string, status int) {
	h.writeJSON(w, status, utils.ErrorResponse(message, details))
}
