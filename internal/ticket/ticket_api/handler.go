package ticket_api

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-bolao/internal/auth"
	"ms-bolao/internal/errs"
	"ms-bolao/internal/logger"
	"ms-bolao/internal/models"
	"ms-bolao/internal/qr"
	"ms-bolao/internal/ticket"
	"ms-bolao/internal/utils"
)

type Handler struct {
	TicketService *ticket.Service
	Logger        *logger.Logger
}

func NewHandler(ticketService *ticket.Service, log *logger.Logger) *Handler {
	return &Handler{TicketService: ticketService, Logger: log}
}

func (h *Handler) CreateTicket(w http.ResponseWriter, r *http.Request) {
	var req models.TicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("API", fmt.Sprintf("CreateTicket: failed to decode request body: %v", err))
		h.writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}

	clientIP := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		clientIP = host
	}

	resp, err := h.TicketService.CreateTicket(r.Context(), req, clientIP, r.UserAgent())
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("CreateTicket: %v", err))
		h.writeError(w, "Could not create ticket", err.Error(), errs.HTTPStatus(err))
		return
	}

	h.Logger.Info("API", fmt.Sprintf("CreateTicket: ticket %s created with txid %s", resp.TicketID, resp.TxID))
	h.writeJSON(w, http.StatusCreated, utils.SuccessResponse("Ticket created", resp))
}

func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "ticketId")

	data, err := h.TicketService.GetTicket(r.Context(), ticketID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetTicket: %v", err))
		h.writeError(w, "Ticket not found", err.Error(), errs.HTTPStatus(err))
		return
	}

	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Ticket", data))
}

func (h *Handler) GetCharge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "txid")

	charge, err := h.TicketService.GetCharge(r.Context(), id)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetCharge: %v", err))
		h.writeError(w, "Could not load charge", err.Error(), errs.HTTPStatus(err))
		return
	}

	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Charge", charge))
}

func (h *Handler) GetChargeQR(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "txid")

	charge, err := h.TicketService.GetCharge(r.Context(), id)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetChargeQR: %v", err))
		h.writeError(w, "Could not load charge", err.Error(), errs.HTTPStatus(err))
		return
	}

	png, err := qr.EncodeCharge(charge.CopiaECola, 256)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetChargeQR: failed to encode QR: %v", err))
		h.writeError(w, "Could not render QR code", err.Error(), errs.HTTPStatus(err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	if _, err := w.Write(png); err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetChargeQR: failed to write response: %v", err))
	}
}

func (h *Handler) ListOpenGames(w http.ResponseWriter, r *http.Request) {
	games, err := h.TicketService.ListOpenGames(r.Context())
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("ListOpenGames: %v", err))
		h.writeError(w, "Could not list games", err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Open games", games))
}

// ForceMarkPaid is the authenticated manual override used when automatic
// reconciliation cannot proceed.
func (h *Handler) ForceMarkPaid(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "ticketId")
	operator := auth.Operator(r.Context())

	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.TicketService.ForceMarkPaid(r.Context(), ticketID, operator, body.Reason); err != nil {
		h.Logger.Error("API", fmt.Sprintf("ForceMarkPaid: %v", err))
		h.writeError(w, "Could not mark ticket as paid", err.Error(), errs.HTTPStatus(err))
		return
	}

	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Ticket marked as paid", map[string]string{
		"ticket_id": ticketID,
		"operator":  operator,
	}))
}

func (h *Handler) CancelTicket(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "ticketId")
	operator := auth.Operator(r.Context())

	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}
	if body.Reason == "" {
		body.Reason = "cancelled by " + operator
	}

	h.Logger.LogAudit(operator, "CANCEL", fmt.Sprintf("ticket %s: %s", ticketID, body.Reason))

	if err := h.TicketService.MarkCancelled(r.Context(), ticketID, body.Reason); err != nil {
		h.Logger.Error("API", fmt.Sprintf("CancelTicket: %v", err))
		h.writeError(w, "Could not cancel ticket", err.Error(), errs.HTTPStatus(err))
		return
	}

	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Ticket cancelled", map[string]string{
		"ticket_id": ticketID,
		"operator":  operator,
	}))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body utils.APIResponse) {
	if err := utils.WriteJSON(w, status, body); err != nil {
		h.Logger.Error("API", fmt.Sprintf("Failed to encode response: %v", err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, message, details string, status int) {
	h.writeJSON(w, status, utils.ErrorResponse(message, details))
}
