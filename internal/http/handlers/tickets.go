package handlers

import (
	"net/http"
	"strings"

	authmw "github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/http/middleware"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/ticketing"
)

func (h *Handler) MyTickets(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	customerID, ok := authmw.CustomerIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	items, err := h.store.ListCustomerTickets(ctx, customerID, strings.TrimSpace(r.URL.Query().Get("tripId")))
	if err != nil {
		handleBookingError(w, logger, "list_tickets", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

type redeemRequest struct {
	TicketID string `json:"ticketId"`
	QRToken  string `json:"qrToken" validate:"max=4096"`
}

// RedeemTicket marks a ticket used at boarding. A scanned QR token is
// enough on its own; the ticket id is then read from the signed payload.
func (h *Handler) RedeemTicket(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	actor, ok := authmw.ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusForbidden, "admin token required")
		return
	}
	var req redeemRequest
	if !h.decode(w, r, &req) {
		return
	}
	ticketID := strings.TrimSpace(req.TicketID)
	token := strings.TrimSpace(req.QRToken)
	if ticketID == "" && token != "" {
		payload, err := ticketing.VerifyQRPayload(h.cfg.QRSecret, token)
		if err != nil {
			logger.Warn("action", "action", "redeem_ticket", "status", "qr_invalid")
			writeError(w, http.StatusBadRequest, "ticket qr does not match")
			return
		}
		ticketID = payload.TicketID
	}
	if ticketID == "" {
		writeError(w, http.StatusBadRequest, "ticketId or qrToken required")
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	ticket, err := h.store.RedeemTicket(ctx, ticketID, actor, token, h.cfg.QRSecret)
	if err != nil {
		handleBookingError(w, logger, "redeem_ticket", err)
		return
	}
	logger.Info("action", "action", "redeem_ticket", "status", "ok", "ticket_id", ticket.ID, "ticket_number", ticket.TicketNumber)
	writeJSON(w, http.StatusOK, ticket)
}

// AdminStats aggregates sales overall and per trip.
func (h *Handler) AdminStats(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	rows, err := h.store.ListSalesRows(ctx, strings.TrimSpace(r.URL.Query().Get("tripId")))
	if err != nil {
		handleBookingError(w, logger, "admin_stats", err)
		return
	}
	global, perTrip := ticketing.AggregateSales(rows)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"global": global,
		"trips":  perTrip,
	})
}

func (h *Handler) ListPaymentEvents(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	limit, _ := pagination(r, 100, 500)
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	items, err := h.store.ListPaymentEvents(ctx, r.URL.Query().Get("transactionId"), limit)
	if err != nil {
		handleBookingError(w, logger, "list_payment_events", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}
