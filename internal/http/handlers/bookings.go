package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/booking"
	authmw "github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/http/middleware"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/integrations"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/models"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/repository"

	"github.com/go-chi/chi/v5"
)

type quoteRequest struct {
	TripID      string `json:"tripId" validate:"required"`
	Quantity    int    `json:"quantity" validate:"min=1,max=50"`
	VoucherCode string `json:"voucherCode" validate:"max=64"`
}

// QuoteBooking prices a booking without opening a session.
func (h *Handler) QuoteBooking(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	customerID, ok := authmw.CustomerIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req quoteRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	quote, trip, err := h.bookings.Quote(ctx, customerID, req.TripID, req.Quantity, req.VoucherCode)
	if err != nil {
		handleBookingError(w, logger, "quote_booking", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"quote":          quote,
		"availableSeats": trip.AvailableSeats,
	})
}

type startBookingRequest struct {
	TripID        string `json:"tripId" validate:"required"`
	Quantity      int    `json:"quantity" validate:"min=1,max=50"`
	PaymentMethod string `json:"paymentMethod" validate:"required,oneof=bank telebirr telebirr_auto gnpl"`
	VoucherCode   string `json:"voucherCode" validate:"max=64"`
	Phone         string `json:"phone" validate:"max=32"`
	IDDocumentKey string `json:"idDocumentKey" validate:"max=512"`
}

// StartBooking opens a booking session. Automatic payments come back with
// a checkout URL; manual ones wait for a receipt.
func (h *Handler) StartBooking(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	customerID, ok := authmw.CustomerIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req startBookingRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.IDDocumentKey != "" && !integrations.KeyOwnedBy(req.IDDocumentKey, integrations.ScopeIDDocument, customerID) {
		writeError(w, http.StatusBadRequest, "invalid idDocumentKey")
		return
	}
	if !h.startLimiter.Allow(strconv.FormatInt(customerID, 10)) {
		logger.Warn("action", "action", "start_booking", "status", "rate_limited")
		writeError(w, http.StatusTooManyRequests, "too many booking attempts")
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	result, err := h.bookings.StartBooking(ctx, booking.StartParams{
		CustomerID:    customerID,
		TripID:        req.TripID,
		Quantity:      req.Quantity,
		PaymentMethod: req.PaymentMethod,
		VoucherCode:   req.VoucherCode,
		Phone:         req.Phone,
		IDDocumentKey: req.IDDocumentKey,
	})
	if err != nil {
		handleBookingError(w, logger, "start_booking", err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// ActiveBooking returns the customer's open session, if any.
func (h *Handler) ActiveBooking(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	customerID, ok := authmw.CustomerIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	session, err := h.store.ActiveSession(ctx, customerID)
	if errors.Is(err, repository.ErrSessionNotFound) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"session": nil})
		return
	}
	if err != nil {
		handleBookingError(w, logger, "active_booking", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session": session})
}

// CancelBooking abandons an open session that has no receipt under review.
func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	customerID, ok := authmw.CustomerIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	if err := h.bookings.CancelBooking(ctx, customerID, chi.URLParam(r, "id")); err != nil {
		handleBookingError(w, logger, "cancel_booking", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

type submitReceiptRequest struct {
	Reference   string `json:"reference" validate:"max=128"`
	AmountPaid  int64  `json:"amountPaidCents" validate:"gte=0"`
	EvidenceKey string `json:"evidenceKey" validate:"max=512"`
}

// SubmitReceipt records a manual transfer against an awaiting_receipt
// session.
func (h *Handler) SubmitReceipt(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	customerID, ok := authmw.CustomerIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req submitReceiptRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.EvidenceKey != "" && !integrations.KeyOwnedBy(req.EvidenceKey, integrations.ScopeReceipt, customerID) {
		writeError(w, http.StatusBadRequest, "invalid evidenceKey")
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	receipt, err := h.bookings.SubmitReceipt(ctx, booking.SubmitReceiptParams{
		CustomerID:      customerID,
		SessionID:       chi.URLParam(r, "id"),
		PayerReference:  req.Reference,
		AmountPaidCents: req.AmountPaid,
		EvidenceKey:     req.EvidenceKey,
	})
	if err != nil {
		handleBookingError(w, logger, "submit_receipt", err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

// PaymentStatus polls the gateway for an automatic session and settles it
// through the callback path when the gateway already reports it paid.
func (h *Handler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	customerID, ok := authmw.CustomerIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	session, err := h.store.GetSession(ctx, chi.URLParam(r, "id"))
	if err == nil && session.CustomerID != customerID {
		err = repository.ErrSessionNotFound
	}
	if err != nil {
		handleBookingError(w, logger, "payment_status", err)
		return
	}
	out := map[string]interface{}{"sessionId": session.ID, "sessionStatus": session.Status}
	if session.Status != models.SessionStatusAwaitingAutoPayment || strings.TrimSpace(session.GatewayReference) == "" {
		writeJSON(w, http.StatusOK, out)
		return
	}
	if h.payments == nil {
		writeJSON(w, http.StatusOK, out)
		return
	}

	status, res, err := h.confirmWithGateway(ctx, session, "status_poll")
	if err != nil {
		handleBookingError(w, logger, "payment_status", err)
		return
	}
	out["paymentStatus"] = status.Status
	if res == nil {
		writeJSON(w, http.StatusOK, out)
		return
	}
	out["outcome"] = res.Outcome
	if res.Outcome == repository.EventOutcomeSettled || res.Outcome == repository.EventOutcomeDuplicate {
		out["sessionStatus"] = models.SessionStatusCompleted
	}
	if res.Receipt != nil {
		out["receipt"] = res.Receipt
	}
	writeJSON(w, http.StatusOK, out)
}
