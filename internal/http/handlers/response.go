package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/booking"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/repository"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/ticketing"

	"github.com/go-playground/validator/v10"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeValidation(w http.ResponseWriter, err error) {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":  "invalid " + fe.Field(),
			"field":  fe.Field(),
			"reason": fe.Tag(),
		})
		return
	}
	writeError(w, http.StatusBadRequest, "invalid request")
}

var notFoundErrors = []error{
	repository.ErrCustomerNotFound,
	repository.ErrTripNotFound,
	repository.ErrVoucherNotFound,
	repository.ErrSessionNotFound,
	repository.ErrReceiptNotFound,
	repository.ErrTicketNotFound,
	repository.ErrGnplAccountNotFound,
	repository.ErrGnplPaymentNotFound,
	booking.ErrSessionUnmatched,
}

var conflictErrors = []error{
	repository.ErrTripNotActive,
	repository.ErrVoucherExhausted,
	repository.ErrSessionStateNotAllowed,
	repository.ErrReceiptUnderReview,
	repository.ErrReceiptStateNotAllowed,
	repository.ErrTicketStateNotAllowed,
	repository.ErrGnplStateNotAllowed,
	repository.ErrDuplicateReference,
	ticketing.ErrConcurrencyConflict,
	ticketing.ErrTicketsUsed,
	ticketing.ErrDecisionNotAllowed,
}

// handleBookingError maps engine errors onto HTTP statuses. Only 5xx
// responses are logged at error level; the rest are caller mistakes or
// races the caller can retry.
func handleBookingError(w http.ResponseWriter, logger *slog.Logger, action string, err error) {
	var validation *ticketing.ValidationError
	if errors.As(err, &validation) {
		logger.Warn("action", "action", action, "status", "invalid", "field", validation.Field, "reason", validation.Reason)
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":  validation.Message,
			"field":  validation.Field,
			"reason": validation.Reason,
		})
		return
	}

	var seats *ticketing.InsufficientSeats
	if errors.As(err, &seats) {
		logger.Info("action", "action", action, "status", "insufficient_seats", "trip_id", seats.TripID, "available", seats.Available, "requested", seats.Requested)
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":     "insufficient seats",
			"available": seats.Available,
			"requested": seats.Requested,
		})
		return
	}

	var partial *ticketing.PartialSettlementFailure
	if errors.As(err, &partial) {
		logger.Error("action", "action", action, "status", "partial_failure", "step", partial.Step, "reference", partial.Reference, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":       "settlement compensated",
			"step":        partial.Step,
			"compensated": partial.CompensationErr == nil,
		})
		return
	}

	for _, target := range notFoundErrors {
		if errors.Is(err, target) {
			writeError(w, http.StatusNotFound, target.Error())
			return
		}
	}
	for _, target := range conflictErrors {
		if errors.Is(err, target) {
			logger.Info("action", "action", action, "status", "conflict", "error", err)
			writeError(w, http.StatusConflict, target.Error())
			return
		}
	}

	switch {
	case errors.Is(err, repository.ErrTicketQRMismatch):
		logger.Warn("action", "action", action, "status", "qr_mismatch")
		writeError(w, http.StatusBadRequest, "ticket qr does not match")
	case errors.Is(err, booking.ErrGatewayUnavailable):
		logger.Error("action", "action", action, "status", "gateway_error", "error", err)
		writeError(w, http.StatusBadGateway, "payment gateway unavailable")
	default:
		logger.Error("action", "action", action, "status", "failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
