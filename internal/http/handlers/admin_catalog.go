package handlers

import (
	"net/http"
	"strings"

	authmw "github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/http/middleware"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/models"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/ticketing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

var hundredPercent = decimal.NewFromInt(100)

// ListTrips is the customer-facing catalogue of bookable trips.
func (h *Handler) ListTrips(w http.ResponseWriter, r *http.Request) {
	h.listTrips(w, r, models.TripStatusActive)
}

func (h *Handler) ListAdminTrips(w http.ResponseWriter, r *http.Request) {
	h.listTrips(w, r, strings.TrimSpace(r.URL.Query().Get("status")))
}

func (h *Handler) listTrips(w http.ResponseWriter, r *http.Request, status string) {
	logger := h.loggerForRequest(r)
	limit, offset := pagination(r, 50, 200)
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	trips, err := h.store.ListTrips(ctx, status, limit, offset)
	if err != nil {
		handleBookingError(w, logger, "list_trips", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": trips})
}

// GetTrip doubles as the seat view: availableSeats is the live counter.
func (h *Handler) GetTrip(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	trip, err := h.store.GetTrip(ctx, chi.URLParam(r, "id"))
	if err != nil {
		handleBookingError(w, logger, "get_trip", err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

func (h *Handler) CreateTrip(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	actor, _ := authmw.ActorFromContext(r.Context())
	var req models.TripInput
	if !h.decode(w, r, &req) {
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	trip, err := h.store.CreateTrip(ctx, actor, req)
	if err != nil {
		handleBookingError(w, logger, "create_trip", err)
		return
	}
	logger.Info("action", "action", "create_trip", "status", "ok", "trip_id", trip.ID, "seats", trip.TotalSeats)
	writeJSON(w, http.StatusCreated, trip)
}

type tripStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active cancelled completed"`
}

func (h *Handler) SetTripStatus(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	var req tripStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	tripID := chi.URLParam(r, "id")
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	if err := h.store.SetTripStatus(ctx, tripID, req.Status); err != nil {
		handleBookingError(w, logger, "set_trip_status", err)
		return
	}
	logger.Info("action", "action", "set_trip_status", "status", "ok", "trip_id", tripID, "trip_status", req.Status)
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (h *Handler) CreateVoucher(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	actor, _ := authmw.ActorFromContext(r.Context())
	var req models.VoucherInput
	if !h.decode(w, r, &req) {
		return
	}
	percent, err := decimal.NewFromString(strings.TrimSpace(req.DiscountPercent))
	if err != nil || !percent.IsPositive() || percent.GreaterThan(hundredPercent) {
		writeError(w, http.StatusBadRequest, "discountPercent must be in (0, 100]")
		return
	}
	if req.ValidFrom != nil && req.ValidUntil != nil && req.ValidUntil.Before(*req.ValidFrom) {
		writeError(w, http.StatusBadRequest, "validUntil before validFrom")
		return
	}
	req.Code = ticketing.NormalizeVoucherCode(req.Code)
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "invalid code")
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	voucher, err := h.store.CreateVoucher(ctx, actor, req, percent)
	if err != nil {
		handleBookingError(w, logger, "create_voucher", err)
		return
	}
	logger.Info("action", "action", "create_voucher", "status", "ok", "voucher_id", voucher.ID, "code", voucher.Code)
	writeJSON(w, http.StatusCreated, voucher)
}

func (h *Handler) ListVouchers(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	q := r.URL.Query()
	activeOnly := q.Get("active") == "true" || q.Get("active") == "1"
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	items, err := h.store.ListVouchers(ctx, strings.TrimSpace(q.Get("tripId")), activeOnly)
	if err != nil {
		handleBookingError(w, logger, "list_vouchers", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (h *Handler) DeactivateVoucher(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	id := chi.URLParam(r, "id")
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	if err := h.store.SetVoucherActive(ctx, id, false); err != nil {
		handleBookingError(w, logger, "deactivate_voucher", err)
		return
	}
	logger.Info("action", "action", "deactivate_voucher", "status", "ok", "voucher_id", id)
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}
