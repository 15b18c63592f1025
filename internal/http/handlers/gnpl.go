package handlers

import (
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

// MyGnplAccounts lists the customer's accounts with balances derived at
// read time.
func (h *Handler) MyGnplAccounts(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	customerID, ok := authmw.CustomerIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	items, err := h.bookings.GnplAccounts(ctx, customerID, "", 100, 0)
	if err != nil {
		handleBookingError(w, logger, "list_gnpl_accounts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

type gnplPaymentRequest struct {
	AmountCents int64  `json:"amountCents" validate:"gt=0"`
	Reference   string `json:"reference" validate:"max=128"`
	EvidenceKey string `json:"evidenceKey" validate:"max=512"`
}

func (h *Handler) SubmitGnplPayment(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	customerID, ok := authmw.CustomerIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req gnplPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.EvidenceKey != "" && !integrations.KeyOwnedBy(req.EvidenceKey, integrations.ScopeGnplPayment, customerID) {
		writeError(w, http.StatusBadRequest, "invalid evidenceKey")
		return
	}
	accountID := chi.URLParam(r, "id")
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	acct, err := h.bookings.GnplAccount(ctx, accountID)
	if err == nil && acct.CustomerID != customerID {
		err = repository.ErrGnplAccountNotFound
	}
	if err != nil {
		handleBookingError(w, logger, "submit_gnpl_payment", err)
		return
	}
	payment, err := h.bookings.SubmitGnplPayment(ctx, booking.GnplPaymentParams{
		AccountID:   acct.ID,
		CustomerID:  customerID,
		AmountCents: req.AmountCents,
		Reference:   req.Reference,
		EvidenceKey: req.EvidenceKey,
	})
	if err != nil {
		handleBookingError(w, logger, "submit_gnpl_payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

var gnplStatuses = map[string]struct{}{
	"":                               {},
	models.GnplStatusPendingApproval: {},
	models.GnplStatusApproved:        {},
	models.GnplStatusRejected:        {},
	models.GnplStatusOverdue:         {},
	models.GnplStatusCompleted:       {},
	models.GnplStatusCancelled:       {},
}

func (h *Handler) ListAdminGnplAccounts(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	q := r.URL.Query()
	status := strings.TrimSpace(q.Get("status"))
	if _, ok := gnplStatuses[status]; !ok {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	var customerID int64
	if raw := strings.TrimSpace(q.Get("customerId")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid customerId")
			return
		}
		customerID = parsed
	}
	limit, offset := pagination(r, 50, 200)
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	items, err := h.bookings.GnplAccounts(ctx, customerID, status, limit, offset)
	if err != nil {
		handleBookingError(w, logger, "list_gnpl_accounts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

// GetAdminGnplAccount returns the account, its payments and a view link
// for the identity document.
func (h *Handler) GetAdminGnplAccount(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	acct, err := h.bookings.GnplAccount(ctx, chi.URLParam(r, "id"))
	if err != nil {
		handleBookingError(w, logger, "get_gnpl_account", err)
		return
	}
	payments, err := h.store.ListGnplPayments(ctx, acct.ID, "")
	if err != nil {
		handleBookingError(w, logger, "get_gnpl_account", err)
		return
	}
	out := map[string]interface{}{"account": acct, "payments": payments}
	if acct.IDDocumentKey != "" && h.media != nil {
		if viewURL, err := h.media.PresignView(ctx, acct.IDDocumentKey); err == nil {
			out["idDocumentUrl"] = viewURL
		} else {
			logger.Warn("action", "action", "presign_view", "status", "failed", "gnpl_account_id", acct.ID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) ApproveGnplAccount(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	actor, ok := authmw.ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusForbidden, "admin token required")
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	acct, err := h.bookings.ApproveGnplAccount(ctx, chi.URLParam(r, "id"), actor)
	if err != nil {
		handleBookingError(w, logger, "approve_gnpl_account", err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

func (h *Handler) RejectGnplAccount(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	actor, ok := authmw.ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusForbidden, "admin token required")
		return
	}
	var req reasonRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	acct, err := h.bookings.RejectGnplAccount(ctx, chi.URLParam(r, "id"), actor, req.Reason)
	if err != nil {
		handleBookingError(w, logger, "reject_gnpl_account", err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (h *Handler) ListAdminGnplPayments(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	q := r.URL.Query()
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	items, err := h.store.ListGnplPayments(ctx, strings.TrimSpace(q.Get("accountId")), strings.TrimSpace(q.Get("status")))
	if err != nil {
		handleBookingError(w, logger, "list_gnpl_payments", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (h *Handler) ApproveGnplPayment(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	actor, ok := authmw.ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusForbidden, "admin token required")
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	payment, acct, err := h.bookings.ApproveGnplPayment(ctx, chi.URLParam(r, "id"), actor)
	if err != nil {
		handleBookingError(w, logger, "approve_gnpl_payment", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"payment": payment, "account": acct})
}

func (h *Handler) RejectGnplPayment(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	actor, ok := authmw.ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusForbidden, "admin token required")
		return
	}
	var req reasonRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	payment, err := h.bookings.RejectGnplPayment(ctx, chi.URLParam(r, "id"), actor, req.Reason)
	if err != nil {
		handleBookingError(w, logger, "reject_gnpl_payment", err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}
