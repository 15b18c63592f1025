package handlers

import (
	"net/http"
	"strings"

	authmw "github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/http/middleware"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/models"

	"github.com/go-chi/chi/v5"
)

var receiptStatuses = map[string]struct{}{
	"":                            {},
	models.ApprovalStatusPending:  {},
	models.ApprovalStatusApproved: {},
	models.ApprovalStatusRejected: {},
}

func (h *Handler) ListAdminReceipts(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	if _, ok := receiptStatuses[status]; !ok {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	limit, offset := pagination(r, 50, 200)
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	items, total, err := h.store.ListReceipts(ctx, status, strings.TrimSpace(r.URL.Query().Get("tripId")), limit, offset)
	if err != nil {
		handleBookingError(w, logger, "list_receipts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items, "total": total})
}

// GetAdminReceipt returns a receipt with its tickets and a short-lived
// link to the uploaded evidence.
func (h *Handler) GetAdminReceipt(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	detail, err := h.store.GetReceipt(ctx, chi.URLParam(r, "id"))
	if err != nil {
		handleBookingError(w, logger, "get_receipt", err)
		return
	}
	out := map[string]interface{}{"receipt": detail}
	if detail.EvidenceKey != "" && h.media != nil {
		if viewURL, err := h.media.PresignView(ctx, detail.EvidenceKey); err != nil {
			logger.Warn("action", "action", "presign_view", "status", "failed", "receipt_id", detail.ID, "error", err)
		} else {
			out["evidenceUrl"] = viewURL
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type decisionRequest struct {
	Notes        string `json:"notes" validate:"max=1000"`
	Reason       string `json:"reason" validate:"max=1000"`
	Confirmation string `json:"confirmationTicketNumber" validate:"max=64"`
}

func (h *Handler) ApproveReceipt(w http.ResponseWriter, r *http.Request) {
	h.decideReceipt(w, r, "approve_receipt")
}

func (h *Handler) RejectReceipt(w http.ResponseWriter, r *http.Request) {
	h.decideReceipt(w, r, "reject_receipt")
}

func (h *Handler) RollbackReceipt(w http.ResponseWriter, r *http.Request) {
	h.decideReceipt(w, r, "rollback_receipt")
}

func (h *Handler) decideReceipt(w http.ResponseWriter, r *http.Request, action string) {
	logger := h.loggerForRequest(r)
	actor, ok := authmw.ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusForbidden, "admin token required")
		return
	}
	var req decisionRequest
	if !h.decode(w, r, &req) {
		return
	}
	receiptID := chi.URLParam(r, "id")
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	var (
		detail models.ReceiptDetail
		err    error
	)
	switch action {
	case "approve_receipt":
		detail, err = h.bookings.Approve(ctx, receiptID, actor, req.Notes)
	case "reject_receipt":
		detail, err = h.bookings.Reject(ctx, receiptID, actor, req.Reason)
	default:
		detail, err = h.bookings.Rollback(ctx, receiptID, actor, req.Confirmation, req.Notes)
	}
	if err != nil {
		handleBookingError(w, logger, action, err)
		return
	}
	logger.Info("action", "action", action, "status", "ok", "receipt_id", detail.ID, "approval_status", detail.ApprovalStatus)
	writeJSON(w, http.StatusOK, detail)
}
