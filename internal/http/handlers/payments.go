package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/booking"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/integrations/gateway"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/models"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/repository"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/ticketing"
)

const maxCallbackBody = 64 << 10

// PaymentCallback receives the gateway's server-to-server notification.
// Anything the gateway should not retry is acknowledged with 200.
func (h *Handler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	cb, err := ticketing.ParseCallback(r.Header.Get("Content-Type"), body, r.URL.Query())
	if err != nil {
		handleBookingError(w, logger, "payment_callback", err)
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	res, err := h.bookings.HandleCallback(ctx, cb)
	if errors.Is(err, booking.ErrSessionUnmatched) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "outcome": repository.EventOutcomeUnmatched})
		return
	}
	if err != nil {
		handleBookingError(w, logger, "payment_callback", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "outcome": res.Outcome})
}

// PaymentReturn is where the gateway sends the customer's browser. The
// query string is customer-controlled, so it only identifies the session;
// whether it was paid is asked of the gateway for the session's own
// reference.
func (h *Handler) PaymentReturn(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	result := "pending"
	var sessionID string

	cb, err := ticketing.ParseCallback("", nil, r.URL.Query())
	if err != nil {
		logger.Warn("action", "action", "payment_return", "status", "unparsed", "error", err)
	} else {
		sessionID = cb.SessionID
		if cb.Paid {
			result = "processing"
		} else if st := strings.ToLower(strings.TrimSpace(cb.Status)); st != "" {
			result = st
		}
	}

	if sessionID != "" && h.payments != nil {
		ctx, cancel := h.withTimeout(r.Context())
		session, err := h.store.GetSession(ctx, sessionID)
		switch {
		case err != nil:
			logger.Warn("action", "action", "payment_return", "status", "session_lookup_failed", "session_id", sessionID, "error", err)
		case session.Status == models.SessionStatusCompleted:
			result = repository.EventOutcomeSettled
		case session.Status == models.SessionStatusAwaitingAutoPayment && strings.TrimSpace(session.GatewayReference) != "":
			status, res, err := h.confirmWithGateway(ctx, session, "return_redirect")
			switch {
			case err != nil:
				logger.Warn("action", "action", "payment_return", "status", "confirm_failed", "session_id", sessionID, "error", err)
				result = "processing"
			case res != nil:
				result = res.Outcome
			default:
				result = strings.ToLower(strings.TrimSpace(status.Status))
			}
		}
		cancel()
	}

	target := h.returnTarget(sessionID, result)
	if target == "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{"sessionId": sessionID, "result": result})
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// confirmWithGateway queries the gateway for the session's own reference
// and settles only when the gateway reports it paid. The result is nil for
// an unpaid payment.
func (h *Handler) confirmWithGateway(ctx context.Context, session models.BookingSession, source string) (gateway.PaymentStatus, *booking.CallbackResult, error) {
	status, err := h.payments.QueryPayment(ctx, session.GatewayReference)
	if err != nil {
		return gateway.PaymentStatus{}, nil, fmt.Errorf("%w: %v", booking.ErrGatewayUnavailable, err)
	}
	if !status.Paid() {
		return status, nil, nil
	}
	res, err := h.bookings.HandleCallback(ctx, ticketing.Callback{
		Provider:      ticketing.DefaultProvider,
		TransactionID: session.GatewayReference,
		GatewayTxID:   status.TransactionID,
		Status:        status.Status,
		Paid:          true,
		SessionID:     session.ID,
		CustomerID:    session.CustomerID,
		TripID:        session.TripID,
		AmountCents:   status.AmountCents(),
		Raw: map[string]interface{}{
			"source":       source,
			"merchOrderId": status.Reference,
			"transId":      status.TransactionID,
			"tradeStatus":  status.Status,
			"totalAmount":  status.Amount,
		},
	})
	if err != nil {
		return status, nil, err
	}
	return status, &res, nil
}

func (h *Handler) returnTarget(sessionID, result string) string {
	base := strings.TrimSpace(h.cfg.BaseURL)
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	q := u.Query()
	if sessionID != "" {
		q.Set("booking", sessionID)
	}
	if result != "" {
		q.Set("payment", result)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
