package booking

import (
	"context"
	"errors"

	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/models"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/repository"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/ticketing"
)

// ErrSessionUnmatched means a paid callback could not be tied to any open
// booking session.
var ErrSessionUnmatched = errors.New("no booking session matches the payment")

type CallbackResult struct {
	Outcome   string          `json:"outcome"`
	SessionID string          `json:"sessionId,omitempty"`
	Receipt   *models.Receipt `json:"receipt,omitempty"`
	Tickets   int             `json:"tickets,omitempty"`
}

// HandleCallback settles a gateway confirmation exactly once per
// transaction id. Non-paid statuses are acknowledged and ignored. Every
// callback is recorded with its outcome.
func (s *Service) HandleCallback(ctx context.Context, cb ticketing.Callback) (CallbackResult, error) {
	res, err := s.handleCallback(ctx, cb)
	ev := models.PaymentEvent{
		Provider:      cb.Provider,
		TransactionID: cb.TransactionID,
		Status:        cb.Status,
		Outcome:       res.Outcome,
		RawPayload:    cb.Raw,
	}
	if res.SessionID != "" {
		id := res.SessionID
		ev.SessionID = &id
	}
	if err != nil {
		ev.Error = err.Error()
	}
	if recErr := s.store.RecordPaymentEvent(ctx, ev); recErr != nil {
		s.logger.Warn("action", "action", "record_payment_event", "status", "failed", "transaction_id", cb.TransactionID, "error", recErr)
	}
	return res, err
}

func (s *Service) handleCallback(ctx context.Context, cb ticketing.Callback) (CallbackResult, error) {
	logger := s.logger.With("transaction_id", cb.TransactionID, "provider", cb.Provider)
	if !cb.Paid {
		logger.Info("action", "action", "payment_callback", "status", "ignored", "payment_status", cb.Status)
		return CallbackResult{Outcome: repository.EventOutcomeIgnored, SessionID: cb.SessionID}, nil
	}

	if s.locker != nil {
		unlock, ok, err := s.locker.TryLock(ctx, "booking:callback:"+cb.TransactionID, s.opts.CallbackLockTTL)
		if err != nil {
			logger.Warn("action", "action", "payment_callback", "status", "lock_unavailable", "error", err)
		} else if !ok {
			return CallbackResult{Outcome: repository.EventOutcomeFailed}, ticketing.ErrConcurrencyConflict
		} else {
			defer unlock()
		}
	}

	// Idempotency check comes before any mutation.
	if existing, err := s.store.FindReceiptByReferencePrefix(ctx, cb.TransactionID); err == nil {
		logger.Info("action", "action", "payment_callback", "status", "duplicate", "receipt_id", existing.ID)
		return CallbackResult{Outcome: repository.EventOutcomeDuplicate, SessionID: derefString(existing.SessionID), Receipt: &existing}, nil
	} else if !errors.Is(err, repository.ErrReceiptNotFound) {
		return CallbackResult{Outcome: repository.EventOutcomeFailed}, err
	}

	session, err := s.matchSession(ctx, cb)
	if err != nil {
		if errors.Is(err, ErrSessionUnmatched) {
			logger.Warn("action", "action", "payment_callback", "status", "unmatched", "session_hint", cb.SessionID, "customer_id", cb.CustomerID, "trip_id", cb.TripID)
			return CallbackResult{Outcome: repository.EventOutcomeUnmatched}, err
		}
		return CallbackResult{Outcome: repository.EventOutcomeFailed}, err
	}
	logger = logger.With("session_id", session.ID)

	switch session.Status {
	case models.SessionStatusAwaitingAutoPayment:
	case models.SessionStatusCompleted:
		logger.Info("action", "action", "payment_callback", "status", "session_already_completed")
		return CallbackResult{Outcome: repository.EventOutcomeDuplicate, SessionID: session.ID}, nil
	default:
		// Money arrived for a session that is no longer open. Support has
		// to refund or rebook by hand.
		logger.Error("action", "action", "payment_callback", "status", "session_closed", "session_status", session.Status, "amount_cents", cb.AmountCents)
		return CallbackResult{Outcome: repository.EventOutcomeSessionClosed, SessionID: session.ID}, nil
	}

	pricing, err := s.settlementPricing(ctx, session)
	if err != nil {
		return CallbackResult{Outcome: repository.EventOutcomeFailed, SessionID: session.ID}, err
	}
	if cb.AmountCents > 0 && cb.AmountCents != pricing.FinalCents {
		logger.Warn("action", "action", "payment_callback", "status", "amount_mismatch", "paid_cents", cb.AmountCents, "expected_cents", pricing.FinalCents)
	}
	paid := cb.AmountCents
	if paid == 0 {
		paid = pricing.FinalCents
	}

	result, err := s.Settle(ctx, SettleParams{
		Reference:       cb.TransactionID,
		SessionID:       session.ID,
		CustomerID:      session.CustomerID,
		TripID:          session.TripID,
		Quantity:        session.Quantity,
		PaymentMethod:   session.PaymentMethod,
		Pricing:         pricing,
		AmountPaidCents: paid,
	})
	if err != nil {
		return CallbackResult{Outcome: repository.EventOutcomeFailed, SessionID: session.ID}, err
	}
	if err := s.store.CompleteSession(ctx, session.ID); err != nil {
		logger.Warn("action", "action", "complete_session", "status", "failed", "error", err)
	}

	outcome := repository.EventOutcomeSettled
	if result.Duplicate {
		outcome = repository.EventOutcomeDuplicate
	}
	return CallbackResult{Outcome: outcome, SessionID: session.ID, Receipt: &result.Receipt, Tickets: len(result.Tickets)}, nil
}

// matchSession finds the session a callback pays for: the explicit session
// id, then the id embedded in the reference (both already folded into
// cb.SessionID by the parser), then the customer's newest open automatic
// session on the trip.
func (s *Service) matchSession(ctx context.Context, cb ticketing.Callback) (models.BookingSession, error) {
	if cb.SessionID != "" {
		session, err := s.store.GetSession(ctx, cb.SessionID)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, repository.ErrSessionNotFound) {
			return models.BookingSession{}, err
		}
	}
	if cb.CustomerID > 0 && cb.TripID != "" {
		session, err := s.store.FindOpenAutoSession(ctx, cb.CustomerID, cb.TripID)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, repository.ErrSessionNotFound) {
			return models.BookingSession{}, err
		}
	}
	return models.BookingSession{}, ErrSessionUnmatched
}

// settlementPricing reuses the session snapshot and re-reads the voucher so
// the receipt links a voucher that still exists. The amount is never
// recomputed from the current trip price.
func (s *Service) settlementPricing(ctx context.Context, session models.BookingSession) (models.PricingSnapshot, error) {
	pricing := session.Pricing
	if pricing.VoucherID == nil {
		return pricing, nil
	}
	voucher, err := s.store.GetVoucherByID(ctx, *pricing.VoucherID)
	if errors.Is(err, repository.ErrVoucherNotFound) {
		s.logger.Warn("action", "action", "resolve_voucher", "status", "missing", "session_id", session.ID, "voucher_id", *pricing.VoucherID)
		pricing.VoucherID = nil
		return pricing, nil
	}
	if err != nil {
		return pricing, err
	}
	pricing.VoucherCode = voucher.Code
	return pricing, nil
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
