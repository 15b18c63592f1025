package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/models"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/repository"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/ticketing"
)

// ErrGatewayUnavailable wraps a failed checkout initiation. The session it
// was started for has already been cancelled.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

type StartParams struct {
	CustomerID    int64
	TripID        string
	Quantity      int
	PaymentMethod string
	VoucherCode   string
	Phone         string
	IDDocumentKey string
}

type StartResult struct {
	Session     models.BookingSession `json:"session"`
	Superseded  []string              `json:"superseded,omitempty"`
	GnplAccount *models.GnplAccount   `json:"gnplAccount,omitempty"`
}

// StartBooking validates and prices a booking, then opens a session that
// supersedes any other open session of the customer. Seats are not taken
// here; they are reserved when the payment is settled.
func (s *Service) StartBooking(ctx context.Context, p StartParams) (StartResult, error) {
	status, err := ticketing.InitialSessionStatus(p.PaymentMethod)
	if err != nil {
		return StartResult{}, err
	}
	if p.Quantity <= 0 {
		return StartResult{}, ticketing.Invalid("quantity", "non_positive", "quantity must be positive")
	}
	var phone string
	if p.PaymentMethod == models.PaymentMethodGnpl {
		phone, err = ticketing.NormalizePhone(p.Phone)
		if err != nil {
			return StartResult{}, err
		}
		if strings.TrimSpace(p.IDDocumentKey) == "" {
			return StartResult{}, ticketing.Invalid("idDocumentKey", "missing", "identity document is required")
		}
	}

	trip, err := s.store.GetTrip(ctx, p.TripID)
	if err != nil {
		return StartResult{}, err
	}
	if trip.Status != models.TripStatusActive {
		return StartResult{}, repository.ErrTripNotActive
	}
	if trip.AvailableSeats < p.Quantity {
		return StartResult{}, &ticketing.InsufficientSeats{TripID: trip.ID, Available: trip.AvailableSeats, Requested: p.Quantity}
	}
	quote, err := s.resolvePrice(ctx, trip, p.CustomerID, p.Quantity, p.VoucherCode)
	if err != nil {
		return StartResult{}, err
	}

	session, superseded, err := s.store.StartSession(ctx, models.NewSessionParams{
		CustomerID:    p.CustomerID,
		TripID:        trip.ID,
		Quantity:      p.Quantity,
		PaymentMethod: p.PaymentMethod,
		Status:        status,
		Pricing:       snapshotFromQuote(quote),
	})
	if err != nil {
		return StartResult{}, err
	}
	logger := s.logger.With("session_id", session.ID, "customer_id", p.CustomerID, "trip_id", trip.ID)
	if len(superseded) > 0 {
		logger.Info("action", "action", "start_booking", "status", "superseded", "superseded", superseded)
	}
	out := StartResult{Session: session, Superseded: superseded}

	switch p.PaymentMethod {
	case models.PaymentMethodTelebirrAuto:
		if s.gateway == nil {
			s.cancelAfterStartFailure(ctx, session.ID, repository.CancelReasonGateway)
			return StartResult{}, fmt.Errorf("%w: not configured", ErrGatewayUnavailable)
		}
		reference := ticketing.GatewayReference(session.ID, s.now())
		checkoutURL, err := s.gateway.InitiatePayment(ctx, reference, quote.FinalCents, trip.Title)
		if err != nil {
			logger.Warn("action", "action", "initiate_payment", "status", "failed", "reference", reference, "error", err)
			s.cancelAfterStartFailure(ctx, session.ID, repository.CancelReasonGateway)
			return StartResult{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		if err := s.store.SetSessionCheckout(ctx, session.ID, reference, checkoutURL); err != nil {
			return StartResult{}, err
		}
		out.Session.GatewayReference = reference
		out.Session.CheckoutURL = checkoutURL
	case models.PaymentMethodGnpl:
		acct, err := s.store.CreateGnplAccount(ctx, models.NewGnplAccountParams{
			CustomerID:        p.CustomerID,
			TripID:            trip.ID,
			SessionID:         session.ID,
			Quantity:          p.Quantity,
			Phone:             phone,
			IDDocumentKey:     strings.TrimSpace(p.IDDocumentKey),
			RequestedCents:    quote.FinalCents,
			TermDays:          s.opts.GnplTermDays,
			PenaltyPercent:    s.opts.GnplPenaltyPercent,
			PenaltyPeriodDays: s.opts.GnplPenaltyPeriodDays,
		})
		if err != nil {
			s.cancelAfterStartFailure(ctx, session.ID, repository.CancelReasonCustomer)
			return StartResult{}, err
		}
		out.GnplAccount = &acct
	}
	logger.Info("action", "action", "start_booking", "status", "ok", "method", p.PaymentMethod, "final_cents", quote.FinalCents)
	return out, nil
}

func (s *Service) cancelAfterStartFailure(ctx context.Context, sessionID, reason string) {
	if err := s.store.CancelSession(ctx, sessionID, reason); err != nil {
		s.logger.Warn("action", "action", "cancel_session", "status", "failed", "session_id", sessionID, "error", err)
	}
}

// CancelBooking lets a customer abandon their own open session.
func (s *Service) CancelBooking(ctx context.Context, customerID int64, sessionID string) error {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.CustomerID != customerID {
		return repository.ErrSessionNotFound
	}
	if _, err := s.store.PendingReceiptForSession(ctx, sessionID); err == nil {
		return repository.ErrSessionStateNotAllowed
	} else if !errors.Is(err, repository.ErrReceiptNotFound) {
		return err
	}
	return s.store.CancelSession(ctx, sessionID, repository.CancelReasonCustomer)
}

type SubmitReceiptParams struct {
	CustomerID      int64
	SessionID       string
	PayerReference  string
	AmountPaidCents int64
	EvidenceKey     string
}

// SubmitReceipt records a manual bank or telebirr transfer for admin
// review. Nothing is reserved until the receipt is approved.
func (s *Service) SubmitReceipt(ctx context.Context, p SubmitReceiptParams) (models.Receipt, error) {
	if strings.TrimSpace(p.EvidenceKey) == "" && strings.TrimSpace(p.PayerReference) == "" {
		return models.Receipt{}, ticketing.Invalid("evidenceKey", "missing", "a payment reference or receipt image is required")
	}
	if p.AmountPaidCents < 0 {
		return models.Receipt{}, ticketing.Invalid("amountPaid", "negative", "amount paid must not be negative")
	}
	session, err := s.store.GetSession(ctx, p.SessionID)
	if err != nil {
		return models.Receipt{}, err
	}
	if session.CustomerID != p.CustomerID {
		return models.Receipt{}, repository.ErrSessionNotFound
	}
	if session.Status != models.SessionStatusAwaitingReceipt {
		return models.Receipt{}, repository.ErrSessionStateNotAllowed
	}
	if _, err := s.store.PendingReceiptForSession(ctx, session.ID); err == nil {
		return models.Receipt{}, repository.ErrSessionStateNotAllowed
	} else if !errors.Is(err, repository.ErrReceiptNotFound) {
		return models.Receipt{}, err
	}

	payerRef := ticketing.NormalizeReference(p.PayerReference)
	reference := payerRef
	if reference == "" {
		reference = ticketing.ManualReference(s.now())
	}
	amount := p.AmountPaidCents
	if amount == 0 {
		amount = session.Pricing.FinalCents
	}
	sessionID := session.ID
	params := models.NewReceiptParams{
		ReferenceNumber: reference,
		PayerReference:  payerRef,
		SessionID:       &sessionID,
		CustomerID:      session.CustomerID,
		TripID:          session.TripID,
		Quantity:        session.Quantity,
		PaymentMethod:   session.PaymentMethod,
		Pricing:         session.Pricing,
		AmountPaidCents: amount,
		ApprovalStatus:  models.ApprovalStatusPending,
		EvidenceKey:     strings.TrimSpace(p.EvidenceKey),
	}
	receipt, err := s.store.CreateReceipt(ctx, params)
	if errors.Is(err, repository.ErrDuplicateReference) && payerRef != "" {
		// The typed reference is taken, for instance by a rejected earlier
		// submission. Admins still see it as the payer reference.
		s.logger.Warn("action", "action", "submit_receipt", "status", "reference_taken", "session_id", session.ID, "payer_reference", payerRef)
		params.ReferenceNumber = ticketing.ManualReference(s.now())
		receipt, err = s.store.CreateReceipt(ctx, params)
	}
	if err != nil {
		return models.Receipt{}, err
	}
	s.logger.Info("action", "action", "submit_receipt", "status", "ok", "receipt_id", receipt.ID, "session_id", session.ID, "reference", receipt.ReferenceNumber)
	return receipt, nil
}
