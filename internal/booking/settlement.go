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

const settlementFailedReason = "settlement failed"

type SettleParams struct {
	Reference       string
	SessionID       string
	CustomerID      int64
	TripID          string
	Quantity        int
	PaymentMethod   string
	Pricing         models.PricingSnapshot
	AmountPaidCents int64
	ApprovedBy      *int64
}

type SettleResult struct {
	Receipt   models.Receipt
	Tickets   []models.Ticket
	Duplicate bool
}

// Settle converts a confirmed payment into an approved receipt and its
// confirmed tickets. Reference is the idempotency key: a second call with
// the same reference returns the first receipt with Duplicate set.
//
// Order is fixed: seats, then receipt, then tickets. A failure after the
// seats were taken releases them; a failure after the receipt exists also
// marks it rejected. Those cases return *ticketing.PartialSettlementFailure.
func (s *Service) Settle(ctx context.Context, p SettleParams) (SettleResult, error) {
	p.Reference = strings.TrimSpace(p.Reference)
	switch {
	case p.Reference == "":
		return SettleResult{}, ticketing.Invalid("reference", "missing", "settlement reference is required")
	case p.Quantity <= 0:
		return SettleResult{}, ticketing.Invalid("quantity", "non_positive", "quantity must be positive")
	case p.TripID == "":
		return SettleResult{}, ticketing.Invalid("tripId", "missing", "trip is required")
	case p.CustomerID <= 0:
		return SettleResult{}, ticketing.Invalid("customerId", "missing", "customer is required")
	}
	logger := s.logger.With("reference", p.Reference, "trip_id", p.TripID, "quantity", p.Quantity)

	if existing, err := s.store.FindReceiptByReferencePrefix(ctx, p.Reference); err == nil {
		logger.Info("action", "action", "settle", "status", "duplicate", "receipt_id", existing.ID)
		return s.duplicateResult(ctx, existing)
	} else if !errors.Is(err, repository.ErrReceiptNotFound) {
		return SettleResult{}, err
	}

	if err := s.store.ReserveSeats(ctx, p.TripID, p.Quantity); err != nil {
		return SettleResult{}, err
	}

	var sessionID *string
	if p.SessionID != "" {
		id := p.SessionID
		sessionID = &id
	}
	receipt, err := s.store.CreateReceipt(ctx, models.NewReceiptParams{
		ReferenceNumber: p.Reference,
		SessionID:       sessionID,
		CustomerID:      p.CustomerID,
		TripID:          p.TripID,
		Quantity:        p.Quantity,
		PaymentMethod:   p.PaymentMethod,
		Pricing:         p.Pricing,
		AmountPaidCents: p.AmountPaidCents,
		ApprovalStatus:  models.ApprovalStatusApproved,
		ApprovedBy:      p.ApprovedBy,
	})
	if err != nil {
		compErr := s.releaseSeats(ctx, p.TripID, p.Quantity)
		if errors.Is(err, repository.ErrDuplicateReference) && compErr == nil {
			// Lost the race to a concurrent delivery of the same payment.
			existing, findErr := s.store.FindReceiptByReferencePrefix(ctx, p.Reference)
			if findErr == nil {
				logger.Info("action", "action", "settle", "status", "duplicate_race", "receipt_id", existing.ID)
				return s.duplicateResult(ctx, existing)
			}
		}
		return SettleResult{}, s.partialFailure("create_receipt", p.Reference, err, compErr)
	}

	tickets, err := s.store.CreateTickets(ctx, receipt, p.Quantity, models.TicketStatusConfirmed)
	if err == nil && len(tickets) != p.Quantity {
		err = fmt.Errorf("created %d of %d tickets", len(tickets), p.Quantity)
	}
	if err != nil {
		compErr := s.undoApproval(ctx, receipt, p.Quantity, ticketIDs(tickets))
		return SettleResult{}, s.partialFailure("create_tickets", p.Reference, err, compErr)
	}

	s.afterSettlement(ctx, receipt, tickets)
	logger.Info("action", "action", "settle", "status", "ok", "receipt_id", receipt.ID, "tickets", len(tickets))
	return SettleResult{Receipt: receipt, Tickets: tickets}, nil
}

func (s *Service) duplicateResult(ctx context.Context, receipt models.Receipt) (SettleResult, error) {
	detail, err := s.store.GetReceipt(ctx, receipt.ID)
	if err != nil {
		return SettleResult{Receipt: receipt, Duplicate: true}, nil
	}
	return SettleResult{Receipt: detail.Receipt, Tickets: detail.Tickets, Duplicate: true}, nil
}

// afterSettlement runs the best-effort tail: voucher usage, QR payloads and
// the customer notification. None of it can undo a committed settlement.
func (s *Service) afterSettlement(ctx context.Context, receipt models.Receipt, tickets []models.Ticket) {
	logger := s.logger.With("receipt_id", receipt.ID, "reference", receipt.ReferenceNumber)
	if receipt.VoucherID != nil && !receipt.VoucherCounted {
		if _, err := s.store.CountVoucherUse(ctx, receipt.ID); err != nil {
			// The price was agreed when the session started.
			logger.Warn("action", "action", "count_voucher", "status", "failed", "voucher_id", *receipt.VoucherID, "error", err)
		}
	}

	issued := make([]map[string]interface{}, 0, len(tickets))
	for i := range tickets {
		token, err := s.issueQR(ctx, tickets[i])
		if err != nil {
			logger.Warn("action", "action", "issue_qr", "status", "failed", "ticket_id", tickets[i].ID, "error", err)
		} else {
			tickets[i].QRPayload = token
		}
		issued = append(issued, map[string]interface{}{
			"ticketId":     tickets[i].ID,
			"ticketNumber": tickets[i].TicketNumber,
			"qr":           tickets[i].QRPayload,
		})
	}

	s.notify(ctx, receipt.CustomerID, models.NotificationTicketsIssued, map[string]interface{}{
		"receiptId": receipt.ID,
		"reference": receipt.ReferenceNumber,
		"tripId":    receipt.TripID,
		"tickets":   issued,
	})
}

func (s *Service) issueQR(ctx context.Context, t models.Ticket) (string, error) {
	if strings.TrimSpace(s.opts.QRSecret) == "" {
		return "", errors.New("qr secret not configured")
	}
	payload, err := ticketing.NewQRPayload(t.ID, t.TripID, t.CustomerID, t.TicketNumber, t.SerialNumber, s.now())
	if err != nil {
		return "", err
	}
	token, err := ticketing.SignQRPayload(s.opts.QRSecret, payload)
	if err != nil {
		return "", err
	}
	if err := s.store.SetTicketQR(ctx, t.ID, token); err != nil {
		return "", err
	}
	return token, nil
}

// undoApproval compensates an approved receipt whose ticket batch could not
// be completed. Seats go back, the receipt becomes rejected and any
// tickets that were created are cancelled.
func (s *Service) undoApproval(ctx context.Context, receipt models.Receipt, seats int, tickets []string) error {
	var errs []error
	if err := s.releaseSeats(ctx, receipt.TripID, seats); err != nil {
		errs = append(errs, err)
	}
	// A receipt no longer approved was already decided elsewhere.
	err := s.store.TransitionReceipt(ctx, receipt.ID, models.ApprovalStatusApproved, models.ApprovalStatusRejected, nil, settlementFailedReason)
	if err != nil && !errors.Is(err, repository.ErrReceiptStateNotAllowed) {
		errs = append(errs, fmt.Errorf("reject receipt: %w", err))
	}
	if len(tickets) > 0 {
		if _, err := s.store.SetTicketStatuses(ctx, tickets, models.TicketStatusConfirmed, models.TicketStatusCancelled); err != nil {
			errs = append(errs, fmt.Errorf("cancel tickets: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) releaseSeats(ctx context.Context, tripID string, seats int) error {
	err := s.store.ReleaseSeats(ctx, tripID, seats)
	if err == nil {
		return nil
	}
	if errors.Is(err, ticketing.ErrSeatInvariant) {
		s.logger.Error("action", "action", "release_seats", "status", "invariant_violation", "trip_id", tripID, "seats", seats, "error", err)
	} else {
		s.logger.Error("action", "action", "release_seats", "status", "failed", "trip_id", tripID, "seats", seats, "error", err)
	}
	return fmt.Errorf("release seats: %w", err)
}

func (s *Service) partialFailure(step, reference string, cause, compErr error) error {
	s.logger.Error("action", "action", "settle", "status", "partial_failure", "step", step, "reference", reference, "error", cause, "compensation_error", compErr)
	return &ticketing.PartialSettlementFailure{Step: step, Reference: reference, Cause: cause, CompensationErr: compErr}
}

func ticketIDs(tickets []models.Ticket) []string {
	out := make([]string, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, t.ID)
	}
	return out
}
