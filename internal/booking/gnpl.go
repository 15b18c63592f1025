package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/models"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/repository"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/ticketing"
)

const penaltyBatchSize = 200

// ApproveGnplAccount settles a deferred-payment application like any other
// booking, with nothing paid, and opens its ledger.
func (s *Service) ApproveGnplAccount(ctx context.Context, accountID string, actor int64) (models.GnplAccount, error) {
	acct, err := s.store.GetGnplAccount(ctx, accountID)
	if err != nil {
		return models.GnplAccount{}, err
	}
	if acct.Status != models.GnplStatusPendingApproval {
		return models.GnplAccount{}, repository.ErrGnplStateNotAllowed
	}
	logger := s.logger.With("gnpl_account_id", acct.ID, "actor", actor)

	pricing := models.PricingSnapshot{BaseCents: acct.RequestedCents, FinalCents: acct.RequestedCents}
	sessionID := ""
	if acct.SessionID != nil {
		sessionID = *acct.SessionID
		session, err := s.store.GetSession(ctx, sessionID)
		switch {
		case err == nil:
			if pricing, err = s.settlementPricing(ctx, session); err != nil {
				return models.GnplAccount{}, err
			}
		case errors.Is(err, repository.ErrSessionNotFound):
			sessionID = ""
		default:
			return models.GnplAccount{}, err
		}
	}

	result, err := s.Settle(ctx, SettleParams{
		Reference:       ticketing.GnplReference(acct.ID),
		SessionID:       sessionID,
		CustomerID:      acct.CustomerID,
		TripID:          acct.TripID,
		Quantity:        acct.Quantity,
		PaymentMethod:   models.PaymentMethodGnpl,
		Pricing:         pricing,
		AmountPaidCents: 0,
		ApprovedBy:      &actor,
	})
	if err != nil {
		return models.GnplAccount{}, err
	}

	approved, err := s.store.ApproveGnplAccount(ctx, acct.ID, actor, acct.RequestedCents, result.Receipt.ID, s.now())
	if err != nil {
		// The application changed under us; give the seats back.
		_, _, undoErr := s.store.RejectReceipt(ctx, result.Receipt.ID, actor, "gnpl approval failed", func(d models.ReceiptDetail) (ticketing.DecisionPlan, error) {
			return ticketing.PlanRejection(d.ApprovalStatus, batchOf(d.Tickets))
		})
		if undoErr != nil {
			return models.GnplAccount{}, s.partialFailure("approve_gnpl_account", result.Receipt.ReferenceNumber, err, undoErr)
		}
		return models.GnplAccount{}, err
	}
	if sessionID != "" {
		if err := s.store.CompleteSession(ctx, sessionID); err != nil {
			logger.Warn("action", "action", "complete_session", "status", "failed", "session_id", sessionID, "error", err)
		}
	}
	logger.Info("action", "action", "approve_gnpl_account", "status", "ok", "receipt_id", result.Receipt.ID, "approved_cents", approved.ApprovedCents)
	s.notify(ctx, approved.CustomerID, models.NotificationGnplApproved, map[string]interface{}{
		"accountId":     approved.ID,
		"approvedCents": approved.ApprovedCents,
		"dueDate":       approved.DueDate,
	})
	return s.decorate(approved), nil
}

// RejectGnplAccount declines a pending application. No seats were held.
func (s *Service) RejectGnplAccount(ctx context.Context, accountID string, actor int64, reason string) (models.GnplAccount, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return models.GnplAccount{}, ticketing.Invalid("reason", "missing", "rejection reason is required")
	}
	acct, err := s.store.RejectGnplAccount(ctx, accountID, actor, reason)
	if err != nil {
		return models.GnplAccount{}, err
	}
	s.logger.Info("action", "action", "reject_gnpl_account", "status", "ok", "gnpl_account_id", acct.ID, "actor", actor)
	s.notify(ctx, acct.CustomerID, models.NotificationGnplRejected, map[string]interface{}{
		"accountId": acct.ID,
		"reason":    reason,
	})
	return s.decorate(acct), nil
}

// GnplAccount returns an account with its balances and status derived for
// the current time. A derived status that differs from the stored one is
// written back.
func (s *Service) GnplAccount(ctx context.Context, accountID string) (models.GnplAccount, error) {
	acct, err := s.store.GetGnplAccount(ctx, accountID)
	if err != nil {
		return models.GnplAccount{}, err
	}
	return s.refresh(ctx, acct), nil
}

func (s *Service) GnplAccounts(ctx context.Context, customerID int64, status string, limit, offset int) ([]models.GnplAccount, error) {
	items, err := s.store.ListGnplAccounts(ctx, customerID, status, limit, offset)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i] = s.refresh(ctx, items[i])
	}
	return items, nil
}

func (s *Service) refresh(ctx context.Context, acct models.GnplAccount) models.GnplAccount {
	stored := acct.Status
	out := s.decorate(acct)
	if out.Status != stored {
		if err := s.store.SetGnplStatus(ctx, acct.ID, stored, out.Status); err != nil {
			s.logger.Warn("action", "action", "refresh_gnpl_status", "status", "failed", "gnpl_account_id", acct.ID, "error", err)
		}
	}
	return out
}

func (s *Service) decorate(acct models.GnplAccount) models.GnplAccount {
	now := s.now()
	b := ticketing.DeriveBalances(ledgerOf(acct))
	acct.PrincipalOutstandingCents = b.PrincipalOutstandingCents
	acct.PenaltyOutstandingCents = b.PenaltyOutstandingCents
	acct.TotalDueCents = b.TotalDueCents
	acct.Status = ticketing.DeriveGnplStatus(acct.Status, acct.DueDate, b, now)
	acct.OverdueDays = ticketing.OverdueDays(acct.DueDate, now)
	return acct
}

func ledgerOf(acct models.GnplAccount) ticketing.Ledger {
	return ticketing.Ledger{
		ApprovedCents:       acct.ApprovedCents,
		PrincipalPaidCents:  acct.PrincipalPaidCents,
		PenaltyAccruedCents: acct.PenaltyAccruedCents,
		PenaltyPaidCents:    acct.PenaltyPaidCents,
	}
}

type GnplPaymentParams struct {
	AccountID   string
	CustomerID  int64
	AmountCents int64
	Reference   string
	EvidenceKey string
}

// SubmitGnplPayment records a repayment. It is not allocated until an
// admin approves it.
func (s *Service) SubmitGnplPayment(ctx context.Context, p GnplPaymentParams) (models.GnplPayment, error) {
	if p.AmountCents <= 0 {
		return models.GnplPayment{}, ticketing.Invalid("amount", "non_positive", "payment amount must be positive")
	}
	if strings.TrimSpace(p.EvidenceKey) == "" && strings.TrimSpace(p.Reference) == "" {
		return models.GnplPayment{}, ticketing.Invalid("evidenceKey", "missing", "a payment reference or receipt image is required")
	}
	payment, err := s.store.SubmitGnplPayment(ctx, p.AccountID, p.CustomerID, p.AmountCents, ticketing.NormalizeReference(p.Reference), strings.TrimSpace(p.EvidenceKey))
	if err != nil {
		return models.GnplPayment{}, err
	}
	s.logger.Info("action", "action", "submit_gnpl_payment", "status", "ok", "gnpl_account_id", p.AccountID, "payment_id", payment.ID, "amount_cents", p.AmountCents)
	return payment, nil
}

// ApproveGnplPayment allocates a payment penalty first against the ledger
// as it stands at approval time. Any excess is reported as unapplied.
func (s *Service) ApproveGnplPayment(ctx context.Context, paymentID string, actor int64) (models.GnplPayment, models.GnplAccount, error) {
	payment, acct, err := s.store.ApproveGnplPayment(ctx, paymentID, actor, func(a models.GnplAccount, p models.GnplPayment) (repository.GnplPaymentDecision, error) {
		if a.Status != models.GnplStatusApproved && a.Status != models.GnplStatusOverdue {
			return repository.GnplPaymentDecision{}, repository.ErrGnplStateNotAllowed
		}
		alloc := ticketing.AllocatePayment(p.AmountCents, ticketing.DeriveBalances(ledgerOf(a)))
		after := ledgerOf(a)
		after.PenaltyPaidCents += alloc.PenaltyCents
		after.PrincipalPaidCents += alloc.PrincipalCents
		status := ticketing.DeriveGnplStatus(a.Status, a.DueDate, ticketing.DeriveBalances(after), s.now())
		return repository.GnplPaymentDecision{Allocation: alloc, Status: status}, nil
	})
	if err != nil {
		return models.GnplPayment{}, models.GnplAccount{}, err
	}
	logger := s.logger.With("gnpl_account_id", acct.ID, "payment_id", payment.ID, "actor", actor)
	if payment.UnappliedCents > 0 {
		logger.Warn("action", "action", "approve_gnpl_payment", "status", "unapplied", "unapplied_cents", payment.UnappliedCents)
	}
	logger.Info("action", "action", "approve_gnpl_payment", "status", "ok", "penalty_cents", payment.PenaltyAppliedCents, "principal_cents", payment.PrincipalAppliedCents)
	s.notify(ctx, acct.CustomerID, models.NotificationGnplPayment, map[string]interface{}{
		"accountId":      acct.ID,
		"paymentId":      payment.ID,
		"status":         payment.Status,
		"unappliedCents": payment.UnappliedCents,
	})
	return payment, s.decorate(acct), nil
}

func (s *Service) RejectGnplPayment(ctx context.Context, paymentID string, actor int64, reason string) (models.GnplPayment, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return models.GnplPayment{}, ticketing.Invalid("reason", "missing", "rejection reason is required")
	}
	payment, err := s.store.RejectGnplPayment(ctx, paymentID, actor, reason)
	if err != nil {
		return models.GnplPayment{}, err
	}
	if acct, err := s.store.GetGnplAccount(ctx, payment.AccountID); err == nil {
		s.notify(ctx, acct.CustomerID, models.NotificationGnplPayment, map[string]interface{}{
			"accountId": acct.ID,
			"paymentId": payment.ID,
			"status":    payment.Status,
			"reason":    reason,
		})
	}
	return payment, nil
}

// AccrueDuePenalties charges every penalty period that has started on
// every approved or overdue account. Rerunning it inside the same period
// charges nothing.
func (s *Service) AccrueDuePenalties(ctx context.Context) (int, error) {
	now := s.now()
	charged, err := s.store.AccrueDuePenalties(ctx, now, penaltyBatchSize, func(a models.GnplAccount) repository.PenaltyUpdate {
		before := ticketing.DeriveBalances(ledgerOf(a))
		res := ticketing.AccruePenalty(ticketing.PenaltyInput{
			Balances:      before,
			Percent:       a.PenaltyPercent,
			Period:        time.Duration(a.PenaltyPeriodDays) * 24 * time.Hour,
			NextPenaltyAt: a.NextPenaltyAt,
			Now:           now,
		})
		after := ledgerOf(a)
		after.PenaltyAccruedCents += res.PenaltyCents
		next := res.NextPenaltyAt
		if next.IsZero() && a.NextPenaltyAt != nil {
			next = *a.NextPenaltyAt
		}
		return repository.PenaltyUpdate{
			PenaltyCents:  res.PenaltyCents,
			NextPenaltyAt: next,
			Status:        ticketing.DeriveGnplStatus(a.Status, a.DueDate, ticketing.DeriveBalances(after), now),
		}
	})
	if err != nil {
		return charged, fmt.Errorf("accrue penalties: %w", err)
	}
	if charged > 0 {
		s.logger.Info("action", "action", "accrue_penalties", "status", "ok", "accounts", charged)
	}
	return charged, nil
}
