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

// Approve settles a pending manual receipt. A receipt that was rolled back
// still owns its pending tickets; approving it again re-confirms those
// instead of issuing a new batch.
func (s *Service) Approve(ctx context.Context, receiptID string, actor int64, notes string) (models.ReceiptDetail, error) {
	detail, err := s.store.GetReceipt(ctx, receiptID)
	if err != nil {
		return models.ReceiptDetail{}, err
	}
	if detail.ApprovalStatus != models.ApprovalStatusPending {
		return models.ReceiptDetail{}, repository.ErrReceiptStateNotAllowed
	}
	logger := s.logger.With("receipt_id", detail.ID, "reference", detail.ReferenceNumber, "actor", actor)

	seats, pendingTickets := ticketing.ReserveCountForApproval(detail.Quantity, batchOf(detail.Tickets))
	if err := s.store.ReserveSeats(ctx, detail.TripID, seats); err != nil {
		return models.ReceiptDetail{}, err
	}
	if err := s.store.TransitionReceipt(ctx, detail.ID, models.ApprovalStatusPending, models.ApprovalStatusApproved, &actor, notes); err != nil {
		if compErr := s.releaseSeats(ctx, detail.TripID, seats); compErr != nil {
			return models.ReceiptDetail{}, s.partialFailure("approve_receipt", detail.ReferenceNumber, err, compErr)
		}
		return models.ReceiptDetail{}, err
	}
	receipt := detail.Receipt
	receipt.ApprovalStatus = models.ApprovalStatusApproved

	var tickets []models.Ticket
	if len(pendingTickets) > 0 {
		n, err := s.store.ConfirmReceiptTickets(ctx, receipt.ID, pendingTickets)
		if err == nil && n != len(pendingTickets) {
			err = fmt.Errorf("confirmed %d of %d tickets", n, len(pendingTickets))
		}
		if err != nil {
			compErr := s.undoReconfirm(ctx, receipt, seats, pendingTickets)
			return models.ReceiptDetail{}, s.partialFailure("confirm_tickets", detail.ReferenceNumber, err, compErr)
		}
		for _, t := range detail.Tickets {
			if t.Status == models.TicketStatusPending {
				t.Status = models.TicketStatusConfirmed
				tickets = append(tickets, t)
			}
		}
	} else {
		created, err := s.store.CreateTickets(ctx, receipt, seats, models.TicketStatusConfirmed)
		if err == nil && len(created) != seats {
			err = fmt.Errorf("created %d of %d tickets", len(created), seats)
		}
		if err != nil {
			compErr := s.undoApproval(ctx, receipt, seats, ticketIDs(created))
			return models.ReceiptDetail{}, s.partialFailure("create_tickets", detail.ReferenceNumber, err, compErr)
		}
		tickets = created
	}

	s.afterSettlement(ctx, receipt, tickets)
	if receipt.SessionID != nil {
		if err := s.store.CompleteSession(ctx, *receipt.SessionID); err != nil {
			logger.Warn("action", "action", "complete_session", "status", "failed", "session_id", *receipt.SessionID, "error", err)
		}
	}
	logger.Info("action", "action", "approve_receipt", "status", "ok", "seats", seats)
	return s.store.GetReceipt(ctx, detail.ID)
}

func (s *Service) undoReconfirm(ctx context.Context, receipt models.Receipt, seats int, tickets []string) error {
	err := s.undoApproval(ctx, receipt, seats, tickets)
	if _, cancelErr := s.store.SetTicketStatuses(ctx, tickets, models.TicketStatusPending, models.TicketStatusCancelled); cancelErr != nil && err == nil {
		err = fmt.Errorf("cancel tickets: %w", cancelErr)
	}
	return err
}

// Reject closes a pending or approved receipt. Seats held by confirmed
// tickets are released in the same transaction that cancels them.
func (s *Service) Reject(ctx context.Context, receiptID string, actor int64, reason string) (models.ReceiptDetail, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return models.ReceiptDetail{}, ticketing.Invalid("reason", "missing", "rejection reason is required")
	}
	detail, plan, err := s.store.RejectReceipt(ctx, receiptID, actor, reason, func(d models.ReceiptDetail) (ticketing.DecisionPlan, error) {
		return ticketing.PlanRejection(d.ApprovalStatus, batchOf(d.Tickets))
	})
	if err != nil {
		return models.ReceiptDetail{}, s.decisionError("reject_receipt", receiptID, err)
	}
	s.logger.Info("action", "action", "reject_receipt", "status", "ok", "receipt_id", detail.ID, "actor", actor, "released", plan.ReleaseSeats)
	s.notify(ctx, detail.CustomerID, models.NotificationReceiptRejected, map[string]interface{}{
		"receiptId": detail.ID,
		"reference": detail.ReferenceNumber,
		"reason":    reason,
	})
	return detail, nil
}

// Rollback returns an approved receipt to pending and gives back the seats
// of its still-confirmed tickets. The caller echoes one ticket number of
// the batch. A used ticket blocks the rollback and nothing changes.
func (s *Service) Rollback(ctx context.Context, receiptID string, actor int64, confirmation, notes string) (models.ReceiptDetail, error) {
	detail, plan, err := s.store.RollbackReceipt(ctx, receiptID, actor, notes, func(d models.ReceiptDetail) (ticketing.DecisionPlan, error) {
		return ticketing.PlanRollback(d.ApprovalStatus, batchOf(d.Tickets), confirmation)
	})
	if err != nil {
		return models.ReceiptDetail{}, s.decisionError("rollback_receipt", receiptID, err)
	}
	s.logger.Warn("action", "action", "rollback_receipt", "status", "ok", "receipt_id", detail.ID, "actor", actor, "released", plan.ReleaseSeats)
	return detail, nil
}

func (s *Service) decisionError(action, receiptID string, err error) error {
	switch {
	case ticketing.IsValidation(err):
	case errors.Is(err, ticketing.ErrSeatInvariant):
		s.logger.Error("action", "action", action, "status", "invariant_violation", "receipt_id", receiptID, "error", err)
	default:
		s.logger.Warn("action", "action", action, "status", "failed", "receipt_id", receiptID, "error", err)
	}
	return err
}
