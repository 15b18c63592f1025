package ticketing

import (
	"errors"
	"strings"
)

const (
	receiptPending  = "pending"
	receiptApproved = "approved"
	receiptRejected = "rejected"

	ticketPending   = "pending"
	ticketConfirmed = "confirmed"
	ticketUsed      = "used"
	ticketCancelled = "cancelled"
)

var (
	// ErrTicketsUsed blocks rollback and rejection once any ticket in the
	// batch has been scanned at the gate.
	ErrTicketsUsed = errors.New("receipt has used tickets")
	// ErrDecisionNotAllowed means the receipt's current status does not
	// accept the requested decision.
	ErrDecisionNotAllowed = errors.New("receipt status does not allow this decision")
)

// BatchTicket is the pre-decision view of one ticket in a receipt's batch.
type BatchTicket struct {
	ID           string
	TicketNumber string
	Status       string
}

// DecisionPlan is the full set of writes a rollback or rejection makes.
// It is computed from pre-decision ticket statuses and applied in one
// transaction.
type DecisionPlan struct {
	ReceiptStatus string
	TicketIDs     []string
	TicketStatus  string
	ReleaseSeats  int
}

// PlanRollback returns an approved receipt to pending. Only tickets that
// are still confirmed give their seats back; cancelled tickets were
// already released elsewhere. The caller must echo one ticket number from
// the batch.
func PlanRollback(receiptStatus string, tickets []BatchTicket, confirmation string) (DecisionPlan, error) {
	if receiptStatus != receiptApproved {
		return DecisionPlan{}, ErrDecisionNotAllowed
	}
	confirmation = normalizeTicketNumber(confirmation)
	if confirmation == "" {
		return DecisionPlan{}, Invalid("confirmationTicketNumber", "missing", "confirmation ticket number is required")
	}
	matched := false
	for _, t := range tickets {
		if t.Status == ticketUsed {
			return DecisionPlan{}, ErrTicketsUsed
		}
		if normalizeTicketNumber(t.TicketNumber) == confirmation {
			matched = true
		}
	}
	if !matched {
		return DecisionPlan{}, Invalid("confirmationTicketNumber", "mismatch", "ticket number does not belong to this receipt")
	}

	plan := DecisionPlan{ReceiptStatus: receiptPending, TicketStatus: ticketPending}
	for _, t := range tickets {
		if t.Status == ticketConfirmed {
			plan.TicketIDs = append(plan.TicketIDs, t.ID)
		}
	}
	plan.ReleaseSeats = len(plan.TicketIDs)
	return plan, nil
}

// PlanRejection rejects a pending or approved receipt. A pending receipt
// holds no seats, so its pending tickets are simply cancelled. An approved
// receipt releases one seat per confirmed ticket.
func PlanRejection(receiptStatus string, tickets []BatchTicket) (DecisionPlan, error) {
	if receiptStatus != receiptPending && receiptStatus != receiptApproved {
		return DecisionPlan{}, ErrDecisionNotAllowed
	}
	for _, t := range tickets {
		if t.Status == ticketUsed {
			return DecisionPlan{}, ErrTicketsUsed
		}
	}

	plan := DecisionPlan{ReceiptStatus: receiptRejected, TicketStatus: ticketCancelled}
	held := ticketPending
	if receiptStatus == receiptApproved {
		held = ticketConfirmed
	}
	for _, t := range tickets {
		if t.Status == held {
			plan.TicketIDs = append(plan.TicketIDs, t.ID)
		}
	}
	if receiptStatus == receiptApproved {
		plan.ReleaseSeats = len(plan.TicketIDs)
	}
	return plan, nil
}

// ReserveCountForApproval is the number of seats approving a pending
// receipt must take. A receipt that was rolled back keeps its pending
// tickets, and only those are re-confirmed.
func ReserveCountForApproval(quantity int, tickets []BatchTicket) (int, []string) {
	var pending []string
	for _, t := range tickets {
		if t.Status == ticketPending {
			pending = append(pending, t.ID)
		}
	}
	if len(pending) > 0 {
		return len(pending), pending
	}
	return quantity, nil
}

func normalizeTicketNumber(v string) string {
	return strings.ToUpper(strings.TrimSpace(v))
}
