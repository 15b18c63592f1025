package ticketing

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	gnplApproved  = "approved"
	gnplOverdue   = "overdue"
	gnplCompleted = "completed"
)

// Ledger holds the stored GNPL fields. Outstanding amounts are always
// derived from it.
type Ledger struct {
	ApprovedCents       int64
	PrincipalPaidCents  int64
	PenaltyAccruedCents int64
	PenaltyPaidCents    int64
}

type Balances struct {
	PrincipalOutstandingCents int64
	PenaltyOutstandingCents   int64
	TotalDueCents             int64
}

func DeriveBalances(l Ledger) Balances {
	principal := max(l.ApprovedCents-l.PrincipalPaidCents, 0)
	penalty := max(l.PenaltyAccruedCents-l.PenaltyPaidCents, 0)
	return Balances{
		PrincipalOutstandingCents: principal,
		PenaltyOutstandingCents:   penalty,
		TotalDueCents:             principal + penalty,
	}
}

// DeriveGnplStatus recomputes status at read time. Only accounts that went
// through approval move between approved, overdue and completed; pending,
// rejected and cancelled accounts keep their stored status.
func DeriveGnplStatus(stored string, dueDate *time.Time, b Balances, now time.Time) string {
	switch stored {
	case gnplApproved, gnplOverdue, gnplCompleted:
	default:
		return stored
	}
	if b.TotalDueCents <= 0 {
		return gnplCompleted
	}
	if dueDate != nil && now.After(*dueDate) {
		return gnplOverdue
	}
	return gnplApproved
}

// OverdueDays counts whole days past the due date.
func OverdueDays(dueDate *time.Time, now time.Time) int {
	if dueDate == nil || !now.After(*dueDate) {
		return 0
	}
	return int(now.Sub(*dueDate) / (24 * time.Hour))
}

type PenaltyInput struct {
	Balances      Balances
	Percent       decimal.Decimal
	Period        time.Duration
	NextPenaltyAt *time.Time
	Now           time.Time
}

type PenaltyResult struct {
	Periods       int
	PenaltyCents  int64
	NextPenaltyAt time.Time
}

// AccruePenalty charges every penalty period that has started since the
// cursor and advances the cursor past them. Calling it again before the
// next period starts charges nothing.
func AccruePenalty(in PenaltyInput) PenaltyResult {
	if in.NextPenaltyAt == nil || in.Period <= 0 {
		return PenaltyResult{}
	}
	next := *in.NextPenaltyAt
	if in.Now.Before(next) {
		return PenaltyResult{NextPenaltyAt: next}
	}
	periods := int(in.Now.Sub(next)/in.Period) + 1
	perPeriod := PercentOf(in.Balances.PrincipalOutstandingCents, in.Percent)
	return PenaltyResult{
		Periods:       periods,
		PenaltyCents:  int64(periods) * perPeriod,
		NextPenaltyAt: next.Add(time.Duration(periods) * in.Period),
	}
}

type Allocation struct {
	PenaltyCents   int64
	PrincipalCents int64
	UnappliedCents int64
}

// AllocatePayment splits a payment penalty first, then principal. Whatever
// is left is reported as unapplied.
func AllocatePayment(amountCents int64, b Balances) Allocation {
	if amountCents <= 0 {
		return Allocation{}
	}
	penalty := min(amountCents, max(b.PenaltyOutstandingCents, 0))
	rest := amountCents - penalty
	principal := min(rest, max(b.PrincipalOutstandingCents, 0))
	return Allocation{
		PenaltyCents:   penalty,
		PrincipalCents: principal,
		UnappliedCents: rest - principal,
	}
}
