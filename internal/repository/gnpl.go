package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/models"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/ticketing"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const gnplAccountColumns = `id::text, customer_id, trip_id::text, session_id::text, receipt_id::text, quantity, status, phone, id_document_key,
	requested_cents, approved_cents, principal_paid_cents, penalty_accrued_cents, penalty_paid_cents,
	term_days, penalty_percent::text, penalty_period_days, due_date, next_penalty_at, approved_by, approved_at, rejection_reason, created_at, updated_at`

const gnplPaymentColumns = `id::text, account_id::text, amount_cents, penalty_applied_cents, principal_applied_cents, unapplied_cents, status, reference, evidence_key, decided_by, decided_at, rejection_reason, created_at`

func (r *Repository) CreateGnplAccount(ctx context.Context, p models.NewGnplAccountParams) (models.GnplAccount, error) {
	row := r.pool.QueryRow(ctx, `
INSERT INTO gnpl_accounts (customer_id, trip_id, session_id, quantity, status, phone, id_document_key, requested_cents, term_days, penalty_percent, penalty_period_days)
VALUES ($1, $2::uuid, $3::uuid, $4, $5, $6, $7, $8, $9, $10::numeric, $11)
RETURNING `+gnplAccountColumns+`;`,
		p.CustomerID, p.TripID, p.SessionID, p.Quantity, models.GnplStatusPendingApproval,
		p.Phone, strings.TrimSpace(p.IDDocumentKey), p.RequestedCents, p.TermDays, p.PenaltyPercent.String(), p.PenaltyPeriodDays)
	return scanGnplAccount(row)
}

func (r *Repository) GetGnplAccount(ctx context.Context, id string) (models.GnplAccount, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+gnplAccountColumns+` FROM gnpl_accounts WHERE id = $1::uuid`, id)
	out, err := scanGnplAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, ErrGnplAccountNotFound
	}
	return out, err
}

func (r *Repository) ListGnplAccounts(ctx context.Context, customerID int64, status string, limit, offset int) ([]models.GnplAccount, error) {
	rows, err := r.pool.Query(ctx, `
SELECT `+gnplAccountColumns+`
FROM gnpl_accounts
WHERE ($1 = 0 OR customer_id = $1)
	AND ($2 = '' OR status = $2)
ORDER BY created_at DESC
LIMIT $3 OFFSET $4;`, customerID, status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.GnplAccount, 0)
	for rows.Next() {
		acct, err := scanGnplAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acct)
	}
	return out, rows.Err()
}

// ApproveGnplAccount opens the ledger of a pending application. The
// principal equals the approved amount and the first penalty check is the
// due date.
func (r *Repository) ApproveGnplAccount(ctx context.Context, id string, actor int64, approvedCents int64, receiptID string, now time.Time) (models.GnplAccount, error) {
	row := r.pool.QueryRow(ctx, `
UPDATE gnpl_accounts
SET status = $2,
	approved_cents = $3,
	receipt_id = $4::uuid,
	approved_by = $5,
	approved_at = $6,
	due_date = $6::timestamptz + make_interval(days => term_days),
	next_penalty_at = $6::timestamptz + make_interval(days => term_days),
	updated_at = now()
WHERE id = $1::uuid
	AND status = $7
RETURNING `+gnplAccountColumns+`;`,
		id, models.GnplStatusApproved, approvedCents, nullString(receiptID), actor, now, models.GnplStatusPendingApproval)
	out, err := scanGnplAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetGnplAccount(ctx, id); getErr != nil {
			return out, getErr
		}
		return out, ErrGnplStateNotAllowed
	}
	return out, err
}

// RejectGnplAccount closes a pending application and its booking session.
// No seats were ever taken for it.
func (r *Repository) RejectGnplAccount(ctx context.Context, id string, actor int64, reason string) (models.GnplAccount, error) {
	var out models.GnplAccount
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
UPDATE gnpl_accounts
SET status = $2,
	approved_by = $3,
	rejection_reason = $4,
	updated_at = now()
WHERE id = $1::uuid
	AND status = $5
RETURNING `+gnplAccountColumns+`;`,
			id, models.GnplStatusRejected, actor, nullString(reason), models.GnplStatusPendingApproval)
		var err error
		out, err = scanGnplAccount(row)
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM gnpl_accounts WHERE id = $1::uuid)`, id).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return ErrGnplAccountNotFound
			}
			return ErrGnplStateNotAllowed
		}
		if err != nil {
			return err
		}
		if out.SessionID != nil {
			if _, err := tx.Exec(ctx, `
UPDATE booking_sessions
SET status = $2,
	cancel_reason = $3,
	cancelled_at = now(),
	updated_at = now()
WHERE id = $1::uuid
	AND status = ANY($4);`, *out.SessionID, models.SessionStatusCancelled, CancelReasonRejected, openSessionStatuses); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return models.GnplAccount{}, err
	}
	return out, nil
}

// SetGnplStatus persists a derived status for an account the caller has
// just read.
func (r *Repository) SetGnplStatus(ctx context.Context, id, from, to string) error {
	_, err := r.pool.Exec(ctx, `
UPDATE gnpl_accounts
SET status = $3,
	updated_at = now()
WHERE id = $1::uuid
	AND status = $2;`, id, from, to)
	return err
}

// SubmitGnplPayment records a repayment for review. Allocation happens at
// approval time.
func (r *Repository) SubmitGnplPayment(ctx context.Context, accountID string, customerID int64, amountCents int64, reference, evidenceKey string) (models.GnplPayment, error) {
	row := r.pool.QueryRow(ctx, `
INSERT INTO gnpl_payments (account_id, amount_cents, status, reference, evidence_key)
SELECT id, $3, $4, $5, $6
FROM gnpl_accounts
WHERE id = $1::uuid
	AND customer_id = $2
	AND status IN ($7, $8)
RETURNING `+gnplPaymentColumns+`;`,
		accountID, customerID, amountCents, models.GnplPaymentPending, nullString(reference), nullString(evidenceKey),
		models.GnplStatusApproved, models.GnplStatusOverdue)
	out, err := scanGnplPayment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		acct, getErr := r.GetGnplAccount(ctx, accountID)
		if getErr != nil {
			return out, getErr
		}
		if acct.CustomerID != customerID {
			return out, ErrGnplAccountNotFound
		}
		return out, ErrGnplStateNotAllowed
	}
	return out, err
}

func (r *Repository) ListGnplPayments(ctx context.Context, accountID, status string) ([]models.GnplPayment, error) {
	rows, err := r.pool.Query(ctx, `
SELECT `+gnplPaymentColumns+`
FROM gnpl_payments
WHERE ($1 = '' OR account_id::text = $1)
	AND ($2 = '' OR status = $2)
ORDER BY created_at ASC;`, accountID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.GnplPayment, 0)
	for rows.Next() {
		p, err := scanGnplPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GnplPaymentDecision is computed under lock from the account's current
// ledger. Status is the account status to persist afterwards.
type GnplPaymentDecision struct {
	Allocation ticketing.Allocation
	Status     string
}

// ApproveGnplPayment locks the payment and its account, asks decide for the
// allocation against the ledger as it is now, and applies it.
func (r *Repository) ApproveGnplPayment(ctx context.Context, paymentID string, actor int64, decide func(models.GnplAccount, models.GnplPayment) (GnplPaymentDecision, error)) (models.GnplPayment, models.GnplAccount, error) {
	var payment models.GnplPayment
	var account models.GnplAccount
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		payment, err = lockPendingGnplPayment(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		account, err = scanGnplAccount(tx.QueryRow(ctx, `SELECT `+gnplAccountColumns+` FROM gnpl_accounts WHERE id = $1::uuid FOR UPDATE`, payment.AccountID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrGnplAccountNotFound
			}
			return err
		}
		decision, err := decide(account, payment)
		if err != nil {
			return err
		}
		alloc := decision.Allocation

		account, err = scanGnplAccount(tx.QueryRow(ctx, `
UPDATE gnpl_accounts
SET penalty_paid_cents = penalty_paid_cents + $2,
	principal_paid_cents = principal_paid_cents + $3,
	status = $4,
	updated_at = now()
WHERE id = $1::uuid
RETURNING `+gnplAccountColumns+`;`, account.ID, alloc.PenaltyCents, alloc.PrincipalCents, decision.Status))
		if err != nil {
			return err
		}

		payment, err = scanGnplPayment(tx.QueryRow(ctx, `
UPDATE gnpl_payments
SET status = $2,
	penalty_applied_cents = $3,
	principal_applied_cents = $4,
	unapplied_cents = $5,
	decided_by = $6,
	decided_at = now()
WHERE id = $1::uuid
RETURNING `+gnplPaymentColumns+`;`, paymentID, models.GnplPaymentApproved, alloc.PenaltyCents, alloc.PrincipalCents, alloc.UnappliedCents, actor))
		return err
	})
	if err != nil {
		return models.GnplPayment{}, models.GnplAccount{}, err
	}
	return payment, account, nil
}

func (r *Repository) RejectGnplPayment(ctx context.Context, paymentID string, actor int64, reason string) (models.GnplPayment, error) {
	var out models.GnplPayment
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := lockPendingGnplPayment(ctx, tx, paymentID); err != nil {
			return err
		}
		var err error
		out, err = scanGnplPayment(tx.QueryRow(ctx, `
UPDATE gnpl_payments
SET status = $2,
	rejection_reason = $3,
	decided_by = $4,
	decided_at = now()
WHERE id = $1::uuid
RETURNING `+gnplPaymentColumns+`;`, paymentID, models.GnplPaymentRejected, nullString(reason), actor))
		return err
	})
	if err != nil {
		return models.GnplPayment{}, err
	}
	return out, nil
}

func lockPendingGnplPayment(ctx context.Context, tx pgx.Tx, paymentID string) (models.GnplPayment, error) {
	payment, err := scanGnplPayment(tx.QueryRow(ctx, `SELECT `+gnplPaymentColumns+` FROM gnpl_payments WHERE id = $1::uuid FOR UPDATE`, paymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payment, ErrGnplPaymentNotFound
		}
		return payment, err
	}
	if payment.Status != models.GnplPaymentPending {
		return payment, ErrGnplStateNotAllowed
	}
	return payment, nil
}

// PenaltyUpdate is what one accrual run writes back to an account.
type PenaltyUpdate struct {
	PenaltyCents  int64
	NextPenaltyAt time.Time
	Status        string
}

// AccrueDuePenalties walks accounts whose penalty cursor has passed, one
// transaction per batch. Rows held by a concurrent run are skipped, so two
// workers never charge the same period.
func (r *Repository) AccrueDuePenalties(ctx context.Context, now time.Time, limit int, accrue func(models.GnplAccount) PenaltyUpdate) (int, error) {
	charged := 0
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
SELECT `+gnplAccountColumns+`
FROM gnpl_accounts
WHERE status IN ($1, $2)
	AND next_penalty_at IS NOT NULL
	AND next_penalty_at <= $3
ORDER BY next_penalty_at ASC
LIMIT $4
FOR UPDATE SKIP LOCKED;`, models.GnplStatusApproved, models.GnplStatusOverdue, now, limit)
		if err != nil {
			return err
		}
		due := make([]models.GnplAccount, 0)
		for rows.Next() {
			acct, err := scanGnplAccount(rows)
			if err != nil {
				rows.Close()
				return err
			}
			due = append(due, acct)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, acct := range due {
			upd := accrue(acct)
			cmd, err := tx.Exec(ctx, `
UPDATE gnpl_accounts
SET penalty_accrued_cents = penalty_accrued_cents + $2,
	next_penalty_at = $3,
	status = $4,
	updated_at = now()
WHERE id = $1::uuid
	AND next_penalty_at = $5;`, acct.ID, upd.PenaltyCents, upd.NextPenaltyAt, upd.Status, *acct.NextPenaltyAt)
			if err != nil {
				return err
			}
			if cmd.RowsAffected() > 0 && upd.PenaltyCents > 0 {
				charged++
			}
		}
		return nil
	})
	return charged, err
}

func scanGnplAccount(row pgx.Row) (models.GnplAccount, error) {
	var out models.GnplAccount
	var sessionID, receiptID, rejection sql.NullString
	var percent string
	var dueDate, nextPenalty, approvedAt sql.NullTime
	var approvedBy sql.NullInt64
	if err := row.Scan(
		&out.ID,
		&out.CustomerID,
		&out.TripID,
		&sessionID,
		&receiptID,
		&out.Quantity,
		&out.Status,
		&out.Phone,
		&out.IDDocumentKey,
		&out.RequestedCents,
		&out.ApprovedCents,
		&out.PrincipalPaidCents,
		&out.PenaltyAccruedCents,
		&out.PenaltyPaidCents,
		&out.TermDays,
		&percent,
		&out.PenaltyPeriodDays,
		&dueDate,
		&nextPenalty,
		&approvedBy,
		&approvedAt,
		&rejection,
		&out.CreatedAt,
		&out.UpdatedAt,
	); err != nil {
		return models.GnplAccount{}, err
	}
	parsed, err := decimal.NewFromString(percent)
	if err != nil {
		return models.GnplAccount{}, err
	}
	out.PenaltyPercent = parsed
	out.SessionID = nullStringToPtr(sessionID)
	out.ReceiptID = nullStringToPtr(receiptID)
	out.RejectionReason = nullStringToString(rejection)
	out.DueDate = nullTimeToPtr(dueDate)
	out.NextPenaltyAt = nullTimeToPtr(nextPenalty)
	out.ApprovedBy = nullInt64ToPtr(approvedBy)
	out.ApprovedAt = nullTimeToPtr(approvedAt)
	return out, nil
}

func scanGnplPayment(row pgx.Row) (models.GnplPayment, error) {
	var out models.GnplPayment
	var reference, evidence, rejection sql.NullString
	var decidedBy sql.NullInt64
	var decidedAt sql.NullTime
	if err := row.Scan(
		&out.ID,
		&out.AccountID,
		&out.AmountCents,
		&out.PenaltyAppliedCents,
		&out.PrincipalAppliedCents,
		&out.UnappliedCents,
		&out.Status,
		&reference,
		&evidence,
		&decidedBy,
		&decidedAt,
		&rejection,
		&out.CreatedAt,
	); err != nil {
		return models.GnplPayment{}, err
	}
	out.Reference = nullStringToString(reference)
	out.EvidenceKey = nullStringToString(evidence)
	out.DecidedBy = nullInt64ToPtr(decidedBy)
	out.DecidedAt = nullTimeToPtr(decidedAt)
	out.RejectionReason = nullStringToString(rejection)
	return out, nil
}
