package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/models"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/ticketing"

	"github.com/jackc/pgx/v5"
)

const (
	CancelReasonSuperseded = "superseded"
	CancelReasonExpired    = "expired"
	CancelReasonRejected   = "rejected"
	CancelReasonGateway    = "gateway_error"
	CancelReasonCustomer   = "customer"
)

const sessionColumns = `id::text, customer_id, trip_id::text, quantity, payment_method, status, base_cents, discount_cents, final_cents, voucher_id::text, voucher_code, gateway_reference, checkout_url, cancel_reason, created_at, updated_at, completed_at, cancelled_at`

var openSessionStatuses = []string{
	models.SessionStatusAwaitingReceipt,
	models.SessionStatusAwaitingAutoPayment,
	models.SessionStatusAwaitingGnplApproval,
}

// StartSession cancels every open session of the customer and inserts the
// new one in the same transaction. Pending GNPL applications attached to
// the superseded sessions are cancelled with them. A session whose receipt
// awaits review is never superseded; the start fails with
// ErrReceiptUnderReview instead.
func (r *Repository) StartSession(ctx context.Context, p models.NewSessionParams) (models.BookingSession, []string, error) {
	var out models.BookingSession
	superseded := make([]string, 0)
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		var reviewing bool
		if err := tx.QueryRow(ctx, `
SELECT EXISTS (
	SELECT 1
	FROM booking_sessions bs
	JOIN receipts rc ON rc.session_id = bs.id
	WHERE bs.customer_id = $1
		AND bs.status = ANY($2)
		AND rc.approval_status = $3
);`, p.CustomerID, openSessionStatuses, models.ApprovalStatusPending).Scan(&reviewing); err != nil {
			return err
		}
		if reviewing {
			return ErrReceiptUnderReview
		}

		rows, err := tx.Query(ctx, `
UPDATE booking_sessions
SET status = $2,
	cancel_reason = $3,
	cancelled_at = now(),
	updated_at = now()
WHERE customer_id = $1
	AND status = ANY($4)
RETURNING id::text;`, p.CustomerID, models.SessionStatusCancelled, CancelReasonSuperseded, openSessionStatuses)
		if err != nil {
			return err
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			superseded = append(superseded, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(superseded) > 0 {
			if _, err := tx.Exec(ctx, `
UPDATE gnpl_accounts
SET status = $2,
	updated_at = now()
WHERE session_id::text = ANY($1)
	AND status = $3;`, superseded, models.GnplStatusCancelled, models.GnplStatusPendingApproval); err != nil {
				return err
			}
		}

		row := tx.QueryRow(ctx, `
INSERT INTO booking_sessions (customer_id, trip_id, quantity, payment_method, status, base_cents, discount_cents, final_cents, voucher_id, voucher_code)
VALUES ($1, $2::uuid, $3, $4, $5, $6, $7, $8, $9::uuid, $10)
RETURNING `+sessionColumns+`;`,
			p.CustomerID, p.TripID, p.Quantity, p.PaymentMethod, p.Status,
			p.Pricing.BaseCents, p.Pricing.DiscountCents, p.Pricing.FinalCents,
			strPtrOrNil(p.Pricing.VoucherID), nullString(p.Pricing.VoucherCode))
		out, err = scanSession(row)
		if err != nil && isUniqueViolation(err, "booking_sessions_one_open_per_customer") {
			return ticketing.ErrConcurrencyConflict
		}
		return err
	})
	if err != nil {
		return models.BookingSession{}, nil, err
	}
	return out, superseded, nil
}

func (r *Repository) GetSession(ctx context.Context, id string) (models.BookingSession, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM booking_sessions WHERE id = $1::uuid`, id)
	out, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, ErrSessionNotFound
	}
	return out, err
}

// ActiveSession returns the customer's single open session.
func (r *Repository) ActiveSession(ctx context.Context, customerID int64) (models.BookingSession, error) {
	row := r.pool.QueryRow(ctx, `
SELECT `+sessionColumns+`
FROM booking_sessions
WHERE customer_id = $1
	AND status = ANY($2)
ORDER BY created_at DESC
LIMIT 1;`, customerID, openSessionStatuses)
	out, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, ErrSessionNotFound
	}
	return out, err
}

// FindOpenAutoSession is the last-resort match for a gateway callback that
// carries no usable session id.
func (r *Repository) FindOpenAutoSession(ctx context.Context, customerID int64, tripID string) (models.BookingSession, error) {
	row := r.pool.QueryRow(ctx, `
SELECT `+sessionColumns+`
FROM booking_sessions
WHERE customer_id = $1
	AND trip_id = $2::uuid
	AND status = $3
ORDER BY created_at DESC
LIMIT 1;`, customerID, tripID, models.SessionStatusAwaitingAutoPayment)
	out, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, ErrSessionNotFound
	}
	return out, err
}

func (r *Repository) SetSessionCheckout(ctx context.Context, id, reference, checkoutURL string) error {
	cmd, err := r.pool.Exec(ctx, `
UPDATE booking_sessions
SET gateway_reference = $2,
	checkout_url = $3,
	updated_at = now()
WHERE id = $1::uuid
	AND status = $4;`, id, reference, nullString(checkoutURL), models.SessionStatusAwaitingAutoPayment)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrSessionStateNotAllowed
	}
	return nil
}

// CompleteSession moves an open session to completed. A session that is
// already completed is left alone and reported as success.
func (r *Repository) CompleteSession(ctx context.Context, id string) error {
	cmd, err := r.pool.Exec(ctx, `
UPDATE booking_sessions
SET status = $2,
	completed_at = now(),
	updated_at = now()
WHERE id = $1::uuid
	AND status = ANY($3);`, id, models.SessionStatusCompleted, openSessionStatuses)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() > 0 {
		return nil
	}
	current, err := r.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if current.Status == models.SessionStatusCompleted {
		return nil
	}
	return ErrSessionStateNotAllowed
}

func (r *Repository) CancelSession(ctx context.Context, id, reason string) error {
	cmd, err := r.pool.Exec(ctx, `
UPDATE booking_sessions
SET status = $2,
	cancel_reason = $3,
	cancelled_at = now(),
	updated_at = now()
WHERE id = $1::uuid
	AND status = ANY($4);`, id, models.SessionStatusCancelled, nullString(reason), openSessionStatuses)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		if _, err := r.GetSession(ctx, id); err != nil {
			return err
		}
		return ErrSessionStateNotAllowed
	}
	return nil
}

// CancelStaleSessions expires open sessions created before cutoff. Sessions
// waiting on an admin decision (a pending receipt or a pending GNPL
// application) are kept.
func (r *Repository) CancelStaleSessions(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
UPDATE booking_sessions s
SET status = $2,
	cancel_reason = $3,
	cancelled_at = now(),
	updated_at = now()
WHERE s.id IN (
	SELECT bs.id
	FROM booking_sessions bs
	WHERE bs.status = ANY($4)
		AND bs.created_at < $1
		AND NOT EXISTS (
			SELECT 1 FROM receipts rc
			WHERE rc.session_id = bs.id AND rc.approval_status = $5
		)
		AND NOT EXISTS (
			SELECT 1 FROM gnpl_accounts ga
			WHERE ga.session_id = bs.id AND ga.status = $6
		)
	ORDER BY bs.created_at ASC
	LIMIT $7
	FOR UPDATE SKIP LOCKED
)
RETURNING s.id::text;`, cutoff, models.SessionStatusCancelled, CancelReasonExpired, openSessionStatuses,
		models.ApprovalStatusPending, models.GnplStatusPendingApproval, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func scanSession(row pgx.Row) (models.BookingSession, error) {
	var out models.BookingSession
	var voucherID, voucherCode, gatewayRef, checkoutURL, cancelReason sql.NullString
	var completedAt, cancelledAt sql.NullTime
	if err := row.Scan(
		&out.ID,
		&out.CustomerID,
		&out.TripID,
		&out.Quantity,
		&out.PaymentMethod,
		&out.Status,
		&out.Pricing.BaseCents,
		&out.Pricing.DiscountCents,
		&out.Pricing.FinalCents,
		&voucherID,
		&voucherCode,
		&gatewayRef,
		&checkoutURL,
		&cancelReason,
		&out.CreatedAt,
		&out.UpdatedAt,
		&completedAt,
		&cancelledAt,
	); err != nil {
		return models.BookingSession{}, err
	}
	out.Pricing.VoucherID = nullStringToPtr(voucherID)
	out.Pricing.VoucherCode = nullStringToString(voucherCode)
	out.GatewayReference = nullStringToString(gatewayRef)
	out.CheckoutURL = nullStringToString(checkoutURL)
	out.CancelReason = nullStringToString(cancelReason)
	out.CompletedAt = nullTimeToPtr(completedAt)
	out.CancelledAt = nullTimeToPtr(cancelledAt)
	return out, nil
}
