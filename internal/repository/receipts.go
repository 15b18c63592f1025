package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/models"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/ticketing"

	"github.com/jackc/pgx/v5"
)

var ErrTicketQRMismatch = errors.New("ticket qr does not match")

const receiptColumns = `id::text, reference_number, session_id::text, customer_id, trip_id::text, quantity, payment_method, base_cents, discount_cents, final_cents, amount_paid_cents, voucher_id::text, voucher_counted, approval_status, approved_by, approved_at, decision_notes, rejection_reason, evidence_key, payer_reference, created_at, updated_at`

const ticketColumns = `id::text, receipt_id::text, trip_id::text, customer_id, serial_number, ticket_number, ticket_status, issued_at, qr_payload, used_at`

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// FindReceiptByReferencePrefix returns the oldest receipt whose reference
// starts with prefix. Gateway references get suffixes appended on retry, so
// the idempotency check matches on prefix rather than equality. Manual
// receipts carry customer-typed references and never match.
func (r *Repository) FindReceiptByReferencePrefix(ctx context.Context, prefix string) (models.Receipt, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return models.Receipt{}, ErrReceiptNotFound
	}
	row := r.pool.QueryRow(ctx, `
SELECT `+receiptColumns+`
FROM receipts
WHERE reference_number LIKE $1 ESCAPE '\'
	AND payment_method NOT IN ($2, $3)
ORDER BY created_at ASC
LIMIT 1;`, likeEscaper.Replace(prefix)+"%", models.PaymentMethodBank, models.PaymentMethodTelebirr)
	out, err := scanReceipt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, ErrReceiptNotFound
	}
	return out, err
}

// CreateReceipt inserts a receipt. A reference collision is reported as
// ErrDuplicateReference so concurrent settlements of one transaction
// resolve to a single winner.
func (r *Repository) CreateReceipt(ctx context.Context, p models.NewReceiptParams) (models.Receipt, error) {
	var approvedAt interface{}
	if p.ApprovalStatus == models.ApprovalStatusApproved {
		approvedAt = time.Now().UTC()
	}
	row := r.pool.QueryRow(ctx, `
INSERT INTO receipts (
	reference_number, session_id, customer_id, trip_id, quantity, payment_method,
	base_cents, discount_cents, final_cents, amount_paid_cents, voucher_id,
	approval_status, approved_by, approved_at, evidence_key, payer_reference
)
VALUES ($1, $2::uuid, $3, $4::uuid, $5, $6, $7, $8, $9, $10, $11::uuid, $12, $13, $14, $15, $16)
RETURNING `+receiptColumns+`;`,
		strings.TrimSpace(p.ReferenceNumber), strPtrOrNil(p.SessionID), p.CustomerID, p.TripID, p.Quantity, p.PaymentMethod,
		p.Pricing.BaseCents, p.Pricing.DiscountCents, p.Pricing.FinalCents, p.AmountPaidCents, strPtrOrNil(p.Pricing.VoucherID),
		p.ApprovalStatus, int64PtrOrNil(p.ApprovedBy), approvedAt, nullString(p.EvidenceKey), nullString(p.PayerReference))
	out, err := scanReceipt(row)
	if err != nil && isUniqueViolation(err, "") {
		return models.Receipt{}, ErrDuplicateReference
	}
	return out, err
}

func (r *Repository) GetReceipt(ctx context.Context, id string) (models.ReceiptDetail, error) {
	return r.fetchReceiptDetail(ctx, r.pool, id, false)
}

func (r *Repository) fetchReceiptDetail(ctx context.Context, q queryRunner, id string, lock bool) (models.ReceiptDetail, error) {
	query := `SELECT ` + receiptColumns + ` FROM receipts WHERE id = $1::uuid`
	if lock {
		query += ` FOR UPDATE`
	}
	receipt, err := scanReceipt(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ReceiptDetail{}, ErrReceiptNotFound
		}
		return models.ReceiptDetail{}, err
	}

	ticketQuery := `SELECT ` + ticketColumns + ` FROM tickets WHERE receipt_id = $1::uuid ORDER BY serial_number ASC`
	if lock {
		ticketQuery += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, ticketQuery, id)
	if err != nil {
		return models.ReceiptDetail{}, err
	}
	defer rows.Close()
	detail := models.ReceiptDetail{Receipt: receipt, Tickets: make([]models.Ticket, 0)}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return models.ReceiptDetail{}, err
		}
		detail.Tickets = append(detail.Tickets, t)
	}
	return detail, rows.Err()
}

// PendingReceiptForSession returns the receipt waiting on an admin for a
// session, if any.
func (r *Repository) PendingReceiptForSession(ctx context.Context, sessionID string) (models.Receipt, error) {
	row := r.pool.QueryRow(ctx, `
SELECT `+receiptColumns+`
FROM receipts
WHERE session_id = $1::uuid
	AND approval_status = $2
ORDER BY created_at DESC
LIMIT 1;`, sessionID, models.ApprovalStatusPending)
	out, err := scanReceipt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, ErrReceiptNotFound
	}
	return out, err
}

func (r *Repository) ListReceipts(ctx context.Context, status, tripID string, limit, offset int) ([]models.Receipt, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `
SELECT count(*)
FROM receipts
WHERE ($1 = '' OR approval_status = $1)
	AND ($2 = '' OR trip_id::text = $2);`, status, tripID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `
SELECT `+receiptColumns+`
FROM receipts
WHERE ($1 = '' OR approval_status = $1)
	AND ($2 = '' OR trip_id::text = $2)
ORDER BY created_at DESC
LIMIT $3 OFFSET $4;`, status, tripID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := make([]models.Receipt, 0)
	for rows.Next() {
		item, err := scanReceipt(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, item)
	}
	return out, total, rows.Err()
}

// TransitionReceipt moves a receipt from one approval status to another.
// It matches no rows, and returns ErrReceiptStateNotAllowed, when another
// decision got there first.
func (r *Repository) TransitionReceipt(ctx context.Context, id, from, to string, actor *int64, note string) error {
	cmd, err := r.pool.Exec(ctx, `
UPDATE receipts
SET approval_status = $3,
	approved_by = CASE WHEN $3 = 'approved' THEN $4 ELSE approved_by END,
	approved_at = CASE WHEN $3 = 'approved' THEN now() ELSE approved_at END,
	decision_notes = CASE WHEN $3 = 'approved' THEN COALESCE($5, decision_notes) ELSE decision_notes END,
	rejection_reason = CASE WHEN $3 = 'rejected' THEN COALESCE($5, rejection_reason) ELSE rejection_reason END,
	updated_at = now()
WHERE id = $1::uuid
	AND approval_status = $2;`, id, from, to, int64PtrOrNil(actor), nullString(note))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrReceiptStateNotAllowed
	}
	return nil
}

// lockApprovedReceipt locks the receipt row for the rest of tx and fails
// with ErrReceiptStateNotAllowed unless it is approved. Decisions lock the
// same row, so a concurrent reject either waits or is seen here.
func lockApprovedReceipt(ctx context.Context, tx pgx.Tx, id string) error {
	var status string
	err := tx.QueryRow(ctx, `SELECT approval_status FROM receipts WHERE id = $1::uuid FOR UPDATE`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrReceiptNotFound
	}
	if err != nil {
		return err
	}
	if status != models.ApprovalStatusApproved {
		return ErrReceiptStateNotAllowed
	}
	return nil
}

// CreateTickets issues count tickets for an approved receipt inside one
// transaction, so either the whole batch exists or none of it does.
func (r *Repository) CreateTickets(ctx context.Context, receipt models.Receipt, count int, status string) ([]models.Ticket, error) {
	if count <= 0 {
		return nil, ticketing.Invalid("quantity", "non_positive", "ticket count must be positive")
	}
	out := make([]models.Ticket, 0, count)
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		if err := lockApprovedReceipt(ctx, tx, receipt.ID); err != nil {
			return err
		}
		serials := make([]int64, 0, count)
		rows, err := tx.Query(ctx, `SELECT nextval('ticket_serial_seq') FROM generate_series(1, $1)`, count)
		if err != nil {
			return err
		}
		for rows.Next() {
			var serial int64
			if err := rows.Scan(&serial); err != nil {
				rows.Close()
				return err
			}
			serials = append(serials, serial)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, serial := range serials {
			row := tx.QueryRow(ctx, `
INSERT INTO tickets (receipt_id, trip_id, customer_id, serial_number, ticket_number, ticket_status)
VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6)
RETURNING `+ticketColumns+`;`,
				receipt.ID, receipt.TripID, receipt.CustomerID, serial, ticketing.FormatTicketNumber(serial), status)
			t, err := scanTicket(row)
			if err != nil {
				return err
			}
			out = append(out, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ConfirmReceiptTickets moves pending tickets of an approved receipt to
// confirmed. The receipt row is locked first, like CreateTickets.
func (r *Repository) ConfirmReceiptTickets(ctx context.Context, receiptID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var n int
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		if err := lockApprovedReceipt(ctx, tx, receiptID); err != nil {
			return err
		}
		cmd, err := tx.Exec(ctx, `
UPDATE tickets
SET ticket_status = 'confirmed'
WHERE id::text = ANY($1)
	AND receipt_id = $2::uuid
	AND ticket_status = 'pending';`, ids, receiptID)
		if err != nil {
			return err
		}
		n = int(cmd.RowsAffected())
		return nil
	})
	return n, err
}

// SetTicketStatuses moves the listed tickets from one status to another and
// returns how many rows changed.
func (r *Repository) SetTicketStatuses(ctx context.Context, ids []string, from, to string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	cmd, err := r.pool.Exec(ctx, `
UPDATE tickets
SET ticket_status = $3
WHERE id::text = ANY($1)
	AND ticket_status = $2;`, ids, from, to)
	if err != nil {
		return 0, err
	}
	return int(cmd.RowsAffected()), nil
}

func (r *Repository) SetTicketQR(ctx context.Context, ticketID, token string) error {
	cmd, err := r.pool.Exec(ctx, `
UPDATE tickets
SET qr_payload = $2,
	qr_payload_hash = $3
WHERE id = $1::uuid;`, ticketID, token, ticketing.HashPayloadToken(token))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrTicketNotFound
	}
	return nil
}

// DecisionPlanner computes the writes of a rollback or rejection from the
// locked, pre-decision state of a receipt.
type DecisionPlanner func(models.ReceiptDetail) (ticketing.DecisionPlan, error)

// RollbackReceipt returns an approved receipt to pending. The receipt and
// its tickets are locked, the planner runs on their pre-rollback statuses,
// and every write lands in one transaction: a planner error leaves the
// receipt, tickets and seats untouched.
func (r *Repository) RollbackReceipt(ctx context.Context, id string, actor int64, notes string, plan DecisionPlanner) (models.ReceiptDetail, ticketing.DecisionPlan, error) {
	return r.applyDecision(ctx, id, actor, notes, "", plan)
}

// RejectReceipt rejects a receipt with the same locking as RollbackReceipt
// and cancels the booking session it came from.
func (r *Repository) RejectReceipt(ctx context.Context, id string, actor int64, reason string, plan DecisionPlanner) (models.ReceiptDetail, ticketing.DecisionPlan, error) {
	return r.applyDecision(ctx, id, actor, "", reason, plan)
}

func (r *Repository) applyDecision(ctx context.Context, id string, actor int64, notes, reason string, planner DecisionPlanner) (models.ReceiptDetail, ticketing.DecisionPlan, error) {
	var detail models.ReceiptDetail
	var plan ticketing.DecisionPlan
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		before, err := r.fetchReceiptDetail(ctx, tx, id, true)
		if err != nil {
			return err
		}
		plan, err = planner(before)
		if err != nil {
			return err
		}

		if len(plan.TicketIDs) > 0 {
			cmd, err := tx.Exec(ctx, `
UPDATE tickets
SET ticket_status = $2
WHERE id::text = ANY($1)
	AND receipt_id = $3::uuid;`, plan.TicketIDs, plan.TicketStatus, id)
			if err != nil {
				return err
			}
			if int(cmd.RowsAffected()) != len(plan.TicketIDs) {
				return fmt.Errorf("%w: updated %d of %d tickets", ticketing.ErrConcurrencyConflict, cmd.RowsAffected(), len(plan.TicketIDs))
			}
		}
		if plan.ReleaseSeats > 0 {
			if err := releaseSeats(ctx, tx, before.TripID, plan.ReleaseSeats); err != nil {
				return err
			}
		}

		cmd, err := tx.Exec(ctx, `
UPDATE receipts
SET approval_status = $3,
	approved_by = CASE WHEN $3 = 'pending' THEN NULL ELSE $4::bigint END,
	approved_at = CASE WHEN $3 = 'pending' THEN NULL ELSE approved_at END,
	decision_notes = COALESCE($5, decision_notes),
	rejection_reason = COALESCE($6, rejection_reason),
	updated_at = now()
WHERE id = $1::uuid
	AND approval_status = $2;`, id, before.ApprovalStatus, plan.ReceiptStatus, actor, nullString(notes), nullString(reason))
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return ErrReceiptStateNotAllowed
		}

		if plan.ReceiptStatus == models.ApprovalStatusRejected && before.SessionID != nil {
			if _, err := tx.Exec(ctx, `
UPDATE booking_sessions
SET status = $2,
	cancel_reason = $3,
	cancelled_at = now(),
	updated_at = now()
WHERE id = $1::uuid
	AND status = ANY($4);`, *before.SessionID, models.SessionStatusCancelled, CancelReasonRejected, openSessionStatuses); err != nil {
				return err
			}
		}

		detail, err = r.fetchReceiptDetail(ctx, tx, id, false)
		return err
	})
	if err != nil {
		return models.ReceiptDetail{}, ticketing.DecisionPlan{}, err
	}
	return detail, plan, nil
}

// RedeemTicket marks a confirmed ticket used at the gate. When a QR token
// is supplied it must verify and match the stored hash.
func (r *Repository) RedeemTicket(ctx context.Context, ticketID string, actor int64, qrToken, qrSecret string) (models.Ticket, error) {
	var out models.Ticket
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		var storedHash sql.NullString
		var receiptStatus string
		var qrPayload sql.NullString
		var usedAt sql.NullTime
		if err := tx.QueryRow(ctx, `
SELECT t.id::text, t.receipt_id::text, t.trip_id::text, t.customer_id, t.serial_number, t.ticket_number,
	t.ticket_status, t.issued_at, t.qr_payload, t.used_at, t.qr_payload_hash, r.approval_status
FROM tickets t
JOIN receipts r ON r.id = t.receipt_id
WHERE t.id = $1::uuid
FOR UPDATE OF t;`, ticketID).Scan(
			&out.ID, &out.ReceiptID, &out.TripID, &out.CustomerID, &out.SerialNumber, &out.TicketNumber,
			&out.Status, &out.IssuedAt, &qrPayload, &usedAt, &storedHash, &receiptStatus,
		); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrTicketNotFound
			}
			return err
		}
		if out.Status != models.TicketStatusConfirmed || receiptStatus != models.ApprovalStatusApproved {
			return ErrTicketStateNotAllowed
		}

		if token := strings.TrimSpace(qrToken); token != "" {
			claims, err := ticketing.VerifyQRPayload(qrSecret, token)
			if err != nil || claims.TicketID != out.ID || claims.TripID != out.TripID || claims.CustomerID != out.CustomerID {
				return ErrTicketQRMismatch
			}
			if storedHash.Valid && storedHash.String != ticketing.HashPayloadToken(token) {
				return ErrTicketQRMismatch
			}
		}

		now := time.Now().UTC()
		cmd, err := tx.Exec(ctx, `
UPDATE tickets
SET ticket_status = $2,
	used_at = $3,
	used_by = $4
WHERE id = $1::uuid
	AND ticket_status = $5;`, out.ID, models.TicketStatusUsed, now, actor, models.TicketStatusConfirmed)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return ErrTicketStateNotAllowed
		}
		out.Status = models.TicketStatusUsed
		out.UsedAt = &now
		out.QRPayload = nullStringToString(qrPayload)
		return nil
	})
	if err != nil {
		return models.Ticket{}, err
	}
	return out, nil
}

func (r *Repository) ListCustomerTickets(ctx context.Context, customerID int64, tripID string) ([]models.Ticket, error) {
	rows, err := r.pool.Query(ctx, `
SELECT `+ticketColumns+`
FROM tickets
WHERE customer_id = $1
	AND ($2 = '' OR trip_id::text = $2)
	AND ticket_status IN ($3, $4)
ORDER BY issued_at DESC, serial_number ASC;`, customerID, tripID, models.TicketStatusConfirmed, models.TicketStatusUsed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Ticket, 0)
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListSalesRows feeds ticketing.AggregateSales: one row per receipt and
// ticket status.
func (r *Repository) ListSalesRows(ctx context.Context, tripID string) ([]ticketing.SalesRow, error) {
	rows, err := r.pool.Query(ctx, `
SELECT r.id::text, r.trip_id::text, tr.title, r.approval_status, r.payment_method, r.final_cents, r.amount_paid_cents,
	COALESCE(t.ticket_status, ''), count(t.id)
FROM receipts r
JOIN trips tr ON tr.id = r.trip_id
LEFT JOIN tickets t ON t.receipt_id = r.id
WHERE ($1 = '' OR r.trip_id::text = $1)
GROUP BY r.id, tr.title, t.ticket_status
ORDER BY r.created_at ASC;`, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ticketing.SalesRow, 0)
	for rows.Next() {
		var row ticketing.SalesRow
		if err := rows.Scan(&row.ReceiptID, &row.TripID, &row.TripTitle, &row.ApprovalStatus, &row.PaymentMethod, &row.FinalCents, &row.AmountPaidCents, &row.TicketStatus, &row.TicketCount); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func scanReceipt(row pgx.Row) (models.Receipt, error) {
	var out models.Receipt
	var sessionID, voucherID, notes, rejection, evidence, payerRef sql.NullString
	var approvedBy sql.NullInt64
	var approvedAt sql.NullTime
	if err := row.Scan(
		&out.ID,
		&out.ReferenceNumber,
		&sessionID,
		&out.CustomerID,
		&out.TripID,
		&out.Quantity,
		&out.PaymentMethod,
		&out.BaseCents,
		&out.DiscountCents,
		&out.FinalCents,
		&out.AmountPaidCents,
		&voucherID,
		&out.VoucherCounted,
		&out.ApprovalStatus,
		&approvedBy,
		&approvedAt,
		&notes,
		&rejection,
		&evidence,
		&payerRef,
		&out.CreatedAt,
		&out.UpdatedAt,
	); err != nil {
		return models.Receipt{}, err
	}
	out.SessionID = nullStringToPtr(sessionID)
	out.VoucherID = nullStringToPtr(voucherID)
	out.ApprovedBy = nullInt64ToPtr(approvedBy)
	out.ApprovedAt = nullTimeToPtr(approvedAt)
	out.DecisionNotes = nullStringToString(notes)
	out.RejectionReason = nullStringToString(rejection)
	out.EvidenceKey = nullStringToString(evidence)
	out.PayerReference = nullStringToString(payerRef)
	return out, nil
}

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var out models.Ticket
	var qr sql.NullString
	var usedAt sql.NullTime
	if err := row.Scan(&out.ID, &out.ReceiptID, &out.TripID, &out.CustomerID, &out.SerialNumber, &out.TicketNumber, &out.Status, &out.IssuedAt, &qr, &usedAt); err != nil {
		return models.Ticket{}, err
	}
	out.QRPayload = nullStringToString(qr)
	out.UsedAt = nullTimeToPtr(usedAt)
	return out, nil
}
