package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/models"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/ticketing"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const voucherColumns = `id::text, code, discount_percent::text, max_uses, current_uses, trip_id::text, customer_id, valid_from, valid_until, is_active, created_at, updated_at`

func (r *Repository) CreateVoucher(ctx context.Context, createdBy int64, in models.VoucherInput, percent decimal.Decimal) (models.DiscountVoucher, error) {
	row := r.pool.QueryRow(ctx, `
INSERT INTO discount_vouchers (code, discount_percent, max_uses, trip_id, customer_id, valid_from, valid_until, created_by)
VALUES ($1, $2::numeric, $3, $4::uuid, $5, $6, $7, $8)
RETURNING `+voucherColumns+`;`,
		ticketing.NormalizeVoucherCode(in.Code), percent.String(), in.MaxUses,
		strPtrOrNil(in.TripID), int64PtrOrNil(in.CustomerID), timePtrOrNil(in.ValidFrom), timePtrOrNil(in.ValidUntil), createdBy)
	out, err := scanVoucher(row)
	if err != nil && isUniqueViolation(err, "") {
		return out, ticketing.Invalid("code", "duplicate", "voucher code already exists")
	}
	return out, err
}

func (r *Repository) ListVouchers(ctx context.Context, tripID string, activeOnly bool) ([]models.DiscountVoucher, error) {
	rows, err := r.pool.Query(ctx, `
SELECT `+voucherColumns+`
FROM discount_vouchers
WHERE ($1 = '' OR trip_id = NULLIF($1, '')::uuid)
	AND (NOT $2 OR is_active)
ORDER BY created_at DESC;`, strings.TrimSpace(tripID), activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.DiscountVoucher, 0)
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetVoucherByCode looks a voucher up by its normalized code.
func (r *Repository) GetVoucherByCode(ctx context.Context, code string) (models.DiscountVoucher, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+voucherColumns+` FROM discount_vouchers WHERE code = $1`, ticketing.NormalizeVoucherCode(code))
	out, err := scanVoucher(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, ErrVoucherNotFound
	}
	return out, err
}

func (r *Repository) GetVoucherByID(ctx context.Context, id string) (models.DiscountVoucher, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+voucherColumns+` FROM discount_vouchers WHERE id = $1::uuid`, id)
	out, err := scanVoucher(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, ErrVoucherNotFound
	}
	return out, err
}

func (r *Repository) SetVoucherActive(ctx context.Context, id string, active bool) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE discount_vouchers SET is_active = $2, updated_at = now() WHERE id = $1::uuid`, id, active)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrVoucherNotFound
	}
	return nil
}

// CountVoucherUse increments the voucher attached to a receipt at most once
// per receipt. It returns false when the receipt has no voucher or was
// already counted. The increment is conditional on current_uses < max_uses.
func (r *Repository) CountVoucherUse(ctx context.Context, receiptID string) (bool, error) {
	counted := false
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		var voucherID sql.NullString
		err := tx.QueryRow(ctx, `
UPDATE receipts
SET voucher_counted = true,
	updated_at = now()
WHERE id = $1::uuid
	AND voucher_id IS NOT NULL
	AND NOT voucher_counted
RETURNING voucher_id::text;`, receiptID).Scan(&voucherID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		cmd, err := tx.Exec(ctx, `
UPDATE discount_vouchers
SET current_uses = current_uses + 1,
	updated_at = now()
WHERE id = $1::uuid
	AND current_uses < max_uses;`, voucherID.String)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return ErrVoucherExhausted
		}
		counted = true
		return nil
	})
	return counted, err
}

func scanVoucher(row pgx.Row) (models.DiscountVoucher, error) {
	var out models.DiscountVoucher
	var percent string
	var tripID sql.NullString
	var customerID sql.NullInt64
	var validFrom, validUntil sql.NullTime
	if err := row.Scan(&out.ID, &out.Code, &percent, &out.MaxUses, &out.CurrentUses, &tripID, &customerID, &validFrom, &validUntil, &out.IsActive, &out.CreatedAt, &out.UpdatedAt); err != nil {
		return models.DiscountVoucher{}, err
	}
	parsed, err := decimal.NewFromString(percent)
	if err != nil {
		return models.DiscountVoucher{}, err
	}
	out.DiscountPercent = parsed
	out.TripID = nullStringToPtr(tripID)
	out.CustomerID = nullInt64ToPtr(customerID)
	out.ValidFrom = nullTimeToPtr(validFrom)
	out.ValidUntil = nullTimeToPtr(validUntil)
	return out, nil
}
