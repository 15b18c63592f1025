package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrCustomerNotFound       = errors.New("customer not found")
	ErrTripNotFound           = errors.New("trip not found")
	ErrTripNotActive          = errors.New("trip is not open for booking")
	ErrVoucherNotFound        = errors.New("voucher not found")
	ErrVoucherExhausted       = errors.New("voucher usage limit reached")
	ErrSessionNotFound        = errors.New("booking session not found")
	ErrSessionStateNotAllowed = errors.New("booking session state does not allow this action")
	ErrReceiptUnderReview     = errors.New("a submitted receipt is still awaiting review")
	ErrReceiptNotFound        = errors.New("receipt not found")
	ErrReceiptStateNotAllowed = errors.New("receipt state does not allow this action")
	ErrDuplicateReference     = errors.New("receipt reference already exists")
	ErrTicketNotFound         = errors.New("ticket not found")
	ErrTicketStateNotAllowed  = errors.New("ticket state does not allow this action")
	ErrGnplAccountNotFound    = errors.New("gnpl account not found")
	ErrGnplStateNotAllowed    = errors.New("gnpl account state does not allow this action")
	ErrGnplPaymentNotFound    = errors.New("gnpl payment not found")
)

const uniqueViolation = "23505"

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type queryRunner interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

func (r *Repository) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func nullString(val string) interface{} {
	if strings.TrimSpace(val) == "" {
		return nil
	}
	return val
}

func nullStringToString(val sql.NullString) string {
	if val.Valid {
		return val.String
	}
	return ""
}

func nullStringToPtr(val sql.NullString) *string {
	if !val.Valid || val.String == "" {
		return nil
	}
	out := val.String
	return &out
}

func nullTimeToPtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	out := value.Time
	return &out
}

func nullInt64ToPtr(value sql.NullInt64) *int64 {
	if !value.Valid {
		return nil
	}
	out := value.Int64
	return &out
}

func strPtrOrNil(value *string) interface{} {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil
	}
	return *value
}

func int64PtrOrNil(value *int64) interface{} {
	if value == nil {
		return nil
	}
	return *value
}

func timePtrOrNil(value *time.Time) interface{} {
	if value == nil {
		return nil
	}
	return *value
}
