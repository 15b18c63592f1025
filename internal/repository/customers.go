package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/models"

	"github.com/jackc/pgx/v5"
)

const customerColumns = `id, telegram_id, username, first_name, last_name, phone, created_at, updated_at`

// UpsertCustomer inserts or refreshes a customer keyed by Telegram id.
func (r *Repository) UpsertCustomer(ctx context.Context, in models.Customer) (models.Customer, error) {
	row := r.pool.QueryRow(ctx, `
INSERT INTO customers (telegram_id, username, first_name, last_name)
VALUES ($1, $2, $3, $4)
ON CONFLICT (telegram_id) DO UPDATE SET
	username = EXCLUDED.username,
	first_name = EXCLUDED.first_name,
	last_name = EXCLUDED.last_name,
	updated_at = now()
RETURNING `+customerColumns+`;`,
		in.TelegramID, nullString(in.Username), in.FirstName, nullString(in.LastName))
	return scanCustomer(row)
}

func (r *Repository) GetCustomer(ctx context.Context, id int64) (models.Customer, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id)
	out, err := scanCustomer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, ErrCustomerNotFound
	}
	return out, err
}

func (r *Repository) SetCustomerPhone(ctx context.Context, id int64, phone string) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE customers SET phone = $2, updated_at = now() WHERE id = $1`, id, phone)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrCustomerNotFound
	}
	return nil
}

func scanCustomer(row pgx.Row) (models.Customer, error) {
	var out models.Customer
	var username, lastName, phone sql.NullString
	if err := row.Scan(&out.ID, &out.TelegramID, &username, &out.FirstName, &lastName, &phone, &out.CreatedAt, &out.UpdatedAt); err != nil {
		return models.Customer{}, err
	}
	out.Username = nullStringToString(username)
	out.LastName = nullStringToString(lastName)
	out.Phone = nullStringToString(phone)
	return out, nil
}
