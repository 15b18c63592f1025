package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/models"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/ticketing"

	"github.com/jackc/pgx/v5"
)

const tripColumns = `id::text, title, destination, departs_at, price_cents, total_seats, available_seats, status, created_at, updated_at`

func (r *Repository) CreateTrip(ctx context.Context, createdBy int64, in models.TripInput) (models.Trip, error) {
	row := r.pool.QueryRow(ctx, `
INSERT INTO trips (title, destination, departs_at, price_cents, total_seats, available_seats, status, created_by)
VALUES ($1, $2, $3, $4, $5, $5, $6, $7)
RETURNING `+tripColumns+`;`,
		strings.TrimSpace(in.Title), strings.TrimSpace(in.Destination), timePtrOrNil(in.DepartsAt),
		in.PriceCents, in.TotalSeats, models.TripStatusActive, createdBy)
	return scanTrip(row)
}

func (r *Repository) GetTrip(ctx context.Context, tripID string) (models.Trip, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1::uuid`, tripID)
	out, err := scanTrip(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, ErrTripNotFound
	}
	return out, err
}

func (r *Repository) ListTrips(ctx context.Context, status string, limit, offset int) ([]models.Trip, error) {
	rows, err := r.pool.Query(ctx, `
SELECT `+tripColumns+`
FROM trips
WHERE ($1 = '' OR status = $1)
ORDER BY departs_at ASC NULLS LAST, created_at DESC
LIMIT $2 OFFSET $3;`, status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Trip, 0)
	for rows.Next() {
		trip, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, trip)
	}
	return out, rows.Err()
}

func (r *Repository) SetTripStatus(ctx context.Context, tripID, status string) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE trips SET status = $2, updated_at = now() WHERE id = $1::uuid`, tripID, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrTripNotFound
	}
	return nil
}

// ReserveSeats takes quantity seats off an active trip in one conditional
// update. It never reads then writes.
func (r *Repository) ReserveSeats(ctx context.Context, tripID string, quantity int) error {
	return reserveSeats(ctx, r.pool, tripID, quantity)
}

// ReleaseSeats gives quantity seats back. A release that would exceed the
// trip's total fails with ticketing.ErrSeatInvariant instead of clamping.
func (r *Repository) ReleaseSeats(ctx context.Context, tripID string, quantity int) error {
	return releaseSeats(ctx, r.pool, tripID, quantity)
}

func reserveSeats(ctx context.Context, q queryRunner, tripID string, quantity int) error {
	if quantity <= 0 {
		return ticketing.Invalid("quantity", "non_positive", "quantity must be positive")
	}
	var remaining int
	err := q.QueryRow(ctx, `
UPDATE trips
SET available_seats = available_seats - $2,
	updated_at = now()
WHERE id = $1::uuid
	AND status = $3
	AND available_seats >= $2
RETURNING available_seats;`, tripID, quantity, models.TripStatusActive).Scan(&remaining)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	var available int
	var status string
	if err := q.QueryRow(ctx, `SELECT available_seats, status FROM trips WHERE id = $1::uuid`, tripID).Scan(&available, &status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTripNotFound
		}
		return err
	}
	if status != models.TripStatusActive {
		return ErrTripNotActive
	}
	return &ticketing.InsufficientSeats{TripID: tripID, Available: available, Requested: quantity}
}

func releaseSeats(ctx context.Context, q queryRunner, tripID string, quantity int) error {
	if quantity <= 0 {
		return nil
	}
	var available int
	err := q.QueryRow(ctx, `
UPDATE trips
SET available_seats = available_seats + $2,
	updated_at = now()
WHERE id = $1::uuid
	AND available_seats + $2 <= total_seats
RETURNING available_seats;`, tripID, quantity).Scan(&available)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	var total int
	if err := q.QueryRow(ctx, `SELECT available_seats, total_seats FROM trips WHERE id = $1::uuid`, tripID).Scan(&available, &total); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTripNotFound
		}
		return err
	}
	return fmt.Errorf("%w: trip %s available=%d total=%d release=%d", ticketing.ErrSeatInvariant, tripID, available, total, quantity)
}

func scanTrip(row pgx.Row) (models.Trip, error) {
	var out models.Trip
	var departsAt sql.NullTime
	if err := row.Scan(&out.ID, &out.Title, &out.Destination, &departsAt, &out.PriceCents, &out.TotalSeats, &out.AvailableSeats, &out.Status, &out.CreatedAt, &out.UpdatedAt); err != nil {
		return models.Trip{}, err
	}
	out.DepartsAt = nullTimeToPtr(departsAt)
	return out, nil
}
