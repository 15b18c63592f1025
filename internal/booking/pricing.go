package booking

import (
	"context"
	"errors"

	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/models"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/repository"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/ticketing"
)

// Quote prices a booking without writing anything.
func (s *Service) Quote(ctx context.Context, customerID int64, tripID string, quantity int, voucherCode string) (ticketing.PriceQuote, models.Trip, error) {
	trip, err := s.store.GetTrip(ctx, tripID)
	if err != nil {
		return ticketing.PriceQuote{}, models.Trip{}, err
	}
	quote, err := s.resolvePrice(ctx, trip, customerID, quantity, voucherCode)
	return quote, trip, err
}

func (s *Service) resolvePrice(ctx context.Context, trip models.Trip, customerID int64, quantity int, voucherCode string) (ticketing.PriceQuote, error) {
	var voucher *ticketing.Voucher
	if code := ticketing.NormalizeVoucherCode(voucherCode); code != "" {
		found, err := s.store.GetVoucherByCode(ctx, code)
		switch {
		case err == nil:
			voucher = voucherFromModel(found)
		case errors.Is(err, repository.ErrVoucherNotFound):
		default:
			return ticketing.PriceQuote{}, err
		}
	}
	return ticketing.ResolvePrice(ticketing.PriceInput{
		UnitPriceCents: trip.PriceCents,
		Quantity:       quantity,
		VoucherCode:    voucherCode,
		TripID:         trip.ID,
		CustomerID:     customerID,
		Now:            s.now(),
	}, voucher)
}
