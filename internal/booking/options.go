package booking

import (
	"fmt"
	"strings"

	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/config"

	"github.com/shopspring/decimal"
)

// OptionsFromConfig maps the environment onto service options. Both the API
// and the worker build their service through it so they agree on TTLs and
// penalty terms.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	percent := decimal.Zero
	if raw := strings.TrimSpace(cfg.Booking.GnplPenaltyPercent); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			return Options{}, fmt.Errorf("GNPL_PENALTY_PERCENT: %w", err)
		}
		if parsed.IsNegative() || parsed.GreaterThan(decimal.NewFromInt(100)) {
			return Options{}, fmt.Errorf("GNPL_PENALTY_PERCENT must be between 0 and 100")
		}
		percent = parsed
	}
	return Options{
		QRSecret:              cfg.QRSecret,
		SessionTTL:            cfg.Booking.SessionTTL,
		GnplTermDays:          cfg.Booking.GnplTermDays,
		GnplPenaltyPercent:    percent,
		GnplPenaltyPeriodDays: cfg.Booking.GnplPenaltyDays,
	}, nil
}
