package ticketing

import (
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

// MaxQuantity bounds a single booking.
const MaxQuantity = 50

const (
	VoucherReasonNotFound   = "voucher_not_found"
	VoucherReasonInactive   = "voucher_inactive"
	VoucherReasonOutOfRange = "voucher_out_of_window"
	VoucherReasonExhausted  = "voucher_exhausted"
	VoucherReasonTripScope  = "voucher_trip_not_allowed"
	VoucherReasonUserScope  = "voucher_user_not_allowed"
	VoucherReasonBadPercent = "voucher_invalid_percent"
)

var hundred = decimal.NewFromInt(100)

// Voucher is the subset of a discount voucher the resolver needs.
type Voucher struct {
	ID          string
	Code        string
	Percent     decimal.Decimal
	MaxUses     int
	CurrentUses int
	TripID      *string
	CustomerID  *int64
	ValidFrom   *time.Time
	ValidUntil  *time.Time
	IsActive    bool
}

type PriceInput struct {
	UnitPriceCents int64
	Quantity       int
	VoucherCode    string
	TripID         string
	CustomerID     int64
	Now            time.Time
}

type PriceQuote struct {
	BaseCents     int64
	DiscountCents int64
	FinalCents    int64
	VoucherID     string
	VoucherCode   string
}

// NormalizeVoucherCode upper-cases a code and drops whitespace, dashes and
// underscores so "summer-10" and "SUMMER 10" resolve to the same voucher.
func NormalizeVoucherCode(code string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(code) {
		if unicode.IsSpace(r) || r == '-' || r == '_' {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// ResolvePrice computes the payable amount. A non-empty voucher code that
// does not resolve to a usable voucher is an error, never a silent full
// price. voucher is the record looked up by the normalized code, or nil.
func ResolvePrice(in PriceInput, voucher *Voucher) (PriceQuote, error) {
	if in.Quantity <= 0 {
		return PriceQuote{}, Invalid("quantity", "non_positive", "quantity must be positive")
	}
	if in.Quantity > MaxQuantity {
		return PriceQuote{}, Invalid("quantity", "too_large", "quantity exceeds booking limit")
	}
	if in.UnitPriceCents < 0 {
		return PriceQuote{}, Invalid("unitPrice", "negative", "unit price must not be negative")
	}

	base := in.UnitPriceCents * int64(in.Quantity)
	quote := PriceQuote{BaseCents: base, FinalCents: base}

	code := NormalizeVoucherCode(in.VoucherCode)
	if code == "" {
		return quote, nil
	}
	if err := CheckVoucher(voucher, code, in.TripID, in.CustomerID, in.Now); err != nil {
		return PriceQuote{}, err
	}

	quote.DiscountCents = PercentOf(base, voucher.Percent)
	quote.FinalCents = base - quote.DiscountCents
	quote.VoucherID = voucher.ID
	quote.VoucherCode = code
	return quote, nil
}

// CheckVoucher validates a voucher for one booking.
func CheckVoucher(voucher *Voucher, code, tripID string, customerID int64, now time.Time) error {
	if voucher == nil || NormalizeVoucherCode(voucher.Code) != code {
		return Invalid("voucherCode", VoucherReasonNotFound, "voucher code not recognised")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if !voucher.IsActive {
		return Invalid("voucherCode", VoucherReasonInactive, "voucher is not active")
	}
	if voucher.ValidFrom != nil && now.Before(*voucher.ValidFrom) {
		return Invalid("voucherCode", VoucherReasonOutOfRange, "voucher is not valid yet")
	}
	if voucher.ValidUntil != nil && now.After(*voucher.ValidUntil) {
		return Invalid("voucherCode", VoucherReasonOutOfRange, "voucher has expired")
	}
	if voucher.MaxUses > 0 && voucher.CurrentUses >= voucher.MaxUses {
		return Invalid("voucherCode", VoucherReasonExhausted, "voucher usage limit reached")
	}
	if voucher.TripID != nil && *voucher.TripID != "" && !strings.EqualFold(*voucher.TripID, tripID) {
		return Invalid("voucherCode", VoucherReasonTripScope, "voucher does not apply to this trip")
	}
	if voucher.CustomerID != nil && *voucher.CustomerID != customerID {
		return Invalid("voucherCode", VoucherReasonUserScope, "voucher belongs to another customer")
	}
	if voucher.Percent.LessThanOrEqual(decimal.Zero) || voucher.Percent.GreaterThan(hundred) {
		return Invalid("voucherCode", VoucherReasonBadPercent, "voucher discount is misconfigured")
	}
	return nil
}

// PercentOf returns amount*percent/100 rounded to whole cents.
func PercentOf(amountCents int64, percent decimal.Decimal) int64 {
	if amountCents <= 0 || percent.Sign() <= 0 {
		return 0
	}
	return decimal.NewFromInt(amountCents).Mul(percent).Div(hundred).Round(0).IntPart()
}
