package ticketing

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func testVoucher() *Voucher {
	return &Voucher{
		ID:       "v-1",
		Code:     "SUMMER10",
		Percent:  decimal.NewFromInt(10),
		MaxUses:  5,
		IsActive: true,
	}
}

// TestResolvePriceWithoutVoucher verifies resolve price without voucher behavior.
func TestResolvePriceWithoutVoucher(t *testing.T) {
	quote, err := ResolvePrice(PriceInput{UnitPriceCents: 10000, Quantity: 3}, nil)
	if err != nil {
		t.Fatalf("ResolvePrice(): %v", err)
	}
	if quote.BaseCents != 30000 || quote.DiscountCents != 0 || quote.FinalCents != 30000 {
		t.Fatalf("unexpected quote: %+v", quote)
	}
}

// TestResolvePricePercentDiscount verifies resolve price percent discount behavior.
func TestResolvePricePercentDiscount(t *testing.T) {
	quote, err := ResolvePrice(PriceInput{
		UnitPriceCents: 10000,
		Quantity:       3,
		VoucherCode:    " summer-10 ",
		TripID:         "trip-1",
		CustomerID:     7,
		Now:            time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}, testVoucher())
	if err != nil {
		t.Fatalf("ResolvePrice(): %v", err)
	}
	if quote.DiscountCents != 3000 || quote.FinalCents != 27000 {
		t.Fatalf("unexpected quote: %+v", quote)
	}
	if quote.VoucherID != "v-1" || quote.VoucherCode != "SUMMER10" {
		t.Fatalf("voucher not carried on quote: %+v", quote)
	}
}

func TestPercentOfRoundsToCents(t *testing.T) {
	cases := []struct {
		amount  int64
		percent string
		want    int64
	}{
		{amount: 999, percent: "12.5", want: 125},
		{amount: 1001, percent: "33.33", want: 334},
		{amount: 100000, percent: "5", want: 5000},
		{amount: 0, percent: "10", want: 0},
	}
	for _, tc := range cases {
		got := PercentOf(tc.amount, decimal.RequireFromString(tc.percent))
		if got != tc.want {
			t.Fatalf("PercentOf(%d, %s) = %d, want %d", tc.amount, tc.percent, got, tc.want)
		}
	}
}

// TestResolvePriceRejectsBadVoucher verifies a non-empty code never falls back to full price.
func TestResolvePriceRejectsBadVoucher(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	otherTrip := "trip-2"
	otherCustomer := int64(99)

	cases := []struct {
		name   string
		mutate func(v *Voucher) *Voucher
		reason string
	}{
		{name: "missing", mutate: func(*Voucher) *Voucher { return nil }, reason: VoucherReasonNotFound},
		{name: "code mismatch", mutate: func(v *Voucher) *Voucher { v.Code = "WINTER"; return v }, reason: VoucherReasonNotFound},
		{name: "inactive", mutate: func(v *Voucher) *Voucher { v.IsActive = false; return v }, reason: VoucherReasonInactive},
		{name: "not started", mutate: func(v *Voucher) *Voucher { v.ValidFrom = &future; return v }, reason: VoucherReasonOutOfRange},
		{name: "expired", mutate: func(v *Voucher) *Voucher { v.ValidUntil = &past; return v }, reason: VoucherReasonOutOfRange},
		{name: "exhausted", mutate: func(v *Voucher) *Voucher { v.CurrentUses = 5; return v }, reason: VoucherReasonExhausted},
		{name: "other trip", mutate: func(v *Voucher) *Voucher { v.TripID = &otherTrip; return v }, reason: VoucherReasonTripScope},
		{name: "other customer", mutate: func(v *Voucher) *Voucher { v.CustomerID = &otherCustomer; return v }, reason: VoucherReasonUserScope},
		{name: "bad percent", mutate: func(v *Voucher) *Voucher { v.Percent = decimal.NewFromInt(150); return v }, reason: VoucherReasonBadPercent},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ResolvePrice(PriceInput{
				UnitPriceCents: 5000,
				Quantity:       1,
				VoucherCode:    "summer10",
				TripID:         "trip-1",
				CustomerID:     7,
				Now:            now,
			}, tc.mutate(testVoucher()))
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Reason != tc.reason {
				t.Fatalf("expected reason %s, got %s", tc.reason, verr.Reason)
			}
		})
	}
}

func TestResolvePriceRejectsBadQuantity(t *testing.T) {
	for _, q := range []int{0, -1, MaxQuantity + 1} {
		if _, err := ResolvePrice(PriceInput{UnitPriceCents: 100, Quantity: q}, nil); !IsValidation(err) {
			t.Fatalf("quantity %d: expected validation error, got %v", q, err)
		}
	}
}

func TestNormalizeVoucherCode(t *testing.T) {
	if got := NormalizeVoucherCode(" ab-c_d 1 "); got != "ABCD1" {
		t.Fatalf("unexpected normalized code %q", got)
	}
}
