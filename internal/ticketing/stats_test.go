package ticketing

import "testing"

func TestAggregateSales(t *testing.T) {
	rows := []SalesRow{
		{ReceiptID: "r1", TripID: "t1", TripTitle: "Lalibela", ApprovalStatus: "approved", PaymentMethod: "bank", FinalCents: 30000, AmountPaidCents: 30000, TicketStatus: "confirmed", TicketCount: 2},
		{ReceiptID: "r1", TripID: "t1", TripTitle: "Lalibela", ApprovalStatus: "approved", PaymentMethod: "bank", FinalCents: 30000, AmountPaidCents: 30000, TicketStatus: "used", TicketCount: 1},
		{ReceiptID: "r2", TripID: "t1", TripTitle: "Lalibela", ApprovalStatus: "approved", PaymentMethod: "gnpl", FinalCents: 10000, AmountPaidCents: 0, TicketStatus: "confirmed", TicketCount: 1},
		{ReceiptID: "r3", TripID: "t2", TripTitle: "Axum", ApprovalStatus: "pending", PaymentMethod: "telebirr", FinalCents: 5000, TicketStatus: ""},
		{ReceiptID: "r4", TripID: "t2", TripTitle: "Axum", ApprovalStatus: "rejected", PaymentMethod: "telebirr", FinalCents: 5000, TicketStatus: "cancelled", TicketCount: 1},
	}

	global, perTrip := AggregateSales(rows)
	if global.SettledCents != 40000 {
		t.Fatalf("expected settled=40000, got %d", global.SettledCents)
	}
	if global.CollectedCents != 30000 {
		t.Fatalf("expected collected=30000, got %d", global.CollectedCents)
	}
	if global.PendingCents != 5000 {
		t.Fatalf("expected pending=5000, got %d", global.PendingCents)
	}
	if global.TicketStatusCounts["confirmed"] != 3 || global.TicketStatusCounts["used"] != 1 || global.TicketStatusCounts["cancelled"] != 1 {
		t.Fatalf("unexpected ticket counts: %v", global.TicketStatusCounts)
	}
	if global.MethodCounts["bank"] != 1 || global.MethodCounts["gnpl"] != 1 || global.MethodCounts["telebirr"] != 1 {
		t.Fatalf("unexpected method counts: %v", global.MethodCounts)
	}

	one, ok := perTrip["t1"]
	if !ok {
		t.Fatalf("expected t1 bucket")
	}
	if one.SettledCents != 40000 || one.TripTitle != "Lalibela" {
		t.Fatalf("unexpected t1 bucket: %+v", one)
	}
	two := perTrip["t2"]
	if two.SettledCents != 0 || two.PendingCents != 5000 {
		t.Fatalf("unexpected t2 bucket: %+v", two)
	}
}
