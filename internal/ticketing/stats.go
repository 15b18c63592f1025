package ticketing

// SalesRow is one receipt/ticket-status group as read from storage.
type SalesRow struct {
	ReceiptID       string
	TripID          string
	TripTitle       string
	ApprovalStatus  string
	PaymentMethod   string
	FinalCents      int64
	AmountPaidCents int64
	TicketStatus    string
	TicketCount     int64
}

// SalesBucket aggregates sales for one trip, or for all trips when TripID
// is empty.
type SalesBucket struct {
	TripID             string           `json:"tripId,omitempty"`
	TripTitle          string           `json:"tripTitle,omitempty"`
	SettledCents       int64            `json:"settledCents"`
	CollectedCents     int64            `json:"collectedCents"`
	PendingCents       int64            `json:"pendingCents"`
	TicketStatusCounts map[string]int64 `json:"ticketStatusCounts"`
	MethodCounts       map[string]int64 `json:"methodCounts"`
}

func NewSalesBucket(tripID, title string) SalesBucket {
	return SalesBucket{
		TripID:    tripID,
		TripTitle: title,
		TicketStatusCounts: map[string]int64{
			ticketPending:   0,
			ticketConfirmed: 0,
			ticketUsed:      0,
			ticketCancelled: 0,
		},
		MethodCounts: map[string]int64{
			methodBank:         0,
			methodTelebirr:     0,
			methodTelebirrAuto: 0,
			methodGnpl:         0,
		},
	}
}

// AggregateSales folds rows into a global bucket and one bucket per trip.
// Receipt amounts are counted once per receipt even though a receipt spans
// several ticket-status rows.
func AggregateSales(rows []SalesRow) (SalesBucket, map[string]SalesBucket) {
	global := NewSalesBucket("", "")
	perTrip := map[string]SalesBucket{}
	seen := map[string]struct{}{}
	for _, row := range rows {
		if row.TripID == "" {
			continue
		}
		bucket, ok := perTrip[row.TripID]
		if !ok {
			bucket = NewSalesBucket(row.TripID, row.TripTitle)
		}

		if _, counted := seen[row.ReceiptID]; !counted {
			seen[row.ReceiptID] = struct{}{}
			switch row.ApprovalStatus {
			case receiptApproved:
				bucket.SettledCents += row.FinalCents
				bucket.CollectedCents += row.AmountPaidCents
				global.SettledCents += row.FinalCents
				global.CollectedCents += row.AmountPaidCents
			case receiptPending:
				bucket.PendingCents += row.FinalCents
				global.PendingCents += row.FinalCents
			}
			if _, known := bucket.MethodCounts[row.PaymentMethod]; known && row.ApprovalStatus != receiptRejected {
				bucket.MethodCounts[row.PaymentMethod]++
				global.MethodCounts[row.PaymentMethod]++
			}
		}

		if _, known := bucket.TicketStatusCounts[row.TicketStatus]; known {
			bucket.TicketStatusCounts[row.TicketStatus] += row.TicketCount
			global.TicketStatusCounts[row.TicketStatus] += row.TicketCount
		}
		perTrip[row.TripID] = bucket
	}
	return global, perTrip
}
