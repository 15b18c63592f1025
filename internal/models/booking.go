package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TripStatusActive    = "active"
	TripStatusCancelled = "cancelled"
	TripStatusCompleted = "completed"
)

const (
	PaymentMethodBank         = "bank"
	PaymentMethodTelebirr     = "telebirr"
	PaymentMethodTelebirrAuto = "telebirr_auto"
	PaymentMethodGnpl         = "gnpl"
)

const (
	SessionStatusAwaitingReceipt      = "awaiting_receipt"
	SessionStatusAwaitingAutoPayment  = "awaiting_auto_payment"
	SessionStatusAwaitingGnplApproval = "awaiting_gnpl_approval"
	SessionStatusCompleted            = "completed"
	SessionStatusCancelled            = "cancelled"
)

const (
	ApprovalStatusPending  = "pending"
	ApprovalStatusApproved = "approved"
	ApprovalStatusRejected = "rejected"
)

const (
	TicketStatusPending   = "pending"
	TicketStatusConfirmed = "confirmed"
	TicketStatusUsed      = "used"
	TicketStatusCancelled = "cancelled"
)

const (
	GnplStatusPendingApproval = "pending_approval"
	GnplStatusApproved        = "approved"
	GnplStatusRejected        = "rejected"
	GnplStatusOverdue         = "overdue"
	GnplStatusCompleted       = "completed"
	GnplStatusCancelled       = "cancelled"
)

const (
	GnplPaymentPending  = "pending"
	GnplPaymentApproved = "approved"
	GnplPaymentRejected = "rejected"
)

// Trip is a sellable departure with its seat counter.
type Trip struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Destination    string     `json:"destination,omitempty"`
	DepartsAt      *time.Time `json:"departsAt,omitempty"`
	PriceCents     int64      `json:"priceCents"`
	TotalSeats     int        `json:"totalSeats"`
	AvailableSeats int        `json:"availableSeats"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

type TripInput struct {
	Title       string     `json:"title" validate:"required,max=200"`
	Destination string     `json:"destination" validate:"max=200"`
	DepartsAt   *time.Time `json:"departsAt"`
	PriceCents  int64      `json:"priceCents" validate:"gte=0"`
	TotalSeats  int        `json:"totalSeats" validate:"gt=0"`
}

// DiscountVoucher represents discount voucher.
type DiscountVoucher struct {
	ID              string          `json:"id"`
	Code            string          `json:"code"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
	MaxUses         int             `json:"maxUses"`
	CurrentUses     int             `json:"currentUses"`
	TripID          *string         `json:"tripId,omitempty"`
	CustomerID      *int64          `json:"customerId,omitempty"`
	ValidFrom       *time.Time      `json:"validFrom,omitempty"`
	ValidUntil      *time.Time      `json:"validUntil,omitempty"`
	IsActive        bool            `json:"isActive"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

type VoucherInput struct {
	Code            string     `json:"code" validate:"required,max=64"`
	DiscountPercent string     `json:"discountPercent" validate:"required"`
	MaxUses         int        `json:"maxUses" validate:"gt=0"`
	TripID          *string    `json:"tripId" validate:"omitempty,uuid"`
	CustomerID      *int64     `json:"customerId"`
	ValidFrom       *time.Time `json:"validFrom"`
	ValidUntil      *time.Time `json:"validUntil"`
}

// PricingSnapshot is the price agreed when a session starts.
type PricingSnapshot struct {
	BaseCents     int64   `json:"baseCents"`
	DiscountCents int64   `json:"discountCents"`
	FinalCents    int64   `json:"finalCents"`
	VoucherID     *string `json:"voucherId,omitempty"`
	VoucherCode   string  `json:"voucherCode,omitempty"`
}

// BookingSession represents booking session.
type BookingSession struct {
	ID               string          `json:"id"`
	CustomerID       int64           `json:"customerId"`
	TripID           string          `json:"tripId"`
	Quantity         int             `json:"quantity"`
	PaymentMethod    string          `json:"paymentMethod"`
	Status           string          `json:"status"`
	Pricing          PricingSnapshot `json:"pricing"`
	GatewayReference string          `json:"gatewayReference,omitempty"`
	CheckoutURL      string          `json:"checkoutUrl,omitempty"`
	CancelReason     string          `json:"cancelReason,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
	CompletedAt      *time.Time      `json:"completedAt,omitempty"`
	CancelledAt      *time.Time      `json:"cancelledAt,omitempty"`
}

type NewSessionParams struct {
	CustomerID    int64
	TripID        string
	Quantity      int
	PaymentMethod string
	Status        string
	Pricing       PricingSnapshot
}

// Receipt represents receipt.
type Receipt struct {
	ID              string     `json:"id"`
	ReferenceNumber string     `json:"referenceNumber"`
	PayerReference  string     `json:"payerReference,omitempty"`
	SessionID       *string    `json:"sessionId,omitempty"`
	CustomerID      int64      `json:"customerId"`
	TripID          string     `json:"tripId"`
	Quantity        int        `json:"quantity"`
	PaymentMethod   string     `json:"paymentMethod"`
	BaseCents       int64      `json:"baseCents"`
	DiscountCents   int64      `json:"discountCents"`
	FinalCents      int64      `json:"finalCents"`
	AmountPaidCents int64      `json:"amountPaidCents"`
	VoucherID       *string    `json:"voucherId,omitempty"`
	VoucherCounted  bool       `json:"voucherCounted"`
	ApprovalStatus  string     `json:"approvalStatus"`
	ApprovedBy      *int64     `json:"approvedBy,omitempty"`
	ApprovedAt      *time.Time `json:"approvedAt,omitempty"`
	DecisionNotes   string     `json:"decisionNotes,omitempty"`
	RejectionReason string     `json:"rejectionReason,omitempty"`
	EvidenceKey     string     `json:"evidenceKey,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

type NewReceiptParams struct {
	ReferenceNumber string
	PayerReference  string
	SessionID       *string
	CustomerID      int64
	TripID          string
	Quantity        int
	PaymentMethod   string
	Pricing         PricingSnapshot
	AmountPaidCents int64
	ApprovalStatus  string
	ApprovedBy      *int64
	EvidenceKey     string
}

// ReceiptDetail is a receipt with its ticket batch.
type ReceiptDetail struct {
	Receipt
	Tickets []Ticket `json:"tickets"`
}

// Ticket represents ticket.
type Ticket struct {
	ID           string     `json:"id"`
	ReceiptID    string     `json:"receiptId"`
	TripID       string     `json:"tripId"`
	CustomerID   int64      `json:"customerId"`
	SerialNumber int64      `json:"serialNumber"`
	TicketNumber string     `json:"ticketNumber"`
	Status       string     `json:"status"`
	IssuedAt     time.Time  `json:"issuedAt"`
	QRPayload    string     `json:"qrPayload,omitempty"`
	UsedAt       *time.Time `json:"usedAt,omitempty"`
}

// GnplAccount carries stored ledger fields. The outstanding amounts and
// overdue days are derived on read and never persisted.
type GnplAccount struct {
	ID                  string          `json:"id"`
	CustomerID          int64           `json:"customerId"`
	TripID              string          `json:"tripId"`
	SessionID           *string         `json:"sessionId,omitempty"`
	ReceiptID           *string         `json:"receiptId,omitempty"`
	Quantity            int             `json:"quantity"`
	Status              string          `json:"status"`
	Phone               string          `json:"phone"`
	IDDocumentKey       string          `json:"idDocumentKey"`
	RequestedCents      int64           `json:"requestedCents"`
	ApprovedCents       int64           `json:"approvedCents"`
	PrincipalPaidCents  int64           `json:"principalPaidCents"`
	PenaltyAccruedCents int64           `json:"penaltyAccruedCents"`
	PenaltyPaidCents    int64           `json:"penaltyPaidCents"`
	TermDays            int             `json:"termDays"`
	PenaltyPercent      decimal.Decimal `json:"penaltyPercent"`
	PenaltyPeriodDays   int             `json:"penaltyPeriodDays"`
	DueDate             *time.Time      `json:"dueDate,omitempty"`
	NextPenaltyAt       *time.Time      `json:"nextPenaltyAt,omitempty"`
	ApprovedBy          *int64          `json:"approvedBy,omitempty"`
	ApprovedAt          *time.Time      `json:"approvedAt,omitempty"`
	RejectionReason     string          `json:"rejectionReason,omitempty"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`

	PrincipalOutstandingCents int64 `json:"principalOutstandingCents"`
	PenaltyOutstandingCents   int64 `json:"penaltyOutstandingCents"`
	TotalDueCents             int64 `json:"totalDueCents"`
	OverdueDays               int   `json:"overdueDays"`
}

type NewGnplAccountParams struct {
	CustomerID        int64
	TripID            string
	SessionID         string
	Quantity          int
	Phone             string
	IDDocumentKey     string
	RequestedCents    int64
	TermDays          int
	PenaltyPercent    decimal.Decimal
	PenaltyPeriodDays int
}

// GnplPayment represents gnpl payment.
type GnplPayment struct {
	ID                    string     `json:"id"`
	AccountID             string     `json:"accountId"`
	AmountCents           int64      `json:"amountCents"`
	PenaltyAppliedCents   int64      `json:"penaltyAppliedCents"`
	PrincipalAppliedCents int64      `json:"principalAppliedCents"`
	UnappliedCents        int64      `json:"unappliedCents"`
	Status                string     `json:"status"`
	Reference             string     `json:"reference,omitempty"`
	EvidenceKey           string     `json:"evidenceKey,omitempty"`
	DecidedBy             *int64     `json:"decidedBy,omitempty"`
	DecidedAt             *time.Time `json:"decidedAt,omitempty"`
	RejectionReason       string     `json:"rejectionReason,omitempty"`
	CreatedAt             time.Time  `json:"createdAt"`
}

// PaymentEvent is one received gateway callback.
type PaymentEvent struct {
	Provider      string
	TransactionID string
	Status        string
	SessionID     *string
	Outcome       string
	Error         string
	RawPayload    map[string]interface{}
}
