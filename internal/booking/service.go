// Package booking turns a customer's booking intent into seats, receipts,
// tickets and GNPL ledger entries. Every multi-step write runs as a
// sequence of conditional store operations with explicit compensation.
package booking

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/models"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/repository"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/ticketing"

	"github.com/shopspring/decimal"
)

// Inventory is the authoritative seat counter.
type Inventory interface {
	GetTrip(ctx context.Context, tripID string) (models.Trip, error)
	ReserveSeats(ctx context.Context, tripID string, quantity int) error
	ReleaseSeats(ctx context.Context, tripID string, quantity int) error
}

type Vouchers interface {
	GetVoucherByCode(ctx context.Context, code string) (models.DiscountVoucher, error)
	GetVoucherByID(ctx context.Context, id string) (models.DiscountVoucher, error)
	CountVoucherUse(ctx context.Context, receiptID string) (bool, error)
}

type Sessions interface {
	StartSession(ctx context.Context, p models.NewSessionParams) (models.BookingSession, []string, error)
	GetSession(ctx context.Context, id string) (models.BookingSession, error)
	FindOpenAutoSession(ctx context.Context, customerID int64, tripID string) (models.BookingSession, error)
	SetSessionCheckout(ctx context.Context, id, reference, checkoutURL string) error
	CompleteSession(ctx context.Context, id string) error
	CancelSession(ctx context.Context, id, reason string) error
	CancelStaleSessions(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}

type Receipts interface {
	FindReceiptByReferencePrefix(ctx context.Context, prefix string) (models.Receipt, error)
	CreateReceipt(ctx context.Context, p models.NewReceiptParams) (models.Receipt, error)
	GetReceipt(ctx context.Context, id string) (models.ReceiptDetail, error)
	PendingReceiptForSession(ctx context.Context, sessionID string) (models.Receipt, error)
	TransitionReceipt(ctx context.Context, id, from, to string, actor *int64, note string) error
	CreateTickets(ctx context.Context, receipt models.Receipt, count int, status string) ([]models.Ticket, error)
	ConfirmReceiptTickets(ctx context.Context, receiptID string, ids []string) (int, error)
	SetTicketStatuses(ctx context.Context, ids []string, from, to string) (int, error)
	SetTicketQR(ctx context.Context, ticketID, token string) error
	RollbackReceipt(ctx context.Context, id string, actor int64, notes string, plan repository.DecisionPlanner) (models.ReceiptDetail, ticketing.DecisionPlan, error)
	RejectReceipt(ctx context.Context, id string, actor int64, reason string, plan repository.DecisionPlanner) (models.ReceiptDetail, ticketing.DecisionPlan, error)
}

type Ledger interface {
	CreateGnplAccount(ctx context.Context, p models.NewGnplAccountParams) (models.GnplAccount, error)
	GetGnplAccount(ctx context.Context, id string) (models.GnplAccount, error)
	ListGnplAccounts(ctx context.Context, customerID int64, status string, limit, offset int) ([]models.GnplAccount, error)
	ApproveGnplAccount(ctx context.Context, id string, actor int64, approvedCents int64, receiptID string, now time.Time) (models.GnplAccount, error)
	RejectGnplAccount(ctx context.Context, id string, actor int64, reason string) (models.GnplAccount, error)
	SetGnplStatus(ctx context.Context, id, from, to string) error
	SubmitGnplPayment(ctx context.Context, accountID string, customerID int64, amountCents int64, reference, evidenceKey string) (models.GnplPayment, error)
	ApproveGnplPayment(ctx context.Context, paymentID string, actor int64, decide func(models.GnplAccount, models.GnplPayment) (repository.GnplPaymentDecision, error)) (models.GnplPayment, models.GnplAccount, error)
	RejectGnplPayment(ctx context.Context, paymentID string, actor int64, reason string) (models.GnplPayment, error)
	AccrueDuePenalties(ctx context.Context, now time.Time, limit int, accrue func(models.GnplAccount) repository.PenaltyUpdate) (int, error)
}

// Outbox takes fire-and-forget side effects.
type Outbox interface {
	EnqueueNotification(ctx context.Context, customerID int64, kind string, payload map[string]interface{}) (int64, error)
	RecordPaymentEvent(ctx context.Context, ev models.PaymentEvent) error
}

type Store interface {
	Inventory
	Vouchers
	Sessions
	Receipts
	Ledger
	Outbox
}

// Gateway starts a hosted checkout for an automatic payment and returns the
// URL the customer is sent to.
type Gateway interface {
	InitiatePayment(ctx context.Context, reference string, amountCents int64, description string) (string, error)
}

// Locker serialises work on one key across API replicas.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), ok bool, err error)
}

type Options struct {
	QRSecret              string
	SessionTTL            time.Duration
	GnplTermDays          int
	GnplPenaltyPercent    decimal.Decimal
	GnplPenaltyPeriodDays int
	CallbackLockTTL       time.Duration
	Now                   func() time.Time
}

type Service struct {
	store   Store
	gateway Gateway
	locker  Locker
	logger  *slog.Logger
	opts    Options
}

func NewService(store Store, gateway Gateway, locker Locker, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 2 * time.Hour
	}
	if opts.CallbackLockTTL <= 0 {
		opts.CallbackLockTTL = 30 * time.Second
	}
	if opts.GnplTermDays <= 0 {
		opts.GnplTermDays = 30
	}
	if opts.GnplPenaltyPeriodDays <= 0 {
		opts.GnplPenaltyPeriodDays = 7
	}
	return &Service{
		store:   store,
		gateway: gateway,
		locker:  locker,
		logger:  logger.With("component", "booking"),
		opts:    opts,
	}
}

func (s *Service) now() time.Time {
	return s.opts.Now()
}

func (s *Service) notify(ctx context.Context, customerID int64, kind string, payload map[string]interface{}) {
	if _, err := s.store.EnqueueNotification(ctx, customerID, kind, payload); err != nil {
		s.logger.Warn("action", "action", "enqueue_notification", "status", "failed", "kind", kind, "customer_id", customerID, "error", err)
	}
}

func voucherFromModel(v models.DiscountVoucher) *ticketing.Voucher {
	return &ticketing.Voucher{
		ID:          v.ID,
		Code:        v.Code,
		Percent:     v.DiscountPercent,
		MaxUses:     v.MaxUses,
		CurrentUses: v.CurrentUses,
		TripID:      v.TripID,
		CustomerID:  v.CustomerID,
		ValidFrom:   v.ValidFrom,
		ValidUntil:  v.ValidUntil,
		IsActive:    v.IsActive,
	}
}

func snapshotFromQuote(q ticketing.PriceQuote) models.PricingSnapshot {
	out := models.PricingSnapshot{
		BaseCents:     q.BaseCents,
		DiscountCents: q.DiscountCents,
		FinalCents:    q.FinalCents,
		VoucherCode:   q.VoucherCode,
	}
	if id := strings.TrimSpace(q.VoucherID); id != "" {
		out.VoucherID = &id
	}
	return out
}

func batchOf(tickets []models.Ticket) []ticketing.BatchTicket {
	out := make([]ticketing.BatchTicket, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, ticketing.BatchTicket{ID: t.ID, TicketNumber: t.TicketNumber, Status: t.Status})
	}
	return out
}
