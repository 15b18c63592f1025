package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/booking"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/config"
	authmw "github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/http/middleware"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/integrations/gateway"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/models"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/rate"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/repository"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/ticketing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Bookings is the part of booking.Service the HTTP layer drives.
type Bookings interface {
	Quote(ctx context.Context, customerID int64, tripID string, quantity int, voucherCode string) (ticketing.PriceQuote, models.Trip, error)
	StartBooking(ctx context.Context, p booking.StartParams) (booking.StartResult, error)
	CancelBooking(ctx context.Context, customerID int64, sessionID string) error
	SubmitReceipt(ctx context.Context, p booking.SubmitReceiptParams) (models.Receipt, error)
	HandleCallback(ctx context.Context, cb ticketing.Callback) (booking.CallbackResult, error)
	Approve(ctx context.Context, receiptID string, actor int64, notes string) (models.ReceiptDetail, error)
	Reject(ctx context.Context, receiptID string, actor int64, reason string) (models.ReceiptDetail, error)
	Rollback(ctx context.Context, receiptID string, actor int64, confirmation, notes string) (models.ReceiptDetail, error)
	ApproveGnplAccount(ctx context.Context, accountID string, actor int64) (models.GnplAccount, error)
	RejectGnplAccount(ctx context.Context, accountID string, actor int64, reason string) (models.GnplAccount, error)
	GnplAccount(ctx context.Context, accountID string) (models.GnplAccount, error)
	GnplAccounts(ctx context.Context, customerID int64, status string, limit, offset int) ([]models.GnplAccount, error)
	SubmitGnplPayment(ctx context.Context, p booking.GnplPaymentParams) (models.GnplPayment, error)
	ApproveGnplPayment(ctx context.Context, paymentID string, actor int64) (models.GnplPayment, models.GnplAccount, error)
	RejectGnplPayment(ctx context.Context, paymentID string, actor int64, reason string) (models.GnplPayment, error)
}

// Store covers reads and catalogue writes that need no orchestration.
type Store interface {
	UpsertCustomer(ctx context.Context, in models.Customer) (models.Customer, error)
	ActiveSession(ctx context.Context, customerID int64) (models.BookingSession, error)
	GetSession(ctx context.Context, id string) (models.BookingSession, error)
	ListReceipts(ctx context.Context, status, tripID string, limit, offset int) ([]models.Receipt, int, error)
	GetReceipt(ctx context.Context, id string) (models.ReceiptDetail, error)
	CreateTrip(ctx context.Context, createdBy int64, in models.TripInput) (models.Trip, error)
	GetTrip(ctx context.Context, tripID string) (models.Trip, error)
	ListTrips(ctx context.Context, status string, limit, offset int) ([]models.Trip, error)
	SetTripStatus(ctx context.Context, tripID, status string) error
	CreateVoucher(ctx context.Context, createdBy int64, in models.VoucherInput, percent decimal.Decimal) (models.DiscountVoucher, error)
	ListVouchers(ctx context.Context, tripID string, activeOnly bool) ([]models.DiscountVoucher, error)
	SetVoucherActive(ctx context.Context, id string, active bool) error
	RedeemTicket(ctx context.Context, ticketID string, actor int64, qrToken, qrSecret string) (models.Ticket, error)
	ListCustomerTickets(ctx context.Context, customerID int64, tripID string) ([]models.Ticket, error)
	ListSalesRows(ctx context.Context, tripID string) ([]ticketing.SalesRow, error)
	ListGnplPayments(ctx context.Context, accountID, status string) ([]models.GnplPayment, error)
	ListPaymentEvents(ctx context.Context, transactionID string, limit int) ([]repository.PaymentEventRecord, error)
}

// Media presigns evidence uploads and admin views.
type Media interface {
	PresignUpload(ctx context.Context, scope string, customerID int64, fileName, contentType string) (string, string, error)
	PresignView(ctx context.Context, key string) (string, error)
}

// PaymentQuerier polls the gateway when a callback is late.
type PaymentQuerier interface {
	QueryPayment(ctx context.Context, reference string) (gateway.PaymentStatus, error)
}

type Handler struct {
	store        Store
	bookings     Bookings
	media        Media
	payments     PaymentQuerier
	telegram     Messenger
	cfg          *config.Config
	logger       *slog.Logger
	validator    *validator.Validate
	startLimiter *rate.WindowLimiter
	now          func() time.Time
}

// New wires the handler. media and payments may be nil when S3 or the
// gateway is not configured.
func New(store Store, bookings Bookings, media Media, payments PaymentQuerier, cfg *config.Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	startsPerMinute := cfg.Booking.StartsPerMinute
	if startsPerMinute <= 0 {
		startsPerMinute = 5
	}
	return &Handler{
		store:        store,
		bookings:     bookings,
		media:        media,
		payments:     payments,
		cfg:          cfg,
		logger:       logger,
		validator:    validator.New(),
		startLimiter: rate.NewWindowLimiter(startsPerMinute, time.Minute),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (h *Handler) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 5*time.Second)
}

func (h *Handler) loggerForRequest(r *http.Request) *slog.Logger {
	logger := h.logger
	if logger == nil {
		return slog.Default()
	}
	if reqID := chimw.GetReqID(r.Context()); reqID != "" {
		logger = logger.With("request_id", reqID)
	}
	if customerID, ok := authmw.CustomerIDFromContext(r.Context()); ok {
		logger = logger.With("customer_id", customerID)
	}
	if actor, ok := authmw.ActorFromContext(r.Context()); ok {
		logger = logger.With("actor_id", actor)
	}
	return logger
}

// decode reads a JSON body and runs struct validation. An empty body
// decodes as the zero value. It writes the 400 itself and reports false on
// failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		writeValidation(w, err)
		return false
	}
	return true
}

func pagination(r *http.Request, def, max int) (int, int) {
	limit := queryInt(r, "limit", def)
	if limit <= 0 || limit > max {
		limit = def
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func queryInt(r *http.Request, key string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
