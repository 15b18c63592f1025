package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/http/middleware"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/rate"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Router mounts every route behind the standard middleware chain.
func (h *Handler) Router(logger *slog.Logger) http.Handler {
	cfg := h.cfg
	callbackRate := cfg.Booking.CallbacksPerSecond
	if callbackRate <= 0 {
		callbackRate = 20
	}
	callbackLimiter := rate.NewKeyedLimiter(callbackRate, int(callbackRate)*2)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(15 * time.Second))
	r.Use(corsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Post("/auth/telegram", h.AuthTelegram)
	r.Post("/auth/admin", h.AuthAdmin)
	r.Post("/telegram/webhook", h.TelegramWebhook)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(callbackLimiter))
		r.Post("/payments/callback", h.PaymentCallback)
		r.Get("/payments/return", h.PaymentReturn)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(cfg.JWTSecret))
		r.Use(middleware.CustomerOnly)
		r.Get("/trips", h.ListTrips)
		r.Get("/trips/{id}", h.GetTrip)
		r.Post("/bookings/quote", h.QuoteBooking)
		r.Post("/bookings", h.StartBooking)
		r.Get("/bookings/active", h.ActiveBooking)
		r.Post("/bookings/{id}/receipt", h.SubmitReceipt)
		r.Post("/bookings/{id}/cancel", h.CancelBooking)
		r.Get("/bookings/{id}/payment-status", h.PaymentStatus)
		r.Get("/tickets/my", h.MyTickets)
		r.Get("/gnpl/accounts/my", h.MyGnplAccounts)
		r.Post("/gnpl/accounts/{id}/payments", h.SubmitGnplPayment)
		r.Post("/media/presign", h.PresignMedia)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(cfg.JWTSecret))
		r.Use(middleware.AdminOnly(cfg.AdminTGIDs))
		r.Get("/receipts", h.ListAdminReceipts)
		r.Get("/receipts/{id}", h.GetAdminReceipt)
		r.Post("/receipts/{id}/approve", h.ApproveReceipt)
		r.Post("/receipts/{id}/reject", h.RejectReceipt)
		r.Post("/receipts/{id}/rollback", h.RollbackReceipt)
		r.Get("/trips", h.ListAdminTrips)
		r.Post("/trips", h.CreateTrip)
		r.Get("/trips/{id}", h.GetTrip)
		r.Post("/trips/{id}/status", h.SetTripStatus)
		r.Get("/vouchers", h.ListVouchers)
		r.Post("/vouchers", h.CreateVoucher)
		r.Post("/vouchers/{id}/deactivate", h.DeactivateVoucher)
		r.Get("/gnpl/accounts", h.ListAdminGnplAccounts)
		r.Get("/gnpl/accounts/{id}", h.GetAdminGnplAccount)
		r.Post("/gnpl/accounts/{id}/approve", h.ApproveGnplAccount)
		r.Post("/gnpl/accounts/{id}/reject", h.RejectGnplAccount)
		r.Get("/gnpl/payments", h.ListAdminGnplPayments)
		r.Post("/gnpl/payments/{id}/approve", h.ApproveGnplPayment)
		r.Post("/gnpl/payments/{id}/reject", h.RejectGnplPayment)
		r.Post("/tickets/redeem", h.RedeemTicket)
		r.Get("/stats", h.AdminStats)
		r.Get("/payment-events", h.ListPaymentEvents)
	})
	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
