package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/db"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/models"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/ticketing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

func openTestRepo(t *testing.T) (*Repository, *pgxpool.Pool) {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("db connection: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := db.Migrate(ctx, pool, slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(pool), pool
}

func seedTrip(t *testing.T, repo *Repository, pool *pgxpool.Pool, telegramID int64, seats int) (models.Customer, models.Trip) {
	t.Helper()
	ctx := context.Background()
	customer, err := repo.UpsertCustomer(ctx, models.Customer{TelegramID: telegramID, FirstName: "Test"})
	if err != nil {
		t.Fatalf("UpsertCustomer(): %v", err)
	}
	trip, err := repo.CreateTrip(ctx, 0, models.TripInput{Title: fmt.Sprintf("trip-%d", telegramID), PriceCents: 10000, TotalSeats: seats})
	if err != nil {
		t.Fatalf("CreateTrip(): %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(ctx, `DELETE FROM gnpl_accounts WHERE trip_id = $1::uuid`, trip.ID)
		_, _ = pool.Exec(ctx, `DELETE FROM receipts WHERE trip_id = $1::uuid`, trip.ID)
		_, _ = pool.Exec(ctx, `DELETE FROM booking_sessions WHERE trip_id = $1::uuid`, trip.ID)
		_, _ = pool.Exec(ctx, `DELETE FROM discount_vouchers WHERE trip_id = $1::uuid`, trip.ID)
		_, _ = pool.Exec(ctx, `DELETE FROM trips WHERE id = $1::uuid`, trip.ID)
		_, _ = pool.Exec(ctx, `DELETE FROM customers WHERE id = $1`, customer.ID)
	})
	return customer, trip
}

func availableSeats(t *testing.T, repo *Repository, tripID string) int {
	t.Helper()
	trip, err := repo.GetTrip(context.Background(), tripID)
	if err != nil {
		t.Fatalf("GetTrip(): %v", err)
	}
	return trip.AvailableSeats
}

func TestReserveSeatsNeverOversells(t *testing.T) {
	repo, pool := openTestRepo(t)
	_, trip := seedTrip(t, repo, pool, 880101, 5)

	var wg sync.WaitGroup
	var mu sync.Mutex
	reserved := 0
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.ReserveSeats(context.Background(), trip.ID, 1)
			if err == nil {
				mu.Lock()
				reserved++
				mu.Unlock()
				return
			}
			var short *ticketing.InsufficientSeats
			if !errors.As(err, &short) {
				t.Errorf("unexpected reserve error: %v", err)
			}
		}()
	}
	wg.Wait()

	if reserved != 5 {
		t.Fatalf("expected exactly 5 successful reservations, got %d", reserved)
	}
	if got := availableSeats(t, repo, trip.ID); got != 0 {
		t.Fatalf("expected 0 seats left, got %d", got)
	}
}

func TestReserveSeatsReportsAvailability(t *testing.T) {
	repo, pool := openTestRepo(t)
	_, trip := seedTrip(t, repo, pool, 880102, 5)

	err := repo.ReserveSeats(context.Background(), trip.ID, 6)
	var short *ticketing.InsufficientSeats
	if !errors.As(err, &short) {
		t.Fatalf("expected InsufficientSeats, got %v", err)
	}
	if short.Available != 5 || short.Requested != 6 {
		t.Fatalf("unexpected detail: %+v", short)
	}
	if got := availableSeats(t, repo, trip.ID); got != 5 {
		t.Fatalf("failed reservation changed seats: %d", got)
	}
}

func TestReleaseSeatsRejectsOverRelease(t *testing.T) {
	repo, pool := openTestRepo(t)
	_, trip := seedTrip(t, repo, pool, 880103, 3)
	ctx := context.Background()

	if err := repo.ReserveSeats(ctx, trip.ID, 2); err != nil {
		t.Fatalf("ReserveSeats(): %v", err)
	}
	if err := repo.ReleaseSeats(ctx, trip.ID, 2); err != nil {
		t.Fatalf("ReleaseSeats(): %v", err)
	}
	if err := repo.ReleaseSeats(ctx, trip.ID, 1); !errors.Is(err, ticketing.ErrSeatInvariant) {
		t.Fatalf("expected ErrSeatInvariant, got %v", err)
	}
	if got := availableSeats(t, repo, trip.ID); got != 3 {
		t.Fatalf("expected 3 seats, got %d", got)
	}
}

func TestApproveThenRollbackRestoresSeats(t *testing.T) {
	repo, pool := openTestRepo(t)
	customer, trip := seedTrip(t, repo, pool, 880104, 5)
	ctx := context.Background()

	if err := repo.ReserveSeats(ctx, trip.ID, 3); err != nil {
		t.Fatalf("ReserveSeats(): %v", err)
	}
	receipt, err := repo.CreateReceipt(ctx, models.NewReceiptParams{
		ReferenceNumber: "MAN-TEST-880104",
		CustomerID:      customer.ID,
		TripID:          trip.ID,
		Quantity:        3,
		PaymentMethod:   models.PaymentMethodBank,
		Pricing:         models.PricingSnapshot{BaseCents: 30000, FinalCents: 30000},
		AmountPaidCents: 30000,
		ApprovalStatus:  models.ApprovalStatusApproved,
	})
	if err != nil {
		t.Fatalf("CreateReceipt(): %v", err)
	}
	tickets, err := repo.CreateTickets(ctx, receipt, 3, models.TicketStatusConfirmed)
	if err != nil || len(tickets) != 3 {
		t.Fatalf("CreateTickets(): %d %v", len(tickets), err)
	}
	if got := availableSeats(t, repo, trip.ID); got != 2 {
		t.Fatalf("expected 2 seats after approval, got %d", got)
	}

	planner := func(d models.ReceiptDetail) (ticketing.DecisionPlan, error) {
		return ticketing.PlanRollback(d.ApprovalStatus, batchOf(d), tickets[1].TicketNumber)
	}

	// A used ticket blocks the rollback and nothing moves.
	if _, err := pool.Exec(ctx, `UPDATE tickets SET ticket_status = 'used' WHERE id = $1::uuid`, tickets[0].ID); err != nil {
		t.Fatalf("mark used: %v", err)
	}
	if _, _, err := repo.RollbackReceipt(ctx, receipt.ID, 1, "", planner); !errors.Is(err, ticketing.ErrTicketsUsed) {
		t.Fatalf("expected ErrTicketsUsed, got %v", err)
	}
	if got := availableSeats(t, repo, trip.ID); got != 2 {
		t.Fatalf("blocked rollback changed seats: %d", got)
	}
	if _, err := pool.Exec(ctx, `UPDATE tickets SET ticket_status = 'confirmed' WHERE id = $1::uuid`, tickets[0].ID); err != nil {
		t.Fatalf("unmark used: %v", err)
	}

	detail, plan, err := repo.RollbackReceipt(ctx, receipt.ID, 1, "customer asked", planner)
	if err != nil {
		t.Fatalf("RollbackReceipt(): %v", err)
	}
	if plan.ReleaseSeats != 3 {
		t.Fatalf("expected 3 seats released, got %d", plan.ReleaseSeats)
	}
	if detail.ApprovalStatus != models.ApprovalStatusPending {
		t.Fatalf("expected pending receipt, got %s", detail.ApprovalStatus)
	}
	for _, tk := range detail.Tickets {
		if tk.Status != models.TicketStatusPending {
			t.Fatalf("expected pending ticket, got %s", tk.Status)
		}
	}
	if got := availableSeats(t, repo, trip.ID); got != 5 {
		t.Fatalf("expected 5 seats after rollback, got %d", got)
	}
}

func TestTicketsOnlyForApprovedReceipts(t *testing.T) {
	repo, pool := openTestRepo(t)
	customer, trip := seedTrip(t, repo, pool, 880107, 5)
	ctx := context.Background()

	receipt, err := repo.CreateReceipt(ctx, models.NewReceiptParams{
		ReferenceNumber: "MAN-TEST-880107",
		CustomerID:      customer.ID,
		TripID:          trip.ID,
		Quantity:        2,
		PaymentMethod:   models.PaymentMethodBank,
		Pricing:         models.PricingSnapshot{BaseCents: 20000, FinalCents: 20000},
		ApprovalStatus:  models.ApprovalStatusApproved,
	})
	if err != nil {
		t.Fatalf("CreateReceipt(): %v", err)
	}
	tickets, err := repo.CreateTickets(ctx, receipt, 2, models.TicketStatusPending)
	if err != nil {
		t.Fatalf("CreateTickets(): %v", err)
	}
	ids := []string{tickets[0].ID, tickets[1].ID}

	if err := repo.TransitionReceipt(ctx, receipt.ID, models.ApprovalStatusApproved, models.ApprovalStatusRejected, nil, "fake"); err != nil {
		t.Fatalf("TransitionReceipt(): %v", err)
	}
	if _, err := repo.CreateTickets(ctx, receipt, 2, models.TicketStatusConfirmed); !errors.Is(err, ErrReceiptStateNotAllowed) {
		t.Fatalf("CreateTickets(rejected) error = %v, want ErrReceiptStateNotAllowed", err)
	}
	if _, err := repo.ConfirmReceiptTickets(ctx, receipt.ID, ids); !errors.Is(err, ErrReceiptStateNotAllowed) {
		t.Fatalf("ConfirmReceiptTickets(rejected) error = %v, want ErrReceiptStateNotAllowed", err)
	}
	detail, err := repo.GetReceipt(ctx, receipt.ID)
	if err != nil {
		t.Fatalf("GetReceipt(): %v", err)
	}
	if len(detail.Tickets) != 2 {
		t.Fatalf("expected 2 tickets, got %d", len(detail.Tickets))
	}
	for _, tk := range detail.Tickets {
		if tk.Status != models.TicketStatusPending {
			t.Fatalf("ticket %s status = %s, want pending", tk.TicketNumber, tk.Status)
		}
	}
}

func TestReceiptReferencePrefixAndDuplicate(t *testing.T) {
	repo, pool := openTestRepo(t)
	customer, trip := seedTrip(t, repo, pool, 880105, 2)
	ctx := context.Background()

	params := models.NewReceiptParams{
		ReferenceNumber: "TRP-880105_A%-1",
		CustomerID:      customer.ID,
		TripID:          trip.ID,
		Quantity:        1,
		PaymentMethod:   models.PaymentMethodTelebirrAuto,
		Pricing:         models.PricingSnapshot{BaseCents: 10000, FinalCents: 10000},
		ApprovalStatus:  models.ApprovalStatusApproved,
	}
	if _, err := repo.CreateReceipt(ctx, params); err != nil {
		t.Fatalf("CreateReceipt(): %v", err)
	}
	if _, err := repo.CreateReceipt(ctx, params); !errors.Is(err, ErrDuplicateReference) {
		t.Fatalf("expected ErrDuplicateReference, got %v", err)
	}
	if _, err := repo.FindReceiptByReferencePrefix(ctx, "TRP-880105_A%"); err != nil {
		t.Fatalf("prefix lookup: %v", err)
	}
	if _, err := repo.FindReceiptByReferencePrefix(ctx, "TRP-880105%"); !errors.Is(err, ErrReceiptNotFound) {
		t.Fatalf("wildcards must be escaped, got %v", err)
	}

	manual := params
	manual.ReferenceNumber = "880105990011"
	manual.PaymentMethod = models.PaymentMethodBank
	manual.ApprovalStatus = models.ApprovalStatusPending
	if _, err := repo.CreateReceipt(ctx, manual); err != nil {
		t.Fatalf("CreateReceipt(manual): %v", err)
	}
	if _, err := repo.FindReceiptByReferencePrefix(ctx, "88010599"); !errors.Is(err, ErrReceiptNotFound) {
		t.Fatalf("manual references must not match, got %v", err)
	}
}

func TestCountVoucherUseOncePerReceipt(t *testing.T) {
	repo, pool := openTestRepo(t)
	customer, trip := seedTrip(t, repo, pool, 880106, 5)
	ctx := context.Background()

	voucher, err := repo.CreateVoucher(ctx, 0, models.VoucherInput{Code: "try-880106", MaxUses: 1, TripID: &trip.ID}, decimal.NewFromInt(10))
	if err != nil {
		t.Fatalf("CreateVoucher(): %v", err)
	}
	newReceipt := func(ref string) models.Receipt {
		receipt, err := repo.CreateReceipt(ctx, models.NewReceiptParams{
			ReferenceNumber: ref,
			CustomerID:      customer.ID,
			TripID:          trip.ID,
			Quantity:        1,
			PaymentMethod:   models.PaymentMethodBank,
			Pricing:         models.PricingSnapshot{BaseCents: 10000, DiscountCents: 1000, FinalCents: 9000, VoucherID: &voucher.ID},
			ApprovalStatus:  models.ApprovalStatusApproved,
		})
		if err != nil {
			t.Fatalf("CreateReceipt(): %v", err)
		}
		return receipt
	}

	first := newReceipt("MAN-880106-1")
	if counted, err := repo.CountVoucherUse(ctx, first.ID); err != nil || !counted {
		t.Fatalf("first count: counted=%v err=%v", counted, err)
	}
	if counted, err := repo.CountVoucherUse(ctx, first.ID); err != nil || counted {
		t.Fatalf("repeat count must be a no-op: counted=%v err=%v", counted, err)
	}
	second := newReceipt("MAN-880106-2")
	if _, err := repo.CountVoucherUse(ctx, second.ID); !errors.Is(err, ErrVoucherExhausted) {
		t.Fatalf("expected ErrVoucherExhausted, got %v", err)
	}
	got, err := repo.GetVoucherByCode(ctx, "TRY 880106")
	if err != nil {
		t.Fatalf("GetVoucherByCode(): %v", err)
	}
	if got.CurrentUses != 1 {
		t.Fatalf("expected current_uses=1, got %d", got.CurrentUses)
	}
}

func TestAccrueDuePenaltiesIsIdempotent(t *testing.T) {
	repo, pool := openTestRepo(t)
	customer, trip := seedTrip(t, repo, pool, 880107, 5)
	ctx := context.Background()

	session, _, err := repo.StartSession(ctx, models.NewSessionParams{
		CustomerID:    customer.ID,
		TripID:        trip.ID,
		Quantity:      1,
		PaymentMethod: models.PaymentMethodGnpl,
		Status:        models.SessionStatusAwaitingGnplApproval,
		Pricing:       models.PricingSnapshot{BaseCents: 100000, FinalCents: 100000},
	})
	if err != nil {
		t.Fatalf("StartSession(): %v", err)
	}
	acct, err := repo.CreateGnplAccount(ctx, models.NewGnplAccountParams{
		CustomerID:        customer.ID,
		TripID:            trip.ID,
		SessionID:         session.ID,
		Quantity:          1,
		Phone:             "+251911000000",
		IDDocumentKey:     "gnpl/id.jpg",
		RequestedCents:    100000,
		TermDays:          0,
		PenaltyPercent:    decimal.NewFromInt(5),
		PenaltyPeriodDays: 7,
	})
	if err != nil {
		t.Fatalf("CreateGnplAccount(): %v", err)
	}
	approvedAt := time.Now().UTC().Add(-10 * 24 * time.Hour)
	if _, err := repo.ApproveGnplAccount(ctx, acct.ID, 1, 100000, "", approvedAt); err != nil {
		t.Fatalf("ApproveGnplAccount(): %v", err)
	}

	now := time.Now().UTC()
	accrue := func(a models.GnplAccount) PenaltyUpdate {
		b := ticketing.DeriveBalances(ticketing.Ledger{ApprovedCents: a.ApprovedCents, PrincipalPaidCents: a.PrincipalPaidCents, PenaltyAccruedCents: a.PenaltyAccruedCents, PenaltyPaidCents: a.PenaltyPaidCents})
		res := ticketing.AccruePenalty(ticketing.PenaltyInput{Balances: b, Percent: a.PenaltyPercent, Period: 7 * 24 * time.Hour, NextPenaltyAt: a.NextPenaltyAt, Now: now})
		return PenaltyUpdate{PenaltyCents: res.PenaltyCents, NextPenaltyAt: res.NextPenaltyAt, Status: models.GnplStatusOverdue}
	}
	if _, err := repo.AccrueDuePenalties(ctx, now, 100, accrue); err != nil {
		t.Fatalf("AccrueDuePenalties(): %v", err)
	}
	if _, err := repo.AccrueDuePenalties(ctx, now, 100, accrue); err != nil {
		t.Fatalf("AccrueDuePenalties() rerun: %v", err)
	}
	got, err := repo.GetGnplAccount(ctx, acct.ID)
	if err != nil {
		t.Fatalf("GetGnplAccount(): %v", err)
	}
	if got.PenaltyAccruedCents != 10000 {
		t.Fatalf("expected penalty 10000 after two runs, got %d", got.PenaltyAccruedCents)
	}
}

func batchOf(d models.ReceiptDetail) []ticketing.BatchTicket {
	out := make([]ticketing.BatchTicket, 0, len(d.Tickets))
	for _, t := range d.Tickets {
		out = append(out, ticketing.BatchTicket{ID: t.ID, TicketNumber: t.TicketNumber, Status: t.Status})
	}
	return out
}
