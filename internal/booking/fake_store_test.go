package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/models"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/repository"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/ticketing"
)

// memStore is an in-memory Store with the same conditional semantics as
// the Postgres repository. failOn injects an error into a named method.
type memStore struct {
	mu sync.Mutex

	seq      int
	serial   int64
	trips    map[string]*models.Trip
	vouchers map[string]*models.DiscountVoucher
	sessions map[string]*models.BookingSession
	receipts map[string]*models.Receipt
	tickets  map[string]*models.Ticket
	accounts map[string]*models.GnplAccount
	payments map[string]*models.GnplPayment
	jobs     []string
	events   []models.PaymentEvent

	failOn map[string]error
	clock  func() time.Time

	// beforeTickets runs ahead of ticket issuance, outside the lock.
	beforeTickets func(receiptID string)
}

func newMemStore() *memStore {
	return &memStore{
		trips:    map[string]*models.Trip{},
		vouchers: map[string]*models.DiscountVoucher{},
		sessions: map[string]*models.BookingSession{},
		receipts: map[string]*models.Receipt{},
		tickets:  map[string]*models.Ticket{},
		accounts: map[string]*models.GnplAccount{},
		payments: map[string]*models.GnplPayment{},
		failOn:   map[string]error{},
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%04d", prefix, m.seq)
}

func (m *memStore) fail(name string) error {
	return m.failOn[name]
}

func (m *memStore) addTrip(price int64, seats int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID("trip")
	m.trips[id] = &models.Trip{ID: id, Title: "Lalibela", PriceCents: price, TotalSeats: seats, AvailableSeats: seats, Status: models.TripStatusActive}
	return id
}

func (m *memStore) seats(tripID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trips[tripID].AvailableSeats
}

func (m *memStore) GetTrip(_ context.Context, tripID string) (models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[tripID]
	if !ok {
		return models.Trip{}, repository.ErrTripNotFound
	}
	return *t, nil
}

func (m *memStore) ReserveSeats(_ context.Context, tripID string, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ReserveSeats"); err != nil {
		return err
	}
	t, ok := m.trips[tripID]
	if !ok {
		return repository.ErrTripNotFound
	}
	if t.AvailableSeats < quantity {
		return &ticketing.InsufficientSeats{TripID: tripID, Available: t.AvailableSeats, Requested: quantity}
	}
	t.AvailableSeats -= quantity
	return nil
}

func (m *memStore) ReleaseSeats(_ context.Context, tripID string, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseLocked(tripID, quantity)
}

func (m *memStore) releaseLocked(tripID string, quantity int) error {
	if quantity <= 0 {
		return nil
	}
	t, ok := m.trips[tripID]
	if !ok {
		return repository.ErrTripNotFound
	}
	if t.AvailableSeats+quantity > t.TotalSeats {
		return ticketing.ErrSeatInvariant
	}
	t.AvailableSeats += quantity
	return nil
}

func (m *memStore) GetVoucherByCode(_ context.Context, code string) (models.DiscountVoucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.vouchers {
		if ticketing.NormalizeVoucherCode(v.Code) == ticketing.NormalizeVoucherCode(code) {
			return *v, nil
		}
	}
	return models.DiscountVoucher{}, repository.ErrVoucherNotFound
}

func (m *memStore) GetVoucherByID(_ context.Context, id string) (models.DiscountVoucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vouchers[id]
	if !ok {
		return models.DiscountVoucher{}, repository.ErrVoucherNotFound
	}
	return *v, nil
}

func (m *memStore) CountVoucherUse(_ context.Context, receiptID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.receipts[receiptID]
	if !ok || r.VoucherID == nil || r.VoucherCounted {
		return false, nil
	}
	v := m.vouchers[*r.VoucherID]
	if v == nil || v.CurrentUses >= v.MaxUses {
		return false, repository.ErrVoucherExhausted
	}
	v.CurrentUses++
	r.VoucherCounted = true
	return true, nil
}

func (m *memStore) StartSession(_ context.Context, p models.NewSessionParams) (models.BookingSession, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.CustomerID == p.CustomerID && ticketing.IsOpenSession(s.Status) && m.pendingReceiptLocked(s.ID) != nil {
			return models.BookingSession{}, nil, repository.ErrReceiptUnderReview
		}
	}
	var superseded []string
	for _, s := range m.sessions {
		if s.CustomerID == p.CustomerID && ticketing.IsOpenSession(s.Status) {
			s.Status = models.SessionStatusCancelled
			s.CancelReason = repository.CancelReasonSuperseded
			superseded = append(superseded, s.ID)
		}
	}
	for _, a := range m.accounts {
		if a.SessionID != nil && a.Status == models.GnplStatusPendingApproval && contains(superseded, *a.SessionID) {
			a.Status = models.GnplStatusCancelled
		}
	}
	id := m.nextID("sess")
	s := &models.BookingSession{
		ID:            id,
		CustomerID:    p.CustomerID,
		TripID:        p.TripID,
		Quantity:      p.Quantity,
		PaymentMethod: p.PaymentMethod,
		Status:        p.Status,
		Pricing:       p.Pricing,
		CreatedAt:     m.clock(),
	}
	m.sessions[id] = s
	return *s, superseded, nil
}

func (m *memStore) GetSession(_ context.Context, id string) (models.BookingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return models.BookingSession{}, repository.ErrSessionNotFound
	}
	return *s, nil
}

func (m *memStore) FindOpenAutoSession(_ context.Context, customerID int64, tripID string) (models.BookingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.CustomerID == customerID && s.TripID == tripID && s.Status == models.SessionStatusAwaitingAutoPayment {
			return *s, nil
		}
	}
	return models.BookingSession{}, repository.ErrSessionNotFound
}

func (m *memStore) SetSessionCheckout(_ context.Context, id, reference, checkoutURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.Status != models.SessionStatusAwaitingAutoPayment {
		return repository.ErrSessionStateNotAllowed
	}
	s.GatewayReference = reference
	s.CheckoutURL = checkoutURL
	return nil
}

func (m *memStore) CompleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return repository.ErrSessionNotFound
	}
	if s.Status == models.SessionStatusCompleted {
		return nil
	}
	if !ticketing.IsOpenSession(s.Status) {
		return repository.ErrSessionStateNotAllowed
	}
	s.Status = models.SessionStatusCompleted
	return nil
}

func (m *memStore) CancelSession(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || !ticketing.IsOpenSession(s.Status) {
		return repository.ErrSessionStateNotAllowed
	}
	s.Status = models.SessionStatusCancelled
	s.CancelReason = reason
	return nil
}

func (m *memStore) CancelStaleSessions(_ context.Context, cutoff time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range m.sessions {
		if len(out) >= limit {
			break
		}
		if !ticketing.IsOpenSession(s.Status) || !s.CreatedAt.Before(cutoff) {
			continue
		}
		if m.pendingReceiptLocked(s.ID) != nil {
			continue
		}
		s.Status = models.SessionStatusCancelled
		s.CancelReason = repository.CancelReasonExpired
		out = append(out, s.ID)
	}
	return out, nil
}

func (m *memStore) FindReceiptByReferencePrefix(_ context.Context, prefix string) (models.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.receipts {
		if r.PaymentMethod == models.PaymentMethodBank || r.PaymentMethod == models.PaymentMethodTelebirr {
			continue
		}
		if strings.HasPrefix(r.ReferenceNumber, prefix) {
			return *r, nil
		}
	}
	return models.Receipt{}, repository.ErrReceiptNotFound
}

func (m *memStore) CreateReceipt(_ context.Context, p models.NewReceiptParams) (models.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateReceipt"); err != nil {
		return models.Receipt{}, err
	}
	for _, r := range m.receipts {
		if r.ReferenceNumber == p.ReferenceNumber {
			return models.Receipt{}, repository.ErrDuplicateReference
		}
	}
	r := &models.Receipt{
		ID:              m.nextID("rcpt"),
		ReferenceNumber: p.ReferenceNumber,
		PayerReference:  p.PayerReference,
		SessionID:       p.SessionID,
		CustomerID:      p.CustomerID,
		TripID:          p.TripID,
		Quantity:        p.Quantity,
		PaymentMethod:   p.PaymentMethod,
		BaseCents:       p.Pricing.BaseCents,
		DiscountCents:   p.Pricing.DiscountCents,
		FinalCents:      p.Pricing.FinalCents,
		AmountPaidCents: p.AmountPaidCents,
		VoucherID:       p.Pricing.VoucherID,
		ApprovalStatus:  p.ApprovalStatus,
		ApprovedBy:      p.ApprovedBy,
		EvidenceKey:     p.EvidenceKey,
	}
	m.receipts[r.ID] = r
	return *r, nil
}

func (m *memStore) GetReceipt(_ context.Context, id string) (models.ReceiptDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.detailLocked(id)
}

func (m *memStore) detailLocked(id string) (models.ReceiptDetail, error) {
	r, ok := m.receipts[id]
	if !ok {
		return models.ReceiptDetail{}, repository.ErrReceiptNotFound
	}
	d := models.ReceiptDetail{Receipt: *r}
	for _, t := range m.tickets {
		if t.ReceiptID == id {
			d.Tickets = append(d.Tickets, *t)
		}
	}
	sort.Slice(d.Tickets, func(i, j int) bool { return d.Tickets[i].SerialNumber < d.Tickets[j].SerialNumber })
	return d, nil
}

func (m *memStore) PendingReceiptForSession(_ context.Context, sessionID string) (models.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r := m.pendingReceiptLocked(sessionID); r != nil {
		return *r, nil
	}
	return models.Receipt{}, repository.ErrReceiptNotFound
}

func (m *memStore) pendingReceiptLocked(sessionID string) *models.Receipt {
	for _, r := range m.receipts {
		if r.SessionID != nil && *r.SessionID == sessionID && r.ApprovalStatus == models.ApprovalStatusPending {
			return r
		}
	}
	return nil
}

func (m *memStore) TransitionReceipt(_ context.Context, id, from, to string, actor *int64, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("TransitionReceipt"); err != nil {
		return err
	}
	r, ok := m.receipts[id]
	if !ok || r.ApprovalStatus != from {
		return repository.ErrReceiptStateNotAllowed
	}
	r.ApprovalStatus = to
	if actor != nil {
		r.ApprovedBy = actor
	}
	if to == models.ApprovalStatusRejected {
		r.RejectionReason = note
	} else {
		r.DecisionNotes = note
	}
	return nil
}

func (m *memStore) approvedLocked(receiptID string) error {
	r, ok := m.receipts[receiptID]
	if !ok {
		return repository.ErrReceiptNotFound
	}
	if r.ApprovalStatus != models.ApprovalStatusApproved {
		return repository.ErrReceiptStateNotAllowed
	}
	return nil
}

func (m *memStore) CreateTickets(_ context.Context, receipt models.Receipt, count int, status string) ([]models.Ticket, error) {
	if m.beforeTickets != nil {
		m.beforeTickets(receipt.ID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateTickets"); err != nil {
		return nil, err
	}
	if err := m.approvedLocked(receipt.ID); err != nil {
		return nil, err
	}
	out := make([]models.Ticket, 0, count)
	for i := 0; i < count; i++ {
		m.serial++
		t := &models.Ticket{
			ID:           m.nextID("tkt"),
			ReceiptID:    receipt.ID,
			TripID:       receipt.TripID,
			CustomerID:   receipt.CustomerID,
			SerialNumber: m.serial,
			TicketNumber: ticketing.FormatTicketNumber(m.serial),
			Status:       status,
		}
		m.tickets[t.ID] = t
		out = append(out, *t)
	}
	return out, nil
}

func (m *memStore) ConfirmReceiptTickets(_ context.Context, receiptID string, ids []string) (int, error) {
	if m.beforeTickets != nil {
		m.beforeTickets(receiptID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.approvedLocked(receiptID); err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if t, ok := m.tickets[id]; ok && t.ReceiptID == receiptID && t.Status == models.TicketStatusPending {
			t.Status = models.TicketStatusConfirmed
			n++
		}
	}
	return n, nil
}

func (m *memStore) SetTicketStatuses(_ context.Context, ids []string, from, to string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range ids {
		if t, ok := m.tickets[id]; ok && t.Status == from {
			t.Status = to
			n++
		}
	}
	return n, nil
}

func (m *memStore) SetTicketQR(_ context.Context, ticketID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[ticketID]
	if !ok {
		return repository.ErrTicketNotFound
	}
	t.QRPayload = token
	return nil
}

func (m *memStore) useTicket(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickets[id].Status = models.TicketStatusUsed
}

func (m *memStore) RollbackReceipt(_ context.Context, id string, actor int64, notes string, plan repository.DecisionPlanner) (models.ReceiptDetail, ticketing.DecisionPlan, error) {
	return m.applyDecision(id, actor, notes, plan)
}

func (m *memStore) RejectReceipt(_ context.Context, id string, actor int64, reason string, plan repository.DecisionPlanner) (models.ReceiptDetail, ticketing.DecisionPlan, error) {
	return m.applyDecision(id, actor, reason, plan)
}

func (m *memStore) applyDecision(id string, actor int64, note string, planner repository.DecisionPlanner) (models.ReceiptDetail, ticketing.DecisionPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	detail, err := m.detailLocked(id)
	if err != nil {
		return models.ReceiptDetail{}, ticketing.DecisionPlan{}, err
	}
	plan, err := planner(detail)
	if err != nil {
		return models.ReceiptDetail{}, ticketing.DecisionPlan{}, err
	}
	// Check the release first so a failure leaves nothing half-applied.
	trip := m.trips[detail.TripID]
	if trip.AvailableSeats+plan.ReleaseSeats > trip.TotalSeats {
		return models.ReceiptDetail{}, ticketing.DecisionPlan{}, ticketing.ErrSeatInvariant
	}
	for _, tid := range plan.TicketIDs {
		m.tickets[tid].Status = plan.TicketStatus
	}
	trip.AvailableSeats += plan.ReleaseSeats
	r := m.receipts[id]
	r.ApprovalStatus = plan.ReceiptStatus
	if plan.ReceiptStatus == models.ApprovalStatusPending {
		r.ApprovedBy = nil
		r.DecisionNotes = note
	} else {
		r.ApprovedBy = &actor
		r.RejectionReason = note
		if r.SessionID != nil {
			if s := m.sessions[*r.SessionID]; s != nil && ticketing.IsOpenSession(s.Status) {
				s.Status = models.SessionStatusCancelled
				s.CancelReason = repository.CancelReasonRejected
			}
		}
	}
	out, _ := m.detailLocked(id)
	return out, plan, nil
}

func (m *memStore) CreateGnplAccount(_ context.Context, p models.NewGnplAccountParams) (models.GnplAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sessionID := p.SessionID
	a := &models.GnplAccount{
		ID:                m.nextID("gnpl"),
		CustomerID:        p.CustomerID,
		TripID:            p.TripID,
		SessionID:         &sessionID,
		Quantity:          p.Quantity,
		Status:            models.GnplStatusPendingApproval,
		Phone:             p.Phone,
		IDDocumentKey:     p.IDDocumentKey,
		RequestedCents:    p.RequestedCents,
		TermDays:          p.TermDays,
		PenaltyPercent:    p.PenaltyPercent,
		PenaltyPeriodDays: p.PenaltyPeriodDays,
	}
	m.accounts[a.ID] = a
	return *a, nil
}

func (m *memStore) GetGnplAccount(_ context.Context, id string) (models.GnplAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return models.GnplAccount{}, repository.ErrGnplAccountNotFound
	}
	return *a, nil
}

func (m *memStore) ListGnplAccounts(_ context.Context, customerID int64, status string, _, _ int) ([]models.GnplAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.GnplAccount
	for _, a := range m.accounts {
		if (customerID == 0 || a.CustomerID == customerID) && (status == "" || a.Status == status) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memStore) ApproveGnplAccount(_ context.Context, id string, actor int64, approvedCents int64, receiptID string, now time.Time) (models.GnplAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ApproveGnplAccount"); err != nil {
		return models.GnplAccount{}, err
	}
	a, ok := m.accounts[id]
	if !ok {
		return models.GnplAccount{}, repository.ErrGnplAccountNotFound
	}
	if a.Status != models.GnplStatusPendingApproval {
		return models.GnplAccount{}, repository.ErrGnplStateNotAllowed
	}
	due := now.Add(time.Duration(a.TermDays) * 24 * time.Hour)
	a.Status = models.GnplStatusApproved
	a.ApprovedCents = approvedCents
	a.ApprovedBy = &actor
	a.ApprovedAt = &now
	a.DueDate = &due
	next := due
	a.NextPenaltyAt = &next
	if receiptID != "" {
		a.ReceiptID = &receiptID
	}
	return *a, nil
}

func (m *memStore) RejectGnplAccount(_ context.Context, id string, _ int64, reason string) (models.GnplAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok || a.Status != models.GnplStatusPendingApproval {
		return models.GnplAccount{}, repository.ErrGnplStateNotAllowed
	}
	a.Status = models.GnplStatusRejected
	a.RejectionReason = reason
	return *a, nil
}

func (m *memStore) SetGnplStatus(_ context.Context, id, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok || a.Status != from {
		return repository.ErrGnplStateNotAllowed
	}
	a.Status = to
	return nil
}

func (m *memStore) SubmitGnplPayment(_ context.Context, accountID string, customerID int64, amountCents int64, reference, evidenceKey string) (models.GnplPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok || a.CustomerID != customerID {
		return models.GnplPayment{}, repository.ErrGnplAccountNotFound
	}
	if a.Status != models.GnplStatusApproved && a.Status != models.GnplStatusOverdue {
		return models.GnplPayment{}, repository.ErrGnplStateNotAllowed
	}
	p := &models.GnplPayment{ID: m.nextID("pay"), AccountID: accountID, AmountCents: amountCents, Status: models.GnplPaymentPending, Reference: reference, EvidenceKey: evidenceKey}
	m.payments[p.ID] = p
	return *p, nil
}

func (m *memStore) ApproveGnplPayment(_ context.Context, paymentID string, actor int64, decide func(models.GnplAccount, models.GnplPayment) (repository.GnplPaymentDecision, error)) (models.GnplPayment, models.GnplAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok || p.Status != models.GnplPaymentPending {
		return models.GnplPayment{}, models.GnplAccount{}, repository.ErrGnplPaymentNotFound
	}
	a := m.accounts[p.AccountID]
	d, err := decide(*a, *p)
	if err != nil {
		return models.GnplPayment{}, models.GnplAccount{}, err
	}
	a.PenaltyPaidCents += d.Allocation.PenaltyCents
	a.PrincipalPaidCents += d.Allocation.PrincipalCents
	a.Status = d.Status
	p.Status = models.GnplPaymentApproved
	p.PenaltyAppliedCents = d.Allocation.PenaltyCents
	p.PrincipalAppliedCents = d.Allocation.PrincipalCents
	p.UnappliedCents = d.Allocation.UnappliedCents
	p.DecidedBy = &actor
	return *p, *a, nil
}

func (m *memStore) RejectGnplPayment(_ context.Context, paymentID string, actor int64, reason string) (models.GnplPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok || p.Status != models.GnplPaymentPending {
		return models.GnplPayment{}, repository.ErrGnplPaymentNotFound
	}
	p.Status = models.GnplPaymentRejected
	p.RejectionReason = reason
	p.DecidedBy = &actor
	return *p, nil
}

func (m *memStore) AccrueDuePenalties(_ context.Context, now time.Time, limit int, accrue func(models.GnplAccount) repository.PenaltyUpdate) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.accounts {
		if n >= limit {
			break
		}
		if a.Status != models.GnplStatusApproved && a.Status != models.GnplStatusOverdue {
			continue
		}
		if a.NextPenaltyAt == nil || a.NextPenaltyAt.After(now) {
			continue
		}
		u := accrue(*a)
		a.PenaltyAccruedCents += u.PenaltyCents
		next := u.NextPenaltyAt
		a.NextPenaltyAt = &next
		a.Status = u.Status
		if u.PenaltyCents > 0 {
			n++
		}
	}
	return n, nil
}

func (m *memStore) EnqueueNotification(_ context.Context, customerID int64, kind string, _ map[string]interface{}) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, kind)
	return int64(len(m.jobs)), nil
}

func (m *memStore) RecordPaymentEvent(_ context.Context, ev models.PaymentEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memStore) receiptCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.receipts)
}

func (m *memStore) ticketsOf(receiptID string) []models.Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, _ := m.detailLocked(receiptID)
	return d.Tickets
}

func contains(items []string, v string) bool {
	for _, item := range items {
		if item == v {
			return true
		}
	}
	return false
}

type fakeGateway struct {
	err   error
	calls int
}

func (g *fakeGateway) InitiatePayment(_ context.Context, reference string, _ int64, _ string) (string, error) {
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	return "https://pay.example.test/checkout/" + reference, nil
}

var errInjected = errors.New("injected failure")
