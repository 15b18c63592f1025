package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/integrations"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/models"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/repository"
)

type statusUpdate struct {
	jobID     int64
	status    string
	attempts  int
	lastError string
	nextRun   *time.Time
}

type fakeJobStore struct {
	due     []models.NotificationJob
	updates []statusUpdate
}

func (f *fakeJobStore) FetchDueNotificationJobs(_ context.Context, limit int) ([]models.NotificationJob, error) {
	if len(f.due) > limit {
		out := f.due[:limit]
		f.due = f.due[limit:]
		return out, nil
	}
	out := f.due
	f.due = nil
	return out, nil
}

func (f *fakeJobStore) UpdateNotificationJobStatus(_ context.Context, jobID int64, status string, attempts int, lastError string, nextRun *time.Time) error {
	f.updates = append(f.updates, statusUpdate{jobID: jobID, status: status, attempts: attempts, lastError: lastError, nextRun: nextRun})
	return nil
}

type fakeSender struct {
	messages []string
	photos   []string
	err      error
}

func (f *fakeSender) SendMessage(_ context.Context, _ int64, text string, _ *integrations.ReplyMarkup) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, text)
	return nil
}

func (f *fakeSender) SendPhotoBytes(_ context.Context, _ int64, filename string, photo []byte, _ string) error {
	if len(photo) == 0 {
		return errors.New("empty photo")
	}
	f.photos = append(f.photos, filename)
	return nil
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestNotifier(store *fakeJobStore, s *fakeSender) *notifier {
	return &notifier{
		store:   store,
		sender:  s,
		baseURL: "https://trips.example.com/app",
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:     func() time.Time { return fixedNow },
	}
}

func ticketsIssuedJob() models.NotificationJob {
	// Payloads arrive decoded from JSONB, so nested values are generic.
	return models.NotificationJob{
		ID:         7,
		CustomerID: 3,
		TelegramID: 5001,
		Kind:       models.NotificationTicketsIssued,
		Payload: map[string]interface{}{
			"reference": "TRIP-ABC",
			"tickets": []interface{}{
				map[string]interface{}{"ticketId": "t1", "ticketNumber": "TK-000001", "qr": "token-1"},
				map[string]interface{}{"ticketId": "t2", "ticketNumber": "TK-000002", "qr": "token-2"},
				map[string]interface{}{"ticketId": "t3", "ticketNumber": "TK-000003", "qr": ""},
			},
		},
	}
}

func TestBuildNotification(t *testing.T) {
	t.Run("tickets issued", func(t *testing.T) {
		msg := buildNotification(ticketsIssuedJob(), "https://trips.example.com/app")
		if !strings.Contains(msg.Text, "TRIP-ABC") || !strings.Contains(msg.Text, "TK-000001, TK-000002, TK-000003") {
			t.Fatalf("unexpected text: %q", msg.Text)
		}
		if len(msg.Tickets) != 3 {
			t.Fatalf("expected ticket without qr to stay listed, got %d", len(msg.Tickets))
		}
		if msg.Tickets[2].QR != "" {
			t.Fatalf("unexpected qr for third ticket: %q", msg.Tickets[2].QR)
		}
		if msg.ButtonURL != "https://trips.example.com/app?view=tickets" {
			t.Fatalf("unexpected button url: %q", msg.ButtonURL)
		}
	})

	t.Run("gnpl approved", func(t *testing.T) {
		msg := buildNotification(models.NotificationJob{
			Kind: models.NotificationGnplApproved,
			Payload: map[string]interface{}{
				"approvedCents": float64(150050),
				"dueDate":       "2026-04-01T00:00:00Z",
			},
		}, "")
		if !strings.Contains(msg.Text, "ETB 1500.50") || !strings.Contains(msg.Text, "Due: 2026-04-01") {
			t.Fatalf("unexpected text: %q", msg.Text)
		}
	})

	t.Run("receipt rejected", func(t *testing.T) {
		msg := buildNotification(models.NotificationJob{
			Kind:    models.NotificationReceiptRejected,
			Payload: map[string]interface{}{"reference": "FT123", "reason": "amount mismatch"},
		}, "")
		if msg.Text != "Your payment receipt FT123 was rejected: amount mismatch" {
			t.Fatalf("unexpected text: %q", msg.Text)
		}
	})

	t.Run("gnpl payment with unknown status", func(t *testing.T) {
		msg := buildNotification(models.NotificationJob{
			Kind:    models.NotificationGnplPayment,
			Payload: map[string]interface{}{"status": "pending"},
		}, "")
		if msg.Text != "" {
			t.Fatalf("expected no message, got %q", msg.Text)
		}
	})

	t.Run("unknown kind", func(t *testing.T) {
		if msg := buildNotification(models.NotificationJob{Kind: "event_created"}, ""); msg.Text != "" {
			t.Fatalf("expected empty message, got %q", msg.Text)
		}
	})
}

func TestHandleJobSendsTicketsAndMarksSent(t *testing.T) {
	store := &fakeJobStore{due: []models.NotificationJob{ticketsIssuedJob()}}
	s := &fakeSender{}
	n := newTestNotifier(store, s)

	claimed, err := n.drain(context.Background(), 10)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if claimed != 1 {
		t.Fatalf("expected 1 claimed job, got %d", claimed)
	}
	if len(s.messages) != 1 || len(s.photos) != 2 {
		t.Fatalf("expected 1 message and 2 photos, got %d and %d", len(s.messages), len(s.photos))
	}
	if !strings.Contains(s.messages[0], "TK-000003") {
		t.Fatalf("ticket without qr missing from text: %q", s.messages[0])
	}
	if s.photos[0] != "ticket-tk-000001.png" {
		t.Fatalf("unexpected photo name: %q", s.photos[0])
	}
	if len(store.updates) != 1 || store.updates[0].status != repository.JobStatusSent {
		t.Fatalf("expected sent status, got %+v", store.updates)
	}
}

func TestHandleJobRetryPolicy(t *testing.T) {
	base := models.NotificationJob{
		ID:         1,
		TelegramID: 42,
		Kind:       models.NotificationGnplRejected,
		Payload:    map[string]interface{}{"reason": "missing id"},
	}

	cases := []struct {
		name       string
		job        func() models.NotificationJob
		sendErr    error
		wantStatus string
		wantDelay  time.Duration
	}{
		{
			name:       "transient error backs off",
			job:        func() models.NotificationJob { j := base; j.Attempts = 1; return j },
			sendErr:    errors.New("connection reset"),
			wantStatus: repository.JobStatusPending,
			wantDelay:  4 * time.Minute,
		},
		{
			name: "blocked bot fails permanently",
			job:  func() models.NotificationJob { return base },
			sendErr: &integrations.TelegramError{
				Method:     "sendMessage",
				StatusCode: http.StatusForbidden,
				Body:       "bot was blocked by the user",
			},
			wantStatus: repository.JobStatusFailed,
		},
		{
			name:       "last attempt fails",
			job:        func() models.NotificationJob { j := base; j.Attempts = maxDeliveryAttempts - 1; return j },
			sendErr:    errors.New("timeout"),
			wantStatus: repository.JobStatusFailed,
		},
		{
			name:       "missing telegram id",
			job:        func() models.NotificationJob { j := base; j.TelegramID = 0; return j },
			wantStatus: repository.JobStatusFailed,
		},
		{
			name:       "unknown kind",
			job:        func() models.NotificationJob { j := base; j.Kind = "joined"; return j },
			wantStatus: repository.JobStatusFailed,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &fakeJobStore{}
			n := newTestNotifier(store, &fakeSender{err: tc.sendErr})
			job := tc.job()
			if err := n.handleJob(context.Background(), job); err != nil {
				t.Fatalf("handle job: %v", err)
			}
			if len(store.updates) != 1 {
				t.Fatalf("expected one update, got %d", len(store.updates))
			}
			got := store.updates[0]
			if got.status != tc.wantStatus {
				t.Fatalf("expected status %s, got %s", tc.wantStatus, got.status)
			}
			if got.attempts != job.Attempts+1 {
				t.Fatalf("expected attempts %d, got %d", job.Attempts+1, got.attempts)
			}
			if tc.wantDelay > 0 {
				if got.nextRun == nil || !got.nextRun.Equal(fixedNow.Add(tc.wantDelay)) {
					t.Fatalf("expected next run %s, got %v", fixedNow.Add(tc.wantDelay), got.nextRun)
				}
			} else if got.nextRun != nil {
				t.Fatalf("expected no next run, got %s", got.nextRun)
			}
		})
	}
}
