package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/integrations"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/models"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/repository"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/ticketing"

	"github.com/shopspring/decimal"
)

const (
	maxDeliveryAttempts = 5
	qrImageSize         = 512
)

type jobStore interface {
	FetchDueNotificationJobs(ctx context.Context, limit int) ([]models.NotificationJob, error)
	UpdateNotificationJobStatus(ctx context.Context, jobID int64, status string, attempts int, lastError string, nextRun *time.Time) error
}

type sender interface {
	SendMessage(ctx context.Context, chatID int64, text string, markup *integrations.ReplyMarkup) error
	SendPhotoBytes(ctx context.Context, chatID int64, filename string, photo []byte, caption string) error
}

type notifier struct {
	store   jobStore
	sender  sender
	baseURL string
	logger  *slog.Logger
	now     func() time.Time
}

// drain delivers one batch and reports how many jobs it claimed.
func (n *notifier) drain(ctx context.Context, limit int) (int, error) {
	jobs, err := n.store.FetchDueNotificationJobs(ctx, limit)
	if err != nil {
		return 0, err
	}
	for _, job := range jobs {
		if err := n.handleJob(ctx, job); err != nil {
			n.logger.Error("job_failed", "job_id", job.ID, "kind", job.Kind, "error", err)
		}
	}
	return len(jobs), nil
}

func (n *notifier) handleJob(ctx context.Context, job models.NotificationJob) error {
	logger := n.logger.With("job_id", job.ID, "kind", job.Kind, "customer_id", job.CustomerID)
	logger.Info("job_processing", "attempts", job.Attempts, "run_at", job.RunAt)
	if job.TelegramID == 0 {
		return n.store.UpdateNotificationJobStatus(ctx, job.ID, repository.JobStatusFailed, job.Attempts+1, "missing telegram id", nil)
	}

	message := buildNotification(job, n.baseURL)
	if message.Text == "" {
		return n.store.UpdateNotificationJobStatus(ctx, job.ID, repository.JobStatusFailed, job.Attempts+1, "unknown job kind", nil)
	}

	if err := n.send(ctx, job.TelegramID, message); err != nil {
		attempts := job.Attempts + 1
		var tgErr *integrations.TelegramError
		if attempts >= maxDeliveryAttempts || (errors.As(err, &tgErr) && tgErr.Permanent()) {
			logger.Warn("job_give_up", "attempts", attempts, "error", err)
			return n.store.UpdateNotificationJobStatus(ctx, job.ID, repository.JobStatusFailed, attempts, err.Error(), nil)
		}
		nextRun := n.now().Add(retryDelay(attempts))
		return n.store.UpdateNotificationJobStatus(ctx, job.ID, repository.JobStatusPending, attempts, err.Error(), &nextRun)
	}

	if err := n.store.UpdateNotificationJobStatus(ctx, job.ID, repository.JobStatusSent, job.Attempts, "", nil); err != nil {
		return err
	}
	logger.Info("job_sent", "tickets", len(message.Tickets))
	return nil
}

func (n *notifier) send(ctx context.Context, chatID int64, message notificationMessage) error {
	if err := n.sender.SendMessage(ctx, chatID, message.Text, integrations.OpenAppMarkup(message.ButtonText, message.ButtonURL)); err != nil {
		return err
	}
	for _, t := range message.Tickets {
		if t.QR == "" {
			continue
		}
		png, err := ticketing.GenerateQRImagePNG(t.QR, qrImageSize)
		if err != nil {
			return fmt.Errorf("render qr for %s: %w", t.Number, err)
		}
		filename := "ticket-" + strings.ToLower(t.Number) + ".png"
		if err := n.sender.SendPhotoBytes(ctx, chatID, filename, png, "Ticket "+t.Number); err != nil {
			return err
		}
	}
	return nil
}

func retryDelay(attempts int) time.Duration {
	return time.Duration(1<<attempts) * time.Minute
}

type ticketImage struct {
	Number string
	QR     string
}

type notificationMessage struct {
	Text       string
	ButtonText string
	ButtonURL  string
	Tickets    []ticketImage
}

func buildNotification(job models.NotificationJob, baseURL string) notificationMessage {
	msg := notificationMessage{ButtonText: "Open trips", ButtonURL: strings.TrimSpace(baseURL)}
	switch job.Kind {
	case models.NotificationTicketsIssued:
		msg.Tickets = ticketImages(job.Payload["tickets"])
		lines := []string{"Your payment is confirmed."}
		if ref := payloadString(job.Payload, "reference"); ref != "" {
			lines = append(lines, "Reference: "+ref)
		}
		numbers := make([]string, 0, len(msg.Tickets))
		for _, t := range msg.Tickets {
			numbers = append(numbers, t.Number)
		}
		if len(numbers) > 0 {
			lines = append(lines, "Tickets: "+strings.Join(numbers, ", "))
		}
		msg.Text = strings.Join(lines, "\n")
		msg.ButtonText = "My tickets"
		msg.ButtonURL = withQuery(baseURL, "view", "tickets")
	case models.NotificationReceiptRejected:
		msg.Text = withReason("Your payment receipt "+payloadString(job.Payload, "reference")+" was rejected", payloadString(job.Payload, "reason"))
	case models.NotificationGnplApproved:
		lines := []string{"Your pay-later request is approved."}
		if cents := payloadInt64(job.Payload, "approvedCents"); cents > 0 {
			lines = append(lines, "Amount: "+formatCents(cents))
		}
		if due := formatDate(payloadString(job.Payload, "dueDate")); due != "" {
			lines = append(lines, "Due: "+due)
		}
		msg.Text = strings.Join(lines, "\n")
	case models.NotificationGnplRejected:
		msg.Text = withReason("Your pay-later request was rejected", payloadString(job.Payload, "reason"))
	case models.NotificationGnplPayment:
		switch payloadString(job.Payload, "status") {
		case models.GnplPaymentApproved:
			msg.Text = "Your pay-later payment is confirmed."
			if unapplied := payloadInt64(job.Payload, "unappliedCents"); unapplied > 0 {
				msg.Text += "\nOverpaid: " + formatCents(unapplied)
			}
		case models.GnplPaymentRejected:
			msg.Text = withReason("Your pay-later payment was rejected", payloadString(job.Payload, "reason"))
		}
	}
	return msg
}

func ticketImages(raw interface{}) []ticketImage {
	items, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]ticketImage, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		number := payloadString(m, "ticketNumber")
		if number == "" {
			continue
		}
		// A ticket whose QR failed to render is still listed by number.
		out = append(out, ticketImage{Number: number, QR: payloadString(m, "qr")})
	}
	return out
}

func payloadString(payload map[string]interface{}, key string) string {
	if payload == nil {
		return ""
	}
	raw, ok := payload[key]
	if !ok || raw == nil {
		return ""
	}
	switch value := raw.(type) {
	case string:
		return strings.TrimSpace(value)
	case fmt.Stringer:
		return value.String()
	default:
		return fmt.Sprintf("%v", value)
	}
}

func payloadInt64(payload map[string]interface{}, key string) int64 {
	if payload == nil {
		return 0
	}
	switch value := payload[key].(type) {
	case int64:
		return value
	case float64:
		return int64(value)
	case int:
		return int64(value)
	case string:
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			return parsed
		}
	}
	return 0
}

func formatCents(cents int64) string {
	return "ETB " + decimal.New(cents, -2).StringFixed(2)
}

func formatDate(value string) string {
	if value == "" {
		return ""
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return value
	}
	return parsed.Format("2006-01-02")
}

func withReason(prefix, reason string) string {
	prefix = strings.TrimSpace(prefix)
	if reason == "" {
		return prefix + "."
	}
	return fmt.Sprintf("%s: %s", prefix, reason)
}

func withQuery(baseURL, key, value string) string {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return ""
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" {
		return baseURL
	}
	q := parsed.Query()
	q.Set(key, value)
	parsed.RawQuery = q.Encode()
	return parsed.String()
}
