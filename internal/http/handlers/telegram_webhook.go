package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/integrations"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/models"
	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/repository"
)

// Messenger sends bot replies.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string, markup *integrations.ReplyMarkup) error
}

// WithTelegram enables the bot webhook.
func (h *Handler) WithTelegram(m Messenger) *Handler {
	h.telegram = m
	return h
}

type telegramUpdate struct {
	Message *telegramMessage `json:"message"`
}

type telegramMessage struct {
	MessageID int          `json:"message_id"`
	Text      string       `json:"text"`
	Chat      telegramChat `json:"chat"`
}

type telegramChat struct {
	ID int64 `json:"id"`
}

var startTripPayloadRe = regexp.MustCompile(`(?i)^trip_([0-9a-f-]{36})$`)

// parseStartPayload extracts a trip id from a /start deep link.
func parseStartPayload(payload string) string {
	match := startTripPayloadRe.FindStringSubmatch(strings.TrimSpace(payload))
	if len(match) < 2 {
		return ""
	}
	return strings.ToLower(match[1])
}

// TelegramWebhook answers /start with a button into the mini app. A
// trip_<id> payload opens that trip directly.
func (h *Handler) TelegramWebhook(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	var update telegramUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		logger.Warn("action", "action", "telegram_webhook", "status", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if update.Message == nil || update.Message.Chat.ID == 0 || h.telegram == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}
	text := strings.TrimSpace(update.Message.Text)
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/start") {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}
	webAppURL := strings.TrimSpace(h.cfg.BaseURL)
	if webAppURL == "" {
		logger.Warn("action", "action", "telegram_webhook", "status", "missing_base_url")
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	reply := "Tap the button to browse trips and book your seat."
	button := "Open trips"
	if tripID := parseStartPayload(strings.TrimPrefix(text, fields[0])); tripID != "" {
		trip, err := h.store.GetTrip(ctx, tripID)
		switch {
		case err == nil && trip.Status == models.TripStatusActive:
			reply = tripCardText(trip)
			button = "Book this trip"
			webAppURL = withTripParam(webAppURL, trip.ID)
		case err != nil && !errors.Is(err, repository.ErrTripNotFound):
			logger.Warn("action", "action", "telegram_webhook", "status", "trip_lookup_failed", "trip_id", tripID, "error", err)
		}
	}

	if err := h.telegram.SendMessage(ctx, update.Message.Chat.ID, reply, integrations.OpenAppMarkup(button, webAppURL)); err != nil {
		logger.Warn("action", "action", "telegram_webhook", "status", "send_failed", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func tripCardText(trip models.Trip) string {
	lines := []string{"<b>" + html.EscapeString(trip.Title) + "</b>"}
	if dest := strings.TrimSpace(trip.Destination); dest != "" {
		lines = append(lines, html.EscapeString(dest))
	}
	if trip.DepartsAt != nil {
		lines = append(lines, trip.DepartsAt.Format("2006-01-02 15:04"))
	}
	lines = append(lines, fmt.Sprintf("Seats left: %d", trip.AvailableSeats))
	return strings.Join(lines, "\n")
}

func withTripParam(baseURL, tripID string) string {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return baseURL
	}
	q := parsed.Query()
	q.Set("trip", tripID)
	parsed.RawQuery = q.Encode()
	return parsed.String()
}
