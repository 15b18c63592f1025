package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const telegramAPI = "https://api.telegram.org"

// TelegramClient sends bot messages to customers.
type TelegramClient struct {
	token   string
	baseURL string
	client  *http.Client
}

type WebAppInfo struct {
	URL string `json:"url"`
}

type InlineKeyboardButton struct {
	Text   string      `json:"text"`
	URL    string      `json:"url,omitempty"`
	WebApp *WebAppInfo `json:"web_app,omitempty"`
}

type ReplyMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

// TelegramError is a non-2xx answer from the Bot API. Blocked bots and
// deleted chats come back as 403.
type TelegramError struct {
	Method     string
	StatusCode int
	Body       string
}

func (e *TelegramError) Error() string {
	return fmt.Sprintf("telegram %s status %d: %s", e.Method, e.StatusCode, e.Body)
}

// Permanent reports whether retrying cannot help.
func (e *TelegramError) Permanent() bool {
	return e.StatusCode == http.StatusForbidden || e.StatusCode == http.StatusBadRequest
}

func NewTelegramClient(token string) *TelegramClient {
	return &TelegramClient{
		token:   token,
		baseURL: telegramAPI,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// WithBaseURL points the client at another Bot API host.
func (t *TelegramClient) WithBaseURL(baseURL string) *TelegramClient {
	t.baseURL = strings.TrimRight(baseURL, "/")
	return t
}

// OpenAppMarkup is a single button that opens the mini app.
func OpenAppMarkup(text, appURL string) *ReplyMarkup {
	if strings.TrimSpace(appURL) == "" {
		return nil
	}
	return &ReplyMarkup{InlineKeyboard: [][]InlineKeyboardButton{{{Text: text, WebApp: &WebAppInfo{URL: appURL}}}}}
}

func (t *TelegramClient) SendMessage(ctx context.Context, chatID int64, text string, markup *ReplyMarkup) error {
	payload := map[string]interface{}{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	if markup != nil {
		payload["reply_markup"] = markup
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return t.do(ctx, "sendMessage", "application/json", bytes.NewReader(body))
}

// SendPhotoBytes uploads a PNG (a ticket QR) with an optional caption.
func (t *TelegramClient) SendPhotoBytes(ctx context.Context, chatID int64, filename string, photo []byte, caption string) error {
	if len(photo) == 0 {
		return fmt.Errorf("photo is empty")
	}
	if filename == "" {
		filename = "ticket.png"
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return err
	}
	if caption != "" {
		if err := writer.WriteField("caption", caption); err != nil {
			return err
		}
	}
	fileWriter, err := writer.CreateFormFile("photo", filename)
	if err != nil {
		return err
	}
	if _, err := fileWriter.Write(photo); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}
	return t.do(ctx, "sendPhoto", writer.FormDataContentType(), &body)
}

func (t *TelegramClient) do(ctx context.Context, method, contentType string, body io.Reader) error {
	url := fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 300 {
		return &TelegramError{Method: method, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	return nil
}
