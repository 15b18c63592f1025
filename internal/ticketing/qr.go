package ticketing

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"
)

var (
	ErrInvalidQRPayload = errors.New("invalid qr payload")
	ErrInvalidQRSign    = errors.New("invalid qr signature")
)

// QRPayload is what a ticket's QR code encodes. The token is the
// base64url payload plus its HMAC, checked at the gate.
type QRPayload struct {
	TicketID     string `json:"tid"`
	TripID       string `json:"trip"`
	CustomerID   int64  `json:"cid"`
	TicketNumber string `json:"num"`
	Serial       int64  `json:"ser"`
	Nonce        string `json:"n"`
	IssuedAt     int64  `json:"iat"`
}

// NewQRPayload builds a payload with a fresh nonce.
func NewQRPayload(ticketID, tripID string, customerID int64, ticketNumber string, serial int64, issuedAt time.Time) (QRPayload, error) {
	nonce, err := NewNonce(12)
	if err != nil {
		return QRPayload{}, err
	}
	return QRPayload{
		TicketID:     ticketID,
		TripID:       tripID,
		CustomerID:   customerID,
		TicketNumber: ticketNumber,
		Serial:       serial,
		Nonce:        nonce,
		IssuedAt:     issuedAt.UTC().Unix(),
	}, nil
}

func SignQRPayload(secret string, payload QRPayload) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", fmt.Errorf("secret is required")
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(encoded) + "." + signRaw(secret, encoded), nil
}

func VerifyQRPayload(secret string, token string) (QRPayload, error) {
	var payload QRPayload
	body, sig, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok || body == "" || sig == "" || strings.Contains(sig, ".") {
		return payload, ErrInvalidQRPayload
	}
	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return payload, ErrInvalidQRPayload
	}
	if subtle.ConstantTimeCompare([]byte(signRaw(secret, raw)), []byte(strings.ToLower(sig))) != 1 {
		return payload, ErrInvalidQRSign
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, ErrInvalidQRPayload
	}
	if payload.TicketID == "" || payload.TripID == "" || payload.CustomerID <= 0 || payload.IssuedAt <= 0 {
		return payload, ErrInvalidQRPayload
	}
	return payload, nil
}

func HashPayloadToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func NewNonce(size int) (string, error) {
	if size <= 0 {
		size = 16
	}
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// GenerateQRImagePNG renders a token as a PNG for delivery over Telegram.
func GenerateQRImagePNG(token string, size int) ([]byte, error) {
	if size <= 0 {
		size = 320
	}
	return qrcode.Encode(token, qrcode.Medium, size)
}

func signRaw(secret string, raw []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(raw)
	return hex.EncodeToString(mac.Sum(nil))
}
