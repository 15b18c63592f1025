// Package gateway talks to the hosted checkout of the automatic telebirr
// payment provider.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const currencyETB = "ETB"

type Config struct {
	BaseURL    string
	MerchantID string
	NotifyURL  string
	ReturnURL  string
	RatePerSec float64
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	tokens     *TokenManager
	limiter    *rate.Limiter
	logger     *slog.Logger
}

type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway api status %d: %s", e.StatusCode, e.Body)
}

type initiateRequest struct {
	MerchantID string `json:"merchantAppId"`
	Reference  string `json:"merchOrderId"`
	Amount     string `json:"totalAmount"`
	Currency   string `json:"transCurrency"`
	Title      string `json:"title"`
	NotifyURL  string `json:"notifyUrl,omitempty"`
	ReturnURL  string `json:"redirectUrl,omitempty"`
}

type initiateResponse struct {
	CheckoutURL string `json:"checkoutUrl"`
	ToPayURL    string `json:"toPayUrl"`
}

// PaymentStatus is the provider's view of one merchant reference.
type PaymentStatus struct {
	Reference     string `json:"merchOrderId"`
	TransactionID string `json:"transId"`
	Status        string `json:"tradeStatus"`
	Amount        string `json:"totalAmount"`
}

func (p PaymentStatus) Paid() bool {
	switch strings.ToUpper(strings.TrimSpace(p.Status)) {
	case "SUCCESS", "PAID", "COMPLETED":
		return true
	}
	return false
}

// AmountCents converts the provider's major-unit amount. Unparseable
// amounts read as zero.
func (p PaymentStatus) AmountCents() int64 {
	d, err := decimal.NewFromString(strings.TrimSpace(p.Amount))
	if err != nil {
		return 0
	}
	return d.Shift(2).Round(0).IntPart()
}

func NewClient(cfg Config, tm *TokenManager, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		tokens:     tm,
		limiter:    rate.NewLimiter(limit, 1+int(cfg.RatePerSec)),
		logger:     logger,
	}
}

// InitiatePayment opens a hosted checkout for reference and returns the
// URL to send the customer to.
func (c *Client) InitiatePayment(ctx context.Context, reference string, amountCents int64, description string) (string, error) {
	if strings.TrimSpace(reference) == "" {
		return "", errors.New("reference is required")
	}
	if amountCents <= 0 {
		return "", fmt.Errorf("amount must be positive, got %d", amountCents)
	}
	payload, err := json.Marshal(initiateRequest{
		MerchantID: c.cfg.MerchantID,
		Reference:  reference,
		Amount:     FormatAmount(amountCents),
		Currency:   currencyETB,
		Title:      description,
		NotifyURL:  c.cfg.NotifyURL,
		ReturnURL:  c.cfg.ReturnURL,
	})
	if err != nil {
		return "", err
	}
	body, err := c.do(ctx, http.MethodPost, "/payments/checkout", payload)
	if err != nil {
		return "", err
	}
	var resp initiateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode checkout response: %w", err)
	}
	checkout := strings.TrimSpace(resp.CheckoutURL)
	if checkout == "" {
		checkout = strings.TrimSpace(resp.ToPayURL)
	}
	if checkout == "" {
		return "", errors.New("checkout response missing url")
	}
	return checkout, nil
}

// QueryPayment asks the provider for the state of reference. It is the
// fallback when a callback never arrives.
func (c *Client) QueryPayment(ctx context.Context, reference string) (PaymentStatus, error) {
	body, err := c.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(strings.TrimSpace(reference)), nil)
	if err != nil {
		return PaymentStatus{}, err
	}
	var out PaymentStatus
	if err := json.Unmarshal(body, &out); err != nil {
		return PaymentStatus{}, fmt.Errorf("decode payment status: %w", err)
	}
	if out.Reference == "" {
		out.Reference = reference
	}
	return out, nil
}

// FormatAmount renders cents as a two-decimal major-unit string.
func FormatAmount(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

func (c *Client) do(ctx context.Context, method, pathPart string, payload []byte) ([]byte, error) {
	if c.tokens == nil {
		return nil, errors.New("gateway token manager is required")
	}
	if c.cfg.BaseURL == "" {
		return nil, errors.New("gateway base url is required")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if len(payload) > 0 {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+pathPart, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if len(payload) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		c.tokens.Invalidate()
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return body, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	c.logger.Debug("gateway_api_response", "method", method, "path", pathPart, "status", resp.StatusCode)
	return body, nil
}
