package ticketing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultProvider names callbacks that do not identify their gateway.
const DefaultProvider = "telebirr"

// Field-name variants in priority order. Gateways and their SDK versions
// disagree on casing and naming; the first non-empty match wins.
var (
	merchantRefKeys = []string{"outTradeNo", "out_trade_no", "merchOrderId", "merch_order_id", "merchantReference", "merchant_reference", "reference", "orderId", "order_id"}
	gatewayTxKeys   = []string{"transactionId", "transaction_id", "transactionNo", "transaction_no", "tradeNo", "trade_no", "txRef", "tx_ref", "paymentId", "payment_id"}
	statusKeys      = []string{"tradeStatus", "trade_status", "paymentStatus", "payment_status", "transactionStatus", "transaction_status", "status", "state", "result"}
	sessionKeys     = []string{"sessionId", "session_id", "bookingSessionId", "booking_session_id", "attach"}
	tripKeys        = []string{"tripId", "trip_id"}
	customerKeys    = []string{"customerId", "customer_id", "userId", "user_id"}
	amountKeys      = []string{"totalAmount", "total_amount", "paidAmount", "paid_amount", "amount"}
	providerKeys    = []string{"provider", "gateway"}

	// Nested containers searched after the top level, in this order. Values
	// may be objects or JSON-encoded strings.
	nestedKeys = []string{"data", "biz_content", "bizContent", "payload", "transaction", "metadata", "meta"}

	paidStatuses = map[string]struct{}{
		"completed":  {},
		"complete":   {},
		"success":    {},
		"successful": {},
		"succeeded":  {},
		"paid":       {},
		"approved":   {},
		"accepted":   {},
		"settled":    {},
	}
)

// Callback is the structured form of a gateway callback or return
// redirect. TransactionID is the idempotency key: the merchant reference
// when the gateway echoes it, otherwise the gateway's own transaction id.
type Callback struct {
	Provider      string
	TransactionID string
	GatewayTxID   string
	Status        string
	Paid          bool
	SessionID     string
	TripID        string
	CustomerID    int64
	AmountCents   int64
	Raw           map[string]interface{}
}

// ParseCallback decodes a JSON or form-encoded body, falling back to query
// parameters for fields the body does not carry.
func ParseCallback(contentType string, body []byte, query url.Values) (Callback, error) {
	raw, err := decodeCallbackBody(contentType, body)
	if err != nil {
		return Callback{}, Invalid("body", "malformed", err.Error())
	}
	for key, values := range query {
		if _, exists := raw[key]; !exists && len(values) > 0 {
			raw[key] = values[0]
		}
	}

	f := fields{root: raw}
	cb := Callback{
		Provider:    strings.ToLower(f.first(providerKeys)),
		GatewayTxID: f.first(gatewayTxKeys),
		Status:      f.first(statusKeys),
		TripID:      f.first(tripKeys),
		Raw:         raw,
	}
	if cb.Provider == "" {
		cb.Provider = DefaultProvider
	}

	merchantRef := f.first(merchantRefKeys)
	cb.TransactionID = merchantRef
	if cb.TransactionID == "" {
		cb.TransactionID = cb.GatewayTxID
	}
	if cb.TransactionID == "" {
		return cb, Invalid("transactionId", "missing", "callback carries no transaction reference")
	}

	_, cb.Paid = paidStatuses[strings.ToLower(strings.TrimSpace(cb.Status))]

	if sid := f.first(sessionKeys); sid != "" {
		if parsed, ok := SessionIDFromReference(sid); ok {
			cb.SessionID = parsed
		}
	}
	if cb.SessionID == "" && merchantRef != "" {
		if parsed, ok := SessionIDFromReference(merchantRef); ok {
			cb.SessionID = parsed
		}
	}

	if v := f.first(customerKeys); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > 0 {
			cb.CustomerID = id
		}
	}
	if v := f.first(amountKeys); v != "" {
		if amount, err := decimal.NewFromString(v); err == nil && amount.Sign() > 0 {
			cb.AmountCents = amount.Mul(hundred).Round(0).IntPart()
		}
	}
	return cb, nil
}

func decodeCallbackBody(contentType string, body []byte) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return out, nil
	}
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if strings.Contains(mediaType, "json") || trimmed[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		if err := dec.Decode(&out); err != nil {
			return nil, fmt.Errorf("decode json callback: %w", err)
		}
		return out, nil
	}
	values, err := url.ParseQuery(string(trimmed))
	if err != nil {
		return nil, fmt.Errorf("decode form callback: %w", err)
	}
	for key, vals := range values {
		if len(vals) > 0 {
			out[key] = vals[0]
		}
	}
	return out, nil
}

type fields struct {
	root   map[string]interface{}
	nested []map[string]interface{}
	loaded bool
}

func (f *fields) first(keys []string) string {
	if v := lookupString(f.root, keys); v != "" {
		return v
	}
	for _, m := range f.containers() {
		if v := lookupString(m, keys); v != "" {
			return v
		}
	}
	return ""
}

func (f *fields) containers() []map[string]interface{} {
	if f.loaded {
		return f.nested
	}
	f.loaded = true
	for _, key := range nestedKeys {
		if m := asObject(f.root[key]); m != nil {
			f.nested = append(f.nested, m)
		}
	}
	return f.nested
}

func asObject(v interface{}) map[string]interface{} {
	switch typed := v.(type) {
	case map[string]interface{}:
		return typed
	case string:
		s := strings.TrimSpace(typed)
		if !strings.HasPrefix(s, "{") {
			return nil
		}
		dec := json.NewDecoder(strings.NewReader(s))
		dec.UseNumber()
		var m map[string]interface{}
		if err := dec.Decode(&m); err != nil {
			return nil
		}
		return m
	default:
		return nil
	}
}

func lookupString(m map[string]interface{}, keys []string) string {
	for _, key := range keys {
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		var s string
		switch typed := v.(type) {
		case string:
			s = typed
		case json.Number:
			s = typed.String()
		case float64:
			s = strconv.FormatFloat(typed, 'f', -1, 64)
		case bool:
			s = strconv.FormatBool(typed)
		default:
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}
