package repository

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/models"
)

const (
	EventOutcomeSettled       = "settled"
	EventOutcomeDuplicate     = "duplicate"
	EventOutcomeIgnored       = "ignored"
	EventOutcomeUnmatched     = "unmatched"
	EventOutcomeSessionClosed = "session_closed"
	EventOutcomeFailed        = "failed"
)

// RecordPaymentEvent stores one received gateway callback for audit. The
// raw payload is kept as received.
func (r *Repository) RecordPaymentEvent(ctx context.Context, ev models.PaymentEvent) error {
	raw := ev.RawPayload
	if raw == nil {
		raw = map[string]interface{}{}
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		payload = []byte(`{}`)
	}
	_, err = r.pool.Exec(ctx, `
INSERT INTO payment_events (provider, transaction_id, status, session_id, outcome, error, raw_payload)
VALUES ($1, $2, $3, $4::uuid, $5, $6, $7);`,
		strings.TrimSpace(ev.Provider), nullString(ev.TransactionID), nullString(ev.Status), strPtrOrNil(ev.SessionID),
		ev.Outcome, nullString(ev.Error), payload)
	return err
}

// PaymentEventRecord is a stored callback as shown to admins.
type PaymentEventRecord struct {
	ID            int64                  `json:"id"`
	Provider      string                 `json:"provider"`
	TransactionID string                 `json:"transactionId,omitempty"`
	Status        string                 `json:"status,omitempty"`
	SessionID     string                 `json:"sessionId,omitempty"`
	Outcome       string                 `json:"outcome"`
	Error         string                 `json:"error,omitempty"`
	RawPayload    map[string]interface{} `json:"rawPayload"`
	CreatedAt     time.Time              `json:"createdAt"`
}

func (r *Repository) ListPaymentEvents(ctx context.Context, transactionID string, limit int) ([]PaymentEventRecord, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, provider, COALESCE(transaction_id, ''), COALESCE(status, ''), COALESCE(session_id::text, ''), outcome, COALESCE(error, ''), raw_payload, created_at
FROM payment_events
WHERE ($1 = '' OR transaction_id = $1)
ORDER BY created_at DESC
LIMIT $2;`, strings.TrimSpace(transactionID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]PaymentEventRecord, 0)
	for rows.Next() {
		var item PaymentEventRecord
		var raw []byte
		if err := rows.Scan(&item.ID, &item.Provider, &item.TransactionID, &item.Status, &item.SessionID, &item.Outcome, &item.Error, &raw, &item.CreatedAt); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &item.RawPayload)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}
