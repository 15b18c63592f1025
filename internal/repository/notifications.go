package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/models"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusSent       = "sent"
	JobStatusFailed     = "failed"
)

// EnqueueNotification writes an outbox row. Delivery happens in the
// worker, so a Telegram outage never touches the caller's transaction.
func (r *Repository) EnqueueNotification(ctx context.Context, customerID int64, kind string, payload map[string]interface{}) (int64, error) {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	var id int64
	err = r.pool.QueryRow(ctx, `
INSERT INTO notification_jobs (customer_id, kind, payload, status, run_at)
VALUES ($1, $2, $3, $4, now())
RETURNING id;`, customerID, kind, raw, JobStatusPending).Scan(&id)
	return id, err
}

// FetchDueNotificationJobs claims up to limit pending jobs and joins the
// recipient's Telegram id.
func (r *Repository) FetchDueNotificationJobs(ctx context.Context, limit int) ([]models.NotificationJob, error) {
	rows, err := r.pool.Query(ctx, `
WITH cte AS (
	SELECT id
	FROM notification_jobs
	WHERE status = $2 AND run_at <= now()
	ORDER BY run_at ASC
	LIMIT $1
	FOR UPDATE SKIP LOCKED
)
UPDATE notification_jobs n
SET status = $3, updated_at = now()
FROM cte, customers c
WHERE n.id = cte.id
	AND c.id = n.customer_id
RETURNING n.id, n.customer_id, c.telegram_id, n.kind, n.run_at, n.payload, n.status, n.attempts, COALESCE(n.last_error, '');`,
		limit, JobStatusPending, JobStatusProcessing)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]models.NotificationJob, 0)
	for rows.Next() {
		var job models.NotificationJob
		var payload []byte
		if err := rows.Scan(&job.ID, &job.CustomerID, &job.TelegramID, &job.Kind, &job.RunAt, &payload, &job.Status, &job.Attempts, &job.LastError); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			_ = json.Unmarshal(payload, &job.Payload)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *Repository) UpdateNotificationJobStatus(ctx context.Context, jobID int64, status string, attempts int, lastError string, nextRun *time.Time) error {
	_, err := r.pool.Exec(ctx, `
UPDATE notification_jobs
SET status = $1,
	attempts = $2,
	last_error = $3,
	run_at = COALESCE($4, run_at),
	updated_at = now()
WHERE id = $5;`, status, attempts, nullString(lastError), timePtrOrNil(nextRun), jobID)
	return err
}

// RequeueStaleNotificationJobs returns jobs stuck in processing, left by a
// worker that died mid-send, to the queue.
func (r *Repository) RequeueStaleNotificationJobs(ctx context.Context, staleAfter time.Duration) (int64, error) {
	interval := fmt.Sprintf("%d seconds", int(staleAfter.Seconds()))
	cmd, err := r.pool.Exec(ctx, `
UPDATE notification_jobs
SET status = $1, updated_at = now()
WHERE status = $2
	AND updated_at <= now() - $3::interval;`, JobStatusPending, JobStatusProcessing, interval)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}
